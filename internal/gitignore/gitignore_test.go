package gitignore

import "testing"

func TestSynthesizeConcatenatesLocalThenGlobal(t *testing.T) {
	got := Synthesize([]byte("*.o\nbuild/"), []byte("*.swp"))
	want := "*.o\nbuild/\n*.swp\n"
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSynthesizeNormalizesCRLF(t *testing.T) {
	got := Synthesize([]byte("*.o\r\n*.a\r\n"), nil)
	want := "*.o\n*.a\n"
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSynthesizeEmptyYieldsNil(t *testing.T) {
	if got := Synthesize(nil, nil); got != nil {
		t.Errorf("expected nil for no ignore properties, got %q", got)
	}
}
