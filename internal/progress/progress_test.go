package progress

import (
	"bytes"
	"strings"
	"testing"
)

func TestNonInteractiveEmitsPlainLines(t *testing.T) {
	var buf bytes.Buffer
	b := New(&buf, -1, true)
	b.StartPhase("revisions", 10)
	b.Advance(10)
	b.EndPhase()

	out := buf.String()
	if strings.Contains(out, "\x1b[K") {
		t.Fatalf("expected no carriage-return control codes in non-interactive mode, got %q", out)
	}
	if !strings.Contains(out, "revisions:") {
		t.Fatalf("expected a plain status line, got %q", out)
	}
}

func TestScaleFormatsLargeCounts(t *testing.T) {
	if got := scale(1500); got != "1.50K" {
		t.Errorf("scale(1500) = %q, want 1.50K", got)
	}
	if got := scale(42); got != "42" {
		t.Errorf("scale(42) = %q, want 42", got)
	}
}
