package codec

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenGzipDump(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.gz")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("SVN-fs-dump-format-version: 2\n\n"))
	gz.Close()

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	r, closeFn, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "SVN-fs-dump-format-version: 2\n\n" {
		t.Errorf("got %q", got)
	}
}

func TestOpenPlainDumpFallsBackToMmap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.svn")
	content := "SVN-fs-dump-format-version: 2\n\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	r, closeFn, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != content {
		t.Errorf("got %q, want %q", got, content)
	}
}
