// Package codec sniffs a dump stream's compression and wraps it in the
// matching decompressing io.Reader, or memory-maps it when it is a
// plain seekable file.
package codec

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"golang.org/x/exp/mmap"
)

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
	zstdMagic  = []byte{0x28, 0xb5, 0x2f, 0xfd}
	xzMagic    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	lz4Magic   = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Open returns an io.Reader over path's decompressed dump content. Plain
// (uncompressed) files are memory-mapped via golang.org/x/exp/mmap
// instead of buffered, avoiding a full read for multi-GB dumps.
func Open(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	br := bufio.NewReader(f)
	magic, _ := br.Peek(6)

	switch {
	case hasPrefix(magic, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("opening gzip dump %s: %w", path, err)
		}
		return gz, f.Close, nil
	case hasPrefix(magic, bzip2Magic):
		return bzip2.NewReader(br), f.Close, nil
	case hasPrefix(magic, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("opening zstd dump %s: %w", path, err)
		}
		return zr.IOReadCloser(), f.Close, nil
	case hasPrefix(magic, xzMagic):
		xr, err := xz.NewReader(br)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("opening xz dump %s: %w", path, err)
		}
		return xr, f.Close, nil
	case hasPrefix(magic, lz4Magic):
		return lz4.NewReader(br), f.Close, nil
	default:
		f.Close()
		return openMmap(path)
	}
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func openMmap(path string) (io.Reader, func() error, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("memory-mapping %s: %w", path, err)
	}
	return io.NewSectionReader(r, 0, int64(r.Len())), r.Close, nil
}
