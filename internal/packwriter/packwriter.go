// Package packwriter materializes a bare Git repository on disk: one pack
// file plus its index under objects/pack, loose refs under refs/, and a
// symbolic HEAD. Objects stream to the pack as they arrive with bounded
// buffering; only the per-object index entries are retained in memory
// until Close writes the .idx.
package packwriter

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/eduardosm/svn2git/internal/gitobj"
	"github.com/eduardosm/svn2git/internal/gitobj/delta"
)

// Pack entry type codes.
const (
	typeCommit   = 1
	typeTree     = 2
	typeBlob     = 3
	typeRefDelta = 7
)

type idxEntry struct {
	oid    [20]byte
	offset int64
	crc    uint32
}

// Writer owns the destination repository directory for the duration of a
// conversion.
type Writer struct {
	destDir string
	pack    *os.File
	tmpPath string
	count   uint32
	offset  int64
	entries []idxEntry
	written map[gitobj.Oid]bool
	sel     *delta.Selector
	log     *logrus.Logger
	closed  bool
}

// New initializes destDir as a bare repository and opens its pack for
// writing. destDir must not already contain a repository.
func New(destDir string, sel *delta.Selector, log *logrus.Logger) (*Writer, error) {
	if _, err := os.Stat(filepath.Join(destDir, "objects")); err == nil {
		return nil, fmt.Errorf("destination %s already contains a repository", destDir)
	}
	for _, dir := range []string{
		filepath.Join(destDir, "objects", "pack"),
		filepath.Join(destDir, "refs", "heads"),
		filepath.Join(destDir, "refs", "tags"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	config := "[core]\n\trepositoryformatversion = 0\n\tfilemode = true\n\tbare = true\n"
	if err := os.WriteFile(filepath.Join(destDir, "config"), []byte(config), 0o644); err != nil {
		return nil, err
	}
	// A placeholder HEAD keeps git tooling from rejecting the directory
	// before the refs finalizer picks the real one.
	if err := os.WriteFile(filepath.Join(destDir, "HEAD"), []byte("ref: refs/heads/master\n"), 0o644); err != nil {
		return nil, err
	}

	tmpPath := filepath.Join(destDir, "objects", "pack", "pack-incoming.pack")
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		destDir: destDir,
		pack:    f,
		tmpPath: tmpPath,
		written: make(map[gitobj.Oid]bool),
		sel:     sel,
		log:     log,
	}
	var header [12]byte
	copy(header[:], "PACK")
	binary.BigEndian.PutUint32(header[4:], 2)
	// Object count is patched in Close once it is known.
	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		return nil, err
	}
	w.offset = 12
	return w, nil
}

// WriteBlob stores a blob, preferring a ref-delta against a similar
// previously written blob when the delta is actually smaller.
func (w *Writer) WriteBlob(b *gitobj.Blob) error {
	if w.written[b.Oid] {
		return nil
	}
	if baseOid, basePayload, ok := w.sel.Best(b.Payload); ok {
		d := delta.Encode(basePayload, b.Payload)
		if len(d) < len(b.Payload)*3/4 {
			if err := w.writeRefDelta(b.Oid, baseOid, d); err != nil {
				return err
			}
			w.sel.Add(b.Oid, b.Payload)
			return nil
		}
	}
	if err := w.writeEntry(b.Oid, typeBlob, b.Payload); err != nil {
		return err
	}
	w.sel.Add(b.Oid, b.Payload)
	return nil
}

// WriteTree stores a tree object.
func (w *Writer) WriteTree(t *gitobj.Tree) error {
	if w.written[t.Oid] {
		return nil
	}
	return w.writeEntry(t.Oid, typeTree, t.Payload)
}

// WriteCommit stores a commit object.
func (w *Writer) WriteCommit(c *gitobj.Commit) error {
	if w.written[c.Oid] {
		return nil
	}
	return w.writeEntry(c.Oid, typeCommit, c.Payload)
}

// writeEntry appends one full (non-delta) object to the pack.
func (w *Writer) writeEntry(oid gitobj.Oid, objType int, payload []byte) error {
	var buf bytes.Buffer
	buf.Write(entryHeader(objType, len(payload)))
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return w.commitEntry(oid, buf.Bytes())
}

// writeRefDelta appends one ref-delta object: the raw 20-byte base oid
// precedes the zlib-compressed delta stream.
func (w *Writer) writeRefDelta(oid, baseOid gitobj.Oid, deltaData []byte) error {
	rawBase, err := hex.DecodeString(string(baseOid))
	if err != nil || len(rawBase) != 20 {
		return fmt.Errorf("malformed base oid %q", baseOid)
	}
	var buf bytes.Buffer
	buf.Write(entryHeader(typeRefDelta, len(deltaData)))
	buf.Write(rawBase)
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(deltaData); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return w.commitEntry(oid, buf.Bytes())
}

func (w *Writer) commitEntry(oid gitobj.Oid, entry []byte) error {
	rawOid, err := hex.DecodeString(string(oid))
	if err != nil || len(rawOid) != 20 {
		return fmt.Errorf("malformed oid %q", oid)
	}
	if _, err := w.pack.Write(entry); err != nil {
		return fmt.Errorf("writing pack entry: %w", err)
	}
	var e idxEntry
	copy(e.oid[:], rawOid)
	e.offset = w.offset
	e.crc = crc32.ChecksumIEEE(entry)
	w.entries = append(w.entries, e)
	w.offset += int64(len(entry))
	w.count++
	w.written[oid] = true
	return nil
}

// entryHeader encodes an object's type and uncompressed size: four size
// bits share the first byte with the type, then seven bits per
// continuation byte.
func entryHeader(objType, size int) []byte {
	b := byte(objType<<4) | byte(size&0x0f)
	size >>= 4
	out := []byte{b}
	for size > 0 {
		out[len(out)-1] |= 0x80
		out = append(out, byte(size&0x7f))
		size >>= 7
	}
	return out
}

// WriteRef writes a loose ref file.
func (w *Writer) WriteRef(name, commitOid string) error {
	p := filepath.Join(w.destDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(commitOid+"\n"), 0o644)
}

// WriteSymbolicRef writes a symbolic ref (in practice only HEAD).
func (w *Writer) WriteSymbolicRef(name, target string) error {
	p := filepath.Join(w.destDir, filepath.FromSlash(name))
	return os.WriteFile(p, []byte("ref: "+target+"\n"), 0o644)
}

// Close patches the object count, appends the pack checksum, renames the
// pack to its content-derived name, and writes the v2 index.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], w.count)
	if _, err := w.pack.WriteAt(countBuf[:], 8); err != nil {
		return err
	}

	// The checksum covers everything before it; stream the file back
	// through SHA-1 rather than buffering the pack in memory.
	if _, err := w.pack.Seek(0, io.SeekStart); err != nil {
		return err
	}
	h := sha1.New()
	if _, err := io.Copy(h, io.LimitReader(w.pack, w.offset)); err != nil {
		return err
	}
	packSum := h.Sum(nil)
	if _, err := w.pack.Seek(w.offset, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.pack.Write(packSum); err != nil {
		return err
	}
	if err := w.pack.Close(); err != nil {
		return err
	}

	name := hex.EncodeToString(packSum)
	packPath := filepath.Join(w.destDir, "objects", "pack", "pack-"+name+".pack")
	if err := os.Rename(w.tmpPath, packPath); err != nil {
		return err
	}
	w.log.WithField("component", "packwriter").Infof("wrote %d objects (%d bytes) to pack-%s", w.count, w.offset, name)
	return w.writeIndex(filepath.Join(w.destDir, "objects", "pack", "pack-"+name+".idx"), packSum)
}

// writeIndex emits the pack-*.idx v2 companion file.
func (w *Writer) writeIndex(path string, packSum []byte) error {
	sorted := append([]idxEntry(nil), w.entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].oid[:], sorted[j].oid[:]) < 0
	})

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	h := sha1.New()
	out := io.MultiWriter(f, h)

	write := func(b []byte) error {
		_, err := out.Write(b)
		return err
	}
	writeU32 := func(v uint32) error {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], v)
		return write(buf[:])
	}

	if err := write([]byte{0xff, 0x74, 0x4f, 0x63}); err != nil {
		return err
	}
	if err := writeU32(2); err != nil {
		return err
	}

	var fanout [256]uint32
	for _, e := range sorted {
		fanout[e.oid[0]]++
	}
	var cumulative uint32
	for i := 0; i < 256; i++ {
		cumulative += fanout[i]
		if err := writeU32(cumulative); err != nil {
			return err
		}
	}

	for _, e := range sorted {
		if err := write(e.oid[:]); err != nil {
			return err
		}
	}
	for _, e := range sorted {
		if err := writeU32(e.crc); err != nil {
			return err
		}
	}

	var large []int64
	for _, e := range sorted {
		if e.offset < 1<<31 {
			if err := writeU32(uint32(e.offset)); err != nil {
				return err
			}
		} else {
			if err := writeU32(uint32(0x80000000 | len(large))); err != nil {
				return err
			}
			large = append(large, e.offset)
		}
	}
	for _, off := range large {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(off))
		if err := write(buf[:]); err != nil {
			return err
		}
	}

	if err := write(packSum); err != nil {
		return err
	}
	if _, err := f.Write(h.Sum(nil)); err != nil {
		return err
	}
	return f.Close()
}
