package packwriter

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/eduardosm/svn2git/internal/gitobj"
	"github.com/eduardosm/svn2git/internal/gitobj/delta"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.git")
	log := logrus.New()
	log.SetOutput(io.Discard)
	w, err := New(dest, delta.NewSelector(1<<20), log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w, dest
}

// readPack decodes every object out of the finished pack, resolving
// ref-deltas, and returns payloads keyed by hex oid.
func readPack(t *testing.T, dest string) (map[string][]byte, []byte) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dest, "objects", "pack", "pack-*.pack"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected exactly one pack, got %v (%v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(data[:4]) != "PACK" || binary.BigEndian.Uint32(data[4:8]) != 2 {
		t.Fatalf("bad pack header %q", data[:8])
	}
	count := binary.BigEndian.Uint32(data[8:12])

	sum := sha1.Sum(data[:len(data)-20])
	if !bytes.Equal(sum[:], data[len(data)-20:]) {
		t.Fatalf("pack trailer checksum mismatch")
	}
	wantName := "pack-" + hex.EncodeToString(sum[:]) + ".pack"
	if filepath.Base(matches[0]) != wantName {
		t.Fatalf("pack named %s, want %s", filepath.Base(matches[0]), wantName)
	}

	objects := make(map[string][]byte)
	kinds := map[int]string{typeCommit: "commit", typeTree: "tree", typeBlob: "blob"}
	pos := 12
	for i := uint32(0); i < count; i++ {
		objType := int(data[pos]>>4) & 7
		size := int(data[pos] & 0x0f)
		shift := uint(4)
		for data[pos]&0x80 != 0 {
			pos++
			size |= int(data[pos]&0x7f) << shift
			shift += 7
		}
		pos++

		var baseOid string
		if objType == typeRefDelta {
			baseOid = hex.EncodeToString(data[pos : pos+20])
			pos += 20
		}

		// A one-byte-at-a-time reader keeps zlib from buffering past the
		// end of the compressed stream, so consumed counts are exact.
		obr := &oneByteReader{r: bytes.NewReader(data[pos:])}
		zr, err := zlib.NewReader(obr)
		if err != nil {
			t.Fatalf("object %d: %v", i, err)
		}
		payload, err := io.ReadAll(zr)
		if err != nil {
			t.Fatalf("object %d: %v", i, err)
		}
		zr.Close()
		if len(payload) != size {
			t.Fatalf("object %d: payload %d bytes, header said %d", i, len(payload), size)
		}
		pos += obr.n

		if objType == typeRefDelta {
			base, ok := objects[baseOid]
			if !ok {
				t.Fatalf("ref-delta base %s not yet in pack (forward reference)", baseOid)
			}
			payload, err = delta.Apply(base, payload)
			if err != nil {
				t.Fatalf("applying ref-delta: %v", err)
			}
			objType = typeBlob
		}

		h := sha1.New()
		io.WriteString(h, kinds[objType])
		io.WriteString(h, " ")
		io.WriteString(h, itoa(len(payload)))
		h.Write([]byte{0})
		h.Write(payload)
		objects[hex.EncodeToString(h.Sum(nil))] = payload
	}
	return objects, sum[:]
}

type oneByteReader struct {
	r io.Reader
	n int
}

func (o *oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	n, err := o.r.Read(p)
	o.n += n
	return n, err
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

func TestPackRoundTrip(t *testing.T) {
	w, dest := newTestWriter(t)

	blob := gitobj.NewBlob([]byte("hello svn\n"))
	if err := w.WriteBlob(blob); err != nil {
		t.Fatal(err)
	}
	tree := gitobj.NewTree([]gitobj.TreeEntry{{Name: "hello.txt", Mode: gitobj.ModeRegular, Oid: blob.Oid}})
	if err := w.WriteTree(tree); err != nil {
		t.Fatal(err)
	}
	sig := gitobj.Signature{Name: "A", Email: "a@example.com", When: "1600000000 +0000"}
	commit := gitobj.NewCommit(tree.Oid, nil, sig, sig, "import\n")
	if err := w.WriteCommit(commit); err != nil {
		t.Fatal(err)
	}

	// Duplicate writes are absorbed, not re-stored.
	if err := w.WriteBlob(blob); err != nil {
		t.Fatal(err)
	}

	if err := w.WriteRef("refs/heads/master", string(commit.Oid)); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteSymbolicRef("HEAD", "refs/heads/master"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	objects, _ := readPack(t, dest)
	if len(objects) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(objects))
	}
	if got := objects[string(blob.Oid)]; !bytes.Equal(got, blob.Payload) {
		t.Fatalf("blob payload mismatch")
	}
	if _, ok := objects[string(tree.Oid)]; !ok {
		t.Fatalf("tree %s missing from pack", tree.Oid)
	}
	if _, ok := objects[string(commit.Oid)]; !ok {
		t.Fatalf("commit %s missing from pack", commit.Oid)
	}

	refData, err := os.ReadFile(filepath.Join(dest, "refs", "heads", "master"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(refData)) != string(commit.Oid) {
		t.Fatalf("ref content %q", refData)
	}
	head, err := os.ReadFile(filepath.Join(dest, "HEAD"))
	if err != nil {
		t.Fatal(err)
	}
	if string(head) != "ref: refs/heads/master\n" {
		t.Fatalf("HEAD content %q", head)
	}
}

func TestSimilarBlobStoredAsRefDelta(t *testing.T) {
	w, dest := newTestWriter(t)

	baseContent := bytes.Repeat([]byte("line of repeated content in the base blob\n"), 200)
	first := gitobj.NewBlob(baseContent)
	if err := w.WriteBlob(first); err != nil {
		t.Fatal(err)
	}
	edited := append([]byte("prelude\n"), baseContent...)
	second := gitobj.NewBlob(edited)
	if err := w.WriteBlob(second); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	objects, _ := readPack(t, dest)
	if got := objects[string(second.Oid)]; !bytes.Equal(got, edited) {
		t.Fatalf("delta-stored blob did not reconstruct")
	}

	// The pack itself must be smaller than two full copies of the
	// near-identical content.
	matches, _ := filepath.Glob(filepath.Join(dest, "objects", "pack", "pack-*.pack"))
	st, err := os.Stat(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	// Both blobs compress well; the point is the second entry is a small
	// delta, so the pack stays near one compressed copy in size.
	zOne := compressedSize(t, baseContent)
	if st.Size() > int64(zOne)+2048 {
		t.Fatalf("pack %d bytes suggests the similar blob was stored in full (one compressed copy is %d)", st.Size(), zOne)
	}
}

func compressedSize(t *testing.T, b []byte) int {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write(b)
	zw.Close()
	return buf.Len()
}

func TestIndexMatchesPack(t *testing.T) {
	w, dest := newTestWriter(t)
	for i := 0; i < 10; i++ {
		b := gitobj.NewBlob([]byte(strings.Repeat(string(rune('a'+i)), i+1)))
		if err := w.WriteBlob(b); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	matches, _ := filepath.Glob(filepath.Join(dest, "objects", "pack", "pack-*.idx"))
	if len(matches) != 1 {
		t.Fatalf("expected one idx, got %v", matches)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data[:4], []byte{0xff, 0x74, 0x4f, 0x63}) || binary.BigEndian.Uint32(data[4:8]) != 2 {
		t.Fatalf("bad idx header")
	}
	total := binary.BigEndian.Uint32(data[8+255*4 : 8+256*4])
	if total != 10 {
		t.Fatalf("fanout total %d, want 10", total)
	}
	// Oids must be sorted and fanout consistent with first bytes.
	oidTable := data[8+256*4:]
	var prev []byte
	for i := uint32(0); i < total; i++ {
		oid := oidTable[i*20 : i*20+20]
		if prev != nil && bytes.Compare(prev, oid) >= 0 {
			t.Fatalf("idx oids not strictly sorted at %d", i)
		}
		prev = oid
	}
	// idx trailer: pack checksum then idx checksum.
	idxSum := sha1.Sum(data[:len(data)-20])
	if !bytes.Equal(idxSum[:], data[len(data)-20:]) {
		t.Fatalf("idx checksum mismatch")
	}
}
