// Package gitobj builds the three Git object kinds this converter emits
// (blob, tree, commit) and computes their oids the way git itself does:
// SHA-1 over "<type> <size>\0<payload>".
package gitobj

import (
	"crypto/sha1"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Oid is a Git object id, hex-encoded.
type Oid string

func hash(kind string, payload []byte) Oid {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", kind, len(payload))
	h.Write(payload)
	return Oid(fmt.Sprintf("%x", h.Sum(nil)))
}

// Blob is a regular file, executable file, or symlink target's content.
type Blob struct {
	Oid     Oid
	Payload []byte
}

// NewBlob computes a Blob's oid from its content.
func NewBlob(content []byte) *Blob {
	return &Blob{Oid: hash("blob", content), Payload: content}
}

// Mode is a Git tree entry's file mode.
type Mode string

const (
	ModeRegular    Mode = "100644"
	ModeExecutable Mode = "100755"
	ModeSymlink    Mode = "120000"
	ModeDir        Mode = "40000"
)

// TreeEntry is one name/mode/oid triple inside a Tree.
type TreeEntry struct {
	Name string
	Mode Mode
	Oid  Oid
}

// Tree is a Git tree object.
type Tree struct {
	Oid     Oid
	Payload []byte
	Entries []TreeEntry
}

// sortKey implements Git's tree entry ordering: byte-wise comparison of
// the name, except a directory's name compares as if it had a trailing
// "/" -- so "foo.txt" sorts before the directory "foo", because '.'
// (0x2e) < '/' (0x2f); compared without the slash, "foo" would sort
// first as a prefix of "foo.txt".
func sortKey(e TreeEntry) string {
	if e.Mode == ModeDir {
		return e.Name + "/"
	}
	return e.Name
}

// NewTree sorts entries into Git tree order and computes the oid.
func NewTree(entries []TreeEntry) *Tree {
	sorted := append([]TreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sortKey(sorted[i]) < sortKey(sorted[j]) })

	var buf strings.Builder
	for _, e := range sorted {
		fmt.Fprintf(&buf, "%s %s\x00", string(e.Mode), e.Name)
		raw, err := hexToBytes(string(e.Oid))
		if err != nil {
			// Oids are always produced by hash(); a malformed one is a
			// programming error, not a runtime condition to recover from.
			panic(fmt.Sprintf("gitobj: malformed oid %q: %v", e.Oid, err))
		}
		buf.Write(raw)
	}
	payload := []byte(buf.String())
	return &Tree{Oid: hash("tree", payload), Payload: payload, Entries: sorted}
}

func hexToBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd length")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, err
		}
		out[i] = byte(hi)
	}
	return out, nil
}

// Signature is a commit's author or committer line.
type Signature struct {
	Name  string
	Email string
	When  string // already-formatted "<unix-seconds> <+hhmm>", verbatim
}

func (s Signature) String() string {
	return fmt.Sprintf("%s <%s> %s", s.Name, s.Email, s.When)
}

// Commit is a Git commit object.
type Commit struct {
	Oid     Oid
	Payload []byte
}

// NewCommit assembles and hashes a commit object. parents must already be
// in the order they should appear in the commit header (first parent
// first).
func NewCommit(tree Oid, parents []Oid, author, committer Signature, message string) *Commit {
	var buf strings.Builder
	fmt.Fprintf(&buf, "tree %s\n", tree)
	for _, p := range parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s\n", author)
	fmt.Fprintf(&buf, "committer %s\n", committer)
	buf.WriteByte('\n')
	buf.WriteString(message)
	payload := []byte(buf.String())
	return &Commit{Oid: hash("commit", payload), Payload: payload}
}
