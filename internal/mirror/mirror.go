// Package mirror maintains a shadow tree of every path currently live
// in SVN, with copy-on-write snapshotting by SVN revision.
//
// A node is shared (immutable) the moment more than one tree references
// it, and any mutation first clones the shared node ("unshare") before
// writing to it. Every node carries real SVN semantics
// (kind, ordered properties, content reference) since the
// spec's MirrorNode has real invariants (a dir never has content, a
// file/symlink never has children) that deserve a typed representation
// rather than a second opaque blob map layered on top of PathMap.
package mirror

import (
	"fmt"
	"sort"
	"strings"

	"github.com/eduardosm/svn2git/internal/propset"
)

// Kind is the kind of a mirror node.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

// ContentRef identifies emitted blob content. It is resolved (possibly
// lazily) to a Git blob oid by Stage 2; the Mirror itself never looks
// inside it.
type ContentRef struct {
	// Bytes holds the node's raw content until Stage 2 has emitted it as
	// a blob, at which point Oid is filled in and Bytes may be dropped to
	// bound memory.
	Bytes []byte
	Oid   string
}

// Node is one live SVN path: a directory, file, or symlink.
type Node struct {
	kind     Kind
	props    propset.Set
	content  *ContentRef // non-nil iff kind != KindDir
	children map[string]*Node
	shared   bool
}

func newDirNode() *Node {
	return &Node{kind: KindDir, children: make(map[string]*Node)}
}

func newLeafNode(kind Kind, props propset.Set, content *ContentRef) *Node {
	return &Node{kind: kind, props: props, content: content}
}

func (n *Node) Kind() Kind            { return n.kind }
func (n *Node) Props() propset.Set    { return n.props }
func (n *Node) Content() *ContentRef  { return n.content }

// SortedChildNames returns this directory node's child component names
// in Git tree order (directory names compare as if slash-suffixed).
func (n *Node) SortedChildNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return treeSortKey(names[i], n.children[names[i]].kind == KindDir) <
			treeSortKey(names[j], n.children[names[j]].kind == KindDir)
	})
	return names
}

func treeSortKey(name string, isDir bool) string {
	if isDir {
		return name + "/"
	}
	return name
}

func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.children[name]
	return c, ok
}

func (n *Node) markShared() {
	if n.shared {
		return
	}
	n.shared = true
	for _, c := range n.children {
		c.markShared()
	}
}

func (n *Node) snapshot() *Node {
	r := &Node{kind: n.kind, props: n.props, content: n.content}
	if n.kind == KindDir {
		r.children = make(map[string]*Node, len(n.children))
		for k, v := range n.children {
			r.children[k] = v
			v.markShared()
		}
	}
	return r
}

func (n *Node) unshare() *Node {
	if n.shared {
		return n.snapshot()
	}
	return n
}

// Mirror is the live SVN filesystem shadow tree plus retained historical
// snapshots keyed by SVN revision.
type Mirror struct {
	root      *Node
	snapshots map[int]*Node
}

// New returns an empty Mirror (the SVN repository root before r1).
func New() *Mirror {
	return &Mirror{root: newDirNode(), snapshots: make(map[int]*Node)}
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func dirname(comps []string) ([]string, string) {
	return comps[:len(comps)-1], comps[len(comps)-1]
}

// walkParent descends to the parent directory of path, unsharing every
// directory on the way (the root included) so the caller may mutate the
// result. A missing or non-directory component is an error.
func (m *Mirror) walkParent(comps []string) (*Node, error) {
	node := m.root.unshare()
	m.root = node
	for _, c := range comps {
		child, ok := node.children[c]
		if !ok {
			return nil, fmt.Errorf("path component %q does not exist", c)
		}
		if child.kind != KindDir {
			return nil, fmt.Errorf("path component %q is not a directory", c)
		}
		child = child.unshare()
		node.children[c] = child
		node = child
	}
	return node, nil
}

// createParent is walkParent but creates missing intermediate directories.
func (m *Mirror) createParent(comps []string) *Node {
	node := m.root.unshare()
	m.root = node
	for _, c := range comps {
		child, ok := node.children[c]
		if !ok {
			child = newDirNode()
		} else {
			child = child.unshare()
		}
		node.children[c] = child
		node = child
	}
	return node
}

// Get resolves path to its current Node, if any.
func (m *Mirror) Get(path string) (*Node, bool) {
	comps := splitPath(path)
	node := m.root
	for _, c := range comps {
		if node.kind != KindDir {
			return nil, false
		}
		child, ok := node.children[c]
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

// Add creates path; it must not already exist.
func (m *Mirror) Add(path string, kind Kind, props propset.Set, content []byte) error {
	if _, ok := m.Get(path); ok {
		return fmt.Errorf("add: path %q already exists", path)
	}
	comps := splitPath(path)
	dirComps, name := dirname(comps)
	parent := m.createParent(dirComps)
	var node *Node
	if kind == KindDir {
		node = newDirNode()
	} else {
		node = newLeafNode(kind, props, &ContentRef{Bytes: content})
	}
	parent.children[name] = node
	return nil
}

// Change applies a property delta and optional new content to an
// existing path.
func (m *Mirror) Change(path string, propsDelta propset.Delta, content []byte, hasContent bool) error {
	comps := splitPath(path)
	dirComps, name := dirname(comps)
	parent, err := m.walkParent(dirComps)
	if err != nil {
		return fmt.Errorf("change: %w", err)
	}
	node, ok := parent.children[name]
	if !ok {
		return fmt.Errorf("change: path %q does not exist", path)
	}
	node = node.unshare()
	newProps := propsDelta.Apply(node.props)

	// svn:special transitions a regular file to a symlink and back,
	// both ways legal, mid-lifetime.
	kind := node.kind
	if kind == KindFile || kind == KindSymlink {
		if newProps.Has(propset.Special) {
			kind = KindSymlink
		} else {
			kind = KindFile
		}
	}

	node.kind = kind
	node.props = newProps
	if hasContent {
		node.content = &ContentRef{Bytes: content}
	}
	parent.children[name] = node
	return nil
}

// Delete removes path and, for a directory, its whole subtree.
func (m *Mirror) Delete(path string) error {
	comps := splitPath(path)
	dirComps, name := dirname(comps)
	parent, err := m.walkParent(dirComps)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if _, ok := parent.children[name]; !ok {
		return fmt.Errorf("delete: path %q does not exist", path)
	}
	delete(parent.children, name)
	return nil
}

// Copy creates dest as a structurally shared clone of src as it stood
// at src_rev, resolved against the retained snapshot.
func (m *Mirror) Copy(dest, src string, srcRev int) error {
	if _, ok := m.Get(dest); ok {
		return fmt.Errorf("copy: destination %q already exists", dest)
	}
	srcSnapshot, ok := m.snapshots[srcRev]
	if !ok {
		return fmt.Errorf("copy: no retained snapshot for revision %d", srcRev)
	}
	srcNode, err := getFrom(srcSnapshot, src)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	destComps := splitPath(dest)
	dirComps, name := dirname(destComps)
	parent := m.createParent(dirComps)
	srcNode.markShared()
	parent.children[name] = srcNode
	return nil
}

func getFrom(root *Node, path string) (*Node, error) {
	comps := splitPath(path)
	node := root
	for _, c := range comps {
		if node.kind != KindDir {
			return nil, fmt.Errorf("%q is not a directory", path)
		}
		child, ok := node.children[c]
		if !ok {
			return nil, fmt.Errorf("%q: %q missing", path, c)
		}
		node = child
	}
	return node, nil
}

// Commit takes an immutable snapshot of the current tree tagged with
// rev, after the last node action of an SVN revision has been applied.
func (m *Mirror) Commit(rev int) {
	m.root.markShared()
	m.snapshots[rev] = m.root
}

// Release drops the retained snapshot for rev once no remaining
// revision in the stream can reference it as a copy-from source. The
// caller is responsible for knowing when that holds; the Mirror itself
// has no lookahead into the stream.
func (m *Mirror) Release(rev int) {
	delete(m.snapshots, rev)
}

// HasSnapshot reports whether revision rev is still retained.
func (m *Mirror) HasSnapshot(rev int) bool {
	_, ok := m.snapshots[rev]
	return ok
}

// GetAt resolves path in the retained snapshot for rev.
func (m *Mirror) GetAt(path string, rev int) (*Node, bool) {
	root, ok := m.snapshots[rev]
	if !ok {
		return nil, false
	}
	node, err := getFrom(root, path)
	if err != nil {
		return nil, false
	}
	return node, true
}
