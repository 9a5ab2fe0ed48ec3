package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/eduardosm/svn2git/internal/config"
	"github.com/eduardosm/svn2git/internal/gitobj"
)

// memEmitter captures everything the pipeline emits.
type memEmitter struct {
	blobs   map[gitobj.Oid][]byte
	trees   map[gitobj.Oid]*gitobj.Tree
	commits []*gitobj.Commit
	refs    map[string]string
	symrefs map[string]string
}

func newMemEmitter() *memEmitter {
	return &memEmitter{
		blobs:   make(map[gitobj.Oid][]byte),
		trees:   make(map[gitobj.Oid]*gitobj.Tree),
		refs:    make(map[string]string),
		symrefs: make(map[string]string),
	}
}

func (e *memEmitter) WriteBlob(b *gitobj.Blob) error { e.blobs[b.Oid] = b.Payload; return nil }
func (e *memEmitter) WriteTree(t *gitobj.Tree) error { e.trees[t.Oid] = t; return nil }
func (e *memEmitter) WriteCommit(c *gitobj.Commit) error {
	e.commits = append(e.commits, c)
	return nil
}
func (e *memEmitter) WriteRef(name, oid string) error { e.refs[name] = oid; return nil }
func (e *memEmitter) WriteSymbolicRef(name, target string) error {
	e.symrefs[name] = target
	return nil
}

func (e *memEmitter) commitByOid(oid string) *gitobj.Commit {
	for _, c := range e.commits {
		if string(c.Oid) == oid {
			return c
		}
	}
	return nil
}

func parseCommit(payload []byte) (tree string, parents []string) {
	for _, line := range strings.Split(string(payload), "\n") {
		if line == "" {
			break
		}
		if rest, ok := strings.CutPrefix(line, "tree "); ok {
			tree = rest
		}
		if rest, ok := strings.CutPrefix(line, "parent "); ok {
			parents = append(parents, rest)
		}
	}
	return tree, parents
}

// treeNames flattens a tree's entry names (top level only).
func (e *memEmitter) treeNames(oid string) []string {
	t, ok := e.trees[gitobj.Oid(oid)]
	if !ok {
		return nil
	}
	var names []string
	for _, entry := range t.Entries {
		names = append(names, entry.Name)
	}
	return names
}

// dumpBuilder assembles dump-format fixtures.
type dumpBuilder struct {
	bytes.Buffer
}

func propBlock(pairs ...[2]string) []byte {
	var b bytes.Buffer
	for _, kv := range pairs {
		fmt.Fprintf(&b, "K %d\n%s\nV %d\n%s\n", len(kv[0]), kv[0], len(kv[1]), kv[1])
	}
	b.WriteString("PROPS-END\n")
	return b.Bytes()
}

func (d *dumpBuilder) revision(n int, author, logMsg string) {
	p := propBlock(
		[2]string{"svn:author", author},
		[2]string{"svn:date", fmt.Sprintf("2020-01-%02dT00:00:00.000000Z", n%28+1)},
		[2]string{"svn:log", logMsg},
	)
	fmt.Fprintf(d, "Revision-number: %d\nProp-content-length: %d\nContent-length: %d\n\n", n, len(p), len(p))
	d.Write(p)
	d.WriteString("\n")
}

type nodeSpec struct {
	path, kind, action string
	copyPath           string
	copyRev            int
	props              [][2]string
	content            string
	hasContent         bool
}

func (d *dumpBuilder) node(ns nodeSpec) {
	fmt.Fprintf(d, "Node-path: %s\n", ns.path)
	if ns.kind != "" {
		fmt.Fprintf(d, "Node-kind: %s\n", ns.kind)
	}
	fmt.Fprintf(d, "Node-action: %s\n", ns.action)
	if ns.copyPath != "" {
		fmt.Fprintf(d, "Node-copyfrom-rev: %d\nNode-copyfrom-path: %s\n", ns.copyRev, ns.copyPath)
	}
	var p []byte
	if ns.props != nil {
		p = propBlock(ns.props...)
		fmt.Fprintf(d, "Prop-content-length: %d\n", len(p))
	}
	if ns.hasContent {
		fmt.Fprintf(d, "Text-content-length: %d\n", len(ns.content))
	}
	d.WriteString("\n")
	if p != nil {
		d.Write(p)
		if !ns.hasContent {
			d.WriteString("\n")
		}
	}
	if ns.hasContent {
		d.WriteString(ns.content)
		d.WriteString("\n")
	}
}

func addDir(path string) nodeSpec {
	return nodeSpec{path: path, kind: "dir", action: "add"}
}

func addFile(path, content string) nodeSpec {
	return nodeSpec{path: path, kind: "file", action: "add", content: content, hasContent: true}
}

func runConversion(t *testing.T, d *dumpBuilder, opts config.Options) *memEmitter {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	emit := newMemEmitter()
	err := Run(context.Background(), bytes.NewReader(d.Bytes()), Params{Opts: opts, CacheBytes: 1 << 20}, emit, log)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return emit
}

func baseOptions() config.Options {
	return config.Options{
		Branches:            []string{"trunk", "branches/*"},
		RenameBranches:      map[string]string{"trunk": "master", "branches/*": "*"},
		Head:                "trunk",
		EnableMerges:        true,
		KeepDeletedBranches: true,
		KeepDeletedTags:     true,
	}
}

func TestMergeOnCreation(t *testing.T) {
	var d dumpBuilder
	d.revision(1, "alice", "init layout")
	d.node(addDir("trunk"))
	d.node(addDir("branches"))
	d.revision(2, "alice", "add A")
	d.node(addFile("trunk/A", "a\n"))
	d.revision(3, "alice", "add B")
	d.node(addFile("trunk/B", "b\n"))
	d.revision(4, "bob", "branch with merged B")
	d.node(nodeSpec{
		path: "branches/b1", kind: "dir", action: "add",
		copyPath: "trunk", copyRev: 2,
		props: [][2]string{{"svn:mergeinfo", "/trunk:3"}},
	})
	d.node(addFile("branches/b1/B", "b\n"))

	emit := runConversion(t, &d, baseOptions())

	if len(emit.commits) != 4 {
		t.Fatalf("expected 4 commits, got %d", len(emit.commits))
	}
	if emit.symrefs["HEAD"] != "refs/heads/master" {
		t.Fatalf("HEAD = %q", emit.symrefs["HEAD"])
	}

	master := emit.refs["refs/heads/master"]
	if master != string(emit.commits[2].Oid) {
		t.Fatalf("master should point at the r3 commit")
	}
	b1 := emit.refs["refs/heads/b1"]
	if b1 != string(emit.commits[3].Oid) {
		t.Fatalf("b1 should point at the r4 commit")
	}

	// master history: r3 <- r2 <- r1 (root).
	tree3, parents3 := parseCommit(emit.commits[2].Payload)
	if len(parents3) != 1 || parents3[0] != string(emit.commits[1].Oid) {
		t.Fatalf("r3 parents = %v", parents3)
	}
	if got := emit.treeNames(tree3); !equalStrings(got, []string{"A", "B"}) {
		t.Fatalf("r3 tree = %v", got)
	}
	_, parents1 := parseCommit(emit.commits[0].Payload)
	if len(parents1) != 0 {
		t.Fatalf("root commit has parents %v", parents1)
	}

	// b1: first parent is trunk@2's commit, second (merge) parent trunk@3's.
	treeB1, parentsB1 := parseCommit(emit.commits[3].Payload)
	want := []string{string(emit.commits[1].Oid), string(emit.commits[2].Oid)}
	if !equalStrings(parentsB1, want) {
		t.Fatalf("b1 parents = %v, want %v", parentsB1, want)
	}
	if got := emit.treeNames(treeB1); !equalStrings(got, []string{"A", "B"}) {
		t.Fatalf("b1 tree = %v", got)
	}

	if !strings.Contains(string(emit.commits[3].Payload), "svn2git-id: ") {
		t.Fatalf("commit message missing the svn2git-id trailer")
	}
}

func TestPartialBranchCreation(t *testing.T) {
	var d dumpBuilder
	d.revision(1, "alice", "layout")
	d.node(addDir("trunk"))
	d.node(addDir("trunk/x"))
	d.node(addFile("trunk/x/A", "a\n"))
	d.node(addDir("branches"))
	d.revision(2, "alice", "partial branch from trunk/x")
	d.node(nodeSpec{path: "branches/b1", kind: "dir", action: "add", copyPath: "trunk/x", copyRev: 1})
	d.revision(3, "alice", "add B at branch root")
	d.node(addFile("branches/b1/B", "b\n"))

	opts := baseOptions()
	opts.PartialBranches = []string{"branches/*"}
	emit := runConversion(t, &d, opts)

	if len(emit.commits) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(emit.commits))
	}

	// b1's creation tree is exactly the x sub-tree, parented on trunk@1.
	treeCreate, parentsCreate := parseCommit(emit.commits[1].Payload)
	if got := emit.treeNames(treeCreate); !equalStrings(got, []string{"A"}) {
		t.Fatalf("partial creation tree = %v, want just A", got)
	}
	if len(parentsCreate) != 1 || parentsCreate[0] != string(emit.commits[0].Oid) {
		t.Fatalf("partial creation parents = %v", parentsCreate)
	}

	// Subsequent changes land at the branch root, not under x.
	treeNext, _ := parseCommit(emit.commits[2].Payload)
	if got := emit.treeNames(treeNext); !equalStrings(got, []string{"A", "B"}) {
		t.Fatalf("post-creation tree = %v", got)
	}
}

func TestUnrelatedBranchMerge(t *testing.T) {
	var d dumpBuilder
	d.revision(1, "alice", "layout")
	d.node(addDir("trunk"))
	d.node(addDir("branches"))
	d.revision(2, "alice", "trunk content")
	d.node(addFile("trunk/A", "a\n"))
	d.revision(3, "bob", "fresh unrelated branch")
	d.node(addDir("branches/b1"))
	d.node(addFile("branches/b1/F", "f\n"))
	d.revision(4, "bob", "merge b1 into trunk")
	d.node(nodeSpec{path: "trunk", kind: "dir", action: "change", props: [][2]string{{"svn:mergeinfo", "/branches/b1:3"}}})
	d.node(addFile("trunk/F", "f\n"))

	emit := runConversion(t, &d, baseOptions())

	if len(emit.commits) != 4 {
		t.Fatalf("expected 4 commits, got %d", len(emit.commits))
	}
	b1Commit := emit.commits[2]
	if _, parents := parseCommit(b1Commit.Payload); len(parents) != 0 {
		t.Fatalf("orphan branch's creation commit should have no parents, got %v", parents)
	}
	_, parents4 := parseCommit(emit.commits[3].Payload)
	want := []string{string(emit.commits[1].Oid), string(b1Commit.Oid)}
	if !equalStrings(parents4, want) {
		t.Fatalf("merge commit parents = %v, want %v", parents4, want)
	}
}

func TestMergeOptionalSuppressesPropOnlyMerge(t *testing.T) {
	build := func() *dumpBuilder {
		var d dumpBuilder
		d.revision(1, "alice", "layout")
		d.node(addDir("trunk"))
		d.node(addDir("trunk/A"))
		d.node(addDir("branches"))
		d.revision(2, "alice", "branch")
		d.node(nodeSpec{path: "branches/b1", kind: "dir", action: "add", copyPath: "trunk", copyRev: 1})
		d.revision(3, "bob", "work on branch")
		d.node(addFile("branches/b1/A/f", "f\n"))
		d.revision(4, "bob", "record mergeinfo only")
		d.node(nodeSpec{path: "trunk/A", kind: "dir", action: "change", props: [][2]string{{"svn:mergeinfo", "/branches/b1/A:3"}}})
		return &d
	}

	opts := baseOptions()
	opts.MergeOptional = []string{"**/A"}
	emit := runConversion(t, build(), opts)
	_, parents := parseCommit(emit.commits[len(emit.commits)-1].Payload)
	if len(parents) != 1 {
		t.Fatalf("prop-only mergeinfo on a merge-optional path should not add a merge parent, got %v", parents)
	}

	// Without the downgrade the same dump produces a merge parent.
	emit = runConversion(t, build(), baseOptions())
	_, parents = parseCommit(emit.commits[len(emit.commits)-1].Payload)
	if len(parents) != 2 {
		t.Fatalf("expected a merge parent without merge-optional, got %v", parents)
	}
}

func TestDeletedBranchRefPolicy(t *testing.T) {
	build := func() *dumpBuilder {
		var d dumpBuilder
		d.revision(1, "alice", "layout")
		d.node(addDir("trunk"))
		d.node(addDir("branches"))
		d.revision(2, "alice", "branch")
		d.node(nodeSpec{path: "branches/b1", kind: "dir", action: "add", copyPath: "trunk", copyRev: 1})
		d.revision(3, "alice", "remove branch")
		d.node(nodeSpec{path: "branches/b1", action: "delete"})
		return &d
	}

	emit := runConversion(t, build(), baseOptions())
	if _, ok := emit.refs["refs/heads/b1"]; !ok {
		t.Fatalf("keep-deleted-branches=true should keep the deleted branch's ref")
	}

	opts := baseOptions()
	opts.KeepDeletedBranches = false
	emit = runConversion(t, build(), opts)
	if _, ok := emit.refs["refs/heads/b1"]; ok {
		t.Fatalf("keep-deleted-branches=false should drop the deleted branch's ref")
	}
}

func TestInBranchFileDeletion(t *testing.T) {
	var d dumpBuilder
	d.revision(1, "alice", "layout")
	d.node(addDir("trunk"))
	d.revision(2, "alice", "two files")
	d.node(addFile("trunk/A", "a\n"))
	d.node(addFile("trunk/B", "b\n"))
	d.revision(3, "alice", "drop A")
	d.node(nodeSpec{path: "trunk/A", action: "delete"})

	emit := runConversion(t, &d, baseOptions())
	tree, _ := parseCommit(emit.commits[len(emit.commits)-1].Payload)
	if got := emit.treeNames(tree); !equalStrings(got, []string{"B"}) {
		t.Fatalf("tree after deletion = %v, want just B", got)
	}
}

func TestScanCopySources(t *testing.T) {
	var d dumpBuilder
	d.revision(1, "alice", "layout")
	d.node(addDir("trunk"))
	d.revision(2, "alice", "copy")
	d.node(nodeSpec{path: "branches", kind: "dir", action: "add"})
	d.node(nodeSpec{path: "branches/b1", kind: "dir", action: "add", copyPath: "trunk", copyRev: 1})
	d.revision(3, "alice", "another copy of r1")
	d.node(nodeSpec{path: "branches/b2", kind: "dir", action: "add", copyPath: "trunk", copyRev: 1})

	lastUse, err := ScanCopySources(bytes.NewReader(d.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if lastUse[1] != 3 {
		t.Fatalf("lastUse[1] = %d, want 3", lastUse[1])
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
