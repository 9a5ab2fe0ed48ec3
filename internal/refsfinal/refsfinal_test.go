package refsfinal

import (
	"testing"

	"github.com/eduardosm/svn2git/internal/branchstore"
	"github.com/eduardosm/svn2git/internal/classify"
)

type fakeRefWriter struct {
	refs   map[string]string
	symRef map[string]string
}

func newFakeRefWriter() *fakeRefWriter {
	return &fakeRefWriter{refs: make(map[string]string), symRef: make(map[string]string)}
}

func (w *fakeRefWriter) WriteRef(name, oid string) error {
	w.refs[name] = oid
	return nil
}

func (w *fakeRefWriter) WriteSymbolicRef(name, target string) error {
	w.symRef[name] = target
	return nil
}

func TestFinalizeWritesLiveBranchesAndHead(t *testing.T) {
	store := branchstore.New()
	b, _ := store.Create("trunk", classify.KindBranch, "master")
	b.LastCommitOid = "deadbeef"

	w := newFakeRefWriter()
	if err := Finalize(store, Options{Head: "trunk"}, w); err != nil {
		t.Fatal(err)
	}
	if w.refs["refs/heads/master"] != "deadbeef" {
		t.Fatalf("expected refs/heads/master, got %+v", w.refs)
	}
	if w.symRef["HEAD"] != "refs/heads/master" {
		t.Fatalf("expected HEAD -> refs/heads/master, got %+v", w.symRef)
	}
}

func TestFinalizeSkipsDeletedBranchesWhenNotKept(t *testing.T) {
	store := branchstore.New()
	b, _ := store.Create("trunk", classify.KindBranch, "master")
	b.LastCommitOid = "deadbeef"
	store.Kill("trunk", 5)

	w := newFakeRefWriter()
	err := Finalize(store, Options{Head: "trunk"}, w)
	if err == nil {
		t.Fatal("expected an error: HEAD points at a branch with no live ref")
	}
	if len(w.refs) != 0 {
		t.Fatalf("expected no refs written for a deleted branch, got %+v", w.refs)
	}
}

func TestFinalizeKeepsDeletedBranchesWhenConfigured(t *testing.T) {
	store := branchstore.New()
	b, _ := store.Create("trunk", classify.KindBranch, "master")
	b.LastCommitOid = "deadbeef"
	store.Kill("trunk", 5)

	w := newFakeRefWriter()
	if err := Finalize(store, Options{Head: "trunk", KeepDeletedBranches: true}, w); err != nil {
		t.Fatal(err)
	}
	if w.refs["refs/heads/master"] != "deadbeef" {
		t.Fatalf("expected the deleted branch's ref to still be written, got %+v", w.refs)
	}
}

func TestFinalizeMissingHeadIsError(t *testing.T) {
	store := branchstore.New()
	w := newFakeRefWriter()
	if err := Finalize(store, Options{Head: "nonexistent"}, w); err == nil {
		t.Fatal("expected an actionable error when head does not resolve")
	}
}
