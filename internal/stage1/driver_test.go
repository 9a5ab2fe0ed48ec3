package stage1

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/eduardosm/svn2git/internal/branchstore"
	"github.com/eduardosm/svn2git/internal/classify"
	"github.com/eduardosm/svn2git/internal/dumprecord"
	"github.com/eduardosm/svn2git/internal/mirror"
	"github.com/eduardosm/svn2git/internal/propset"
)

func newTestDriver(t *testing.T) (*Driver, *classify.Classifier, *branchstore.Store) {
	t.Helper()
	c := classify.New()
	if err := c.AddGlob("trunk", classify.KindBranch); err != nil {
		t.Fatal(err)
	}
	if err := c.AddGlob("branches/*", classify.KindBranch); err != nil {
		t.Fatal(err)
	}
	store := branchstore.New()
	m := mirror.New()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(c, store, m, log), c, store
}

func rev(n int, author, log string) dumprecord.Revision {
	props := propset.New().Set(propset.Author, []byte(author)).Set(propset.Log, []byte(log)).Set(propset.Date, []byte("2020-01-01T00:00:00Z"))
	return dumprecord.Revision{Number: n, Props: props}
}

func TestStage1CreateTrunkAndModify(t *testing.T) {
	d, _, store := newTestDriver(t)

	recs, err := d.ProcessRevision(rev(1, "alice", "init"), []dumprecord.Node{
		{Path: "trunk", Kind: dumprecord.KindDir, Action: dumprecord.ActionAdd},
		{Path: "branches", Kind: dumprecord.KindDir, Action: dumprecord.ActionAdd},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].BranchID != "trunk" {
		t.Fatalf("expected one record for trunk, got %+v", recs)
	}
	if recs[0].Action != ActionCreate {
		t.Errorf("expected ActionCreate, got %v", recs[0].Action)
	}

	recs, err = d.ProcessRevision(rev(2, "bob", "add A"), []dumprecord.Node{
		{Path: "trunk/A", Kind: dumprecord.KindFile, Action: dumprecord.ActionAdd, Content: []byte("hello")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || len(recs[0].FileChanges) != 1 {
		t.Fatalf("expected one file change, got %+v", recs)
	}
	if recs[0].FileChanges[0].Path != "A" {
		t.Errorf("expected branch-relative path A, got %q", recs[0].FileChanges[0].Path)
	}

	if b, ok := store.Get("trunk"); !ok || !b.Alive {
		t.Fatalf("expected trunk branch to be alive")
	}
}

func TestStage1BranchCreationByCopy(t *testing.T) {
	d, _, store := newTestDriver(t)

	_, err := d.ProcessRevision(rev(1, "alice", "init"), []dumprecord.Node{
		{Path: "trunk", Kind: dumprecord.KindDir, Action: dumprecord.ActionAdd},
		{Path: "branches", Kind: dumprecord.KindDir, Action: dumprecord.ActionAdd},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.ProcessRevision(rev(2, "alice", "add A"), []dumprecord.Node{
		{Path: "trunk/A", Kind: dumprecord.KindFile, Action: dumprecord.ActionAdd, Content: []byte("a")},
	})
	if err != nil {
		t.Fatal(err)
	}

	recs, err := d.ProcessRevision(rev(3, "alice", "branch"), []dumprecord.Node{
		{Path: "branches/b1", Kind: dumprecord.KindDir, Action: dumprecord.ActionAdd, CopyFrom: &dumprecord.CopyFrom{Path: "trunk", Rev: 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Action != ActionCreate {
		t.Fatalf("expected branch creation record, got %+v", recs)
	}
	if recs[0].CopyOrigin == nil || recs[0].CopyOrigin.SourceBranchID != "trunk" || recs[0].CopyOrigin.SourceSvnRev != 2 {
		t.Fatalf("expected copy origin trunk@2, got %+v", recs[0].CopyOrigin)
	}
	b, ok := store.Get("branches/b1")
	if !ok || b.Origin == nil || b.Origin.SourceBranchID != "trunk" {
		t.Fatalf("expected branches/b1 to record its origin, got %+v", b)
	}
}

func TestStage1ContentOnlyChangeKeepsExecutableBit(t *testing.T) {
	d, _, _ := newTestDriver(t)

	_, err := d.ProcessRevision(rev(1, "alice", "init"), []dumprecord.Node{
		{Path: "trunk", Kind: dumprecord.KindDir, Action: dumprecord.ActionAdd},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.ProcessRevision(rev(2, "alice", "add tool"), []dumprecord.Node{
		{
			Path: "trunk/tool", Kind: dumprecord.KindFile, Action: dumprecord.ActionAdd,
			PropsDelta: propset.Delta{propset.Executable: []byte("*")},
			Content:    []byte("#!/bin/sh\n"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	recs, err := d.ProcessRevision(rev(3, "alice", "edit tool"), []dumprecord.Node{
		{Path: "trunk/tool", Kind: dumprecord.KindFile, Action: dumprecord.ActionChange, Content: []byte("#!/bin/sh\nexit 0\n")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || len(recs[0].FileChanges) != 1 {
		t.Fatalf("expected one file change, got %+v", recs)
	}
	if !recs[0].FileChanges[0].Executable {
		t.Fatalf("content-only change must keep the executable bit")
	}
}

func TestStage1InBranchDeleteRecorded(t *testing.T) {
	d, _, store := newTestDriver(t)

	if _, err := d.ProcessRevision(rev(1, "alice", "init"), []dumprecord.Node{
		{Path: "trunk", Kind: dumprecord.KindDir, Action: dumprecord.ActionAdd},
		{Path: "trunk/A", Kind: dumprecord.KindFile, Action: dumprecord.ActionAdd, Content: []byte("a")},
	}); err != nil {
		t.Fatal(err)
	}

	recs, err := d.ProcessRevision(rev(2, "alice", "drop A"), []dumprecord.Node{
		{Path: "trunk/A", Action: dumprecord.ActionDelete},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || len(recs[0].FileChanges) != 1 {
		t.Fatalf("expected one record with one change, got %+v", recs)
	}
	fc := recs[0].FileChanges[0]
	if fc.Path != "A" || !fc.Deleted {
		t.Fatalf("expected a deletion of A, got %+v", fc)
	}
	if b, ok := store.Get("trunk"); !ok || !b.Alive {
		t.Fatalf("deleting a file must not kill the branch")
	}
}

func TestStage1RecreationResetsMergeinfoState(t *testing.T) {
	d, _, store := newTestDriver(t)

	mergeinfoDelta := propset.Delta{propset.Mergeinfo: []byte("/trunk:1-5\n")}

	if _, err := d.ProcessRevision(rev(1, "alice", "init"), []dumprecord.Node{
		{Path: "trunk", Kind: dumprecord.KindDir, Action: dumprecord.ActionAdd},
		{Path: "branches", Kind: dumprecord.KindDir, Action: dumprecord.ActionAdd},
	}); err != nil {
		t.Fatal(err)
	}
	recs, err := d.ProcessRevision(rev(2, "alice", "branch with mergeinfo"), []dumprecord.Node{
		{Path: "branches/foo", Kind: dumprecord.KindDir, Action: dumprecord.ActionAdd, PropsDelta: mergeinfoDelta},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || len(recs[0].AggregatedMergeinfoDelta) != 1 {
		t.Fatalf("expected the first incarnation's mergeinfo delta, got %+v", recs)
	}

	if _, err := d.ProcessRevision(rev(3, "alice", "remove branch"), []dumprecord.Node{
		{Path: "branches/foo", Action: dumprecord.ActionDelete},
	}); err != nil {
		t.Fatal(err)
	}

	// The recreated branch is unrelated to the dead incarnation; its
	// first svn:mergeinfo must diff against nothing, even when it
	// re-asserts the exact ranges the old branch once carried.
	recs, err = d.ProcessRevision(rev(4, "alice", "recreate branch"), []dumprecord.Node{
		{Path: "branches/foo", Kind: dumprecord.KindDir, Action: dumprecord.ActionAdd, PropsDelta: mergeinfoDelta},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %+v", recs)
	}
	if recs[0].Action != ActionRecreate {
		t.Errorf("expected ActionRecreate for an add over a deleted branch root, got %v", recs[0].Action)
	}
	rs, ok := recs[0].AggregatedMergeinfoDelta["trunk"]
	if !ok || rs.IsEmpty() {
		t.Fatalf("recreated branch's first mergeinfo must not be swallowed by the dead incarnation's state, got %+v", recs[0].AggregatedMergeinfoDelta)
	}

	if b, ok := store.Get("branches/foo"); !ok || !b.Alive {
		t.Fatalf("expected the recreated branch to be alive")
	}
}
