package gitobj

import "testing"

func TestBlobOidMatchesGit(t *testing.T) {
	cases := []struct {
		content string
		want    Oid
	}{
		{"", "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391"},
		{"hello\n", "ce013625030ba8dba906f756967f9e9ca394464a"},
	}
	for _, c := range cases {
		got := NewBlob([]byte(c.content)).Oid
		if got != c.want {
			t.Errorf("blob(%q) = %s, want %s", c.content, got, c.want)
		}
	}
}

func TestTreeOrdersDirsAsIfSlashSuffixed(t *testing.T) {
	tr := NewTree([]TreeEntry{
		{Name: "foo.txt", Mode: ModeRegular, Oid: NewBlob([]byte("a")).Oid},
		{Name: "foo", Mode: ModeDir, Oid: NewTree(nil).Oid},
	})
	if tr.Entries[0].Name != "foo.txt" || tr.Entries[1].Name != "foo" {
		t.Fatalf("expected foo.txt before foo/, got %v", tr.Entries)
	}
}

func TestCommitDeterministic(t *testing.T) {
	tree := NewTree(nil).Oid
	sig := Signature{Name: "alice", Email: "alice@localhost", When: "1000000000 +0000"}
	c1 := NewCommit(tree, nil, sig, sig, "init\n")
	c2 := NewCommit(tree, nil, sig, sig, "init\n")
	if c1.Oid != c2.Oid {
		t.Fatalf("expected identical inputs to produce identical oids, got %s and %s", c1.Oid, c2.Oid)
	}

	withParent := NewCommit(tree, []Oid{c1.Oid}, sig, sig, "second\n")
	if withParent.Oid == c1.Oid {
		t.Fatalf("expected a different oid once a parent is added")
	}
}
