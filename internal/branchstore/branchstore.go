// Package branchstore is the in-memory index of known branches/tags,
// their SVN origin paths, and lifecycle state.
//
// Path lookup uses github.com/acomagu/trie: live branch SVN paths are
// byte-keyed into a trie, rebuilt whenever the live set changes, and an
// ancestor lookup is a single TraceByte walk down the query path,
// stopping at the deepest terminal node.
package branchstore

import (
	"fmt"

	"github.com/acomagu/trie"
	"github.com/emirpasic/gods/sets/linkedhashset"

	"github.com/eduardosm/svn2git/internal/classify"
)

// Origin identifies the copy that created a Branch.
type Origin struct {
	SourceBranchID string
	SourceSvnRev   int
}

// Branch is one known branch or tag and its conversion state.
type Branch struct {
	ID             string // stable identity, survives rename; == first-seen SvnPath
	SvnPath        string
	GitName        string
	Kind           classify.Kind
	PartialSubPath string // "" unless this is a partial branch
	Origin         *Origin

	Alive      bool
	DeletedRev int

	LastRev       int
	LastTreeOid   string
	LastCommitOid string
}

// Store is the Branch Store.
type Store struct {
	byID      map[string]*Branch
	byGitName map[string]*Branch
	order     *linkedhashset.Set // of branch IDs, insertion order, for deterministic Refs Finaliser output

	unbranched *Branch

	trieStale bool
	trieCache trie.Tree
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:      make(map[string]*Branch),
		byGitName: make(map[string]*Branch),
		order:     linkedhashset.New(),
	}
}

// EnableUnbranched creates the catch-all branch receiving changes that
// match no branch/tag rule. It exists only when unbranched-name is set.
func (s *Store) EnableUnbranched(gitName string) {
	b := &Branch{
		ID:      "",
		SvnPath: "",
		GitName: gitName,
		Kind:    classify.KindBranch,
		Alive:   true,
	}
	s.unbranched = b
	s.byGitName[gitName] = b
}

// Unbranched returns the catch-all Branch, or nil if unconfigured.
func (s *Store) Unbranched() *Branch { return s.unbranched }

// Create registers a brand-new Branch. A gitName collision with another
// live branch is a fatal configuration/runtime error; a dead branch's
// name may be taken over by a recreation.
func (s *Store) Create(svnPath string, kind classify.Kind, gitName string) (*Branch, error) {
	if existing, ok := s.byGitName[gitName]; ok && existing.Alive {
		return nil, fmt.Errorf("git ref name %q already used by svn path %q", gitName, existing.SvnPath)
	}
	b := &Branch{
		ID:      svnPath,
		SvnPath: svnPath,
		GitName: gitName,
		Kind:    kind,
		Alive:   true,
	}
	s.byID[b.ID] = b
	s.byGitName[gitName] = b
	s.order.Add(b.ID)
	s.trieStale = true
	return b, nil
}

// Get returns the live Branch with the given ID, if any. The empty ID
// resolves to the unbranched catch-all when configured.
func (s *Store) Get(id string) (*Branch, bool) {
	if id == "" {
		return s.unbranched, s.unbranched != nil
	}
	b, ok := s.byID[id]
	return b, ok && b.Alive
}

// Dead reports whether a now-deleted Branch previously occupied id.
func (s *Store) Dead(id string) bool {
	b, ok := s.byID[id]
	return ok && !b.Alive
}

// Kill marks a Branch deleted as of atRev.
func (s *Store) Kill(id string, atRev int) {
	if b, ok := s.byID[id]; ok {
		b.Alive = false
		b.DeletedRev = atRev
		s.trieStale = true
	}
}

// All returns every Branch (live and dead) in creation order. A dead
// Branch whose SVN path was later recreated is replaced by the new
// Branch, which keeps the original's place in the order.
func (s *Store) All() []*Branch {
	out := make([]*Branch, 0, s.order.Size())
	for _, v := range s.order.Values() {
		out = append(out, s.byID[v.(string)])
	}
	return out
}

// FindBySvnPath returns the live branch whose svn_path is an ancestor of
// path, i.e. the longest live branch-root prefix of path. atRev is
// accepted for call-site symmetry but the store only holds the current
// live set: callers always resolve paths for the revision currently
// being processed, by which point earlier deletions have already left
// the trie.
func (s *Store) FindBySvnPath(path string, atRev int) (*Branch, bool) {
	_ = atRev
	t := s.trie()
	if t == nil {
		return nil, false
	}
	prefix := longestPrefix(t, []byte(path+"/"))
	if prefix == nil {
		return nil, false
	}
	// Strip the trailing '/' sentinel added below to disambiguate
	// "branches/b1" from "branches/b10".
	id := string(prefix[:len(prefix)-1])
	b, ok := s.byID[id]
	if !ok || !b.Alive {
		return nil, false
	}
	return b, true
}

func (s *Store) trie() trie.Tree {
	if !s.trieStale && s.trieCache != nil {
		return s.trieCache
	}
	var keys [][]byte
	var values []interface{}
	for id, b := range s.byID {
		if !b.Alive {
			continue
		}
		keys = append(keys, []byte(id+"/"))
		values = append(values, id)
	}
	if len(keys) == 0 {
		s.trieCache = nil
	} else {
		s.trieCache = trie.New(keys, values)
	}
	s.trieStale = false
	return s.trieCache
}

func longestPrefix(t trie.Tree, key []byte) []byte {
	var prefix []byte
	for i, c := range key {
		t = t.TraceByte(c)
		if t == nil {
			break
		}
		if _, ok := t.Terminal(); ok {
			prefix = key[:i+1]
		}
	}
	return prefix
}
