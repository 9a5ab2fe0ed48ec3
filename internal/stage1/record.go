// Package stage1 is the first half of the conversion engine: for each
// SVN revision, classify every node action against the branch taxonomy,
// drive the Branch Store and Mirror, and emit one intermediate record
// per branch actually touched.
package stage1

import (
	"github.com/eduardosm/svn2git/internal/mirror"
	"github.com/eduardosm/svn2git/internal/propset"
)

// Action says what a Record did to its branch.
type Action int

const (
	ActionCreate Action = iota
	ActionModify
	ActionDelete
	ActionRecreate
)

// CopyOrigin identifies the copy that created a branch, attached to the
// creating record.
type CopyOrigin struct {
	SourceBranchID string
	SourceSvnRev   int
}

// ParentHint tells Stage 2 which commit to use as first parent when the
// branch has no prior commit of its own yet (a fresh or partial creation).
type ParentHint struct {
	SourceBranchID string
	SourceSvnRev   int
}

// FileChange is one file/symlink content or mode change to apply
// against the branch's previous Git tree. Path is relative to the
// branch root, never to the SVN repository root.
type FileChange struct {
	Path       string
	Deleted    bool
	Kind       mirror.Kind
	Executable bool
	Content    *mirror.ContentRef
}

// DirPropertyChange carries a directory's updated svn:ignore /
// svn:global-ignores properties through to .gitignore synthesis. Path
// is branch-relative; "" is the branch root.
type DirPropertyChange struct {
	Path  string
	Props propset.Set
}

// Record is the unit of work handed from Stage 1 to Stage 2: one
// branch's worth of one SVN revision. Immutable once emitted.
type Record struct {
	SvnRev     int
	BranchID   string
	Action     Action
	ParentHint *ParentHint
	CopyOrigin *CopyOrigin

	FileChanges        []FileChange
	DirPropertyChanges []DirPropertyChange

	Author     string
	Timestamp  string // svn:date, verbatim (RFC3339-ish per SVN convention)
	LogMessage string

	// AggregatedMergeinfoDelta maps a source SVN path to the revision
	// ranges newly present in this branch's svn:mergeinfo, unioned over
	// every path within the branch whose svn:mergeinfo changed this
	// revision.
	AggregatedMergeinfoDelta map[string]RevSet

	// MergeinfoPaths lists the branch-relative paths that contributed to
	// AggregatedMergeinfoDelta, for the merge-optional downgrade check.
	MergeinfoPaths []string

	// PartialSubPath is set only for a partial-branch creation record:
	// the branch's first Git tree is seeded from this sub-path of the
	// copy source, not the copy root.
	PartialSubPath string
}
