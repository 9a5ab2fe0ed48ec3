// Package mergeinfo turns one intermediate record's aggregated
// svn:mergeinfo delta into a set of merge candidates classified as
// genuine merges, cherry-picks, or noise.
package mergeinfo

import (
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/eduardosm/svn2git/internal/branchstore"
	"github.com/eduardosm/svn2git/internal/stage1"
)

// Kind classifies a MergeCandidate.
type Kind int

const (
	KindMerge Kind = iota
	KindCherrypick
)

// Candidate is one (source branch, source revision) merge candidate.
type Candidate struct {
	SourceBranchID string
	SourceSvnRev   int
	Kind           Kind
}

// OptionalGlobs checks whether a branch-relative path is covered by a
// merge-optional glob. A leading "**/" component is accepted as "any
// number of leading components".
type OptionalGlobs struct {
	patterns []string
}

func NewOptionalGlobs(patterns []string) *OptionalGlobs {
	return &OptionalGlobs{patterns: patterns}
}

func (g *OptionalGlobs) Matches(p string) bool {
	if g == nil {
		return false
	}
	for _, pat := range g.patterns {
		if matchGlob(pat, p) {
			return true
		}
	}
	return false
}

// matchGlob matches pattern against the trailing components of p, so that
// a pattern like "docs/*" matches "docs/readme" whether p is exactly that
// or a deeper SVN path ending in it (".../branches/feature/docs/readme").
// A leading "**/" component matches any number of leading path components.
func matchGlob(pattern, p string) bool {
	patComps := strings.Split(strings.TrimPrefix(pattern, "**/"), "/")

	pathComps := strings.Split(p, "/")
	if len(patComps) > len(pathComps) {
		return false
	}
	tail := pathComps[len(pathComps)-len(patComps):]
	for i, pc := range patComps {
		if ok, _ := path.Match(pc, tail[i]); !ok {
			return false
		}
	}
	return true
}

// Reducer implements the per-record reduction algorithm.
type Reducer struct {
	enabled            bool
	avoidFullyReverted bool
	optional           *OptionalGlobs
	ignoreAt           map[int]map[string]bool // svn_rev -> source path -> ignore
	branches           *branchstore.Store
	log                *logrus.Logger

	// touched[branchID] is the ascending set of SVN revisions that
	// produced a commit on that branch, needed for step 3's "group
	// equals R_branch" contiguity test.
	touched map[string]*ascendingRevs

	// everMerged[targetBranchID][sourceBranchID] is every source revision
	// ever surfaced as a Candidate for that pair.
	// avoid-fully-reverted-merges uses this to suppress re-emitting a
	// merge/cherry-pick for revisions that were already accounted for
	// once, then dropped from svn:mergeinfo by a revert, then
	// reintroduced by an identical re-merge. Without it, stage1's
	// delta-only tracking (new mergeinfo minus last-seen mergeinfo)
	// treats the reintroduction as brand new source history and emits a
	// duplicate merge parent.
	everMerged map[string]map[string]stage1.RevSet
}

// New builds a Reducer. When enableMerges is false the Reducer is still
// constructed (so Stage 2 has something to call) but Reduce always
// returns no candidates.
func New(branches *branchstore.Store, log *logrus.Logger, enableMerges, avoidFullyReverted bool, optional *OptionalGlobs, ignoreAt map[int]map[string]bool) *Reducer {
	return &Reducer{
		enabled:            enableMerges,
		avoidFullyReverted: avoidFullyReverted,
		optional:           optional,
		ignoreAt:           ignoreAt,
		branches:           branches,
		log:                log,
		touched:            make(map[string]*ascendingRevs),
		everMerged:         make(map[string]map[string]stage1.RevSet),
	}
}

// NoteTouch records that branchID received a commit at rev. Stage 2
// must call this for every record, in SVN order, before calling Reduce
// for any later record -- it is how the Reducer learns each branch's own
// revision history for the range-contiguity test.
func (r *Reducer) NoteTouch(branchID string, rev int) {
	a, ok := r.touched[branchID]
	if !ok {
		a = &ascendingRevs{}
		r.touched[branchID] = a
	}
	a.add(rev)
}

// Forget drops all per-branch state for branchID, both as a merge target
// and as a source. Called when a branch is recreated from scratch after
// deletion: the new incarnation's history is unrelated to the old one,
// so neither the old touched-revision set nor any prior merge accounting
// may leak into it.
func (r *Reducer) Forget(branchID string) {
	delete(r.touched, branchID)
	delete(r.everMerged, branchID)
	for _, bySource := range r.everMerged {
		delete(bySource, branchID)
	}
}

// Reduce turns one record's AggregatedMergeinfoDelta into candidates:
// clip each source range to [1, rec.SvnRev-1], resolve sources against
// the Branch Store, group by source branch, and classify each group as
// merge or cherry-pick. hasContentChange reports, per source path,
// whether this record also carries a real file change -- needed for the
// merge-optional downgrade.
func (r *Reducer) Reduce(rec stage1.Record, hasContentChange func(sourcePath string) bool) []Candidate {
	if !r.enabled || len(rec.AggregatedMergeinfoDelta) == 0 {
		return nil
	}

	type group struct {
		sourceBranchID string
		revs           []int
		forced         bool // at least one contributing path is not merge-optional, or is optional but has a real content change
	}
	groups := make(map[string]*group)

	// The delta is downgraded to optional only when every branch-relative
	// path that contributed mergeinfo matches a merge-optional glob; a
	// downgraded delta still forces a merge when real file changes rode
	// along.
	allOptional := len(rec.MergeinfoPaths) > 0
	for _, p := range rec.MergeinfoPaths {
		if !r.optional.Matches(p) {
			allOptional = false
			break
		}
	}

	for srcPath, delta := range rec.AggregatedMergeinfoDelta {
		forced := !allOptional || hasContentChange(srcPath)

		clipped := delta.Clip(1, rec.SvnRev-1)
		clipped.Each(func(srcRev int) {
			if r.ignoreAt[rec.SvnRev][srcPath] {
				return
			}
			srcBranch, ok := r.branches.FindBySvnPath(srcPath, srcRev)
			if !ok {
				r.log.WithField("svn_rev", rec.SvnRev).Warnf("mergeinfo source %q not resolved to a branch; dropping candidate", srcPath)
				return
			}
			if srcBranch.ID == rec.BranchID {
				return // self-merge noise
			}
			g, ok := groups[srcBranch.ID]
			if !ok {
				g = &group{sourceBranchID: srcBranch.ID}
				groups[srcBranch.ID] = g
			}
			g.revs = append(g.revs, srcRev)
			g.forced = g.forced || forced
		})
	}

	var out []Candidate
	for _, g := range groups {
		if !g.forced {
			// Every contributing path was merge-optional and none carried
			// a real content change, so this group alone never forces a
			// merge parent.
			continue
		}

		revSet := stage1.FromInts(g.revs)
		if r.avoidFullyReverted {
			prior := r.everMerged[rec.BranchID][g.sourceBranchID]
			revSet = revSet.Sub(prior)
			if revSet.IsEmpty() {
				continue
			}
		}

		maxRev, ok := revSet.Max()
		if !ok {
			continue
		}
		branchHistory := r.touched[g.sourceBranchID].upTo(maxRev)
		kind := KindCherrypick
		if revSet.Equal(branchHistory) {
			kind = KindMerge
		}
		out = append(out, Candidate{SourceBranchID: g.sourceBranchID, SourceSvnRev: maxRev, Kind: kind})

		if r.avoidFullyReverted {
			byTarget, ok := r.everMerged[rec.BranchID]
			if !ok {
				byTarget = make(map[string]stage1.RevSet)
				r.everMerged[rec.BranchID] = byTarget
			}
			byTarget[g.sourceBranchID] = byTarget[g.sourceBranchID].Union(revSet)
		}
	}
	return out
}

// ascendingRevs tracks one branch's own touched-revision history for the
// contiguity test in Reduce.
type ascendingRevs struct {
	revs []int
}

func (a *ascendingRevs) add(rev int) {
	a.revs = append(a.revs, rev)
}

func (a *ascendingRevs) upTo(maxRev int) stage1.RevSet {
	if a == nil {
		return stage1.RevSet{}
	}
	var filtered []int
	for _, r := range a.revs {
		if r <= maxRev {
			filtered = append(filtered, r)
		}
	}
	return stage1.FromInts(filtered)
}
