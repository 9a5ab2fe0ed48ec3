// Package refsfinal writes refs/heads/*, refs/tags/*, and HEAD once
// every intermediate record has been processed.
package refsfinal

import (
	"fmt"

	"github.com/eduardosm/svn2git/internal/branchstore"
	"github.com/eduardosm/svn2git/internal/classify"
)

// RefWriter is the pack writer's ref-writing surface.
type RefWriter interface {
	WriteRef(name, commitOid string) error
	WriteSymbolicRef(name, target string) error
}

// Options is the slice of the configuration the ref sweep needs.
type Options struct {
	KeepDeletedBranches bool
	KeepDeletedTags     bool
	Head                string // svn_path of the branch HEAD should track, "" for the Unbranched Branch
}

// Finalize writes every live (and, per KeepDeleted*, dead) Branch's ref,
// then resolves HEAD.
func Finalize(store *branchstore.Store, opts Options, w RefWriter) error {
	var headTarget string

	for _, b := range store.All() {
		if !b.Alive {
			keep := opts.KeepDeletedBranches
			if b.Kind == classify.KindTag {
				keep = opts.KeepDeletedTags
			}
			if !keep {
				continue
			}
		}
		if b.LastCommitOid == "" {
			continue // branch was created then deleted with no commits of its own
		}
		refName := "refs/heads/" + b.GitName
		if b.Kind == classify.KindTag {
			refName = "refs/tags/" + b.GitName
		}
		if err := w.WriteRef(refName, b.LastCommitOid); err != nil {
			return fmt.Errorf("writing %s: %w", refName, err)
		}
		if b.SvnPath == opts.Head {
			headTarget = refName
		}
	}

	if unbranched := store.Unbranched(); unbranched != nil && opts.Head == "" {
		if unbranched.LastCommitOid != "" {
			refName := "refs/heads/" + unbranched.GitName
			if err := w.WriteRef(refName, unbranched.LastCommitOid); err != nil {
				return fmt.Errorf("writing %s: %w", refName, err)
			}
			headTarget = refName
		}
	}

	if headTarget == "" {
		return fmt.Errorf("head=%q does not resolve to any converted branch; check the branches and head options", opts.Head)
	}
	return w.WriteSymbolicRef("HEAD", headTarget)
}
