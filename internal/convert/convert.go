// Package convert wires the full conversion pipeline together: dump
// records in, a populated bare repository out. It owns revision
// grouping, snapshot retention, cancellation, and the final ref sweep;
// the per-stage semantics live in their own packages.
package convert

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/eduardosm/svn2git/internal/branchstore"
	"github.com/eduardosm/svn2git/internal/classify"
	"github.com/eduardosm/svn2git/internal/config"
	"github.com/eduardosm/svn2git/internal/dump"
	"github.com/eduardosm/svn2git/internal/dumprecord"
	"github.com/eduardosm/svn2git/internal/mergeinfo"
	"github.com/eduardosm/svn2git/internal/mirror"
	"github.com/eduardosm/svn2git/internal/objcache"
	"github.com/eduardosm/svn2git/internal/progress"
	"github.com/eduardosm/svn2git/internal/propset"
	"github.com/eduardosm/svn2git/internal/refsfinal"
	"github.com/eduardosm/svn2git/internal/stage1"
	"github.com/eduardosm/svn2git/internal/stage2"
	"github.com/eduardosm/svn2git/internal/usermap"
	"github.com/eduardosm/svn2git/internal/xerrors"
)

// Emitter is the destination repository surface the pipeline drives.
type Emitter interface {
	stage2.PackWriter
	refsfinal.RefWriter
}

// Params collects everything Run needs beyond the input stream.
type Params struct {
	Opts       config.Options
	CacheBytes int64

	// Recoder handles legacy-charset svn:log / svn:author bytes; nil
	// means lossy UTF-8 replacement only.
	Recoder *dump.Recoder

	// Baton renders progress; nil disables rendering entirely.
	Baton *progress.Baton

	// LastCopyUse maps an SVN revision to the last revision whose
	// copy-from references it, from a pre-scan of a seekable dump.
	// Snapshots are released as soon as they pass their last use. Nil
	// (a non-seekable stream, so no pre-scan) retains all snapshots.
	LastCopyUse map[int]int
}

// buildClassifier compiles the user's glob/rename configuration.
func buildClassifier(opts config.Options) (*classify.Classifier, error) {
	c := classify.New()
	for _, pat := range opts.Branches {
		if err := c.AddGlob(pat, classify.KindBranch); err != nil {
			return nil, err
		}
	}
	for _, pat := range opts.Tags {
		if err := c.AddGlob(pat, classify.KindTag); err != nil {
			return nil, err
		}
	}
	for _, pat := range opts.PartialBranches {
		if err := c.AddPartial(pat, classify.KindBranch); err != nil {
			return nil, err
		}
	}
	for _, pat := range opts.PartialTags {
		if err := c.AddPartial(pat, classify.KindTag); err != nil {
			return nil, err
		}
	}
	for from, to := range opts.RenameBranches {
		if err := c.AddRename(from, to, classify.KindBranch); err != nil {
			return nil, err
		}
	}
	for from, to := range opts.RenameTags {
		if err := c.AddRename(from, to, classify.KindTag); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func loadUserMap(path string) (*usermap.Map, error) {
	if path == "" {
		return usermap.New(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ConfigError, err, "opening user-map-file")
	}
	defer f.Close()
	return usermap.Parse(f)
}

// Run drives one complete conversion. On cancellation it finishes the
// record in flight, sweeps refs over what was emitted so far, and
// returns the context's error; the resulting repository is consistent
// only up to the last fully processed revision.
func Run(ctx context.Context, r io.Reader, params Params, emit Emitter, log *logrus.Logger) error {
	opts := params.Opts

	classifier, err := buildClassifier(opts)
	if err != nil {
		return xerrors.Wrap(xerrors.ConfigError, err, "compiling branch/tag globs")
	}
	users, err := loadUserMap(opts.UserMapFile)
	if err != nil {
		return err
	}

	store := branchstore.New()
	if opts.UnbranchedName != "" {
		store.EnableUnbranched(opts.UnbranchedName)
	}

	var ignoreAt map[int]map[string]bool
	if len(opts.IgnoreMergesAt) > 0 {
		ignoreAt = make(map[int]map[string]bool, len(opts.IgnoreMergesAt))
		for rev, paths := range opts.IgnoreMergesAt {
			set := make(map[string]bool, len(paths))
			for _, p := range paths {
				set[p] = true
			}
			ignoreAt[rev] = set
		}
	}

	m := mirror.New()
	s1 := stage1.New(classifier, store, m, log)
	reducer := mergeinfo.New(store, log, opts.EnableMerges, opts.AvoidFullyRevertedMerges, mergeinfo.NewOptionalGlobs(opts.MergeOptional), ignoreAt)
	cache := objcache.New(params.CacheBytes)
	s2 := stage2.New(store, reducer, cache, users, emit, log, opts.GenerateGitignore, opts.DeleteFiles)

	if params.Baton != nil {
		params.Baton.StartPhase("converting revisions", 0)
		defer params.Baton.EndPhase()
	}

	dec := dump.NewDecoder(r)
	var pendingRev *dumprecord.Revision
	var pendingNodes []dumprecord.Node
	var retained []int
	var revCount uint64
	cancelled := false

	flush := func() error {
		if pendingRev == nil {
			return nil
		}
		rev := *pendingRev
		rev.Props = recodeRevProps(rev.Props, params.Recoder)

		// ProcessRevision commits the revision's mirror snapshot itself;
		// this loop only decides how long each snapshot stays retained.
		records, err := s1.ProcessRevision(rev, pendingNodes)
		if err != nil {
			return err
		}
		retained = append(retained, rev.Number)
		if params.LastCopyUse != nil {
			kept := retained[:0]
			for _, r := range retained {
				if params.LastCopyUse[r] > rev.Number {
					kept = append(kept, r)
				} else {
					m.Release(r)
				}
			}
			retained = kept
		}

		for _, rec := range records {
			if _, err := s2.ProcessRecord(rec); err != nil {
				return err
			}
			if ctx.Err() != nil {
				cancelled = true
				return nil
			}
		}
		revCount++
		if params.Baton != nil {
			params.Baton.Advance(revCount)
		}
		return nil
	}

	for !cancelled {
		rec, err := dec.Next()
		if err == io.EOF {
			if err := flush(); err != nil {
				return err
			}
			break
		}
		if err != nil {
			return xerrors.Wrap(xerrors.MalformedDump, err, "decoding dump stream")
		}
		switch {
		case rec.Revision != nil:
			if err := flush(); err != nil {
				return err
			}
			pendingRev = rec.Revision
			pendingNodes = pendingNodes[:0]
		case rec.Node != nil:
			if pendingRev == nil {
				return xerrors.New(xerrors.MalformedDump, "node record %q before any revision record", rec.Node.Path)
			}
			pendingNodes = append(pendingNodes, *rec.Node)
		}
	}

	if cancelled {
		log.Warn("cancelled mid-stream; finalizing refs over a partial conversion")
	}

	if err := refsfinal.Finalize(store, refsfinal.Options{
		KeepDeletedBranches: opts.KeepDeletedBranches,
		KeepDeletedTags:     opts.KeepDeletedTags,
		Head:                opts.Head,
	}, emit); err != nil {
		return err
	}
	if cancelled {
		return fmt.Errorf("conversion cancelled: %w", ctx.Err())
	}
	return nil
}

func recodeRevProps(props propset.Set, recoder *dump.Recoder) propset.Set {
	for _, name := range []string{propset.Author, propset.Log} {
		if v, ok := props.Get(name); ok {
			if recoded := recoder.Recode(v); string(recoded) != string(v) {
				props = props.Set(name, recoded)
			}
		}
	}
	return props
}

// ScanCopySources pre-reads a dump stream and reports, for each SVN
// revision referenced as a copy-from source, the last revision that
// references it. Only worth running when the input can be rewound.
func ScanCopySources(r io.Reader) (map[int]int, error) {
	dec := dump.NewDecoder(r)
	lastUse := make(map[int]int)
	currentRev := 0
	for {
		rec, err := dec.Next()
		if err == io.EOF {
			return lastUse, nil
		}
		if err != nil {
			return nil, err
		}
		switch {
		case rec.Revision != nil:
			currentRev = rec.Revision.Number
		case rec.Node != nil && rec.Node.CopyFrom != nil:
			lastUse[rec.Node.CopyFrom.Rev] = currentRev
		}
	}
}
