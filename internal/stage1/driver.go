package stage1

import (
	"github.com/sirupsen/logrus"

	"github.com/eduardosm/svn2git/internal/branchstore"
	"github.com/eduardosm/svn2git/internal/classify"
	"github.com/eduardosm/svn2git/internal/dumprecord"
	"github.com/eduardosm/svn2git/internal/mirror"
	"github.com/eduardosm/svn2git/internal/propset"
	"github.com/eduardosm/svn2git/internal/xerrors"
)

// Driver is the Stage 1 Driver.
type Driver struct {
	classifier *classify.Classifier
	branches   *branchstore.Store
	mirror     *mirror.Mirror
	log        *logrus.Logger

	// priorMergeinfo[branchID][pathWithinBranch] is the last-seen
	// svn:mergeinfo for that path, used to diff new vs prior. Tracked
	// here, not in branchstore.Branch, because it's path-granular within
	// a branch, not a branch-level field.
	priorMergeinfo map[string]map[string]map[string]RevSet
}

// New constructs a Stage 1 Driver.
func New(classifier *classify.Classifier, branches *branchstore.Store, m *mirror.Mirror, log *logrus.Logger) *Driver {
	return &Driver{
		classifier:     classifier,
		branches:       branches,
		mirror:         m,
		log:            log,
		priorMergeinfo: make(map[string]map[string]map[string]RevSet),
	}
}

type branchWork struct {
	record Record
}

// ProcessRevision applies one SVN revision's node actions to the Mirror
// and Branch Store, and returns one Record per branch actually touched,
// in first-seen-branch-within-revision order.
func (d *Driver) ProcessRevision(rev dumprecord.Revision, nodes []dumprecord.Node) ([]Record, error) {
	work := make(map[string]*branchWork)
	var order []string

	touch := func(branchID string) *branchWork {
		w, ok := work[branchID]
		if !ok {
			w = &branchWork{record: Record{
				SvnRev:                   rev.Number,
				BranchID:                 branchID,
				Action:                   ActionModify,
				AggregatedMergeinfoDelta: make(map[string]RevSet),
			}}
			work[branchID] = w
			order = append(order, branchID)
		}
		return w
	}

	author, _ := rev.Props.Get(propset.Author)
	logMsg, _ := rev.Props.Get(propset.Log)
	date, _ := rev.Props.Get(propset.Date)

	for i := range nodes {
		node := &nodes[i]
		if err := d.applyToMirror(rev.Number, node); err != nil {
			return nil, xerrors.AtPath(xerrors.MalformedDump, rev.Number, node.Path, "%v", err)
		}

		class := d.classifier.Classify(node.Path)

		if node.Action == dumprecord.ActionDelete {
			d.handleDelete(rev.Number, node, class, touch)
			continue
		}

		if class.Unbranched {
			if node.Action == dumprecord.ActionAdd && node.CopyFrom != nil {
				if srcClass := d.classifier.Classify(node.CopyFrom.Path); !srcClass.Unbranched && srcClass.InSubPath == "" {
					// A plain add whose copy source is itself a branch
					// root creates a new branch rooted exactly here, even
					// though node.Path doesn't match a configured glob.
					d.createBranch(rev.Number, node, srcClass, work, touch)
					continue
				}
			}
			d.handleUnbranched(rev.Number, node, work, touch)
			continue
		}

		w := touch(class.BranchRoot)
		branchID := class.BranchRoot

		if class.InSubPath == "" && (node.Action == dumprecord.ActionAdd || node.Action == dumprecord.ActionReplace) {
			if node.Action == dumprecord.ActionReplace {
				if _, alive := d.branches.Get(class.BranchRoot); alive {
					d.killBranch(class.BranchRoot, rev.Number)
				}
			}
			d.createBranchAt(rev.Number, node, class, w)
			if node.Kind == dumprecord.KindDir {
				// The creation node's own properties (svn:mergeinfo set on
				// the copy, svn:ignore on the new root) belong to the
				// creating record.
				d.recordFileOrPropChange(w, node, "")
			}
			continue
		}

		if _, alive := d.branches.Get(branchID); !alive {
			// First touch under a branch root with no explicit creation
			// node (e.g. the dump adds files before the branch's own mkdir
			// was captured in this stream slice): create it implicitly.
			recreate := d.branches.Dead(branchID)
			if _, err := d.branches.Create(branchID, class.Kind, d.classifier.Rename(branchID, class.Kind)); err != nil {
				return nil, xerrors.AtPath(xerrors.RuntimeCollision, rev.Number, branchID, "%v", err)
			}
			w.record.Action = ActionCreate
			if recreate {
				w.record.Action = ActionRecreate
			}
		}

		d.recordFileOrPropChange(w, node, class.InSubPath)
	}

	d.mirror.Commit(rev.Number)

	var out []Record
	for _, id := range order {
		w := work[id]
		w.record.Author = string(author)
		w.record.LogMessage = string(logMsg)
		w.record.Timestamp = string(date)
		out = append(out, w.record)
	}
	return out, nil
}

func (d *Driver) applyToMirror(rev int, node *dumprecord.Node) error {
	switch node.Action {
	case dumprecord.ActionAdd, dumprecord.ActionReplace:
		if node.Action == dumprecord.ActionReplace {
			_ = d.mirror.Delete(node.Path) // best effort; replace implies prior existence
		}
		if node.CopyFrom != nil {
			if err := d.mirror.Copy(node.Path, node.CopyFrom.Path, node.CopyFrom.Rev); err != nil {
				return err
			}
			if len(node.PropsDelta) > 0 || node.Content != nil {
				return d.mirror.Change(node.Path, node.PropsDelta, node.Content, node.Content != nil)
			}
			return nil
		}
		kind := mirror.KindFile
		if node.Kind == dumprecord.KindDir {
			kind = mirror.KindDir
		} else if node.Kind == dumprecord.KindSymlink {
			kind = mirror.KindSymlink
		}
		return d.mirror.Add(node.Path, kind, node.PropsDelta.Apply(propset.New()), node.Content)
	case dumprecord.ActionChange:
		return d.mirror.Change(node.Path, node.PropsDelta, node.Content, node.Content != nil)
	case dumprecord.ActionDelete:
		return d.mirror.Delete(node.Path)
	}
	return nil
}

func (d *Driver) handleDelete(rev int, node *dumprecord.Node, class classify.Classification, touch func(string) *branchWork) {
	if class.Unbranched {
		if d.branches.Unbranched() != nil {
			w := touch("")
			w.record.FileChanges = append(w.record.FileChanges, FileChange{Path: node.Path, Deleted: true})
		}
		return
	}
	if class.InSubPath == "" {
		// Deletion of a branch root finalizes the Branch; a later add at
		// the same path starts a fresh, unrelated one.
		d.killBranch(class.BranchRoot, rev)
		return
	}
	w := touch(class.BranchRoot)
	w.record.FileChanges = append(w.record.FileChanges, FileChange{Path: class.InSubPath, Deleted: true})
}

// killBranch finalizes a branch and drops the per-branch mergeinfo
// diffing state with it. A recreation at the same path is a fresh,
// unrelated branch; diffing its first svn:mergeinfo against the dead
// incarnation's last-seen values would silently swallow the new
// branch's first merge candidates.
func (d *Driver) killBranch(id string, rev int) {
	d.branches.Kill(id, rev)
	delete(d.priorMergeinfo, id)
}

func (d *Driver) createBranchAt(rev int, node *dumprecord.Node, class classify.Classification, w *branchWork) {
	gitName := d.classifier.Rename(class.BranchRoot, class.Kind)
	isPartial := node.CopyFrom != nil && d.classifier.IsPartial(class.BranchRoot, class.Kind)

	recreate := d.branches.Dead(class.BranchRoot)
	b, err := d.branches.Create(class.BranchRoot, class.Kind, gitName)
	if err != nil {
		d.log.WithField("svn_rev", rev).Warnf("branch creation collision at %q: %v; treating as plain add", class.BranchRoot, err)
		w.record.Action = ActionModify
		return
	}
	w.record.Action = ActionCreate
	if recreate {
		w.record.Action = ActionRecreate
	}

	if node.CopyFrom == nil {
		return
	}

	// The copied subtree becomes the new branch's baseline: every file
	// under the copy source at the source revision is recorded as a file
	// change on the creating record.
	d.materializeCopy(w, node.CopyFrom.Path, node.CopyFrom.Rev, "")

	srcClass := d.classifier.Classify(node.CopyFrom.Path)
	if srcClass.Unbranched {
		d.log.WithField("svn_rev", rev).Warnf("copy source %q for new branch %q is not itself a branch; treating as plain add", node.CopyFrom.Path, class.BranchRoot)
		return
	}

	b.Origin = &branchstore.Origin{SourceBranchID: srcClass.BranchRoot, SourceSvnRev: node.CopyFrom.Rev}
	w.record.CopyOrigin = &CopyOrigin{SourceBranchID: srcClass.BranchRoot, SourceSvnRev: node.CopyFrom.Rev}
	w.record.ParentHint = &ParentHint{SourceBranchID: srcClass.BranchRoot, SourceSvnRev: node.CopyFrom.Rev}

	if isPartial && srcClass.InSubPath != "" {
		b.PartialSubPath = srcClass.InSubPath
		w.record.PartialSubPath = srcClass.InSubPath
	} else if isPartial && srcClass.InSubPath == "" {
		// Copy source is the source branch's own root: not actually
		// partial, which only applies when the copy root is a
		// sub-directory of the source.
	} else if !isPartial && srcClass.InSubPath != "" {
		d.log.WithField("svn_rev", rev).Warnf("branch %q created from a sub-directory copy but is not configured as partial; recording as an unclassified change", class.BranchRoot)
	}
}

func (d *Driver) createBranch(rev int, node *dumprecord.Node, srcClass classify.Classification, work map[string]*branchWork, touch func(string) *branchWork) {
	// A plain add whose destination matches no glob but whose copy source
	// is a classified branch. There is no destination glob match here, so
	// the new branch's identity is the add's own path, classified as the
	// same kind as its source.
	w := touch(node.Path)
	class := classify.Classification{BranchRoot: node.Path, Kind: srcClass.Kind}
	d.createBranchAt(rev, node, class, w)
}

func (d *Driver) handleUnbranched(rev int, node *dumprecord.Node, work map[string]*branchWork, touch func(string) *branchWork) {
	unbranched := d.branches.Unbranched()
	if unbranched == nil {
		d.log.WithField("svn_rev", rev).Debugf("dropping unbranched change at %q (no unbranched-name configured)", node.Path)
		return
	}
	w := touch("")
	d.recordFileOrPropChange(w, node, node.Path)
}

func (d *Driver) recordFileOrPropChange(w *branchWork, node *dumprecord.Node, inBranchPath string) {
	props := node.PropsDelta.Apply(propset.New())

	if node.Kind == dumprecord.KindDir {
		if node.CopyFrom != nil && node.Action != dumprecord.ActionChange {
			// A directory copied into an existing branch brings its whole
			// subtree along.
			d.materializeCopy(w, node.CopyFrom.Path, node.CopyFrom.Rev, inBranchPath)
		}
		if _, changed := node.PropsDelta[propset.Mergeinfo]; changed {
			d.accumulateMergeinfo(w, node.Path, inBranchPath, props)
		}
		if _, changed := node.PropsDelta[propset.Ignore]; changed {
			w.record.DirPropertyChanges = append(w.record.DirPropertyChanges, DirPropertyChange{Path: inBranchPath, Props: props})
		} else if _, changed := node.PropsDelta[propset.GlobalIgnores]; changed {
			w.record.DirPropertyChanges = append(w.record.DirPropertyChanges, DirPropertyChange{Path: inBranchPath, Props: props})
		}
		return
	}

	// The Mirror has already applied this node action, so its view of the
	// path carries the accumulated properties -- a content-only change
	// must not drop an executable bit or symlink-ness set in an earlier
	// revision, which the bare delta would.
	kind := mirror.KindFile
	if node.Kind == dumprecord.KindSymlink {
		kind = mirror.KindSymlink
	}
	executable := false
	var content *mirror.ContentRef
	if node.Content != nil {
		content = &mirror.ContentRef{Bytes: node.Content}
	}
	if n, ok := d.mirror.Get(node.Path); ok {
		kind = n.Kind()
		_, executable = n.Props().Get(propset.Executable)
		if content == nil {
			content = n.Content()
		}
	}
	w.record.FileChanges = append(w.record.FileChanges, FileChange{
		Path:       inBranchPath,
		Kind:       kind,
		Executable: executable,
		Content:    content,
	})
}

// materializeCopy walks the copy source's subtree in the snapshot for
// srcRev and records every file as a change at the equivalent
// branch-relative path under prefix.
func (d *Driver) materializeCopy(w *branchWork, srcPath string, srcRev int, prefix string) {
	root, ok := d.mirror.GetAt(srcPath, srcRev)
	if !ok {
		d.log.WithField("svn_rev", w.record.SvnRev).Warnf("copy source %s@%d not retained; branch baseline will be empty", srcPath, srcRev)
		return
	}
	var walk func(n *mirror.Node, rel string)
	walk = func(n *mirror.Node, rel string) {
		if n.Kind() == mirror.KindDir {
			if rel != "" && (n.Props().Has(propset.Ignore) || n.Props().Has(propset.GlobalIgnores)) {
				w.record.DirPropertyChanges = append(w.record.DirPropertyChanges, DirPropertyChange{Path: rel, Props: n.Props()})
			}
			for _, name := range n.SortedChildNames() {
				child, _ := n.Child(name)
				walk(child, joinRel(rel, name))
			}
			return
		}
		_, executable := n.Props().Get(propset.Executable)
		w.record.FileChanges = append(w.record.FileChanges, FileChange{
			Path:       rel,
			Kind:       n.Kind(),
			Executable: executable,
			Content:    n.Content(),
		})
	}
	if root.Kind() != mirror.KindDir {
		_, executable := root.Props().Get(propset.Executable)
		w.record.FileChanges = append(w.record.FileChanges, FileChange{Path: prefix, Kind: root.Kind(), Executable: executable, Content: root.Content()})
		return
	}
	walk(root, prefix)
}

func joinRel(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (d *Driver) accumulateMergeinfo(w *branchWork, fullPath, inBranchPath string, props propset.Set) {
	raw, _ := props.Get(propset.Mergeinfo)
	newInfo, err := ParseMergeinfo(raw)
	if err != nil {
		d.log.Warnf("unparseable svn:mergeinfo at %q: %v", fullPath, err)
		return
	}

	w.record.MergeinfoPaths = append(w.record.MergeinfoPaths, inBranchPath)

	branchPrior := d.priorMergeinfo[w.record.BranchID]
	if branchPrior == nil {
		branchPrior = make(map[string]map[string]RevSet)
		d.priorMergeinfo[w.record.BranchID] = branchPrior
	}
	prior := branchPrior[inBranchPath]

	for src, newRS := range newInfo {
		var oldRS RevSet
		if prior != nil {
			oldRS = prior[src]
		}
		delta := newRS.Sub(oldRS)
		if delta.IsEmpty() {
			continue
		}
		if existing, ok := w.record.AggregatedMergeinfoDelta[src]; ok {
			w.record.AggregatedMergeinfoDelta[src] = existing.Union(delta)
		} else {
			w.record.AggregatedMergeinfoDelta[src] = delta
		}
	}

	if prior == nil {
		prior = make(map[string]RevSet)
	}
	for src, rs := range newInfo {
		prior[src] = rs
	}
	branchPrior[inBranchPath] = prior
}
