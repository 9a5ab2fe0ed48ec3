// Package stage2 is the second half of the conversion engine: it turns
// each intermediate record into Git blob/tree/commit objects, consulting
// the Mergeinfo Reducer for merge parents and the Object Cache to avoid
// re-emitting unchanged subtrees.
package stage2

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/eduardosm/svn2git/internal/branchstore"
	"github.com/eduardosm/svn2git/internal/gitobj"
	"github.com/eduardosm/svn2git/internal/gitignore"
	"github.com/eduardosm/svn2git/internal/mergeinfo"
	"github.com/eduardosm/svn2git/internal/mirror"
	"github.com/eduardosm/svn2git/internal/objcache"
	"github.com/eduardosm/svn2git/internal/propset"
	"github.com/eduardosm/svn2git/internal/stage1"
	"github.com/eduardosm/svn2git/internal/usermap"

	"github.com/google/uuid"
)

// PackWriter is the collaborator that actually serializes objects.
// Stage 2 only ever needs to hand it finished objects.
type PackWriter interface {
	WriteBlob(*gitobj.Blob) error
	WriteTree(*gitobj.Tree) error
	WriteCommit(*gitobj.Commit) error
}

// treeNode is one mutable directory in a branch's working tree, kept
// across revisions and incrementally patched by FileChanges. Leaves
// carry a blob oid directly; this mirrors the Mirror's own Node shape
// (internal/mirror) but stays branch-local and Git-object-oriented
// rather than SVN-property-oriented.
type treeNode struct {
	isDir      bool
	mode       gitobj.Mode
	blobOid    gitobj.Oid
	children   map[string]*treeNode
	ignoreOwn  []byte // this directory's own svn:ignore, if set
	ignoreAll  []byte // this directory's own svn:global-ignores, if set
}

func newDirNode() *treeNode {
	return &treeNode{isDir: true, children: make(map[string]*treeNode)}
}

// Driver is the Stage 2 Driver.
type Driver struct {
	branches          *branchstore.Store
	reducer           *mergeinfo.Reducer
	cache             *objcache.Cache
	users             *usermap.Map
	writer            PackWriter
	log               *logrus.Logger
	generateGitignore bool
	deleteFilesGlobs  []string

	trees      map[string]*treeNode        // branchID -> root
	commitOids map[string]map[int]gitobj.Oid // branchID -> svn_rev -> commit oid (BranchRevMap)
}

// New constructs a Stage 2 Driver.
func New(branches *branchstore.Store, reducer *mergeinfo.Reducer, cache *objcache.Cache, users *usermap.Map, writer PackWriter, log *logrus.Logger, generateGitignore bool, deleteFilesGlobs []string) *Driver {
	return &Driver{
		branches:          branches,
		reducer:           reducer,
		cache:             cache,
		users:             users,
		writer:            writer,
		log:               log,
		generateGitignore: generateGitignore,
		deleteFilesGlobs:  deleteFilesGlobs,
		trees:             make(map[string]*treeNode),
		commitOids:        make(map[string]map[int]gitobj.Oid),
	}
}

func (d *Driver) treeFor(branchID string) *treeNode {
	t, ok := d.trees[branchID]
	if !ok {
		t = newDirNode()
		d.trees[branchID] = t
	}
	return t
}

// ProcessRecord converts one intermediate record into a commit,
// returning the commit oid it produced.
func (d *Driver) ProcessRecord(rec stage1.Record) (gitobj.Oid, error) {
	if rec.Action == stage1.ActionCreate || rec.Action == stage1.ActionRecreate {
		// A creation record carries its full baseline as file changes, so
		// the tree always starts empty; a recreation additionally severs
		// the new branch from the deleted incarnation's history.
		d.trees[rec.BranchID] = newDirNode()
		if rec.Action == stage1.ActionRecreate {
			delete(d.commitOids, rec.BranchID)
			d.reducer.Forget(rec.BranchID)
		}
	}
	root := d.treeFor(rec.BranchID)

	for _, fc := range rec.FileChanges {
		if isRejectedPath(fc.Path) {
			d.log.WithField("svn_rev", rec.SvnRev).Warnf("omitting .git-named path %q from the Git tree", fc.Path)
			continue
		}
		if d.matchesDeleteFiles(fc.Path) {
			removeFromTree(root, fc.Path)
			continue
		}
		if fc.Deleted {
			removeFromTree(root, fc.Path)
			continue
		}
		if err := d.applyFileChange(root, fc); err != nil {
			return "", err
		}
	}

	if d.generateGitignore {
		for _, dpc := range rec.DirPropertyChanges {
			d.applyIgnoreChange(root, dpc)
		}
	}

	treeOid, err := d.composeTree(root)
	if err != nil {
		return "", err
	}

	parents := d.resolveParents(rec)
	candidates := d.reducer.Reduce(rec, func(string) bool { return len(rec.FileChanges) > 0 })
	for _, c := range candidates {
		oid, ok := d.commitOidAtOrBefore(c.SourceBranchID, c.SourceSvnRev)
		if !ok {
			d.log.WithField("svn_rev", rec.SvnRev).Warnf("merge source %s@%d has no recorded commit; skipping merge parent", c.SourceBranchID, c.SourceSvnRev)
			continue
		}
		parents = appendUnique(parents, oid)
	}

	author := d.users.Resolve(rec.Author)
	sig := gitobj.Signature{Name: author.Name, Email: author.Email, When: svnDateToGitWhen(rec.Timestamp)}

	id := uuid.New()
	message := rec.LogMessage
	if !strings.HasSuffix(message, "\n") {
		message += "\n"
	}
	message += fmt.Sprintf("\nsvn2git-id: %s@%d\n", id.String(), rec.SvnRev)

	commit := gitobj.NewCommit(treeOid, parents, sig, sig, message)
	if err := d.writer.WriteCommit(commit); err != nil {
		return "", fmt.Errorf("writing commit for branch %s rev %d: %w", rec.BranchID, rec.SvnRev, err)
	}

	d.recordCommit(rec.BranchID, rec.SvnRev, commit.Oid)
	if b, ok := d.branches.Get(rec.BranchID); ok {
		b.LastTreeOid = string(treeOid)
		b.LastCommitOid = string(commit.Oid)
		b.LastRev = rec.SvnRev
	}
	d.reducer.NoteTouch(rec.BranchID, rec.SvnRev)

	return commit.Oid, nil
}

// commitOidAtOrBefore resolves (branch, rev) to the commit emitted for
// the largest revision on that branch not exceeding rev; SVN revisions
// are global, so a referenced revision often never touched the branch
// itself.
func (d *Driver) commitOidAtOrBefore(branchID string, rev int) (gitobj.Oid, bool) {
	byRev, ok := d.commitOids[branchID]
	if !ok {
		return "", false
	}
	best := latestPriorRev(byRev, rev+1)
	if best < 0 {
		return "", false
	}
	return byRev[best], true
}

func (d *Driver) recordCommit(branchID string, rev int, oid gitobj.Oid) {
	byRev, ok := d.commitOids[branchID]
	if !ok {
		byRev = make(map[int]gitobj.Oid)
		d.commitOids[branchID] = byRev
	}
	byRev[rev] = oid
}

// resolveParents picks the first parent: the branch's own prior commit
// if any, else (for a fresh or partial creation) the source branch's
// commit at the copy-from revision.
func (d *Driver) resolveParents(rec stage1.Record) []gitobj.Oid {
	if oid, ok := d.commitOidAtOrBefore(rec.BranchID, rec.SvnRev-1); ok {
		return []gitobj.Oid{oid}
	}
	if rec.ParentHint != nil {
		if oid, ok := d.commitOidAtOrBefore(rec.ParentHint.SourceBranchID, rec.ParentHint.SourceSvnRev); ok {
			return []gitobj.Oid{oid}
		}
	}
	return nil
}

func latestPriorRev(byRev map[int]gitobj.Oid, before int) int {
	best := -1
	for r := range byRev {
		if r < before && r > best {
			best = r
		}
	}
	return best
}

func appendUnique(parents []gitobj.Oid, oid gitobj.Oid) []gitobj.Oid {
	for _, p := range parents {
		if p == oid {
			return parents
		}
	}
	return append(parents, oid)
}

func (d *Driver) applyFileChange(root *treeNode, fc stage1.FileChange) error {
	dir, name := navigateParent(root, fc.Path, true)
	mode := gitobj.ModeRegular
	switch {
	case fc.Kind == mirror.KindSymlink:
		mode = gitobj.ModeSymlink
	case fc.Executable:
		mode = gitobj.ModeExecutable
	}
	var content []byte
	if fc.Content != nil {
		content = fc.Content.Bytes
	}
	blob := gitobj.NewBlob(content)
	if err := d.writer.WriteBlob(blob); err != nil {
		return fmt.Errorf("writing blob for %q: %w", fc.Path, err)
	}
	dir.children[name] = &treeNode{isDir: false, mode: mode, blobOid: blob.Oid}
	d.cache.Put(blob.Oid, content)
	return nil
}

func removeFromTree(root *treeNode, p string) {
	dir, name := navigateParent(root, p, false)
	if dir == nil {
		return
	}
	delete(dir.children, name)
}

// navigateParent walks to p's parent directory, optionally creating
// missing intermediate directories, and returns it plus p's basename.
func navigateParent(root *treeNode, p string, create bool) (*treeNode, string) {
	comps := strings.Split(p, "/")
	dir := root
	for _, comp := range comps[:len(comps)-1] {
		child, ok := dir.children[comp]
		if !ok {
			if !create {
				return nil, ""
			}
			child = newDirNode()
			dir.children[comp] = child
		}
		dir = child
	}
	return dir, comps[len(comps)-1]
}

func (d *Driver) applyIgnoreChange(root *treeNode, dpc stage1.DirPropertyChange) {
	dir := root
	if dpc.Path != "" {
		for _, comp := range strings.Split(dpc.Path, "/") {
			child, ok := dir.children[comp]
			if !ok {
				child = newDirNode()
				dir.children[comp] = child
			}
			dir = child
		}
	}
	if v, ok := dpc.Props.Get(propset.Ignore); ok {
		dir.ignoreOwn = v
	}
	if v, ok := dpc.Props.Get(propset.GlobalIgnores); ok {
		dir.ignoreAll = v
	}
}

// matchesDeleteFiles applies the delete-files globs, which match the
// file's basename, not its full path.
func (d *Driver) matchesDeleteFiles(p string) bool {
	base := path.Base(p)
	for _, glob := range d.deleteFilesGlobs {
		if ok, _ := path.Match(glob, base); ok {
			return true
		}
	}
	return false
}

// isRejectedPath reports whether any component of p is named ".git";
// such paths cannot enter a Git tree.
func isRejectedPath(p string) bool {
	for _, comp := range strings.Split(p, "/") {
		if comp == ".git" {
			return true
		}
	}
	return false
}

// composeTree recursively builds Git tree objects bottom-up, synthesising
// a .gitignore entry per directory when configured, and consults/fills
// the Object Cache so a subtree repeated across many commits (e.g. an
// untouched vendor/ directory) is written once.
func (d *Driver) composeTree(n *treeNode) (gitobj.Oid, error) {
	var entries []gitobj.TreeEntry
	var names []string
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		child := n.children[name]
		if child.isDir {
			oid, err := d.composeTree(child)
			if err != nil {
				return "", err
			}
			entries = append(entries, gitobj.TreeEntry{Name: name, Mode: gitobj.ModeDir, Oid: oid})
		} else {
			entries = append(entries, gitobj.TreeEntry{Name: name, Mode: child.mode, Oid: child.blobOid})
		}
	}

	if d.generateGitignore {
		if content := gitignore.Synthesize(n.ignoreOwn, n.ignoreAll); content != nil {
			blob := gitobj.NewBlob(content)
			entries = appendOrReplace(entries, gitobj.TreeEntry{Name: ".gitignore", Mode: gitobj.ModeRegular, Oid: blob.Oid})
			if err := d.writer.WriteBlob(blob); err != nil {
				return "", err
			}
		}
	}

	tree := gitobj.NewTree(entries)
	if _, cached := d.cache.Get(tree.Oid); !cached {
		if err := d.writer.WriteTree(tree); err != nil {
			return "", err
		}
		d.cache.Put(tree.Oid, tree.Payload)
	}
	return tree.Oid, nil
}

func appendOrReplace(entries []gitobj.TreeEntry, e gitobj.TreeEntry) []gitobj.TreeEntry {
	for i, existing := range entries {
		if existing.Name == e.Name {
			entries[i] = e
			return entries
		}
	}
	return append(entries, e)
}

// svnDateToGitWhen converts an svn:date value ("2020-01-02T03:04:05.000000Z")
// to Git's "<unix-seconds> +0000" author/committer timestamp form. SVN
// dates are always UTC, so the offset is always +0000.
func svnDateToGitWhen(svnDate string) string {
	sec, ok := parseSvnDateSeconds(svnDate)
	if !ok {
		return "0 +0000"
	}
	return strconv.FormatInt(sec, 10) + " +0000"
}
