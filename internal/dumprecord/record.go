// Package dumprecord defines the typed records that flow from the dump
// decoder into the conversion core, and the Git emission primitives the
// core drives in return. Both sides are external-collaborator interfaces
// per the design's split between the core and its I/O boundaries: the core
// only ever sees these types, never raw dump bytes or pack bytes.
package dumprecord

import "github.com/eduardosm/svn2git/internal/propset"

// NodeAction is the kind of change a Node record describes.
type NodeAction int

const (
	ActionAdd NodeAction = iota
	ActionChange
	ActionDelete
	ActionReplace
)

func (a NodeAction) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionChange:
		return "change"
	case ActionDelete:
		return "delete"
	case ActionReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// NodeKind is the kind of filesystem entity a node describes.
type NodeKind int

const (
	KindFile NodeKind = iota
	KindDir
	KindSymlink
)

// CopyFrom identifies the source of a copy-from node action.
type CopyFrom struct {
	Path string
	Rev  int
}

// Revision introduces a new SVN revision in the dump stream.
type Revision struct {
	Number int
	Props  propset.Set
}

// Node describes one node change within the current revision.
type Node struct {
	Path       string
	Kind       NodeKind
	Action     NodeAction
	CopyFrom   *CopyFrom
	PropsDelta propset.Delta
	// Content is the fully assembled byte string for this node, or nil if
	// this node action is properties-only.
	Content []byte
}

// Record is the sum type the decoder emits: either a Revision header or one
// Node belonging to the revision most recently introduced.
type Record struct {
	Revision *Revision
	Node     *Node
}
