package programtree

import (
	"context"
	"sort"

	"github.com/osis-hub/program-hub/internal/domain/shared"
)

// AdjacencyRecord is one link reached by a recursive traversal of the link
// table. Path joins node ids from the starting node to ChildID (downward) or
// from the starting node up to ParentID (upward).
type AdjacencyRecord struct {
	LinkID         int64          `json:"link_id"`
	StartingNodeID int64          `json:"starting_node_id"`
	ParentID       int64          `json:"parent_id"`
	ChildID        int64          `json:"child_id"`
	Level          int            `json:"level"`
	Order          int            `json:"order"`
	Path           string         `json:"path"`
	Attributes     LinkAttributes `json:"attributes"`
}

// ReverseQuery filters an upward traversal.
type ReverseQuery struct {
	ChildIDs []int64
	Year     *int      // keep only parents of this academic year
	LinkType *LinkType // follow only links of this type
}

// Validate rejects unscoped traversals.
func (q ReverseQuery) Validate() error {
	if len(q.ChildIDs) == 0 {
		return shared.WrapError("programtree", "ReverseAdjacency", shared.ErrMissingQueryFilter, "child ids are required", nil)
	}
	return nil
}

// RootQuery filters a root-finding traversal.
type RootQuery struct {
	ChildIDs  []int64
	Year      *int
	RootTypes []NodeType // ascent stops at nodes of these types
}

// Validate rejects unscoped traversals.
func (q RootQuery) Validate() error {
	if len(q.ChildIDs) == 0 {
		return shared.WrapError("programtree", "RootList", shared.ErrMissingQueryFilter, "child ids are required", nil)
	}
	return nil
}

// IsRootType reports whether t stops the ascent.
func (q RootQuery) IsRootType(t NodeType) bool {
	for _, rt := range q.RootTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// RootRecord pairs a queried node with a top-level node containing it.
type RootRecord struct {
	ChildID int64 `json:"child_id"`
	RootID  int64 `json:"root_id"`
}

// LinkStore answers recursive queries over the persisted links without
// hydrating whole trees.
type LinkStore interface {
	// AdjacencyList returns every link reachable downward from rootIDs,
	// ordered by (starting node, level, order). Learning unit links without a
	// container year are excluded. Empty rootIDs yield an empty list.
	AdjacencyList(ctx context.Context, rootIDs []int64) ([]AdjacencyRecord, error)

	// ReverseAdjacencyList returns every link reachable upward from the
	// queried children, ordered by (starting node, level desc, order).
	ReverseAdjacencyList(ctx context.Context, q ReverseQuery) ([]AdjacencyRecord, error)

	// RootList returns (child, root) pairs, stopping each ascent at the first
	// node whose type is one of q.RootTypes.
	RootList(ctx context.Context, q RootQuery) ([]RootRecord, error)
}

// SortAdjacency orders downward records by (starting node, level, order, path).
func SortAdjacency(records []AdjacencyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.StartingNodeID != b.StartingNodeID {
			return a.StartingNodeID < b.StartingNodeID
		}
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.Path < b.Path
	})
}

// SortReverseAdjacency orders upward records by (starting node, level desc, order).
func SortReverseAdjacency(records []AdjacencyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.StartingNodeID != b.StartingNodeID {
			return a.StartingNodeID < b.StartingNodeID
		}
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.Path < b.Path
	})
}

// BuildTree assembles a tree from the adjacency list of root. nodes must hold
// every node id referenced by records. A node shared by several paths is
// materialized once and each (parent, child) link is created once.
func BuildTree(root *Node, records []AdjacencyRecord, nodes map[int64]*Node) *ProgramTree {
	nodes[root.ID] = root
	ordered := make([]AdjacencyRecord, len(records))
	copy(ordered, records)
	SortAdjacency(ordered)

	type pair struct{ parent, child int64 }
	seen := make(map[pair]bool)
	for _, r := range ordered {
		key := pair{r.ParentID, r.ChildID}
		if seen[key] {
			continue
		}
		parent, ok := nodes[r.ParentID]
		if !ok || parent.IsLearningUnit() {
			continue
		}
		child, ok := nodes[r.ChildID]
		if !ok {
			continue
		}
		seen[key] = true
		parent.children = append(parent.children, &Link{
			ID:             r.LinkID,
			Parent:         parent,
			Child:          child,
			Order:          r.Order,
			LinkAttributes: r.Attributes,
		})
	}
	for _, n := range nodes {
		sort.SliceStable(n.children, func(i, j int) bool { return n.children[i].Order < n.children[j].Order })
		for i, l := range n.children {
			l.Order = i
		}
	}
	return New(root)
}
