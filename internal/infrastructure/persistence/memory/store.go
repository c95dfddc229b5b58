// Package memory provides in-process implementations of the repositories,
// the link store and the transactor. It backs STORAGE_DRIVER=memory and the
// application tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/treeversion"
)

// nodeRow is the stored form of a node.
type nodeRow struct {
	ID           int64
	Code         string
	Year         int
	Title        string
	Type         programtree.NodeType
	EndYear      *int
	Credits      *int
	HasContainer bool
}

// linkRow is the stored form of a link.
type linkRow struct {
	ID       int64
	ParentID int64
	ChildID  int64
	Order    int
	Attrs    programtree.LinkAttributes
}

type prerequisiteKey struct {
	RootID int64
	Code   string
	Year   int
}

type nodeKey struct {
	Code string
	Year int
}

// state is everything a transaction may roll back.
type state struct {
	nextNodeID int64
	nextLinkID int64

	nodes      map[int64]nodeRow
	nodeByCode map[nodeKey]int64
	links      map[int64]linkRow
	children   map[int64][]int64 // parent id -> link ids
	parents    map[int64][]int64 // child id -> link ids

	versions      map[treeversion.Identity]treeversion.ProgramTreeVersion
	prerequisites map[prerequisiteKey]string
}

func newState() *state {
	return &state{
		nodes:         make(map[int64]nodeRow),
		nodeByCode:    make(map[nodeKey]int64),
		links:         make(map[int64]linkRow),
		children:      make(map[int64][]int64),
		parents:       make(map[int64][]int64),
		versions:      make(map[treeversion.Identity]treeversion.ProgramTreeVersion),
		prerequisites: make(map[prerequisiteKey]string),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextNodeID = s.nextNodeID
	c.nextLinkID = s.nextLinkID
	for k, v := range s.nodes {
		c.nodes[k] = v
	}
	for k, v := range s.nodeByCode {
		c.nodeByCode[k] = v
	}
	for k, v := range s.links {
		c.links[k] = v
	}
	for k, v := range s.children {
		c.children[k] = append([]int64(nil), v...)
	}
	for k, v := range s.parents {
		c.parents[k] = append([]int64(nil), v...)
	}
	for k, v := range s.versions {
		c.versions[k] = v
	}
	for k, v := range s.prerequisites {
		c.prerequisites[k] = v
	}
	return c
}

// Store is an in-memory relational store with parent->children and
// child->parents link indexes.
type Store struct {
	mu sync.Mutex
	st *state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{st: newState()}
}

type txKey struct{ store *Store }

// inTx reports whether ctx already holds the store lock through WithinTx.
func (s *Store) inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{s}).(bool)
	return v
}

// run executes fn with the store locked, unless ctx is inside WithinTx.
func (s *Store) run(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// WithinTx implements shared.Transactor. Changes made by fn are discarded
// when it returns an error or panics.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	defer func() {
		if p := recover(); p != nil {
			s.st = snapshot
			panic(p)
		}
		if err != nil {
			s.st = snapshot
		}
	}()
	return fn(context.WithValue(ctx, txKey{s}, true))
}

// ─────────────────────────────────────────────────────────────────────────────
// Row helpers
// ─────────────────────────────────────────────────────────────────────────────

func (s *state) insertNode(row nodeRow) nodeRow {
	s.nextNodeID++
	row.ID = s.nextNodeID
	s.nodes[row.ID] = row
	s.nodeByCode[nodeKey{row.Code, row.Year}] = row.ID
	return row
}

func (s *state) updateNode(row nodeRow) {
	old := s.nodes[row.ID]
	delete(s.nodeByCode, nodeKey{old.Code, old.Year})
	s.nodes[row.ID] = row
	s.nodeByCode[nodeKey{row.Code, row.Year}] = row.ID
}

func (s *state) findLink(parentID, childID int64) (linkRow, bool) {
	for _, id := range s.children[parentID] {
		if l := s.links[id]; l.ChildID == childID {
			return l, true
		}
	}
	return linkRow{}, false
}

func (s *state) insertLink(row linkRow) linkRow {
	s.nextLinkID++
	row.ID = s.nextLinkID
	s.links[row.ID] = row
	s.children[row.ParentID] = append(s.children[row.ParentID], row.ID)
	s.parents[row.ChildID] = append(s.parents[row.ChildID], row.ID)
	return row
}

func (s *state) deleteLink(id int64) {
	row, ok := s.links[id]
	if !ok {
		return
	}
	delete(s.links, id)
	s.children[row.ParentID] = removeID(s.children[row.ParentID], id)
	s.parents[row.ChildID] = removeID(s.parents[row.ChildID], id)
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// childLinks returns the links under parentID sorted by order.
func (s *state) childLinks(parentID int64) []linkRow {
	rows := make([]linkRow, 0, len(s.children[parentID]))
	for _, id := range s.children[parentID] {
		rows = append(rows, s.links[id])
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Order < rows[j].Order })
	return rows
}

// parentLinks returns the links above childID sorted by order.
func (s *state) parentLinks(childID int64) []linkRow {
	rows := make([]linkRow, 0, len(s.parents[childID]))
	for _, id := range s.parents[childID] {
		rows = append(rows, s.links[id])
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Order != rows[j].Order {
			return rows[i].Order < rows[j].Order
		}
		return rows[i].ParentID < rows[j].ParentID
	})
	return rows
}

func (r nodeRow) toNode() *programtree.Node {
	n := programtree.NewNode(r.ID, r.Code, r.Year, r.Title, r.Type)
	n.EndYear = r.EndYear
	n.Credits = r.Credits
	n.HasContainer = r.HasContainer
	return n
}

func rowFromNode(n *programtree.Node) nodeRow {
	return nodeRow{
		ID:           n.ID,
		Code:         n.Code,
		Year:         n.Year,
		Title:        n.Title,
		Type:         n.Type,
		EndYear:      n.EndYear,
		Credits:      n.Credits,
		HasContainer: n.HasContainer,
	}
}
