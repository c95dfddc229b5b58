package memory

import (
	"context"
	"sort"
	"strconv"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
)

// LinkStore answers adjacency queries with breadth-first worklists over the
// store's link indexes.
type LinkStore struct {
	store *Store
}

// NewLinkStore creates a LinkStore.
func NewLinkStore(store *Store) *LinkStore {
	return &LinkStore{store: store}
}

type workItem struct {
	nodeID int64
	level  int
	path   string
}

// AdjacencyList implements programtree.LinkStore.
func (ls *LinkStore) AdjacencyList(ctx context.Context, rootIDs []int64) ([]programtree.AdjacencyRecord, error) {
	var records []programtree.AdjacencyRecord
	err := ls.store.run(ctx, func(st *state) error {
		records = adjacencyList(st, rootIDs)
		return nil
	})
	return records, err
}

func adjacencyList(st *state, rootIDs []int64) []programtree.AdjacencyRecord {
	var records []programtree.AdjacencyRecord
	for _, rootID := range uniqueSorted(rootIDs) {
		visited := make(map[int64]bool) // link ids expanded from this root
		queue := []workItem{{nodeID: rootID, level: -1, path: strconv.FormatInt(rootID, 10)}}
		for len(queue) > 0 {
			item := queue[0]
			queue = queue[1:]
			for _, l := range st.childLinks(item.nodeID) {
				if visited[l.ID] {
					continue
				}
				child, ok := st.nodes[l.ChildID]
				if !ok {
					continue
				}
				if child.Type.IsLearningUnit() && !child.HasContainer {
					continue
				}
				visited[l.ID] = true
				path := item.path + programtree.PathSeparator + strconv.FormatInt(l.ChildID, 10)
				records = append(records, programtree.AdjacencyRecord{
					LinkID:         l.ID,
					StartingNodeID: rootID,
					ParentID:       l.ParentID,
					ChildID:        l.ChildID,
					Level:          item.level + 1,
					Order:          l.Order,
					Path:           path,
					Attributes:     l.Attrs,
				})
				queue = append(queue, workItem{nodeID: l.ChildID, level: item.level + 1, path: path})
			}
		}
	}
	programtree.SortAdjacency(records)
	return records
}

// ReverseAdjacencyList implements programtree.LinkStore.
func (ls *LinkStore) ReverseAdjacencyList(ctx context.Context, q programtree.ReverseQuery) ([]programtree.AdjacencyRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var records []programtree.AdjacencyRecord
	err := ls.store.run(ctx, func(st *state) error {
		for _, startID := range uniqueSorted(q.ChildIDs) {
			visited := make(map[int64]bool)
			queue := []workItem{{nodeID: startID, level: -1, path: strconv.FormatInt(startID, 10)}}
			for len(queue) > 0 {
				item := queue[0]
				queue = queue[1:]
				for _, l := range st.parentLinks(item.nodeID) {
					if visited[l.ID] {
						continue
					}
					if q.LinkType != nil && linkTypeOf(l) != *q.LinkType {
						continue
					}
					parent, ok := st.nodes[l.ParentID]
					if !ok {
						continue
					}
					if q.Year != nil && parent.Year != *q.Year {
						continue
					}
					visited[l.ID] = true
					path := item.path + programtree.PathSeparator + strconv.FormatInt(l.ParentID, 10)
					records = append(records, programtree.AdjacencyRecord{
						LinkID:         l.ID,
						StartingNodeID: startID,
						ParentID:       l.ParentID,
						ChildID:        l.ChildID,
						Level:          item.level + 1,
						Order:          l.Order,
						Path:           path,
						Attributes:     l.Attrs,
					})
					queue = append(queue, workItem{nodeID: l.ParentID, level: item.level + 1, path: path})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	programtree.SortReverseAdjacency(records)
	return records, nil
}

// RootList implements programtree.LinkStore.
func (ls *LinkStore) RootList(ctx context.Context, q programtree.RootQuery) ([]programtree.RootRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var out []programtree.RootRecord
	err := ls.store.run(ctx, func(st *state) error {
		out = rootList(st, q)
		return nil
	})
	return out, err
}

func rootList(st *state, q programtree.RootQuery) []programtree.RootRecord {
	var out []programtree.RootRecord
	for _, startID := range uniqueSorted(q.ChildIDs) {
		found := make(map[int64]bool)
		visited := make(map[int64]bool)
		queue := []int64{startID}
		for len(queue) > 0 {
			nodeID := queue[0]
			queue = queue[1:]
			for _, l := range st.parentLinks(nodeID) {
				if visited[l.ID] {
					continue
				}
				visited[l.ID] = true
				parent, ok := st.nodes[l.ParentID]
				if !ok {
					continue
				}
				if q.Year != nil && parent.Year != *q.Year {
					continue
				}
				if q.IsRootType(parent.Type) {
					if !found[parent.ID] {
						found[parent.ID] = true
						out = append(out, programtree.RootRecord{ChildID: startID, RootID: parent.ID})
					}
					continue
				}
				queue = append(queue, l.ParentID)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ChildID != out[j].ChildID {
			return out[i].ChildID < out[j].ChildID
		}
		return out[i].RootID < out[j].RootID
	})
	return out
}

func linkTypeOf(l linkRow) programtree.LinkType {
	if l.Attrs.LinkType == "" {
		return programtree.LinkTypeStandard
	}
	return l.Attrs.LinkType
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
