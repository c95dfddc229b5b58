package memory

import (
	"context"
	"fmt"

	"github.com/osis-hub/program-hub/internal/domain/prerequisite"
	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
)

// ProgramTreeRepository implements programtree.Repository.
type ProgramTreeRepository struct {
	store *Store
}

// NewProgramTreeRepository creates a repository over store.
func NewProgramTreeRepository(store *Store) *ProgramTreeRepository {
	return &ProgramTreeRepository{store: store}
}

// Get implements programtree.Repository.
func (r *ProgramTreeRepository) Get(ctx context.Context, id programtree.TreeIdentity) (*programtree.ProgramTree, error) {
	var tree *programtree.ProgramTree
	err := r.store.run(ctx, func(st *state) error {
		rootID, ok := st.nodeByCode[nodeKey{id.Code, id.Year}]
		if !ok {
			return shared.ErrProgramTreeNotFound
		}
		tree = loadTree(st, rootID)
		return nil
	})
	return tree, err
}

// GetByNodeID implements programtree.Repository.
func (r *ProgramTreeRepository) GetByNodeID(ctx context.Context, nodeID int64) (*programtree.ProgramTree, error) {
	var tree *programtree.ProgramTree
	err := r.store.run(ctx, func(st *state) error {
		if _, ok := st.nodes[nodeID]; !ok {
			return shared.ErrProgramTreeNotFound
		}
		tree = loadTree(st, nodeID)
		return nil
	})
	return tree, err
}

func loadTree(st *state, rootID int64) *programtree.ProgramTree {
	records := adjacencyList(st, []int64{rootID})
	nodes := make(map[int64]*programtree.Node, len(records)+1)
	for _, rec := range records {
		for _, id := range []int64{rec.ParentID, rec.ChildID} {
			if _, ok := nodes[id]; !ok {
				nodes[id] = st.nodes[id].toNode()
			}
		}
	}
	root := st.nodes[rootID].toNode()
	tree := programtree.BuildTree(root, records, nodes)

	prerequisites := make(map[prerequisite.Item]*prerequisite.Prerequisite)
	for key, expr := range st.prerequisites {
		if key.RootID != rootID {
			continue
		}
		p, err := prerequisite.FromExpression(expr, key.Year)
		if err != nil {
			continue
		}
		prerequisites[prerequisite.Item{Code: key.Code, Year: key.Year}] = p
	}
	tree.LoadPrerequisites(prerequisites)
	return tree
}

// Create implements programtree.Repository.
func (r *ProgramTreeRepository) Create(ctx context.Context, tree *programtree.ProgramTree) (programtree.TreeIdentity, error) {
	err := r.store.run(ctx, func(st *state) error {
		if tree.Root.ID == 0 {
			if _, taken := st.nodeByCode[nodeKey{tree.Root.Code, tree.Root.Year}]; taken {
				return shared.ErrNodeAlreadyExists
			}
		}
		return persistTree(st, tree, tree.AllNodes(nil))
	})
	if err != nil {
		return programtree.TreeIdentity{}, err
	}
	tree.MarkPersisted()
	return tree.Identity(), nil
}

// Update implements programtree.Repository.
func (r *ProgramTreeRepository) Update(ctx context.Context, tree *programtree.ProgramTree) (programtree.TreeIdentity, error) {
	err := r.store.run(ctx, func(st *state) error {
		return persistTree(st, tree, tree.ChangedNodes())
	})
	if err != nil {
		return programtree.TreeIdentity{}, err
	}
	tree.MarkPersisted()
	return tree.Identity(), nil
}

// persistTree writes unsaved nodes, then the link diff of every changed
// parent, then the changed prerequisites.
func persistTree(st *state, tree *programtree.ProgramTree, changed []*programtree.Node) error {
	for _, n := range tree.AllNodes(func(n *programtree.Node) bool { return n.ID == 0 }) {
		if _, taken := st.nodeByCode[nodeKey{n.Code, n.Year}]; taken {
			return fmt.Errorf("%w: %s", shared.ErrNodeAlreadyExists, n)
		}
		n.ID = st.insertNode(rowFromNode(n)).ID
	}

	for _, parent := range changed {
		for _, l := range parent.RemovedLinks() {
			if row, ok := st.findLink(parent.ID, l.Child.ID); ok {
				st.deleteLink(row.ID)
			}
		}
		for _, l := range parent.Children() {
			if !l.IsChanged() {
				continue
			}
			row := linkRow{ID: l.ID, ParentID: parent.ID, ChildID: l.Child.ID, Order: l.Order, Attrs: l.LinkAttributes}
			if l.ID == 0 {
				if _, exists := st.findLink(parent.ID, l.Child.ID); exists {
					return shared.WrapError("programtree", "Persist", shared.ErrConflict,
						fmt.Sprintf("%s is already attached under %s", l.Child.Code, parent.Code), shared.ErrDuplicateLinkPersisting)
				}
				l.ID = st.insertLink(row).ID
				continue
			}
			st.links[l.ID] = row
		}
	}

	rootID := tree.Root.ID
	for item, p := range tree.ChangedPrerequisites() {
		key := prerequisiteKey{RootID: rootID, Code: item.Code, Year: item.Year}
		if p.IsNull() {
			delete(st.prerequisites, key)
			continue
		}
		st.prerequisites[key] = p.String()
	}
	return nil
}

// SearchFromChildren implements programtree.Repository.
func (r *ProgramTreeRepository) SearchFromChildren(ctx context.Context, nodeIDs []int64, year *int) ([]*programtree.ProgramTree, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	var trees []*programtree.ProgramTree
	err := r.store.run(ctx, func(st *state) error {
		roots := rootList(st, programtree.RootQuery{ChildIDs: nodeIDs, Year: year, RootTypes: programtree.TopLevelTypes()})
		loaded := make(map[int64]bool)
		for _, rec := range roots {
			if loaded[rec.RootID] {
				continue
			}
			loaded[rec.RootID] = true
			trees = append(trees, loadTree(st, rec.RootID))
		}
		return nil
	})
	return trees, err
}
