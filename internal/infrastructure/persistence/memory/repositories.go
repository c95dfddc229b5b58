package memory

import (
	"context"
	"sort"

	"github.com/osis-hub/program-hub/internal/domain/prerequisite"
	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/internal/domain/treeversion"
)

// ═══════════════════════════════════════════════════════════════════════════
// Nodes
// ═══════════════════════════════════════════════════════════════════════════

// NodeRepository implements programtree.NodeRepository.
type NodeRepository struct {
	store *Store
}

// NewNodeRepository creates a NodeRepository.
func NewNodeRepository(store *Store) *NodeRepository {
	return &NodeRepository{store: store}
}

// GetByID implements programtree.NodeRepository.
func (r *NodeRepository) GetByID(ctx context.Context, id int64) (*programtree.Node, error) {
	var node *programtree.Node
	err := r.store.run(ctx, func(st *state) error {
		row, ok := st.nodes[id]
		if !ok {
			return shared.ErrNodeNotFound
		}
		node = row.toNode()
		return nil
	})
	return node, err
}

// GetByCode implements programtree.NodeRepository.
func (r *NodeRepository) GetByCode(ctx context.Context, code string, year int) (*programtree.Node, error) {
	var node *programtree.Node
	err := r.store.run(ctx, func(st *state) error {
		id, ok := st.nodeByCode[nodeKey{code, year}]
		if !ok {
			return shared.ErrNodeNotFound
		}
		node = st.nodes[id].toNode()
		return nil
	})
	return node, err
}

// Save implements programtree.NodeRepository.
func (r *NodeRepository) Save(ctx context.Context, node *programtree.Node) error {
	return r.store.run(ctx, func(st *state) error {
		if id, taken := st.nodeByCode[nodeKey{node.Code, node.Year}]; taken && id != node.ID {
			return shared.ErrNodeAlreadyExists
		}
		if node.ID == 0 {
			node.ID = st.insertNode(rowFromNode(node)).ID
			return nil
		}
		if _, ok := st.nodes[node.ID]; !ok {
			return shared.ErrNodeNotFound
		}
		st.updateNode(rowFromNode(node))
		return nil
	})
}

// CodeExists implements programtree.NodeRepository.
func (r *NodeRepository) CodeExists(ctx context.Context, code string, year int) (bool, error) {
	var exists bool
	err := r.store.run(ctx, func(st *state) error {
		_, exists = st.nodeByCode[nodeKey{code, year}]
		return nil
	})
	return exists, err
}

// ElementIDsByYear implements programtree.NodeRepository.
func (r *NodeRepository) ElementIDsByYear(ctx context.Context, ids []int64) (map[int64]map[int]int64, error) {
	out := make(map[int64]map[int]int64, len(ids))
	err := r.store.run(ctx, func(st *state) error {
		byCode := make(map[string]map[int]int64)
		for _, row := range st.nodes {
			if byCode[row.Code] == nil {
				byCode[row.Code] = make(map[int]int64)
			}
			byCode[row.Code][row.Year] = row.ID
		}
		for _, id := range ids {
			row, ok := st.nodes[id]
			if !ok {
				continue
			}
			out[id] = byCode[row.Code]
		}
		return nil
	})
	return out, err
}

// ═══════════════════════════════════════════════════════════════════════════
// Tree versions
// ═══════════════════════════════════════════════════════════════════════════

// TreeVersionRepository implements treeversion.Repository.
type TreeVersionRepository struct {
	store *Store
}

// NewTreeVersionRepository creates a TreeVersionRepository.
func NewTreeVersionRepository(store *Store) *TreeVersionRepository {
	return &TreeVersionRepository{store: store}
}

// Get implements treeversion.Repository.
func (r *TreeVersionRepository) Get(ctx context.Context, id treeversion.Identity) (*treeversion.ProgramTreeVersion, error) {
	var v *treeversion.ProgramTreeVersion
	err := r.store.run(ctx, func(st *state) error {
		row, ok := st.versions[id]
		if !ok {
			return shared.ErrTreeVersionNotFound
		}
		v = &row
		return nil
	})
	return v, err
}

// Create implements treeversion.Repository.
func (r *TreeVersionRepository) Create(ctx context.Context, v *treeversion.ProgramTreeVersion) (treeversion.Identity, error) {
	err := r.store.run(ctx, func(st *state) error {
		if _, exists := st.versions[v.Identity]; exists {
			return shared.ErrTreeVersionAlreadyExists
		}
		st.versions[v.Identity] = *v
		return nil
	})
	return v.Identity, err
}

// Update implements treeversion.Repository.
func (r *TreeVersionRepository) Update(ctx context.Context, v *treeversion.ProgramTreeVersion) (treeversion.Identity, error) {
	err := r.store.run(ctx, func(st *state) error {
		if _, exists := st.versions[v.Identity]; !exists {
			return shared.ErrTreeVersionNotFound
		}
		st.versions[v.Identity] = *v
		return nil
	})
	return v.Identity, err
}

// Delete implements treeversion.Repository.
func (r *TreeVersionRepository) Delete(ctx context.Context, id treeversion.Identity) error {
	return r.store.run(ctx, func(st *state) error {
		if _, exists := st.versions[id]; !exists {
			return shared.ErrTreeVersionNotFound
		}
		delete(st.versions, id)
		return nil
	})
}

// GetLastInPast implements treeversion.Repository.
func (r *TreeVersionRepository) GetLastInPast(ctx context.Context, id treeversion.Identity) (*treeversion.ProgramTreeVersion, error) {
	var last *treeversion.ProgramTreeVersion
	err := r.store.run(ctx, func(st *state) error {
		for key, row := range st.versions {
			if key.OfferAcronym != id.OfferAcronym || key.VersionName != id.VersionName ||
				key.IsTransition != id.IsTransition || key.Year >= id.Year {
				continue
			}
			if last == nil || key.Year > last.Year {
				row := row
				last = &row
			}
		}
		if last == nil {
			return shared.ErrTreeVersionNotFound
		}
		return nil
	})
	return last, err
}

// SearchAllVersionsFromRoot implements treeversion.Repository.
func (r *TreeVersionRepository) SearchAllVersionsFromRoot(ctx context.Context, rootCode string, year int) ([]*treeversion.ProgramTreeVersion, error) {
	var out []*treeversion.ProgramTreeVersion
	err := r.store.run(ctx, func(st *state) error {
		for _, row := range st.versions {
			if row.Tree.Code == rootCode && row.Tree.Year == year {
				row := row
				out = append(out, &row)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.String() < out[j].Identity.String() })
	return out, err
}

// ═══════════════════════════════════════════════════════════════════════════
// Prerequisites
// ═══════════════════════════════════════════════════════════════════════════

// PrerequisiteRepository implements prerequisite.Repository. Expressions are
// stored as rendered text.
type PrerequisiteRepository struct {
	store *Store
}

// NewPrerequisiteRepository creates a PrerequisiteRepository.
func NewPrerequisiteRepository(store *Store) *PrerequisiteRepository {
	return &PrerequisiteRepository{store: store}
}

// Get implements prerequisite.Repository.
func (r *PrerequisiteRepository) Get(ctx context.Context, treeRootID int64, lu prerequisite.Item) (*prerequisite.Prerequisite, error) {
	var expr string
	err := r.store.run(ctx, func(st *state) error {
		expr = st.prerequisites[prerequisiteKey{RootID: treeRootID, Code: lu.Code, Year: lu.Year}]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prerequisite.FromExpression(expr, lu.Year)
}

// SearchByTree implements prerequisite.Repository.
func (r *PrerequisiteRepository) SearchByTree(ctx context.Context, treeRootID int64) (map[prerequisite.Item]*prerequisite.Prerequisite, error) {
	out := make(map[prerequisite.Item]*prerequisite.Prerequisite)
	err := r.store.run(ctx, func(st *state) error {
		for key, expr := range st.prerequisites {
			if key.RootID != treeRootID {
				continue
			}
			p, err := prerequisite.FromExpression(expr, key.Year)
			if err != nil {
				return err
			}
			out[prerequisite.Item{Code: key.Code, Year: key.Year}] = p
		}
		return nil
	})
	return out, err
}

// Save implements prerequisite.Repository.
func (r *PrerequisiteRepository) Save(ctx context.Context, treeRootID int64, lu prerequisite.Item, p *prerequisite.Prerequisite) error {
	return r.store.run(ctx, func(st *state) error {
		key := prerequisiteKey{RootID: treeRootID, Code: lu.Code, Year: lu.Year}
		if p.IsNull() {
			delete(st.prerequisites, key)
			return nil
		}
		st.prerequisites[key] = p.String()
		return nil
	})
}
