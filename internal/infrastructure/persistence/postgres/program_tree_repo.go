package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/osis-hub/program-hub/internal/domain/prerequisite"
	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRAM TREE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ProgramTreeRepository implements programtree.Repository. Writes are applied
// inside the transaction carried by ctx; callers wrap Create and Update with
// Connection.WithinTx.
type ProgramTreeRepository struct {
	conn          *Connection
	links         *LinkStore
	nodes         *NodeRepository
	prerequisites *PrerequisiteRepository
}

// NewProgramTreeRepository creates a new ProgramTreeRepository.
func NewProgramTreeRepository(conn *Connection) *ProgramTreeRepository {
	return &ProgramTreeRepository{
		conn:          conn,
		links:         NewLinkStore(conn),
		nodes:         NewNodeRepository(conn),
		prerequisites: NewPrerequisiteRepository(conn),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Loading
// ─────────────────────────────────────────────────────────────────────────────

// Get implements programtree.Repository.
func (r *ProgramTreeRepository) Get(ctx context.Context, id programtree.TreeIdentity) (*programtree.ProgramTree, error) {
	var rootID int64
	err := r.conn.QueryRow(ctx, `SELECT id FROM nodes WHERE code = $1 AND year = $2`, id.Code, id.Year).Scan(&rootID)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgramTreeNotFound
		}
		return nil, fmt.Errorf("failed to find tree root: %w", err)
	}
	return r.load(ctx, rootID)
}

// GetByNodeID implements programtree.Repository.
func (r *ProgramTreeRepository) GetByNodeID(ctx context.Context, nodeID int64) (*programtree.ProgramTree, error) {
	tree, err := r.load(ctx, nodeID)
	if shared.IsNotFound(err) {
		return nil, shared.ErrProgramTreeNotFound
	}
	return tree, err
}

func (r *ProgramTreeRepository) load(ctx context.Context, rootID int64) (*programtree.ProgramTree, error) {
	root, err := r.nodes.GetByID(ctx, rootID)
	if err != nil {
		return nil, err
	}

	records, err := r.links.AdjacencyList(ctx, []int64{rootID})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ChildID)
	}
	nodes, err := r.nodes.getMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	tree := programtree.BuildTree(root, records, nodes)

	prerequisites, err := r.prerequisites.SearchByTree(ctx, rootID)
	if err != nil {
		return nil, err
	}
	tree.LoadPrerequisites(prerequisites)
	return tree, nil
}

// SearchFromChildren implements programtree.Repository.
func (r *ProgramTreeRepository) SearchFromChildren(ctx context.Context, nodeIDs []int64, year *int) ([]*programtree.ProgramTree, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	roots, err := r.links.RootList(ctx, programtree.RootQuery{ChildIDs: nodeIDs, Year: year, RootTypes: programtree.TopLevelTypes()})
	if err != nil {
		return nil, err
	}

	loaded := make(map[int64]bool)
	var trees []*programtree.ProgramTree
	for _, rec := range roots {
		if loaded[rec.RootID] {
			continue
		}
		loaded[rec.RootID] = true
		tree, err := r.load(ctx, rec.RootID)
		if err != nil {
			return nil, err
		}
		trees = append(trees, tree)
	}
	return trees, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Writing
// ─────────────────────────────────────────────────────────────────────────────

// Create implements programtree.Repository.
func (r *ProgramTreeRepository) Create(ctx context.Context, tree *programtree.ProgramTree) (programtree.TreeIdentity, error) {
	err := r.conn.WithinTx(ctx, func(ctx context.Context) error {
		if tree.Root.ID == 0 {
			exists, err := r.nodes.CodeExists(ctx, tree.Root.Code, tree.Root.Year)
			if err != nil {
				return err
			}
			if exists {
				return shared.ErrNodeAlreadyExists
			}
		}
		return r.persist(ctx, tree, tree.AllNodes(nil))
	})
	if err != nil {
		return programtree.TreeIdentity{}, err
	}
	tree.MarkPersisted()
	return tree.Identity(), nil
}

// Update implements programtree.Repository.
func (r *ProgramTreeRepository) Update(ctx context.Context, tree *programtree.ProgramTree) (programtree.TreeIdentity, error) {
	err := r.conn.WithinTx(ctx, func(ctx context.Context) error {
		return r.persist(ctx, tree, tree.ChangedNodes())
	})
	if err != nil {
		return programtree.TreeIdentity{}, err
	}
	tree.MarkPersisted()
	return tree.Identity(), nil
}

// persist inserts unsaved nodes, applies the link diff of every changed
// parent, then writes the changed prerequisites.
func (r *ProgramTreeRepository) persist(ctx context.Context, tree *programtree.ProgramTree, changed []*programtree.Node) error {
	for _, n := range tree.AllNodes(func(n *programtree.Node) bool { return n.ID == 0 }) {
		if err := r.nodes.Save(ctx, n); err != nil {
			return err
		}
	}

	for _, parent := range changed {
		for _, l := range parent.RemovedLinks() {
			if _, err := r.conn.Exec(ctx, `DELETE FROM links WHERE parent_id = $1 AND child_id = $2`, parent.ID, l.Child.ID); err != nil {
				return fmt.Errorf("failed to delete link %s: %w", l, err)
			}
		}
		for _, l := range parent.Children() {
			if !l.IsChanged() {
				continue
			}
			if err := r.writeLink(ctx, parent, l); err != nil {
				return err
			}
		}
	}

	for item, p := range tree.ChangedPrerequisites() {
		if err := r.prerequisites.Save(ctx, tree.Root.ID, item, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *ProgramTreeRepository) writeLink(ctx context.Context, parent *programtree.Node, l *programtree.Link) error {
	var linkType *string
	if l.LinkType != "" {
		lt := string(l.LinkType)
		linkType = &lt
	}
	args := []any{
		parent.ID, l.Child.ID, l.Order,
		l.RelativeCredits, l.IsMandatory, int(l.Block), l.AccessCondition,
		l.Comment, l.CommentEnglish, linkType, l.QuadrimesterDerogation,
	}

	if l.ID == 0 {
		err := r.conn.QueryRow(ctx, `
			INSERT INTO links (
				parent_id, child_id, order_index,
				relative_credits, is_mandatory, block, access_condition,
				comment, comment_english, link_type, quadrimester_derogation
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`, args...).Scan(&l.ID)
		if err != nil {
			if IsUniqueViolation(err) {
				return shared.WrapError("programtree", "Persist", shared.ErrConflict,
					fmt.Sprintf("%s is already attached under %s", l.Child.Code, parent.Code), shared.ErrDuplicateLinkPersisting)
			}
			return fmt.Errorf("failed to insert link %s: %w", l, err)
		}
		return nil
	}

	_, err := r.conn.Exec(ctx, `
		UPDATE links SET
			parent_id = $1, child_id = $2, order_index = $3,
			relative_credits = $4, is_mandatory = $5, block = $6, access_condition = $7,
			comment = $8, comment_english = $9, link_type = $10, quadrimester_derogation = $11,
			updated_at = NOW()
		WHERE id = $12
	`, append(args, l.ID)...)
	if err != nil {
		return fmt.Errorf("failed to update link %s: %w", l, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// NODE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// NodeRepository implements programtree.NodeRepository.
type NodeRepository struct {
	conn *Connection
}

// NewNodeRepository creates a new NodeRepository.
func NewNodeRepository(conn *Connection) *NodeRepository {
	return &NodeRepository{conn: conn}
}

const nodeColumns = `id, code, year, title, node_type, end_year, credits, has_container`

// GetByID implements programtree.NodeRepository.
func (r *NodeRepository) GetByID(ctx context.Context, id int64) (*programtree.Node, error) {
	return scanNode(r.conn.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id))
}

// GetByCode implements programtree.NodeRepository.
func (r *NodeRepository) GetByCode(ctx context.Context, code string, year int) (*programtree.Node, error) {
	return scanNode(r.conn.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE code = $1 AND year = $2`, code, year))
}

func (r *NodeRepository) getMany(ctx context.Context, ids []int64) (map[int64]*programtree.Node, error) {
	out := make(map[int64]*programtree.Node, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.conn.Query(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out[n.ID] = n
	}
	return out, rows.Err()
}

// Save implements programtree.NodeRepository.
func (r *NodeRepository) Save(ctx context.Context, n *programtree.Node) error {
	if n.ID == 0 {
		err := r.conn.QueryRow(ctx, `
			INSERT INTO nodes (code, year, title, node_type, end_year, credits, has_container)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, n.Code, n.Year, n.Title, string(n.Type), n.EndYear, n.Credits, n.HasContainer).Scan(&n.ID)
		if err != nil {
			if IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s", shared.ErrNodeAlreadyExists, n)
			}
			return fmt.Errorf("failed to insert node %s: %w", n, err)
		}
		return nil
	}

	result, err := r.conn.Exec(ctx, `
		UPDATE nodes SET
			code = $1, year = $2, title = $3, node_type = $4,
			end_year = $5, credits = $6, has_container = $7, updated_at = NOW()
		WHERE id = $8
	`, n.Code, n.Year, n.Title, string(n.Type), n.EndYear, n.Credits, n.HasContainer, n.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", shared.ErrNodeAlreadyExists, n)
		}
		return fmt.Errorf("failed to update node %s: %w", n, err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrNodeNotFound
	}
	return nil
}

// CodeExists implements programtree.NodeRepository.
func (r *NodeRepository) CodeExists(ctx context.Context, code string, year int) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM nodes WHERE code = $1 AND year = $2)`, code, year).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check node code: %w", err)
	}
	return exists, nil
}

// ElementIDsByYear implements programtree.NodeRepository.
func (r *NodeRepository) ElementIDsByYear(ctx context.Context, ids []int64) (map[int64]map[int]int64, error) {
	out := make(map[int64]map[int]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.conn.Query(ctx, `
		SELECT src.id, other.year, other.id
		FROM nodes src
		JOIN nodes other ON other.code = src.code
		WHERE src.id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query node years: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var srcID, otherID int64
		var year int
		if err := rows.Scan(&srcID, &year, &otherID); err != nil {
			return nil, fmt.Errorf("failed to scan node year: %w", err)
		}
		if out[srcID] == nil {
			out[srcID] = make(map[int]int64)
		}
		out[srcID][year] = otherID
	}
	return out, rows.Err()
}

func scanNode(row pgx.Row) (*programtree.Node, error) {
	var (
		id           int64
		code, title  string
		year         int
		nodeType     string
		endYear      *int
		credits      *int
		hasContainer bool
	)
	if err := row.Scan(&id, &code, &year, &title, &nodeType, &endYear, &credits, &hasContainer); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNodeNotFound
		}
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}
	n := programtree.NewNode(id, code, year, title, programtree.NodeType(nodeType))
	n.EndYear = endYear
	n.Credits = credits
	n.HasContainer = hasContainer
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PREREQUISITE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// PrerequisiteRepository implements prerequisite.Repository. Expressions are
// stored in their canonical English rendering.
type PrerequisiteRepository struct {
	conn *Connection
}

// NewPrerequisiteRepository creates a new PrerequisiteRepository.
func NewPrerequisiteRepository(conn *Connection) *PrerequisiteRepository {
	return &PrerequisiteRepository{conn: conn}
}

// Get implements prerequisite.Repository.
func (r *PrerequisiteRepository) Get(ctx context.Context, treeRootID int64, lu prerequisite.Item) (*prerequisite.Prerequisite, error) {
	var expr string
	err := r.conn.QueryRow(ctx, `
		SELECT expression FROM prerequisites WHERE root_id = $1 AND code = $2 AND year = $3
	`, treeRootID, lu.Code, lu.Year).Scan(&expr)
	if err != nil && !IsNoRows(err) {
		return nil, fmt.Errorf("failed to get prerequisite: %w", err)
	}
	return prerequisite.FromExpression(expr, lu.Year)
}

// SearchByTree implements prerequisite.Repository.
func (r *PrerequisiteRepository) SearchByTree(ctx context.Context, treeRootID int64) (map[prerequisite.Item]*prerequisite.Prerequisite, error) {
	rows, err := r.conn.Query(ctx, `SELECT code, year, expression FROM prerequisites WHERE root_id = $1`, treeRootID)
	if err != nil {
		return nil, fmt.Errorf("failed to query prerequisites: %w", err)
	}
	defer rows.Close()

	out := make(map[prerequisite.Item]*prerequisite.Prerequisite)
	for rows.Next() {
		var item prerequisite.Item
		var expr string
		if err := rows.Scan(&item.Code, &item.Year, &expr); err != nil {
			return nil, fmt.Errorf("failed to scan prerequisite: %w", err)
		}
		p, err := prerequisite.FromExpression(expr, item.Year)
		if err != nil {
			return nil, err
		}
		out[item] = p
	}
	return out, rows.Err()
}

// Save implements prerequisite.Repository.
func (r *PrerequisiteRepository) Save(ctx context.Context, treeRootID int64, lu prerequisite.Item, p *prerequisite.Prerequisite) error {
	if p.IsNull() {
		_, err := r.conn.Exec(ctx, `DELETE FROM prerequisites WHERE root_id = $1 AND code = $2 AND year = $3`, treeRootID, lu.Code, lu.Year)
		if err != nil {
			return fmt.Errorf("failed to delete prerequisite: %w", err)
		}
		return nil
	}
	_, err := r.conn.Exec(ctx, `
		INSERT INTO prerequisites (root_id, code, year, expression)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (root_id, code, year) DO UPDATE SET expression = EXCLUDED.expression, updated_at = NOW()
	`, treeRootID, lu.Code, lu.Year, p.String())
	if err != nil {
		return fmt.Errorf("failed to save prerequisite: %w", err)
	}
	return nil
}
