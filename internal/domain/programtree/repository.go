package programtree

import "context"

// Repository loads and persists program trees. Implementations take part in
// the transaction carried by ctx, if any.
type Repository interface {
	// Get loads the tree rooted at the node with the given identity.
	// Returns ErrProgramTreeNotFound if no such root exists.
	Get(ctx context.Context, id TreeIdentity) (*ProgramTree, error)

	// GetByNodeID loads the tree rooted at the node with the given storage id.
	GetByNodeID(ctx context.Context, nodeID int64) (*ProgramTree, error)

	// Create persists a new tree, assigning storage ids to unsaved nodes and links.
	// Returns ErrNodeAlreadyExists if the root identity is taken.
	Create(ctx context.Context, tree *ProgramTree) (TreeIdentity, error)

	// Update persists the created, updated and deleted links of the tree
	// against its last loaded state. A duplicate (parent, child) link is
	// reported as a conflict.
	Update(ctx context.Context, tree *ProgramTree) (TreeIdentity, error)

	// SearchFromChildren loads every top-level tree containing one of the nodes.
	SearchFromChildren(ctx context.Context, nodeIDs []int64, year *int) ([]*ProgramTree, error)
}

// NodeRepository reads and writes individual nodes.
type NodeRepository interface {
	GetByID(ctx context.Context, id int64) (*Node, error)
	GetByCode(ctx context.Context, code string, year int) (*Node, error)

	// Save inserts the node when its ID is 0 and updates it otherwise.
	Save(ctx context.Context, node *Node) error

	// CodeExists reports whether a node uses code in the given year.
	CodeExists(ctx context.Context, code string, year int) (bool, error)

	// ElementIDsByYear maps each id to the ids of the nodes sharing its code,
	// keyed by academic year.
	ElementIDsByYear(ctx context.Context, ids []int64) (map[int64]map[int]int64, error)
}
