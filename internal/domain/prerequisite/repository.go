package prerequisite

import "context"

// Repository stores prerequisites per (tree root, learning unit).
// Implementations live in the infrastructure layer.
type Repository interface {
	// Get returns the prerequisite of a learning unit inside a tree.
	// It returns Null() when none is stored.
	Get(ctx context.Context, treeRootID int64, learningUnit Item) (*Prerequisite, error)

	// SearchByTree returns every non-null prerequisite of a tree.
	SearchByTree(ctx context.Context, treeRootID int64) (map[Item]*Prerequisite, error)

	// Save replaces the prerequisite of a learning unit. Saving a null
	// prerequisite deletes the stored one.
	Save(ctx context.Context, treeRootID int64, learningUnit Item, p *Prerequisite) error
}
