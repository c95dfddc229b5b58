package treeversion

import "context"

// Repository persists program tree versions.
type Repository interface {
	// Get returns ErrTreeVersionNotFound when absent.
	Get(ctx context.Context, id Identity) (*ProgramTreeVersion, error)

	// Create returns ErrTreeVersionAlreadyExists when the identity is taken.
	Create(ctx context.Context, v *ProgramTreeVersion) (Identity, error)

	Update(ctx context.Context, v *ProgramTreeVersion) (Identity, error)

	// Delete removes the version record only; its tree is left to the caller.
	Delete(ctx context.Context, id Identity) error

	// GetLastInPast returns the most recent version with the same acronym,
	// name and transition flag strictly before id.Year.
	GetLastInPast(ctx context.Context, id Identity) (*ProgramTreeVersion, error)

	// SearchAllVersionsFromRoot returns every version whose tree has the given root.
	SearchAllVersionsFromRoot(ctx context.Context, rootCode string, year int) ([]*ProgramTreeVersion, error)
}
