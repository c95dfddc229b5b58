package programtree

// Unbounded is returned by MaxChildren when no maximum applies.
const Unbounded = -1

// RelationshipRules is the externally maintained catalogue of authorized
// parent/child type relationships.
type RelationshipRules interface {
	// IsAuthorized reports whether a child of type child may be attached under parent.
	IsAuthorized(parent, child NodeType) bool

	// MaxChildren returns the maximum number of children of type child under
	// parent, or Unbounded.
	MaxChildren(parent, child NodeType) int

	// MinChildren returns the minimum number of children of type child under parent.
	MinChildren(parent, child NodeType) int

	// MandatoryChildren lists the child types with a minimum of at least one,
	// in catalogue order.
	MandatoryChildren(parent NodeType) []NodeType
}

// ValidationRuleLookup resolves default or initial values of form fields,
// keyed by a field reference such as "COMMON_CORE.abbreviated_title".
type ValidationRuleLookup interface {
	Get(fieldReference string) (string, bool)
}
