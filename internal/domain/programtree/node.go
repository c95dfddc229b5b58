package programtree

import (
	"fmt"
	"iter"
	"sort"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// Node types
// ═══════════════════════════════════════════════════════════════════════════

// Category groups node types into the four kinds of offerings.
type Category int

const (
	CategoryTraining Category = iota
	CategoryMiniTraining
	CategoryGroup
	CategoryLearningUnit
)

// String returns the string representation of the category.
func (c Category) String() string {
	switch c {
	case CategoryTraining:
		return "TRAINING"
	case CategoryMiniTraining:
		return "MINI_TRAINING"
	case CategoryGroup:
		return "GROUP"
	case CategoryLearningUnit:
		return "LEARNING_UNIT"
	default:
		return "UNKNOWN"
	}
}

// NodeType is the concrete type of an offering.
type NodeType string

// Trainings.
const (
	TypeBachelor             NodeType = "BACHELOR"
	TypeMaster120            NodeType = "PGRM_MASTER_120"
	TypeMaster60             NodeType = "PGRM_MASTER_60"
	TypeMasterMC             NodeType = "MASTER_MC"
	TypeAggregation          NodeType = "AGGREGATION"
	TypeCertificate          NodeType = "CERTIFICATE"
	TypeUniversityFirstCycle NodeType = "UNIVERSITY_FIRST_CYCLE_CERTIFICATE"
)

// Mini-trainings.
const (
	TypeOption                      NodeType = "OPTION"
	TypeDeepening                   NodeType = "DEEPENING"
	TypeFSASpeciality               NodeType = "FSA_SPECIALITY"
	TypeAccessMinor                 NodeType = "ACCESS_MINOR"
	TypeOpenMinor                   NodeType = "OPEN_MINOR"
	TypeDisciplinaryComplementMinor NodeType = "DISCIPLINARY_COMPLEMENT_MINOR"
	TypeSocleMinor                  NodeType = "SOCIETY_MINOR"
)

// Groups.
const (
	TypeCommonCore          NodeType = "COMMON_CORE"
	TypeFinalityListChoice  NodeType = "FINALITY_120_LIST_CHOICE"
	TypeOptionListChoice    NodeType = "OPTION_LIST_CHOICE"
	TypeMinorListChoice     NodeType = "MINOR_LIST_CHOICE"
	TypeMajorListChoice     NodeType = "MAJOR_LIST_CHOICE"
	TypeComplementaryModule NodeType = "COMPLEMENTARY_MODULE"
	TypeSubGroup            NodeType = "SUB_GROUP"
	TypeMobilityPartnership NodeType = "MOBILITY_PARTNERSHIP_LIST_CHOICE"
	TypeInternship          NodeType = "INTERNSHIP"
	TypeThesis              NodeType = "THESIS"
)

// Leaves.
const (
	TypeLearningUnit NodeType = "LEARNING_UNIT"
)

var nodeTypeCategories = map[NodeType]Category{
	TypeBachelor:             CategoryTraining,
	TypeMaster120:            CategoryTraining,
	TypeMaster60:             CategoryTraining,
	TypeMasterMC:             CategoryTraining,
	TypeAggregation:          CategoryTraining,
	TypeCertificate:          CategoryTraining,
	TypeUniversityFirstCycle: CategoryTraining,

	TypeOption:                      CategoryMiniTraining,
	TypeDeepening:                   CategoryMiniTraining,
	TypeFSASpeciality:               CategoryMiniTraining,
	TypeAccessMinor:                 CategoryMiniTraining,
	TypeOpenMinor:                   CategoryMiniTraining,
	TypeDisciplinaryComplementMinor: CategoryMiniTraining,
	TypeSocleMinor:                  CategoryMiniTraining,

	TypeCommonCore:          CategoryGroup,
	TypeFinalityListChoice:  CategoryGroup,
	TypeOptionListChoice:    CategoryGroup,
	TypeMinorListChoice:     CategoryGroup,
	TypeMajorListChoice:     CategoryGroup,
	TypeComplementaryModule: CategoryGroup,
	TypeSubGroup:            CategoryGroup,
	TypeMobilityPartnership: CategoryGroup,
	TypeInternship:          CategoryGroup,
	TypeThesis:              CategoryGroup,

	TypeLearningUnit: CategoryLearningUnit,
}

// ParseNodeType validates a node type name.
func ParseNodeType(s string) (NodeType, error) {
	t := NodeType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := nodeTypeCategories[t]; !ok {
		return "", fmt.Errorf("unknown node type %q", s)
	}
	return t, nil
}

// Category returns the category of the node type.
func (t NodeType) Category() Category {
	if c, ok := nodeTypeCategories[t]; ok {
		return c
	}
	return CategoryGroup
}

// IsLearningUnit reports whether the type is a leaf.
func (t NodeType) IsLearningUnit() bool {
	return t == TypeLearningUnit
}

// IsMinorMajorListChoice reports whether children of this group type must be
// attached by reference.
func (t NodeType) IsMinorMajorListChoice() bool {
	return t == TypeMinorListChoice || t == TypeMajorListChoice
}

// IsMinorOrDeepening reports whether the type is a minor, a deepening or an
// FSA speciality.
func (t NodeType) IsMinorOrDeepening() bool {
	switch t {
	case TypeAccessMinor, TypeOpenMinor, TypeDisciplinaryComplementMinor, TypeSocleMinor,
		TypeDeepening, TypeFSASpeciality:
		return true
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════
// Node
// ═══════════════════════════════════════════════════════════════════════════

// NodeIdentity is the business identity of a node.
type NodeIdentity struct {
	Code string `json:"code"`
	Year int    `json:"year"`
}

// String returns "CODE/YEAR".
func (id NodeIdentity) String() string {
	return fmt.Sprintf("%s/%d", id.Code, id.Year)
}

// Node is a vertex of a program tree. Children are owned by the node as an
// ordered list of links; there are no back-pointers to parents.
type Node struct {
	ID           int64    // storage identifier (element id), 0 until persisted
	Code         string   // partial acronym, e.g. LBIR1110
	Year         int      // academic year
	Title        string   // abbreviated title
	Type         NodeType // concrete offering type
	EndYear      *int     // last academic year of existence
	Credits      *int     // credits of the offering
	HasContainer bool     // learning units: a learning container year exists

	children []*Link
	removed  []*Link
	changed  bool
}

// NewNode creates a node with no children.
func NewNode(id int64, code string, year int, title string, nodeType NodeType) *Node {
	return &Node{
		ID:           id,
		Code:         code,
		Year:         year,
		Title:        title,
		Type:         nodeType,
		HasContainer: true,
	}
}

// Identity returns the (code, year) identity.
func (n *Node) Identity() NodeIdentity {
	return NodeIdentity{Code: n.Code, Year: n.Year}
}

// IsLearningUnit reports whether the node is a leaf.
func (n *Node) IsLearningUnit() bool {
	return n.Type.IsLearningUnit()
}

// ExistsIn reports whether the node still exists in the given year.
func (n *Node) ExistsIn(year int) bool {
	return n.EndYear == nil || *n.EndYear >= year
}

// String returns "CODE (YEAR)".
func (n *Node) String() string {
	return fmt.Sprintf("%s (%d)", n.Code, n.Year)
}

// Children returns a copy of the ordered child links.
func (n *Node) Children() []*Link {
	out := make([]*Link, len(n.children))
	copy(out, n.children)
	return out
}

// ChildCount returns the number of direct children.
func (n *Node) ChildCount() int {
	return len(n.children)
}

// ChildLink returns the link toward the child with the given storage id.
func (n *Node) ChildLink(childID int64) (*Link, bool) {
	for _, l := range n.children {
		if l.Child.ID == childID {
			return l, true
		}
	}
	return nil, false
}

// IsChanged reports whether the children list was mutated since loading.
func (n *Node) IsChanged() bool {
	return n.changed
}

// RemovedLinks returns the links detached since loading.
func (n *Node) RemovedLinks() []*Link {
	out := make([]*Link, len(n.removed))
	copy(out, n.removed)
	return out
}

// MarkPersisted clears change tracking after a successful save.
func (n *Node) MarkPersisted() {
	n.changed = false
	n.removed = nil
	for _, l := range n.children {
		l.changed = false
	}
}

// AddChild appends the link as the last child and assigns the next dense order.
// Leaves never have children; adding one is a programming error.
func (n *Node) AddChild(link *Link) {
	if n.IsLearningUnit() {
		panic(fmt.Sprintf("programtree: learning unit %s cannot have children", n))
	}
	link.Parent = n
	link.Order = len(n.children)
	link.changed = true
	n.children = append(n.children, link)
	n.changed = true
}

// DetachChild removes the link toward childID and compacts sibling order.
func (n *Node) DetachChild(childID int64) (*Link, error) {
	for i, l := range n.children {
		if l.Child.ID == childID {
			n.children = append(n.children[:i], n.children[i+1:]...)
			n.removed = append(n.removed, l)
			n.reindex()
			n.changed = true
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no child %d", errLinkNotFound, n, childID)
}

// checkpoint captures the children list and its change tracking. Calling the
// returned func puts them back, undoing any AddChild or DetachChild since.
func (n *Node) checkpoint() func() {
	children := make([]*Link, len(n.children))
	copy(children, n.children)
	orders := make([]int, len(children))
	dirty := make([]bool, len(children))
	for i, l := range children {
		orders[i] = l.Order
		dirty[i] = l.changed
	}
	removed := len(n.removed)
	changed := n.changed

	return func() {
		for i, l := range children {
			l.Parent = n
			l.Order = orders[i]
			l.changed = dirty[i]
		}
		n.children = children
		n.removed = n.removed[:removed]
		n.changed = changed
	}
}

func (n *Node) reindex() {
	for i, l := range n.children {
		if l.Order != i {
			l.Order = i
			l.changed = true
		}
	}
}

// NodeFilter selects child nodes.
type NodeFilter func(*Node) bool

// OnlyLearningUnits keeps leaves.
func OnlyLearningUnits(n *Node) bool { return n.IsLearningUnit() }

// ExcludeLearningUnits keeps branches.
func ExcludeLearningUnits(n *Node) bool { return !n.IsLearningUnit() }

// DirectChildrenAsNodes yields the direct children in order, optionally
// filtered. The sequence can be ranged over any number of times.
func (n *Node) DirectChildrenAsNodes(filter NodeFilter) iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for _, l := range n.children {
			if filter != nil && !filter(l.Child) {
				continue
			}
			if !yield(l.Child) {
				return
			}
		}
	}
}

// containsAny reports whether n or any node of its loaded subtree has one of ids.
func (n *Node) containsAny(ids map[int64]bool) (*Node, bool) {
	visited := make(map[*Node]bool)
	var walk func(*Node) (*Node, bool)
	walk = func(cur *Node) (*Node, bool) {
		if visited[cur] {
			return nil, false
		}
		visited[cur] = true
		if ids[cur.ID] {
			return cur, true
		}
		for _, l := range cur.children {
			if found, ok := walk(l.Child); ok {
				return found, true
			}
		}
		return nil, false
	}
	return walk(n)
}

// TopLevelTypes returns the types that root a program tree: trainings and
// mini-trainings, sorted by name.
func TopLevelTypes() []NodeType {
	var out []NodeType
	for t, c := range nodeTypeCategories {
		if c == CategoryTraining || c == CategoryMiniTraining {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
