package programtree

import (
	"fmt"
	"strconv"
)

// LinkType distinguishes plain inclusion from inclusion by reference.
type LinkType string

const (
	LinkTypeStandard  LinkType = "STANDARD"
	LinkTypeReference LinkType = "REFERENCE"
)

// ParseLinkType accepts "", STANDARD and REFERENCE. The empty value means
// "not specified" and is resolved when the link is attached.
func ParseLinkType(s string) (LinkType, error) {
	switch LinkType(s) {
	case "", LinkTypeStandard, LinkTypeReference:
		return LinkType(s), nil
	}
	return "", fmt.Errorf("unknown link type %q", s)
}

// Block is the set of annual blocks a learning unit belongs to, written as
// ascending digits 1-6 (e.g. 123). Zero means unset.
type Block int

// Digits returns the block digits in order.
func (b Block) Digits() []int {
	if b <= 0 {
		return nil
	}
	s := strconv.Itoa(int(b))
	digits := make([]int, len(s))
	for i, r := range s {
		digits[i] = int(r - '0')
	}
	return digits
}

// IsValid reports whether every digit is in 1..6 and digits strictly ascend.
func (b Block) IsValid() bool {
	if b == 0 {
		return true
	}
	if b < 0 {
		return false
	}
	prev := 0
	for _, d := range b.Digits() {
		if d < 1 || d > 6 || d <= prev {
			return false
		}
		prev = d
	}
	return true
}

// LinkAttributes are the mutable properties of a link.
type LinkAttributes struct {
	RelativeCredits        *int     `json:"relative_credits,omitempty"`
	IsMandatory            bool     `json:"is_mandatory"`
	Block                  Block    `json:"block,omitempty"`
	AccessCondition        bool     `json:"access_condition"`
	Comment                string   `json:"comment,omitempty"`
	CommentEnglish         string   `json:"comment_english,omitempty"`
	LinkType               LinkType `json:"link_type,omitempty"`
	QuadrimesterDerogation string   `json:"quadrimester_derogation,omitempty"`
}

// DefaultLinkAttributes returns the attributes of a newly attached mandatory link.
func DefaultLinkAttributes() LinkAttributes {
	return LinkAttributes{IsMandatory: true}
}

// Link is a directed, attributed edge from Parent to Child. Its identity is
// the (parent, child) pair.
type Link struct {
	ID     int64 // storage identifier, 0 until persisted
	Parent *Node
	Child  *Node
	Order  int
	LinkAttributes

	changed bool
}

// NewLink creates a detached link toward child.
func NewLink(child *Node, attrs LinkAttributes) *Link {
	return &Link{Child: child, LinkAttributes: attrs}
}

// IsReference reports whether the link is a reference link.
func (l *Link) IsReference() bool {
	return l.LinkType == LinkTypeReference
}

// IsChanged reports whether the link must be written by the repository.
func (l *Link) IsChanged() bool {
	return l.changed || l.ID == 0
}

// Update replaces the attributes of the link.
func (l *Link) Update(attrs LinkAttributes) {
	l.LinkAttributes = attrs
	l.changed = true
	if l.Parent != nil {
		l.Parent.changed = true
	}
}

// String returns "PARENT -> CHILD".
func (l *Link) String() string {
	parent := "?"
	if l.Parent != nil {
		parent = l.Parent.Code
	}
	return fmt.Sprintf("%s -> %s", parent, l.Child.Code)
}

// resolveLinkType applies the forcing rule: a minor, deepening or FSA
// speciality placed under a minor/major list choice without an explicit type
// is a reference.
func resolveLinkType(parent, child *Node, requested LinkType) LinkType {
	if requested != "" {
		return requested
	}
	if parent.Type.IsMinorMajorListChoice() && child.Type.IsMinorOrDeepening() {
		return LinkTypeReference
	}
	return LinkTypeStandard
}
