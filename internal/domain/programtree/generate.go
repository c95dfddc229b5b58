package programtree

import (
	"fmt"
	"strings"
)

// MaxAbbreviatedTitleLength is the storage limit of an abbreviated title.
const MaxAbbreviatedTitleLength = 40

// maxStandardDepth bounds the recursion over mandatory children.
const maxStandardDepth = 8

// GenerateAbbreviatedTitle builds the default title of a child created under
// parent: the rule's initial value without spaces, upper-cased, followed by the
// parent title.
func GenerateAbbreviatedTitle(parent *Node, childType NodeType, lookup ValidationRuleLookup) string {
	var initial string
	if lookup != nil {
		initial, _ = lookup.Get(string(childType) + ".abbreviated_title")
	}
	title := strings.ToUpper(strings.ReplaceAll(initial, " ", "")) + parent.Title
	runes := []rune(title)
	if len(runes) > MaxAbbreviatedTitleLength {
		runes = runes[:MaxAbbreviatedTitleLength]
	}
	return string(runes)
}

// GenerateChildCode returns the first free code of the form
// <first 4 characters of parentCode><3-digit sequence from 101>T.
func GenerateChildCode(parentCode string, used func(code string) bool) string {
	prefix := parentCode
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	for seq := 101; seq < 1000; seq++ {
		code := fmt.Sprintf("%s%03dT", prefix, seq)
		if used == nil || !used(code) {
			return code
		}
	}
	return fmt.Sprintf("%s999T", prefix)
}

// BuildStandardTree creates the mandatory children of root (and theirs,
// recursively) declared by rules. Created nodes are unsaved (ID 0).
func BuildStandardTree(root *Node, rules RelationshipRules, lookup ValidationRuleLookup, used func(code string) bool) *ProgramTree {
	taken := make(map[string]bool)
	isUsed := func(code string) bool {
		return taken[code] || (used != nil && used(code))
	}

	var build func(parent *Node, depth int)
	build = func(parent *Node, depth int) {
		if rules == nil || depth >= maxStandardDepth || parent.IsLearningUnit() {
			return
		}
		for _, childType := range rules.MandatoryChildren(parent.Type) {
			if childType.IsLearningUnit() {
				continue
			}
			for i := 0; i < rules.MinChildren(parent.Type, childType); i++ {
				code := GenerateChildCode(root.Code, isUsed)
				taken[code] = true
				child := NewNode(0, code, parent.Year, GenerateAbbreviatedTitle(parent, childType, lookup), childType)
				child.EndYear = parent.EndYear
				parent.AddChild(NewLink(child, DefaultLinkAttributes()))
				build(child, depth+1)
			}
		}
	}
	build(root, 0)
	return New(root)
}
