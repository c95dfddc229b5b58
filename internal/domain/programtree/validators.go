package programtree

import (
	"fmt"

	"github.com/osis-hub/program-hub/internal/domain/shared"
)

// validatorFunc returns the messages of one validation category.
type validatorFunc func() []string

// validate runs categories in order. The first category reporting messages
// stops the run and all of its messages are returned together.
func validate(categories ...validatorFunc) error {
	for _, category := range categories {
		if messages := category(); len(messages) > 0 {
			return shared.NewBusinessExceptions(messages...)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Attach validators
// ─────────────────────────────────────────────────────────────────────────────

// validateInfiniteRecursivity rejects a child that is the parent itself, an
// ancestor along parentPath, or a node whose loaded subtree contains one of them.
func validateInfiniteRecursivity(parentPath Path, parent, child *Node) []string {
	if child.ID != 0 && child.ID == parent.ID {
		return []string{"Cannot attach a node to himself."}
	}
	ancestors, err := parentPath.IDs()
	if err != nil || child.ID == 0 {
		return nil
	}
	forbidden := make(map[int64]bool, len(ancestors))
	for _, id := range ancestors {
		forbidden[id] = true
	}
	if _, found := child.containsAny(forbidden); found {
		return []string{fmt.Sprintf("The child %s you want to attach is a parent of the node you want to attach.", child.Code)}
	}
	return nil
}

func validateAuthorizedRelationship(parent, child *Node, rules RelationshipRules) []string {
	if parent.IsLearningUnit() {
		return []string{fmt.Sprintf("Cannot attach %s under the learning unit %s", child.Code, parent.Code)}
	}
	if rules == nil {
		return nil
	}
	if !rules.IsAuthorized(parent.Type, child.Type) {
		return []string{fmt.Sprintf("The child %s is not authorized under %s", child.Type, parent.Type)}
	}
	maxCount := rules.MaxChildren(parent.Type, child.Type)
	if maxCount == Unbounded {
		return nil
	}
	count := 0
	for n := range parent.DirectChildrenAsNodes(nil) {
		if n.Type == child.Type {
			count++
		}
	}
	if count+1 > maxCount {
		return []string{fmt.Sprintf("The number of children of type %s under %s cannot exceed %d", child.Type, parent.Code, maxCount)}
	}
	return nil
}

func validateAuthorizedLinkType(parent, child *Node, linkType LinkType) []string {
	var messages []string
	if child.IsLearningUnit() && linkType == LinkTypeReference {
		messages = append(messages, fmt.Sprintf("You are not allowed to create a reference with a learning unit %s", child.Code))
	}
	if parent.Type.IsMinorMajorListChoice() && child.Type.Category() == CategoryMiniTraining && linkType != LinkTypeReference {
		messages = append(messages, fmt.Sprintf("Link type should be reference between %s and %s", parent.Code, child.Code))
	}
	return messages
}

func validateSameAcademicYear(parent, child *Node) []string {
	if parent.IsLearningUnit() || child.IsLearningUnit() {
		return nil
	}
	if parent.Year != child.Year {
		return []string{"It is prohibited to attach a group, mini-training or training to an element of another academic year."}
	}
	return nil
}

func validateBlock(block Block) []string {
	if !block.IsValid() {
		return []string{"Block must contain digits 1 to 6 in ascending order without duplicates"}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Detach validators
// ─────────────────────────────────────────────────────────────────────────────

func validateMinimumChildren(parent, child *Node, rules RelationshipRules) []string {
	if rules == nil {
		return nil
	}
	minCount := rules.MinChildren(parent.Type, child.Type)
	if minCount <= 0 {
		return nil
	}
	count := 0
	for n := range parent.DirectChildrenAsNodes(nil) {
		if n.Type == child.Type {
			count++
		}
	}
	if count-1 < minCount {
		return []string{fmt.Sprintf("The parent %s must have at least %d children of type %s", parent.Code, minCount, child.Type)}
	}
	return nil
}
