// Package programtree implements the program tree aggregate: a rooted tree of
// trainings, mini-trainings, groups and learning units for one academic year,
// with validated attach, detach, move and copy-to-next-year operations.
package programtree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/osis-hub/program-hub/internal/domain/prerequisite"
	"github.com/osis-hub/program-hub/internal/domain/shared"
)

var errLinkNotFound = shared.ErrLinkNotFound

// TreeIdentity identifies a program tree by its root node.
type TreeIdentity struct {
	Code string `json:"code"`
	Year int    `json:"year"`
}

// String returns "CODE/YEAR".
func (id TreeIdentity) String() string {
	return shared.TreeAggregateID(id.Code, id.Year)
}

// ProgramTree is the aggregate root. It owns the subgraph reachable from Root
// for mutation purposes; the same Node may appear at several paths.
type ProgramTree struct {
	Root *Node

	prerequisites        map[prerequisite.Item]*prerequisite.Prerequisite
	changedPrerequisites map[prerequisite.Item]bool
}

// New creates a tree rooted at root.
func New(root *Node) *ProgramTree {
	return &ProgramTree{
		Root:                 root,
		prerequisites:        make(map[prerequisite.Item]*prerequisite.Prerequisite),
		changedPrerequisites: make(map[prerequisite.Item]bool),
	}
}

// Identity returns the identity of the tree.
func (t *ProgramTree) Identity() TreeIdentity {
	return TreeIdentity{Code: t.Root.Code, Year: t.Root.Year}
}

// RootPath returns the path of the root node.
func (t *ProgramTree) RootPath() Path {
	return BuildPath(t.Root.ID)
}

// ═══════════════════════════════════════════════════════════════════════════
// Navigation
// ═══════════════════════════════════════════════════════════════════════════

// NodeAt resolves a path to the node it points at.
func (t *ProgramTree) NodeAt(path Path) (*Node, error) {
	ids, err := path.IDs()
	if err != nil {
		return nil, err
	}
	if ids[0] != t.Root.ID {
		return nil, pathNotFound(path)
	}
	current := t.Root
	for _, id := range ids[1:] {
		link, ok := current.ChildLink(id)
		if !ok {
			return nil, pathNotFound(path)
		}
		current = link.Child
	}
	return current, nil
}

// LinkAt returns the link whose child is the node at path.
func (t *ProgramTree) LinkAt(path Path) (*Link, error) {
	if path.IsRoot() {
		return nil, shared.WrapError("programtree", "LinkAt", shared.ErrInvalidInput, "the root has no parent link", nil)
	}
	parent, err := t.NodeAt(path.Parent())
	if err != nil {
		return nil, err
	}
	link, ok := parent.ChildLink(path.Last())
	if !ok {
		return nil, pathNotFound(path)
	}
	return link, nil
}

func pathNotFound(path Path) error {
	return shared.WrapError("programtree", "Resolve", shared.ErrNotFound, "no node at path "+path.String(), nil)
}

// Walk visits every occurrence of every node below the root in depth-first
// order, siblings in declared order. Returning false skips the subtree.
func (t *ProgramTree) Walk(fn func(path Path, link *Link) bool) {
	var walk func(node *Node, path Path, onPath map[int64]bool)
	walk = func(node *Node, path Path, onPath map[int64]bool) {
		for _, l := range node.children {
			if onPath[l.Child.ID] && l.Child.ID != 0 {
				continue
			}
			childPath := path.Append(l.Child.ID)
			if !fn(childPath, l) {
				continue
			}
			onPath[l.Child.ID] = true
			walk(l.Child, childPath, onPath)
			delete(onPath, l.Child.ID)
		}
	}
	walk(t.Root, t.RootPath(), map[int64]bool{t.Root.ID: true})
}

// AllNodes returns every distinct node of the tree, root first, optionally filtered.
func (t *ProgramTree) AllNodes(filter NodeFilter) []*Node {
	seen := map[*Node]bool{t.Root: true}
	var out []*Node
	if filter == nil || filter(t.Root) {
		out = append(out, t.Root)
	}
	t.Walk(func(_ Path, l *Link) bool {
		if seen[l.Child] {
			return false
		}
		seen[l.Child] = true
		if filter == nil || filter(l.Child) {
			out = append(out, l.Child)
		}
		return true
	})
	return out
}

// LearningUnits returns every distinct learning unit of the tree.
func (t *ProgramTree) LearningUnits() []*Node {
	return t.AllNodes(OnlyLearningUnits)
}

// AllLinks returns every distinct link of the tree.
func (t *ProgramTree) AllLinks() []*Link {
	seen := make(map[*Link]bool)
	var out []*Link
	t.Walk(func(_ Path, l *Link) bool {
		if seen[l] {
			return false
		}
		seen[l] = true
		out = append(out, l)
		return true
	})
	return out
}

// PathsOf returns every path at which the node with the given id occurs.
func (t *ProgramTree) PathsOf(nodeID int64) []Path {
	var paths []Path
	if t.Root.ID == nodeID {
		paths = append(paths, t.RootPath())
	}
	t.Walk(func(p Path, l *Link) bool {
		if l.Child.ID == nodeID {
			paths = append(paths, p)
		}
		return true
	})
	return paths
}

// AncestorsOf returns the nodes above the occurrence at path, root first.
func (t *ProgramTree) AncestorsOf(path Path) ([]*Node, error) {
	if _, err := t.NodeAt(path); err != nil {
		return nil, err
	}
	var ancestors []*Node
	for p := path.Parent(); p != ""; p = p.Parent() {
		n, err := t.NodeAt(p)
		if err != nil {
			return nil, err
		}
		ancestors = append([]*Node{n}, ancestors...)
	}
	return ancestors, nil
}

// Descendants returns every occurrence below the node at path keyed by path.
func (t *ProgramTree) Descendants(path Path) (map[Path]*Node, error) {
	if _, err := t.NodeAt(path); err != nil {
		return nil, err
	}
	out := make(map[Path]*Node)
	t.Walk(func(p Path, l *Link) bool {
		if p.HasPrefix(path) && p != path {
			out[p] = l.Child
		}
		return p.HasPrefix(path) || path.HasPrefix(p)
	})
	return out, nil
}

// Contains reports whether a node with the given id occurs in the tree.
func (t *ProgramTree) Contains(nodeID int64) bool {
	return len(t.PathsOf(nodeID)) > 0
}

// FindNode returns the node with the given identity.
func (t *ProgramTree) FindNode(code string, year int) (*Node, bool) {
	for _, n := range t.AllNodes(nil) {
		if n.Code == code && n.Year == year {
			return n, true
		}
	}
	return nil, false
}

// ChangedNodes returns the nodes whose children must be persisted.
func (t *ProgramTree) ChangedNodes() []*Node {
	return t.AllNodes(func(n *Node) bool { return n.IsChanged() || len(n.removed) > 0 })
}

// MarkPersisted clears change tracking on every node.
func (t *ProgramTree) MarkPersisted() {
	for _, n := range t.AllNodes(nil) {
		n.MarkPersisted()
	}
	t.changedPrerequisites = make(map[prerequisite.Item]bool)
}

// ═══════════════════════════════════════════════════════════════════════════
// Attach / Detach / Move / Update
// ═══════════════════════════════════════════════════════════════════════════

// Attach appends child as the last child of the node at parentPath. All
// validators must pass before anything changes. An empty link type is
// resolved before validation.
func (t *ProgramTree) Attach(parentPath Path, child *Node, attrs LinkAttributes, rules RelationshipRules) (*Link, error) {
	parent, err := t.NodeAt(parentPath)
	if err != nil {
		return nil, err
	}
	attrs.LinkType = resolveLinkType(parent, child, attrs.LinkType)

	err = validate(
		func() []string { return validateInfiniteRecursivity(parentPath, parent, child) },
		func() []string { return validateAuthorizedRelationship(parent, child, rules) },
		func() []string { return validateAuthorizedLinkType(parent, child, attrs.LinkType) },
		func() []string { return validateSameAcademicYear(parent, child) },
		func() []string { return validateBlock(attrs.Block) },
	)
	if err != nil {
		return nil, err
	}

	if child.ID != 0 {
		if _, exists := parent.ChildLink(child.ID); exists {
			return nil, shared.NewDomainError("programtree", "Attach", shared.ErrConflict,
				fmt.Sprintf("%s is already attached under %s", child.Code, parent.Code))
		}
	}

	link := NewLink(child, attrs)
	parent.AddChild(link)
	return link, nil
}

// Detach removes the link pointing at the node at path. The child node and
// its own descendants are untouched; only this attachment disappears.
func (t *ProgramTree) Detach(path Path, rules RelationshipRules) (*Link, error) {
	if path.IsRoot() {
		return nil, shared.ErrCannotDetachRoot
	}
	link, err := t.LinkAt(path)
	if err != nil {
		return nil, err
	}
	parent := link.Parent

	err = validate(
		func() []string { return validateMinimumChildren(parent, link.Child, rules) },
		func() []string { return t.validateDetachPrerequisites(path) },
	)
	if err != nil {
		return nil, err
	}
	return parent.DetachChild(link.Child.ID)
}

// Move detaches the node at fromPath and attaches it under toParentPath with
// the same attributes. A destination inside the moved subtree is rejected
// before anything changes. When the attach is rejected the detach is undone.
func (t *ProgramTree) Move(fromPath, toParentPath Path, rules RelationshipRules) (*Link, error) {
	if fromPath.IsRoot() {
		return nil, shared.ErrCannotDetachRoot
	}
	link, err := t.LinkAt(fromPath)
	if err != nil {
		return nil, err
	}
	destination, err := t.NodeAt(toParentPath)
	if err != nil {
		return nil, err
	}
	err = validate(func() []string {
		if toParentPath.HasPrefix(fromPath) && destination.ID != link.Child.ID {
			return []string{fmt.Sprintf("The child %s you want to attach is a parent of the node you want to attach.", link.Child.Code)}
		}
		return validateInfiniteRecursivity(toParentPath, destination, link.Child)
	})
	if err != nil {
		return nil, err
	}

	source := link.Parent
	if toParentPath != fromPath.Parent() {
		if err := validate(func() []string { return validateMinimumChildren(source, link.Child, rules) }); err != nil {
			return nil, err
		}
	}

	rollback := source.checkpoint()
	if _, err := source.DetachChild(link.Child.ID); err != nil {
		return nil, err
	}
	moved, err := t.Attach(toParentPath, link.Child, link.LinkAttributes, rules)
	if err != nil {
		rollback()
		return nil, err
	}
	return moved, nil
}

// UpdateLink replaces the attributes of the link pointing at path. The link
// keeps its position.
func (t *ProgramTree) UpdateLink(path Path, attrs LinkAttributes) (*Link, error) {
	link, err := t.LinkAt(path)
	if err != nil {
		return nil, err
	}
	attrs.LinkType = resolveLinkType(link.Parent, link.Child, attrs.LinkType)
	err = validate(
		func() []string { return validateAuthorizedLinkType(link.Parent, link.Child, attrs.LinkType) },
		func() []string { return validateBlock(attrs.Block) },
	)
	if err != nil {
		return nil, err
	}
	link.Update(attrs)
	return link, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Prerequisites
// ═══════════════════════════════════════════════════════════════════════════

func itemOf(n *Node) prerequisite.Item {
	return prerequisite.Item{Code: n.Code, Year: n.Year}
}

// LoadPrerequisites replaces the prerequisites of the tree without marking
// them as changed. Used by repositories.
func (t *ProgramTree) LoadPrerequisites(prerequisites map[prerequisite.Item]*prerequisite.Prerequisite) {
	t.prerequisites = make(map[prerequisite.Item]*prerequisite.Prerequisite, len(prerequisites))
	for k, v := range prerequisites {
		t.prerequisites[k] = v
	}
}

// Prerequisite returns the prerequisite of a learning unit, never nil.
func (t *ProgramTree) Prerequisite(learningUnit *Node) *prerequisite.Prerequisite {
	if p, ok := t.prerequisites[itemOf(learningUnit)]; ok && p != nil {
		return p
	}
	return prerequisite.Null()
}

// Prerequisites returns the non-null prerequisites keyed by learning unit.
func (t *ProgramTree) Prerequisites() map[prerequisite.Item]*prerequisite.Prerequisite {
	out := make(map[prerequisite.Item]*prerequisite.Prerequisite)
	for k, v := range t.prerequisites {
		if !v.IsNull() {
			out[k] = v
		}
	}
	return out
}

// ChangedPrerequisites returns the prerequisites set since loading. Removed
// prerequisites are returned as null.
func (t *ProgramTree) ChangedPrerequisites() map[prerequisite.Item]*prerequisite.Prerequisite {
	out := make(map[prerequisite.Item]*prerequisite.Prerequisite, len(t.changedPrerequisites))
	for k := range t.changedPrerequisites {
		if p, ok := t.prerequisites[k]; ok && p != nil {
			out[k] = p
		} else {
			out[k] = prerequisite.Null()
		}
	}
	return out
}

// HasPrerequisite reports whether the learning unit has a non-null prerequisite.
func (t *ProgramTree) HasPrerequisite(learningUnit *Node) bool {
	return !t.Prerequisite(learningUnit).IsNull()
}

// IsPrerequisite reports whether another learning unit of the tree requires it.
func (t *ProgramTree) IsPrerequisite(learningUnit *Node) bool {
	for item, p := range t.prerequisites {
		if item == itemOf(learningUnit) {
			continue
		}
		if p.Contains(learningUnit.Code) {
			return true
		}
	}
	return false
}

// SetPrerequisite parses expression and sets it as the prerequisite of the
// learning unit at path. Every referenced code must be a learning unit of this
// tree other than the target itself.
func (t *ProgramTree) SetPrerequisite(path Path, expression string) (*prerequisite.Prerequisite, error) {
	node, err := t.NodeAt(path)
	if err != nil {
		return nil, err
	}
	if !node.IsLearningUnit() {
		return nil, shared.ErrNotALearningUnit
	}
	p, err := prerequisite.FromExpression(expression, node.Year)
	if err != nil {
		return nil, err
	}

	err = validate(
		func() []string { return t.validatePrerequisiteItems(node, p) },
	)
	if err != nil {
		return nil, err
	}

	item := itemOf(node)
	t.prerequisites[item] = p
	t.changedPrerequisites[item] = true
	return p, nil
}

func (t *ProgramTree) validatePrerequisiteItems(target *Node, p *prerequisite.Prerequisite) []string {
	present := make(map[string]bool)
	for _, lu := range t.LearningUnits() {
		present[lu.Code] = true
	}
	var messages []string
	var missing []string
	for _, code := range p.Codes() {
		if code == target.Code {
			messages = append(messages, "A learning unit cannot be prerequisite to itself")
			continue
		}
		if !present[code] {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		messages = append(messages, fmt.Sprintf("%s is not in the tree", strings.Join(missing, ", ")))
	}
	return messages
}

// validateDetachPrerequisites rejects a detach that would orphan a prerequisite:
// a learning unit leaving the tree may neither have one nor be one.
func (t *ProgramTree) validateDetachPrerequisites(path Path) []string {
	remaining := make(map[int64]bool)
	var leaving []*Node
	seenLeaving := make(map[*Node]bool)
	t.Walk(func(p Path, l *Link) bool {
		if p.HasPrefix(path) {
			if l.Child.IsLearningUnit() && !seenLeaving[l.Child] {
				seenLeaving[l.Child] = true
				leaving = append(leaving, l.Child)
			}
			return true
		}
		remaining[l.Child.ID] = true
		return true
	})

	var blocked []string
	for _, lu := range leaving {
		if remaining[lu.ID] {
			continue
		}
		if t.HasPrerequisite(lu) || t.IsPrerequisite(lu) {
			blocked = append(blocked, lu.Code)
		}
	}
	sort.Strings(blocked)
	messages := make([]string, len(blocked))
	for i, code := range blocked {
		messages[i] = fmt.Sprintf("Cannot detach because %s has prerequisites or is prerequisite in the tree", code)
	}
	return messages
}
