package programtree

import (
	"fmt"

	"github.com/osis-hub/program-hub/internal/domain/prerequisite"
	"github.com/osis-hub/program-hub/internal/domain/shared"
)

// NextYearNodes resolves the node that already exists for a code in the
// target year of a copy.
type NextYearNodes func(code string) (*Node, bool)

// CopyResult describes the outcome of CopyToNextYear.
type CopyResult struct {
	Tree    *ProgramTree
	Created []*Node        // nodes that did not exist in the target year
	Reused  []*Node        // existing target-year nodes linked as-is
	Carried []*Node        // learning units without a container, linked in their own year
	Skipped []NodeIdentity // source nodes that end before the target year
}

// CopyToNextYear deep-copies source into year+1. A child whose code already
// exists in year+1 is reused without recursing into it; only the link is
// recreated. A learning unit missing in year+1 is cloned when it has a
// container and linked in its own year otherwise, so every link of a node
// still open in year+1 survives. It returns ErrCannotCopyDueToEndDate when
// the root ends before year+1.
func CopyToNextYear(source *ProgramTree, existing NextYearNodes) (*CopyResult, error) {
	target := source.Root.Year + 1
	if !source.Root.ExistsIn(target) {
		return nil, shared.WrapError("programtree", "CopyToNextYear", shared.ErrInvalidState,
			fmt.Sprintf("%s ends in %d", source.Root.Code, *source.Root.EndYear), shared.ErrCannotCopyDueToEndDate)
	}
	if existing == nil {
		existing = func(string) (*Node, bool) { return nil, false }
	}

	result := &CopyResult{}
	copies := make(map[*Node]*Node)
	skipped := make(map[*Node]bool)

	root, reused := existing(source.Root.Code)
	if reused {
		result.Reused = append(result.Reused, root)
	} else {
		root = cloneForYear(source.Root, target)
		result.Created = append(result.Created, root)
	}
	copies[source.Root] = root

	var copyChildren func(src, dst *Node)
	copyChildren = func(src, dst *Node) {
		for _, l := range src.children {
			child := l.Child
			if skipped[child] {
				continue
			}
			dstChild, done := copies[child]
			if !done {
				if n, ok := existing(child.Code); ok {
					dstChild = n
					result.Reused = append(result.Reused, n)
				} else if !child.ExistsIn(target) {
					skipped[child] = true
					result.Skipped = append(result.Skipped, child.Identity())
					continue
				} else if child.IsLearningUnit() && !child.HasContainer {
					dstChild = child
					result.Carried = append(result.Carried, child)
				} else {
					dstChild = cloneForYear(child, target)
					result.Created = append(result.Created, dstChild)
					copies[child] = dstChild
					copyChildren(child, dstChild)
				}
				copies[child] = dstChild
			}
			if hasChildCode(dst, dstChild.Code) {
				continue
			}
			dst.AddChild(NewLink(dstChild, l.LinkAttributes))
		}
	}
	copyChildren(source.Root, root)

	tree := New(root)
	for item, p := range source.prerequisites {
		if p.IsNull() {
			continue
		}
		if _, ok := tree.FindNode(item.Code, target); !ok {
			continue
		}
		next := shiftPrerequisite(p, 1)
		key := prerequisite.Item{Code: item.Code, Year: target}
		tree.prerequisites[key] = next
		tree.changedPrerequisites[key] = true
	}
	result.Tree = tree
	return result, nil
}

func cloneForYear(n *Node, year int) *Node {
	c := NewNode(0, n.Code, year, n.Title, n.Type)
	c.EndYear = n.EndYear
	c.Credits = n.Credits
	c.HasContainer = n.HasContainer
	return c
}

func hasChildCode(n *Node, code string) bool {
	for _, l := range n.children {
		if l.Child.Code == code {
			return true
		}
	}
	return false
}

func shiftPrerequisite(p *prerequisite.Prerequisite, years int) *prerequisite.Prerequisite {
	out := prerequisite.New(p.MainOperator)
	for _, g := range p.Groups {
		ng := prerequisite.NewItemGroup(g.Operator)
		for _, item := range g.Items {
			ng.AddItem(item.Code, item.Year+years)
		}
		out.AddGroup(ng)
	}
	return out
}
