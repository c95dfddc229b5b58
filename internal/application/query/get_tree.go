package query

import (
	"context"
	"fmt"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET TREE QUERY
// Returns a whole program tree as nested nodes, each carrying its path and
// the attributes of the link that reaches it.
// ══════════════════════════════════════════════════════════════════════════════

// GetTreeQuery identifies the tree to read.
type GetTreeQuery struct {
	Tree programtree.TreeIdentity
}

// LinkDTO is the link leading to a node.
type LinkDTO struct {
	ID    int64 `json:"id"`
	Order int   `json:"order"`
	programtree.LinkAttributes
}

// NodeDTO is one node of a tree view.
type NodeDTO struct {
	ID      int64                `json:"id"`
	Code    string               `json:"code"`
	Year    int                  `json:"year"`
	Title   string               `json:"title"`
	Type    programtree.NodeType `json:"type"`
	EndYear *int                 `json:"end_year,omitempty"`
	Credits *int                 `json:"credits,omitempty"`
	Path    programtree.Path     `json:"path"`
	Link    *LinkDTO             `json:"link,omitempty"`

	// Learning units only.
	Prerequisite   string `json:"prerequisite,omitempty"`
	IsPrerequisite bool   `json:"is_prerequisite,omitempty"`

	Children []*NodeDTO `json:"children,omitempty"`
}

// TreeDTO is the tree view.
type TreeDTO struct {
	Code string   `json:"code"`
	Year int      `json:"year"`
	Root *NodeDTO `json:"root"`
}

// GetTreeHandler handles GetTreeQuery.
type GetTreeHandler struct {
	trees programtree.Repository
	log   *logger.Logger
}

// NewGetTreeHandler creates a new GetTreeHandler.
func NewGetTreeHandler(trees programtree.Repository, log *logger.Logger) *GetTreeHandler {
	return &GetTreeHandler{trees: trees, log: orDefault(log)}
}

// Handle executes the query.
func (h *GetTreeHandler) Handle(ctx context.Context, q GetTreeQuery) (*TreeDTO, error) {
	start := time.Now()
	dto, err := h.handle(ctx, q)
	observe(h.log, "get_tree", start, err)
	return dto, err
}

func (h *GetTreeHandler) handle(ctx context.Context, q GetTreeQuery) (*TreeDTO, error) {
	if err := validateTreeIdentity("GetTree", q.Tree); err != nil {
		return nil, fmt.Errorf("get_tree: %w", err)
	}
	tree, err := h.trees.Get(ctx, q.Tree)
	if err != nil {
		return nil, fmt.Errorf("get_tree: %w", err)
	}
	return &TreeDTO{Code: tree.Root.Code, Year: tree.Root.Year, Root: toNodeDTO(tree, tree.Root, tree.RootPath(), nil)}, nil
}

// toNodeDTO converts the subtree at path. The same node reached through two
// paths is rendered twice, once per path.
func toNodeDTO(tree *programtree.ProgramTree, n *programtree.Node, path programtree.Path, via *programtree.Link) *NodeDTO {
	dto := &NodeDTO{
		ID:      n.ID,
		Code:    n.Code,
		Year:    n.Year,
		Title:   n.Title,
		Type:    n.Type,
		EndYear: n.EndYear,
		Credits: n.Credits,
		Path:    path,
	}
	if via != nil {
		dto.Link = &LinkDTO{ID: via.ID, Order: via.Order, LinkAttributes: via.LinkAttributes}
	}
	if n.IsLearningUnit() {
		dto.Prerequisite = tree.Prerequisite(n).String()
		dto.IsPrerequisite = tree.IsPrerequisite(n)
		return dto
	}
	for _, l := range n.Children() {
		dto.Children = append(dto.Children, toNodeDTO(tree, l.Child, path.Append(l.Child.ID), l))
	}
	return dto
}
