package query

import (
	"context"
	"fmt"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/pkg/logger"
)

// SearchTreesFromChildrenQuery finds the top-level trees using any of NodeIDs.
type SearchTreesFromChildrenQuery struct {
	NodeIDs []int64
	Year    *int
}

// TreeSummaryDTO identifies a tree without its content.
type TreeSummaryDTO struct {
	RootID int64                `json:"root_id"`
	Code   string               `json:"code"`
	Year   int                  `json:"year"`
	Title  string               `json:"title"`
	Type   programtree.NodeType `json:"type"`

	// Paths lists, per queried node found in the tree, where it appears.
	Paths map[int64][]programtree.Path `json:"paths"`
}

// SearchTreesFromChildrenHandler handles SearchTreesFromChildrenQuery.
type SearchTreesFromChildrenHandler struct {
	trees programtree.Repository
	log   *logger.Logger
}

// NewSearchTreesFromChildrenHandler creates a new SearchTreesFromChildrenHandler.
func NewSearchTreesFromChildrenHandler(trees programtree.Repository, log *logger.Logger) *SearchTreesFromChildrenHandler {
	return &SearchTreesFromChildrenHandler{trees: trees, log: orDefault(log)}
}

// Handle executes the query.
func (h *SearchTreesFromChildrenHandler) Handle(ctx context.Context, q SearchTreesFromChildrenQuery) ([]TreeSummaryDTO, error) {
	start := time.Now()
	out, err := h.handle(ctx, q)
	observe(h.log, "search_trees_from_children", start, err)
	return out, err
}

func (h *SearchTreesFromChildrenHandler) handle(ctx context.Context, q SearchTreesFromChildrenQuery) ([]TreeSummaryDTO, error) {
	if len(q.NodeIDs) == 0 {
		return nil, fmt.Errorf("search_trees_from_children: %w", invalid("SearchTreesFromChildren", "node ids are required"))
	}
	trees, err := h.trees.SearchFromChildren(ctx, q.NodeIDs, q.Year)
	if err != nil {
		return nil, fmt.Errorf("search_trees_from_children: %w", err)
	}

	out := make([]TreeSummaryDTO, 0, len(trees))
	for _, tree := range trees {
		summary := TreeSummaryDTO{
			RootID: tree.Root.ID,
			Code:   tree.Root.Code,
			Year:   tree.Root.Year,
			Title:  tree.Root.Title,
			Type:   tree.Root.Type,
			Paths:  make(map[int64][]programtree.Path),
		}
		for _, id := range q.NodeIDs {
			if paths := tree.PathsOf(id); len(paths) > 0 {
				summary.Paths[id] = paths
			}
		}
		out = append(out, summary)
	}
	return out, nil
}
