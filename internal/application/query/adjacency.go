package query

import (
	"context"
	"fmt"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADJACENCY QUERIES
// Recursive traversals of the link table. Reverse and root queries must be
// scoped by child ids; an unscoped request is rejected instead of scanning
// every link.
// ══════════════════════════════════════════════════════════════════════════════

// AdjacencyHandler serves the three traversal queries.
type AdjacencyHandler struct {
	links programtree.LinkStore
	log   *logger.Logger
}

// NewAdjacencyHandler creates a new AdjacencyHandler.
func NewAdjacencyHandler(links programtree.LinkStore, log *logger.Logger) *AdjacencyHandler {
	return &AdjacencyHandler{links: links, log: orDefault(log)}
}

// AdjacencyList returns the links below rootIDs.
func (h *AdjacencyHandler) AdjacencyList(ctx context.Context, rootIDs []int64) ([]programtree.AdjacencyRecord, error) {
	start := time.Now()
	records, err := h.links.AdjacencyList(ctx, rootIDs)
	observe(h.log, "adjacency_list", start, err)
	if err != nil {
		return nil, fmt.Errorf("adjacency_list: %w", err)
	}
	return nonNil(records), nil
}

// ReverseAdjacencyList returns the links above the queried children.
func (h *AdjacencyHandler) ReverseAdjacencyList(ctx context.Context, q programtree.ReverseQuery) ([]programtree.AdjacencyRecord, error) {
	start := time.Now()
	records, err := h.reverse(ctx, q)
	observe(h.log, "reverse_adjacency_list", start, err)
	return records, err
}

func (h *AdjacencyHandler) reverse(ctx context.Context, q programtree.ReverseQuery) ([]programtree.AdjacencyRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("reverse_adjacency_list: %w", err)
	}
	records, err := h.links.ReverseAdjacencyList(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("reverse_adjacency_list: %w", err)
	}
	return nonNil(records), nil
}

// RootList returns the top-level nodes containing the queried children. When
// no root type is given the training and mini-training types are used.
func (h *AdjacencyHandler) RootList(ctx context.Context, q programtree.RootQuery) ([]programtree.RootRecord, error) {
	start := time.Now()
	records, err := h.roots(ctx, q)
	observe(h.log, "root_list", start, err)
	return records, err
}

func (h *AdjacencyHandler) roots(ctx context.Context, q programtree.RootQuery) ([]programtree.RootRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("root_list: %w", err)
	}
	if len(q.RootTypes) == 0 {
		q.RootTypes = programtree.TopLevelTypes()
	}
	records, err := h.links.RootList(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("root_list: %w", err)
	}
	if records == nil {
		records = []programtree.RootRecord{}
	}
	return records, nil
}

func nonNil(records []programtree.AdjacencyRecord) []programtree.AdjacencyRecord {
	if records == nil {
		return []programtree.AdjacencyRecord{}
	}
	return records
}
