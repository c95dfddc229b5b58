package query

import (
	"context"
	"fmt"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/prerequisite"
	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/pkg/logger"
)

// GetPrerequisiteQuery reads the prerequisite of the learning unit at Path.
type GetPrerequisiteQuery struct {
	Tree programtree.TreeIdentity
	Path string
}

// PrerequisiteDTO is a prerequisite rendered in both languages.
type PrerequisiteDTO struct {
	Code           string   `json:"code"`
	Year           int      `json:"year"`
	Expression     string   `json:"expression"`
	ExpressionFR   string   `json:"expression_fr"`
	Codes          []string `json:"codes,omitempty"`
	IsPrerequisite bool     `json:"is_prerequisite"`
}

// GetPrerequisiteHandler handles GetPrerequisiteQuery.
type GetPrerequisiteHandler struct {
	trees         programtree.Repository
	prerequisites prerequisite.Repository
	log           *logger.Logger
}

// NewGetPrerequisiteHandler creates a new GetPrerequisiteHandler.
func NewGetPrerequisiteHandler(trees programtree.Repository, prerequisites prerequisite.Repository, log *logger.Logger) *GetPrerequisiteHandler {
	return &GetPrerequisiteHandler{trees: trees, prerequisites: prerequisites, log: orDefault(log)}
}

// Handle executes the query.
func (h *GetPrerequisiteHandler) Handle(ctx context.Context, q GetPrerequisiteQuery) (*PrerequisiteDTO, error) {
	start := time.Now()
	dto, err := h.handle(ctx, q)
	observe(h.log, "get_prerequisite", start, err)
	return dto, err
}

func (h *GetPrerequisiteHandler) handle(ctx context.Context, q GetPrerequisiteQuery) (*PrerequisiteDTO, error) {
	if err := validateTreeIdentity("GetPrerequisite", q.Tree); err != nil {
		return nil, fmt.Errorf("get_prerequisite: %w", err)
	}
	path, err := programtree.ParsePath(q.Path)
	if err != nil {
		return nil, fmt.Errorf("get_prerequisite: %w", err)
	}

	tree, err := h.trees.Get(ctx, q.Tree)
	if err != nil {
		return nil, fmt.Errorf("get_prerequisite: load tree: %w", err)
	}
	node, err := tree.NodeAt(path)
	if err != nil {
		return nil, fmt.Errorf("get_prerequisite: %w", err)
	}
	if !node.IsLearningUnit() {
		return nil, fmt.Errorf("get_prerequisite: %w", shared.ErrNotALearningUnit)
	}

	p, err := h.prerequisites.Get(ctx, tree.Root.ID, prerequisite.Item{Code: node.Code, Year: node.Year})
	if err != nil {
		return nil, fmt.Errorf("get_prerequisite: load prerequisite: %w", err)
	}
	return &PrerequisiteDTO{
		Code:           node.Code,
		Year:           node.Year,
		Expression:     p.String(),
		ExpressionFR:   p.Render(prerequisite.LangFR),
		Codes:          p.Codes(),
		IsPrerequisite: tree.IsPrerequisite(node),
	}, nil
}
