package command

import (
	"context"
	"fmt"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/pkg/logger"
)

// SetPrerequisiteCommand sets the prerequisite of the learning unit at Path.
// A blank expression clears it.
type SetPrerequisiteCommand struct {
	Tree       programtree.TreeIdentity
	Path       string
	Expression string
}

// Validate validates the command.
func (c SetPrerequisiteCommand) Validate() error {
	if err := validateTreeIdentity("SetPrerequisite", c.Tree); err != nil {
		return err
	}
	_, err := parsePath("SetPrerequisite", "path", c.Path)
	return err
}

// SetPrerequisiteResult is the canonical form of the stored prerequisite.
type SetPrerequisiteResult struct {
	Code       string `json:"code"`
	Year       int    `json:"year"`
	Expression string `json:"expression"`
}

// SetPrerequisiteHandler handles the SetPrerequisiteCommand.
type SetPrerequisiteHandler struct {
	store     TreeStore
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewSetPrerequisiteHandler creates a new SetPrerequisiteHandler.
func NewSetPrerequisiteHandler(store TreeStore, publisher shared.EventPublisher, log *logger.Logger) *SetPrerequisiteHandler {
	return &SetPrerequisiteHandler{store: store, publisher: publisher, log: orDefault(log)}
}

// Handle executes the command.
func (h *SetPrerequisiteHandler) Handle(ctx context.Context, cmd SetPrerequisiteCommand) (*SetPrerequisiteResult, error) {
	start := time.Now()
	result, err := h.handle(ctx, cmd)
	finish(h.log, "set_prerequisite", start, err, logger.TreeCode(cmd.Tree.Code), logger.Year(cmd.Tree.Year), logger.Path(cmd.Path))
	if err != nil {
		return nil, err
	}
	publish(h.publisher, h.log, shared.NewPrerequisiteUpdatedEvent(cmd.Tree.String(), result.Code, result.Year, result.Expression))
	return result, nil
}

func (h *SetPrerequisiteHandler) handle(ctx context.Context, cmd SetPrerequisiteCommand) (*SetPrerequisiteResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("set_prerequisite: validation failed: %w", err)
	}

	var result SetPrerequisiteResult
	err := editTree(ctx, h.store, cmd.Tree, func(_ context.Context, tree *programtree.ProgramTree) error {
		path := programtree.Path(cmd.Path)
		p, err := tree.SetPrerequisite(path, cmd.Expression)
		if err != nil {
			return err
		}
		node, err := tree.NodeAt(path)
		if err != nil {
			return err
		}
		result = SetPrerequisiteResult{Code: node.Code, Year: node.Year, Expression: p.String()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set_prerequisite: %w", err)
	}
	return &result, nil
}
