package command

import (
	"context"
	"fmt"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DETACH NODE COMMAND
// Removes the link pointing at a path. The child node and its subtree stay
// stored; only this attachment disappears.
// ══════════════════════════════════════════════════════════════════════════════

// DetachNodeCommand contains the data to detach a node.
type DetachNodeCommand struct {
	Tree programtree.TreeIdentity
	Path string
}

// Validate validates the command.
func (c DetachNodeCommand) Validate() error {
	if err := validateTreeIdentity("DetachNode", c.Tree); err != nil {
		return err
	}
	_, err := parsePath("DetachNode", "path", c.Path)
	return err
}

// DetachNodeResult contains the result of a detach.
type DetachNodeResult struct {
	ParentID int64 `json:"parent_id"`
	ChildID  int64 `json:"child_id"`
}

// DetachNodeHandler handles the DetachNodeCommand.
type DetachNodeHandler struct {
	store     TreeStore
	rules     programtree.RelationshipRules
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewDetachNodeHandler creates a new DetachNodeHandler.
func NewDetachNodeHandler(store TreeStore, rules programtree.RelationshipRules, publisher shared.EventPublisher, log *logger.Logger) *DetachNodeHandler {
	return &DetachNodeHandler{store: store, rules: rules, publisher: publisher, log: orDefault(log)}
}

// Handle executes the detach.
func (h *DetachNodeHandler) Handle(ctx context.Context, cmd DetachNodeCommand) (*DetachNodeResult, error) {
	start := time.Now()
	result, err := h.handle(ctx, cmd)
	finish(h.log, "detach_node", start, err, logger.TreeCode(cmd.Tree.Code), logger.Year(cmd.Tree.Year), logger.Path(cmd.Path))
	if err != nil {
		return nil, err
	}
	publish(h.publisher, h.log, shared.NewLinkDetachedEvent(cmd.Tree.String(), cmd.Path, result.ParentID, result.ChildID))
	return result, nil
}

func (h *DetachNodeHandler) handle(ctx context.Context, cmd DetachNodeCommand) (*DetachNodeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("detach_node: validation failed: %w", err)
	}

	var result DetachNodeResult
	err := editTree(ctx, h.store, cmd.Tree, func(_ context.Context, tree *programtree.ProgramTree) error {
		link, err := tree.Detach(programtree.Path(cmd.Path), h.rules)
		if err != nil {
			return err
		}
		result = DetachNodeResult{ParentID: link.Parent.ID, ChildID: link.Child.ID}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("detach_node: %w", err)
	}
	return &result, nil
}
