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
// MOVE NODE COMMAND
// Detaches the node at FromPath and attaches it, with the same link
// attributes, as the last child of the node at ToParentPath.
// ══════════════════════════════════════════════════════════════════════════════

// MoveNodeCommand contains the data to move a node.
type MoveNodeCommand struct {
	Tree         programtree.TreeIdentity
	FromPath     string
	ToParentPath string
}

// Validate validates the command.
func (c MoveNodeCommand) Validate() error {
	if err := validateTreeIdentity("MoveNode", c.Tree); err != nil {
		return err
	}
	if _, err := parsePath("MoveNode", "from_path", c.FromPath); err != nil {
		return err
	}
	_, err := parsePath("MoveNode", "to_path", c.ToParentPath)
	return err
}

// MoveNodeResult contains the result of a move.
type MoveNodeResult struct {
	Path   programtree.Path `json:"path"`
	LinkID int64            `json:"link_id"`
	Order  int              `json:"order"`
}

// MoveNodeHandler handles the MoveNodeCommand.
type MoveNodeHandler struct {
	store     TreeStore
	rules     programtree.RelationshipRules
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewMoveNodeHandler creates a new MoveNodeHandler.
func NewMoveNodeHandler(store TreeStore, rules programtree.RelationshipRules, publisher shared.EventPublisher, log *logger.Logger) *MoveNodeHandler {
	return &MoveNodeHandler{store: store, rules: rules, publisher: publisher, log: orDefault(log)}
}

// Handle executes the move.
func (h *MoveNodeHandler) Handle(ctx context.Context, cmd MoveNodeCommand) (*MoveNodeResult, error) {
	start := time.Now()
	result, err := h.handle(ctx, cmd)
	finish(h.log, "move_node", start, err,
		logger.TreeCode(cmd.Tree.Code), logger.Year(cmd.Tree.Year), logger.Path(cmd.FromPath), logger.String("to_path", cmd.ToParentPath))
	if err != nil {
		return nil, err
	}
	publish(h.publisher, h.log, shared.NewLinkMovedEvent(cmd.Tree.String(), cmd.FromPath, result.Path.String(), result.Path.Last()))
	return result, nil
}

func (h *MoveNodeHandler) handle(ctx context.Context, cmd MoveNodeCommand) (*MoveNodeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("move_node: validation failed: %w", err)
	}
	to := programtree.Path(cmd.ToParentPath)

	var link *programtree.Link
	err := editTree(ctx, h.store, cmd.Tree, func(_ context.Context, tree *programtree.ProgramTree) error {
		var err error
		link, err = tree.Move(programtree.Path(cmd.FromPath), to, h.rules)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("move_node: %w", err)
	}
	return &MoveNodeResult{Path: to.Append(link.Child.ID), LinkID: link.ID, Order: link.Order}, nil
}
