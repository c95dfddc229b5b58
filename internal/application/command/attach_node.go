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
// ATTACH NODE COMMAND
// Attaches an existing node (group, mini-training or learning unit) under the
// node at a path of a program tree.
// ══════════════════════════════════════════════════════════════════════════════

// AttachNodeCommand contains the data to attach a node.
type AttachNodeCommand struct {
	Tree       programtree.TreeIdentity
	ParentPath string

	// ChildCode and ChildYear identify the node to attach.
	ChildCode string
	ChildYear int

	// Attributes of the new link. An empty link type is resolved from the
	// parent and child types.
	Attributes programtree.LinkAttributes
}

// Validate validates the command.
func (c AttachNodeCommand) Validate() error {
	if err := validateTreeIdentity("AttachNode", c.Tree); err != nil {
		return err
	}
	if _, err := parsePath("AttachNode", "parent_path", c.ParentPath); err != nil {
		return err
	}
	if c.ChildCode == "" {
		return invalid("AttachNode", "child code is required")
	}
	if _, err := shared.NewAcademicYear(c.ChildYear); err != nil {
		return invalid("AttachNode", fmt.Sprintf("child year: %v", err))
	}
	if _, err := programtree.ParseLinkType(string(c.Attributes.LinkType)); err != nil {
		return invalid("AttachNode", err.Error())
	}
	return nil
}

// AttachNodeResult contains the result of an attach.
type AttachNodeResult struct {
	// Path is the path of the attached child.
	Path     programtree.Path     `json:"path"`
	LinkID   int64                `json:"link_id"`
	LinkType programtree.LinkType `json:"link_type"`
	Order    int                  `json:"order"`
}

// AttachNodeHandler handles the AttachNodeCommand.
type AttachNodeHandler struct {
	store     TreeStore
	rules     programtree.RelationshipRules
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewAttachNodeHandler creates a new AttachNodeHandler.
func NewAttachNodeHandler(store TreeStore, rules programtree.RelationshipRules, publisher shared.EventPublisher, log *logger.Logger) *AttachNodeHandler {
	return &AttachNodeHandler{store: store, rules: rules, publisher: publisher, log: orDefault(log)}
}

// Handle executes the attach.
func (h *AttachNodeHandler) Handle(ctx context.Context, cmd AttachNodeCommand) (*AttachNodeResult, error) {
	start := time.Now()
	result, event, err := h.handle(ctx, cmd)
	finish(h.log, "attach_node", start, err,
		logger.TreeCode(cmd.Tree.Code), logger.Year(cmd.Tree.Year), logger.Path(cmd.ParentPath), logger.NodeCode(cmd.ChildCode))
	if err != nil {
		return nil, err
	}
	publish(h.publisher, h.log, event)
	return result, nil
}

func (h *AttachNodeHandler) handle(ctx context.Context, cmd AttachNodeCommand) (*AttachNodeResult, shared.Event, error) {
	if err := cmd.Validate(); err != nil {
		return nil, nil, fmt.Errorf("attach_node: validation failed: %w", err)
	}
	parentPath := programtree.Path(cmd.ParentPath)

	var link *programtree.Link
	err := editTree(ctx, h.store, cmd.Tree, func(ctx context.Context, tree *programtree.ProgramTree) error {
		child, err := resolveChild(ctx, h.store, tree, cmd.ChildCode, cmd.ChildYear)
		if err != nil {
			return fmt.Errorf("load child: %w", err)
		}
		link, err = tree.Attach(parentPath, child, cmd.Attributes, h.rules)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("attach_node: %w", err)
	}

	result := &AttachNodeResult{
		Path:     parentPath.Append(link.Child.ID),
		LinkID:   link.ID,
		LinkType: link.LinkType,
		Order:    link.Order,
	}
	event := shared.NewLinkAttachedEvent(cmd.Tree.String(), cmd.ParentPath, link.Parent.ID, link.Child.ID, link.Child.Code, string(link.LinkType))
	return result, event, nil
}
