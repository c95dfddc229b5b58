package command

import (
	"context"
	"fmt"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/pkg/logger"
)

// UpdateLinkCommand replaces the attributes of the link pointing at Path.
type UpdateLinkCommand struct {
	Tree       programtree.TreeIdentity
	Path       string
	Attributes programtree.LinkAttributes
}

// Validate validates the command.
func (c UpdateLinkCommand) Validate() error {
	if err := validateTreeIdentity("UpdateLink", c.Tree); err != nil {
		return err
	}
	path, err := parsePath("UpdateLink", "path", c.Path)
	if err != nil {
		return err
	}
	if path.IsRoot() {
		return invalid("UpdateLink", "the root has no link")
	}
	if _, err := programtree.ParseLinkType(string(c.Attributes.LinkType)); err != nil {
		return invalid("UpdateLink", err.Error())
	}
	return nil
}

// UpdateLinkHandler handles the UpdateLinkCommand.
type UpdateLinkHandler struct {
	store     TreeStore
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewUpdateLinkHandler creates a new UpdateLinkHandler.
func NewUpdateLinkHandler(store TreeStore, publisher shared.EventPublisher, log *logger.Logger) *UpdateLinkHandler {
	return &UpdateLinkHandler{store: store, publisher: publisher, log: orDefault(log)}
}

// Handle executes the update and returns the stored attributes.
func (h *UpdateLinkHandler) Handle(ctx context.Context, cmd UpdateLinkCommand) (*programtree.LinkAttributes, error) {
	start := time.Now()
	attrs, err := h.handle(ctx, cmd)
	finish(h.log, "update_link", start, err, logger.TreeCode(cmd.Tree.Code), logger.Year(cmd.Tree.Year), logger.Path(cmd.Path))
	if err != nil {
		return nil, err
	}
	path := programtree.Path(cmd.Path)
	publish(h.publisher, h.log, shared.NewLinkUpdatedEvent(cmd.Tree.String(), cmd.Path, path.Last()))
	return attrs, nil
}

func (h *UpdateLinkHandler) handle(ctx context.Context, cmd UpdateLinkCommand) (*programtree.LinkAttributes, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("update_link: validation failed: %w", err)
	}

	var attrs programtree.LinkAttributes
	err := editTree(ctx, h.store, cmd.Tree, func(_ context.Context, tree *programtree.ProgramTree) error {
		link, err := tree.UpdateLink(programtree.Path(cmd.Path), cmd.Attributes)
		if err != nil {
			return err
		}
		attrs = link.LinkAttributes
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update_link: %w", err)
	}
	return &attrs, nil
}
