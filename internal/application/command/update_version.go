package command

import (
	"context"
	"fmt"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/internal/domain/treeversion"
	"github.com/osis-hub/program-hub/pkg/logger"
)

func validateVersionIdentity(op string, id treeversion.Identity) error {
	if id.OfferAcronym == "" {
		return invalid(op, "offer acronym is required")
	}
	if _, err := shared.NewAcademicYear(id.Year); err != nil {
		return invalid(op, fmt.Sprintf("year: %v", err))
	}
	if _, err := shared.NewVersionName(string(id.VersionName)); err != nil {
		return err
	}
	return nil
}

// updateVersion applies data to the version and keeps its root node end year
// in step, since the copy to the next year is driven by the root end year.
func updateVersion(ctx context.Context, store VersionStore, id treeversion.Identity, data func(v *treeversion.ProgramTreeVersion) treeversion.UpdateData) (*treeversion.ProgramTreeVersion, error) {
	var updated *treeversion.ProgramTreeVersion
	err := store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		v, err := store.Versions.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("load version: %w", err)
		}
		if err := v.Update(data(v)); err != nil {
			return err
		}
		if _, err := store.Versions.Update(ctx, v); err != nil {
			return fmt.Errorf("persist version: %w", err)
		}

		root, err := store.Nodes.GetByCode(ctx, v.Tree.Code, v.Tree.Year)
		if err != nil {
			return fmt.Errorf("load root: %w", err)
		}
		root.EndYear = v.EndYear
		if err := store.Nodes.Save(ctx, root); err != nil {
			return fmt.Errorf("persist root: %w", err)
		}
		updated = v
		return nil
	})
	return updated, err
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE VERSION COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// UpdateVersionCommand replaces the editable fields of a version.
type UpdateVersionCommand struct {
	Version treeversion.Identity
	TitleFR string
	TitleEN string
	EndYear *int
}

// Validate validates the command.
func (c UpdateVersionCommand) Validate() error {
	if err := validateVersionIdentity("UpdateVersion", c.Version); err != nil {
		return err
	}
	return validateEndYear("UpdateVersion", c.Version.Year, c.EndYear)
}

// UpdateVersionHandler handles the UpdateVersionCommand.
type UpdateVersionHandler struct {
	store VersionStore
	log   *logger.Logger
}

// NewUpdateVersionHandler creates a new UpdateVersionHandler.
func NewUpdateVersionHandler(store VersionStore, log *logger.Logger) *UpdateVersionHandler {
	return &UpdateVersionHandler{store: store, log: orDefault(log)}
}

// Handle executes the update.
func (h *UpdateVersionHandler) Handle(ctx context.Context, cmd UpdateVersionCommand) (*treeversion.ProgramTreeVersion, error) {
	start := time.Now()
	v, err := h.handle(ctx, cmd)
	finish(h.log, "update_version", start, err,
		logger.String("offer_acronym", cmd.Version.OfferAcronym), logger.Year(cmd.Version.Year), logger.VersionName(cmd.Version.VersionName.String()))
	return v, err
}

func (h *UpdateVersionHandler) handle(ctx context.Context, cmd UpdateVersionCommand) (*treeversion.ProgramTreeVersion, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("update_version: validation failed: %w", err)
	}
	v, err := updateVersion(ctx, h.store, cmd.Version, func(*treeversion.ProgramTreeVersion) treeversion.UpdateData {
		return treeversion.UpdateData{TitleFR: cmd.TitleFR, TitleEN: cmd.TitleEN, EndYear: cmd.EndYear}
	})
	if err != nil {
		return nil, fmt.Errorf("update_version: %w", err)
	}
	return v, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EXTEND END YEAR COMMAND
// Moves the end year of a version forward and postpones it up to the new end.
// ══════════════════════════════════════════════════════════════════════════════

// ExtendEndYearCommand contains the new end year of a version.
type ExtendEndYearCommand struct {
	Version    treeversion.Identity
	NewEndYear int
}

// Validate validates the command.
func (c ExtendEndYearCommand) Validate() error {
	if err := validateVersionIdentity("ExtendEndYear", c.Version); err != nil {
		return err
	}
	return validateEndYear("ExtendEndYear", c.Version.Year, &c.NewEndYear)
}

// ExtendEndYearHandler handles the ExtendEndYearCommand.
type ExtendEndYearHandler struct {
	store    VersionStore
	postpone *PostponeVersionHandler
	log      *logger.Logger
}

// NewExtendEndYearHandler creates a new ExtendEndYearHandler.
func NewExtendEndYearHandler(store VersionStore, postpone *PostponeVersionHandler, log *logger.Logger) *ExtendEndYearHandler {
	return &ExtendEndYearHandler{store: store, postpone: postpone, log: orDefault(log)}
}

// Handle executes the extension.
func (h *ExtendEndYearHandler) Handle(ctx context.Context, cmd ExtendEndYearCommand) (*treeversion.PostponeResult, error) {
	start := time.Now()
	result, err := h.handle(ctx, cmd)
	finish(h.log, "extend_end_year", start, err,
		logger.String("offer_acronym", cmd.Version.OfferAcronym), logger.Year(cmd.Version.Year), logger.Int("end_year", cmd.NewEndYear))
	return result, err
}

func (h *ExtendEndYearHandler) handle(ctx context.Context, cmd ExtendEndYearCommand) (*treeversion.PostponeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("extend_end_year: validation failed: %w", err)
	}

	_, err := updateVersion(ctx, h.store, cmd.Version, func(v *treeversion.ProgramTreeVersion) treeversion.UpdateData {
		end := cmd.NewEndYear
		return treeversion.UpdateData{TitleFR: v.TitleFR, TitleEN: v.TitleEN, EndYear: &end}
	})
	if err != nil {
		return nil, fmt.Errorf("extend_end_year: %w", err)
	}
	if cmd.NewEndYear == cmd.Version.Year {
		return &treeversion.PostponeResult{}, nil
	}

	result, err := h.postpone.Handle(ctx, PostponeVersionCommand{Version: cmd.Version, UntilYear: cmd.NewEndYear})
	if err != nil {
		return nil, fmt.Errorf("extend_end_year: %w", err)
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DELETE VERSION COMMAND
// Removes the version row and the links under its root. Nodes are kept since
// other trees may still use them.
// ══════════════════════════════════════════════════════════════════════════════

// DeleteVersionCommand identifies the version to delete.
type DeleteVersionCommand struct {
	Version treeversion.Identity
}

// DeleteVersionHandler handles the DeleteVersionCommand.
type DeleteVersionHandler struct {
	store     VersionStore
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewDeleteVersionHandler creates a new DeleteVersionHandler.
func NewDeleteVersionHandler(store VersionStore, publisher shared.EventPublisher, log *logger.Logger) *DeleteVersionHandler {
	return &DeleteVersionHandler{store: store, publisher: publisher, log: orDefault(log)}
}

// Handle executes the deletion.
func (h *DeleteVersionHandler) Handle(ctx context.Context, cmd DeleteVersionCommand) error {
	start := time.Now()
	rootID, err := h.handle(ctx, cmd)
	id := cmd.Version
	finish(h.log, "delete_version", start, err,
		logger.String("offer_acronym", id.OfferAcronym), logger.Year(id.Year), logger.VersionName(id.VersionName.String()))
	if err != nil {
		return err
	}
	publish(h.publisher, h.log, shared.NewTreeVersionDeletedEvent(id.OfferAcronym, id.Year, string(id.VersionName), rootID))
	return nil
}

func (h *DeleteVersionHandler) handle(ctx context.Context, cmd DeleteVersionCommand) (int64, error) {
	if err := validateVersionIdentity("DeleteVersion", cmd.Version); err != nil {
		return 0, fmt.Errorf("delete_version: validation failed: %w", err)
	}

	var rootID int64
	err := h.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		v, err := h.store.Versions.Get(ctx, cmd.Version)
		if err != nil {
			return fmt.Errorf("load version: %w", err)
		}
		if err := h.store.Versions.Delete(ctx, cmd.Version); err != nil {
			return fmt.Errorf("delete version: %w", err)
		}

		tree, err := h.store.Trees.Get(ctx, v.Tree)
		if shared.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load tree: %w", err)
		}
		rootID = tree.Root.ID
		if err := detachRootLinks(tree); err != nil {
			return err
		}
		if _, err := h.store.Trees.Update(ctx, tree); err != nil {
			return fmt.Errorf("persist tree: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete_version: %w", err)
	}
	return rootID, nil
}

func detachRootLinks(tree *programtree.ProgramTree) error {
	for _, l := range tree.Root.Children() {
		if _, err := tree.Root.DetachChild(l.Child.ID); err != nil {
			return err
		}
	}
	return nil
}
