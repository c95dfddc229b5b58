package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/internal/domain/treeversion"
	"github.com/osis-hub/program-hub/internal/infrastructure/metrics"
	"github.com/osis-hub/program-hub/pkg/logger"
	"github.com/osis-hub/program-hub/pkg/retry"
	"github.com/osis-hub/program-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// POSTPONE VERSION COMMAND
// Copies a version and its tree into the following academic years. Each year
// is copied in its own transaction so a failure keeps the years already done.
// ══════════════════════════════════════════════════════════════════════════════

// PostponeVersionCommand contains the data to postpone a version.
type PostponeVersionCommand struct {
	Version treeversion.Identity

	// UntilYear is the last year to create. Zero means as far as allowed.
	UntilYear int
}

// Validate validates the command.
func (c PostponeVersionCommand) Validate() error {
	if c.Version.OfferAcronym == "" {
		return invalid("PostponeVersion", "offer acronym is required")
	}
	if _, err := shared.NewAcademicYear(c.Version.Year); err != nil {
		return invalid("PostponeVersion", fmt.Sprintf("year: %v", err))
	}
	if c.UntilYear != 0 && c.UntilYear <= c.Version.Year {
		return shared.NewDomainError("command", "PostponeVersion", shared.ErrValueOutOfRange,
			fmt.Sprintf("until year %d must be after %d", c.UntilYear, c.Version.Year))
	}
	return nil
}

// PostponeVersionHandler handles the PostponeVersionCommand.
type PostponeVersionHandler struct {
	store     VersionStore
	maxYears  int
	clock     timeutil.Clock
	retrier   *retry.Retrier
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewPostponeVersionHandler creates a new PostponeVersionHandler. maxYears
// bounds the run to the current academic year plus maxYears; zero or less
// uses treeversion.DefaultMaxPostponementYears. A nil clock uses the wall clock.
func NewPostponeVersionHandler(store VersionStore, maxYears int, clock timeutil.Clock, publisher shared.EventPublisher, log *logger.Logger) *PostponeVersionHandler {
	if maxYears <= 0 {
		maxYears = treeversion.DefaultMaxPostponementYears
	}
	return &PostponeVersionHandler{
		store:     store,
		maxYears:  maxYears,
		clock:     clock,
		retrier:   retry.TransactionRetrier(shared.IsRetryable),
		publisher: publisher,
		log:       orDefault(log),
	}
}

// Handle executes the postponement.
func (h *PostponeVersionHandler) Handle(ctx context.Context, cmd PostponeVersionCommand) (*treeversion.PostponeResult, error) {
	start := time.Now()
	result, err := h.handle(ctx, cmd)

	fields := []logger.Field{
		logger.String("offer_acronym", cmd.Version.OfferAcronym),
		logger.Year(cmd.Version.Year),
		logger.VersionName(cmd.Version.VersionName.String()),
	}
	if result != nil {
		metrics.PostponedYears.Add(float64(len(result.Created)))
		fields = append(fields, logger.Int("created", len(result.Created)), logger.Any("skipped_years", result.SkippedYears))
	}
	finish(h.log, "postpone_version", start, err, fields...)

	if result != nil && len(result.Created) > 0 {
		years := make([]int, len(result.Created))
		for i, id := range result.Created {
			years[i] = id.Year
		}
		publish(h.publisher, h.log, shared.NewTreeVersionPostponedEvent(cmd.Version.OfferAcronym, cmd.Version.Year, years))
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *PostponeVersionHandler) handle(ctx context.Context, cmd PostponeVersionCommand) (*treeversion.PostponeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("postpone_version: validation failed: %w", err)
	}

	source, err := h.store.Versions.Get(ctx, cmd.Version)
	if err != nil {
		return nil, fmt.Errorf("postpone_version: load version: %w", err)
	}

	until := source.PostponementLimit(timeutil.CurrentAcademicYear(h.clock), h.maxYears)
	if cmd.UntilYear != 0 && cmd.UntilYear < until {
		until = cmd.UntilYear
	}

	result, err := treeversion.Postpone(ctx, cmd.Version, until, h.copyYear)
	if err != nil {
		return result, fmt.Errorf("postpone_version: %w", err)
	}
	return result, nil
}

// copyYear copies one version into from.Year+1 in a retried transaction. An
// existing target year or an end date is final and never retried.
func (h *PostponeVersionHandler) copyYear(ctx context.Context, from treeversion.Identity) (treeversion.Identity, error) {
	target := from.InYear(from.Year + 1)
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		err := h.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
			return h.copyVersion(ctx, from, target.Year)
		})
		if errors.Is(err, shared.ErrTreeVersionAlreadyExists) || errors.Is(err, shared.ErrCannotCopyDueToEndDate) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return treeversion.Identity{}, err
	}
	return target, nil
}

func (h *PostponeVersionHandler) copyVersion(ctx context.Context, from treeversion.Identity, targetYear int) error {
	v, err := h.store.Versions.Get(ctx, from)
	if err != nil {
		return fmt.Errorf("load version %s: %w", from, err)
	}
	switch _, err := h.store.Versions.Get(ctx, from.InYear(targetYear)); {
	case err == nil:
		return shared.ErrTreeVersionAlreadyExists
	case !shared.IsNotFound(err):
		return fmt.Errorf("check version %d: %w", targetYear, err)
	}
	if !v.ExistsIn(targetYear) {
		return shared.WrapError("treeversion", "Postpone", shared.ErrInvalidState,
			fmt.Sprintf("%s ends in %d", v.Identity, *v.EndYear), shared.ErrCannotCopyDueToEndDate)
	}

	tree, err := h.store.Trees.Get(ctx, v.Tree)
	if err != nil {
		return fmt.Errorf("load tree %s: %w", v.Tree, err)
	}
	existing, err := h.nextYearNodes(ctx, tree, targetYear)
	if err != nil {
		return fmt.Errorf("resolve %d nodes: %w", targetYear, err)
	}

	copied, err := programtree.CopyToNextYear(tree, existing)
	if err != nil {
		return err
	}
	if _, err := h.store.Trees.Create(ctx, copied.Tree); err != nil {
		return fmt.Errorf("create tree %d: %w", targetYear, err)
	}
	if _, err := h.store.Versions.Create(ctx, v.CopyToYear(targetYear)); err != nil {
		return fmt.Errorf("create version %d: %w", targetYear, err)
	}

	h.log.Debug("version copied",
		logger.String("version", v.Identity.String()),
		logger.Year(targetYear),
		logger.Int("created_nodes", len(copied.Created)),
		logger.Int("reused_nodes", len(copied.Reused)),
		logger.Int("skipped_nodes", len(copied.Skipped)))
	return nil
}

// nextYearNodes resolves, for each node of tree, the node with the same code
// already stored in targetYear. An existing root is loaded with its subtree
// so the copy merges into it instead of duplicating its links.
func (h *PostponeVersionHandler) nextYearNodes(ctx context.Context, tree *programtree.ProgramTree, targetYear int) (programtree.NextYearNodes, error) {
	nodes := tree.AllNodes(nil)
	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	byYear, err := h.store.Nodes.ElementIDsByYear(ctx, ids)
	if err != nil {
		return nil, err
	}

	found := make(map[string]*programtree.Node)
	for _, n := range nodes {
		id, ok := byYear[n.ID][targetYear]
		if !ok {
			continue
		}
		if n == tree.Root {
			next, err := h.store.Trees.GetByNodeID(ctx, id)
			if err != nil {
				return nil, err
			}
			found[n.Code] = next.Root
			continue
		}
		next, err := h.store.Nodes.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		found[n.Code] = next
	}
	return func(code string) (*programtree.Node, bool) {
		n, ok := found[code]
		return n, ok
	}, nil
}
