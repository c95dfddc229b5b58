// Package eventhandler contains the subscribers of domain events.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON TREE CHANGED HANDLER
// Drops the cached link traversals whenever a committed change may have
// altered the link table.
// ═══════════════════════════════════════════════════════════════════════════

// TraversalInvalidator drops cached traversal results.
type TraversalInvalidator interface {
	Invalidate(ctx context.Context) error
}

// LinkChangingEvents are the events after which cached traversals are stale.
var LinkChangingEvents = []shared.EventType{
	shared.EventLinkAttached,
	shared.EventLinkDetached,
	shared.EventLinkMoved,
	shared.EventLinkUpdated,
	shared.EventTreeVersionCreated,
	shared.EventTreeVersionPostponed,
	shared.EventTreeVersionDeleted,
}

// OnTreeChangedHandler invalidates the traversal cache.
type OnTreeChangedHandler struct {
	cache   TraversalInvalidator
	timeout time.Duration
	logger  *slog.Logger
}

// NewOnTreeChangedHandler creates the handler. A zero timeout uses 5 seconds.
func NewOnTreeChangedHandler(cache TraversalInvalidator, timeout time.Duration, logger *slog.Logger) *OnTreeChangedHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OnTreeChangedHandler{cache: cache, timeout: timeout, logger: logger}
}

// Register subscribes the handler to every link-changing event.
func (h *OnTreeChangedHandler) Register(bus shared.EventSubscriber) error {
	for _, t := range LinkChangingEvents {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle implements shared.EventHandler.
func (h *OnTreeChangedHandler) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx); err != nil {
		h.logger.Warn("traversal cache invalidation failed",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
		return fmt.Errorf("invalidate traversal cache: %w", err)
	}
	h.logger.Debug("traversal cache invalidated",
		"event_type", event.EventType(),
		"aggregate_id", event.AggregateID(),
	)
	return nil
}
