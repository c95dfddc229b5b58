package eventhandler

import (
	"log/slog"

	"github.com/osis-hub/program-hub/internal/domain/shared"
)

// AuditLogger writes one structured line per domain event.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates an AuditLogger.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger.With("component", "audit")}
}

// Register subscribes the logger to every event.
func (a *AuditLogger) Register(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(a.Handle)
}

// Handle implements shared.EventHandler.
func (a *AuditLogger) Handle(event shared.Event) error {
	a.logger.Info("domain event",
		"event_id", event.EventID(),
		"event_type", event.EventType(),
		"aggregate_id", event.AggregateID(),
		"occurred_at", event.OccurredAt(),
		"payload", event.Payload(),
	)
	return nil
}
