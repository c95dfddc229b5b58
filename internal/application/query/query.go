// Package query contains the read use cases. Queries never open a
// transaction: each reads a consistent snapshot through one repository call
// or one recursive link query.
package query

import (
	"errors"
	"fmt"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/internal/infrastructure/metrics"
	"github.com/osis-hub/program-hub/pkg/logger"
)

func invalid(op, message string) error {
	return shared.NewDomainError("query", op, shared.ErrInvalidInput, message)
}

func validateTreeIdentity(op string, id programtree.TreeIdentity) error {
	if id.Code == "" {
		return invalid(op, "tree code is required")
	}
	if _, err := shared.NewAcademicYear(id.Year); err != nil {
		return invalid(op, fmt.Sprintf("tree year: %v", err))
	}
	return nil
}

// observe records one query execution. Lookups of missing data count as
// rejected, not as failures.
func observe(log *logger.Logger, op string, start time.Time, err error) {
	switch {
	case err == nil:
		metrics.ObserveOperation(op, metrics.OutcomeSuccess, start)
		log.Debug(op+" served", logger.Operation(op), logger.Latency(time.Since(start)))
	case shared.IsNotFound(err) || shared.IsInvalidInput(err) || errors.Is(err, shared.ErrValidation):
		metrics.ObserveOperation(op, metrics.OutcomeRejected, start)
	default:
		metrics.ObserveOperation(op, metrics.OutcomeError, start)
		log.Error(op+" failed", logger.Operation(op), logger.Latency(time.Since(start)), logger.Err(err))
	}
}

func orDefault(log *logger.Logger) *logger.Logger {
	if log == nil {
		return logger.Default()
	}
	return log
}
