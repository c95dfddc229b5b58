// Package command contains the write use cases. Each handler validates its
// command, runs the change inside one transaction and publishes the domain
// events it produced once the transaction has committed.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/internal/infrastructure/metrics"
	"github.com/osis-hub/program-hub/pkg/logger"
)

// TreeStore groups the ports every tree-editing handler needs.
type TreeStore struct {
	Tx    shared.Transactor
	Trees programtree.Repository
	Nodes programtree.NodeRepository
}

func invalid(op, message string) error {
	return shared.NewDomainError("command", op, shared.ErrInvalidInput, message)
}

func parsePath(op, field, value string) (programtree.Path, error) {
	p, err := programtree.ParsePath(value)
	if err != nil {
		return "", invalid(op, fmt.Sprintf("%s: %v", field, err))
	}
	return p, nil
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

// isRejection reports errors caused by the request rather than the system.
func isRejection(err error) bool {
	return shared.IsValidation(err) ||
		shared.IsNotFound(err) ||
		shared.IsConflict(err) ||
		shared.IsAlreadyExists(err) ||
		shared.IsInvalidInput(err) ||
		errors.Is(err, shared.ErrInvalidState)
}

// finish logs and counts one execution.
func finish(log *logger.Logger, op string, start time.Time, err error, fields ...logger.Field) {
	fields = append(fields, logger.Operation(op), logger.Latency(time.Since(start)))
	switch {
	case err == nil:
		metrics.ObserveOperation(op, metrics.OutcomeSuccess, start)
		log.Info(op+" succeeded", fields...)
	case isRejection(err):
		metrics.ObserveOperation(op, metrics.OutcomeRejected, start)
		log.Warn(op+" rejected", append(fields, logger.Err(err))...)
	default:
		metrics.ObserveOperation(op, metrics.OutcomeError, start)
		log.Error(op+" failed", append(fields, logger.Err(err))...)
	}
}

// publish sends events after commit. A failed publish is logged only.
func publish(publisher shared.EventPublisher, log *logger.Logger, events ...shared.Event) {
	if publisher == nil {
		return
	}
	for _, e := range events {
		if err := publisher.Publish(e); err != nil {
			log.Error("failed to publish event", logger.String("event_type", string(e.EventType())), logger.Err(err))
		}
	}
}

// editTree loads a tree, applies edit and persists the diff in one transaction.
func editTree(ctx context.Context, store TreeStore, id programtree.TreeIdentity, edit func(ctx context.Context, tree *programtree.ProgramTree) error) error {
	return store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		tree, err := store.Trees.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("load tree: %w", err)
		}
		if err := edit(ctx, tree); err != nil {
			return err
		}
		if _, err := store.Trees.Update(ctx, tree); err != nil {
			return fmt.Errorf("persist tree: %w", err)
		}
		return nil
	})
}

func orDefault(log *logger.Logger) *logger.Logger {
	if log == nil {
		return logger.Default()
	}
	return log
}

// resolveChild returns the node to attach. A node already in the tree is
// reused so the tree keeps a single instance per node; otherwise the node
// is loaded with its stored subtree so cycle checks see its descendants.
func resolveChild(ctx context.Context, store TreeStore, tree *programtree.ProgramTree, code string, year int) (*programtree.Node, error) {
	if n, ok := tree.FindNode(code, year); ok {
		return n, nil
	}
	node, err := store.Nodes.GetByCode(ctx, code, year)
	if err != nil {
		return nil, err
	}
	if node.IsLearningUnit() {
		return node, nil
	}
	sub, err := store.Trees.GetByNodeID(ctx, node.ID)
	if err != nil {
		return nil, err
	}
	return sub.Root, nil
}
