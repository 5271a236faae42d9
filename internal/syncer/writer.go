package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ethanmarq/google-canvas-calender-api/internal/models"
)

const defaultMaxAttempts = 4

// Outcome is the result of applying one planned operation. Applied is what
// actually happened, which can differ from the plan: an update whose target
// was deleted externally is healed into a create.
type Outcome struct {
	Op      models.Operation
	Applied models.Action
	Err     error
}

// Writer executes a reconciliation plan against a destination. It is the
// only component with external side effects. Transient failures are
// retried with exponential backoff; one failed operation never aborts the
// rest of the plan.
type Writer struct {
	dest        Destination
	logger      *slog.Logger
	maxAttempts uint64
	newBackOff  func() backoff.BackOff
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithMaxAttempts caps how many times one operation is tried in total.
func WithMaxAttempts(n uint64) WriterOption {
	return func(w *Writer) { w.maxAttempts = n }
}

// WithBackOff replaces the retry backoff policy.
func WithBackOff(f func() backoff.BackOff) WriterOption {
	return func(w *Writer) { w.newBackOff = f }
}

// NewWriter creates a Writer targeting dest.
func NewWriter(logger *slog.Logger, dest Destination, opts ...WriterOption) *Writer {
	w := &Writer{
		dest:        dest,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Apply executes the plan in order and reports one Outcome per operation.
// Cancellation is honored between operations only; an in-flight operation
// always runs to completion so the destination never holds a half-applied
// write, and a write the server already committed is never misreported as
// failed. Operations not reached after cancellation are reported as failed
// with the context error.
func (w *Writer) Apply(ctx context.Context, plan []models.Operation) []Outcome {
	// Each operation runs detached from the run's cancellation; the check
	// at the top of the loop is the only stopping point.
	opCtx := context.WithoutCancel(ctx)
	outcomes := make([]Outcome, 0, len(plan))
	for i, op := range plan {
		if err := ctx.Err(); err != nil {
			w.logger.Warn("Run cancelled, skipping remaining operations", "remaining", len(plan)-i)
			for _, rest := range plan[i:] {
				outcomes = append(outcomes, Outcome{Op: rest, Err: err})
			}
			return outcomes
		}

		applied, err := w.applyOne(opCtx, op)
		if err != nil {
			w.logger.Error("Operation failed",
				"action", op.Action, "sourceID", op.Event.SourceID, "error", err)
		} else {
			w.logger.Info("Operation applied",
				"action", applied, "sourceID", op.Event.SourceID, "title", op.Event.Title)
		}
		outcomes = append(outcomes, Outcome{Op: op, Applied: applied, Err: err})
	}
	return outcomes
}

func (w *Writer) applyOne(ctx context.Context, op models.Operation) (models.Action, error) {
	switch op.Action {
	case models.ActionDelete:
		err := w.retry(ctx, func() error {
			return w.dest.Delete(ctx, op.Event.DestinationID)
		})
		if errors.Is(err, ErrNotFound) {
			// Already absent, which is the state we wanted.
			w.logger.Debug("Delete target already gone", "sourceID", op.Event.SourceID)
			return models.ActionDelete, nil
		}
		return models.ActionDelete, err

	case models.ActionUpdate:
		err := w.retry(ctx, func() error {
			return w.dest.Update(ctx, op.Event)
		})
		if errors.Is(err, ErrNotFound) {
			// The event was deleted out from under us; recreate it.
			w.logger.Info("Update target missing, creating instead", "sourceID", op.Event.SourceID)
			return models.ActionCreate, w.insert(ctx, op.Event)
		}
		return models.ActionUpdate, err

	case models.ActionCreate:
		return models.ActionCreate, w.insert(ctx, op.Event)

	default:
		return op.Action, nil
	}
}

func (w *Writer) insert(ctx context.Context, ev models.Event) error {
	return w.retry(ctx, func() error {
		_, err := w.dest.Insert(ctx, ev)
		return err
	})
}

// retry runs fn, retrying only errors a destination marked transient.
// Terminal failures surface immediately.
func (w *Writer) retry(ctx context.Context, fn func() error) error {
	attempt := func() error {
		err := fn()
		if err == nil || IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), w.maxAttempts-1), ctx)
	return backoff.Retry(attempt, b)
}
