package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ethanmarq/google-canvas-calender-api/internal/models"
)

// The default destination listing window. Look-back catches managed events
// whose source item recently disappeared; the look-ahead is extended at run
// time whenever the source set reaches further out.
const (
	windowLookBack  = 60 * 24 * time.Hour
	windowLookAhead = 365 * 24 * time.Hour
)

// sourceHorizon returns the latest instant any source event touches.
func sourceHorizon(events []models.Event) (time.Time, bool) {
	var max time.Time
	for _, ev := range events {
		t := ev.Start
		if ev.End != nil && ev.End.After(t) {
			t = *ev.End
		}
		if t.After(max) {
			max = t
		}
	}
	return max, !max.IsZero()
}

// Runner orchestrates one full run: fetch source and destination, match,
// plan, write, summarize. It holds no state across runs; all cross-run
// identity is recovered from the ownership marker on destination events.
// A single Runner assumes it is the only writer against the destination
// calendar; concurrent runs may race.
type Runner struct {
	logger *slog.Logger
	source Source
	dest   Destination
	writer *Writer
	dryRun bool
	now    func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithDryRun logs the plan without executing any write.
func WithDryRun() RunnerOption {
	return func(r *Runner) { r.dryRun = true }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner wires a source, a destination and a writer into a Runner.
func NewRunner(logger *slog.Logger, source Source, dest Destination, writer *Writer, opts ...RunnerOption) *Runner {
	r := &Runner{
		logger: logger,
		source: source,
		dest:   dest,
		writer: writer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one synchronization cycle and returns its summary. A fetch
// failure on either side aborts before any write: partial reads must never
// turn into partial destructive writes.
func (r *Runner) Run(ctx context.Context) (*models.Summary, error) {
	runID := uuid.NewString()[:8]
	logger := r.logger.With("runID", runID)
	logger.Info("Starting sync run")

	var (
		sourceEvents []models.Event
		skipped      int
		destEvents   []models.Event
	)

	now := r.now()
	window := Window{Start: now.Add(-windowLookBack), End: now.Add(windowLookAhead)}

	// The two fetches are independent and read-only; run them concurrently.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sourceEvents, skipped, err = r.source.Fetch(gctx)
		if err != nil {
			return fmt.Errorf("source fetch failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		destEvents, err = r.dest.ListManaged(gctx, window)
		if err != nil {
			return fmt.Errorf("destination fetch failed: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The listing must cover the union of the source event times, and the
	// source horizon is unbounded. If it outruns the default window, list
	// the remainder too; otherwise an event mirrored beyond the window
	// would look missing and be re-created on every run.
	if horizon, ok := sourceHorizon(sourceEvents); ok && horizon.After(window.End) {
		more, err := r.dest.ListManaged(ctx, Window{Start: window.End, End: horizon.Add(24 * time.Hour)})
		if err != nil {
			return nil, fmt.Errorf("destination fetch failed: %w", err)
		}
		destEvents = append(destEvents, more...)
	}

	logger.Info("Fetched both calendars",
		"sourceEvents", len(sourceEvents), "sourceSkipped", skipped, "managedEvents", len(destEvents))

	match := Match(sourceEvents, destEvents)
	plan := BuildPlan(match)
	logger.Info("Reconciliation plan ready",
		"deletes", len(match.Deletes), "updates", len(match.Updates),
		"creates", len(match.Creates), "unchanged", match.Unchanged)

	summary := &models.Summary{RunID: runID, Skipped: skipped}

	if r.dryRun {
		for _, op := range plan {
			logger.Info("[DRY RUN] Would apply operation",
				"action", op.Action, "sourceID", op.Event.SourceID, "title", op.Event.Title)
		}
		return summary, nil
	}

	for _, outcome := range r.writer.Apply(ctx, plan) {
		if outcome.Err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, models.Failure{
				SourceID: outcome.Op.Event.SourceID,
				Action:   outcome.Op.Action,
				Err:      outcome.Err,
			})
			continue
		}
		switch outcome.Applied {
		case models.ActionCreate:
			summary.Created++
		case models.ActionUpdate:
			summary.Updated++
		case models.ActionDelete:
			summary.Deleted++
		}
	}

	logger.Info("Sync run finished",
		"created", summary.Created, "updated", summary.Updated,
		"deleted", summary.Deleted, "skipped", summary.Skipped, "failed", summary.Failed)
	return summary, nil
}
