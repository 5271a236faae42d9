package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/ethanmarq/google-canvas-calender-api/internal/models"
)

// ErrNotFound marks a 404-equivalent from the destination API: the targeted
// event no longer exists there. The writer heals these rather than failing.
var ErrNotFound = errors.New("destination event not found")

// ErrDestinationUnavailable marks a destination read failure that must
// abort the run before any write happens.
var ErrDestinationUnavailable = errors.New("destination unavailable")

// Window is the time range a destination listing must cover. It always
// spans at least the union of the source events' times.
type Window struct {
	Start time.Time
	End   time.Time
}

// Destination is the mutable calendar the engine converges toward the
// source. Implementations must only ever return events carrying the
// ownership marker from ListManaged; everything else on the calendar is
// invisible to the engine. Mutating calls wrap 404-equivalents in
// ErrNotFound and mark retryable failures with MarkTransient.
type Destination interface {
	// ListManaged returns the events this system owns, with DestinationID
	// populated and SourceID recovered from the ownership marker.
	ListManaged(ctx context.Context, w Window) ([]models.Event, error)

	// Insert creates the event and returns its new destination id.
	Insert(ctx context.Context, ev models.Event) (string, error)

	// Update replaces the mutable fields of the event identified by
	// ev.DestinationID.
	Update(ctx context.Context, ev models.Event) error

	// Delete removes the event with the given destination id.
	Delete(ctx context.Context, destinationID string) error
}

// Source yields the normalized source event set plus the number of raw
// items skipped at the parse boundary.
type Source interface {
	Fetch(ctx context.Context) (events []models.Event, skipped int, err error)
}

// transientError tags an error as retryable (timeout, rate limit, 5xx).
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so the writer knows a retry may succeed.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable by a destination.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
