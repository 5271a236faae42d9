package models

import "time"

// PlaceholderTitle is substituted when the source omits a title entirely.
const PlaceholderTitle = "Untitled event"

// Event is the normalized calendar event the sync engine operates on.
// It is provider-independent: the Canvas fetcher and both destination
// clients all speak this type.
type Event struct {
	SourceID      string     // stable id assigned by Canvas, the reconciliation key
	Title         string     // never empty after normalization
	Start         time.Time  // with timezone
	End           *time.Time // nil for an instantaneous marker
	Description   string     // usually carries the Canvas URL
	DestinationID string     // empty until the event exists in the destination
}

// Equal reports whether two events carry the same user-visible fields.
// DestinationID is deliberately excluded: it identifies where the event
// lives, not what it says.
func (e Event) Equal(other Event) bool {
	if e.Title != other.Title || e.Description != other.Description {
		return false
	}
	if !e.Start.Equal(other.Start) {
		return false
	}
	if (e.End == nil) != (other.End == nil) {
		return false
	}
	if e.End != nil && !e.End.Equal(*other.End) {
		return false
	}
	return true
}

// Action classifies what the engine must do for one event.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionNoOp   Action = "noop"
)

func (a Action) String() string {
	return string(a)
}

// Operation is one planned mutation against the destination calendar.
type Operation struct {
	Action Action
	Event  Event
}

// Failure records one operation that could not be applied.
type Failure struct {
	SourceID string
	Action   Action
	Err      error
}

// Summary aggregates the outcome of a single run.
type Summary struct {
	RunID    string
	Created  int
	Updated  int
	Deleted  int
	Skipped  int // source items dropped at the fetch layer
	Failed   int
	Failures []Failure
}

// OK reports whether the run completed without any failed operation.
func (s Summary) OK() bool {
	return s.Failed == 0
}
