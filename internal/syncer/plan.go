package syncer

import (
	"sort"

	"github.com/ethanmarq/google-canvas-calender-api/internal/models"
)

// BuildPlan orders the classified events into the operation list the writer
// executes: deletes first, then updates, then creates. Stale events leaving
// the calendar before new ones arrive means an interrupted run never holds
// both the old and new occupant of a time slot, and partial progress is
// always a strict subset of the remaining work. Within a category,
// operations are sorted by source id so two runs over the same input
// produce the same plan.
func BuildPlan(m MatchResult) []models.Operation {
	plan := make([]models.Operation, 0, len(m.Deletes)+len(m.Updates)+len(m.Creates))
	for _, ev := range sorted(m.Deletes) {
		plan = append(plan, models.Operation{Action: models.ActionDelete, Event: ev})
	}
	for _, ev := range sorted(m.Updates) {
		plan = append(plan, models.Operation{Action: models.ActionUpdate, Event: ev})
	}
	for _, ev := range sorted(m.Creates) {
		plan = append(plan, models.Operation{Action: models.ActionCreate, Event: ev})
	}
	return plan
}

func sorted(events []models.Event) []models.Event {
	out := make([]models.Event, len(events))
	copy(out, events)
	sort.Slice(out, func(i, j int) bool {
		return out[i].SourceID < out[j].SourceID
	})
	return out
}
