package ics

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/emersion/go-ical"

	"github.com/ethanmarq/google-canvas-calender-api/internal/models"
)

// Export writes the events as an iCalendar stream, one VEVENT per event,
// sorted by source id so the output is stable across runs.
func Export(w io.Writer, events []models.Event) error {
	sorted := make([]models.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SourceID < sorted[j].SourceID
	})

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//canvassync//EN")

	now := time.Now().UTC()
	for _, ev := range sorted {
		ve := ical.NewComponent(ical.CompEvent)
		ve.Props.SetText(ical.PropUID, ev.SourceID+"@canvassync")
		ve.Props.SetText(ical.PropSummary, ev.Title)
		ve.Props.SetDateTime(ical.PropDateTimeStamp, now)
		ve.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.UTC())
		if ev.End != nil {
			ve.Props.SetDateTime(ical.PropDateTimeEnd, ev.End.UTC())
		}
		if ev.Description != "" {
			ve.Props.SetText(ical.PropDescription, ev.Description)
		}
		cal.Children = append(cal.Children, ve)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}
