package syncer

import (
	"github.com/ethanmarq/google-canvas-calender-api/internal/models"
)

// MatchResult is the classified outcome of pairing source events against
// the destination's managed events.
type MatchResult struct {
	Creates   []models.Event // in source, not in destination
	Updates   []models.Event // in both, fields differ; DestinationID populated
	Deletes   []models.Event // managed in destination, gone from source
	Unchanged int
}

// Match pairs source events to destination events by SourceID and
// classifies each into create, update, delete or no-op. Matching is by
// SourceID only; fuzzy matching on title or time would risk false merges
// and make runs non-deterministic.
func Match(source, destination []models.Event) MatchResult {
	var res MatchResult
	byID := make(map[string]models.Event, len(destination))
	seenDest := make(map[string]bool, len(destination))
	for _, d := range destination {
		if seenDest[d.DestinationID] {
			// The same destination event listed twice (overlapping listing
			// windows); one copy is enough.
			continue
		}
		seenDest[d.DestinationID] = true
		if d.SourceID == "" {
			// A destination event without a recovered source id has no
			// identity; leave it alone.
			continue
		}
		if _, dup := byID[d.SourceID]; dup {
			// A second destination event for the same source item is a
			// duplicate (e.g. a crash between insert and response);
			// deleting the surplus copy heals it.
			res.Deletes = append(res.Deletes, d)
			continue
		}
		byID[d.SourceID] = d
	}
	consulted := make(map[string]bool, len(source))
	for _, s := range source {
		consulted[s.SourceID] = true
		d, ok := byID[s.SourceID]
		if !ok {
			res.Creates = append(res.Creates, s)
			continue
		}
		if s.Equal(d) {
			res.Unchanged++
			continue
		}
		s.DestinationID = d.DestinationID
		res.Updates = append(res.Updates, s)
	}

	for _, d := range destination {
		if d.SourceID == "" || consulted[d.SourceID] {
			continue
		}
		consulted[d.SourceID] = true
		res.Deletes = append(res.Deletes, d)
	}
	return res
}
