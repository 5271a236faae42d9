package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethanmarq/google-canvas-calender-api/internal/models"
)

type fakeSource struct {
	events  []models.Event
	skipped int
	err     error
}

func (s *fakeSource) Fetch(ctx context.Context) ([]models.Event, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	return s.events, s.skipped, nil
}

func newTestRunner(source Source, dest Destination, opts ...RunnerOption) *Runner {
	w := newTestWriter(dest)
	return NewRunner(discardLogger(), source, dest, w, opts...)
}

func mustRun(t *testing.T, r *Runner) *models.Summary {
	t.Helper()
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return summary
}

func TestRunCreatesAllOnFreshDestination(t *testing.T) {
	source := &fakeSource{events: []models.Event{srcEvent("A", "Quiz 1"), srcEvent("B", "Essay")}}
	dest := newFakeDest()

	summary := mustRun(t, newTestRunner(source, dest))

	if summary.Created != 2 || summary.Updated != 0 || summary.Deleted != 0 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 2 creates only", summary)
	}
	if len(dest.events) != 2 {
		t.Errorf("len(dest.events) = %d, want 2", len(dest.events))
	}
}

func TestRunIsIdempotent(t *testing.T) {
	source := &fakeSource{events: []models.Event{srcEvent("A", "Quiz 1"), srcEvent("B", "Essay")}}
	dest := newFakeDest()
	r := newTestRunner(source, dest)

	mustRun(t, r)
	opsAfterFirst := len(dest.ops)
	summary := mustRun(t, r)

	if len(dest.ops) != opsAfterFirst {
		t.Errorf("second run issued %d writes, want 0", len(dest.ops)-opsAfterFirst)
	}
	if summary.Created+summary.Updated+summary.Deleted != 0 {
		t.Errorf("second run summary = %+v, want all zero", summary)
	}
}

func TestRunConvergesAfterSourceChanges(t *testing.T) {
	a := srcEvent("A", "Quiz 1")
	source := &fakeSource{events: []models.Event{a}}
	dest := newFakeDest()
	r := newTestRunner(source, dest)
	mustRun(t, r)

	// A is retitled, B appears.
	a2 := srcEvent("A", "Quiz 1 (moved)")
	b := srcEvent("B", "Essay")
	source.events = []models.Event{a2, b}
	summary := mustRun(t, r)

	if summary.Created != 1 || summary.Updated != 1 || summary.Deleted != 0 {
		t.Fatalf("summary = %+v, want 1 create + 1 update", summary)
	}

	// Now only B remains.
	source.events = []models.Event{b}
	summary = mustRun(t, r)

	if summary.Deleted != 1 || summary.Created != 0 || summary.Updated != 0 {
		t.Fatalf("summary = %+v, want 1 delete", summary)
	}

	// Destination now mirrors the source exactly.
	managed, err := dest.ListManaged(context.Background(), Window{})
	if err != nil {
		t.Fatal(err)
	}
	if len(managed) != 1 || managed[0].SourceID != "B" || !managed[0].Equal(b) {
		t.Errorf("destination = %+v, want exactly B", managed)
	}
}

func TestRunIsIdempotentBeyondDefaultWindow(t *testing.T) {
	// An assignment due further out than the default listing look-ahead:
	// the listing must be extended to cover it, or the second run would
	// miss the managed copy and create a duplicate.
	far := time.Now().Add(400 * 24 * time.Hour)
	farEnd := far.Add(30 * time.Minute)
	ev := models.Event{SourceID: "A", Title: "Final project", Start: far, End: &farEnd}
	source := &fakeSource{events: []models.Event{ev}}
	dest := newFakeDest()
	dest.honorWindow = true
	r := newTestRunner(source, dest)

	first := mustRun(t, r)
	if first.Created != 1 {
		t.Fatalf("first run Created = %d, want 1", first.Created)
	}

	second := mustRun(t, r)
	if second.Created != 0 || second.Updated != 0 || second.Deleted != 0 {
		t.Errorf("second run summary = %+v, want all zero", second)
	}
	if len(dest.events) != 1 {
		t.Errorf("len(dest.events) = %d, want 1 (no duplicate)", len(dest.events))
	}
}

func TestRunAbortsBeforeWritesOnSourceFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("canvas down")}
	dest := newFakeDest()
	dest.events["dest-1"] = destEvent("A", "Quiz 1", "dest-1")

	_, err := newTestRunner(source, dest).Run(context.Background())

	if err == nil {
		t.Fatal("expected run-level failure")
	}
	if len(dest.ops) != 0 {
		t.Errorf("writes happened despite fetch failure: %v", dest.ops)
	}
}

func TestRunAbortsBeforeWritesOnDestinationFailure(t *testing.T) {
	source := &fakeSource{events: []models.Event{srcEvent("A", "Quiz 1")}}
	dest := newFakeDest()
	dest.listErr = ErrDestinationUnavailable

	_, err := newTestRunner(source, dest).Run(context.Background())

	if !errors.Is(err, ErrDestinationUnavailable) {
		t.Fatalf("err = %v, want ErrDestinationUnavailable", err)
	}
	if len(dest.ops) != 0 {
		t.Errorf("writes happened despite fetch failure: %v", dest.ops)
	}
}

func TestRunRecordsFailuresAndContinues(t *testing.T) {
	source := &fakeSource{events: []models.Event{srcEvent("A", "Quiz 1"), srcEvent("B", "Essay")}}
	dest := newFakeDest()
	dest.fail(models.ActionCreate, "A", errors.New("invalid payload"))

	summary := mustRun(t, newTestRunner(source, dest))

	if summary.Created != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 created + 1 failed", summary)
	}
	if summary.OK() {
		t.Error("summary.OK() = true, want false with a failed operation")
	}
	if len(summary.Failures) != 1 {
		t.Fatalf("len(Failures) = %d, want 1", len(summary.Failures))
	}
	f := summary.Failures[0]
	if f.SourceID != "A" || f.Action != models.ActionCreate || f.Err == nil {
		t.Errorf("failure detail = %+v, want source id, action and cause", f)
	}
}

func TestRunPropagatesSkippedCount(t *testing.T) {
	source := &fakeSource{events: []models.Event{srcEvent("A", "Quiz 1")}, skipped: 3}
	dest := newFakeDest()

	summary := mustRun(t, newTestRunner(source, dest))

	if summary.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", summary.Skipped)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	source := &fakeSource{events: []models.Event{srcEvent("A", "Quiz 1")}}
	dest := newFakeDest()
	dest.events["dest-9"] = destEvent("Z", "Stale", "dest-9")

	summary := mustRun(t, newTestRunner(source, dest, WithDryRun()))

	if len(dest.ops) != 0 {
		t.Errorf("dry run issued writes: %v", dest.ops)
	}
	if summary.Created+summary.Updated+summary.Deleted+summary.Failed != 0 {
		t.Errorf("dry run summary = %+v, want all zero", summary)
	}
}

func TestRunDeleteBeforeCreateInWriteOrder(t *testing.T) {
	// Old event gone from the source, a new one occupies the same slot:
	// the destination must see the delete first.
	source := &fakeSource{events: []models.Event{srcEvent("new", "Makeup quiz")}}
	dest := newFakeDest()
	dest.events["dest-1"] = destEvent("old", "Quiz 1", "dest-1")

	mustRun(t, newTestRunner(source, dest))

	if len(dest.ops) != 2 || dest.ops[0] != "delete:dest-1" || dest.ops[1] != "create:new" {
		t.Errorf("write order = %v, want delete before create", dest.ops)
	}
}
