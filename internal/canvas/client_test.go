package canvas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	opts = append(opts, WithHTTPClient(srv.Client()))
	return NewClient(discardLogger(), srv.URL+"/api/v1", "test-token", opts...)
}

func TestFetchNormalizesAssignments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		fmt.Fprint(w, `[{"id": 42, "name": "Quiz 1", "due_at": "2026-03-10T10:30:00Z", "html_url": "https://canvas.example.com/courses/1/assignments/42"}]`)
	}))
	defer srv.Close()

	events, skipped, err := newTestClient(srv).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.SourceID != "assignment-42" {
		t.Errorf("SourceID = %q, want %q", ev.SourceID, "assignment-42")
	}
	if ev.Title != "Assignment: Quiz 1" {
		t.Errorf("Title = %q, want %q", ev.Title, "Assignment: Quiz 1")
	}
	wantDue := time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)
	if !ev.Start.Equal(wantDue.Add(-time.Hour)) {
		t.Errorf("Start = %v, want one hour before the due time", ev.Start)
	}
	if ev.End == nil || !ev.End.Equal(wantDue) {
		t.Errorf("End = %v, want the due time", ev.End)
	}
	if ev.Description != "Due: Quiz 1\nView in Canvas: https://canvas.example.com/courses/1/assignments/42" {
		t.Errorf("Description = %q", ev.Description)
	}
}

func TestFetchFollowsPagination(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"id": 2, "name": "Essay", "due_at": "2026-03-12T23:59:00Z"}]`)
			return
		}
		next := srv.URL + "/api/v1/users/self/assignments?page=2"
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next", <%s>; rel="last"`, next, next))
		fmt.Fprint(w, `[{"id": 1, "name": "Quiz 1", "due_at": "2026-03-10T10:30:00Z"}]`)
	}))
	defer srv.Close()

	events, _, err := newTestClient(srv).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 across pages", len(events))
	}
	if events[0].SourceID != "assignment-1" || events[1].SourceID != "assignment-2" {
		t.Errorf("events = %v, %v", events[0].SourceID, events[1].SourceID)
	}
}

func TestFetchSkipsBadItemsWithoutAborting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id": 1, "name": "Quiz 1", "due_at": "2026-03-10T10:30:00Z"},
			{"name": "No id"},
			{"id": 3, "name": "No due date"},
			{"id": 4, "name": "Bad due date", "due_at": "tomorrow-ish"},
			"not even an object"
		]`)
	}))
	defer srv.Close()

	events, skipped, err := newTestClient(srv).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(events) != 1 || events[0].SourceID != "assignment-1" {
		t.Errorf("events = %v, want only assignment-1", events)
	}
	if skipped != 4 {
		t.Errorf("skipped = %d, want 4", skipped)
	}
}

func TestFetchSubstitutesPlaceholderTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id": 7, "due_at": "2026-03-10T10:30:00Z"}]`)
	}))
	defer srv.Close()

	events, _, err := newTestClient(srv).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if events[0].Title != "Assignment: Untitled event" {
		t.Errorf("Title = %q, want placeholder", events[0].Title)
	}
}

func TestFetchDeduplicatesFirstWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id": 1, "name": "First", "due_at": "2026-03-10T10:30:00Z"},
			{"id": 1, "name": "Second", "due_at": "2026-03-11T10:30:00Z"}
		]`)
	}))
	defer srv.Close()

	events, skipped, err := newTestClient(srv).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(events) != 1 || events[0].Title != "Assignment: First" {
		t.Errorf("events = %+v, want only the first occurrence", events)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want the dropped duplicate counted", skipped)
	}
}

func TestFetchPerCourseScope(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	_, _, err := newTestClient(srv, WithCourses([]int64{101, 202})).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	want := []string{"/api/v1/courses/101/assignments", "/api/v1/courses/202/assignments"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestFetchIncludesCalendarEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/calendar_events" {
			fmt.Fprint(w, `[{"id": 9, "title": "Lecture", "start_at": "2026-03-11T09:00:00Z", "end_at": "2026-03-11T10:00:00Z"}]`)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	events, _, err := newTestClient(srv, WithCalendarEvents()).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(events) != 1 || events[0].SourceID != "event-9" {
		t.Fatalf("events = %+v, want single calendar event", events)
	}
	if events[0].Title != "Lecture" || events[0].End == nil {
		t.Errorf("event = %+v", events[0])
	}
}

func TestFetchCalendarEventWithoutEndIsInstantaneous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/calendar_events" {
			fmt.Fprint(w, `[{"id": 9, "title": "Deadline", "start_at": "2026-03-11T09:00:00Z"}]`)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	events, _, err := newTestClient(srv, WithCalendarEvents()).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if events[0].End != nil {
		t.Errorf("End = %v, want nil for an instantaneous entry", events[0].End)
	}
}

func TestFetchUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, _, err := newTestClient(srv).Fetch(context.Background())
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("err = %v, want ErrAuthExpired", err)
	}
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, _, err := newTestClient(srv).Fetch(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestFetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": "this is not an array"}`)
	}))
	defer srv.Close()

	_, _, err := newTestClient(srv).Fetch(context.Background())
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestNextLink(t *testing.T) {
	header := `<https://canvas.example.com/api/v1/courses?page=2&per_page=10>; rel="next", <https://canvas.example.com/api/v1/courses?page=1&per_page=10>; rel="first"`
	if got := nextLink(header); got != "https://canvas.example.com/api/v1/courses?page=2&per_page=10" {
		t.Errorf("nextLink = %q", got)
	}
	if got := nextLink(`<https://canvas.example.com/x>; rel="last"`); got != "" {
		t.Errorf("nextLink without next = %q, want empty", got)
	}
	if got := nextLink(""); got != "" {
		t.Errorf("nextLink(\"\") = %q, want empty", got)
	}
}
