package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethanmarq/google-canvas-calender-api/internal/models"
)

// Fetch-layer errors. A whole-run abort only ever carries one of these;
// single bad items are skipped, not raised.
var (
	ErrUnavailable = errors.New("canvas: API unavailable")
	ErrMalformed   = errors.New("canvas: malformed response")
	ErrAuthExpired = errors.New("canvas: access token rejected")
)

const perPage = 50

// Client fetches upcoming calendar items from the Canvas REST API.
type Client struct {
	baseURL               string
	token                 string
	httpClient            *http.Client
	logger                *slog.Logger
	courseIDs             []int64
	daysAhead             int
	includeCalendarEvents bool

	now func() time.Time // overridable in tests
}

// Option configures a Client.
type Option func(*Client)

// WithCourses restricts assignment fetching to the given course ids.
// Without it, assignments for all enrolled courses are fetched.
func WithCourses(ids []int64) Option {
	return func(c *Client) { c.courseIDs = ids }
}

// WithWindow sets how many days ahead of now the fetch window extends.
func WithWindow(days int) Option {
	return func(c *Client) { c.daysAhead = days }
}

// WithCalendarEvents also fetches course calendar entries, not just
// assignment due dates.
func WithCalendarEvents() Option {
	return func(c *Client) { c.includeCalendarEvents = true }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Canvas API client authenticated with a bearer token.
func NewClient(logger *slog.Logger, baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		daysAhead:  30,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// result accumulates one source fetch: the normalized events plus how many
// raw items were dropped at the parse boundary.
type result struct {
	Events  []models.Event
	Skipped int
}

// Fetch retrieves all upcoming Canvas items in the configured window and
// normalizes them. Items that cannot be normalized are skipped with a
// warning and counted in the returned skip count; duplicate source ids
// keep the first occurrence.
func (c *Client) Fetch(ctx context.Context) ([]models.Event, int, error) {
	res := &result{}

	if err := c.fetchAssignments(ctx, res); err != nil {
		return nil, 0, err
	}
	if c.includeCalendarEvents {
		if err := c.fetchCalendarEvents(ctx, res); err != nil {
			return nil, 0, err
		}
	}

	events, dropped := dedupe(c.logger, res.Events)
	return events, res.Skipped + dropped, nil
}

// assignment is the subset of the Canvas assignment payload we consume.
type assignment struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	DueAt   string `json:"due_at"`
	HTMLURL string `json:"html_url"`
}

// calendarEvent is the subset of the Canvas calendar_events payload we consume.
type calendarEvent struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
	HTMLURL string `json:"html_url"`
}

func (c *Client) fetchAssignments(ctx context.Context, res *result) error {
	var endpoints []string
	if len(c.courseIDs) == 0 {
		endpoints = []string{c.baseURL + "/users/self/assignments"}
	} else {
		for _, id := range c.courseIDs {
			endpoints = append(endpoints, fmt.Sprintf("%s/courses/%d/assignments", c.baseURL, id))
		}
	}

	params := url.Values{}
	params.Set("bucket", "upcoming")
	params.Set("per_page", fmt.Sprint(perPage))

	for _, endpoint := range endpoints {
		err := c.paginate(ctx, endpoint+"?"+params.Encode(), func(raw json.RawMessage) {
			var a assignment
			if err := json.Unmarshal(raw, &a); err != nil || a.ID == 0 {
				c.logger.Warn("Skipping unparseable assignment item", "error", err)
				res.Skipped++
				return
			}
			ev, ok := c.normalizeAssignment(a)
			if !ok {
				res.Skipped++
				return
			}
			res.Events = append(res.Events, ev)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) fetchCalendarEvents(ctx context.Context, res *result) error {
	now := c.now().UTC()
	params := url.Values{}
	params.Set("type", "event")
	params.Set("per_page", fmt.Sprint(perPage))
	params.Set("start_date", now.Format(time.RFC3339))
	params.Set("end_date", now.AddDate(0, 0, c.daysAhead).Format(time.RFC3339))
	for _, id := range c.courseIDs {
		params.Add("context_codes[]", fmt.Sprintf("course_%d", id))
	}

	endpoint := c.baseURL + "/calendar_events?" + params.Encode()
	return c.paginate(ctx, endpoint, func(raw json.RawMessage) {
		var e calendarEvent
		if err := json.Unmarshal(raw, &e); err != nil || e.ID == 0 {
			c.logger.Warn("Skipping unparseable calendar item", "error", err)
			res.Skipped++
			return
		}
		ev, ok := c.normalizeCalendarEvent(e)
		if !ok {
			res.Skipped++
			return
		}
		res.Events = append(res.Events, ev)
	})
}

// normalizeAssignment maps a Canvas assignment onto a one-hour event ending
// at the due time, the same shape the destination has always carried.
func (c *Client) normalizeAssignment(a assignment) (models.Event, bool) {
	if a.DueAt == "" {
		c.logger.Debug("Assignment has no due date, skipping", "id", a.ID, "name", a.Name)
		return models.Event{}, false
	}
	due, err := time.Parse(time.RFC3339, a.DueAt)
	if err != nil {
		c.logger.Warn("Assignment has invalid due date, skipping", "id", a.ID, "due_at", a.DueAt)
		return models.Event{}, false
	}

	name := a.Name
	if name == "" {
		name = models.PlaceholderTitle
	}
	description := fmt.Sprintf("Due: %s", name)
	if a.HTMLURL != "" {
		description += fmt.Sprintf("\nView in Canvas: %s", a.HTMLURL)
	}

	end := due
	return models.Event{
		SourceID:    fmt.Sprintf("assignment-%d", a.ID),
		Title:       fmt.Sprintf("Assignment: %s", name),
		Start:       due.Add(-time.Hour),
		End:         &end,
		Description: description,
	}, true
}

func (c *Client) normalizeCalendarEvent(e calendarEvent) (models.Event, bool) {
	if e.StartAt == "" {
		c.logger.Debug("Calendar entry has no start time, skipping", "id", e.ID)
		return models.Event{}, false
	}
	start, err := time.Parse(time.RFC3339, e.StartAt)
	if err != nil {
		c.logger.Warn("Calendar entry has invalid start time, skipping", "id", e.ID, "start_at", e.StartAt)
		return models.Event{}, false
	}

	var end *time.Time
	if e.EndAt != "" {
		t, err := time.Parse(time.RFC3339, e.EndAt)
		if err != nil {
			c.logger.Warn("Calendar entry has invalid end time, skipping", "id", e.ID, "end_at", e.EndAt)
			return models.Event{}, false
		}
		if t.Before(start) {
			c.logger.Warn("Calendar entry ends before it starts, skipping", "id", e.ID)
			return models.Event{}, false
		}
		end = &t
	}

	title := e.Title
	if title == "" {
		title = models.PlaceholderTitle
	}
	description := ""
	if e.HTMLURL != "" {
		description = fmt.Sprintf("View in Canvas: %s", e.HTMLURL)
	}

	return models.Event{
		SourceID:    fmt.Sprintf("event-%d", e.ID),
		Title:       title,
		Start:       start,
		End:         end,
		Description: description,
	}, true
}

// paginate GETs the endpoint and follows Link rel="next" headers until
// exhausted, invoking handle for every array element.
func (c *Client) paginate(ctx context.Context, endpoint string, handle func(json.RawMessage)) error {
	for endpoint != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		next, err := c.consumePage(resp, handle)
		if err != nil {
			return err
		}
		endpoint = next
	}
	return nil
}

func (c *Client) consumePage(resp *http.Response, handle func(json.RawMessage)) (string, error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", fmt.Errorf("%w: HTTP 401", ErrAuthExpired)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, raw := range items {
		handle(raw)
	}

	return nextLink(resp.Header.Get("Link")), nil
}

// nextLink extracts the rel="next" URL from a Canvas Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		sections := strings.Split(part, ";")
		if len(sections) < 2 {
			continue
		}
		if strings.TrimSpace(sections[1]) != `rel="next"` {
			continue
		}
		u := strings.TrimSpace(sections[0])
		return strings.Trim(u, "<>")
	}
	return ""
}

// dedupe drops later occurrences of a source id and reports how many it
// dropped. Duplicates are a source defect; first occurrence wins so
// repeated runs resolve them identically.
func dedupe(logger *slog.Logger, events []models.Event) ([]models.Event, int) {
	seen := make(map[string]bool, len(events))
	out := events[:0]
	dropped := 0
	for _, ev := range events {
		if seen[ev.SourceID] {
			logger.Warn("Duplicate source id in fetch, keeping first occurrence", "sourceID", ev.SourceID)
			dropped++
			continue
		}
		seen[ev.SourceID] = true
		out = append(out, ev)
	}
	return out, dropped
}
