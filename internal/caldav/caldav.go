package caldav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/ethanmarq/google-canvas-calender-api/internal/models"
	"github.com/ethanmarq/google-canvas-calender-api/internal/syncer"
)

// propSourceID is the ownership marker on CalDAV destinations: a VEVENT
// carrying it was written by this system and names the Canvas item it
// mirrors. Events without it are never returned by ListManaged.
const propSourceID = "X-CANVASSYNC-ID"

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "canvassync/1.0")
	return t.Transport.RoundTrip(req)
}

// Client is the CalDAV destination, for calendars served by iCloud,
// Nextcloud, Radicale and the like.
type Client struct {
	caldavClient *caldav.Client
	logger       *slog.Logger
	calendarPath string
}

// NewClient connects to the CalDAV endpoint and locates the calendar with
// the given display name.
func NewClient(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string) (*Client, error) {
	transport := &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	c := &Client{
		caldavClient: caldavClient,
		logger:       logger,
	}

	logger.Info("Finding CalDAV calendar", "calendarName", calendarName)
	calendarPath, err := c.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar %q: %w", calendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Found CalDAV calendar", "path", calendarPath)

	return c, nil
}

// ListManaged queries the window for VEVENTs bearing the ownership marker.
func (c *Client) ListManaged(ctx context.Context, w syncer.Window) ([]models.Event, error) {
	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: w.Start,
				End:   w.End,
			}},
		},
	}

	objects, err := c.caldavClient.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncer.ErrDestinationUnavailable, err)
	}

	var out []models.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, comp := range obj.Data.Component.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			ev, ok := c.toInternalEvent(comp, obj.Path)
			if !ok {
				continue
			}
			out = append(out, ev)
		}
	}

	c.logger.Debug("Fetched managed events from CalDAV calendar", "count", len(out))
	return out, nil
}

// Insert creates a new calendar object and returns its resource path,
// which serves as the destination id.
func (c *Client) Insert(ctx context.Context, ev models.Event) (string, error) {
	objPath := path.Join(c.calendarPath, "canvassync-"+uuid.NewString()+".ics")
	if _, err := c.caldavClient.PutCalendarObject(ctx, objPath, c.toCalendar(ev)); err != nil {
		return "", mapError(err)
	}
	return objPath, nil
}

// Update replaces the calendar object at ev.DestinationID.
func (c *Client) Update(ctx context.Context, ev models.Event) error {
	_, err := c.caldavClient.PutCalendarObject(ctx, ev.DestinationID, c.toCalendar(ev))
	return mapError(err)
}

// Delete removes the calendar object at the given resource path.
func (c *Client) Delete(ctx context.Context, destinationID string) error {
	return mapError(c.caldavClient.RemoveAll(ctx, destinationID))
}

// toCalendar wraps the event in a VCALENDAR carrying the ownership marker.
func (c *Client) toCalendar(ev models.Event) *ical.Calendar {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, ev.SourceID+"@canvassync")
	ve.Props.SetText(propSourceID, ev.SourceID)
	ve.Props.SetText(ical.PropSummary, ev.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.UTC())
	if ev.End != nil {
		ve.Props.SetDateTime(ical.PropDateTimeEnd, ev.End.UTC())
	}
	if ev.Description != "" {
		ve.Props.SetText(ical.PropDescription, ev.Description)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//canvassync//EN")
	cal.Children = append(cal.Children, ve)
	return cal
}

// toInternalEvent recovers the internal model from a managed VEVENT. A
// component without the marker, or with unusable times, is invisible to
// the engine.
func (c *Client) toInternalEvent(comp *ical.Component, objPath string) (models.Event, bool) {
	sourceID := textProp(comp, propSourceID)
	if sourceID == "" {
		return models.Event{}, false
	}

	start, err := comp.Props.DateTime(ical.PropDateTimeStart, time.UTC)
	if err != nil || start.IsZero() {
		c.logger.Warn("Managed VEVENT has unusable start time, ignoring", "path", objPath)
		return models.Event{}, false
	}

	var end *time.Time
	endTime, err := comp.Props.DateTime(ical.PropDateTimeEnd, time.UTC)
	if err == nil && !endTime.IsZero() && !endTime.Equal(start) {
		end = &endTime
	}

	return models.Event{
		SourceID:      sourceID,
		Title:         textProp(comp, ical.PropSummary),
		Start:         start,
		End:           end,
		Description:   textProp(comp, ical.PropDescription),
		DestinationID: objPath,
	}, true
}

// findCalendar discovers the user's calendars and returns the path of the
// one with the matching display name.
func (c *Client) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name %q", name)
}

func textProp(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	// Text unescapes; Value would hand back "\n" as a literal backslash-n
	// and make every synced description look permanently changed.
	text, err := prop.Text()
	if err != nil {
		return prop.Value
	}
	return text
}

// mapError translates CalDAV failures into the engine's error vocabulary.
// go-webdav surfaces HTTP failures as "<code> <status text>" strings, so
// the status has to be sniffed from the message.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "404 "):
		return fmt.Errorf("%w: %v", syncer.ErrNotFound, err)
	case strings.Contains(msg, "429 "),
		strings.Contains(msg, "500 "),
		strings.Contains(msg, "502 "),
		strings.Contains(msg, "503 "),
		strings.Contains(msg, "504 "):
		return syncer.MarkTransient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return syncer.MarkTransient(err)
	}
	return err
}
