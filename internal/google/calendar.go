package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ethanmarq/google-canvas-calender-api/internal/models"
	"github.com/ethanmarq/google-canvas-calender-api/internal/syncer"
)

const credentialsFile = "credentials.json"

// Ownership marker, stored as private extended properties. propManaged is a
// constant flag the Events.List call can filter on server-side; propSourceID
// carries the Canvas id that makes the event recognizable across runs.
// Events without these properties are never returned by ListManaged and so
// never touched.
const (
	propManaged  = "canvassyncManaged"
	managedValue = "true"
	propSourceID = "canvassyncSourceId"
)

// CalendarClient is the Google Calendar destination.
type CalendarClient struct {
	service    *calendar.Service
	calendarID string
	logger     *slog.Logger
}

// NewClient creates an authenticated Google Calendar client for the given
// calendar. The token must already exist on disk; run the auth command
// first.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, tokenFile, calendarID string) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token from %s: %w. Please run the 'auth' command first", tokenFile, err)
	}

	client := config.Client(ctx, token)
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &CalendarClient{service: service, calendarID: calendarID, logger: logger}, nil
}

// ListManaged fetches the events this system owns within the window,
// filtering on the ownership marker server-side so foreign events never
// reach the engine.
func (c *CalendarClient) ListManaged(ctx context.Context, w syncer.Window) ([]models.Event, error) {
	var out []models.Event
	pageToken := ""
	for {
		call := c.service.Events.List(c.calendarID).
			PrivateExtendedProperty(propManaged + "=" + managedValue).
			ShowDeleted(false).
			SingleEvents(true).
			TimeMin(w.Start.Format(time.RFC3339)).
			TimeMax(w.End.Format(time.RFC3339)).
			MaxResults(250).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", syncer.ErrDestinationUnavailable, err)
		}

		for _, item := range resp.Items {
			ev, ok := c.toInternalEvent(item)
			if !ok {
				continue
			}
			out = append(out, ev)
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	c.logger.Debug("Fetched managed events from Google Calendar", "count", len(out))
	return out, nil
}

// Insert creates the event and returns the Google event id.
func (c *CalendarClient) Insert(ctx context.Context, ev models.Event) (string, error) {
	created, err := c.service.Events.Insert(c.calendarID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return "", mapError(err)
	}
	return created.Id, nil
}

// Update replaces the mutable fields of the event at ev.DestinationID.
func (c *CalendarClient) Update(ctx context.Context, ev models.Event) error {
	_, err := c.service.Events.Update(c.calendarID, ev.DestinationID, toGoogleEvent(ev)).Context(ctx).Do()
	return mapError(err)
}

// Delete removes the event with the given Google event id.
func (c *CalendarClient) Delete(ctx context.Context, destinationID string) error {
	return mapError(c.service.Events.Delete(c.calendarID, destinationID).Context(ctx).Do())
}

// toInternalEvent converts a managed Google event back to the internal
// model. Events whose marker or times cannot be recovered are dropped here
// so the engine never sees them.
func (c *CalendarClient) toInternalEvent(item *calendar.Event) (models.Event, bool) {
	if item.ExtendedProperties == nil {
		return models.Event{}, false
	}
	sourceID := item.ExtendedProperties.Private[propSourceID]
	if sourceID == "" {
		return models.Event{}, false
	}
	if item.Start == nil || item.Start.DateTime == "" {
		c.logger.Warn("Managed event has no start time, ignoring", "eventID", item.Id)
		return models.Event{}, false
	}
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		c.logger.Warn("Managed event has invalid start time, ignoring", "eventID", item.Id)
		return models.Event{}, false
	}

	var end *time.Time
	if item.End != nil && item.End.DateTime != "" {
		t, err := time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			c.logger.Warn("Managed event has invalid end time, ignoring", "eventID", item.Id)
			return models.Event{}, false
		}
		// Zero-duration events round-trip to the instantaneous marker.
		if !t.Equal(start) {
			end = &t
		}
	}

	return models.Event{
		SourceID:      sourceID,
		Title:         item.Summary,
		Start:         start,
		End:           end,
		Description:   item.Description,
		DestinationID: item.Id,
	}, true
}

// toGoogleEvent converts the internal model to the API payload, embedding
// the ownership marker. An instantaneous event is written with equal start
// and end, since the API insists on an end time.
func toGoogleEvent(ev models.Event) *calendar.Event {
	end := ev.Start
	if ev.End != nil {
		end = *ev.End
	}
	return &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				propManaged:  managedValue,
				propSourceID: ev.SourceID,
			},
		},
	}
}

// mapError translates Google API failures into the engine's error
// vocabulary: 404/410 mean the target is gone, rate limits and server
// errors are worth retrying, everything else is terminal.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone:
			return fmt.Errorf("%w: %v", syncer.ErrNotFound, err)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return syncer.MarkTransient(err)
		default:
			return err
		}
	}
	// Anything without an HTTP status is a transport-level failure.
	return syncer.MarkTransient(err)
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config
// for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes environment variables over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the root directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob" // For desktop app flow
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(context.Background(), authCode)
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}
