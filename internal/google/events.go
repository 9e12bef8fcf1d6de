package google

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/quadhls/calsync/internal/calendar"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// DefaultCalendarID is the user's primary calendar.
	DefaultCalendarID = "primary"
	DefaultMaxResults = 2500

	maxIncrementalPages = 20
)

// Window bounds a full sync.
type Window struct {
	Start time.Time
	End   time.Time
}

// Page is the provider response for one sync fetch.
type Page struct {
	Items         []*gcal.Event
	NextSyncToken string
	TimeZone      string // calendar-level zone, used when an event carries none
}

// EventsClient reads events from the Google Calendar API.
type EventsClient struct {
	calendarID string
	endpoint   string
	maxResults int
	httpClient *http.Client
}

// EventsOption configures an EventsClient.
type EventsOption func(*EventsClient)

// WithAPIEndpoint points the client at a different API base URL.
func WithAPIEndpoint(endpoint string) EventsOption {
	return func(c *EventsClient) {
		c.endpoint = endpoint
	}
}

// WithMaxResults caps the number of events requested per page.
func WithMaxResults(n int) EventsOption {
	return func(c *EventsClient) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

// NewEventsClient creates a client for the given calendar. Every request is
// bounded by timeout.
func NewEventsClient(calendarID string, timeout time.Duration, opts ...EventsOption) *EventsClient {
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &EventsClient{
		calendarID: calendarID,
		maxResults: DefaultMaxResults,
		httpClient: &http.Client{Timeout: timeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FullSync fetches a single page of events inside window, ordered by start time.
func (c *EventsClient) FullSync(ctx context.Context, accessToken string, window Window) (*Page, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	res, err := svc.Events.List(c.calendarID).
		Context(ctx).
		TimeMin(window.Start.Format(time.RFC3339)).
		TimeMax(window.End.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(int64(c.maxResults)).
		Do()
	if err != nil {
		return nil, classifyAPIError(err)
	}

	return &Page{
		Items:         res.Items,
		NextSyncToken: res.NextSyncToken,
		TimeZone:      res.TimeZone,
	}, nil
}

// IncrementalSync fetches everything changed since cursor. Result pages are
// followed until the provider hands out the next sync token.
func (c *EventsClient) IncrementalSync(ctx context.Context, accessToken, cursor string) (*Page, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	page := &Page{}
	pageToken := ""
	for i := 0; i < maxIncrementalPages; i++ {
		call := svc.Events.List(c.calendarID).
			Context(ctx).
			SyncToken(cursor).
			SingleEvents(true).
			MaxResults(int64(c.maxResults))
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		res, err := call.Do()
		if err != nil {
			return nil, classifyAPIError(err)
		}

		page.Items = append(page.Items, res.Items...)
		if page.TimeZone == "" {
			page.TimeZone = res.TimeZone
		}
		if res.NextPageToken == "" {
			page.NextSyncToken = res.NextSyncToken
			return page, nil
		}
		pageToken = res.NextPageToken
	}

	// The cursor stays where it was; the next run picks up the remainder.
	log.Printf("Incremental sync for calendar %s stopped after %d pages", c.calendarID, maxIncrementalPages)
	return page, nil
}

func (c *EventsClient) service(ctx context.Context, accessToken string) (*gcal.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	hc := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), src)

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return svc, nil
}

// classifyAPIError maps an events endpoint failure onto an error kind.
// HTTP 410 Gone is how the provider reports an invalid sync token.
func classifyAPIError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == http.StatusGone {
		return fmt.Errorf("%w: %w", calendar.ErrCursorExpired, err)
	}
	return fmt.Errorf("%w: events endpoint: %w", calendar.ErrUpstreamUnavailable, err)
}
