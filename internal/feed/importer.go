// Package feed imports a user's Canvas iCal feed into their calendar profile.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/quadhls/calsync/internal/activity"
	"github.com/quadhls/calsync/internal/calendar"
	"github.com/quadhls/calsync/internal/db"
)

const (
	userAgent    = "Mozilla/5.0"
	maxFeedBytes = 10 << 20

	untitled     = "Untitled Event"
	sourceCanvas = string(calendar.SourceCanvas)

	EventTypeAssignment = "assignment"
	EventTypeEvent      = "event"
)

var (
	ErrNoFeed      = errors.New("canvas feed URL not configured")
	ErrInvalidFeed = errors.New("invalid canvas feed")
)

// Store is the persistence the importer needs.
type Store interface {
	GetCanvasState(ctx context.Context, userID string) (*db.CanvasState, error)
	CommitCanvasImport(ctx context.Context, userID string, events []calendar.Event, syncedAt time.Time) error
}

// URLChecker validates a feed URL against the allowed Canvas host.
type URLChecker interface {
	ValidateFeedURL(rawURL, allowedHost string) error
}

// ActivityRecorder receives import progress for display.
type ActivityRecorder interface {
	StartSync(userID, source string)
	FinishSync(userID, source string, o activity.Outcome)
}

// SyncLogStore records one row per import.
type SyncLogStore interface {
	CreateSyncLog(ctx context.Context, entry *db.SyncLog) error
}

// Result is returned to the caller after a successful import.
type Result struct {
	Imported int    `json:"imported"`
	Message  string `json:"message"`
}

// Importer fetches, parses and stores Canvas calendar feeds.
type Importer struct {
	store      Store
	checker    URLChecker
	client     *http.Client
	canvasHost string
	lookBack   time.Duration
	lookAhead  time.Duration
	now        func() time.Time
	activity   ActivityRecorder
	logs       SyncLogStore

	bracketLink  *regexp.Regexp
	trailingLink *regexp.Regexp
}

// Option configures an Importer.
type Option func(*Importer)

// WithActivity reports imports to rec.
func WithActivity(rec ActivityRecorder) Option {
	return func(im *Importer) {
		im.activity = rec
	}
}

// WithSyncLogs writes a sync log row for every import.
func WithSyncLogs(logs SyncLogStore) Option {
	return func(im *Importer) {
		im.logs = logs
	}
}

// NewImporter creates an importer. The client should be the SSRF-guarded
// client from the validator package.
func NewImporter(store Store, checker URLChecker, client *http.Client, canvasHost string, lookBackDays, lookAheadDays int, opts ...Option) *Importer {
	host := regexp.QuoteMeta(strings.ToLower(canvasHost))
	im := &Importer{
		store:        store,
		checker:      checker,
		client:       client,
		canvasHost:   canvasHost,
		lookBack:     time.Duration(lookBackDays) * 24 * time.Hour,
		lookAhead:    time.Duration(lookAheadDays) * 24 * time.Hour,
		now:          time.Now,
		bracketLink:  regexp.MustCompile(`\[([^\]]+)\]\s*\((https://(?:[a-z0-9-]+\.)*` + host + `/[^)]+)\)`),
		trailingLink: regexp.MustCompile(`\s*\((https://(?:[a-z0-9-]+\.)*` + host + `/[^)]+)\)\s*$`),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Import replaces the user's Canvas events with the current contents of their feed.
func (im *Importer) Import(ctx context.Context, userID string) (*Result, error) {
	if userID == "" {
		return nil, calendar.ErrUnauthorized
	}

	start := time.Now()
	if im.activity != nil {
		im.activity.StartSync(userID, sourceCanvas)
	}

	result, err := im.importFeed(ctx, userID)
	im.finish(ctx, userID, result, err, time.Since(start))
	return result, err
}

func (im *Importer) importFeed(ctx context.Context, userID string) (*Result, error) {
	state, err := im.store.GetCanvasState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load canvas state: %w", calendar.ErrPersistenceFailure, err)
	}
	if state.FeedURL == "" {
		return nil, ErrNoFeed
	}
	if err := im.checker.ValidateFeedURL(state.FeedURL, im.canvasHost); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFeed, err)
	}

	body, err := im.fetch(ctx, state.FeedURL)
	if err != nil {
		return nil, err
	}

	events, err := im.Parse(body)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := im.store.CommitCanvasImport(ctx, userID, events, im.now()); err != nil {
		return nil, fmt.Errorf("%w: %w", calendar.ErrPersistenceFailure, err)
	}

	return &Result{
		Imported: len(events),
		Message:  fmt.Sprintf("Successfully imported %d events from Canvas", len(events)),
	}, nil
}

func (im *Importer) finish(ctx context.Context, userID string, result *Result, runErr error, duration time.Duration) {
	entry := &db.SyncLog{
		ID:       uuid.NewString(),
		UserID:   userID,
		Source:   sourceCanvas,
		Mode:     string(calendar.ModeFull),
		Status:   db.SyncStatusSuccess,
		Duration: duration,
	}
	outcome := activity.Outcome{Success: runErr == nil, Mode: entry.Mode}

	if runErr != nil {
		entry.Status = db.SyncStatusError
		entry.Message = Code(runErr)
		outcome.Message = entry.Message
		log.Printf("Canvas import failed for user %s: %v", userID, runErr)
	} else {
		entry.Imported = result.Imported
		entry.TotalEvents = result.Imported
		entry.Message = result.Message
		outcome.Imported = result.Imported
		outcome.TotalEvents = result.Imported
		outcome.Message = result.Message
		log.Printf("Canvas import completed for user %s: %d events in %v", userID, result.Imported, duration.Round(time.Millisecond))
	}

	if im.activity != nil {
		im.activity.FinishSync(userID, sourceCanvas, outcome)
	}

	if im.logs != nil {
		logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := im.logs.CreateSyncLog(logCtx, entry); err != nil {
			log.Printf("Failed to create sync log: %v", err)
		}
	}
}

func (im *Importer) fetch(ctx context.Context, feedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrInvalidFeed, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/calendar")

	resp, err := im.client.Do(req)
	if err != nil {
		// The feed URL carries a private token; keep it out of errors and logs.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("%w: failed to fetch canvas feed: %w", calendar.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: canvas feed returned status %d", calendar.ErrUpstreamUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read canvas feed: %w", calendar.ErrUpstreamUnavailable, err)
	}
	return body, nil
}

// Parse decodes an iCal document and maps the events inside the import window.
func (im *Importer) Parse(data []byte) ([]calendar.Event, error) {
	cal, err := ical.NewDecoder(strings.NewReader(string(data))).Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFeed, err)
	}

	now := im.now()
	from := now.Add(-im.lookBack)
	to := now.Add(im.lookAhead)

	events := make([]calendar.Event, 0)
	for _, ev := range cal.Events() {
		start := propValue(ev.Props, ical.PropDateTimeStart)
		day, ok := parseDay(start)
		if !ok {
			continue
		}
		if day.Before(truncateDay(from)) || day.After(truncateDay(to)) {
			continue
		}

		mapped, ok := im.mapEvent(ev.Props, start)
		if ok {
			events = append(events, mapped)
		}
	}
	return events, nil
}

func (im *Importer) mapEvent(props ical.Props, start string) (calendar.Event, bool) {
	due := propValue(props, ical.PropDateTimeEnd)
	if due == "" {
		due = propValue(props, ical.PropDue)
	}
	if due == "" {
		due = start
	}
	day, ok := parseDay(due)
	if !ok {
		return calendar.Event{}, false
	}

	id := propValue(props, ical.PropUID)
	if id == "" {
		id = "canvas-" + uuid.New().String()
	}
	summary := unescape(propValue(props, ical.PropSummary))
	title := summary
	if title == "" {
		title = untitled
	}

	rawDescription := unescape(propValue(props, ical.PropDescription))
	description, descURL := im.cleanDescription(rawDescription)
	location, locURL := im.cleanDescription(unescape(propValue(props, ical.PropLocation)))
	canvasURL := descURL
	if canvasURL == "" {
		canvasURL = locURL
	}

	return calendar.Event{
		ID:          id,
		Source:      calendar.SourceCanvas,
		Title:       title,
		Date:        day.Format("2006-01-02"),
		StartTime:   calendar.AllDayEndTime,
		EndTime:     calendar.AllDayEndTime,
		Location:    location,
		Description: description,
		EventType:   classify(summary, rawDescription),
		RawDueTime:  day.Format("20060102") + "T235900",
		CanvasURL:   canvasURL,
	}, true
}

// cleanDescription pulls the Canvas link out of text. A "[name] (url)" link
// collapses to its name and a trailing "(url)" is dropped.
func (im *Importer) cleanDescription(text string) (string, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}

	if m := im.bracketLink.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(im.bracketLink.ReplaceAllString(text, "$1")), m[2]
	}
	if m := im.trailingLink.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(im.trailingLink.ReplaceAllString(text, "")), m[1]
	}
	return text, ""
}

// Code returns the stable code for an import error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNoFeed):
		return "feed_not_configured"
	case errors.Is(err, ErrInvalidFeed):
		return "invalid_feed"
	default:
		return calendar.Code(err)
	}
}

func classify(summary, description string) string {
	if strings.Contains(strings.ToLower(description), "assignment") {
		return EventTypeAssignment
	}
	s := strings.ToLower(summary)
	for _, kw := range []string{"assignment", "challenge", "quiz", "exam"} {
		if strings.Contains(s, kw) {
			return EventTypeAssignment
		}
	}
	return EventTypeEvent
}

func propValue(props ical.Props, name string) string {
	if p := props.Get(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

// parseDay reads the YYYYMMDD prefix of an iCal DATE or DATE-TIME value.
// The wall-clock date is kept as written; no zone conversion is applied.
func parseDay(value string) (time.Time, bool) {
	if len(value) < 8 {
		return time.Time{}, false
	}
	day, err := time.Parse("20060102", value[:8])
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var unescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

// unescape reverses iCal TEXT escaping.
func unescape(s string) string {
	return strings.TrimSpace(unescaper.Replace(s))
}
