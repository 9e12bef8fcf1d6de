package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quadhls/calsync/internal/activity"
	"github.com/quadhls/calsync/internal/auth"
	"github.com/quadhls/calsync/internal/calendar"
	"github.com/quadhls/calsync/internal/connect"
	"github.com/quadhls/calsync/internal/db"
	"github.com/quadhls/calsync/internal/engine"
	"github.com/quadhls/calsync/internal/feed"
)

const healthCheckTimeout = 3 * time.Second

// Syncer runs Google Calendar syncs.
type Syncer interface {
	Run(ctx context.Context, userID string) (*engine.SyncResult, error)
	WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error
}

// Authorizer drives the Google authorization flow.
type Authorizer interface {
	Start(userID, returnTo string) (*connect.StartResult, error)
	Complete(ctx context.Context, p connect.CallbackParams) (string, error)
}

// CanvasImporter imports a user's Canvas feed.
type CanvasImporter interface {
	Import(ctx context.Context, userID string) (*feed.Result, error)
}

// FeedValidator checks a Canvas feed URL before it is stored.
type FeedValidator interface {
	ValidateFeedURL(rawURL, allowedHost string) error
}

// Store is the read and reset side of the persistence gateway used by handlers.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*db.Profile, error)
	GetEvents(ctx context.Context, userID string) ([]calendar.Event, error)
	Disconnect(ctx context.Context, userID string) error
	SetCanvasFeed(ctx context.Context, userID, feedURL string) error
	GetSyncLogs(ctx context.Context, userID string, limit int) ([]*db.SyncLog, error)
	Ping(ctx context.Context) error
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	store      Store
	syncer     Syncer
	authorizer Authorizer
	canvas     CanvasImporter
	feeds      FeedValidator
	activity   *activity.Tracker
	session    *auth.SessionManager
	canvasHost string
}

// Dependencies are the collaborators of Handlers.
type Dependencies struct {
	Store      Store
	Syncer     Syncer
	Authorizer Authorizer
	Canvas     CanvasImporter
	Feeds      FeedValidator
	Activity   *activity.Tracker
	Session    *auth.SessionManager
	CanvasHost string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Dependencies) *Handlers {
	tracker := deps.Activity
	if tracker == nil {
		tracker = activity.NewTracker()
	}
	return &Handlers{
		store:      deps.Store,
		syncer:     deps.Syncer,
		authorizer: deps.Authorizer,
		canvas:     deps.Canvas,
		feeds:      deps.Feeds,
		activity:   tracker,
		session:    deps.Session,
		canvasHost: deps.CanvasHost,
	}
}

// HealthCheck returns a full health report.
func (h *Handlers) HealthCheck(c *gin.Context) {
	status, report := h.checkHealth(c.Request.Context())
	c.JSON(status, report)
}

// Liveness returns a simple liveness check.
func (h *Handlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
	})
}

// Readiness checks all dependencies.
func (h *Handlers) Readiness(c *gin.Context) {
	status, report := h.checkHealth(c.Request.Context())
	c.JSON(status, report)
}

func (h *Handlers) checkHealth(ctx context.Context) (int, gin.H) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	database := gin.H{"status": "healthy"}
	overall, code := "healthy", http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		log.Printf("Health check: database ping failed: %v", err)
		database = gin.H{"status": "unhealthy", "message": "database unreachable"}
		overall, code = "unhealthy", http.StatusServiceUnavailable
	}

	return code, gin.H{
		"status":    overall,
		"timestamp": time.Now().UTC(),
		"checks":    gin.H{"database": database},
	}
}

// writeError maps an error kind to its status and JSON body.
func writeError(c *gin.Context, err error) {
	status, code, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": code, "message": message})
}

func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "The request timed out"
	case errors.Is(err, calendar.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "Authentication required"
	case errors.Is(err, calendar.ErrNotConnected):
		return http.StatusConflict, "not_connected", "Google Calendar is not connected"
	case errors.Is(err, calendar.ErrReauthorizationRequired):
		return http.StatusUnauthorized, "reauthorization_required", "Google Calendar access was revoked; please reconnect"
	case errors.Is(err, calendar.ErrCursorExpired):
		return http.StatusBadGateway, "cursor_expired", "Calendar sync cursor expired"
	case errors.Is(err, calendar.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable", "Calendar provider is unavailable"
	case errors.Is(err, calendar.ErrPersistenceFailure):
		return http.StatusInternalServerError, "persistence_failure", "Failed to save calendar data"
	case errors.Is(err, feed.ErrNoFeed):
		return http.StatusBadRequest, "feed_not_configured", "No Canvas feed URL is configured"
	case errors.Is(err, feed.ErrInvalidFeed):
		return http.StatusBadRequest, "invalid_feed", "The Canvas feed URL is not valid"
	default:
		return http.StatusInternalServerError, "internal_error", "Internal server error"
	}
}

// currentUser returns the verified subject or writes a 401.
func currentUser(c *gin.Context) (string, bool) {
	identity := auth.GetIdentity(c)
	if identity == nil || identity.UserID == "" {
		writeError(c, calendar.ErrUnauthorized)
		return "", false
	}
	return identity.UserID, true
}
