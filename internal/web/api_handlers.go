package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quadhls/calsync/internal/calendar"
	"github.com/quadhls/calsync/internal/connect"
	"github.com/quadhls/calsync/internal/db"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 100
)

// APIAuthorizeStart returns the Google consent URL for the caller.
func (h *Handlers) APIAuthorizeStart(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	result, err := h.authorizer.Start(userID, c.Query("returnTo"))
	if err != nil {
		writeError(c, err)
		return
	}

	if h.session != nil {
		if err := h.session.SetOAuthState(c.Writer, c.Request, result.Nonce); err != nil {
			log.Printf("Failed to save OAuth state for user %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to save authorization state",
			})
			return
		}
	}

	c.JSON(http.StatusOK, result)
}

// APIAuthorizeCallback completes authorization and redirects to the frontend.
// It is reached by the browser from Google, so it carries no bearer token.
func (h *Handlers) APIAuthorizeCallback(c *gin.Context) {
	var nonce string
	if h.session != nil {
		// A missing cookie falls back to the state-only check.
		nonce, _ = h.session.GetOAuthState(c.Writer, c.Request)
	}

	target, err := h.authorizer.Complete(c.Request.Context(), connect.CallbackParams{
		Code:  c.Query("code"),
		State: c.Query("state"),
		Error: c.Query("error"),
		Nonce: nonce,
	})
	if err != nil {
		log.Printf("Google authorization failed (%s): %v", calendar.Code(err), err)
	}

	c.Redirect(http.StatusFound, target)
}

// APISync runs a Google Calendar sync for the caller.
func (h *Handlers) APISync(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	result, err := h.syncer.Run(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// APIDisconnect deletes the caller's Google credential and synced events.
func (h *Handlers) APIDisconnect(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	err := h.syncer.WithUserLock(c.Request.Context(), userID, func(ctx context.Context) error {
		if err := h.store.Disconnect(ctx, userID); err != nil {
			return fmt.Errorf("%w: %w", calendar.ErrPersistenceFailure, err)
		}
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}

	log.Printf("Google Calendar disconnected for user %s", userID)
	c.JSON(http.StatusOK, gin.H{"message": "Google Calendar disconnected"})
}

// APICalendarStatus returns the caller's connection and sync status.
func (h *Handlers) APICalendarStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	profile, err := h.store.GetProfile(c.Request.Context(), userID)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %w", calendar.ErrPersistenceFailure, err))
		return
	}

	c.JSON(http.StatusOK, statusResponse(profile, h.activity.IsSyncing(userID, string(calendar.SourceGoogle))))
}

func statusResponse(p *db.Profile, syncing bool) gin.H {
	return gin.H{
		"connected":    p.GoogleConnected,
		"lastSyncedAt": p.GoogleLastSyncedAt,
		"hasCursor":    p.HasCursor,
		"totalEvents":  p.GoogleEventCount,
		"syncing":      syncing,
		"canvas": gin.H{
			"connected":      p.CanvasConnected,
			"feedConfigured": p.CanvasFeedURL != "",
			"lastSyncedAt":   p.CanvasLastSyncedAt,
			"totalEvents":    p.CanvasEventCount,
		},
	}
}

// APICalendarEvents returns the caller's Google and Canvas events.
func (h *Handlers) APICalendarEvents(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	events, err := h.store.GetEvents(c.Request.Context(), userID)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %w", calendar.ErrPersistenceFailure, err))
		return
	}

	if source := c.Query("source"); source != "" {
		filtered := make([]calendar.Event, 0, len(events))
		for _, e := range events {
			if string(e.Source) == source {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  len(events),
	})
}

// APICalendarActivity returns the caller's active and recent sync runs.
func (h *Handlers) APICalendarActivity(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, h.activity.GetAll(userID))
}

// APISyncLogs returns the caller's sync history, newest first.
func (h *Handlers) APISyncLogs(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	limit := defaultLogLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	logs, err := h.store.GetSyncLogs(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %w", calendar.ErrPersistenceFailure, err))
		return
	}

	type logItem struct {
		ID          string `json:"id"`
		Source      string `json:"source"`
		Mode        string `json:"mode,omitempty"`
		Status      string `json:"status"`
		Message     string `json:"message"`
		Imported    int    `json:"imported"`
		Removed     int    `json:"removed"`
		TotalEvents int    `json:"totalEvents"`
		Duration    string `json:"duration"`
		CreatedAt   string `json:"createdAt"`
	}

	items := make([]logItem, 0, len(logs))
	for _, l := range logs {
		items = append(items, logItem{
			ID:          l.ID,
			Source:      l.Source,
			Mode:        l.Mode,
			Status:      string(l.Status),
			Message:     l.Message,
			Imported:    l.Imported,
			Removed:     l.Removed,
			TotalEvents: l.TotalEvents,
			Duration:    l.Duration.Round(time.Millisecond).String(),
			CreatedAt:   l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{"logs": items})
}

// CanvasFeedRequest is the body of PUT /api/canvas/feed.
type CanvasFeedRequest struct {
	FeedURL string `json:"feedUrl"`
}

// APISetCanvasFeed stores the caller's Canvas iCal feed URL. An empty URL
// removes the feed.
func (h *Handlers) APISetCanvasFeed(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req CanvasFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be JSON with a feedUrl field",
		})
		return
	}

	feedURL := strings.TrimSpace(req.FeedURL)
	if feedURL != "" {
		if err := h.feeds.ValidateFeedURL(feedURL, h.canvasHost); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_feed",
				"message": fmt.Sprintf("Feed URL must be an https link on %s", h.canvasHost),
			})
			return
		}
	}

	if err := h.store.SetCanvasFeed(c.Request.Context(), userID, feedURL); err != nil {
		writeError(c, fmt.Errorf("%w: %w", calendar.ErrPersistenceFailure, err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "Canvas feed saved",
		"feedConfigured": feedURL != "",
	})
}

// APICanvasImport imports the caller's Canvas feed.
func (h *Handlers) APICanvasImport(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	result, err := h.canvas.Import(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
