package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quadhls/calsync/internal/activity"
	"github.com/quadhls/calsync/internal/auth"
	"github.com/quadhls/calsync/internal/config"
	"github.com/quadhls/calsync/internal/connect"
	"github.com/quadhls/calsync/internal/crypto"
	"github.com/quadhls/calsync/internal/db"
	"github.com/quadhls/calsync/internal/engine"
	"github.com/quadhls/calsync/internal/feed"
	"github.com/quadhls/calsync/internal/google"
	"github.com/quadhls/calsync/internal/notify"
	"github.com/quadhls/calsync/internal/scheduler"
	"github.com/quadhls/calsync/internal/validator"
	"github.com/quadhls/calsync/internal/web"
)

const (
	readTimeout     = 10 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting calsync...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Tokens are sealed before they reach the database.
	encryptor, err := crypto.NewEncryptor(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize encryptor: %v", err)
	}

	database, err := db.New(cfg.Database.Driver, cfg.Database.URL, encryptor)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	verifier, err := auth.NewVerifier(ctx, cfg.Identity.Issuer, cfg.Identity.JWKSURL, cfg.Identity.Audience)
	if err != nil {
		log.Fatalf("Failed to initialize token verifier: %v", err)
	}
	sessionManager := auth.NewSessionManager(cfg.Security.SessionSecret, cfg.IsProduction())

	// Outbound fetches of user-supplied URLs go through the SSRF guard.
	guard := validator.New(validator.WithTimeout(cfg.Sync.ProviderTimeout))

	notifyCfg := notify.Config{
		WebhookURL:     cfg.Notify.WebhookURL,
		CooldownPeriod: cfg.Notify.CooldownPeriod,
	}
	if err := notify.ValidateConfig(notifyCfg); err != nil {
		log.Fatalf("Invalid alert configuration: %v", err)
	}
	notifier := notify.New(notifyCfg, guard.Client())
	if notifier.IsEnabled() {
		log.Printf("Alert notifications enabled (cooldown: %v)", cfg.Notify.CooldownPeriod)
	}

	oauthClient := google.NewOAuthClient(
		cfg.Google.ClientID,
		cfg.Google.ClientSecret,
		cfg.Google.RedirectURL,
		google.WithOAuthHTTPClient(&http.Client{Timeout: cfg.Sync.ProviderTimeout}),
	)

	eventsOpts := []google.EventsOption{google.WithMaxResults(cfg.Sync.MaxResults)}
	if cfg.Google.APIEndpoint != "" {
		eventsOpts = append(eventsOpts, google.WithAPIEndpoint(cfg.Google.APIEndpoint))
	}
	eventsClient := google.NewEventsClient(cfg.Google.CalendarID, cfg.Sync.ProviderTimeout, eventsOpts...)

	tracker := activity.NewTracker()

	syncEngine := engine.New(engine.Config{
		LookBackDays:  cfg.Sync.LookBackDays,
		LookAheadDays: cfg.Sync.LookAheadDays,
		Timeout:       cfg.Sync.Timeout,
		TimeZone:      cfg.Sync.DefaultTimeZone,
		RefreshMargin: cfg.Sync.RefreshMargin,
	}, engine.Dependencies{
		Credentials: database,
		Refresher:   oauthClient,
		Events:      database,
		Provider:    eventsClient,
		Logs:        database,
		Activity:    tracker,
		Alerts:      notifier,
	})

	importer := feed.NewImporter(
		database,
		guard,
		guard.Client(),
		cfg.Canvas.Host,
		cfg.Sync.LookBackDays,
		cfg.Sync.LookAheadDays,
		feed.WithActivity(tracker),
		feed.WithSyncLogs(database),
	)

	handlers := web.NewHandlers(web.Dependencies{
		Store:      database,
		Syncer:     syncEngine,
		Authorizer: connect.NewConnector(oauthClient, database, cfg.Server.FrontendURL),
		Canvas:     importer,
		Feeds:      guard,
		Activity:   tracker,
		Session:    sessionManager,
		CanvasHost: cfg.Canvas.Host,
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestLogger())
	router.Use(web.SecurityHeaders())

	web.SetupRoutes(router, handlers, verifier, web.RouteConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RPS:            cfg.RateLimiting.RPS,
		Burst:          cfg.RateLimiting.Burst,
	})

	// Writes must outlast the longest sync.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: cfg.Sync.Timeout + 30*time.Second,
		IdleTimeout:  idleTimeout,
	}

	sched := scheduler.New(database)
	sched.Start()

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	notifier.Wait()
	log.Println("Server stopped")
}
