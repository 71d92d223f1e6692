package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"socialtracker/backend/internal/agents"
	"socialtracker/backend/internal/api"
	"socialtracker/backend/internal/bluesky"
	"socialtracker/backend/internal/config"
	"socialtracker/backend/internal/logging"
	"socialtracker/backend/internal/mcp"
	"socialtracker/backend/internal/memory"
	"socialtracker/backend/internal/orchestrator"
	"socialtracker/backend/internal/repository"
	"socialtracker/backend/internal/slack"
	"socialtracker/backend/internal/tls"
)

// expirySweepInterval is how often expired conversation and dedup records
// are purged from the database.
const expirySweepInterval = 5 * time.Minute

func main() {
	ctx := context.Background()

	// Initialize logging
	logger := logging.NewLogger()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration: %v", err)
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger.Info("Starting Social Media Tracker Service")

	// Initialize database connection
	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database: %v", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer dbPool.Close()

	if err := repository.Migrate(ctx, dbPool); err != nil {
		logger.Error("Failed to migrate database: %v", err)
		log.Fatalf("Database migration failed: %v", err)
	}
	logger.Info("Database connected")

	// Initialize repository layer
	conversationStore := repository.NewPostgresConversationStore(dbPool)
	eventStore := repository.NewPostgresEventStore(dbPool)
	tokenStore := repository.NewPostgresTokenStore(dbPool)

	// Initialize the Slack boundary
	verifier := slack.NewSignatureVerifier(cfg.Slack.SigningSecret, logger)
	dedup := slack.NewDeduplicator(eventStore, logger)
	slackClient := slack.NewClient(cfg.Slack.APIURL, cfg.Slack.BotToken, tokenStore, logger)
	oauth := slack.NewOAuth(cfg.Slack.ClientID, cfg.Slack.ClientSecret, cfg.Slack.APIURL, tokenStore, logger)

	// Initialize the agent pipeline
	completer := agents.NewHTTPCompletionClient(cfg.Agent.URL, cfg.Agent.Model, cfg.Agent.MaxTokens)
	var posts agents.PostSource
	if cfg.Bluesky.Username != "" {
		posts = bluesky.NewClient(cfg.Bluesky.APIURL, cfg.Bluesky.Username, cfg.Bluesky.Password, logger)
	} else {
		logger.Warn("Bluesky credentials not configured, crawler runs without prefetched context")
	}

	manager := memory.NewManager(conversationStore, logger)
	orch := orchestrator.New(
		manager,
		agents.NewCrawlerAgent(completer, posts, logger),
		agents.NewAnalysisAgent(completer),
		agents.NewInsightAgent(completer),
		agents.NewReportAgent(completer),
		slackClient,
		cfg.Agent.StageTimeout,
		logger,
	)

	logger.Info("Pipeline initialized")

	// Create Echo server
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("socialtracker"))

	// Mount the Slack boundary
	eventsServer := api.NewEventsServer(verifier, dedup, orch, slackClient, logger)
	e.POST("/slack/events", eventsServer.HandleEvents)
	e.GET("/slack/oauth/callback", echo.WrapHandler(http.HandlerFunc(oauth.CallbackHandler)))

	apiHandler := api.NewHandler()
	e.GET("/healthz", echo.WrapHandler(http.HandlerFunc(apiHandler.HandleHealth)))

	logger.Info("Slack handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(conversationStore, orch)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server
	addr := ":8080"
	if cfg.TLS.Enable {
		// use TLS port 8443
		addr = ":8443"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting on %s (tls=%v)", addr, cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			// generate if missing and hostnames provided
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("Failed to generate self-signed cert: %v", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Resume conversations interrupted by the previous process instance,
	// once the server is accepting traffic.
	sweeper := orchestrator.NewSweeper(conversationStore, manager, orch, logger)
	if err := sweeper.Sweep(ctx); err != nil {
		logger.Error("Recovery sweep failed: %v", err)
	}

	// Purge expired records in the background for the process lifetime.
	stopSweep := make(chan struct{})
	go expirySweep(conversationStore, eventStore, logger, stopSweep)

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received: %v", sig)
		close(stopSweep)

		// Create shutdown context with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error: %v", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
}

func expirySweep(conversations repository.ConversationStore, events repository.EventStore, logger *logging.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if n, err := conversations.DeleteExpired(ctx); err != nil {
				logger.Error("Failed to purge expired conversations: %v", err)
			} else if n > 0 {
				logger.Info("Purged %d expired conversation(s)", n)
			}
			if n, err := events.DeleteExpired(ctx); err != nil {
				logger.Error("Failed to purge expired event records: %v", err)
			} else if n > 0 {
				logger.Info("Purged %d expired event record(s)", n)
			}
			cancel()
		}
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
