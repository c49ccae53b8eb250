// EventFlow daemon - suggestion pipeline, sweeps and the HTTP API
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/eventflow/eventflow/internal/api"
	"github.com/eventflow/eventflow/internal/audit"
	"github.com/eventflow/eventflow/internal/autoapprove"
	"github.com/eventflow/eventflow/internal/calsync"
	"github.com/eventflow/eventflow/internal/config"
	"github.com/eventflow/eventflow/internal/connectors"
	"github.com/eventflow/eventflow/internal/email"
	"github.com/eventflow/eventflow/internal/events"
	"github.com/eventflow/eventflow/internal/extract"
	"github.com/eventflow/eventflow/internal/ingest"
	"github.com/eventflow/eventflow/internal/logging"
	"github.com/eventflow/eventflow/internal/ratelimit"
	"github.com/eventflow/eventflow/internal/scheduler"
	"github.com/eventflow/eventflow/internal/storage"
	"github.com/eventflow/eventflow/internal/suggest"
)

var (
	configPath string
	dataDir    string
	port       int
)

func main() {
	// Local development secrets; absence is fine
	godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "eventflow",
		Short: "EventFlow daemon - turns incoming text into calendar events",
		RunE:  runDaemon,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Config file path")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	// Open database
	dbPath := filepath.Join(cfg.DataDir, "eventflow.db")
	db, err := storage.Open(storage.Config{Path: dbPath})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Stores
	users := storage.NewUserStore(db)
	suggestionStore := storage.NewSuggestionStore(db)
	eventStore := storage.NewEventStore(db)
	connectorStore := storage.NewConnectorStore(db)

	auditLog := audit.NewLog(db)
	limiters := ratelimit.NewLimiters()

	// Outbound mail, optional
	mailer := email.NewSender(email.DefaultConfig())
	if !mailer.IsConfigured() {
		logging.Info("SMTP not configured, email notifications disabled")
	}

	// Calendar sync targets
	dispatcher := calsync.NewDispatcher(
		calsync.NewGoogleSyncer(calsync.GoogleConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
		}, connectorStore, eventStore),
		calsync.NewAppleSyncer(mailer, users, eventStore),
	)

	// Live updates to connected clients
	wsHub := api.NewHub()

	// Core services
	suggestions := suggest.NewService(suggestionStore, eventStore, users, auditLog, dispatcher, wsHub)
	eventSvc := events.NewService(eventStore, users, auditLog, dispatcher)

	extractor := extract.NewClient(extract.DefaultConfig(cfg.Extractor.URL, cfg.Extractor.APIKey))
	adapter := ingest.NewAdapter(extractor, suggestions, users, limiters.Extraction)

	sweeper := autoapprove.NewSweeper(users, suggestionStore, suggestions, mailer)

	connectorSvc := connectors.NewService(connectorStore, adapter, auditLog, limiters.Poll,
		connectors.GmailFactory(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL))

	// Background jobs
	sched := scheduler.New("UTC")
	sched.Register(scheduler.IntervalTask("autoapprove-sweep", "Auto-approve sweep",
		cfg.Sweep.AutoApproveInterval, func(ctx context.Context) error {
			_, err := sweeper.Run(ctx)
			return err
		}))
	sched.Register(scheduler.IntervalTask("connector-poll", "Mailbox polling",
		cfg.Sweep.PollInterval, func(ctx context.Context) error {
			_, err := connectorSvc.Poll(ctx)
			return err
		}))
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// HTTP API
	server := api.New(api.Config{
		Port:        cfg.Server.Port,
		Users:       users,
		Suggestions: suggestions,
		Events:      eventSvc,
		Connectors:  connectorSvc,
		Ingest:      adapter,
		Sweeper:     sweeper,
		AuditLog:    auditLog,
		Limiters:    limiters,
		Hub:         wsHub,
	})

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logging.Info("shutting down")
		sched.Stop()
		server.Stop(context.Background())
	}()

	// Start server (blocks)
	return server.Start()
}
