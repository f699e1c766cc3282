package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/signal"
	gosync "sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/drivemirror/drivemirror/internal/channels"
	"github.com/drivemirror/drivemirror/internal/config"
	"github.com/drivemirror/drivemirror/internal/events"
	"github.com/drivemirror/drivemirror/internal/gdrive"
	"github.com/drivemirror/drivemirror/internal/logging"
	"github.com/drivemirror/drivemirror/internal/notify"
	"github.com/drivemirror/drivemirror/internal/state"
	"github.com/drivemirror/drivemirror/internal/sync"
	"github.com/drivemirror/drivemirror/internal/web"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	port            int
	bind            string
	dbPath          string
	webhookURL      string
	credentialsFile string
	verbosity       int

	// Timeout flags (advanced)
	httpTimeout   time.Duration
	websocketPing time.Duration
	syncTimeout   time.Duration
)

const defaultMaxExportBytes = 50 << 20

func main() {
	rootCmd := &cobra.Command{
		Use:   "drivemirror",
		Short: "Drivemirror - Google Drive hierarchy mirror",
		Long:  `Drivemirror mirrors a Google Drive hierarchy, keeps it current through push notifications, and serves it over HTTP and WebSocket.`,
		RunE:  run,
	}

	// Flags
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP server port (required, or set PORT env var)")
	rootCmd.Flags().StringVarP(&bind, "bind", "b", "", "IP address to bind to (e.g., 127.0.0.1, 0.0.0.0)")
	rootCmd.Flags().StringVarP(&dbPath, "db", "d", "./drivemirror.db", "SQLite database path (or set DB_PATH env var)")
	rootCmd.Flags().StringVar(&webhookURL, "webhook-url", "", "Public HTTPS URL push notifications are delivered to")
	rootCmd.Flags().StringVar(&credentialsFile, "credentials", "", "Path to a Google service account JSON file")
	rootCmd.Flags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	// Advanced timeout flags
	rootCmd.Flags().DurationVar(&httpTimeout, "http-timeout", 30*time.Second, "Timeout for HTTP client requests to external services")
	rootCmd.Flags().DurationVar(&websocketPing, "websocket-ping", 30*time.Second, "Interval between WebSocket keepalive pings")
	rootCmd.Flags().DurationVar(&syncTimeout, "sync-timeout", 15*time.Minute, "Ceiling for one full synchronization pass")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("drivemirror %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Check for PORT env var if flag not set
	if port == 0 {
		if envPort := os.Getenv("PORT"); envPort != "" {
			if _, err := fmt.Sscanf(envPort, "%d", &port); err != nil {
				return fmt.Errorf("invalid PORT environment variable %q: %w", envPort, err)
			}
		}
	}

	// Check for DB_PATH env var if using default
	if dbPath == "./drivemirror.db" {
		if envDB := os.Getenv("DB_PATH"); envDB != "" {
			dbPath = envDB
		}
	}

	if port == 0 {
		return fmt.Errorf("--port flag or PORT environment variable is required")
	}
	if bind != "" {
		if ip := net.ParseIP(bind); ip == nil {
			return fmt.Errorf("invalid bind address: %s", bind)
		}
	}

	config.SetGlobalTimeouts(&config.TimeoutConfig{
		HTTPClient:    httpTimeout,
		WebSocketPing: websocketPing,
		SyncPass:      syncTimeout,
	})

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer db.Close()

	loader := config.NewLoader(db)
	logging.Apply(levelFor(verbosity), loader, logging.FilePathForDB(dbPath))

	log.Info().
		Str("version", version).
		Int("port", port).
		Str("bind", bind).
		Str("database", dbPath).
		Msg("Starting Drivemirror")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	creds := gdrive.Credentials{
		ServiceAccountFile: credentialsFile,
		ClientID:           loader.String("drive.client_id", ""),
		ClientSecret:       loader.String("drive.client_secret", ""),
		RefreshToken:       loader.String("drive.refresh_token", ""),
	}
	maxExportBytes := loader.Int64("drive.max_export_bytes", defaultMaxExportBytes)

	drive, err := gdrive.NewClient(ctx, creds, maxExportBytes)
	if err != nil {
		return err
	}
	if err := drive.WatchCredentials(ctx); err != nil {
		log.Warn().Err(err).Msg("Credentials hot-reload unavailable")
	}

	if webhookURL == "" {
		webhookURL = loader.String("drive.webhook_url", "")
	}

	secret, err := ensureTokenSecret(db)
	if err != nil {
		return err
	}
	codec := channels.NewTokenCodec(secret)
	watcher := channels.NewManager(drive, codec, webhookURL)

	// One owner of the files cache and tree snapshot at a time; full syncs
	// and notification handling take the same lock.
	var cacheMu gosync.Mutex
	engine := sync.NewEngine(db, drive, watcher, &cacheMu)

	rootID, err := drive.RootID(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve drive root: %w", err)
	}
	resolver := sync.NewPathResolver(db, drive, rootID)

	broker := events.NewBroker()
	dispatcher := notify.NewDispatcher(db, codec, drive, broker, resolver, &cacheMu)

	server := web.NewServer(db, drive, engine, dispatcher, broker, port, bind)

	// Periodic full sync; push notifications fill the gaps in between.
	scheduler := cron.New()
	syncEvery := loader.DurationMinutes("sync.interval_minutes", 360)
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", syncEvery), func() {
		if err := engine.RunSync(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduled synchronization failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule synchronization: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Initial sync on startup, then the first channel pass.
	go func() {
		if err := engine.RunSync(ctx); err != nil {
			log.Error().Err(err).Msg("Initial synchronization failed")
			return
		}
		if webhookURL == "" {
			log.Warn().Msg("No webhook URL configured; change notifications disabled")
			return
		}
		runChannelLoop(ctx, engine, loader)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Drivemirror stopped")
	return nil
}

// runChannelLoop re-establishes push-notification channels on a timer.
// Channels expire after 24h; the base interval renews them twice per TTL.
// A rate-limited pass halves the next interval so skipped files get their
// channels sooner; a clean pass resets it.
func runChannelLoop(ctx context.Context, engine *sync.Engine, loader *config.Loader) {
	base := loader.DurationMinutes("channels.resync_interval_minutes", 720)
	const minInterval = 15 * time.Minute

	interval := base
	for {
		rateLimited, err := engine.SyncChannels(ctx)
		switch {
		case err != nil:
			log.Error().Err(err).Msg("Channel resync failed")
		case rateLimited:
			interval = max(interval/2, minInterval)
			log.Info().Dur("next_in", interval).Msg("Subscription quota hit; resyncing channels sooner")
		default:
			interval = base
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// ensureTokenSecret loads the channel-token signing secret, generating and
// persisting a random one on first run.
func ensureTokenSecret(db *state.DB) ([]byte, error) {
	existing, err := db.GetSetting("channels.token_secret")
	if err != nil {
		return nil, err
	}
	if existing != "" {
		return []byte(existing), nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate token secret: %w", err)
	}
	secret := hex.EncodeToString(raw)
	if err := db.SetSetting("channels.token_secret", secret); err != nil {
		return nil, err
	}
	log.Info().Msg("Generated channel token signing secret")
	return []byte(secret), nil
}

func levelFor(verbosity int) string {
	switch verbosity {
	case 0:
		return "info"
	case 1:
		return "debug"
	default: // 2+
		return "trace"
	}
}
