package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/kappi/internal/config"
	"github.com/MeKo-Tech/kappi/internal/scans"
	"github.com/MeKo-Tech/kappi/internal/server"
	"github.com/spf13/cobra"
)

const (
	janitorInterval = 10 * time.Minute
	janitorIdle     = 24 * time.Hour
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the classification API",
	Long: `Start an HTTP server that exposes the classifier and the scan history.

The server provides the following endpoints:
  POST /classify     - Classify an uploaded image (multipart field "image")
  GET  /classify/ws  - WebSocket classification
  GET  /scans        - List the scan history of the caller
  POST /scans        - Record a scan for the caller
  GET  /treatments   - Treatment catalog and recommendations
  GET  /health       - Health check endpoint
  GET  /models       - List available models
  GET  /metrics      - Prometheus metrics

Scan history belongs to the caller. Callers present a bearer token signed
with server.jwt_secret (see "kappi token"), or --trust-user-header accepts
the X-User-ID header set by an authenticating proxy.

The server starts even when the model cannot be loaded; /health reports it
and classification requests fail with MODEL_UNAVAILABLE.

Examples:
  kappi serve
  kappi serve --port 8080
  kappi serve --host 0.0.0.0 --storage-driver postgres --storage-dsn "$DATABASE_URL"`,
	SilenceUsage: true,
	RunE:         runServeCommand,
}

// serveSettings is the resolved listener configuration.
type serveSettings struct {
	Host            string
	Port            int
	TimeoutSec      int
	ShutdownTimeout int
	Server          server.Config
	StorageDriver   string
	StorageDSN      string
}

// resolveServeSettings merges the configuration with CLI flag overrides.
func resolveServeSettings(cfg *config.Config, cmd *cobra.Command) (serveSettings, error) {
	s := serveSettings{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		TimeoutSec:      cfg.Server.TimeoutSec,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		StorageDriver:   cfg.Storage.Driver,
		StorageDSN:      cfg.Storage.DSN,
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		s.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		s.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("timeout") {
		s.TimeoutSec, _ = flags.GetInt("timeout")
	}
	if flags.Changed("shutdown-timeout") {
		s.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
	}
	if flags.Changed("storage-driver") {
		s.StorageDriver, _ = flags.GetString("storage-driver")
	}
	if flags.Changed("storage-dsn") {
		s.StorageDSN, _ = flags.GetString("storage-dsn")
	}

	corsOrigin := cfg.Server.CORSOrigin
	if flags.Changed("cors-origin") {
		corsOrigin, _ = flags.GetString("cors-origin")
	}
	maxUploadSize := cfg.Server.MaxUploadMB
	if flags.Changed("max-upload-size") {
		maxUploadSize, _ = flags.GetInt("max-upload-size")
	}
	auth := server.AuthConfig{
		JWTSecret:       cfg.Server.JWTSecret,
		TrustUserHeader: cfg.Server.TrustUserHeader,
	}
	if flags.Changed("trust-user-header") {
		auth.TrustUserHeader, _ = flags.GetBool("trust-user-header")
	}
	defaultVariety := cfg.Treatment.DefaultVariety
	if flags.Changed("variety") {
		defaultVariety, _ = flags.GetString("variety")
	}

	rl := server.RateLimitConfig{
		Enabled:           cfg.Server.RateLimitEnabled,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		RequestsPerHour:   cfg.Server.RequestsPerHour,
		MaxRequestsPerDay: cfg.Server.MaxRequestsPerDay,
		MaxDataPerDay:     cfg.Server.MaxDataPerDay,
	}
	if flags.Changed("rate-limit-enabled") {
		rl.Enabled, _ = flags.GetBool("rate-limit-enabled")
	}
	if flags.Changed("requests-per-minute") {
		rl.RequestsPerMinute, _ = flags.GetInt("requests-per-minute")
	}
	if flags.Changed("requests-per-hour") {
		rl.RequestsPerHour, _ = flags.GetInt("requests-per-hour")
	}
	if flags.Changed("max-requests-per-day") {
		rl.MaxRequestsPerDay, _ = flags.GetInt("max-requests-per-day")
	}
	if flags.Changed("max-data-per-day") {
		rl.MaxDataPerDay, _ = flags.GetInt64("max-data-per-day")
	}

	if s.Port < 1 || s.Port > 65535 {
		return s, fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", s.Port)
	}

	s.Server = server.Config{
		Host:           s.Host,
		Port:           s.Port,
		CORSOrigin:     corsOrigin,
		MaxUploadMB:    int64(maxUploadSize),
		TimeoutSec:     s.TimeoutSec,
		ModelsDir:      cfg.ModelsDir,
		DefaultVariety: defaultVariety,
		Auth:           auth,
		RateLimit:      rl,
	}
	return s, nil
}

// buildServer wires the classifier, the treatment catalog and the scan store.
func buildServer(ctx context.Context, cmd *cobra.Command, cfg *config.Config, s serveSettings) (*server.Server, error) {
	catalog, err := loadTreatments(cmd, cfg)
	if err != nil {
		return nil, err
	}
	store, err := scans.Open(ctx, s.StorageDriver, s.StorageDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open scan store: %w", err)
	}
	clf, err := buildClassifier(cmd, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if !clf.Ready() {
		slog.Warn("serving without a model", "path", clf.ModelPath(), "error", clf.LoadError())
	}
	srv, err := server.NewServer(s.Server, clf,
		server.WithTreatments(catalog),
		server.WithStore(store),
		server.WithLogger(slog.Default()),
	)
	if err != nil {
		_ = clf.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}
	return srv, nil
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	settings, err := resolveServeSettings(cfg, cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	apiServer, err := buildServer(ctx, cmd, cfg, settings)
	if err != nil {
		return err
	}

	if rl := apiServer.RateLimiter(); rl != nil {
		go rl.RunJanitor(ctx, janitorInterval, janitorIdle)
	}

	mux := http.NewServeMux()
	apiServer.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", settings.Host, settings.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(settings.TimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(settings.TimeoutSec) * time.Second,
	}

	go func() {
		slog.Info("Starting classification server", "host", settings.Host, "port", settings.Port,
			"storage", settings.StorageDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", settings.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(settings.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shutdown completed")
	}

	if err := apiServer.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	} else {
		slog.Info("Server cleanup completed")
	}

	slog.Info("Graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 20, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().String("model", "", "model file (overrides the bundled model; extension selects the engine)")
	serveCmd.Flags().String("treatments", "", "YAML file with treatment overrides")
	serveCmd.Flags().String("variety", "", "default coffee variety for treatment advice (arabica, robusta)")
	// Scan history
	serveCmd.Flags().String("storage-driver", "memory", "scan store driver (memory, postgres)")
	serveCmd.Flags().String("storage-dsn", "", "scan store connection string (postgres)")
	serveCmd.Flags().Bool("trust-user-header", false, "take the scan owner from X-User-ID (only behind an authenticating proxy)")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 1000, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", 5000, "maximum requests per day per client")
	serveCmd.Flags().Int64("max-data-per-day", 100*1024*1024, "maximum data processed per day per client (bytes)")
}
