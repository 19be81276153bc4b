package timeline

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soundprediction/go-timeline/pkg/config"
	"github.com/soundprediction/go-timeline/pkg/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the maintainer and its HTTP server",
	Long: `Run the discovery loop against the graph store and serve the HTTP API.

The server provides endpoints for:
- Reconciling a single interval or running one discovery pass
- Receiving change notifications from other writers
- Streaming created and updated notifications over a websocket
- Health, readiness, status and Prometheus metrics`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
	serveMode string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server-specific flags
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Server host")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Server port")
	serveCmd.Flags().StringVar(&serveMode, "mode", "release", "Server mode (debug, release, test)")

	addDatabaseFlags(serveCmd)

	// Maintenance flags
	serveCmd.Flags().Bool("no-maintain", false, "Disable the discovery loop")
	serveCmd.Flags().Duration("work-delay", 0, "Delay after a pass that linked an interval")
	serveCmd.Flags().Duration("idle-delay", 0, "Delay after a pass that found no work")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with command-line flags
	overrideConfigWithFlags(cmd, cfg)

	if err := validateServerConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return fmt.Errorf("failed to initialize timeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.client.Start(ctx)

	srv := server.New(cfg, a.client, a.logger)
	srv.Setup()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case err := <-serverErrChan:
		_ = a.close(context.Background())
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		a.logger.Info("Received signal, shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Stop closes the client; telemetry is flushed afterwards.
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if err := a.closeTelemetry(); err != nil {
			return fmt.Errorf("telemetry shutdown error: %w", err)
		}
		a.logger.Info("Server stopped gracefully")
		return nil
	}
}

func addDatabaseFlags(cmd *cobra.Command) {
	cmd.Flags().String("db-driver", "neo4j", "Database driver (neo4j, memory)")
	cmd.Flags().String("db-uri", "bolt://localhost:7687", "Database URI")
	cmd.Flags().String("db-username", "neo4j", "Database username")
	cmd.Flags().String("db-password", "password", "Database password")
	cmd.Flags().String("db-database", "neo4j", "Database name")
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	// Server flags
	if flags.Changed("host") {
		cfg.Server.Host = serveHost
	}
	if flags.Changed("port") {
		cfg.Server.Port = servePort
	}
	if flags.Changed("mode") {
		cfg.Server.Mode = serveMode
	}

	// Database flags
	if flags.Changed("db-driver") {
		cfg.Database.Driver, _ = flags.GetString("db-driver")
	}
	if flags.Changed("db-uri") {
		cfg.Database.URI, _ = flags.GetString("db-uri")
	}
	if flags.Changed("db-username") {
		cfg.Database.Username, _ = flags.GetString("db-username")
	}
	if flags.Changed("db-password") {
		cfg.Database.Password, _ = flags.GetString("db-password")
	}
	if flags.Changed("db-database") {
		cfg.Database.Database, _ = flags.GetString("db-database")
	}

	// Maintenance flags
	if flags.Changed("no-maintain") {
		off, _ := flags.GetBool("no-maintain")
		cfg.Maintenance.Enabled = !off
	}
	if flags.Changed("work-delay") {
		cfg.Maintenance.WorkDelay, _ = flags.GetDuration("work-delay")
	}
	if flags.Changed("idle-delay") {
		cfg.Maintenance.IdleDelay, _ = flags.GetDuration("idle-delay")
	}
}

func validateServerConfig(cfg *config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.Database.Driver == "neo4j" && cfg.Database.URI == "" {
		return fmt.Errorf("database URI is required")
	}
	return cfg.Validate()
}
