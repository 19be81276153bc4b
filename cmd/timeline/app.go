package timeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/soundprediction/go-timeline"
	"github.com/soundprediction/go-timeline/pkg/cache"
	"github.com/soundprediction/go-timeline/pkg/config"
	"github.com/soundprediction/go-timeline/pkg/driver"
	"github.com/soundprediction/go-timeline/pkg/logger"
	"github.com/soundprediction/go-timeline/pkg/telemetry"
)

// app bundles everything built from one configuration.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	client    *timeline.Client
	telemetry *telemetry.DuckDBHandler
	errorsDB  *sql.DB
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return slog.New(logger.NewHandler(os.Stderr, level, cfg.Log.Format)), nil
}

func newDriver(cfg *config.Config, log *slog.Logger) (driver.GraphDriver, error) {
	var store driver.GraphDriver
	switch cfg.Database.Driver {
	case "memory":
		log.Warn("Using in-memory graph store; links are lost on exit")
		store = driver.NewMemoryDriver()
	case "neo4j":
		d, err := driver.NewNeo4jDriver(cfg.Database.URI, cfg.Database.Username, cfg.Database.Password, cfg.Database.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
		}
		store = d
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	return driver.NewResilientDriver(store, driver.ResilientOptions{
		CallTimeout: cfg.Database.CallTimeout,
		MaxFailures: cfg.Database.Breaker.MaxFailures,
		OpenTimeout: cfg.Database.Breaker.OpenTimeout,
		Logger:      log,
	}), nil
}

// newApp wires the client. maintain controls the discovery loop.
func newApp(cfg *config.Config, maintain bool) (*app, error) {
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log}

	if cfg.Telemetry.DuckDBPath != "" {
		db, err := telemetry.Open(cfg.Telemetry.DuckDBPath)
		if err != nil {
			return nil, err
		}
		h, err := telemetry.NewDuckDBHandler(log.Handler(), db)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.errorsDB = db
		a.telemetry = h
		a.logger = slog.New(h)
	}
	slog.SetDefault(a.logger)

	store, err := newDriver(cfg, a.logger)
	if err != nil {
		a.closeTelemetry()
		return nil, err
	}

	tc := timeline.DefaultConfig()
	tc.Creator = cfg.Resolver.Creator
	tc.SerializeDays = cfg.Resolver.SerializeDays
	tc.WorkDelay = cfg.Maintenance.WorkDelay
	tc.IdleDelay = cfg.Maintenance.IdleDelay
	tc.MaxParallelDays = cfg.Maintenance.MaxParallelDays
	tc.AvailabilityPoll = cfg.Maintenance.AvailabilityPoll
	tc.Maintain = maintain && cfg.Maintenance.Enabled
	tc.ListenChanges = cfg.Maintenance.ListenChanges
	tc.Logger = a.logger

	if cfg.Cache.Enabled {
		c, err := cache.NewBadgerCache(cfg.Cache.Path, cfg.Cache.TTL)
		if err != nil {
			_ = store.Close(context.Background())
			a.closeTelemetry()
			return nil, fmt.Errorf("failed to open day cache: %w", err)
		}
		tc.Cache = c
	}

	a.client = timeline.NewClient(store, tc)
	return a, nil
}

// close shuts the client down and flushes telemetry.
func (a *app) close(ctx context.Context) error {
	err := a.client.Close(ctx)
	return errors.Join(err, a.closeTelemetry())
}

func (a *app) closeTelemetry() error {
	if a.telemetry == nil {
		return nil
	}
	a.telemetry.Close()
	return a.errorsDB.Close()
}
