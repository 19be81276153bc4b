package timeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soundprediction/go-timeline/pkg/cache"
	"github.com/soundprediction/go-timeline/pkg/driver"
	"github.com/soundprediction/go-timeline/pkg/events"
	"github.com/soundprediction/go-timeline/pkg/maintenance"
	"github.com/soundprediction/go-timeline/pkg/resolver"
	"github.com/soundprediction/go-timeline/pkg/scheduler"
	"github.com/soundprediction/go-timeline/pkg/types"
	"github.com/soundprediction/go-timeline/pkg/utils"
)

// Timeline keeps interval records linked to per-day range timelines.
type Timeline interface {
	// Start waits for the store in the background, then starts the
	// discovery loop and the change listener.
	Start(ctx context.Context)

	// TriggerReconciliation reconciles one interval in the background.
	// Failures are logged, not returned.
	TriggerReconciliation(about string)

	// Reconcile reconciles one interval and reports the outcome.
	Reconcile(ctx context.Context, about string) (*maintenance.WorkSession, error)

	// Discover runs a single discovery pass.
	Discover(ctx context.Context) (*maintenance.WorkSession, error)

	// Close stops background work and closes the store.
	Close(ctx context.Context) error
}

// Client is the main implementation of the Timeline interface.
type Client struct {
	driver     driver.GraphDriver
	bus        *events.Bus
	resolver   *resolver.Resolver
	pipeline   *maintenance.Pipeline
	maintainer *maintenance.Maintainer
	listener   *maintenance.Listener
	config     *Config
	logger     *slog.Logger

	available atomic.Bool
	started   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc

	// mu orders wg.Add against Close's wg.Wait.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Config holds configuration for the Timeline client.
type Config struct {
	// Creator tags created timelines and published notifications
	Creator string
	// SerializeDays collapses concurrent resolutions of one day in-process
	SerializeDays bool
	// WorkDelay and IdleDelay pace the discovery loop
	WorkDelay time.Duration
	IdleDelay time.Duration
	// MaxParallelDays bounds per-interval day fan-out; zero is unbounded
	MaxParallelDays int
	// AvailabilityPoll is the first store probe interval
	AvailabilityPoll time.Duration
	// Maintain runs the discovery loop after the store is found
	Maintain bool
	// ListenChanges reconciles intervals announced on the bus
	ListenChanges bool
	// Cache remembers resolved days; optional
	Cache     cache.DayCache
	Scheduler scheduler.Scheduler
	Logger    *slog.Logger
}

// DefaultConfig returns the settings used when NewClient gets nil.
func DefaultConfig() *Config {
	return &Config{
		Creator:          resolver.DefaultCreator,
		SerializeDays:    true,
		WorkDelay:        utils.DefaultWorkDelay,
		IdleDelay:        utils.DefaultIdleDelay,
		AvailabilityPoll: time.Second,
		Maintain:         true,
		ListenChanges:    true,
	}
}

// NewClient creates a new Timeline client over d.
func NewClient(d driver.GraphDriver, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if strings.TrimSpace(config.Creator) == "" {
		// Without a source the listener cannot recognise its own updates.
		fixed := *config
		fixed.Creator = resolver.DefaultCreator
		config = &fixed
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bus := events.NewBus(logger)
	res := resolver.New(d, bus, resolver.Options{
		Creator:       config.Creator,
		SerializeDays: config.SerializeDays,
		Cache:         config.Cache,
		Logger:        logger,
	})
	pipeline := maintenance.NewPipeline(d, res, bus, maintenance.PipelineOptions{
		MaxParallelDays: config.MaxParallelDays,
		Source:          config.Creator,
		Logger:          logger,
	})
	maintainer := maintenance.NewMaintainer(pipeline, maintenance.MaintainerOptions{
		WorkDelay: config.WorkDelay,
		IdleDelay: config.IdleDelay,
		Scheduler: config.Scheduler,
		Logger:    logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		driver:     d,
		bus:        bus,
		resolver:   res,
		pipeline:   pipeline,
		maintainer: maintainer,
		config:     config,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	c.listener = maintenance.NewListener(c.TriggerReconciliation, maintenance.ListenerOptions{
		IgnoreSource: config.Creator,
		Logger:       logger,
	})
	return c
}

// Bus returns the notification bus.
func (c *Client) Bus() *events.Bus {
	return c.bus
}

// Maintainer returns the discovery loop.
func (c *Client) Maintainer() *maintenance.Maintainer {
	return c.maintainer
}

// Driver returns the graph store.
func (c *Client) Driver() driver.GraphDriver {
	return c.driver
}

// Available reports whether the store has answered since Start.
func (c *Client) Available() bool {
	return c.available.Load()
}

// Start subscribes the maintainer and listener, then probes the store in
// the background and announces it once it answers.
func (c *Client) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	runCtx := c.ctx
	if c.config.Maintain {
		c.maintainer.Start(runCtx, c.bus)
	}
	if c.config.ListenChanges {
		c.listener.Attach(c.bus)
	}

	c.spawn(func() {
		waitCtx, stop := context.WithCancel(runCtx)
		defer stop()
		go func() {
			select {
			case <-ctx.Done():
				stop()
			case <-waitCtx.Done():
			}
		}()

		if err := driver.WaitForStore(waitCtx, c.driver, c.config.AvailabilityPoll, c.logger); err != nil {
			c.logger.Debug("Stopped waiting for graph store", "error", err)
			return
		}
		if err := c.driver.CreateIndices(waitCtx); err != nil {
			c.logger.Warn("Failed to create indices", "error", err)
		}
		c.available.Store(true)
		c.bus.PublishStoreAvailable(runCtx)
	})
}

// TriggerReconciliation reconciles the interval identified by about in
// the background.
func (c *Client) TriggerReconciliation(about string) {
	c.spawn(func() {
		ctx := context.WithValue(c.ctx, types.ContextKeyRequestSource, "trigger")
		if _, err := c.pipeline.Reconcile(ctx, about); err != nil {
			c.logReconcileError(ctx, about, err)
		}
	})
}

// spawn runs fn on a tracked goroutine unless the client is closed.
func (c *Client) spawn(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

func (c *Client) logReconcileError(ctx context.Context, about string, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		c.logger.Debug("Reconciliation canceled", "interval", about)
	case errors.Is(err, maintenance.ErrParseFailure):
		c.logger.WarnContext(ctx, "Interval dates rejected", "interval", about, "error", err)
	default:
		c.logger.ErrorContext(ctx, "Reconciliation failed", "interval", about, "error", err)
	}
}

// Reconcile reconciles the interval identified by about.
func (c *Client) Reconcile(ctx context.Context, about string) (*maintenance.WorkSession, error) {
	return c.pipeline.Reconcile(ctx, about)
}

// Discover runs one discovery pass without touching the schedule.
func (c *Client) Discover(ctx context.Context) (*maintenance.WorkSession, error) {
	return c.maintainer.RunOnce(ctx)
}

// Close stops background work, waits for triggered reconciliations and
// closes the cache and the store.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.maintainer.Stop()
	c.listener.Close()
	c.cancel()
	c.wg.Wait()

	var errs []error
	if c.config.Cache != nil {
		errs = append(errs, c.config.Cache.Close())
	}
	errs = append(errs, c.driver.Close(ctx))
	return errors.Join(errs...)
}

var (
	// ErrNoWork is returned by Discover when every interval is linked.
	ErrNoWork = maintenance.ErrNoWork
	// ErrInconsistentState is returned when the store lacks an expected entity.
	ErrInconsistentState = maintenance.ErrInconsistentState
	// ErrParseFailure is returned when interval dates cannot be read.
	ErrParseFailure = maintenance.ErrParseFailure
	// ErrStoreFailure is returned when a store call fails.
	ErrStoreFailure = maintenance.ErrStoreFailure
)
