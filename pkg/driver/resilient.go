package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/soundprediction/go-timeline/pkg/types"
)

// ErrCircuitOpen is returned while the breaker rejects store calls.
var ErrCircuitOpen = errors.New("graph store circuit open")

// ResilientOptions configures a ResilientDriver.
type ResilientOptions struct {
	// CallTimeout bounds every store call. Zero disables the bound.
	CallTimeout time.Duration
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// ResilientDriver wraps a GraphDriver with a per-call timeout and a circuit
// breaker. A stalled store call fails its caller instead of stalling it.
type ResilientDriver struct {
	next    GraphDriver
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewResilientDriver wraps next.
func NewResilientDriver(next GraphDriver, opts ResilientOptions) *ResilientDriver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "graph-store",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Graph store breaker changed state",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNodeNotFound) ||
				errors.Is(err, ErrInvalidSearch) ||
				errors.Is(err, context.Canceled)
		},
	}

	return &ResilientDriver{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
		timeout: opts.CallTimeout,
	}
}

// Unwrap returns the wrapped driver.
func (r *ResilientDriver) Unwrap() GraphDriver {
	return r.next
}

// State reports the breaker state.
func (r *ResilientDriver) State() string {
	return r.breaker.State().String()
}

func call[T any](ctx context.Context, r *ResilientDriver, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return zero, err
	}
	return out.(T), nil
}

func (r *ResilientDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]*types.Node, error) {
	return call(ctx, r, func(ctx context.Context) ([]*types.Node, error) {
		return r.next.ExecuteQuery(ctx, query, params)
	})
}

func (r *ResilientDriver) GetNode(ctx context.Context, about string) (*types.Node, error) {
	return call(ctx, r, func(ctx context.Context) (*types.Node, error) {
		return r.next.GetNode(ctx, about)
	})
}

func (r *ResilientDriver) CreateNode(ctx context.Context, spec *types.NodeSpec) (*types.ResultSet, error) {
	return call(ctx, r, func(ctx context.Context) (*types.ResultSet, error) {
		return r.next.CreateNode(ctx, spec)
	})
}

func (r *ResilientDriver) UpdateNode(ctx context.Context, about string, update *types.NodeUpdate) (*types.ResultSet, error) {
	return call(ctx, r, func(ctx context.Context) (*types.ResultSet, error) {
		return r.next.UpdateNode(ctx, about, update)
	})
}

func (r *ResilientDriver) FindOrCreate(ctx context.Context, spec types.SearchSpec) (*types.Node, error) {
	return call(ctx, r, func(ctx context.Context) (*types.Node, error) {
		return r.next.FindOrCreate(ctx, spec)
	})
}

// Ping bypasses the breaker so that availability probing keeps working
// while the breaker is open.
func (r *ResilientDriver) Ping(ctx context.Context) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.next.Ping(ctx)
}

func (r *ResilientDriver) CreateIndices(ctx context.Context) error {
	_, err := call(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.CreateIndices(ctx)
	})
	return err
}

func (r *ResilientDriver) Close(ctx context.Context) error {
	return r.next.Close(ctx)
}
