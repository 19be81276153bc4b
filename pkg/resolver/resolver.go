// Package resolver maps a calendar day to its range timeline, creating the
// timeline on first use.
//
// A day is identified by an origin marker keyed on the canonical midnight
// datetime. The marker is found or created atomically by the store; the
// timeline behind it is created lazily and linked back to the marker.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/soundprediction/go-timeline/pkg/cache"
	"github.com/soundprediction/go-timeline/pkg/driver"
	"github.com/soundprediction/go-timeline/pkg/events"
	"github.com/soundprediction/go-timeline/pkg/metrics"
	"github.com/soundprediction/go-timeline/pkg/types"
	"github.com/soundprediction/go-timeline/pkg/utils"
)

// ErrEmptyResult is returned when the store answers a lookup or create
// without an entity.
var ErrEmptyResult = errors.New("store returned no entity")

// DefaultCreator tags range timelines created by this module.
const DefaultCreator = "urn:go-timeline:maintainer"

// Options configures a Resolver.
type Options struct {
	// Creator is linked from every created timeline via dcterms:creator and
	// stamped as the source of published notifications.
	Creator string
	// SerializeDays collapses concurrent resolutions of the same day within
	// this process into one.
	SerializeDays bool
	// Cache is consulted before the store when set.
	Cache  cache.DayCache
	Logger *slog.Logger
}

// Resolver implements the get-or-create protocol for day timelines.
type Resolver struct {
	driver    driver.GraphDriver
	publisher events.Publisher
	creator   string
	serialize bool
	cache     cache.DayCache
	group     singleflight.Group
	logger    *slog.Logger
}

// New creates a Resolver. A nil publisher discards notifications.
func New(d driver.GraphDriver, publisher events.Publisher, opts Options) *Resolver {
	if publisher == nil {
		publisher = events.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		driver:    d,
		publisher: publisher,
		creator:   opts.Creator,
		serialize: opts.SerializeDays,
		cache:     opts.Cache,
		logger:    logger,
	}
}

// Creator returns the configured creator identifier.
func (r *Resolver) Creator() string {
	return r.creator
}

// ResolveDay returns the identifier of the range timeline for day's
// calendar date, creating the timeline if the day has none.
func (r *Resolver) ResolveDay(ctx context.Context, day time.Time) (string, error) {
	origin := utils.CanonicalOrigin(day)

	if id, ok := r.cached(origin); ok {
		return id, nil
	}

	if !r.serialize {
		return r.resolve(ctx, origin)
	}
	// The shared call outlives any single caller; each caller still stops
	// waiting when its own context ends.
	ch := r.group.DoChan(origin, func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx), origin)
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("resolving %s: %w", origin, ctx.Err())
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("Shared day resolution", "origin", origin)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *Resolver) resolve(ctx context.Context, origin string) (string, error) {
	marker, err := r.driver.FindOrCreate(ctx, types.SearchSpec{
		Type:     types.TypeOriginMarker,
		Property: types.PropertyOrigin,
		Value:    origin,
	})
	if err != nil {
		return "", fmt.Errorf("failed to find origin marker %s: %w", origin, err)
	}
	if marker == nil || marker.About == "" {
		return "", fmt.Errorf("%w: origin marker %s", ErrEmptyResult, origin)
	}

	if linked := marker.References(types.RelationRangeTimeLine); len(linked) > 0 {
		r.remember(origin, linked[0])
		return linked[0], nil
	}

	spec := &types.NodeSpec{Types: []string{types.TypeRelativeTimeLine}}
	if r.creator != "" {
		spec.Relations = map[string][]string{types.RelationCreator: {r.creator}}
	}
	created, err := r.driver.CreateNode(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("failed to create range timeline for %s: %w", origin, err)
	}
	timeline := created.First()
	if timeline == nil || timeline.About == "" {
		return "", fmt.Errorf("%w: range timeline for %s", ErrEmptyResult, origin)
	}

	updated, err := r.driver.UpdateNode(ctx, marker.About, &types.NodeUpdate{
		Relations: map[string][]string{types.RelationRangeTimeLine: {timeline.About}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to link range timeline to origin marker %s: %w", marker.About, err)
	}

	created.Source = r.creator
	r.publisher.PublishCreated(ctx, created)
	if updated != nil {
		updated.Source = r.creator
		r.publisher.PublishUpdated(ctx, updated)
	}

	metrics.TimelinesCreated.Inc()
	r.logger.Info("Linked new range timeline to origin",
		"origin", origin,
		"marker", marker.About,
		"timeline", timeline.About)

	r.remember(origin, timeline.About)
	return timeline.About, nil
}

func (r *Resolver) cached(origin string) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	id, err := r.cache.Get(origin)
	if err != nil {
		if !errors.Is(err, cache.ErrKeyNotFound) {
			r.logger.Warn("Day cache lookup failed", "origin", origin, "error", err)
		}
		return "", false
	}
	metrics.CacheHits.Inc()
	return id, true
}

func (r *Resolver) remember(origin, timelineID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(origin, timelineID); err != nil {
		r.logger.Warn("Day cache write failed", "origin", origin, "error", err)
	}
}
