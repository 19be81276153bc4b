package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/soundprediction/go-timeline/pkg/driver"
	"github.com/soundprediction/go-timeline/pkg/events"
	"github.com/soundprediction/go-timeline/pkg/metrics"
	"github.com/soundprediction/go-timeline/pkg/types"
	"github.com/soundprediction/go-timeline/pkg/utils"
)

// Mode selects how the pipeline finds its interval.
type Mode string

const (
	// ModeDiscovery queries the store for an unlinked interval.
	ModeDiscovery Mode = "discovery"
	// ModeDirect reconciles a known interval.
	ModeDirect Mode = "direct"
)

// WorkSession carries the state of one pipeline invocation. It is never
// shared between invocations.
type WorkSession struct {
	ID          string      `json:"id"`
	Mode        Mode        `json:"mode"`
	IntervalID  string      `json:"interval_id,omitempty"`
	Interval    *types.Node `json:"-"`
	Days        []time.Time `json:"days,omitempty"`
	TimelineIDs []string    `json:"timeline_ids,omitempty"`
}

// DayResolver returns the range timeline for a calendar day.
type DayResolver interface {
	ResolveDay(ctx context.Context, day time.Time) (string, error)
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	// MaxParallelDays bounds concurrent day resolutions. Zero means no bound.
	MaxParallelDays int
	// Source is stamped on published notifications.
	Source string
	Logger *slog.Logger
}

// Pipeline links an interval to the range timelines of every day it spans.
type Pipeline struct {
	driver      driver.GraphDriver
	resolver    DayResolver
	publisher   events.Publisher
	maxParallel int
	source      string
	logger      *slog.Logger
}

// NewPipeline creates a Pipeline. A nil publisher discards notifications.
func NewPipeline(d driver.GraphDriver, r DayResolver, publisher events.Publisher, opts PipelineOptions) *Pipeline {
	if publisher == nil {
		publisher = events.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		driver:      d,
		resolver:    r,
		publisher:   publisher,
		maxParallel: opts.MaxParallelDays,
		source:      opts.Source,
		logger:      logger,
	}
}

// DiscoveryQuery selects one interval that is not linked to a range timeline.
func DiscoveryQuery() string {
	return fmt.Sprintf("MATCH (n:%s) WHERE NOT (n)-[:%s]->(:%s) RETURN n LIMIT 1",
		utils.QuoteIdentifier(types.TypeInterval),
		utils.QuoteIdentifier(types.RelationTimeline),
		utils.QuoteIdentifier(types.TypeRelativeTimeLine))
}

// Discover finds one unlinked interval and reconciles it. It returns
// ErrNoWork when every interval is linked.
func (p *Pipeline) Discover(ctx context.Context) (*WorkSession, error) {
	session := p.newSession(ModeDiscovery, "")
	return session, p.execute(ctx, session, func(ctx context.Context) error {
		nodes, err := p.driver.ExecuteQuery(ctx, DiscoveryQuery(), nil)
		if err != nil {
			return fmt.Errorf("discovery query failed: %w", err)
		}
		if len(nodes) == 0 {
			return ErrNoWork
		}
		if nodes[0] == nil || nodes[0].About == "" {
			return fmt.Errorf("%w: discovery returned an interval without identifier", ErrInconsistentState)
		}
		session.IntervalID = nodes[0].About
		return nil
	})
}

// Reconcile links the interval identified by about, skipping discovery.
func (p *Pipeline) Reconcile(ctx context.Context, about string) (*WorkSession, error) {
	session := p.newSession(ModeDirect, about)
	return session, p.execute(ctx, session, func(context.Context) error {
		if err := utils.ValidateIdentifier(about); err != nil {
			return fmt.Errorf("%w: %w", ErrInconsistentState, err)
		}
		return nil
	})
}

func (p *Pipeline) newSession(mode Mode, about string) *WorkSession {
	return &WorkSession{
		ID:         uuid.New().String(),
		Mode:       mode,
		IntervalID: about,
	}
}

func (p *Pipeline) execute(ctx context.Context, session *WorkSession, locate func(context.Context) error) error {
	started := time.Now()
	ctx = context.WithValue(ctx, types.ContextKeyInvocationID, session.ID)
	ctx = context.WithValue(ctx, types.ContextKeyMode, string(session.Mode))

	err := locate(ctx)
	if err == nil {
		ctx = context.WithValue(ctx, types.ContextKeyIntervalID, session.IntervalID)
		err = p.process(ctx, session)
	}
	err = classify(err)

	metrics.ObservePipeline(string(session.Mode), outcome(err), time.Since(started))
	return err
}

func (p *Pipeline) process(ctx context.Context, session *WorkSession) error {
	interval, err := p.driver.GetNode(ctx, session.IntervalID)
	if err != nil {
		return fmt.Errorf("failed to fetch interval %s: %w", session.IntervalID, err)
	}
	if interval == nil || interval.About == "" {
		return fmt.Errorf("%w: interval %s has no identifier", ErrInconsistentState, session.IntervalID)
	}
	session.Interval = interval

	start, end, err := intervalBounds(interval)
	if err != nil {
		return err
	}
	days, err := utils.ExpandDateRange(start, end)
	if err != nil {
		return fmt.Errorf("%w: interval %s: %w", ErrParseFailure, interval.About, err)
	}
	session.Days = days

	ids, err := p.resolveDays(ctx, days)
	if err != nil {
		return err
	}
	session.TimelineIDs = ids

	updated, err := p.driver.UpdateNode(ctx, interval.About, &types.NodeUpdate{
		Relations:        map[string][]string{types.RelationTimeline: ids},
		ReplaceRelations: []string{types.RelationTimeline},
	})
	if err != nil {
		return fmt.Errorf("failed to link interval %s: %w", interval.About, err)
	}
	if updated != nil {
		updated.Source = p.source
		p.publisher.PublishUpdated(ctx, updated)
	}

	p.logger.Info("Linked interval to range timelines",
		"interval", interval.About,
		"mode", session.Mode,
		"days", len(days),
		"timelines", len(ids))
	return nil
}

// resolveDays resolves every day concurrently. The first failure cancels
// the remaining resolutions. Identifiers keep day order with duplicates
// removed.
func (p *Pipeline) resolveDays(ctx context.Context, days []time.Time) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	if p.maxParallel > 0 {
		g.SetLimit(p.maxParallel)
	}

	ids := make([]string, len(days))
	for i, day := range days {
		g.Go(func() error {
			id, err := p.resolver.ResolveDay(gctx, day)
			if err != nil {
				return fmt.Errorf("failed to resolve day %s: %w", day.Format(time.DateOnly), err)
			}
			p.logger.Debug("Resolved day", "day", day.Format(time.DateOnly), "timeline", id)
			metrics.DaysResolved.Inc()
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return utils.UniqueStrings(ids), nil
}

// intervalBounds reads the first start and end values of an interval.
func intervalBounds(interval *types.Node) (time.Time, *time.Time, error) {
	rawStart, ok := interval.Property(types.PropertyStart)
	if !ok {
		return time.Time{}, nil, fmt.Errorf("%w: interval %s has no start", ErrParseFailure, interval.About)
	}
	start, err := utils.ParseTimestamp(rawStart)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("%w: interval %s start: %w", ErrParseFailure, interval.About, err)
	}

	rawEnd, ok := interval.Property(types.PropertyEnd)
	if !ok || strings.TrimSpace(rawEnd) == "" {
		return start, nil, nil
	}
	end, err := utils.ParseTimestamp(rawEnd)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("%w: interval %s end: %w", ErrParseFailure, interval.About, err)
	}
	return start, &end, nil
}
