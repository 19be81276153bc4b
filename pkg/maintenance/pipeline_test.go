package maintenance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soundprediction/go-timeline/pkg/driver"
	"github.com/soundprediction/go-timeline/pkg/events"
	"github.com/soundprediction/go-timeline/pkg/maintenance"
	"github.com/soundprediction/go-timeline/pkg/resolver"
	"github.com/soundprediction/go-timeline/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSource = "urn:test:maintainer"

func newPipeline(store driver.GraphDriver, bus *events.Bus) *maintenance.Pipeline {
	var pub events.Publisher
	if bus != nil {
		pub = bus
	}
	r := resolver.New(store, pub, resolver.Options{Creator: testSource, SerializeDays: true})
	return maintenance.NewPipeline(store, r, pub, maintenance.PipelineOptions{Source: testSource})
}

func putInterval(store *driver.MemoryDriver, start, end string) string {
	props := map[string][]string{types.PropertyStart: {start}}
	if end != "" {
		props[types.PropertyEnd] = []string{end}
	}
	return store.Put(&types.Node{Types: []string{types.TypeInterval}, Properties: props})
}

func originOf(t *testing.T, store *driver.MemoryDriver, timelineID string) string {
	t.Helper()
	for _, marker := range store.Nodes(types.TypeOriginMarker) {
		for _, linked := range marker.References(types.RelationRangeTimeLine) {
			if linked == timelineID {
				origin, _ := marker.Property(types.PropertyOrigin)
				return origin
			}
		}
	}
	t.Fatalf("no origin marker links %s", timelineID)
	return ""
}

func TestDiscoveryQuery(t *testing.T) {
	assert.Equal(t,
		"MATCH (n:`http://purl.org/NET/c4dm/timeline.owl#Interval`) "+
			"WHERE NOT (n)-[:`http://purl.org/NET/c4dm/timeline.owl#timeline`]->"+
			"(:`http://purl.org/NET/c4dm/timeline.owl#RelativeTimeLine`) RETURN n LIMIT 1",
		maintenance.DiscoveryQuery())
}

func TestPipeline_DiscoverEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	p := newPipeline(store, nil)

	about := putInterval(store, "2024-03-01T10:00:00Z", "2024-03-02T08:00:00Z")

	session, err := p.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, maintenance.ModeDiscovery, session.Mode)
	assert.Equal(t, about, session.IntervalID)
	require.Len(t, session.Days, 2)
	require.Len(t, session.TimelineIDs, 2)

	interval, err := store.GetNode(ctx, about)
	require.NoError(t, err)
	assert.Equal(t, session.TimelineIDs, interval.References(types.RelationTimeline))
	assert.Equal(t, "2024-03-01T00:00:00", originOf(t, store, session.TimelineIDs[0]))
	assert.Equal(t, "2024-03-02T00:00:00", originOf(t, store, session.TimelineIDs[1]))

	assert.Len(t, store.Nodes(types.TypeOriginMarker), 2)
	assert.Len(t, store.Nodes(types.TypeRelativeTimeLine), 2)

	_, err = p.Discover(ctx)
	assert.ErrorIs(t, err, maintenance.ErrNoWork)
}

func TestPipeline_SingleDay(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	p := newPipeline(store, nil)

	cases := []struct {
		name       string
		start, end string
	}{
		{name: "start equals end", start: "2024-03-05T09:00:00Z", end: "2024-03-05T09:00:00Z"},
		{name: "same day", start: "2024-03-05T09:00:00Z", end: "2024-03-05T23:00:00Z"},
		{name: "no end", start: "2024-03-05"},
		{name: "empty end", start: "2024-03-05T01:00:00", end: " "},
	}
	var timeline string
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			about := putInterval(store, tc.start, tc.end)
			session, err := p.Reconcile(ctx, about)
			require.NoError(t, err)
			require.Len(t, session.TimelineIDs, 1)
			if timeline == "" {
				timeline = session.TimelineIDs[0]
			}
			assert.Equal(t, timeline, session.TimelineIDs[0], "intervals on one day share its timeline")
		})
	}
	assert.Len(t, store.Nodes(types.TypeRelativeTimeLine), 1)
}

func TestPipeline_DiscoverySkipsLinked(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	p := newPipeline(store, nil)

	timeline := store.Put(&types.Node{Types: []string{types.TypeRelativeTimeLine}})
	store.Put(&types.Node{
		Types:      []string{types.TypeInterval},
		Properties: map[string][]string{types.PropertyStart: {"2024-01-01"}},
		Relations:  map[string][]string{types.RelationTimeline: {timeline}},
	})
	pending := putInterval(store, "2024-01-02", "")

	session, err := p.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, pending, session.IntervalID)

	_, err = p.Discover(ctx)
	assert.ErrorIs(t, err, maintenance.ErrNoWork)
}

func TestPipeline_ReplacesTimelineLinks(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	p := newPipeline(store, nil)

	about := store.Put(&types.Node{
		Types: []string{types.TypeInterval, "urn:test:Meeting"},
		Properties: map[string][]string{
			types.PropertyStart: {"2024-03-01T12:00:00Z", "ignored"},
			"urn:test:title":    {"standup"},
		},
		Relations: map[string][]string{
			types.RelationTimeline: {"urn:stale"},
			"urn:test:attendee":    {"urn:alice"},
		},
	})

	session, err := p.Reconcile(ctx, about)
	require.NoError(t, err)
	assert.Equal(t, maintenance.ModeDirect, session.Mode)

	interval, err := store.GetNode(ctx, about)
	require.NoError(t, err)
	assert.Equal(t, session.TimelineIDs, interval.References(types.RelationTimeline))
	assert.NotContains(t, interval.References(types.RelationTimeline), "urn:stale")
	assert.Equal(t, []string{"urn:alice"}, interval.References("urn:test:attendee"))
	assert.Equal(t, []string{"standup"}, interval.Properties["urn:test:title"])
	assert.True(t, interval.HasType("urn:test:Meeting"))
}

func TestPipeline_Failures(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name       string
		start, end string
		want       error
	}{
		{name: "unparseable start", start: "yesterday", want: maintenance.ErrParseFailure},
		{name: "unparseable end", start: "2024-03-01", end: "03/02/2024", want: maintenance.ErrParseFailure},
		{name: "end before start", start: "2024-03-02", end: "2024-03-01", want: maintenance.ErrParseFailure},
		{name: "missing start", start: "", want: maintenance.ErrParseFailure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := driver.NewMemoryDriver()
			p := newPipeline(store, nil)

			props := map[string][]string{}
			if tc.start != "" {
				props[types.PropertyStart] = []string{tc.start}
			}
			if tc.end != "" {
				props[types.PropertyEnd] = []string{tc.end}
			}
			about := store.Put(&types.Node{Types: []string{types.TypeInterval}, Properties: props})

			_, err := p.Reconcile(ctx, about)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, 0, store.Stats().Creates)
			assert.Equal(t, 0, store.Stats().Updates)
		})
	}

	t.Run("missing interval", func(t *testing.T) {
		p := newPipeline(driver.NewMemoryDriver(), nil)
		_, err := p.Reconcile(ctx, "urn:missing")
		assert.ErrorIs(t, err, maintenance.ErrInconsistentState)
		assert.ErrorIs(t, err, driver.ErrNodeNotFound)
	})

	t.Run("empty identifier", func(t *testing.T) {
		p := newPipeline(driver.NewMemoryDriver(), nil)
		_, err := p.Reconcile(ctx, "")
		assert.ErrorIs(t, err, maintenance.ErrInconsistentState)
	})
}

// stubResolver returns scripted identifiers and fails on chosen days.
type stubResolver struct {
	mu     sync.Mutex
	id     func(day time.Time) string
	failOn map[string]error
	calls  int
}

func (s *stubResolver) ResolveDay(ctx context.Context, day time.Time) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if err := s.failOn[day.Format(time.DateOnly)]; err != nil {
		return "", err
	}
	return s.id(day), nil
}

func TestPipeline_DayFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	about := putInterval(store, "2024-03-01", "2024-03-04")

	r := &stubResolver{
		id:     func(day time.Time) string { return "urn:timeline:" + day.Format(time.DateOnly) },
		failOn: map[string]error{"2024-03-03": errors.New("connection reset")},
	}
	p := maintenance.NewPipeline(store, r, nil, maintenance.PipelineOptions{MaxParallelDays: 2})

	_, err := p.Reconcile(ctx, about)
	assert.ErrorIs(t, err, maintenance.ErrStoreFailure)

	interval, err := store.GetNode(ctx, about)
	require.NoError(t, err)
	assert.Empty(t, interval.References(types.RelationTimeline))
	assert.Equal(t, 0, store.Stats().Updates)
}

func TestPipeline_CollapsesDuplicateTimelines(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	about := putInterval(store, "2024-03-01", "2024-03-03")

	r := &stubResolver{id: func(day time.Time) string {
		if day.Day() == 3 {
			return "urn:timeline:b"
		}
		return "urn:timeline:a"
	}}
	p := maintenance.NewPipeline(store, r, nil, maintenance.PipelineOptions{})

	session, err := p.Reconcile(ctx, about)
	require.NoError(t, err)
	assert.Len(t, session.Days, 3)
	assert.Equal(t, []string{"urn:timeline:a", "urn:timeline:b"}, session.TimelineIDs)
	assert.Equal(t, 3, r.calls)
}

func TestPipeline_PublishesUpdate(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	bus := events.NewBus(nil)
	p := newPipeline(store, bus)

	var updates []*types.ResultSet
	bus.Subscribe(events.TopicUpdated, func(_ context.Context, ev events.Event) {
		if ev.Payload.First().HasType(types.TypeInterval) {
			updates = append(updates, ev.Payload)
		}
	})

	about := putInterval(store, "2024-03-01", "")
	_, err := p.Reconcile(ctx, about)
	require.NoError(t, err)

	require.Len(t, updates, 1)
	assert.Equal(t, about, updates[0].First().About)
	assert.Equal(t, testSource, updates[0].Source)
}

// brokenDriver fails discovery or answers fetches without an entity.
type brokenDriver struct {
	*driver.MemoryDriver
	queryErr error
}

func (b *brokenDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]*types.Node, error) {
	if b.queryErr != nil {
		return nil, b.queryErr
	}
	return []*types.Node{{About: "urn:ghost"}}, nil
}

func (b *brokenDriver) GetNode(context.Context, string) (*types.Node, error) {
	return &types.Node{}, nil
}

func TestPipeline_StoreAnomalies(t *testing.T) {
	ctx := context.Background()

	t.Run("query failure", func(t *testing.T) {
		store := &brokenDriver{MemoryDriver: driver.NewMemoryDriver(), queryErr: errors.New("timeout")}
		_, err := newPipeline(store, nil).Discover(ctx)
		assert.ErrorIs(t, err, maintenance.ErrStoreFailure)
	})

	t.Run("fetch without entity", func(t *testing.T) {
		store := &brokenDriver{MemoryDriver: driver.NewMemoryDriver()}
		session, err := newPipeline(store, nil).Discover(ctx)
		assert.ErrorIs(t, err, maintenance.ErrInconsistentState)
		assert.Equal(t, "urn:ghost", session.IntervalID)
	})
}

func TestPipeline_ConcurrentOverlappingIntervals(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	p := newPipeline(store, nil)

	var abouts []string
	for i := 0; i < 6; i++ {
		abouts = append(abouts, putInterval(store, "2024-03-01", "2024-03-03"))
	}

	var wg sync.WaitGroup
	for _, about := range abouts {
		wg.Add(1)
		go func(about string) {
			defer wg.Done()
			_, err := p.Reconcile(ctx, about)
			assert.NoError(t, err)
		}(about)
	}
	wg.Wait()

	assert.Len(t, store.Nodes(types.TypeOriginMarker), 3)
	assert.Len(t, store.Nodes(types.TypeRelativeTimeLine), 3)
}
