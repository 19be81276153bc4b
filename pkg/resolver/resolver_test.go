package resolver_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soundprediction/go-timeline/pkg/cache"
	"github.com/soundprediction/go-timeline/pkg/driver"
	"github.com/soundprediction/go-timeline/pkg/events"
	"github.com/soundprediction/go-timeline/pkg/resolver"
	"github.com/soundprediction/go-timeline/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic events.Topic
	rs    *types.ResultSet
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) PublishCreated(_ context.Context, rs *types.ResultSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{events.TopicCreated, rs})
}

func (p *recordingPublisher) PublishUpdated(_ context.Context, rs *types.ResultSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{events.TopicUpdated, rs})
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolveDay_CreatesOnce(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	pub := &recordingPublisher{}
	r := resolver.New(store, pub, resolver.Options{Creator: "urn:test:creator", SerializeDays: true})

	id, err := r.ResolveDay(ctx, day(2024, 3, 1))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	timeline, err := store.GetNode(ctx, id)
	require.NoError(t, err)
	assert.True(t, timeline.HasType(types.TypeRelativeTimeLine))
	assert.Equal(t, []string{"urn:test:creator"}, timeline.References(types.RelationCreator))

	markers := store.Nodes(types.TypeOriginMarker)
	require.Len(t, markers, 1)
	origin, _ := markers[0].Property(types.PropertyOrigin)
	assert.Equal(t, "2024-03-01T00:00:00", origin)
	assert.Equal(t, []string{id}, markers[0].References(types.RelationRangeTimeLine))

	creates := store.Stats().Creates
	again, err := r.ResolveDay(ctx, time.Date(2024, 3, 1, 17, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, creates, store.Stats().Creates, "second resolution must not create")
	assert.Len(t, pub.events, 2, "second resolution must not publish")
}

func TestResolveDay_PublishOrder(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	pub := &recordingPublisher{}
	r := resolver.New(store, pub, resolver.Options{Creator: "urn:test:creator"})

	id, err := r.ResolveDay(ctx, day(2024, 3, 2))
	require.NoError(t, err)

	require.Len(t, pub.events, 2)
	assert.Equal(t, events.TopicCreated, pub.events[0].topic)
	assert.Equal(t, id, pub.events[0].rs.First().About)
	assert.Equal(t, "urn:test:creator", pub.events[0].rs.Source)

	assert.Equal(t, events.TopicUpdated, pub.events[1].topic)
	marker := pub.events[1].rs.First()
	assert.True(t, marker.HasType(types.TypeOriginMarker))
	assert.Equal(t, []string{id}, marker.References(types.RelationRangeTimeLine))
}

func TestResolveDay_ExistingLink(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	store.Put(&types.Node{
		Types:      []string{types.TypeOriginMarker},
		Properties: map[string][]string{types.PropertyOrigin: {"2024-03-01T00:00:00"}},
		Relations:  map[string][]string{types.RelationRangeTimeLine: {"urn:existing", "urn:later"}},
	})
	pub := &recordingPublisher{}
	r := resolver.New(store, pub, resolver.Options{})

	id, err := r.ResolveDay(ctx, day(2024, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, "urn:existing", id)
	assert.Empty(t, pub.events)
	assert.Equal(t, 0, store.Stats().Creates)
	assert.Equal(t, 0, store.Stats().Updates)
}

func TestResolveDay_ConcurrentSameDay(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	r := resolver.New(store, nil, resolver.Options{SerializeDays: true})

	var wg sync.WaitGroup
	ids := make([]string, 12)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.ResolveDay(ctx, day(2024, 3, 5))
			if assert.NoError(t, err) {
				ids[i] = id
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, store.Nodes(types.TypeRelativeTimeLine), 1)
	assert.Len(t, store.Nodes(types.TypeOriginMarker), 1)
}

func TestResolveDay_Cache(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	dayCache := cache.NewMemoryCache()
	r := resolver.New(store, nil, resolver.Options{Cache: dayCache})

	id, err := r.ResolveDay(ctx, day(2024, 3, 1))
	require.NoError(t, err)

	cached, err := dayCache.Get("2024-03-01T00:00:00")
	require.NoError(t, err)
	assert.Equal(t, id, cached)

	lookups := store.Stats().Lookups
	again, err := r.ResolveDay(ctx, day(2024, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, lookups, store.Stats().Lookups, "cache hit must not reach the store")
}

// emptyDriver answers FindOrCreate without an entity.
type emptyDriver struct {
	*driver.MemoryDriver
	err error
}

func (e *emptyDriver) FindOrCreate(context.Context, types.SearchSpec) (*types.Node, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &types.Node{}, nil
}

func TestResolveDay_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("empty marker", func(t *testing.T) {
		r := resolver.New(&emptyDriver{MemoryDriver: driver.NewMemoryDriver()}, nil, resolver.Options{})
		_, err := r.ResolveDay(ctx, day(2024, 3, 1))
		assert.ErrorIs(t, err, resolver.ErrEmptyResult)
	})

	t.Run("store error", func(t *testing.T) {
		boom := errors.New("connection reset")
		r := resolver.New(&emptyDriver{MemoryDriver: driver.NewMemoryDriver(), err: boom}, nil, resolver.Options{SerializeDays: true})
		_, err := r.ResolveDay(ctx, day(2024, 3, 1))
		assert.ErrorIs(t, err, boom)
	})
}

// gatedDriver blocks FindOrCreate until release is closed.
type gatedDriver struct {
	*driver.MemoryDriver
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedDriver) FindOrCreate(ctx context.Context, spec types.SearchSpec) (*types.Node, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.MemoryDriver.FindOrCreate(ctx, spec)
}

func TestResolveDay_CallerCancelDoesNotFailOthers(t *testing.T) {
	store := &gatedDriver{
		MemoryDriver: driver.NewMemoryDriver(),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	r := resolver.New(store, nil, resolver.Options{SerializeDays: true})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.ResolveDay(first, day(2024, 3, 1))
		firstErr <- err
	}()
	<-store.entered

	type result struct {
		id  string
		err error
	}
	second := make(chan result, 1)
	go func() {
		id, err := r.ResolveDay(context.Background(), day(2024, 3, 1))
		second <- result{id, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(store.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.NotEmpty(t, res.id)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Len(t, store.Nodes(types.TypeRelativeTimeLine), 1)
}
