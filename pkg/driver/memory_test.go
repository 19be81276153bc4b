package driver_test

import (
	"context"
	"sync"
	"testing"

	"github.com/soundprediction/go-timeline/pkg/driver"
	"github.com/soundprediction/go-timeline/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ driver.GraphDriver = (*driver.MemoryDriver)(nil)

const discoveryQuery = "MATCH (n:`" + types.TypeInterval + "`) " +
	"WHERE NOT (n)-[:`" + types.RelationTimeline + "`]->(:`" + types.TypeRelativeTimeLine + "`) " +
	"RETURN n LIMIT 1"

func TestMemoryDriver_ExecuteQuery(t *testing.T) {
	ctx := context.Background()
	d := driver.NewMemoryDriver()

	timeline := d.Put(&types.Node{Types: []string{types.TypeRelativeTimeLine}})
	linked := d.Put(&types.Node{
		Types:     []string{types.TypeInterval},
		Relations: map[string][]string{types.RelationTimeline: {timeline}},
	})
	// Linked to something that is not a RelativeTimeLine, so still pending.
	other := d.Put(&types.Node{Types: []string{"urn:test:Other"}})
	pending := d.Put(&types.Node{
		Types:     []string{types.TypeInterval},
		Relations: map[string][]string{types.RelationTimeline: {other}},
	})

	t.Run("discovery skips linked intervals", func(t *testing.T) {
		nodes, err := d.ExecuteQuery(ctx, discoveryQuery, nil)
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, pending, nodes[0].About)
		assert.NotEqual(t, linked, nodes[0].About)
	})

	t.Run("multi-line queries are compacted", func(t *testing.T) {
		query := "MATCH (n:`" + types.TypeInterval + "`)\n\tRETURN n"
		nodes, err := d.ExecuteQuery(ctx, query, nil)
		require.NoError(t, err)
		assert.Len(t, nodes, 2)
	})

	t.Run("unsupported query", func(t *testing.T) {
		_, err := d.ExecuteQuery(ctx, "MATCH (a)-->(b) RETURN a", nil)
		assert.Error(t, err)
	})
}

func TestMemoryDriver_FindOrCreate(t *testing.T) {
	ctx := context.Background()
	d := driver.NewMemoryDriver()
	spec := types.SearchSpec{
		Type:     types.TypeOriginMarker,
		Property: types.PropertyOrigin,
		Value:    "2024-03-01T00:00:00",
	}

	first, err := d.FindOrCreate(ctx, spec)
	require.NoError(t, err)
	assert.True(t, first.HasType(types.TypeOriginMarker))
	origin, ok := first.Property(types.PropertyOrigin)
	require.True(t, ok)
	assert.Equal(t, "2024-03-01T00:00:00", origin)

	second, err := d.FindOrCreate(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, first.About, second.About)
	assert.Equal(t, 1, d.Stats().Creates)

	_, err = d.FindOrCreate(ctx, types.SearchSpec{Type: types.TypeOriginMarker})
	assert.ErrorIs(t, err, driver.ErrInvalidSearch)
}

func TestMemoryDriver_FindOrCreateConcurrent(t *testing.T) {
	ctx := context.Background()
	d := driver.NewMemoryDriver()
	spec := types.SearchSpec{Type: types.TypeOriginMarker, Property: types.PropertyOrigin, Value: "2024-03-02T00:00:00"}

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := d.FindOrCreate(ctx, spec)
			if assert.NoError(t, err) {
				ids[i] = n.About
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, d.Nodes(types.TypeOriginMarker), 1)
}

func TestMemoryDriver_UpdateNode(t *testing.T) {
	ctx := context.Background()
	d := driver.NewMemoryDriver()
	about := d.Put(&types.Node{
		Types:      []string{types.TypeInterval},
		Properties: map[string][]string{types.PropertyStart: {"2024-03-01"}},
		Relations: map[string][]string{
			types.RelationTimeline: {"urn:old"},
			"urn:test:tag":         {"a"},
		},
	})

	t.Run("merge keeps existing values", func(t *testing.T) {
		rs, err := d.UpdateNode(ctx, about, &types.NodeUpdate{
			Relations: map[string][]string{"urn:test:tag": {"a", "b"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, rs.First().References("urn:test:tag"))
	})

	t.Run("replace overwrites one relation only", func(t *testing.T) {
		rs, err := d.UpdateNode(ctx, about, &types.NodeUpdate{
			Relations:        map[string][]string{types.RelationTimeline: {"urn:new-1", "urn:new-2"}},
			ReplaceRelations: []string{types.RelationTimeline},
		})
		require.NoError(t, err)
		n := rs.First()
		assert.Equal(t, []string{"urn:new-1", "urn:new-2"}, n.References(types.RelationTimeline))
		assert.Equal(t, []string{"a", "b"}, n.References("urn:test:tag"))
		start, _ := n.Property(types.PropertyStart)
		assert.Equal(t, "2024-03-01", start)
	})

	t.Run("replace without targets clears", func(t *testing.T) {
		rs, err := d.UpdateNode(ctx, about, &types.NodeUpdate{ReplaceRelations: []string{"urn:test:tag"}})
		require.NoError(t, err)
		assert.Empty(t, rs.First().References("urn:test:tag"))
	})

	t.Run("missing node", func(t *testing.T) {
		_, err := d.UpdateNode(ctx, "urn:missing", &types.NodeUpdate{})
		assert.ErrorIs(t, err, driver.ErrNodeNotFound)
	})

	assert.Equal(t, 3, d.Stats().Updates)
}

func TestMemoryDriver_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	d := driver.NewMemoryDriver()
	about := d.Put(&types.Node{Types: []string{types.TypeInterval}})

	n, err := d.GetNode(ctx, about)
	require.NoError(t, err)
	n.Types = append(n.Types, "urn:test:mutated")

	again, err := d.GetNode(ctx, about)
	require.NoError(t, err)
	assert.False(t, again.HasType("urn:test:mutated"))
}

func TestMemoryDriver_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := driver.NewMemoryDriver()

	_, err := d.GetNode(ctx, "urn:any")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, d.Ping(ctx), context.Canceled)
}
