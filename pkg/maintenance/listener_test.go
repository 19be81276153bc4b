package maintenance_test

import (
	"context"
	"testing"

	"github.com/soundprediction/go-timeline/pkg/events"
	"github.com/soundprediction/go-timeline/pkg/maintenance"
	"github.com/soundprediction/go-timeline/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestListener(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(nil)

	var triggered []string
	l := maintenance.NewListener(func(about string) {
		triggered = append(triggered, about)
	}, maintenance.ListenerOptions{IgnoreSource: testSource})
	l.Attach(bus)

	interval := &types.Node{About: "urn:interval", Types: []string{"urn:test:Meeting", types.TypeInterval}}
	marker := &types.Node{About: "urn:marker", Types: []string{types.TypeOriginMarker}}

	bus.PublishCreated(ctx, &types.ResultSet{Results: []*types.Node{interval, marker}})
	bus.PublishUpdated(ctx, &types.ResultSet{Results: []*types.Node{interval}, Source: "urn:other-client"})
	bus.PublishUpdated(ctx, &types.ResultSet{Results: []*types.Node{interval}, Source: testSource})
	bus.PublishUpdated(ctx, nil)
	bus.PublishUpdated(ctx, &types.ResultSet{Results: []*types.Node{nil, {Types: []string{types.TypeInterval}}}})

	assert.Equal(t, []string{"urn:interval", "urn:interval"}, triggered)

	l.Close()
	bus.PublishCreated(ctx, &types.ResultSet{Results: []*types.Node{interval}})
	assert.Len(t, triggered, 2)
	assert.Equal(t, 0, bus.Subscribers(events.TopicCreated))
}

func TestListener_AllTypesRequired(t *testing.T) {
	var triggered []string
	l := maintenance.NewListener(func(about string) {
		triggered = append(triggered, about)
	}, maintenance.ListenerOptions{IntervalTypes: []string{types.TypeInterval, "urn:test:Scheduled"}})

	l.Handle(context.Background(), events.Event{
		Topic: events.TopicCreated,
		Payload: &types.ResultSet{Results: []*types.Node{
			{About: "urn:partial", Types: []string{types.TypeInterval}},
			{About: "urn:full", Types: []string{"urn:test:Scheduled", types.TypeInterval}},
		}},
	})
	assert.Equal(t, []string{"urn:full"}, triggered)
}
