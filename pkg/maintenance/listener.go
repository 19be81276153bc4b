package maintenance

import (
	"context"
	"log/slog"
	"sync"

	"github.com/soundprediction/go-timeline/pkg/events"
	"github.com/soundprediction/go-timeline/pkg/types"
)

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	// IntervalTypes must all be carried by a node for it to count as an
	// interval. Defaults to types.IntervalTypes.
	IntervalTypes []string
	// IgnoreSource skips notifications stamped with this source, so the
	// maintainer does not react to its own writes.
	IgnoreSource string
	Logger       *slog.Logger
}

// Listener triggers direct-mode reconciliation for intervals announced on
// the bus.
type Listener struct {
	trigger       func(about string)
	intervalTypes []string
	ignoreSource  string
	logger        *slog.Logger

	mu   sync.Mutex
	subs []events.Subscription
}

// NewListener creates a Listener that calls trigger for each interval seen.
func NewListener(trigger func(about string), opts ListenerOptions) *Listener {
	if len(opts.IntervalTypes) == 0 {
		opts.IntervalTypes = types.IntervalTypes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		trigger:       trigger,
		intervalTypes: opts.IntervalTypes,
		ignoreSource:  opts.IgnoreSource,
		logger:        logger,
	}
}

// Attach subscribes to created and updated notifications.
func (l *Listener) Attach(bus events.Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs,
		bus.Subscribe(events.TopicCreated, l.Handle),
		bus.Subscribe(events.TopicUpdated, l.Handle))
}

// Close removes the subscriptions.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sub := range l.subs {
		sub.Cancel()
	}
	l.subs = nil
}

// Handle inspects one notification.
func (l *Listener) Handle(_ context.Context, ev events.Event) {
	if ev.Payload == nil {
		return
	}
	if l.ignoreSource != "" && ev.Payload.Source == l.ignoreSource {
		return
	}
	for _, node := range ev.Payload.Results {
		if node == nil || node.About == "" || !node.HasAllTypes(l.intervalTypes) {
			continue
		}
		l.logger.Debug("Interval changed", "interval", node.About, "topic", ev.Topic)
		l.trigger(node.About)
	}
}
