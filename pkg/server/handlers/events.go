package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/go-timeline/pkg/events"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const streamBuffer = 64

// EventsHandler streams bus notifications over a websocket
type EventsHandler struct {
	bus    *events.Bus
	logger *slog.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(bus *events.Bus, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{bus: bus, logger: logger}
}

// Stream handles GET /events
func (h *EventsHandler) Stream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead cancels ctx when the peer goes away.
	ctx := conn.CloseRead(c.Request.Context())
	stream := h.bus.Stream(ctx, streamBuffer,
		events.TopicCreated, events.TopicUpdated, events.TopicStoreAvailable)

	for ev := range stream {
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			h.logger.Debug("Event stream closed", "error", err)
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
