package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/go-timeline"
	"github.com/soundprediction/go-timeline/pkg/driver"
	"github.com/soundprediction/go-timeline/pkg/events"
	"github.com/soundprediction/go-timeline/pkg/server/dto"
	"github.com/soundprediction/go-timeline/pkg/types"
)

// ReconcileHandler handles reconciliation requests
type ReconcileHandler struct {
	client *timeline.Client
}

// NewReconcileHandler creates a new reconcile handler
func NewReconcileHandler(client *timeline.Client) *ReconcileHandler {
	return &ReconcileHandler{client: client}
}

// Reconcile handles POST /reconcile
func (h *ReconcileHandler) Reconcile(c *gin.Context) {
	var req dto.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	if req.Async {
		h.client.TriggerReconciliation(req.About)
		c.JSON(http.StatusAccepted, dto.Result{
			Success: true,
			Data:    gin.H{"about": req.About},
		})
		return
	}

	ctx := withRequestSource(c, "http")
	session, err := h.client.Reconcile(ctx, req.About)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSessionResponse(session))
}

// Discover handles POST /discover
func (h *ReconcileHandler) Discover(c *gin.Context) {
	session, err := h.client.Discover(withRequestSource(c, "http"))
	if errors.Is(err, timeline.ErrNoWork) {
		c.JSON(http.StatusOK, dto.DiscoverResponse{WorkFound: false})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	resp := dto.NewSessionResponse(session)
	c.JSON(http.StatusOK, dto.DiscoverResponse{WorkFound: true, Session: &resp})
}

// Notify handles POST /notifications. Other writers announce created or
// updated nodes here; intervals among them are reconciled.
func (h *ReconcileHandler) Notify(c *gin.Context) {
	var req dto.NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	rs := &types.ResultSet{Results: req.Results, Source: req.Source}
	ctx := withRequestSource(c, "notification")
	switch events.Topic(req.Topic) {
	case events.TopicCreated:
		h.client.Bus().PublishCreated(ctx, rs)
	case events.TopicUpdated:
		h.client.Bus().PublishUpdated(ctx, rs)
	default:
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "unknown topic " + req.Topic,
		})
		return
	}
	c.JSON(http.StatusAccepted, dto.Result{Success: true})
}

// writeError maps the reconciliation error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, driver.ErrNodeNotFound):
		status, code = http.StatusNotFound, "interval_not_found"
	case errors.Is(err, timeline.ErrInconsistentState):
		status, code = http.StatusConflict, "inconsistent_state"
	case errors.Is(err, timeline.ErrParseFailure):
		status, code = http.StatusUnprocessableEntity, "parse_failure"
	case errors.Is(err, timeline.ErrStoreFailure):
		status, code = http.StatusServiceUnavailable, "store_failure"
	}
	c.JSON(status, dto.NewErrorResponse(status, code, err))
}
