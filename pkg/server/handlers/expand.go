package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/go-timeline/pkg/server/dto"
	"github.com/soundprediction/go-timeline/pkg/types"
	"github.com/soundprediction/go-timeline/pkg/utils"
)

// Expand handles GET /expand?start=...&end=...
func Expand(c *gin.Context) {
	start, err := utils.ParseTimestamp(c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_start",
			Message: err.Error(),
		})
		return
	}

	var end *time.Time
	if raw := c.Query("end"); raw != "" {
		t, err := utils.ParseTimestamp(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error:   "invalid_end",
				Message: err.Error(),
			})
			return
		}
		end = &t
	}

	days, err := utils.ExpandDateRange(start, end)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, utils.ErrInvalidRange) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, dto.NewErrorResponse(status, "invalid_range", err))
		return
	}

	resp := dto.ExpandResponse{
		Days:    make([]string, 0, len(days)),
		Origins: make([]string, 0, len(days)),
	}
	for _, day := range days {
		resp.Days = append(resp.Days, day.Format(time.DateOnly))
		resp.Origins = append(resp.Origins, utils.CanonicalOrigin(day))
	}
	c.JSON(http.StatusOK, resp)
}

func withRequestSource(c *gin.Context, source string) context.Context {
	return context.WithValue(c.Request.Context(), types.ContextKeyRequestSource, source)
}
