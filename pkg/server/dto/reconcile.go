package dto

import (
	"time"

	"github.com/soundprediction/go-timeline/pkg/maintenance"
	"github.com/soundprediction/go-timeline/pkg/types"
)

// ReconcileRequest asks for one interval to be linked to its timelines
type ReconcileRequest struct {
	About string `json:"about" binding:"required"`
	// Async queues the work and returns immediately
	Async bool `json:"async,omitempty"`
}

// SessionResponse describes a finished pipeline invocation
type SessionResponse struct {
	ID          string   `json:"id"`
	Mode        string   `json:"mode"`
	IntervalID  string   `json:"interval_id,omitempty"`
	Days        []string `json:"days,omitempty"`
	TimelineIDs []string `json:"timeline_ids,omitempty"`
}

// NewSessionResponse converts a work session.
func NewSessionResponse(s *maintenance.WorkSession) SessionResponse {
	resp := SessionResponse{
		ID:          s.ID,
		Mode:        string(s.Mode),
		IntervalID:  s.IntervalID,
		TimelineIDs: s.TimelineIDs,
	}
	for _, day := range s.Days {
		resp.Days = append(resp.Days, day.Format(time.DateOnly))
	}
	return resp
}

// DiscoverResponse reports the outcome of a discovery pass
type DiscoverResponse struct {
	WorkFound bool             `json:"work_found"`
	Session   *SessionResponse `json:"session,omitempty"`
}

// NotificationRequest announces nodes changed by another writer
type NotificationRequest struct {
	Topic   string        `json:"topic" binding:"required,oneof=created updated"`
	Results []*types.Node `json:"results" binding:"required"`
	Source  string        `json:"source,omitempty"`
}

// ExpandResponse lists the calendar days covered by a range
type ExpandResponse struct {
	Days    []string `json:"days"`
	Origins []string `json:"origins"`
}

// StatusResponse reports the maintainer state
type StatusResponse struct {
	StoreAvailable bool                   `json:"store_available"`
	State          string                 `json:"state"`
	NextRun        *time.Time             `json:"next_run,omitempty"`
	LastRun        *maintenance.RunResult `json:"last_run,omitempty"`
	Breaker        string                 `json:"breaker,omitempty"`
}
