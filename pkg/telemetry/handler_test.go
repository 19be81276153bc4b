package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/soundprediction/go-timeline/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuckDBHandler(t *testing.T) {
	db, err := Open("")
	require.NoError(t, err)
	defer db.Close()

	var buf bytes.Buffer
	handler, err := NewDuckDBHandler(slog.NewTextHandler(&buf, nil), db)
	require.NoError(t, err)
	logger := slog.New(handler).With("component", "pipeline")

	ctx := context.WithValue(context.Background(), types.ContextKeyInvocationID, "inv-1")
	ctx = context.WithValue(ctx, types.ContextKeyMode, "direct")
	ctx = context.WithValue(ctx, types.ContextKeyIntervalID, "urn:interval:1")

	logger.InfoContext(ctx, "Linked interval to range timelines")
	logger.ErrorContext(ctx, "Reconciliation failed", "error", errors.New("store down"))
	logger.Error("Discovery pass failed", "interval", "urn:interval:2")
	handler.Close()

	assert.Contains(t, buf.String(), "Linked interval to range timelines")
	assert.Contains(t, buf.String(), "Reconciliation failed")

	records, err := RecentErrors(context.Background(), db, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byMessage := map[string]ErrorRecord{}
	for _, rec := range records {
		byMessage[rec.Message] = rec
	}

	failed := byMessage["Reconciliation failed"]
	assert.Equal(t, "ERROR", failed.Level)
	assert.Equal(t, "inv-1", failed.InvocationID)
	assert.Equal(t, "direct", failed.Mode)
	assert.Equal(t, "urn:interval:1", failed.IntervalID)
	assert.Contains(t, failed.Attributes, "store down")
	assert.Contains(t, failed.Attributes, "pipeline")

	discovery := byMessage["Discovery pass failed"]
	assert.Equal(t, "urn:interval:2", discovery.IntervalID)
	assert.Empty(t, discovery.Mode)
}

func TestDuckDBHandler_CloseTwice(t *testing.T) {
	db, err := Open("")
	require.NoError(t, err)
	defer db.Close()

	handler, err := NewDuckDBHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), db)
	require.NoError(t, err)
	handler.Close()
	assert.NotPanics(t, handler.Close)
}
