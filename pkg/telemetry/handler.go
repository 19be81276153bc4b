// Package telemetry records failed reconciliations in DuckDB for later
// inspection.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	"github.com/soundprediction/go-timeline/pkg/types"
)

const queueSize = 256

// ErrorRecord is one row of the reconcile_errors table.
type ErrorRecord struct {
	ID            string
	Timestamp     time.Time
	Level         string
	Message       string
	InvocationID  string
	Mode          string
	IntervalID    string
	RequestSource string
	SourceFile    string
	LineNumber    int
	Attributes    string
}

// Open opens the DuckDB database at path. An empty path opens an in-memory
// database.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}
	return db, nil
}

// DuckDBHandler is a slog.Handler that writes error logs to DuckDB
type DuckDBHandler struct {
	next  slog.Handler
	attrs []slog.Attr
	w     *writer
}

type writer struct {
	db     *sql.DB
	queue  chan ErrorRecord
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

// NewDuckDBHandler creates a new DuckDBHandler. Records are written by a
// background worker; Close flushes it.
func NewDuckDBHandler(next slog.Handler, db *sql.DB) (*DuckDBHandler, error) {
	w := &writer{
		db:    db,
		queue: make(chan ErrorRecord, queueSize),
		done:  make(chan struct{}),
	}
	if err := w.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	go w.run()

	return &DuckDBHandler{next: next, w: w}, nil
}

// initSchema creates the reconcile_errors table
func (w *writer) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS reconcile_errors (
		id VARCHAR,
		timestamp TIMESTAMP,
		level VARCHAR,
		message VARCHAR,
		invocation_id VARCHAR,
		mode VARCHAR,
		interval_id VARCHAR,
		request_source VARCHAR,
		source_file VARCHAR,
		line_number INTEGER,
		attributes JSON
	);
	`
	_, err := w.db.Exec(query)
	return err
}

func (w *writer) run() {
	defer close(w.done)

	query := `
	INSERT INTO reconcile_errors (
		id, timestamp, level, message,
		invocation_id, mode, interval_id, request_source,
		source_file, line_number, attributes
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	for rec := range w.queue {
		_, err := w.db.Exec(query,
			rec.ID, rec.Timestamp, rec.Level, rec.Message,
			rec.InvocationID, rec.Mode, rec.IntervalID, rec.RequestSource,
			rec.SourceFile, rec.LineNumber, rec.Attributes,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to log error to DuckDB: %v\n", err)
		}
	}
}

// Enabled implements slog.Handler
func (h *DuckDBHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *DuckDBHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.next.Handle(ctx, r); err != nil {
		return err
	}

	// Only errors reach the table
	if r.Level < slog.LevelError {
		return nil
	}

	attrs := make(map[string]any)
	for _, a := range h.attrs {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = attrValue(a.Value)
		return true
	})
	attrsJSON, _ := json.Marshal(attrs)

	fs := runtime.CallersFrames([]uintptr{r.PC})
	f, _ := fs.Next()

	rec := ErrorRecord{
		ID:            uuid.New().String(),
		Timestamp:     r.Time.UTC(),
		Level:         r.Level.String(),
		Message:       r.Message,
		InvocationID:  contextString(ctx, types.ContextKeyInvocationID),
		Mode:          contextString(ctx, types.ContextKeyMode),
		IntervalID:    contextString(ctx, types.ContextKeyIntervalID),
		RequestSource: contextString(ctx, types.ContextKeyRequestSource),
		SourceFile:    f.File,
		LineNumber:    f.Line,
		Attributes:    string(attrsJSON),
	}
	if rec.IntervalID == "" {
		if v, ok := attrs["interval"].(string); ok {
			rec.IntervalID = v
		}
	}

	h.w.mu.RLock()
	defer h.w.mu.RUnlock()
	if h.w.closed {
		return nil
	}
	select {
	case h.w.queue <- rec:
	default:
		fmt.Fprintf(os.Stderr, "Dropping error record, telemetry queue full: %s\n", r.Message)
	}
	return nil
}

// Close stops the worker after the queued records are written. The
// database is left open.
func (h *DuckDBHandler) Close() {
	h.w.mu.Lock()
	if !h.w.closed {
		h.w.closed = true
		close(h.w.queue)
	}
	h.w.mu.Unlock()
	<-h.w.done
}

// WithAttrs implements slog.Handler
func (h *DuckDBHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &DuckDBHandler{
		next:  h.next.WithAttrs(attrs),
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
		w:     h.w,
	}
}

// WithGroup implements slog.Handler
func (h *DuckDBHandler) WithGroup(name string) slog.Handler {
	return &DuckDBHandler{
		next:  h.next.WithGroup(name),
		attrs: h.attrs,
		w:     h.w,
	}
}

// RecentErrors returns up to limit records, newest first.
func RecentErrors(ctx context.Context, db *sql.DB, limit int) ([]ErrorRecord, error) {
	rows, err := db.QueryContext(ctx, `
	SELECT id, timestamp, level, message, invocation_id, mode, interval_id,
		request_source, source_file, line_number, CAST(attributes AS VARCHAR)
	FROM reconcile_errors
	ORDER BY timestamp DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorRecord
	for rows.Next() {
		var rec ErrorRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Level, &rec.Message,
			&rec.InvocationID, &rec.Mode, &rec.IntervalID, &rec.RequestSource,
			&rec.SourceFile, &rec.LineNumber, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("failed to scan error record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func contextString(ctx context.Context, key types.ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	case slog.KindDuration:
		return v.Duration().String()
	default:
		return v.Any()
	}
}
