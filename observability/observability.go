// Package observability records gateway lifecycle events — session
// transitions, reinitializations, send actions, dispatch failures — to a
// SQLite audit log. It never stores message bodies: the message buffer stays
// memory-only by design.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sintral/wagate/idgen"
)

const schema = `
CREATE TABLE IF NOT EXISTS gateway_events (
	event_id   TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	entity     TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	success    INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gateway_events_type_time
	ON gateway_events(event_type, created_at);
`

// EventLogger writes gateway lifecycle events to a SQLite database.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the given database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Init creates the events table.
func (l *EventLogger) Init() error {
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("observability: init schema: %w", err)
	}
	return nil
}

// Record writes one event row. Non-blocking for the caller's control flow:
// errors are logged via slog but do not propagate, so a failing audit store
// never blocks the gateway.
func (l *EventLogger) Record(ctx context.Context, eventType, entity, detail string, success bool) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO gateway_events (event_id, event_type, entity, detail, success, created_at)
		VALUES (?,?,?,?,?,?)`,
		l.newID(), eventType, entity, detail, success, time.Now().Unix())
	if err != nil {
		slog.Error("audit event record failed", "error", err, "event_type", eventType)
	}
}

// Cleanup deletes events older than the retention window. Zero or negative
// retention means no cleanup.
func Cleanup(ctx context.Context, db *sql.DB, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().Unix() - int64(retentionDays)*86400
	if _, err := db.ExecContext(ctx,
		`DELETE FROM gateway_events WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("observability: cleanup: %w", err)
	}
	return nil
}
