package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *Event) error
}

// DBLogger implements audit logging to the SQL database
type DBLogger struct {
	db     *sql.DB
	driver string
}

// NewDBLogger creates a new database-backed audit logger.
// The driver name selects the DDL dialect ("postgres" or "sqlite3").
func NewDBLogger(db *sql.DB, driver string) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db, driver: driver}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_events table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	serial := "BIGSERIAL PRIMARY KEY"
	if l.driver == "sqlite3" {
		serial = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id ` + serial + `,
		timestamp TIMESTAMP NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		actor_id VARCHAR(36),
		target_id VARCHAR(36),
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		status_code INTEGER,
		ip_address VARCHAR(45),
		user_agent TEXT,
		message TEXT,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_actor_id ON audit_events(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_target_id ON audit_events(target_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log inserts an audit event
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var metadataJSON []byte
	var err error
	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			timestamp, event_type, status, actor_id, target_id,
			request_id, method, path, status_code,
			ip_address, user_agent, message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = l.db.ExecContext(ctx, query,
		event.Timestamp, event.EventType, event.Status, event.ActorID, event.TargetID,
		event.RequestID, event.Method, event.Path, event.StatusCode,
		event.IPAddress, event.UserAgent, event.Message, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns events matching the filter, newest first
func (l *DBLogger) Search(ctx context.Context, actorID, targetID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, timestamp, event_type, status, actor_id, target_id,
		       request_id, method, path, status_code, ip_address, user_agent, message, metadata
		FROM audit_events
		WHERE ($1 = '' OR actor_id = $1)
		  AND ($2 = '' OR target_id = $2)
		ORDER BY timestamp DESC
		LIMIT $3
	`

	rows, err := l.db.QueryContext(ctx, query, actorID, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		var event Event
		var metadataJSON []byte
		err := rows.Scan(
			&event.ID, &event.Timestamp, &event.EventType, &event.Status,
			&event.ActorID, &event.TargetID, &event.RequestID,
			&event.Method, &event.Path, &event.StatusCode,
			&event.IPAddress, &event.UserAgent, &event.Message, &metadataJSON,
		)
		if err != nil {
			return nil, err
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				event.Metadata = nil
			}
		}
		events = append(events, &event)
	}

	return events, rows.Err()
}

// Cleanup removes events older than the retention period and returns
// the number of rows deleted
func (l *DBLogger) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -policy.RetentionDays)

	result, err := l.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit events: %w", err)
	}

	return result.RowsAffected()
}
