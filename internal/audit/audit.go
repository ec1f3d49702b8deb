// Package audit records operator actions taken through the gateway API.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/femasgate/internal/metrics"
)

// EventType represents the type of audit event
type EventType string

const (
	// Session events
	EventTypeLogin       EventType = "LOGIN"
	EventTypeLogout      EventType = "LOGOUT"
	EventTypeLoginFailed EventType = "LOGIN_FAILED"
	EventTypeMdLogin     EventType = "MD_LOGIN"
	EventTypeMdLogout    EventType = "MD_LOGOUT"
	EventTypeUserLogin   EventType = "USER_LOGIN"
	EventTypeUserLogout  EventType = "USER_LOGOUT"

	// Order events
	EventTypeOrderPlaced   EventType = "ORDER_PLACED"
	EventTypeOrderCanceled EventType = "ORDER_CANCELED"

	// Market data events
	EventTypeSubscribe   EventType = "SUBSCRIBE"
	EventTypeUnsubscribe EventType = "UNSUBSCRIBE"

	// Configuration events
	EventTypeConfigUpdated EventType = "CONFIG_UPDATED"

	// Security events
	EventTypeRateLimitExceeded  EventType = "RATE_LIMIT_EXCEEDED"
	EventTypeUnauthorizedAccess EventType = "UNAUTHORIZED_ACCESS"
	EventTypeInvalidInput       EventType = "INVALID_INPUT"
)

// Severity represents the severity level of an audit event
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Event represents a single audit log event
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	Severity  Severity       `json:"severity"`
	UserID    string         `json:"user_id,omitempty"` // vendor user the session runs as
	IPAddress string         `json:"ip_address"`
	UserAgent string         `json:"user_agent,omitempty"`
	Resource  string         `json:"resource,omitempty"` // order ref, instrument list, config key
	Action    string         `json:"action"`
	Success   bool           `json:"success"`
	ErrorMsg  string         `json:"error_message,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Duration  int64          `json:"duration_ms,omitempty"`
}

// DB is the subset of pgxpool.Pool the logger uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Logger handles audit logging operations. Without a database events are
// only written to the structured log.
type Logger struct {
	db      DB
	enabled bool
}

// NewLogger creates a new audit logger. db may be nil.
func NewLogger(db DB, enabled bool) *Logger {
	return &Logger{
		db:      db,
		enabled: enabled,
	}
}

// Schema creates the audit table.
const Schema = `CREATE TABLE IF NOT EXISTS audit_logs (
	id            UUID PRIMARY KEY,
	timestamp     TIMESTAMPTZ NOT NULL,
	event_type    TEXT NOT NULL,
	severity      TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	ip_address    TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT '',
	resource      TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	success       BOOLEAN NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	metadata      JSONB,
	request_id    TEXT NOT NULL DEFAULT '',
	duration_ms   BIGINT NOT NULL DEFAULT 0
)`

// Migrate creates the audit table when a database is attached.
func (l *Logger) Migrate(ctx context.Context) error {
	if l.db == nil {
		return nil
	}
	if _, err := l.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

// Log records an audit event
func (l *Logger) Log(ctx context.Context, event *Event) error {
	if l == nil || !l.enabled {
		return nil
	}

	start := time.Now()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
		if !event.Success {
			event.Severity = SeverityWarning
		}
	}

	logEvent := log.With().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.EventType)).
		Str("severity", string(event.Severity)).
		Str("user_id", event.UserID).
		Str("ip_address", event.IPAddress).
		Str("resource", event.Resource).
		Str("action", event.Action).
		Bool("success", event.Success).
		Logger()

	if event.ErrorMsg != "" {
		logEvent = logEvent.With().Str("error", event.ErrorMsg).Logger()
	}
	if event.Duration > 0 {
		logEvent = logEvent.With().Int64("duration_ms", event.Duration).Logger()
	}

	switch event.Severity {
	case SeverityCritical, SeverityError:
		logEvent.Error().Msg("Audit event")
	case SeverityWarning:
		logEvent.Warn().Msg("Audit event")
	default:
		logEvent.Info().Msg("Audit event")
	}

	if l.db != nil {
		if err := l.persistEvent(ctx, event); err != nil {
			metrics.RecordAuditLog(string(event.EventType), false, float64(time.Since(start).Milliseconds()))
			return err
		}
	}

	metrics.RecordAuditLog(string(event.EventType), true, float64(time.Since(start).Milliseconds()))
	return nil
}

const insertEvent = `
	INSERT INTO audit_logs (
		id, timestamp, event_type, severity, user_id, ip_address,
		user_agent, resource, action, success, error_message,
		metadata, request_id, duration_ms
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
	)`

func (l *Logger) persistEvent(ctx context.Context, event *Event) error {
	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal audit event metadata")
			metadataJSON = []byte("{}")
		}
	}

	_, err := l.db.Exec(ctx, insertEvent,
		event.ID,
		event.Timestamp,
		string(event.EventType),
		string(event.Severity),
		event.UserID,
		event.IPAddress,
		event.UserAgent,
		event.Resource,
		event.Action,
		event.Success,
		event.ErrorMsg,
		metadataJSON,
		event.RequestID,
		event.Duration,
	)
	if err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID.String()).
			Str("event_type", string(event.EventType)).
			Msg("Failed to persist audit event to database")
		return fmt.Errorf("failed to persist audit event: %w", err)
	}
	return nil
}

// QueryFilters defines filters for querying audit events
type QueryFilters struct {
	EventType EventType
	UserID    string
	IPAddress string
	StartTime time.Time
	EndTime   time.Time
	Success   *bool
	Limit     int
}

// Query returns the events matching filters, newest first. It returns no
// events when no database is attached.
func (l *Logger) Query(ctx context.Context, filters QueryFilters) ([]Event, error) {
	if l == nil || l.db == nil {
		return []Event{}, nil
	}

	query := `
		SELECT
			id, timestamp, event_type, severity, user_id, ip_address,
			user_agent, resource, action, success, error_message,
			metadata, request_id, duration_ms
		FROM audit_logs
		WHERE 1=1`

	var args []any
	where := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}

	if filters.EventType != "" {
		where("event_type =", string(filters.EventType))
	}
	if filters.UserID != "" {
		where("user_id =", filters.UserID)
	}
	if filters.IPAddress != "" {
		where("ip_address =", filters.IPAddress)
	}
	if !filters.StartTime.IsZero() {
		where("timestamp >=", filters.StartTime)
	}
	if !filters.EndTime.IsZero() {
		where("timestamp <=", filters.EndTime)
	}
	if filters.Success != nil {
		where("success =", *filters.Success)
	}

	query += ` ORDER BY timestamp DESC`
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			event        Event
			id           string
			eventType    string
			severity     string
			metadataJSON []byte
		)
		err := rows.Scan(
			&id,
			&event.Timestamp,
			&eventType,
			&severity,
			&event.UserID,
			&event.IPAddress,
			&event.UserAgent,
			&event.Resource,
			&event.Action,
			&event.Success,
			&event.ErrorMsg,
			&metadataJSON,
			&event.RequestID,
			&event.Duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if event.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid audit event id %q: %w", id, err)
		}
		event.EventType = EventType(eventType)
		event.Severity = Severity(severity)

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				log.Warn().Err(err).Msg("Failed to unmarshal audit event metadata")
			}
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
