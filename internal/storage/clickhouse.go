package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/model"
)

// ClickHouse is the read side of the telemetry store
type ClickHouse struct {
	conn driver.Conn
}

func NewClickHouse(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open clickhouse")
	}

	// Test connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, errors.Wrap(err, "ping clickhouse")
	}

	return &ClickHouse{conn: conn}, nil
}

// Migrate creates the events and sessions tables when missing
func (c *ClickHouse) Migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(clickhouseSchema) {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "clickhouse migrate")
		}
	}
	return nil
}

// ScanEvents returns events of the project matching the query, newest first
func (c *ClickHouse) ScanEvents(ctx context.Context, q model.EventQuery) ([]model.Event, error) {
	var storedTypes []string
	for _, t := range q.Types {
		storedTypes = append(storedTypes, t.StoredNames()...)
	}
	if len(storedTypes) == 0 {
		return nil, nil
	}

	query := `
		SELECT event_id, session_id, project_id, event_type, page_url, payload, timestamp
		FROM events
		WHERE project_id = ? AND event_type IN (` + placeholders(len(storedTypes)) + `)
		AND timestamp >= ? AND timestamp < ?`
	args := []interface{}{q.ProjectID}
	for _, t := range storedTypes {
		args = append(args, t)
	}
	args = append(args, q.From, q.To)
	if q.URL != "" {
		query += ` AND page_url = ?`
		args = append(args, q.URL)
	}
	query += ` ORDER BY timestamp DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var (
			e         model.Event
			eventType string
			payload   string
		)
		if err := rows.Scan(&e.EventID, &e.SessionID, &e.ProjectID, &eventType, &e.URL, &payload, &e.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}

		t, ok := model.ParseEventType(eventType)
		if !ok {
			continue
		}
		e.Type = t

		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				log.Debug().Err(err).Str("event_id", e.EventID).Msg("Unreadable event payload")
				e.Payload = nil
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate events")
	}
	return events, nil
}

// SessionsByIDs loads session rollups of one project
func (c *ClickHouse) SessionsByIDs(ctx context.Context, projectID string, ids []string) ([]model.Session, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := []interface{}{projectID}
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := c.conn.Query(ctx, `
		SELECT session_id, project_id, entry_page, user_agent,
			started_at, ended_at, duration_ms, clicks_count, errors_count
		FROM sessions FINAL
		WHERE project_id = ? AND session_id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(
			&s.SessionID, &s.ProjectID, &s.PageURL, &s.UserAgent,
			&s.StartedAt, &s.LastEventAt, &s.DurationMs, &s.ClickCount, &s.ErrorCount,
		); err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate sessions")
	}
	return sessions, nil
}

// ListActiveProjects returns projects that recorded events since the given time
func (c *ClickHouse) ListActiveProjects(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT DISTINCT project_id
		FROM events
		WHERE timestamp >= ?
		ORDER BY project_id
		LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query active projects")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan project id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "iterate active projects")
}

// placeholders returns "?, ?, ..." with n markers
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
