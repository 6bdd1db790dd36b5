package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/gosight/gosight/analyzer/internal/apperr"
	"github.com/gosight/gosight/analyzer/internal/auth"
	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/model"
	"github.com/gosight/gosight/analyzer/internal/patterns"
)

const insightColumns = `
	id::text, project_id, type, severity, title, description, url, metric_value,
	metadata, first_seen_at, last_seen_at, occurrence_count, trend, status`

const patternColumns = `
	id::text, project_id, issue_type, page_pattern, title, report_count,
	first_seen_at, last_seen_at, status`

// Postgres holds feedback, patterns, insights and API keys
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	return &Postgres{db: db}, nil
}

// Migrate creates the tables when missing
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(postgresSchema) {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "postgres migrate")
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Feedback & patterns
// ---------------------------------------------------------------------------

// ScanFeedback returns up to limit feedback rows strictly after the cursor,
// ordered by (created_at, id).
func (p *Postgres) ScanFeedback(ctx context.Context, after *patterns.Cursor, limit int) ([]model.Feedback, error) {
	var (
		rows pgx.Rows
		err  error
	)
	const cols = `id::text, project_id, session_id, issue_type, page_url, message, status, created_at`
	if after == nil {
		rows, err = p.db.Query(ctx, `
			SELECT `+cols+` FROM feedback
			ORDER BY created_at, id
			LIMIT $1
		`, limit)
	} else {
		rows, err = p.db.Query(ctx, `
			SELECT `+cols+` FROM feedback
			WHERE (created_at, id) > ($1, $2::uuid)
			ORDER BY created_at, id
			LIMIT $3
		`, after.CreatedAt, after.ID, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query feedback")
	}
	defer rows.Close()

	var out []model.Feedback
	for rows.Next() {
		var (
			fb                model.Feedback
			issueType, status string
		)
		if err := rows.Scan(&fb.ID, &fb.ProjectID, &fb.SessionID, &issueType, &fb.PageURL, &fb.Message, &status, &fb.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan feedback")
		}
		fb.IssueType = model.IssueType(issueType)
		fb.Status = model.PatternStatus(status)
		out = append(out, fb)
	}
	return out, errors.Wrap(rows.Err(), "iterate feedback")
}

// UpsertPattern inserts or merges a pattern by its grouping key. Report count
// and last-seen are overwritten from the recount; status is never written on
// conflict.
func (p *Postgres) UpsertPattern(ctx context.Context, pat model.Pattern) (bool, error) {
	var created bool
	err := p.db.QueryRow(ctx, `
		INSERT INTO feedback_patterns (
			id, project_id, issue_type, page_pattern, title,
			report_count, first_seen_at, last_seen_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'open')
		ON CONFLICT (project_id, issue_type, page_pattern) DO UPDATE SET
			title = EXCLUDED.title,
			report_count = EXCLUDED.report_count,
			first_seen_at = LEAST(feedback_patterns.first_seen_at, EXCLUDED.first_seen_at),
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`,
		uuid.NewString(), pat.ProjectID, string(pat.IssueType), pat.PagePattern, pat.Title,
		pat.ReportCount, pat.FirstSeenAt, pat.LastSeenAt,
	).Scan(&created)
	if err != nil {
		return false, errors.Wrap(err, "upsert pattern")
	}
	return created, nil
}

// ListPatterns returns a project's patterns, most reported first
func (p *Postgres) ListPatterns(ctx context.Context, projectID string, status model.PatternStatus, limit int) ([]model.Pattern, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+patternColumns+` FROM feedback_patterns
		WHERE project_id = $1 AND ($2::text = '' OR status = $2)
		ORDER BY report_count DESC, last_seen_at DESC, id
		LIMIT $3
	`, projectID, string(status), limit)
	if err != nil {
		return nil, errors.Wrap(err, "query patterns")
	}
	defer rows.Close()

	var out []model.Pattern
	for rows.Next() {
		pat, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pat)
	}
	return out, errors.Wrap(rows.Err(), "iterate patterns")
}

// SetPatternStatus changes the status of a pattern owned by the project
func (p *Postgres) SetPatternStatus(ctx context.Context, projectID, id string, status model.PatternStatus) (model.Pattern, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Pattern{}, apperr.NotFound("pattern", id)
	}

	row := p.db.QueryRow(ctx, `
		UPDATE feedback_patterns SET status = $3, updated_at = NOW()
		WHERE project_id = $1 AND id = $2::uuid
		RETURNING `+patternColumns,
		projectID, id, string(status),
	)
	pat, err := scanPattern(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Pattern{}, apperr.NotFound("pattern", id)
	}
	return pat, err
}

func scanPattern(row pgx.Row) (model.Pattern, error) {
	var (
		pat               model.Pattern
		issueType, status string
	)
	err := row.Scan(
		&pat.ID, &pat.ProjectID, &issueType, &pat.PagePattern, &pat.Title, &pat.ReportCount,
		&pat.FirstSeenAt, &pat.LastSeenAt, &status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Pattern{}, err
		}
		return model.Pattern{}, errors.Wrap(err, "scan pattern")
	}
	pat.IssueType = model.IssueType(issueType)
	pat.Status = model.PatternStatus(status)
	return pat, nil
}

// ---------------------------------------------------------------------------
// Insights
// ---------------------------------------------------------------------------

// ListProjectInsights returns up to limit insights of the project regardless
// of status, most recently seen first
func (p *Postgres) ListProjectInsights(ctx context.Context, projectID string, limit int) ([]model.Insight, error) {
	return p.queryInsights(ctx, `
		SELECT `+insightColumns+` FROM insights
		WHERE project_id = $1
		ORDER BY last_seen_at DESC, id
		LIMIT $2
	`, projectID, limit)
}

// ListActiveInsights returns up to limit active insights of the project
func (p *Postgres) ListActiveInsights(ctx context.Context, projectID string, limit int) ([]model.Insight, error) {
	return p.queryInsights(ctx, `
		SELECT `+insightColumns+` FROM insights
		WHERE project_id = $1 AND status = 'active'
		ORDER BY last_seen_at DESC, id
		LIMIT $2
	`, projectID, limit)
}

// UpsertInsight writes an insight by (project, fingerprint). On conflict the
// occurrence count only grows and only while the row is active; status is
// left as stored.
func (p *Postgres) UpsertInsight(ctx context.Context, ins model.Insight) (model.Insight, error) {
	metadata := ins.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	row := p.db.QueryRow(ctx, `
		INSERT INTO insights (
			id, project_id, fingerprint, type, severity, title, description, url,
			metric_value, metadata, first_seen_at, last_seen_at, occurrence_count, trend, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 'active')
		ON CONFLICT (project_id, fingerprint) DO UPDATE SET
			severity = EXCLUDED.severity,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			metric_value = EXCLUDED.metric_value,
			metadata = EXCLUDED.metadata,
			trend = EXCLUDED.trend,
			first_seen_at = LEAST(insights.first_seen_at, EXCLUDED.first_seen_at),
			last_seen_at = GREATEST(insights.last_seen_at, EXCLUDED.last_seen_at),
			occurrence_count = CASE
				WHEN insights.status = 'active'
				THEN GREATEST(insights.occurrence_count, EXCLUDED.occurrence_count)
				ELSE insights.occurrence_count
			END,
			updated_at = NOW()
		RETURNING `+insightColumns,
		uuid.NewString(), ins.ProjectID, ins.Fingerprint(), string(ins.Type), string(ins.Severity),
		ins.Title, ins.Description, ins.URL, ins.MetricValue, metadata,
		ins.FirstSeenAt, ins.LastSeenAt, ins.OccurrenceCount, string(ins.Trend),
	)
	return scanInsight(row)
}

// ListInsights returns one page of a project's insights in rank order
func (p *Postgres) ListInsights(ctx context.Context, f model.InsightFilter) ([]model.Insight, error) {
	where := []string{"project_id = $1"}
	args := []interface{}{f.ProjectID}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("type", string(f.Type))
	add("severity", string(f.Severity))
	add("status", string(f.Status))

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT %s FROM insights
		WHERE %s
		ORDER BY
			CASE severity WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END,
			occurrence_count DESC, last_seen_at DESC, id
		LIMIT $%d OFFSET $%d
	`, insightColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	return p.queryInsights(ctx, query, args...)
}

// GetInsight loads one insight owned by the project
func (p *Postgres) GetInsight(ctx context.Context, projectID, id string) (model.Insight, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Insight{}, apperr.NotFound("insight", id)
	}

	ins, err := scanInsight(p.db.QueryRow(ctx, `
		SELECT `+insightColumns+` FROM insights
		WHERE project_id = $1 AND id = $2::uuid
	`, projectID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Insight{}, apperr.NotFound("insight", id)
	}
	return ins, err
}

// SetInsightStatus changes the status of an insight owned by the project
func (p *Postgres) SetInsightStatus(ctx context.Context, projectID, id string, status model.InsightStatus) (model.Insight, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Insight{}, apperr.NotFound("insight", id)
	}

	ins, err := scanInsight(p.db.QueryRow(ctx, `
		UPDATE insights SET status = $3, updated_at = NOW()
		WHERE project_id = $1 AND id = $2::uuid
		RETURNING `+insightColumns,
		projectID, id, string(status),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Insight{}, apperr.NotFound("insight", id)
	}
	return ins, err
}

func (p *Postgres) queryInsights(ctx context.Context, query string, args ...interface{}) ([]model.Insight, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query insights")
	}
	defer rows.Close()

	var out []model.Insight
	for rows.Next() {
		ins, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, errors.Wrap(rows.Err(), "iterate insights")
}

func scanInsight(row pgx.Row) (model.Insight, error) {
	var (
		ins                           model.Insight
		typ, severity, trend, status string
	)
	err := row.Scan(
		&ins.ID, &ins.ProjectID, &typ, &severity, &ins.Title, &ins.Description, &ins.URL,
		&ins.MetricValue, &ins.Metadata, &ins.FirstSeenAt, &ins.LastSeenAt,
		&ins.OccurrenceCount, &trend, &status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Insight{}, err
		}
		return model.Insight{}, errors.Wrap(err, "scan insight")
	}
	ins.Type = model.IssueType(typ)
	ins.Severity = model.Severity(severity)
	ins.Trend = model.Trend(trend)
	ins.Status = model.InsightStatus(status)
	return ins, nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// LookupAPIKey resolves an active, unexpired key hash to its project
func (p *Postgres) LookupAPIKey(ctx context.Context, keyHash string) (string, error) {
	var projectID string
	err := p.db.QueryRow(ctx, `
		SELECT project_id FROM api_keys
		WHERE key_hash = $1 AND is_active = true
		AND (expires_at IS NULL OR expires_at > NOW())
	`, keyHash).Scan(&projectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", auth.ErrInvalidKey
	}
	if err != nil {
		return "", errors.Wrap(err, "lookup api key")
	}
	return projectID, nil
}

// TouchAPIKey records a use of the key
func (p *Postgres) TouchAPIKey(ctx context.Context, keyHash string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.db.Exec(ctx, `
		UPDATE api_keys
		SET last_used_at = NOW(), request_count = request_count + 1
		WHERE key_hash = $1
	`, keyHash)
	return errors.Wrap(err, "touch api key")
}

func (p *Postgres) Close() {
	p.db.Close()
}
