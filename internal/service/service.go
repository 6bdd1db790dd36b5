package service

import (
	"context"

	"github.com/gosight/gosight/analyzer/internal/apperr"
	"github.com/gosight/gosight/analyzer/internal/correlator"
	"github.com/gosight/gosight/analyzer/internal/model"
	"github.com/gosight/gosight/analyzer/internal/patterns"
	"github.com/gosight/gosight/analyzer/internal/ranking"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	// SummaryLimit bounds the active insights rolled up by InsightSummary
	SummaryLimit = 10000
)

// Store is the read and status side of the insight and pattern tables
type Store interface {
	ListInsights(ctx context.Context, f model.InsightFilter) ([]model.Insight, error)
	ListActiveInsights(ctx context.Context, projectID string, limit int) ([]model.Insight, error)
	GetInsight(ctx context.Context, projectID, id string) (model.Insight, error)
	SetInsightStatus(ctx context.Context, projectID, id string, status model.InsightStatus) (model.Insight, error)
	ListPatterns(ctx context.Context, projectID string, status model.PatternStatus, limit int) ([]model.Pattern, error)
	SetPatternStatus(ctx context.Context, projectID, id string, status model.PatternStatus) (model.Pattern, error)
}

type PatternRecomputer interface {
	Recompute(ctx context.Context) (patterns.Result, error)
}

type InsightRecomputer interface {
	Recompute(ctx context.Context, projectID string) ([]model.Insight, error)
}

type SessionCorrelator interface {
	SessionsForInsight(ctx context.Context, insight *model.Insight) ([]correlator.SessionMatch, error)
}

// InsightQuery is an unvalidated list request
type InsightQuery struct {
	ProjectID string
	Type      string
	Severity  string
	Status    string
	Limit     int
	Offset    int
}

// Service exposes the project-scoped operations of the analyzer
type Service struct {
	store      Store
	patterns   PatternRecomputer
	insights   InsightRecomputer
	correlator SessionCorrelator
}

func New(store Store, p PatternRecomputer, i InsightRecomputer, c SessionCorrelator) *Service {
	return &Service{store: store, patterns: p, insights: i, correlator: c}
}

// RecomputePatterns runs a full feedback deduplication pass
func (s *Service) RecomputePatterns(ctx context.Context) (patterns.Result, error) {
	return s.patterns.Recompute(ctx)
}

// RecomputeInsights runs an aggregation pass for the project and returns the
// written insights in rank order.
func (s *Service) RecomputeInsights(ctx context.Context, projectID string) ([]model.Insight, error) {
	if projectID == "" {
		return nil, apperr.Validation("project_id", "is required")
	}
	written, err := s.insights.Recompute(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return ranking.Sort(written), nil
}

// ListInsights validates the filters and returns one ranked page
func (s *Service) ListInsights(ctx context.Context, q InsightQuery) ([]model.Insight, error) {
	f, err := parseInsightQuery(q)
	if err != nil {
		return nil, err
	}

	page, err := s.store.ListInsights(ctx, f)
	if err != nil {
		return nil, apperr.Upstream("list insights", err)
	}
	if page == nil {
		page = []model.Insight{}
	}
	return ranking.Sort(page), nil
}

func parseInsightQuery(q InsightQuery) (model.InsightFilter, error) {
	f := model.InsightFilter{ProjectID: q.ProjectID, Limit: q.Limit, Offset: q.Offset}
	if q.ProjectID == "" {
		return f, apperr.Validation("project_id", "is required")
	}

	if q.Type != "" {
		t, ok := model.ParseIssueType(q.Type)
		if !ok {
			return f, apperr.Validation("type", "unknown issue type %q", q.Type)
		}
		f.Type = t
	}
	if q.Severity != "" {
		sev, ok := model.ParseSeverity(q.Severity)
		if !ok {
			return f, apperr.Validation("severity", "unknown severity %q", q.Severity)
		}
		f.Severity = sev
	}
	if q.Status != "" {
		st, ok := model.ParseInsightStatus(q.Status)
		if !ok {
			return f, apperr.Validation("status", "unknown status %q", q.Status)
		}
		f.Status = st
	}

	switch {
	case f.Limit < 0:
		return f, apperr.Validation("limit", "must not be negative")
	case f.Limit == 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		return f, apperr.Validation("offset", "must not be negative")
	}
	return f, nil
}

// InsightSummary rolls up the project's active insights
func (s *Service) InsightSummary(ctx context.Context, projectID string) (ranking.Summary, error) {
	if projectID == "" {
		return ranking.Summary{}, apperr.Validation("project_id", "is required")
	}

	active, err := s.store.ListActiveInsights(ctx, projectID, SummaryLimit)
	if err != nil {
		return ranking.Summary{}, apperr.Upstream("list insights", err)
	}
	return ranking.Summarize(active), nil
}

// SessionsForInsight drills an insight of the project down to sessions
func (s *Service) SessionsForInsight(ctx context.Context, projectID, insightID string) ([]correlator.SessionMatch, error) {
	ins, err := s.getInsight(ctx, projectID, insightID)
	if err != nil {
		return nil, err
	}
	return s.correlator.SessionsForInsight(ctx, &ins)
}

// SetInsightStatus moves an insight of the project to a new status
func (s *Service) SetInsightStatus(ctx context.Context, projectID, insightID, rawStatus string) (model.Insight, error) {
	status, ok := model.ParseInsightStatus(rawStatus)
	if !ok {
		return model.Insight{}, apperr.Validation("status", "must be one of active, acknowledged, resolved")
	}

	ins, err := s.store.SetInsightStatus(ctx, projectID, insightID, status)
	if err != nil {
		return model.Insight{}, storeError("set insight status", err)
	}
	return ins, nil
}

// ListPatterns returns the project's patterns, optionally by status
func (s *Service) ListPatterns(ctx context.Context, projectID, rawStatus string, limit int) ([]model.Pattern, error) {
	if projectID == "" {
		return nil, apperr.Validation("project_id", "is required")
	}

	var status model.PatternStatus
	if rawStatus != "" {
		st, ok := model.ParsePatternStatus(rawStatus)
		if !ok {
			return nil, apperr.Validation("status", "must be one of open, resolved")
		}
		status = st
	}
	switch {
	case limit < 0:
		return nil, apperr.Validation("limit", "must not be negative")
	case limit == 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	out, err := s.store.ListPatterns(ctx, projectID, status, limit)
	if err != nil {
		return nil, apperr.Upstream("list patterns", err)
	}
	if out == nil {
		out = []model.Pattern{}
	}
	return out, nil
}

// SetPatternStatus moves a pattern of the project to a new status
func (s *Service) SetPatternStatus(ctx context.Context, projectID, patternID, rawStatus string) (model.Pattern, error) {
	status, ok := model.ParsePatternStatus(rawStatus)
	if !ok {
		return model.Pattern{}, apperr.Validation("status", "must be one of open, resolved")
	}

	pat, err := s.store.SetPatternStatus(ctx, projectID, patternID, status)
	if err != nil {
		return model.Pattern{}, storeError("set pattern status", err)
	}
	return pat, nil
}

func (s *Service) getInsight(ctx context.Context, projectID, insightID string) (model.Insight, error) {
	ins, err := s.store.GetInsight(ctx, projectID, insightID)
	if err != nil {
		return model.Insight{}, storeError("get insight", err)
	}
	// Stores scope by project already; a mismatch is reported the same way
	if ins.ProjectID != projectID {
		return model.Insight{}, apperr.NotFound("insight", insightID)
	}
	return ins, nil
}

// storeError passes not-found through and wraps everything else as upstream
func storeError(op string, err error) error {
	if apperr.IsNotFound(err) || apperr.IsValidation(err) {
		return err
	}
	return apperr.Upstream(op, err)
}
