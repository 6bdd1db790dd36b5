package service

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/gosight/analyzer/internal/apperr"
	"github.com/gosight/gosight/analyzer/internal/correlator"
	"github.com/gosight/gosight/analyzer/internal/model"
	"github.com/gosight/gosight/analyzer/internal/patterns"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type memStore struct {
	insights  []model.Insight
	patterns  []model.Pattern
	lastF     model.InsightFilter
	lastLimit int
	err       error
}

func (m *memStore) ListInsights(_ context.Context, f model.InsightFilter) ([]model.Insight, error) {
	m.lastF = f
	if m.err != nil {
		return nil, m.err
	}
	var out []model.Insight
	for _, ins := range m.insights {
		if ins.ProjectID != f.ProjectID {
			continue
		}
		if (f.Type != "" && ins.Type != f.Type) || (f.Severity != "" && ins.Severity != f.Severity) || (f.Status != "" && ins.Status != f.Status) {
			continue
		}
		out = append(out, ins)
	}
	return out, nil
}

func (m *memStore) ListActiveInsights(_ context.Context, projectID string, limit int) ([]model.Insight, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	var out []model.Insight
	for _, ins := range m.insights {
		if ins.ProjectID == projectID && ins.Status == model.InsightActive {
			out = append(out, ins)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) GetInsight(_ context.Context, projectID, id string) (model.Insight, error) {
	if m.err != nil {
		return model.Insight{}, m.err
	}
	for _, ins := range m.insights {
		if ins.ID == id && ins.ProjectID == projectID {
			return ins, nil
		}
	}
	return model.Insight{}, apperr.NotFound("insight", id)
}

func (m *memStore) SetInsightStatus(_ context.Context, projectID, id string, status model.InsightStatus) (model.Insight, error) {
	for i := range m.insights {
		if m.insights[i].ID == id && m.insights[i].ProjectID == projectID {
			m.insights[i].Status = status
			return m.insights[i], nil
		}
	}
	return model.Insight{}, apperr.NotFound("insight", id)
}

func (m *memStore) ListPatterns(_ context.Context, projectID string, status model.PatternStatus, limit int) ([]model.Pattern, error) {
	var out []model.Pattern
	for _, p := range m.patterns {
		if p.ProjectID == projectID && (status == "" || p.Status == status) {
			out = append(out, p)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) SetPatternStatus(_ context.Context, projectID, id string, status model.PatternStatus) (model.Pattern, error) {
	for i := range m.patterns {
		if m.patterns[i].ID == id && m.patterns[i].ProjectID == projectID {
			m.patterns[i].Status = status
			return m.patterns[i], nil
		}
	}
	return model.Pattern{}, apperr.NotFound("pattern", id)
}

type fakePatterns struct{ result patterns.Result }

func (f *fakePatterns) Recompute(context.Context) (patterns.Result, error) { return f.result, nil }

type fakeInsights struct {
	out     []model.Insight
	project string
}

func (f *fakeInsights) Recompute(_ context.Context, projectID string) ([]model.Insight, error) {
	f.project = projectID
	return f.out, nil
}

type fakeCorrelator struct{ got *model.Insight }

func (f *fakeCorrelator) SessionsForInsight(_ context.Context, ins *model.Insight) ([]correlator.SessionMatch, error) {
	f.got = ins
	return []correlator.SessionMatch{{Session: model.Session{SessionID: "s1"}, DeviceClass: correlator.DeviceDesktop}}, nil
}

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func fixture() *memStore {
	return &memStore{
		insights: []model.Insight{
			{ID: "a", ProjectID: "P", Type: model.IssueSlowPage, Severity: model.SeverityLow, Status: model.InsightActive, OccurrenceCount: 50, LastSeenAt: t0},
			{ID: "b", ProjectID: "P", Type: model.IssueRageClick, Severity: model.SeverityCritical, Status: model.InsightActive, OccurrenceCount: 3, Trend: model.TrendWorsening, LastSeenAt: t0},
			{ID: "c", ProjectID: "P", Type: model.IssueRageClick, Severity: model.SeverityHigh, Status: model.InsightResolved, OccurrenceCount: 9, LastSeenAt: t0},
			{ID: "d", ProjectID: "Q", Type: model.IssueErrorSpike, Severity: model.SeverityHigh, Status: model.InsightActive, OccurrenceCount: 20, LastSeenAt: t0},
		},
		patterns: []model.Pattern{
			{ID: "p1", ProjectID: "P", IssueType: model.IssueRageClick, PagePattern: "/checkout", Status: model.PatternOpen},
			{ID: "p2", ProjectID: "P", IssueType: model.IssueDeadLink, PagePattern: "/help", Status: model.PatternResolved},
			{ID: "p3", ProjectID: "Q", IssueType: model.IssueDeadLink, PagePattern: "/", Status: model.PatternOpen},
		},
	}
}

func newService(store *memStore) (*Service, *fakeInsights, *fakeCorrelator) {
	ins := &fakeInsights{}
	corr := &fakeCorrelator{}
	return New(store, &fakePatterns{result: patterns.Result{Created: 1, TotalGroups: 1}}, ins, corr), ins, corr
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestListInsights_RankedAndFiltered(t *testing.T) {
	svc, _, _ := newService(fixture())

	got, err := svc.ListInsights(context.Background(), InsightQuery{ProjectID: "P"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.Equal(t, "a", got[2].ID)

	got, err = svc.ListInsights(context.Background(), InsightQuery{ProjectID: "P", Type: "rage_click", Status: "active"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestListInsights_Limits(t *testing.T) {
	store := fixture()
	svc, _, _ := newService(store)

	_, err := svc.ListInsights(context.Background(), InsightQuery{ProjectID: "P"})
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, store.lastF.Limit)

	_, err = svc.ListInsights(context.Background(), InsightQuery{ProjectID: "P", Limit: 500, Offset: 40})
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, store.lastF.Limit)
	assert.Equal(t, 40, store.lastF.Offset)
}

func TestListInsights_Validation(t *testing.T) {
	svc, _, _ := newService(fixture())
	ctx := context.Background()

	for _, q := range []InsightQuery{
		{ProjectID: "P", Type: "bogus"},
		{ProjectID: "P", Severity: "urgent"},
		{ProjectID: "P", Status: "open"},
		{ProjectID: "P", Limit: -1},
		{ProjectID: "P", Offset: -5},
		{},
	} {
		_, err := svc.ListInsights(ctx, q)
		assert.True(t, apperr.IsValidation(err), "%+v", q)
	}
}

func TestListInsights_Upstream(t *testing.T) {
	store := fixture()
	store.err = errors.New("pg down")
	svc, _, _ := newService(store)

	_, err := svc.ListInsights(context.Background(), InsightQuery{ProjectID: "P"})
	assert.True(t, apperr.IsUpstream(err))
}

func TestInsightSummary_ActiveOnly(t *testing.T) {
	store := fixture()
	svc, _, _ := newService(store)

	s, err := svc.InsightSummary(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, SummaryLimit, store.lastLimit)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.BySeverity[model.SeverityCritical])
	assert.Equal(t, 1, s.BySeverity[model.SeverityLow])
	assert.Equal(t, 0, s.BySeverity[model.SeverityHigh])
	assert.Equal(t, 1, s.ByTrend[model.TrendWorsening])
	assert.Equal(t, 1, s.ByTrend[model.TrendNew])
}

func TestSessionsForInsight(t *testing.T) {
	svc, _, corr := newService(fixture())

	got, err := svc.SessionsForInsight(context.Background(), "P", "a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", corr.got.ID)

	_, err = svc.SessionsForInsight(context.Background(), "P", "d")
	assert.True(t, apperr.IsNotFound(err), "insight of another project")
}

func TestSetInsightStatus(t *testing.T) {
	svc, _, _ := newService(fixture())
	ctx := context.Background()

	ins, err := svc.SetInsightStatus(ctx, "P", "a", "acknowledged")
	require.NoError(t, err)
	assert.Equal(t, model.InsightAcknowledged, ins.Status)

	_, err = svc.SetInsightStatus(ctx, "P", "a", "closed")
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.SetInsightStatus(ctx, "P", "d", "resolved")
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, "not found", err.Error())
}

func TestPatterns(t *testing.T) {
	svc, _, _ := newService(fixture())
	ctx := context.Background()

	open, err := svc.ListPatterns(ctx, "P", "open", 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "p1", open[0].ID)

	_, err = svc.ListPatterns(ctx, "P", "active", 0)
	assert.True(t, apperr.IsValidation(err))

	pat, err := svc.SetPatternStatus(ctx, "P", "p1", "resolved")
	require.NoError(t, err)
	assert.Equal(t, model.PatternResolved, pat.Status)

	_, err = svc.SetPatternStatus(ctx, "P", "p3", "resolved")
	assert.True(t, apperr.IsNotFound(err))

	_, err = svc.SetPatternStatus(ctx, "P", "p1", "acknowledged")
	assert.True(t, apperr.IsValidation(err))
}

func TestRecompute(t *testing.T) {
	svc, ins, _ := newService(fixture())
	ins.out = []model.Insight{
		{ID: "x", Severity: model.SeverityLow},
		{ID: "y", Severity: model.SeverityHigh},
	}

	got, err := svc.RecomputeInsights(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, "P", ins.project)
	assert.Equal(t, "y", got[0].ID)

	_, err = svc.RecomputeInsights(context.Background(), "")
	assert.True(t, apperr.IsValidation(err))

	res, err := svc.RecomputePatterns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}
