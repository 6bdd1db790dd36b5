package insights

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gosight/gosight/analyzer/internal/model"
)

type memEvents struct {
	events []model.Event
	last   model.EventQuery
	err    error
}

func (m *memEvents) ScanEvents(_ context.Context, q model.EventQuery) ([]model.Event, error) {
	m.last = q
	if m.err != nil {
		return nil, m.err
	}

	allowed := make(map[model.EventType]bool)
	for _, t := range q.Types {
		allowed[t] = true
	}

	var out []model.Event
	for _, e := range m.events {
		if e.ProjectID != q.ProjectID || !allowed[e.Type] {
			continue
		}
		if e.Timestamp.Before(q.From) || !e.Timestamp.Before(q.To) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// memInsights mirrors the Postgres upsert: status is never written and the
// count only moves up while active.
type memInsights struct {
	mu     sync.Mutex
	rows      map[string]*model.Insight
	nextID    int
	lastLimit int
	err       error
}

func newMemInsights() *memInsights {
	return &memInsights{rows: make(map[string]*model.Insight)}
}

func (m *memInsights) ListProjectInsights(_ context.Context, projectID string, limit int) ([]model.Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	var out []model.Insight
	for _, ins := range m.rows {
		if ins.ProjectID == projectID {
			out = append(out, *ins)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memInsights) UpsertInsight(_ context.Context, ins model.Insight) (model.Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.Insight{}, m.err
	}

	key := ins.ProjectID + "/" + ins.Fingerprint()
	stored, ok := m.rows[key]
	if !ok {
		m.nextID++
		ins.ID = fmt.Sprintf("ins-%d", m.nextID)
		ins.Status = model.InsightActive
		m.rows[key] = &ins
		return ins, nil
	}

	if stored.Status == model.InsightActive && ins.OccurrenceCount > stored.OccurrenceCount {
		stored.OccurrenceCount = ins.OccurrenceCount
	}
	stored.Severity = ins.Severity
	stored.Title = ins.Title
	stored.Description = ins.Description
	stored.MetricValue = ins.MetricValue
	stored.Metadata = ins.Metadata
	stored.Trend = ins.Trend
	if ins.FirstSeenAt.Before(stored.FirstSeenAt) {
		stored.FirstSeenAt = ins.FirstSeenAt
	}
	if ins.LastSeenAt.After(stored.LastSeenAt) {
		stored.LastSeenAt = ins.LastSeenAt
	}
	return *stored, nil
}

func (m *memInsights) find(projectID string, t model.IssueType, url, disc string) *model.Insight {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[projectID+"/"+model.Fingerprint(t, url, disc)]
}

type memPublisher struct {
	batches [][]model.Insight
}

func (m *memPublisher) PublishInsights(_ context.Context, insights []model.Insight) error {
	m.batches = append(m.batches, insights)
	return nil
}
