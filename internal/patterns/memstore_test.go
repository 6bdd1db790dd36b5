package patterns

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gosight/gosight/analyzer/internal/model"
)

// memStore is an in-memory feedback source and pattern store with the same
// upsert semantics as the Postgres adapter.
type memStore struct {
	mu       sync.Mutex
	feedback []model.Feedback
	patterns map[Key]*model.Pattern
	scans    int
	scanErr  error
	upErr    error
	nextID   int
}

func newMemStore(feedback ...model.Feedback) *memStore {
	return &memStore{feedback: feedback, patterns: make(map[Key]*model.Pattern)}
}

func (m *memStore) ScanFeedback(_ context.Context, after *Cursor, limit int) ([]model.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++
	if m.scanErr != nil {
		return nil, m.scanErr
	}

	rows := append([]model.Feedback(nil), m.feedback...)
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})

	var out []model.Feedback
	for _, fb := range rows {
		if after != nil {
			if fb.CreatedAt.Before(after.CreatedAt) {
				continue
			}
			if fb.CreatedAt.Equal(after.CreatedAt) && fb.ID <= after.ID {
				continue
			}
		}
		out = append(out, fb)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) UpsertPattern(_ context.Context, p model.Pattern) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upErr != nil {
		return false, m.upErr
	}

	key := Key{ProjectID: p.ProjectID, IssueType: p.IssueType, PagePattern: p.PagePattern}
	existing, ok := m.patterns[key]
	if !ok {
		m.nextID++
		p.ID = fmt.Sprintf("pat-%d", m.nextID)
		p.Status = model.PatternOpen
		m.patterns[key] = &p
		return true, nil
	}

	existing.ReportCount = p.ReportCount
	existing.LastSeenAt = p.LastSeenAt
	existing.Title = p.Title
	if p.FirstSeenAt.Before(existing.FirstSeenAt) {
		existing.FirstSeenAt = p.FirstSeenAt
	}
	return false, nil
}

func (m *memStore) add(fb ...model.Feedback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, fb...)
}

func (m *memStore) get(project string, issueType model.IssueType, page string) *model.Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patterns[Key{ProjectID: project, IssueType: issueType, PagePattern: page}]
}
