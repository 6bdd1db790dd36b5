package correlator

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/analyzer/internal/apperr"
	"github.com/gosight/gosight/analyzer/internal/classifier"
	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/model"
)

// EventSource reads raw events in bounded scans
type EventSource interface {
	ScanEvents(ctx context.Context, q model.EventQuery) ([]model.Event, error)
}

// SessionSource loads session rollups by id
type SessionSource interface {
	SessionsByIDs(ctx context.Context, projectID string, ids []string) ([]model.Session, error)
}

// SessionMatch is a session exhibiting an insight
type SessionMatch struct {
	model.Session
	DeviceClass string `json:"device_class"`
}

// Correlator maps an insight back to the sessions that show it
type Correlator struct {
	events     EventSource
	sessions   SessionSource
	classifier *classifier.Classifier
	now        func() time.Time

	lookback  time.Duration
	pageSize  int
	scanLimit int
}

// New creates a correlator
func New(events EventSource, sessions SessionSource, c *classifier.Classifier, cfg config.CorrelatorConfig) *Correlator {
	cr := &Correlator{
		events:     events,
		sessions:   sessions,
		classifier: c,
		now:        time.Now,
		lookback:   cfg.Lookback,
		pageSize:   cfg.PageSize,
		scanLimit:  cfg.ScanLimit,
	}
	if cr.lookback <= 0 {
		cr.lookback = 7 * 24 * time.Hour
	}
	if cr.pageSize <= 0 {
		cr.pageSize = 20
	}
	if cr.scanLimit <= 0 {
		cr.scanLimit = 5000
	}
	return cr
}

// WithClock replaces the clock used to place the lookback window
func (c *Correlator) WithClock(now func() time.Time) *Correlator {
	c.now = now
	return c
}

// SessionsForInsight returns up to one page of sessions, newest first, whose
// events satisfy the insight's predicate. Insights without a matching rule
// yield an empty result.
func (c *Correlator) SessionsForInsight(ctx context.Context, insight *model.Insight) ([]SessionMatch, error) {
	target, ok := classifier.TargetFor(insight)
	if !ok {
		return []SessionMatch{}, nil
	}
	eventType, _ := classifier.EventTypeFor(target.Type)

	now := c.now()
	events, err := c.events.ScanEvents(ctx, model.EventQuery{
		ProjectID: insight.ProjectID,
		Types:     []model.EventType{eventType},
		URL:       target.URL,
		From:      now.Add(-c.lookback),
		To:        now,
		Limit:     c.scanLimit,
	})
	if err != nil {
		return nil, apperr.Upstream("scan events", err)
	}

	ids := make([]string, 0, c.pageSize)
	seen := make(map[string]struct{})
	for _, e := range events {
		if !c.classifier.Matches(target, e) {
			continue
		}
		if _, dup := seen[e.SessionID]; dup || e.SessionID == "" {
			continue
		}
		seen[e.SessionID] = struct{}{}
		ids = append(ids, e.SessionID)
		if len(ids) == c.pageSize {
			break
		}
	}
	if len(ids) == 0 {
		return []SessionMatch{}, nil
	}

	sessions, err := c.sessions.SessionsByIDs(ctx, insight.ProjectID, ids)
	if err != nil {
		return nil, apperr.Upstream("load sessions", err)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	if len(sessions) > c.pageSize {
		sessions = sessions[:c.pageSize]
	}

	out := make([]SessionMatch, 0, len(sessions))
	for _, s := range sessions {
		if s.ProjectID != "" && s.ProjectID != insight.ProjectID {
			continue
		}
		out = append(out, SessionMatch{Session: s, DeviceClass: DeviceClass(s.UserAgent)})
	}

	log.Debug().
		Str("insight_id", insight.ID).
		Int("events", len(events)).
		Int("sessions", len(out)).
		Msg("Correlated insight sessions")

	return out, nil
}
