package insights

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosight/gosight/analyzer/internal/apperr"
	"github.com/gosight/gosight/analyzer/internal/classifier"
	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/model"
)

// EventSource reads raw events in bounded scans
type EventSource interface {
	ScanEvents(ctx context.Context, q model.EventQuery) ([]model.Event, error)
}

// InsightStore persists insights
type InsightStore interface {
	// ListProjectInsights returns up to limit insights of a project regardless
	// of status, most recently seen first
	ListProjectInsights(ctx context.Context, projectID string, limit int) ([]model.Insight, error)
	// UpsertInsight writes by (project, fingerprint) and returns the stored row.
	// The write never changes status and never lowers the occurrence count.
	UpsertInsight(ctx context.Context, ins model.Insight) (model.Insight, error)
}

// Publisher hands changed insights to downstream consumers
type Publisher interface {
	PublishInsights(ctx context.Context, insights []model.Insight) error
}

// Aggregator turns classified telemetry into long-lived insight rows
type Aggregator struct {
	events     EventSource
	store      InsightStore
	classifier *classifier.Classifier
	policy     SeverityPolicy
	publisher  Publisher
	now        func() time.Time

	window         time.Duration
	tolerance      float64
	lookbackRows   int
	storedRows     int
	concurrency    int
	minOccurrences map[model.IssueType]int
}

// Option customizes an Aggregator
type Option func(*Aggregator)

// WithClock injects the clock used to place the windows
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithPolicy replaces the severity policy built from config
func WithPolicy(p SeverityPolicy) Option {
	return func(a *Aggregator) { a.policy = p }
}

// WithPublisher sends every recompute result to p
func WithPublisher(p Publisher) Option {
	return func(a *Aggregator) { a.publisher = p }
}

// NewAggregator creates a new insight aggregator
func NewAggregator(events EventSource, store InsightStore, c *classifier.Classifier, cfg config.InsightsConfig, opts ...Option) *Aggregator {
	a := &Aggregator{
		events:         events,
		store:          store,
		classifier:     c,
		policy:         NewStaticPolicy(cfg.Severity, cfg.CriticalAt),
		now:            time.Now,
		window:         cfg.Window,
		tolerance:      cfg.Tolerance,
		lookbackRows:   cfg.LookbackRows,
		storedRows:     cfg.StoredRows,
		concurrency:    cfg.Concurrency,
		minOccurrences: make(map[model.IssueType]int),
	}
	for rawType, n := range cfg.MinOccurrences {
		if t, ok := model.ParseIssueType(rawType); ok {
			a.minOccurrences[t] = n
		}
	}
	if a.window <= 0 {
		a.window = 7 * 24 * time.Hour
	}
	if a.lookbackRows <= 0 {
		a.lookbackRows = 100000
	}
	if a.storedRows <= 0 {
		a.storedRows = 10000
	}
	if a.concurrency <= 0 {
		a.concurrency = 1
	}

	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Recompute runs one aggregation pass for a project and returns the insights
// it wrote.
func (a *Aggregator) Recompute(ctx context.Context, projectID string) ([]model.Insight, error) {
	if projectID == "" {
		return nil, apperr.Validation("project_id", "is required")
	}

	start := time.Now()
	win := NewWindows(a.now(), a.window)
	log.Info().Str("project_id", projectID).Time("until", win.End).Msg("Insight recompute started")

	// Fetch
	events, err := a.events.ScanEvents(ctx, model.EventQuery{
		ProjectID: projectID,
		Types:     classifiableTypes(),
		From:      win.PreviousStart,
		To:        win.End,
		Limit:     a.lookbackRows,
	})
	if err != nil {
		return nil, apperr.Upstream("scan events", err)
	}
	if len(events) >= a.lookbackRows {
		log.Warn().
			Str("project_id", projectID).
			Int("limit", a.lookbackRows).
			Msg("Event scan hit the row limit, oldest events were not aggregated")
	}

	existingRows, err := a.store.ListProjectInsights(ctx, projectID, a.storedRows)
	if err != nil {
		return nil, apperr.Upstream("list insights", err)
	}
	if len(existingRows) >= a.storedRows {
		log.Warn().
			Str("project_id", projectID).
			Int("limit", a.storedRows).
			Msg("Stored insight scan hit the row limit, least recent insights are treated as new")
	}
	existing := make(map[string]model.Insight, len(existingRows))
	for _, ins := range existingRows {
		existing[ins.Fingerprint()] = ins
	}

	// Classify
	occs, skipped := a.classify(events)

	// Group and plan
	planned := Plan(Bucketize(occs, win), existing, PlanOptions{
		ProjectID:      projectID,
		Windows:        win,
		Tolerance:      a.tolerance,
		MinOccurrences: a.minOccurrences,
		Policy:         a.policy,
	})

	// Upsert
	written, err := a.upsert(ctx, planned)
	if err != nil {
		return nil, err
	}

	if a.publisher != nil && len(written) > 0 {
		if err := a.publisher.PublishInsights(ctx, written); err != nil {
			log.Error().Err(err).Str("project_id", projectID).Msg("Failed to publish insights")
		}
	}

	log.Info().
		Str("project_id", projectID).
		Int("events", len(events)).
		Int("occurrences", len(occs)).
		Int("skipped", skipped).
		Int("insights", len(written)).
		Dur("duration", time.Since(start)).
		Msg("Insight recompute finished")

	return written, nil
}

func (a *Aggregator) classify(events []model.Event) ([]classifier.Occurrence, int) {
	occs := make([]classifier.Occurrence, 0, len(events))
	skipped := 0
	for _, e := range events {
		occ, ok := a.classifier.Classify(e)
		if !ok {
			log.Debug().Str("event_id", e.EventID).Str("type", string(e.Type)).Msg("Event skipped by classifier")
			skipped++
			continue
		}
		occs = append(occs, occ)
	}
	return occs, skipped
}

func (a *Aggregator) upsert(ctx context.Context, planned []model.Insight) ([]model.Insight, error) {
	written := make([]model.Insight, len(planned))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, ins := range planned {
		g.Go(func() error {
			stored, err := a.store.UpsertInsight(gctx, ins)
			if err != nil {
				return apperr.Upstream("upsert insight", err)
			}
			written[i] = stored
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return written, nil
}

// RecomputeProjects runs Recompute for every project in turn. A failing
// project is logged and does not stop the others; the first error is returned.
func (a *Aggregator) RecomputeProjects(ctx context.Context, projectIDs []string) error {
	var firstErr error
	for _, id := range projectIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := a.Recompute(ctx, id); err != nil {
			log.Error().Err(err).Str("project_id", id).Msg("Insight recompute failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func classifiableTypes() []model.EventType {
	types := make([]model.EventType, 0, len(model.InsightTypes))
	for _, t := range model.InsightTypes {
		if et, ok := classifier.EventTypeFor(t); ok {
			types = append(types, et)
		}
	}
	return types
}
