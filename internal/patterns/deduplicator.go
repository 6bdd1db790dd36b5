package patterns

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosight/gosight/analyzer/internal/apperr"
	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/model"
)

// Cursor is the keyset position of a feedback scan
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// FeedbackSource reads the feedback table in bounded pages
type FeedbackSource interface {
	ScanFeedback(ctx context.Context, after *Cursor, limit int) ([]model.Feedback, error)
}

// PatternStore persists patterns with a conflict-resolving upsert
type PatternStore interface {
	// UpsertPattern inserts or updates by (project, issue type, page pattern)
	// and reports whether a new row was created. It never changes status.
	UpsertPattern(ctx context.Context, p model.Pattern) (created bool, err error)
}

// Result is returned by a recompute pass
type Result struct {
	Created     int `json:"created"`
	Updated     int `json:"updated"`
	TotalGroups int `json:"total_groups"`
	Skipped     int `json:"skipped"`
}

// Deduplicator groups repeated feedback into long-lived patterns
type Deduplicator struct {
	source      FeedbackSource
	store       PatternStore
	pageSize    int
	minReports  int
	concurrency int
}

// NewDeduplicator creates a new pattern deduplicator
func NewDeduplicator(source FeedbackSource, store PatternStore, cfg config.PatternsConfig) *Deduplicator {
	d := &Deduplicator{
		source:      source,
		store:       store,
		pageSize:    cfg.PageSize,
		minReports:  cfg.MinReports,
		concurrency: cfg.Concurrency,
	}
	if d.pageSize <= 0 {
		d.pageSize = 1000
	}
	if d.minReports <= 0 {
		d.minReports = 2
	}
	if d.concurrency <= 0 {
		d.concurrency = 1
	}
	return d
}

// Recompute runs one full pass: fetch -> group -> upsert.
// Any storage failure fails the whole pass.
func (d *Deduplicator) Recompute(ctx context.Context) (Result, error) {
	start := time.Now()
	log.Info().Int("page_size", d.pageSize).Int("min_reports", d.minReports).Msg("Pattern recompute started")

	grouper, err := d.fetch(ctx)
	if err != nil {
		return Result{}, err
	}

	groups := grouper.Groups(d.minReports)
	stats := grouper.Stats()

	created, updated, err := d.upsert(ctx, groups)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Created:     created,
		Updated:     updated,
		TotalGroups: len(groups),
		Skipped:     stats.Skipped,
	}

	log.Info().
		Int("scanned", stats.Scanned).
		Int("skipped", stats.Skipped).
		Int("unparseable_urls", stats.Unparseable).
		Int("groups", result.TotalGroups).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Dur("duration", time.Since(start)).
		Msg("Pattern recompute finished")

	return result, nil
}

func (d *Deduplicator) fetch(ctx context.Context) (*Grouper, error) {
	grouper := NewGrouper()

	var cursor *Cursor
	for {
		page, err := d.source.ScanFeedback(ctx, cursor, d.pageSize)
		if err != nil {
			return nil, apperr.Upstream("scan feedback", err)
		}

		for _, fb := range page {
			grouper.Add(fb)
		}

		if len(page) < d.pageSize {
			return grouper, nil
		}

		last := page[len(page)-1]
		cursor = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}

func (d *Deduplicator) upsert(ctx context.Context, groups []Group) (int, int, error) {
	var created, updated atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, grp := range groups {
		g.Go(func() error {
			isNew, err := d.store.UpsertPattern(gctx, grp.Pattern())
			if err != nil {
				return apperr.Upstream("upsert pattern", err)
			}
			if isNew {
				created.Add(1)
			} else {
				updated.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return int(created.Load()), int(updated.Load()), nil
}
