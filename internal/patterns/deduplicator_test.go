package patterns

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/gosight/analyzer/internal/apperr"
	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/model"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var seq int

func fb(project string, issueType model.IssueType, url string, at time.Time) model.Feedback {
	seq++
	return model.Feedback{
		ID:        fmt.Sprintf("fb-%04d", seq),
		ProjectID: project,
		IssueType: issueType,
		PageURL:   url,
		Status:    model.PatternOpen,
		CreatedAt: at,
	}
}

func newDedup(store *memStore) *Deduplicator {
	return NewDeduplicator(store, store, config.PatternsConfig{Concurrency: 4, PageSize: 2, MinReports: 2})
}

// ---------------------------------------------------------------------------
// NormalizePagePattern
// ---------------------------------------------------------------------------

func TestNormalizePagePattern(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://x/checkout?x=1", "/checkout", true},
		{"https://x/checkout#step-2", "/checkout", true},
		{"https://shop.example.com", "/", true},
		{"/pricing?plan=pro", "/pricing", true},
		{"/checkout", "/checkout", true},
		{"https://x/a%3Fb?c=d", "/a%3Fb", true},
		{"https://x/a%23b", "/a%23b", true},
		{"http://[::1", "http://[::1", false},
		{"https://x/%zz", "https://x/%zz", false},
		{"mailto:help@example.com", "mailto:help@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizePagePattern(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestNormalizePagePattern_Idempotent(t *testing.T) {
	for _, in := range []string{
		"https://x/a/b?c=d", "/a%20b", "/a b", "https://x", "http://[::1", "/plain",
		"https://x/a%3Fb", "https://x/a%23b", "https://x/a%2Fb",
	} {
		once, _ := NormalizePagePattern(in)
		twice, _ := NormalizePagePattern(once)
		assert.Equal(t, once, twice, in)
	}
}

// ---------------------------------------------------------------------------
// Grouping
// ---------------------------------------------------------------------------

func TestGroupFeedback_CheckoutExample(t *testing.T) {
	rows := []model.Feedback{
		fb("P", model.IssueRageClick, "https://x/checkout?x=1", base),
		fb("P", model.IssueRageClick, "https://x/checkout?x=1", base.Add(time.Hour)),
		fb("P", model.IssueRageClick, "https://x/checkout?x=1", base.Add(2*time.Hour)),
		fb("P", model.IssueRageClick, "https://x/checkout", base.Add(-time.Hour)),
	}

	groups, stats := GroupFeedback(rows, 2)
	require.Len(t, groups, 1)
	assert.Equal(t, 4, stats.Scanned)

	g := groups[0]
	assert.Equal(t, Key{ProjectID: "P", IssueType: model.IssueRageClick, PagePattern: "/checkout"}, g.Key)
	assert.Equal(t, 4, g.ReportCount)
	assert.Equal(t, base.Add(-time.Hour), g.FirstSeenAt)
	assert.Equal(t, base.Add(2*time.Hour), g.LastSeenAt)
	assert.Equal(t, "Rage clicks on /checkout", g.Title())
}

func TestGroupFeedback_DropsSingletonsAndUnknownTypes(t *testing.T) {
	rows := []model.Feedback{
		fb("P", model.IssueDeadLink, "/docs", base),
		fb("P", model.IssueBrokenImage, "/gallery", base),
		fb("P", model.IssueBrokenImage, "/gallery", base),
		fb("P", model.IssueType("typo"), "/gallery", base),
		fb("Q", model.IssueBrokenImage, "/gallery", base),
	}

	groups, stats := GroupFeedback(rows, 2)
	require.Len(t, groups, 1)
	assert.Equal(t, "P", groups[0].Key.ProjectID)
	assert.Equal(t, "Broken images on /gallery", groups[0].Title())
	assert.Equal(t, 1, stats.Skipped)
}

func TestGroupFeedback_UnparseableURLDoesNotAbort(t *testing.T) {
	rows := []model.Feedback{
		fb("P", model.IssueFormFrustration, "http://[::1", base),
		fb("P", model.IssueFormFrustration, "http://[::1", base),
		fb("P", model.IssueFormFrustration, "/signup", base),
		fb("P", model.IssueFormFrustration, "/signup?ref=ad", base),
	}

	groups, stats := GroupFeedback(rows, 2)
	require.Len(t, groups, 2)
	assert.Equal(t, 2, stats.Unparseable)
	assert.Equal(t, "/signup", groups[0].Key.PagePattern)
	assert.Equal(t, "http://[::1", groups[1].Key.PagePattern)
}

// ---------------------------------------------------------------------------
// Recompute
// ---------------------------------------------------------------------------

func TestRecompute_Idempotent(t *testing.T) {
	store := newMemStore(
		fb("P", model.IssueRageClick, "https://x/checkout?x=1", base),
		fb("P", model.IssueRageClick, "https://x/checkout?x=1", base),
		fb("P", model.IssueRageClick, "https://x/checkout?x=1", base),
		fb("P", model.IssueRageClick, "https://x/checkout", base),
		fb("P", model.IssueDeadLink, "/help", base),
		fb("P", model.IssueDeadLink, "/help", base),
	)
	d := newDedup(store)

	first, err := d.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 2, Updated: 0, TotalGroups: 2}, first)

	second, err := d.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, second.TotalGroups, second.Updated)

	p := store.get("P", model.IssueRageClick, "/checkout")
	require.NotNil(t, p)
	assert.Equal(t, 4, p.ReportCount)
}

func TestRecompute_PagesThroughFeedback(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 7; i++ {
		store.add(fb("P", model.IssueRageClick, "/cart", base.Add(time.Duration(i)*time.Minute)))
	}

	res, err := newDedup(store).Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalGroups)
	assert.Equal(t, 7, store.get("P", model.IssueRageClick, "/cart").ReportCount)
	// page size 2: 2+2+2+1
	assert.Equal(t, 4, store.scans)
}

func TestRecompute_ResolvedIsSticky(t *testing.T) {
	store := newMemStore(
		fb("P", model.IssueRageClick, "/checkout", base),
		fb("P", model.IssueRageClick, "/checkout", base.Add(time.Hour)),
	)
	d := newDedup(store)

	_, err := d.Recompute(context.Background())
	require.NoError(t, err)

	p := store.get("P", model.IssueRageClick, "/checkout")
	p.Status = model.PatternResolved

	later := base.Add(48 * time.Hour)
	store.add(
		fb("P", model.IssueRageClick, "/checkout?again=1", later),
		fb("P", model.IssueRageClick, "/checkout", later.Add(-time.Hour)),
	)

	res, err := d.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	p = store.get("P", model.IssueRageClick, "/checkout")
	assert.Equal(t, model.PatternResolved, p.Status, "recompute must not reopen a resolved pattern")
	assert.Equal(t, 4, p.ReportCount)
	assert.Equal(t, later, p.LastSeenAt)
	assert.Equal(t, "Rage clicks on /checkout", p.Title)
}

func TestRecompute_ReportCountMonotonic(t *testing.T) {
	store := newMemStore(
		fb("P", model.IssueDeadLink, "/a", base),
		fb("P", model.IssueDeadLink, "/a", base),
	)
	d := newDedup(store)

	prev := 0
	for i := 0; i < 4; i++ {
		_, err := d.Recompute(context.Background())
		require.NoError(t, err)

		count := store.get("P", model.IssueDeadLink, "/a").ReportCount
		assert.GreaterOrEqual(t, count, prev)
		prev = count

		store.add(fb("P", model.IssueDeadLink, "/a?i=1", base.Add(time.Duration(i)*time.Hour)))
	}
	assert.Equal(t, 5, prev)
}

func TestRecompute_CountFollowsSource(t *testing.T) {
	store := newMemStore(
		fb("P", model.IssueDeadLink, "/a", base),
		fb("P", model.IssueDeadLink, "/a", base.Add(time.Hour)),
		fb("P", model.IssueDeadLink, "/a", base.Add(2*time.Hour)),
	)
	d := newDedup(store)

	_, err := d.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, store.get("P", model.IssueDeadLink, "/a").ReportCount)

	// feedback row deleted upstream
	store.mu.Lock()
	store.feedback = store.feedback[:2]
	store.mu.Unlock()

	res, err := d.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	p := store.get("P", model.IssueDeadLink, "/a")
	assert.Equal(t, 2, p.ReportCount)
	assert.Equal(t, base.Add(time.Hour), p.LastSeenAt)
	assert.Equal(t, base, p.FirstSeenAt)
}

func TestRecompute_UpstreamFailures(t *testing.T) {
	store := newMemStore(fb("P", model.IssueDeadLink, "/a", base), fb("P", model.IssueDeadLink, "/a", base))
	store.scanErr = errors.New("db down")

	_, err := newDedup(store).Recompute(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsUpstream(err))

	store.scanErr = nil
	store.upErr = errors.New("deadlock")
	res, err := newDedup(store).Recompute(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsUpstream(err))
	assert.Equal(t, Result{}, res, "no partial counters on failure")
}
