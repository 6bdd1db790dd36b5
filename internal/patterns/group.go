package patterns

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/analyzer/internal/classifier"
	"github.com/gosight/gosight/analyzer/internal/model"
)

// Key identifies a pattern: one per project, issue type and page
type Key struct {
	ProjectID   string
	IssueType   model.IssueType
	PagePattern string
}

// Group is the accumulated state of one key across the scanned feedback
type Group struct {
	Key         Key
	ReportCount int
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// Title is the human-readable name of the group
func (g Group) Title() string {
	return Title(g.Key.IssueType, g.Key.PagePattern)
}

// Pattern converts the group into the row to upsert
func (g Group) Pattern() model.Pattern {
	return model.Pattern{
		ProjectID:   g.Key.ProjectID,
		IssueType:   g.Key.IssueType,
		PagePattern: g.Key.PagePattern,
		Title:       g.Title(),
		ReportCount: g.ReportCount,
		FirstSeenAt: g.FirstSeenAt,
		LastSeenAt:  g.LastSeenAt,
		Status:      model.PatternOpen,
	}
}

// Title builds "<label> on <page>", e.g. "Rage clicks on /checkout"
func Title(issueType model.IssueType, page string) string {
	return fmt.Sprintf("%s on %s", issueType.Label(), page)
}

// GroupStats counts what the grouper saw
type GroupStats struct {
	Scanned     int
	Skipped     int
	Unparseable int
}

// Grouper folds feedback rows into groups. It holds one accumulator per key,
// not the rows themselves.
type Grouper struct {
	groups map[Key]*Group
	stats  GroupStats
}

func NewGrouper() *Grouper {
	return &Grouper{groups: make(map[Key]*Group)}
}

// Add folds one feedback row into its group. Rows with an unknown issue type
// are skipped; unparseable URLs are grouped on their raw value.
func (g *Grouper) Add(fb model.Feedback) {
	g.stats.Scanned++

	issueType, ok := classifier.ClassifyFeedback(fb)
	if !ok || fb.ProjectID == "" {
		g.stats.Skipped++
		return
	}

	page, ok := NormalizePagePattern(fb.PageURL)
	if !ok {
		log.Debug().Str("feedback_id", fb.ID).Str("page_url", fb.PageURL).Msg("Unparseable feedback URL, grouping on raw value")
		g.stats.Unparseable++
	}

	key := Key{ProjectID: fb.ProjectID, IssueType: issueType, PagePattern: page}
	grp, exists := g.groups[key]
	if !exists {
		g.groups[key] = &Group{
			Key:         key,
			ReportCount: 1,
			FirstSeenAt: fb.CreatedAt,
			LastSeenAt:  fb.CreatedAt,
		}
		return
	}

	grp.ReportCount++
	if fb.CreatedAt.Before(grp.FirstSeenAt) {
		grp.FirstSeenAt = fb.CreatedAt
	}
	if fb.CreatedAt.After(grp.LastSeenAt) {
		grp.LastSeenAt = fb.CreatedAt
	}
}

// Stats returns the counters collected so far
func (g *Grouper) Stats() GroupStats {
	return g.stats
}

// Groups returns the groups with at least minReports reports in a stable order
func (g *Grouper) Groups(minReports int) []Group {
	out := make([]Group, 0, len(g.groups))
	for _, grp := range g.groups {
		if grp.ReportCount < minReports {
			continue
		}
		out = append(out, *grp)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		if a.IssueType != b.IssueType {
			return a.IssueType < b.IssueType
		}
		return a.PagePattern < b.PagePattern
	})
	return out
}

// GroupFeedback runs the grouping stage over an in-memory slice
func GroupFeedback(feedback []model.Feedback, minReports int) ([]Group, GroupStats) {
	g := NewGrouper()
	for _, fb := range feedback {
		g.Add(fb)
	}
	return g.Groups(minReports), g.Stats()
}
