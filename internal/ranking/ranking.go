package ranking

import (
	"sort"

	"github.com/gosight/gosight/analyzer/internal/model"
)

// Summary is the read-time rollup of a set of insights
type Summary struct {
	Total      int                    `json:"total"`
	BySeverity map[model.Severity]int `json:"by_severity"`
	ByTrend    map[model.Trend]int    `json:"by_trend"`
}

// Less orders insights by severity (critical first), then occurrence count
// descending, then most recently seen.
func Less(a, b *model.Insight) bool {
	if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
		return ra < rb
	}
	if a.OccurrenceCount != b.OccurrenceCount {
		return a.OccurrenceCount > b.OccurrenceCount
	}
	return a.LastSeenAt.After(b.LastSeenAt)
}

// Sort returns a ranked copy of insights; the input is left untouched
func Sort(insights []model.Insight) []model.Insight {
	out := make([]model.Insight, len(insights))
	copy(out, insights)
	sort.SliceStable(out, func(i, j int) bool {
		return Less(&out[i], &out[j])
	})
	return out
}

// Summarize counts insights per severity and trend. Every bucket is present,
// and an insight without a recorded trend counts as new.
func Summarize(insights []model.Insight) Summary {
	s := Summary{
		Total:      len(insights),
		BySeverity: make(map[model.Severity]int, len(model.Severities)),
		ByTrend:    make(map[model.Trend]int, len(model.Trends)),
	}
	for _, sev := range model.Severities {
		s.BySeverity[sev] = 0
	}
	for _, tr := range model.Trends {
		s.ByTrend[tr] = 0
	}

	for i := range insights {
		if insights[i].Severity.Rank() <= model.SeverityLow.Rank() {
			s.BySeverity[insights[i].Severity]++
		}
		s.ByTrend[insights[i].Trend.OrNew()]++
	}
	return s
}
