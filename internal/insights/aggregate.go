package insights

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gosight/gosight/analyzer/internal/classifier"
	"github.com/gosight/gosight/analyzer/internal/model"
)

// GroupKey identifies an insight within a project
type GroupKey struct {
	Type          model.IssueType
	URL           string
	Discriminator string
}

func (k GroupKey) Fingerprint() string {
	return model.Fingerprint(k.Type, k.URL, k.Discriminator)
}

// Bucket collects the occurrences of one key across both windows
type Bucket struct {
	Key         GroupKey
	Current     int
	Previous    int
	FirstAt     time.Time
	LastAt      time.Time
	Occurrences []time.Time

	valueSum float64
	valueN   int
}

// MetricValue is the representative value of the trailing window: mean LCP
// for slow pages, mean scroll depth for drop-off, otherwise the window count.
func (b *Bucket) MetricValue() float64 {
	switch b.Key.Type {
	case model.IssueSlowPage, model.IssueScrollDropoff:
		if b.valueN == 0 {
			return 0
		}
		return b.valueSum / float64(b.valueN)
	}
	return float64(b.Current)
}

// CountAfter counts occurrences strictly newer than the watermark
func (b *Bucket) CountAfter(watermark time.Time) int {
	n := 0
	for _, ts := range b.Occurrences {
		if ts.After(watermark) {
			n++
		}
	}
	return n
}

// CountAt counts occurrences stamped exactly at ts
func (b *Bucket) CountAt(ts time.Time) int {
	n := 0
	for _, at := range b.Occurrences {
		if at.Equal(ts) {
			n++
		}
	}
	return n
}

func (b *Bucket) add(occ classifier.Occurrence, win Windows) {
	ts := occ.Event.Timestamp

	switch {
	case win.InCurrent(ts):
		b.Current++
		if occ.HasValue {
			b.valueSum += occ.Value
			b.valueN++
		}
	case win.InPrevious(ts):
		b.Previous++
	default:
		return
	}

	b.Occurrences = append(b.Occurrences, ts)
	if b.FirstAt.IsZero() || ts.Before(b.FirstAt) {
		b.FirstAt = ts
	}
	if ts.After(b.LastAt) {
		b.LastAt = ts
	}
}

// Bucketize groups classified occurrences by key. Occurrences outside both
// windows are dropped.
func Bucketize(occs []classifier.Occurrence, win Windows) map[GroupKey]*Bucket {
	buckets := make(map[GroupKey]*Bucket)
	for _, occ := range occs {
		key := GroupKey{Type: occ.Type, URL: occ.URL, Discriminator: occ.Discriminator}
		b, ok := buckets[key]
		if !ok {
			b = &Bucket{Key: key}
			buckets[key] = b
		}
		b.add(occ, win)
	}
	for key, b := range buckets {
		if len(b.Occurrences) == 0 {
			delete(buckets, key)
		}
	}
	return buckets
}

// PlanOptions parameterizes the plan stage
type PlanOptions struct {
	ProjectID      string
	Windows        Windows
	Tolerance      float64
	MinOccurrences map[model.IssueType]int
	Policy         SeverityPolicy
}

// Plan turns buckets and the currently persisted insights into the rows to
// upsert. Existing insights keep their id and status; their count only grows,
// and only while active. New groups must reach the minimum trailing-window
// count before they become insights.
func Plan(buckets map[GroupKey]*Bucket, existing map[string]model.Insight, opts PlanOptions) []model.Insight {
	out := make([]model.Insight, 0, len(buckets))

	for key, b := range buckets {
		stats := GroupStats{
			Type:        key.Type,
			Current:     b.Current,
			Previous:    b.Previous,
			MetricValue: b.MetricValue(),
		}

		var hits int
		ins, found := existing[key.Fingerprint()]
		if !found {
			if b.Current < opts.MinOccurrences[key.Type] {
				continue
			}
			ins = model.Insight{
				ProjectID:       opts.ProjectID,
				Type:            key.Type,
				URL:             key.URL,
				FirstSeenAt:     b.FirstAt,
				LastSeenAt:      b.LastAt,
				OccurrenceCount: len(b.Occurrences),
				Status:          model.InsightActive,
			}
			hits = b.CountAt(b.LastAt)
		} else {
			// The watermark is the stored last-seen plus how many occurrences
			// were already counted at exactly that instant.
			watermark := ins.LastSeenAt
			atWatermark := b.CountAt(watermark)
			seen, ok := lastSeenHits(ins.Metadata)
			if !ok {
				seen = atWatermark
			}
			if ins.Status == model.InsightActive {
				ins.OccurrenceCount += b.CountAfter(watermark) + max(0, atWatermark-seen)
			}
			if b.FirstAt.Before(ins.FirstSeenAt) || ins.FirstSeenAt.IsZero() {
				ins.FirstSeenAt = b.FirstAt
			}
			if b.LastAt.After(ins.LastSeenAt) {
				ins.LastSeenAt = b.LastAt
				hits = b.CountAt(b.LastAt)
			} else {
				hits = max(seen, atWatermark)
			}
		}

		ins.Severity = opts.Policy.Severity(stats)
		ins.Trend = ComputeTrend(b.Previous, b.Current, opts.Windows.Length, opts.Tolerance)
		ins.MetricValue = stats.MetricValue
		ins.Title = title(key)
		ins.Description = describe(key, stats, opts.Windows.Length)
		ins.Metadata = metadata(key, stats)
		ins.Metadata[lastSeenHitsKey] = hits

		out = append(out, ins)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if out[i].URL != out[j].URL {
			return out[i].URL < out[j].URL
		}
		return out[i].Discriminator() < out[j].Discriminator()
	})
	return out
}

func title(key GroupKey) string {
	return fmt.Sprintf("%s on %s", key.Type.Label(), key.URL)
}

func describe(key GroupKey, stats GroupStats, window time.Duration) string {
	span := formatWindow(window)

	var b strings.Builder
	fmt.Fprintf(&b, "%d occurrences in the last %s (%d in the %s before)", stats.Current, span, stats.Previous, span)

	switch key.Type {
	case model.IssueRageClick:
		if key.Discriminator != "" {
			fmt.Fprintf(&b, " on element %s", key.Discriminator)
		}
	case model.IssueFormAbandonment:
		fmt.Fprintf(&b, " on form %s", key.Discriminator)
	case model.IssueSlowPage:
		fmt.Fprintf(&b, "; average LCP %.0f ms", stats.MetricValue)
	case model.IssueScrollDropoff:
		fmt.Fprintf(&b, "; average max scroll depth %.0f%%", stats.MetricValue)
	}
	return b.String()
}

func metadata(key GroupKey, stats GroupStats) map[string]interface{} {
	md := map[string]interface{}{
		"current_window":  stats.Current,
		"previous_window": stats.Previous,
	}
	if k := key.Type.DiscriminatorKey(); k != "" {
		md[k] = key.Discriminator
	}
	return md
}

const lastSeenHitsKey = "last_seen_hits"

// lastSeenHits reads the occurrence count recorded at last-seen. Rows decoded
// from JSONB carry it as float64.
func lastSeenHits(md map[string]interface{}) (int, bool) {
	switch v := md[lastSeenHitsKey].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func formatWindow(d time.Duration) string {
	if d > 0 && d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "day"
		}
		return fmt.Sprintf("%d days", days)
	}
	return d.String()
}
