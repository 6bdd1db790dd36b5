package classifier

import (
	"strings"

	"github.com/gosight/gosight/analyzer/internal/model"
)

const (
	DefaultLCPThresholdMs    = 2500
	DefaultDepthThresholdPct = 30
)

// Thresholds holds the numeric cut-offs used by the predicates
type Thresholds struct {
	LCPThresholdMs    float64
	DepthThresholdPct float64
}

// DefaultThresholds returns the stock cut-offs
func DefaultThresholds() Thresholds {
	return Thresholds{
		LCPThresholdMs:    DefaultLCPThresholdMs,
		DepthThresholdPct: DefaultDepthThresholdPct,
	}
}

// Occurrence is one event classified as matching an issue type
type Occurrence struct {
	Type          model.IssueType
	URL           string
	Discriminator string
	Value         float64
	HasValue      bool
	Event         model.Event
}

// Target is the matching rule re-derived from a persisted insight
type Target struct {
	Type          model.IssueType
	URL           string
	Discriminator string
}

// Classifier applies the per-type predicate table
type Classifier struct {
	thresholds Thresholds
}

// New creates a classifier; zero thresholds fall back to defaults
func New(t Thresholds) *Classifier {
	if t.LCPThresholdMs <= 0 {
		t.LCPThresholdMs = DefaultLCPThresholdMs
	}
	if t.DepthThresholdPct <= 0 {
		t.DepthThresholdPct = DefaultDepthThresholdPct
	}
	return &Classifier{thresholds: t}
}

// Classify decides whether an event is an occurrence of a known issue type.
// Missing or mistyped payload keys are a non-match.
func (c *Classifier) Classify(event model.Event) (Occurrence, bool) {
	occ := Occurrence{URL: event.URL, Event: event}

	switch event.Type {
	case model.EventClick:
		selector, ok := c.rageClick(event)
		if !ok {
			return Occurrence{}, false
		}
		occ.Type = model.IssueRageClick
		occ.Discriminator = selector

	case model.EventScroll:
		depth, ok := c.scrollDropoff(event)
		if !ok {
			return Occurrence{}, false
		}
		occ.Type = model.IssueScrollDropoff
		occ.Value, occ.HasValue = depth, true

	case model.EventForm:
		formID, ok := c.formAbandonment(event)
		if !ok {
			return Occurrence{}, false
		}
		occ.Type = model.IssueFormAbandonment
		occ.Discriminator = formID

	case model.EventVitals:
		lcp, ok := c.slowPage(event)
		if !ok {
			return Occurrence{}, false
		}
		occ.Type = model.IssueSlowPage
		occ.Value, occ.HasValue = lcp, true

	case model.EventError:
		// A single error is an occurrence; the spike is decided by aggregation
		occ.Type = model.IssueErrorSpike

	default:
		return Occurrence{}, false
	}

	return occ, true
}

// Matches re-applies the classification predicate for a target against an event
func (c *Classifier) Matches(target Target, event model.Event) bool {
	if target.URL == "" || event.URL != target.URL {
		return false
	}
	if eventType, ok := EventTypeFor(target.Type); !ok || event.Type != eventType {
		return false
	}

	switch target.Type {
	case model.IssueRageClick:
		selector, ok := c.rageClick(event)
		return ok && selector == target.Discriminator
	case model.IssueScrollDropoff:
		_, ok := c.scrollDropoff(event)
		return ok
	case model.IssueFormAbandonment:
		formID, ok := c.formAbandonment(event)
		return ok && formID == target.Discriminator
	case model.IssueSlowPage:
		_, ok := c.slowPage(event)
		return ok
	case model.IssueErrorSpike:
		return true
	}
	return false
}

// EventTypeFor returns the raw event type a telemetry issue type is detected from
func EventTypeFor(t model.IssueType) (model.EventType, bool) {
	switch t {
	case model.IssueRageClick:
		return model.EventClick, true
	case model.IssueScrollDropoff:
		return model.EventScroll, true
	case model.IssueFormAbandonment:
		return model.EventForm, true
	case model.IssueSlowPage:
		return model.EventVitals, true
	case model.IssueErrorSpike:
		return model.EventError, true
	}
	return "", false
}

// TargetFor rebuilds the matching rule of an insight. Insights without a
// resolvable rule (unknown type, missing URL) report false.
func TargetFor(insight *model.Insight) (Target, bool) {
	if insight == nil || insight.URL == "" {
		return Target{}, false
	}
	if _, ok := EventTypeFor(insight.Type); !ok {
		return Target{}, false
	}
	return Target{
		Type:          insight.Type,
		URL:           insight.URL,
		Discriminator: insight.Discriminator(),
	}, true
}

// ClassifyFeedback accepts only the issue types a feedback report may carry
func ClassifyFeedback(fb model.Feedback) (model.IssueType, bool) {
	switch fb.IssueType {
	case model.IssueRageClick, model.IssueDeadLink, model.IssueBrokenImage, model.IssueFormFrustration:
		return fb.IssueType, true
	}
	return "", false
}

func (c *Classifier) rageClick(event model.Event) (string, bool) {
	if !getBool(event.Payload, "isRage") {
		return "", false
	}
	return getString(event.Payload, "selector"), true
}

func (c *Classifier) scrollDropoff(event model.Event) (float64, bool) {
	depth, ok := getFloat(event.Payload, "maxDepth")
	if !ok || depth < 0 {
		return 0, false
	}

	// Pixel depth when the page height is known, percentage otherwise
	if height, ok := getFloat(event.Payload, "pageHeight"); ok && height > 0 {
		depth = depth / height * 100
	}

	if depth >= c.thresholds.DepthThresholdPct {
		return 0, false
	}
	return depth, true
}

func (c *Classifier) formAbandonment(event model.Event) (string, bool) {
	if getString(event.Payload, "action") != "abandon" {
		return "", false
	}
	formID := getString(event.Payload, "formId")
	if formID == "" {
		return "", false
	}
	return formID, true
}

func (c *Classifier) slowPage(event model.Event) (float64, bool) {
	if !strings.EqualFold(getString(event.Payload, "metric"), "lcp") {
		return 0, false
	}
	value, ok := getFloat(event.Payload, "value")
	if !ok || value <= c.thresholds.LCPThresholdMs {
		return 0, false
	}
	return value, true
}
