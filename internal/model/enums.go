package model

// IssueType is the closed set of UX problem kinds the engine knows about
type IssueType string

const (
	// Telemetry-sourced
	IssueRageClick       IssueType = "rage_click"
	IssueScrollDropoff   IssueType = "scroll_dropoff"
	IssueFormAbandonment IssueType = "form_abandonment"
	IssueSlowPage        IssueType = "slow_page"
	IssueErrorSpike      IssueType = "error_spike"

	// Feedback-sourced only
	IssueDeadLink        IssueType = "dead_link"
	IssueBrokenImage     IssueType = "broken_image"
	IssueFormFrustration IssueType = "form_frustration"
)

// InsightTypes lists the telemetry issue types in classification order
var InsightTypes = []IssueType{
	IssueRageClick,
	IssueScrollDropoff,
	IssueFormAbandonment,
	IssueSlowPage,
	IssueErrorSpike,
}

// FeedbackTypes lists the issue types a feedback report may carry
var FeedbackTypes = []IssueType{
	IssueRageClick,
	IssueDeadLink,
	IssueBrokenImage,
	IssueFormFrustration,
}

// ParseIssueType validates a raw issue type string
func ParseIssueType(raw string) (IssueType, bool) {
	t := IssueType(raw)
	switch t {
	case IssueRageClick, IssueScrollDropoff, IssueFormAbandonment, IssueSlowPage, IssueErrorSpike,
		IssueDeadLink, IssueBrokenImage, IssueFormFrustration:
		return t, true
	}
	return "", false
}

// Label is the human-readable plural used in titles
func (t IssueType) Label() string {
	switch t {
	case IssueRageClick:
		return "Rage clicks"
	case IssueScrollDropoff:
		return "Scroll drop-off"
	case IssueFormAbandonment:
		return "Form abandonment"
	case IssueSlowPage:
		return "Slow page loads"
	case IssueErrorSpike:
		return "Error spike"
	case IssueDeadLink:
		return "Dead links"
	case IssueBrokenImage:
		return "Broken images"
	case IssueFormFrustration:
		return "Form frustration"
	}
	return string(t)
}

// DiscriminatorKey names the metadata key that splits insights of this type on the same URL
func (t IssueType) DiscriminatorKey() string {
	switch t {
	case IssueRageClick:
		return "selector"
	case IssueFormAbandonment:
		return "formId"
	}
	return ""
}

// Severity is the ordinal impact of an insight
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities in rank order, most severe first
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Rank orders severities for sorting; lower is more severe. Unknown values sort last.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	}
	return 4
}

// ParseSeverity validates a raw severity string
func ParseSeverity(raw string) (Severity, bool) {
	s := Severity(raw)
	if s.Rank() > 3 {
		return "", false
	}
	return s, true
}

// Trend is the direction of occurrence velocity across two windows
type Trend string

const (
	TrendWorsening Trend = "worsening"
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendNew       Trend = "new"
)

// Trends lists every trend bucket
var Trends = []Trend{TrendWorsening, TrendImproving, TrendStable, TrendNew}

// OrNew treats an unrecorded trend as new
func (t Trend) OrNew() Trend {
	switch t {
	case TrendWorsening, TrendImproving, TrendStable:
		return t
	}
	return TrendNew
}

// InsightStatus is the operator-controlled lifecycle state of an insight
type InsightStatus string

const (
	InsightActive       InsightStatus = "active"
	InsightAcknowledged InsightStatus = "acknowledged"
	InsightResolved     InsightStatus = "resolved"
)

// ParseInsightStatus validates a raw insight status
func ParseInsightStatus(raw string) (InsightStatus, bool) {
	s := InsightStatus(raw)
	switch s {
	case InsightActive, InsightAcknowledged, InsightResolved:
		return s, true
	}
	return "", false
}

// PatternStatus is the operator-controlled state of a pattern
type PatternStatus string

const (
	PatternOpen     PatternStatus = "open"
	PatternResolved PatternStatus = "resolved"
)

// ParsePatternStatus validates a raw pattern status
func ParsePatternStatus(raw string) (PatternStatus, bool) {
	s := PatternStatus(raw)
	switch s {
	case PatternOpen, PatternResolved:
		return s, true
	}
	return "", false
}
