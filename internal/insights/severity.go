package insights

import (
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/analyzer/internal/model"
)

// GroupStats is what a severity policy gets to decide on
type GroupStats struct {
	Type        model.IssueType
	Current     int
	Previous    int
	MetricValue float64
}

// SeverityPolicy assigns a severity to an aggregated group. The mapping is
// owned by whoever triggers aggregation.
type SeverityPolicy interface {
	Severity(stats GroupStats) model.Severity
}

// SeverityFunc adapts a plain function to SeverityPolicy
type SeverityFunc func(stats GroupStats) model.Severity

func (f SeverityFunc) Severity(stats GroupStats) model.Severity {
	return f(stats)
}

// StaticPolicy maps each issue type to a fixed severity and escalates to
// critical once the trailing window reaches CriticalAt occurrences.
type StaticPolicy struct {
	ByType     map[model.IssueType]model.Severity
	Default    model.Severity
	CriticalAt int
}

// NewStaticPolicy builds a policy from the config's type -> severity map.
// Unknown severities are ignored and fall back to the default.
func NewStaticPolicy(byType map[string]string, criticalAt int) *StaticPolicy {
	p := &StaticPolicy{
		ByType:     make(map[model.IssueType]model.Severity, len(byType)),
		Default:    model.SeverityMedium,
		CriticalAt: criticalAt,
	}
	for rawType, rawSeverity := range byType {
		issueType, ok := model.ParseIssueType(rawType)
		if !ok {
			log.Warn().Str("type", rawType).Msg("Ignoring severity for unknown issue type")
			continue
		}
		severity, ok := model.ParseSeverity(rawSeverity)
		if !ok {
			log.Warn().Str("type", rawType).Str("severity", rawSeverity).Msg("Ignoring invalid severity")
			continue
		}
		p.ByType[issueType] = severity
	}
	return p
}

func (p *StaticPolicy) Severity(stats GroupStats) model.Severity {
	if p.CriticalAt > 0 && stats.Current >= p.CriticalAt {
		return model.SeverityCritical
	}
	if s, ok := p.ByType[stats.Type]; ok {
		return s
	}
	return p.Default
}
