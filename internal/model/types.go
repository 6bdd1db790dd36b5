package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// EventType is the normalized kind of a raw client event
type EventType string

const (
	EventClick  EventType = "click"
	EventScroll EventType = "scroll"
	EventForm   EventType = "form"
	EventVitals EventType = "vitals"
	EventError  EventType = "error"
)

// ParseEventType maps the stored event type (simple names and proto enum names) to an EventType
func ParseEventType(raw string) (EventType, bool) {
	switch raw {
	case "click", "EVENT_TYPE_CLICK":
		return EventClick, true
	case "scroll", "EVENT_TYPE_SCROLL":
		return EventScroll, true
	case "form", "form_interaction", "EVENT_TYPE_FORM":
		return EventForm, true
	case "vitals", "web_vitals", "EVENT_TYPE_WEB_VITALS":
		return EventVitals, true
	case "error", "js_error", "EVENT_TYPE_JS_ERROR":
		return EventError, true
	}
	return "", false
}

// StoredNames returns every stored spelling of the event type
func (t EventType) StoredNames() []string {
	switch t {
	case EventClick:
		return []string{"click", "EVENT_TYPE_CLICK"}
	case EventScroll:
		return []string{"scroll", "EVENT_TYPE_SCROLL"}
	case EventForm:
		return []string{"form", "form_interaction", "EVENT_TYPE_FORM"}
	case EventVitals:
		return []string{"vitals", "web_vitals", "EVENT_TYPE_WEB_VITALS"}
	case EventError:
		return []string{"error", "js_error", "EVENT_TYPE_JS_ERROR"}
	}
	return nil
}

// Event is one observed client action read from the events table
type Event struct {
	EventID   string
	SessionID string
	ProjectID string
	Type      EventType
	URL       string
	Payload   map[string]interface{}
	Timestamp time.Time
}

// Session is a read-only session rollup produced by the session aggregator
type Session struct {
	SessionID   string    `json:"session_id"`
	ProjectID   string    `json:"project_id"`
	PageURL     string    `json:"page_url"`
	UserAgent   string    `json:"user_agent"`
	StartedAt   time.Time `json:"started_at"`
	LastEventAt time.Time `json:"last_event_at"`
	DurationMs  uint64    `json:"duration_ms"`
	ClickCount  uint32    `json:"click_count"`
	ErrorCount  uint32    `json:"error_count"`
}

// Feedback is a user-submitted or auto-captured complaint
type Feedback struct {
	ID        string
	ProjectID string
	SessionID string
	IssueType IssueType
	PageURL   string
	Message   string
	Status    PatternStatus
	CreatedAt time.Time
}

// Pattern is a deduplicated, recurring feedback-sourced issue
type Pattern struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	IssueType   IssueType     `json:"issue_type"`
	PagePattern string        `json:"page_pattern"`
	Title       string        `json:"title"`
	ReportCount int           `json:"report_count"`
	FirstSeenAt time.Time     `json:"first_seen_at"`
	LastSeenAt  time.Time     `json:"last_seen_at"`
	Status      PatternStatus `json:"status"`
}

// Insight is a deduplicated, telemetry-sourced issue tracked over time
type Insight struct {
	ID              string                 `json:"id"`
	ProjectID       string                 `json:"project_id"`
	Type            IssueType              `json:"type"`
	Severity        Severity               `json:"severity"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	URL             string                 `json:"url"`
	MetricValue     float64                `json:"metric_value"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	FirstSeenAt     time.Time              `json:"first_seen_at"`
	LastSeenAt      time.Time              `json:"last_seen_at"`
	OccurrenceCount int                    `json:"occurrence_count"`
	Trend           Trend                  `json:"trend,omitempty"`
	Status          InsightStatus          `json:"status"`
}

// Discriminator returns the metadata value that separates insights sharing a type and URL
func (i *Insight) Discriminator() string {
	key := i.Type.DiscriminatorKey()
	if key == "" || i.Metadata == nil {
		return ""
	}
	if v, ok := i.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// Fingerprint is the persisted form of the insight key (type, URL, discriminator)
func (i *Insight) Fingerprint() string {
	return Fingerprint(i.Type, i.URL, i.Discriminator())
}

// Fingerprint hashes an insight key
func Fingerprint(t IssueType, url, discriminator string) string {
	sum := sha256.Sum256([]byte(string(t) + "\x00" + url + "\x00" + discriminator))
	return hex.EncodeToString(sum[:16])
}

// EventQuery bounds a scan of the events table by project, type, time and row count
type EventQuery struct {
	ProjectID string
	Types     []EventType
	URL       string
	From      time.Time
	To        time.Time
	Limit     int
}

// InsightFilter selects a page of insights for listing. Empty fields do not filter.
type InsightFilter struct {
	ProjectID string
	Type      IssueType
	Severity  Severity
	Status    InsightStatus
	Limit     int
	Offset    int
}
