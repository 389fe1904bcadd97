package models

import "time"

// Outcome statuses recorded for a completed probe cycle.
const (
	StatusUp       = "up"
	StatusDown     = "down"
	StatusDegraded = "degraded"
)

// Incident lifecycle states.
const (
	IncidentOpen         = "open"
	IncidentAcknowledged = "acknowledged"
	IncidentResolved     = "resolved"
)

// Alert severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Dead man's switch sweep statuses.
const (
	SwitchOK       = "ok"
	SwitchOverdue  = "overdue"
	SwitchCritical = "critical"
	SwitchUnknown  = "unknown"
)

// Target is a monitored endpoint definition. Targets are loaded from
// configuration once at startup and never change during a run.
type Target struct {
	Name           string   `json:"name" yaml:"name"`
	Type           string   `json:"type" yaml:"type"` // http, ping
	URL            string   `json:"url" yaml:"url"`
	TimeoutSeconds int      `json:"timeout,omitempty" yaml:"timeout"`
	IntervalSecs   int      `json:"interval,omitempty" yaml:"interval"`
	ExpectedStatus int      `json:"expected_status,omitempty" yaml:"expected_status"`
	ContentMatch   string   `json:"content_match,omitempty" yaml:"content_match"`
	Severity       string   `json:"severity,omitempty" yaml:"severity"`
	ParseStatus    bool     `json:"parse_status,omitempty" yaml:"parse_status"`
	Alerts         []string `json:"alerts,omitempty" yaml:"alerts"`
}

// CheckOutcome is one row per probe cycle that ran its retry loop to completion.
type CheckOutcome struct {
	ID             int64     `json:"id"`
	TargetName     string    `json:"target_name"`
	Status         string    `json:"status"` // up, down, degraded
	ResponseTimeMS *float64  `json:"response_time,omitempty"`
	StatusCode     *int      `json:"status_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	AISummary      string    `json:"ai_summary,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Incident is a tracked, deduplicated problem. At most one non-resolved
// incident exists per target key; the key is the target name, or
// "deadman_<switch>" for heartbeat-derived incidents.
type Incident struct {
	ID               int64      `json:"id"`
	TargetName       string     `json:"target_name"`
	Severity         string     `json:"severity"`
	Status           string     `json:"status"` // open, acknowledged, resolved
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	StartedAt        time.Time  `json:"started_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	NotificationSent bool       `json:"notification_sent"`
	RetryCount       int        `json:"retry_count"`
}

// DeadManSwitch is a heartbeat contract: the absence of expected pings
// signals failure.
type DeadManSwitch struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Token            string     `json:"-"`
	ExpectedInterval int        `json:"expected_interval"` // seconds
	Severity         string     `json:"severity"`
	LastPing         *time.Time `json:"last_ping,omitempty"`
	Enabled          bool       `json:"enabled"`
	CreatedAt        time.Time  `json:"created_at"`
}

// DeadManPing is an append-only record of one received heartbeat.
type DeadManPing struct {
	ID         int64     `json:"id"`
	SwitchID   int64     `json:"switch_id"`
	SwitchName string    `json:"switch_name"`
	PingedAt   time.Time `json:"pinged_at"`
	Payload    string    `json:"payload,omitempty"`
}

// DeadmanKey returns the incident ledger key for a switch.
func DeadmanKey(switchName string) string {
	return "deadman_" + switchName
}
