package models

import (
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "open"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// IsActive reports whether the alert still counts as the open alert for its
// (project, rule) pair.
func (s AlertStatus) IsActive() bool {
	return s == AlertStatusOpen || s == AlertStatusAcknowledged
}

type Alert struct {
	ID             string      `json:"id"`
	ProjectID      string      `json:"project_id"`
	RuleID         string      `json:"rule_id"`
	Severity       Severity    `json:"severity"`
	Status         AlertStatus `json:"status"`
	FirstSeen      time.Time   `json:"first_seen"`
	LastSeen       time.Time   `json:"last_seen"`
	Occurrences    int         `json:"occurrences"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
	AcknowledgedBy string      `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty"`
	PolicyVersion  string      `json:"policy_version"`
}

type AlertKey struct {
	ProjectID string
	RuleID    string
}

func (a Alert) Key() AlertKey {
	return AlertKey{ProjectID: a.ProjectID, RuleID: a.RuleID}
}

type HistoryKind string

const (
	HistoryOpened       HistoryKind = "opened"
	HistoryEscalated    HistoryKind = "escalated"
	HistoryAcknowledged HistoryKind = "acknowledged"
	HistoryResolved     HistoryKind = "resolved"
)

type AlertHistoryEntry struct {
	AlertID  string      `json:"alert_id"`
	Kind     HistoryKind `json:"kind"`
	Severity Severity    `json:"severity"`
	Actor    string      `json:"actor,omitempty"`
	At       time.Time   `json:"at"`
}

// Recommendation is rendered on read from the rule's template; it is never
// stored.
type Recommendation struct {
	Key    string             `json:"key"`
	Text   string             `json:"text"`
	Params map[string]float64 `json:"params,omitempty"`
}

// AlertEvent is what the notification transport receives.
type AlertEvent struct {
	AlertID        string          `json:"alert_id"`
	ProjectID      string          `json:"project_id"`
	RuleID         string          `json:"rule_id"`
	RuleName       string          `json:"rule_name"`
	Severity       Severity        `json:"severity"`
	Status         AlertStatus     `json:"status"`
	Kind           HistoryKind     `json:"kind"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
	At             time.Time       `json:"at"`
}

// AlertView is an alert as returned to API callers.
type AlertView struct {
	Alert
	RuleName       string          `json:"rule_name"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
}

type AlertSummary struct {
	Total      int                 `json:"total"`
	BySeverity map[Severity]int    `json:"by_severity"`
	ByStatus   map[AlertStatus]int `json:"by_status"`
}
