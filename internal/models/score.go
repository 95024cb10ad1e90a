package models

import "time"

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ScoreSnapshot is one immutable entry of a project's score history.
// The Breakdown contributions sum to Composite.
type ScoreSnapshot struct {
	ProjectID    string                 `json:"project_id"`
	Composite    float64                `json:"composite"`
	Breakdown    map[MetricName]float64 `json:"breakdown"`
	Metrics      MetricSet              `json:"metrics"`
	ModelVersion string                 `json:"model_version"`
	RiskLevel    RiskLevel              `json:"risk_level"`
	EvaluatedAt  time.Time              `json:"evaluated_at"`
}
