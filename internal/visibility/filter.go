// Package visibility projects evaluation results down to what a caller may
// see. Denial is an empty view, never an error.
package visibility

import (
	"time"

	"github.com/projectpulse/internal/models"
)

type Detail int

const (
	DetailNone Detail = iota
	// DetailSummary exposes the composite score and risk level only.
	DetailSummary
	DetailFull
)

// Level decides how much of a project's evaluation the caller may see. A
// nil access record (unknown project, or the roster could not be read)
// grants nothing except to admins.
func Level(caller models.Caller, access *models.ProjectAccess) Detail {
	if caller.Role == models.RoleAdmin {
		return DetailFull
	}
	if !caller.Role.IsAuthenticatedUser() || access == nil {
		return DetailNone
	}
	if caller.RelationTo(*access).IsMember() {
		return DetailFull
	}
	if access.IsPublic {
		return DetailSummary
	}
	return DetailNone
}

// CanAct reports whether the caller may trigger evaluations or acknowledge
// alerts on the project.
func CanAct(caller models.Caller, access *models.ProjectAccess) bool {
	if caller.Role == models.RoleAdmin {
		return true
	}
	if !caller.Role.IsAuthenticatedUser() || access == nil {
		return false
	}
	return caller.RelationTo(*access).IsMember()
}

// ScoreView is a score snapshot as returned to a caller. Breakdown and
// Metrics are omitted below full detail.
type ScoreView struct {
	ProjectID    string                        `json:"project_id"`
	Composite    float64                       `json:"composite"`
	RiskLevel    models.RiskLevel              `json:"risk_level"`
	ModelVersion string                        `json:"model_version"`
	EvaluatedAt  time.Time                     `json:"evaluated_at"`
	Breakdown    map[models.MetricName]float64 `json:"breakdown,omitempty"`
	Metrics      *models.MetricSet             `json:"metrics,omitempty"`
}

type Filter struct{}

func New() *Filter {
	return &Filter{}
}

func (f *Filter) Alerts(caller models.Caller, access *models.ProjectAccess, alerts []models.AlertView) []models.AlertView {
	if Level(caller, access) != DetailFull {
		return []models.AlertView{}
	}
	out := make([]models.AlertView, 0, len(alerts))
	for _, a := range alerts {
		if access != nil && a.ProjectID != access.ProjectID {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Alert reports whether a single alert is visible to the caller.
func (f *Filter) Alert(caller models.Caller, access *models.ProjectAccess, a models.Alert) bool {
	if Level(caller, access) != DetailFull {
		return false
	}
	return access == nil || a.ProjectID == access.ProjectID
}

func (f *Filter) Score(caller models.Caller, access *models.ProjectAccess, s *models.ScoreSnapshot) *ScoreView {
	if s == nil {
		return nil
	}
	switch Level(caller, access) {
	case DetailFull:
		v := summary(s)
		v.Breakdown = make(map[models.MetricName]float64, len(s.Breakdown))
		for k, c := range s.Breakdown {
			v.Breakdown[k] = c
		}
		metrics := s.Metrics
		v.Metrics = &metrics
		return v
	case DetailSummary:
		return summary(s)
	default:
		return nil
	}
}

func (f *Filter) History(caller models.Caller, access *models.ProjectAccess, history []models.ScoreSnapshot) []ScoreView {
	out := make([]ScoreView, 0, len(history))
	for i := range history {
		if v := f.Score(caller, access, &history[i]); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func summary(s *models.ScoreSnapshot) *ScoreView {
	return &ScoreView{
		ProjectID:    s.ProjectID,
		Composite:    s.Composite,
		RiskLevel:    s.RiskLevel,
		ModelVersion: s.ModelVersion,
		EvaluatedAt:  s.EvaluatedAt,
	}
}
