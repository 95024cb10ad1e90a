// Package store persists projects, score history, alerts and rule state.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/projectpulse/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrPersistenceTimeout and ErrPersistenceUnavailable are transient; the
	// caller may retry the operation.
	ErrPersistenceTimeout     = errors.New("persistence timeout")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	// ErrConflict means a conditional write lost a race with another writer.
	ErrConflict = errors.New("concurrent modification")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrPersistenceTimeout) || errors.Is(err, ErrPersistenceUnavailable)
}

type AlertFilter string

const (
	// FilterOpen includes acknowledged alerts.
	FilterOpen     AlertFilter = "open"
	FilterResolved AlertFilter = "resolved"
	FilterAll      AlertFilter = "all"
)

func ParseAlertFilter(s string) (AlertFilter, error) {
	switch AlertFilter(s) {
	case "":
		return FilterOpen, nil
	case FilterOpen, FilterResolved, FilterAll:
		return AlertFilter(s), nil
	default:
		return "", fmt.Errorf("invalid alert status filter %q", s)
	}
}

func (f AlertFilter) Match(status models.AlertStatus) bool {
	switch f {
	case FilterOpen:
		return status.IsActive()
	case FilterResolved:
		return status == models.AlertStatusResolved
	default:
		return true
	}
}

// EvaluationBatch is everything one evaluation cycle writes. It is committed
// in a single transaction. RuleStates replaces the project's stored states.
type EvaluationBatch struct {
	ProjectID  string
	Score      *models.ScoreSnapshot
	Alerts     []models.Alert
	History    []models.AlertHistoryEntry
	RuleStates []models.RuleState
}

type Store interface {
	GetProjectSnapshot(ctx context.Context, projectID string) (*models.ProjectSnapshot, error)
	ProjectAccess(ctx context.Context, projectID string) (*models.ProjectAccess, error)
	// ListProjectIDs returns projects in any of the given states, or all
	// projects when none are given.
	ListProjectIDs(ctx context.Context, states ...models.ProjectState) ([]string, error)
	ImportProjects(ctx context.Context, projects []models.ProjectSnapshot) error

	// LatestScore returns nil without error when the project has no history.
	LatestScore(ctx context.Context, projectID string) (*models.ScoreSnapshot, error)
	// ScoreHistory is ordered newest first.
	ScoreHistory(ctx context.Context, projectID string, limit int) ([]models.ScoreSnapshot, error)

	ListOpenAlerts(ctx context.Context, projectID string) ([]models.Alert, error)
	// ListAlerts lists alerts of one project, or of all projects when
	// projectID is empty.
	ListAlerts(ctx context.Context, projectID string, filter AlertFilter) ([]models.Alert, error)
	GetAlert(ctx context.Context, alertID string) (*models.Alert, error)
	AlertHistory(ctx context.Context, alertID string) ([]models.AlertHistoryEntry, error)
	ListRuleStates(ctx context.Context, projectID string) ([]models.RuleState, error)

	CommitEvaluation(ctx context.Context, batch EvaluationBatch) error
	// AcknowledgeAlert stores an acknowledged alert. It fails with
	// ErrConflict if the stored alert is no longer open.
	AcknowledgeAlert(ctx context.Context, alert models.Alert, entry models.AlertHistoryEntry) error

	Close() error
}

// Access derives the visibility roster from a snapshot.
func Access(p *models.ProjectSnapshot) *models.ProjectAccess {
	ids := make([]string, 0, len(p.Collaborators))
	for _, c := range p.Collaborators {
		ids = append(ids, c.UserID)
	}
	return &models.ProjectAccess{
		ProjectID:       p.ID,
		OwnerID:         p.OwnerID,
		CollaboratorIDs: ids,
		IsPublic:        p.IsPublic,
	}
}
