package models

import "time"

type ProjectState string

const (
	ProjectStateDraft     ProjectState = "draft"
	ProjectStateActive    ProjectState = "active"
	ProjectStateReview    ProjectState = "review"
	ProjectStateCompleted ProjectState = "completed"
	ProjectStateSuspended ProjectState = "suspended"
)

func (s ProjectState) IsValid() bool {
	switch s {
	case ProjectStateDraft, ProjectStateActive, ProjectStateReview, ProjectStateCompleted, ProjectStateSuspended:
		return true
	default:
		return false
	}
}

// ProjectSnapshot is a read-only view of a project taken at evaluation time.
// BudgetTotal is nil when the project has no budget; nil dates mean the
// field was never recorded.
type ProjectSnapshot struct {
	ID            string         `json:"id" yaml:"id"`
	Title         string         `json:"title" yaml:"title"`
	State         ProjectState   `json:"state" yaml:"state"`
	OwnerID       string         `json:"owner_id" yaml:"owner_id"`
	IsPublic      bool           `json:"is_public" yaml:"is_public"`
	StartDate     *time.Time     `json:"start_date,omitempty" yaml:"start_date"`
	EndDate       *time.Time     `json:"end_date,omitempty" yaml:"end_date"`
	BudgetTotal   *float64       `json:"budget_total,omitempty" yaml:"budget_total"`
	BudgetSpent   float64        `json:"budget_spent" yaml:"budget_spent"`
	Milestones    []Milestone    `json:"milestones" yaml:"milestones"`
	Collaborators []Collaborator `json:"collaborators" yaml:"collaborators"`
}

type Milestone struct {
	Title       string     `json:"title" yaml:"title"`
	DueDate     time.Time  `json:"due_date" yaml:"due_date"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at"`
	Weight      float64    `json:"weight" yaml:"weight"`
}

// Collaborator roles follow the research team vocabulary of the platform.
type Collaborator struct {
	UserID       string     `json:"user_id" yaml:"user_id"`
	Role         string     `json:"role" yaml:"role"`
	LastActivity *time.Time `json:"last_activity,omitempty" yaml:"last_activity"`
}

// ProjectAccess is the part of a project needed to decide who may see it.
type ProjectAccess struct {
	ProjectID       string
	OwnerID         string
	CollaboratorIDs []string
	IsPublic        bool
}
