// Package extractor derives normalized project metrics from a snapshot.
package extractor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/projectpulse/internal/models"
)

// ErrIncompleteSnapshot means required project fields are missing. The
// project is skipped for the current cycle and retried on the next one.
var ErrIncompleteSnapshot = errors.New("incomplete project snapshot")

const (
	DefaultProductivityWindow = 30 * 24 * time.Hour
	DefaultActivityWindow     = 14 * 24 * time.Hour
)

type Config struct {
	// ProductivityWindow is the trailing window for the productivity metric.
	ProductivityWindow time.Duration
	// ActivityWindow is how recent a collaborator's activity must be to count
	// as active.
	ActivityWindow time.Duration
}

type Extractor struct {
	cfg Config
}

func New(cfg Config) *Extractor {
	if cfg.ProductivityWindow <= 0 {
		cfg.ProductivityWindow = DefaultProductivityWindow
	}
	if cfg.ActivityWindow <= 0 {
		cfg.ActivityWindow = DefaultActivityWindow
	}
	return &Extractor{cfg: cfg}
}

// Extract computes the metric set for a snapshot as of now.
func (e *Extractor) Extract(s *models.ProjectSnapshot, now time.Time) (models.MetricSet, error) {
	if err := validate(s); err != nil {
		return models.MetricSet{}, err
	}

	b := models.NewMetricSetBuilder()
	b.Set(models.MetricScheduleAdherence, scheduleAdherence(s.Milestones, now))

	if v, ok := budgetVariance(s, now); ok {
		b.Set(models.MetricBudgetVariance, v)
	} else {
		b.NotApplicable(models.MetricBudgetVariance)
	}

	if v, ok := productivity(s.Milestones, now, e.cfg.ProductivityWindow); ok {
		b.Set(models.MetricProductivity, v)
	} else {
		b.NotApplicable(models.MetricProductivity)
	}

	if v, ok := collaborationHealth(s.Collaborators, now, e.cfg.ActivityWindow); ok {
		b.Set(models.MetricCollaborationHealth, v)
	} else {
		b.NotApplicable(models.MetricCollaborationHealth)
	}

	return b.Build(), nil
}

func validate(s *models.ProjectSnapshot) error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", ErrIncompleteSnapshot)
	}
	if s.StartDate == nil || s.StartDate.IsZero() {
		return fmt.Errorf("%w: project %s has no start date", ErrIncompleteSnapshot, s.ID)
	}
	if s.EndDate == nil || s.EndDate.IsZero() {
		return fmt.Errorf("%w: project %s has no end date", ErrIncompleteSnapshot, s.ID)
	}
	if !s.EndDate.After(*s.StartDate) {
		return fmt.Errorf("%w: project %s ends before it starts", ErrIncompleteSnapshot, s.ID)
	}
	if s.BudgetTotal != nil && *s.BudgetTotal < 0 {
		return fmt.Errorf("%w: project %s has a negative budget", ErrIncompleteSnapshot, s.ID)
	}
	if s.BudgetSpent < 0 {
		return fmt.Errorf("%w: project %s has negative spending", ErrIncompleteSnapshot, s.ID)
	}
	return nil
}

// scheduleAdherence is 1 when there are no milestones: absence of milestones
// is not evidence of delay.
func scheduleAdherence(milestones []models.Milestone, now time.Time) float64 {
	var total, overdue float64
	for _, m := range milestones {
		total += m.Weight
		if m.CompletedAt == nil && m.DueDate.Before(now) {
			overdue += m.Weight
		}
	}
	if total <= 0 {
		return 1
	}
	return clamp(1-overdue/total, 0, 1)
}

func budgetVariance(s *models.ProjectSnapshot, now time.Time) (float64, bool) {
	if s.BudgetTotal == nil || *s.BudgetTotal == 0 {
		return 0, false
	}
	duration := s.EndDate.Sub(*s.StartDate)
	elapsed := clamp(float64(now.Sub(*s.StartDate))/float64(duration), 0, 1)
	planned := *s.BudgetTotal * elapsed
	if planned == 0 {
		if s.BudgetSpent == 0 {
			return 1, true
		}
		return 0, true
	}
	return clamp(1-math.Abs(s.BudgetSpent/planned-1), 0, 1), true
}

func productivity(milestones []models.Milestone, now time.Time, window time.Duration) (float64, bool) {
	from := now.Add(-window)
	var expected, completed float64
	for _, m := range milestones {
		if inWindow(m.DueDate, from, now) {
			expected += m.Weight
		}
		if m.CompletedAt != nil && inWindow(*m.CompletedAt, from, now) {
			completed += m.Weight
		}
	}
	if expected <= 0 {
		return 0, false
	}
	return clamp(completed/expected, 0, 1), true
}

func collaborationHealth(collaborators []models.Collaborator, now time.Time, window time.Duration) (float64, bool) {
	if len(collaborators) == 0 {
		return 0, false
	}
	cutoff := now.Add(-window)
	active := 0
	for _, c := range collaborators {
		if c.LastActivity != nil && !c.LastActivity.Before(cutoff) {
			active++
		}
	}
	return float64(active) / float64(len(collaborators)), true
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
