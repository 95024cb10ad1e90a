package extractor

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/projectpulse/internal/models"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func ptrTime(t time.Time) *time.Time { return &t }
func ptrFloat(f float64) *float64    { return &f }

func baseSnapshot() *models.ProjectSnapshot {
	return &models.ProjectSnapshot{
		ID:        "p1",
		State:     models.ProjectStateActive,
		StartDate: ptrTime(now.Add(-100 * 24 * time.Hour)),
		EndDate:   ptrTime(now.Add(100 * 24 * time.Hour)),
	}
}

func mustValue(t *testing.T, set models.MetricSet, name models.MetricName) float64 {
	t.Helper()
	v, ok := set.Value(name)
	if !ok {
		t.Fatalf("%s not applicable", name)
	}
	return v
}

func TestScheduleAdherenceWithoutMilestones(t *testing.T) {
	set, err := New(Config{}).Extract(baseSnapshot(), now)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := mustValue(t, set, models.MetricScheduleAdherence); got != 1 {
		t.Fatalf("adherence = %v, want 1", got)
	}
}

func TestScheduleAdherenceCountsOverdueWeight(t *testing.T) {
	s := baseSnapshot()
	s.Milestones = []models.Milestone{
		{Title: "done", DueDate: now.Add(-48 * time.Hour), CompletedAt: ptrTime(now.Add(-50 * time.Hour)), Weight: 1},
		{Title: "late", DueDate: now.Add(-24 * time.Hour), Weight: 3},
		{Title: "future", DueDate: now.Add(24 * time.Hour), Weight: 4},
	}
	set, err := New(Config{}).Extract(s, now)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := mustValue(t, set, models.MetricScheduleAdherence); math.Abs(got-0.625) > 1e-9 {
		t.Fatalf("adherence = %v, want 0.625", got)
	}
}

func TestBudgetVarianceScenario(t *testing.T) {
	s := baseSnapshot()
	s.BudgetTotal = ptrFloat(10000)
	s.BudgetSpent = 9000
	set, err := New(Config{}).Extract(s, now)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := mustValue(t, set, models.MetricBudgetVariance); math.Abs(got-0.2) > 1e-9 {
		t.Fatalf("budget_variance = %v, want 0.2", got)
	}
}

func TestBudgetVarianceNotApplicableWithoutBudget(t *testing.T) {
	set, err := New(Config{}).Extract(baseSnapshot(), now)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, ok := set.Value(models.MetricBudgetVariance); ok {
		t.Fatalf("budget_variance should not be applicable")
	}
	if !set.Has(models.MetricBudgetVariance) {
		t.Fatalf("budget_variance should be recorded as not applicable")
	}
}

func TestBudgetVarianceBeforeStart(t *testing.T) {
	s := baseSnapshot()
	s.StartDate = ptrTime(now.Add(24 * time.Hour))
	s.BudgetTotal = ptrFloat(500)
	tests := []struct {
		spent float64
		want  float64
	}{
		{0, 1},
		{10, 0},
	}
	for _, tt := range tests {
		s.BudgetSpent = tt.spent
		set, err := New(Config{}).Extract(s, now)
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		if got := mustValue(t, set, models.MetricBudgetVariance); got != tt.want {
			t.Errorf("spent %v: variance = %v, want %v", tt.spent, got, tt.want)
		}
	}
}

func TestProductivity(t *testing.T) {
	s := baseSnapshot()
	s.Milestones = []models.Milestone{
		{DueDate: now.Add(-5 * 24 * time.Hour), CompletedAt: ptrTime(now.Add(-6 * 24 * time.Hour)), Weight: 2},
		{DueDate: now.Add(-3 * 24 * time.Hour), Weight: 2},
		{DueDate: now.Add(-90 * 24 * time.Hour), Weight: 5},
	}
	set, err := New(Config{ProductivityWindow: 30 * 24 * time.Hour}).Extract(s, now)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := mustValue(t, set, models.MetricProductivity); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("productivity = %v, want 0.5", got)
	}
}

func TestProductivityNotApplicableWhenNothingDue(t *testing.T) {
	set, err := New(Config{}).Extract(baseSnapshot(), now)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, ok := set.Value(models.MetricProductivity); ok {
		t.Fatalf("productivity should not be applicable")
	}
}

func TestCollaborationHealth(t *testing.T) {
	s := baseSnapshot()
	s.Collaborators = []models.Collaborator{
		{UserID: "a", LastActivity: ptrTime(now.Add(-24 * time.Hour))},
		{UserID: "b", LastActivity: ptrTime(now.Add(-60 * 24 * time.Hour))},
		{UserID: "c"},
		{UserID: "d", LastActivity: ptrTime(now)},
	}
	set, err := New(Config{}).Extract(s, now)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := mustValue(t, set, models.MetricCollaborationHealth); got != 0.5 {
		t.Fatalf("collaboration_health = %v, want 0.5", got)
	}
}

func TestIncompleteSnapshot(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.ProjectSnapshot)
	}{
		{"no start", func(s *models.ProjectSnapshot) { s.StartDate = nil }},
		{"no end", func(s *models.ProjectSnapshot) { s.EndDate = nil }},
		{"inverted dates", func(s *models.ProjectSnapshot) { s.EndDate = ptrTime(s.StartDate.Add(-time.Hour)) }},
		{"negative budget", func(s *models.ProjectSnapshot) { s.BudgetTotal = ptrFloat(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := baseSnapshot()
			tt.mutate(s)
			_, err := New(Config{}).Extract(s, now)
			if !errors.Is(err, ErrIncompleteSnapshot) {
				t.Fatalf("err = %v, want ErrIncompleteSnapshot", err)
			}
		})
	}
}
