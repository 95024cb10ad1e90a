package scoring

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/projectpulse/internal/models"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func defaultModel() Model {
	return Model{
		Version: "v1",
		Weights: map[models.MetricName]float64{
			models.MetricScheduleAdherence:   3,
			models.MetricBudgetVariance:      3,
			models.MetricProductivity:        2,
			models.MetricCollaborationHealth: 2,
		},
	}
}

func TestContributionsSumToComposite(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := defaultModel()
	for i := 0; i < 500; i++ {
		b := models.NewMetricSetBuilder()
		for _, name := range models.KnownMetrics {
			b.Set(name, rng.Float64())
		}
		for name := range m.Weights {
			m.Weights[name] = rng.Float64() * 10
		}
		snap, err := m.Score("p1", b.Build(), now)
		if err != nil {
			t.Fatalf("score: %v", err)
		}
		var sum float64
		for _, c := range snap.Breakdown {
			sum += c
		}
		if math.Abs(sum-snap.Composite) > 1e-9 {
			t.Fatalf("iteration %d: sum %v != composite %v", i, sum, snap.Composite)
		}
		if snap.Composite < 0 || snap.Composite > 100 {
			t.Fatalf("composite %v out of range", snap.Composite)
		}
	}
}

func TestWeightsAreNormalized(t *testing.T) {
	set := models.NewMetricSetBuilder().
		Set(models.MetricScheduleAdherence, 1).
		Set(models.MetricBudgetVariance, 1).
		Set(models.MetricProductivity, 1).
		Set(models.MetricCollaborationHealth, 1).
		Build()
	snap, err := defaultModel().Score("p1", set, now)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if math.Abs(snap.Composite-100) > 1e-9 {
		t.Fatalf("composite = %v, want 100", snap.Composite)
	}
	if math.Abs(snap.Breakdown[models.MetricScheduleAdherence]-30) > 1e-9 {
		t.Fatalf("schedule contribution = %v, want 30", snap.Breakdown[models.MetricScheduleAdherence])
	}
	if snap.RiskLevel != models.RiskLow {
		t.Fatalf("risk = %s, want low", snap.RiskLevel)
	}
}

func TestNotApplicableIsExcludedNotZero(t *testing.T) {
	set := models.NewMetricSetBuilder().
		Set(models.MetricScheduleAdherence, 1).
		NotApplicable(models.MetricBudgetVariance).
		Set(models.MetricProductivity, 1).
		Set(models.MetricCollaborationHealth, 1).
		Build()
	snap, err := defaultModel().Score("p1", set, now)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if math.Abs(snap.Composite-100) > 1e-9 {
		t.Fatalf("composite = %v, want 100 after renormalization", snap.Composite)
	}
	if _, ok := snap.Breakdown[models.MetricBudgetVariance]; ok {
		t.Fatalf("budget_variance must not appear in the breakdown")
	}
}

func TestInsufficientMetrics(t *testing.T) {
	set := models.NewMetricSetBuilder().
		NotApplicable(models.MetricBudgetVariance).
		Build()
	m := Model{Weights: map[models.MetricName]float64{models.MetricBudgetVariance: 1}}
	_, err := m.Score("p1", set, now)
	if !errors.Is(err, ErrInsufficientMetrics) {
		t.Fatalf("err = %v, want ErrInsufficientMetrics", err)
	}
}

func TestClassify(t *testing.T) {
	bands := DefaultRiskBands()
	tests := []struct {
		composite float64
		want      models.RiskLevel
	}{
		{100, models.RiskLow},
		{75, models.RiskLow},
		{74.9, models.RiskMedium},
		{50, models.RiskMedium},
		{30, models.RiskHigh},
		{24.99, models.RiskCritical},
	}
	for _, tt := range tests {
		if got := bands.Classify(tt.composite); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.composite, got, tt.want)
		}
	}
}

func TestValidateWeights(t *testing.T) {
	if err := ValidateWeights(map[models.MetricName]float64{models.MetricProductivity: -1}); err == nil {
		t.Fatalf("expected error for negative weight")
	}
	if err := ValidateWeights(map[models.MetricName]float64{"velocity": 1}); err == nil {
		t.Fatalf("expected error for unknown metric")
	}
	if err := ValidateWeights(map[models.MetricName]float64{models.MetricProductivity: 0}); err == nil {
		t.Fatalf("expected error for all-zero weights")
	}
	if err := ValidateWeights(defaultModel().Weights); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
