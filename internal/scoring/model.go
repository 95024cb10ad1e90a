// Package scoring combines project metrics into a weighted composite score.
package scoring

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/projectpulse/internal/models"
)

// ErrInsufficientMetrics means no weighted metric was applicable, so no
// score can be produced for the cycle.
var ErrInsufficientMetrics = errors.New("insufficient applicable metrics")

// RiskBands are the lower composite bounds of each risk level. Anything
// below High is critical.
type RiskBands struct {
	Low    float64 `json:"low" yaml:"low"`
	Medium float64 `json:"medium" yaml:"medium"`
	High   float64 `json:"high" yaml:"high"`
}

func DefaultRiskBands() RiskBands {
	return RiskBands{Low: 75, Medium: 50, High: 25}
}

func (b RiskBands) Validate() error {
	if !(b.Low >= b.Medium && b.Medium >= b.High && b.High >= 0 && b.Low <= 100) {
		return fmt.Errorf("risk bands must satisfy 100 >= low >= medium >= high >= 0, got %+v", b)
	}
	return nil
}

// Classify maps a composite score to a risk level.
func (b RiskBands) Classify(composite float64) models.RiskLevel {
	switch {
	case composite >= b.Low:
		return models.RiskLow
	case composite >= b.Medium:
		return models.RiskMedium
	case composite >= b.High:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

// Model is a versioned set of metric weights. Weights need not sum to 1.
type Model struct {
	Version string
	Weights map[models.MetricName]float64
	Bands   RiskBands
}

func ValidateWeights(weights map[models.MetricName]float64) error {
	if len(weights) == 0 {
		return errors.New("at least one weight is required")
	}
	var total float64
	for name, w := range weights {
		if !name.IsValid() {
			return fmt.Errorf("unknown metric %q in weights", name)
		}
		if w < 0 {
			return fmt.Errorf("weight for %s must not be negative", name)
		}
		total += w
	}
	if total == 0 {
		return errors.New("weights must not all be zero")
	}
	return nil
}

// Score combines the applicable metrics of set. Metrics that are not
// applicable are dropped from both the weight sum and the composite, so the
// remaining weights are renormalized rather than counting the gap as zero.
func (m Model) Score(projectID string, set models.MetricSet, now time.Time) (*models.ScoreSnapshot, error) {
	names := make([]models.MetricName, 0, len(m.Weights))
	for name := range m.Weights {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var total float64
	used := make([]models.MetricName, 0, len(names))
	for _, name := range names {
		w := m.Weights[name]
		if w <= 0 {
			continue
		}
		if _, ok := set.Value(name); !ok {
			continue
		}
		total += w
		used = append(used, name)
	}
	if total == 0 {
		return nil, fmt.Errorf("%w for project %s", ErrInsufficientMetrics, projectID)
	}

	breakdown := make(map[models.MetricName]float64, len(used))
	var composite float64
	for _, name := range used {
		v, _ := set.Value(name)
		c := 100 * (m.Weights[name] / total) * v
		breakdown[name] = c
		composite += c
	}

	bands := m.Bands
	if bands == (RiskBands{}) {
		bands = DefaultRiskBands()
	}

	return &models.ScoreSnapshot{
		ProjectID:    projectID,
		Composite:    composite,
		Breakdown:    breakdown,
		Metrics:      set,
		ModelVersion: m.Version,
		RiskLevel:    bands.Classify(composite),
		EvaluatedAt:  now,
	}, nil
}
