package alert

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/projectpulse/internal/models"
)

const samplePolicy = `
version: "2024-06"
scoring:
  model_version: m2
  weights:
    schedule_adherence: 0.5
    budget_variance: 0.5
  risk_bands:
    low: 80
    medium: 60
    high: 30
rules:
  - id: budget_overrun
    name: Budget deviation
    severity: warning
    debounce: 48h
    condition:
      kind: threshold
      target: metric:budget_variance
      op: "<"
      value: 0.5
    tiers:
      - severity: critical
        condition:
          kind: threshold
          target: metric:budget_variance
          op: "<"
          value: 0.25
    recommendation: budget
recommendations:
  budget: "Variance is {{pct .Metrics.budget_variance}}."
`

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy([]byte(samplePolicy))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Version != "2024-06" || len(p.Rules) != 1 {
		t.Fatalf("policy = %+v", p)
	}
	rule := p.Rules[0]
	if rule.Debounce.Duration != 48*time.Hour {
		t.Fatalf("debounce = %v", rule.Debounce)
	}
	m := p.Model()
	if m.Version != "m2" || m.Bands.Low != 80 {
		t.Fatalf("model = %+v", m)
	}
}

func TestParsePolicyJSON(t *testing.T) {
	doc := `{"version":"j1","scoring":{"weights":{"productivity":1}},"rules":[],"recommendations":{}}`
	p, err := ParsePolicy([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Model().Version != "j1" {
		t.Fatalf("model version = %s, want policy version", p.Model().Version)
	}
}

func TestPolicyValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
		errSub string
	}{
		{"missing version", func(p *Policy) { p.Version = "" }, "version"},
		{"no weights", func(p *Policy) { p.Scoring.Weights = nil }, "weight"},
		{"duplicate id", func(p *Policy) { p.Rules = append(p.Rules, p.Rules[0]) }, "duplicate"},
		{"bad severity", func(p *Policy) { p.Rules[0].Severity = "urgent" }, "severity"},
		{"negative debounce", func(p *Policy) { p.Rules[0].Debounce.Duration = -time.Second }, "debounce"},
		{"tier not above base", func(p *Policy) {
			p.Rules[0].Tiers = []models.SeverityTier{{Severity: models.SeverityInfo, Condition: p.Rules[0].Condition}}
		}, "tier"},
		{"unknown template", func(p *Policy) { p.Rules[0].Recommendation = "missing" }, "template"},
		{"bad template", func(p *Policy) { p.Recommendations["broken"] = "{{.Score" }, "template"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(p)
			err := p.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.errSub)
			}
		})
	}
}

func TestDefaultPolicyIsValid(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy: %v", err)
	}
}

func TestShippedPolicyIsValid(t *testing.T) {
	p, err := LoadPolicyFile(filepath.Join("..", "..", "config", "policy.yaml"))
	if err != nil {
		t.Fatalf("config/policy.yaml: %v", err)
	}
	if len(p.Rules) != 4 || p.Model().Bands.High != 25 {
		t.Fatalf("unexpected policy: %d rules, bands %+v", len(p.Rules), p.Model().Bands)
	}
}

func TestRecommendationRendering(t *testing.T) {
	p := DefaultPolicy()
	rec, err := p.Recommender()
	if err != nil {
		t.Fatalf("recommender: %v", err)
	}
	set := metrics(map[models.MetricName]float64{models.MetricBudgetVariance: 0.2})
	got := rec.Render("budget_overrun", set, &models.ScoreSnapshot{Composite: 41})
	if got == nil || !strings.Contains(got.Text, "20%") {
		t.Fatalf("recommendation = %+v", got)
	}
	if got.Params["score"] != 41 {
		t.Fatalf("params = %v", got.Params)
	}
	if rec.Render("nope", set, nil) != nil {
		t.Fatalf("unknown key should render nothing")
	}
}

func TestFileSourceKeepsLastGoodPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(samplePolicy), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	src, err := NewFileSource(path, zap.NewNop())
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	if err := os.WriteFile(path, []byte("version: [broken"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	p, err := src.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if p.Version != "2024-06" {
		t.Fatalf("version = %s, want last good policy", p.Version)
	}
	if _, err := src.Reload(); err == nil {
		t.Fatalf("forced reload of a broken file should fail")
	}

	updated := strings.Replace(samplePolicy, `"2024-06"`, `"2024-07"`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	later = later.Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	p, err = src.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if p.Version != "2024-07" {
		t.Fatalf("version = %s, want reloaded policy", p.Version)
	}
}
