package alert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/projectpulse/internal/models"
	"github.com/projectpulse/internal/scoring"
)

// Policy is the versioned configuration consumed by each evaluation cycle:
// scoring weights, alert rules and recommendation templates. The engine
// never mutates a loaded policy.
type Policy struct {
	Version         string             `json:"version" yaml:"version"`
	Scoring         ScoringPolicy      `json:"scoring" yaml:"scoring"`
	Rules           []models.AlertRule `json:"rules" yaml:"rules"`
	Recommendations map[string]string  `json:"recommendations" yaml:"recommendations"`

	once        sync.Once
	recommender *Recommender
	recErr      error
}

type ScoringPolicy struct {
	ModelVersion string                        `json:"model_version" yaml:"model_version"`
	Weights      map[models.MetricName]float64 `json:"weights" yaml:"weights"`
	RiskBands    *scoring.RiskBands            `json:"risk_bands,omitempty" yaml:"risk_bands,omitempty"`
}

func (p *Policy) Model() scoring.Model {
	bands := scoring.DefaultRiskBands()
	if p.Scoring.RiskBands != nil {
		bands = *p.Scoring.RiskBands
	}
	version := p.Scoring.ModelVersion
	if version == "" {
		version = p.Version
	}
	return scoring.Model{Version: version, Weights: p.Scoring.Weights, Bands: bands}
}

func (p *Policy) Rule(id string) (models.AlertRule, bool) {
	for _, r := range p.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return models.AlertRule{}, false
}

// Recommender compiles the policy's templates once.
func (p *Policy) Recommender() (*Recommender, error) {
	p.once.Do(func() {
		p.recommender, p.recErr = NewRecommender(p.Recommendations)
	})
	return p.recommender, p.recErr
}

func (p *Policy) Validate() error {
	if p.Version == "" {
		return errors.New("policy version is required")
	}
	if err := scoring.ValidateWeights(p.Scoring.Weights); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if p.Scoring.RiskBands != nil {
		if err := p.Scoring.RiskBands.Validate(); err != nil {
			return fmt.Errorf("scoring: %w", err)
		}
	}
	if _, err := NewRecommender(p.Recommendations); err != nil {
		return err
	}
	seen := make(map[string]bool, len(p.Rules))
	for i, rule := range p.Rules {
		if err := p.validateRule(rule); err != nil {
			return fmt.Errorf("rule %d (%s): %w", i, rule.ID, err)
		}
		if seen[rule.ID] {
			return fmt.Errorf("duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = true
	}
	return nil
}

func (p *Policy) validateRule(rule models.AlertRule) error {
	if rule.ID == "" {
		return errors.New("rule id is required")
	}
	if rule.Name == "" {
		return errors.New("rule name is required")
	}
	if !rule.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", rule.Severity)
	}
	if rule.Debounce.Duration < 0 {
		return errors.New("debounce must not be negative")
	}
	if err := ValidateCondition(rule.Condition); err != nil {
		return err
	}
	for i, tier := range rule.Tiers {
		if tier.Severity.Rank() <= rule.Severity.Rank() {
			return fmt.Errorf("tier %d severity %s must be above the base severity %s", i, tier.Severity, rule.Severity)
		}
		if err := ValidateCondition(tier.Condition); err != nil {
			return fmt.Errorf("tier %d: %w", i, err)
		}
	}
	if rule.Recommendation == "" {
		return errors.New("recommendation template key is required")
	}
	if _, ok := p.Recommendations[rule.Recommendation]; !ok {
		return fmt.Errorf("unknown recommendation template %q", rule.Recommendation)
	}
	return nil
}

// ParsePolicy decodes a YAML or JSON policy document and validates it.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return &p, nil
}

func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

func threshold(target string, op models.Operator, value float64) models.Condition {
	return models.Condition{Kind: models.ConditionThreshold, Target: target, Op: op, Value: value}
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() *Policy {
	day := 24 * time.Hour
	return &Policy{
		Version: "builtin-1",
		Scoring: ScoringPolicy{
			ModelVersion: "builtin-1",
			Weights: map[models.MetricName]float64{
				models.MetricScheduleAdherence:   0.35,
				models.MetricBudgetVariance:      0.30,
				models.MetricProductivity:        0.20,
				models.MetricCollaborationHealth: 0.15,
			},
		},
		Rules: []models.AlertRule{
			{
				ID:          "schedule_slip",
				Name:        "Overdue milestones",
				Description: "Weighted share of overdue milestones is too high",
				Condition:   threshold("metric:schedule_adherence", models.OperatorLT, 0.8),
				Severity:    models.SeverityWarning,
				Tiers: []models.SeverityTier{
					{Severity: models.SeverityCritical, Condition: threshold("metric:schedule_adherence", models.OperatorLT, 0.5)},
				},
				Debounce:       models.Duration{Duration: day},
				Recommendation: "schedule_slip",
			},
			{
				ID:          "budget_overrun",
				Name:        "Budget deviation",
				Description: "Spending deviates from the linear plan",
				Condition:   threshold("metric:budget_variance", models.OperatorLT, 0.5),
				Severity:    models.SeverityWarning,
				Tiers: []models.SeverityTier{
					{Severity: models.SeverityCritical, Condition: threshold("metric:budget_variance", models.OperatorLT, 0.25)},
				},
				Recommendation: "budget_overrun",
			},
			{
				ID:             "stalled_productivity",
				Name:           "Stalled productivity",
				Description:    "Few milestones due in the trailing window were completed",
				Condition:      threshold("metric:productivity", models.OperatorLT, 0.4),
				Severity:       models.SeverityWarning,
				Debounce:       models.Duration{Duration: 7 * day},
				Recommendation: "stalled_productivity",
			},
			{
				ID:             "team_inactive",
				Name:           "Inactive team",
				Description:    "Most collaborators have not been active recently",
				Condition:      threshold("metric:collaboration_health", models.OperatorLT, 0.5),
				Severity:       models.SeverityInfo,
				Debounce:       models.Duration{Duration: 3 * day},
				Recommendation: "team_inactive",
			},
			{
				ID:             "score_drop",
				Name:           "Score drop",
				Description:    "Composite score fell sharply since the previous evaluation",
				Condition:      threshold("score_delta", models.OperatorLTE, -15),
				Severity:       models.SeverityWarning,
				Recommendation: "score_drop",
			},
			{
				ID:          "low_score",
				Name:        "Project at risk",
				Description: "Composite score is in the critical band",
				Condition: models.Condition{Kind: models.ConditionAll, Conditions: []models.Condition{
					threshold("score", models.OperatorLT, 25),
					threshold("metric:schedule_adherence", models.OperatorLT, 1),
				}},
				Severity:       models.SeverityCritical,
				Recommendation: "low_score",
			},
		},
		Recommendations: map[string]string{
			"schedule_slip":        "Schedule adherence is {{pct .Metrics.schedule_adherence}}. Re-plan overdue milestones with the team and update their due dates.",
			"budget_overrun":       "Budget variance is {{pct .Metrics.budget_variance}} against the linear plan. Review remaining allocations with the project owner.",
			"stalled_productivity": "Only {{pct .Metrics.productivity}} of the milestones due recently were completed. Check for blockers and reassign work.",
			"team_inactive":        "{{pct .Metrics.collaboration_health}} of collaborators were active recently. Confirm team availability and roles.",
			"score_drop":           "The composite score dropped to {{num .Score}}. Compare the latest breakdown with the previous evaluation.",
			"low_score":            "The composite score is {{num .Score}} ({{.Risk}} risk). Escalate to the research coordination office.",
		},
	}
}

// PolicySource yields the policy to use for a cycle.
type PolicySource interface {
	Current(ctx context.Context) (*Policy, error)
}

type StaticSource struct {
	Policy *Policy
}

func (s StaticSource) Current(context.Context) (*Policy, error) {
	if s.Policy == nil {
		return nil, errors.New("no policy loaded")
	}
	return s.Policy, nil
}

// FileSource reloads a policy file when its modification time changes. An
// invalid new file is logged and the last good policy stays in effect.
type FileSource struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	policy  *Policy
	modTime time.Time
}

func NewFileSource(path string, logger *zap.Logger) (*FileSource, error) {
	s := &FileSource{path: path, logger: logger}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSource) Current(context.Context) (*Policy, error) {
	info, err := os.Stat(s.path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.policy != nil {
			s.logger.Warn("Policy file unavailable, keeping last loaded version",
				zap.String("path", s.path), zap.String("version", s.policy.Version), zap.Error(err))
			return s.policy, nil
		}
		return nil, fmt.Errorf("failed to stat policy file: %w", err)
	}
	if s.policy != nil && info.ModTime().Equal(s.modTime) {
		return s.policy, nil
	}
	if err := s.loadLocked(info.ModTime()); err != nil {
		if s.policy != nil {
			s.logger.Error("Policy reload failed, keeping last loaded version",
				zap.String("path", s.path), zap.String("version", s.policy.Version), zap.Error(err))
			s.modTime = info.ModTime()
			return s.policy, nil
		}
		return nil, err
	}
	return s.policy, nil
}

// Reload forces a re-read of the policy file.
func (s *FileSource) Reload() (*Policy, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat policy file: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(info.ModTime()); err != nil {
		return nil, err
	}
	return s.policy, nil
}

func (s *FileSource) loadLocked(modTime time.Time) error {
	p, err := LoadPolicyFile(s.path)
	if err != nil {
		return err
	}
	if s.policy == nil || s.policy.Version != p.Version {
		s.logger.Info("Policy loaded",
			zap.String("path", s.path),
			zap.String("version", p.Version),
			zap.Int("rules", len(p.Rules)),
		)
	}
	s.policy = p
	s.modTime = modTime
	return nil
}
