package alert

import (
	"sort"
	"time"

	"github.com/projectpulse/internal/models"
)

type Outcome int

const (
	// NotFired covers both a false condition and a true one still inside its
	// debounce window.
	NotFired Outcome = iota
	Fired
	// Skipped means the rule could not be evaluated this cycle. Existing
	// alert and debounce state are left untouched.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Fired:
		return "fired"
	case Skipped:
		return "skipped"
	default:
		return "not_fired"
	}
}

type RuleResult struct {
	Rule     models.AlertRule
	Outcome  Outcome
	Severity models.Severity
	Observed map[string]float64
}

type EvaluationInput struct {
	ProjectID string
	Now       time.Time
	Rules     []models.AlertRule
	Metrics   models.MetricSet
	Score     *models.ScoreSnapshot
	Previous  *models.ScoreSnapshot
	// States holds the prior cycle's debounce state keyed by rule ID.
	States map[string]models.RuleState
}

type EvaluationResult struct {
	Results []RuleResult
	// States is the complete debounce state to persist for the project.
	States []models.RuleState
}

func (r EvaluationResult) Fired() []RuleResult {
	var out []RuleResult
	for _, res := range r.Results {
		if res.Outcome == Fired {
			out = append(out, res)
		}
	}
	return out
}

// RuleEvaluator checks rules against a project's metrics and score history.
// It holds no state between calls; debounce tracking travels in the input
// and result so that it can be committed together with alert changes.
type RuleEvaluator struct{}

func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{}
}

func (e *RuleEvaluator) Evaluate(in EvaluationInput) EvaluationResult {
	ctx := EvalContext{Metrics: in.Metrics, Score: in.Score, Previous: in.Previous}
	rules := make([]models.AlertRule, 0, len(in.Rules))
	for _, r := range in.Rules {
		if r.IsEnabled() {
			rules = append(rules, r)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	var out EvaluationResult
	for _, rule := range rules {
		prev := in.States[rule.ID]
		state := models.RuleState{
			ProjectID:      in.ProjectID,
			RuleID:         rule.ID,
			ConditionSince: prev.ConditionSince,
		}
		observed := make(map[string]float64)
		res := RuleResult{Rule: rule, Observed: observed}

		switch Eval(rule.Condition, ctx, observed) {
		case True:
			if state.ConditionSince == nil {
				since := in.Now
				state.ConditionSince = &since
			}
			if in.Now.Sub(*state.ConditionSince) >= rule.Debounce.Duration {
				res.Outcome = Fired
				res.Severity = tierSeverity(rule, ctx, observed)
			}
		case False:
			state.ConditionSince = nil
			res.Outcome = NotFired
		default:
			res.Outcome = Skipped
		}

		out.Results = append(out.Results, res)
		out.States = append(out.States, state)
	}
	return out
}

func tierSeverity(rule models.AlertRule, ctx EvalContext, observed map[string]float64) models.Severity {
	severity := rule.Severity
	for _, tier := range rule.Tiers {
		if tier.Severity.Rank() <= severity.Rank() {
			continue
		}
		if Eval(tier.Condition, ctx, observed) == True {
			severity = tier.Severity
		}
	}
	return severity
}
