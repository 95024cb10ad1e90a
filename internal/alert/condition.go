package alert

import (
	"fmt"
	"math"
	"strings"

	"github.com/projectpulse/internal/models"
)

// Tolerance applies to ==, <= and >= comparisons.
const Tolerance = 1e-6

const maxConditionDepth = 16

// Truth is the three-valued result of a condition. Unknown means a target
// had no value (a metric that is not applicable, or no score history); the
// rule is skipped for the cycle instead of being treated as false.
type Truth int

const (
	Unknown Truth = iota
	False
	True
)

func (t Truth) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

const (
	targetScore      = "score"
	targetScoreDelta = "score_delta"
	prefixMetric     = "metric:"
	prefixDimension  = "dimension:"
)

// EvalContext is what conditions are evaluated against.
type EvalContext struct {
	Metrics  models.MetricSet
	Score    *models.ScoreSnapshot
	Previous *models.ScoreSnapshot
}

func (c EvalContext) resolve(target string) (float64, bool) {
	switch {
	case target == targetScore:
		if c.Score == nil {
			return 0, false
		}
		return c.Score.Composite, true
	case target == targetScoreDelta:
		if c.Score == nil || c.Previous == nil {
			return 0, false
		}
		return c.Score.Composite - c.Previous.Composite, true
	case strings.HasPrefix(target, prefixMetric):
		return c.Metrics.Value(models.MetricName(strings.TrimPrefix(target, prefixMetric)))
	case strings.HasPrefix(target, prefixDimension):
		if c.Score == nil {
			return 0, false
		}
		v, ok := c.Score.Breakdown[models.MetricName(strings.TrimPrefix(target, prefixDimension))]
		return v, ok
	default:
		return 0, false
	}
}

// Eval interprets cond. Observed threshold inputs are written to observed
// when it is not nil.
func Eval(cond models.Condition, ctx EvalContext, observed map[string]float64) Truth {
	switch cond.Kind {
	case models.ConditionThreshold:
		v, ok := ctx.resolve(cond.Target)
		if !ok {
			return Unknown
		}
		if observed != nil {
			observed[cond.Target] = v
		}
		if compare(cond.Op, v, cond.Value) {
			return True
		}
		return False
	case models.ConditionAll:
		result := True
		for _, c := range cond.Conditions {
			switch Eval(c, ctx, observed) {
			case False:
				return False
			case Unknown:
				result = Unknown
			}
		}
		return result
	case models.ConditionAny:
		result := False
		for _, c := range cond.Conditions {
			switch Eval(c, ctx, observed) {
			case True:
				return True
			case Unknown:
				result = Unknown
			}
		}
		return result
	case models.ConditionNot:
		if cond.Condition == nil {
			return Unknown
		}
		switch Eval(*cond.Condition, ctx, observed) {
		case True:
			return False
		case False:
			return True
		default:
			return Unknown
		}
	default:
		return Unknown
	}
}

func compare(op models.Operator, current, threshold float64) bool {
	switch op {
	case models.OperatorGT:
		return current > threshold
	case models.OperatorLT:
		return current < threshold
	case models.OperatorGTE:
		return current >= threshold-Tolerance
	case models.OperatorLTE:
		return current <= threshold+Tolerance
	case models.OperatorEQ:
		return math.Abs(current-threshold) <= Tolerance
	default:
		return false
	}
}

// ValidateCondition checks the shape of a condition tree.
func ValidateCondition(cond models.Condition) error {
	return validateCondition(cond, 0)
}

func validateCondition(cond models.Condition, depth int) error {
	if depth > maxConditionDepth {
		return fmt.Errorf("condition nested deeper than %d levels", maxConditionDepth)
	}
	switch cond.Kind {
	case models.ConditionThreshold:
		if err := validateTarget(cond.Target); err != nil {
			return err
		}
		if !cond.Op.IsValid() {
			return fmt.Errorf("invalid operator %q", cond.Op)
		}
		if len(cond.Conditions) > 0 || cond.Condition != nil {
			return fmt.Errorf("threshold condition cannot have sub-conditions")
		}
	case models.ConditionAll, models.ConditionAny:
		if len(cond.Conditions) == 0 {
			return fmt.Errorf("%s condition needs at least one sub-condition", cond.Kind)
		}
		for i, c := range cond.Conditions {
			if err := validateCondition(c, depth+1); err != nil {
				return fmt.Errorf("%s[%d]: %w", cond.Kind, i, err)
			}
		}
	case models.ConditionNot:
		if cond.Condition == nil {
			return fmt.Errorf("not condition needs a sub-condition")
		}
		if err := validateCondition(*cond.Condition, depth+1); err != nil {
			return fmt.Errorf("not: %w", err)
		}
	default:
		return fmt.Errorf("unknown condition kind %q", cond.Kind)
	}
	return nil
}

func validateTarget(target string) error {
	switch {
	case target == targetScore, target == targetScoreDelta:
		return nil
	case strings.HasPrefix(target, prefixMetric):
		if !models.MetricName(strings.TrimPrefix(target, prefixMetric)).IsValid() {
			return fmt.Errorf("unknown metric in target %q", target)
		}
		return nil
	case strings.HasPrefix(target, prefixDimension):
		if !models.MetricName(strings.TrimPrefix(target, prefixDimension)).IsValid() {
			return fmt.Errorf("unknown dimension in target %q", target)
		}
		return nil
	default:
		return fmt.Errorf("invalid target %q", target)
	}
}
