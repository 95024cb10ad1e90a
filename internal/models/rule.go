package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

type Operator string

const (
	OperatorGT  Operator = ">"
	OperatorLT  Operator = "<"
	OperatorGTE Operator = ">="
	OperatorLTE Operator = "<="
	OperatorEQ  Operator = "=="
)

func (o Operator) IsValid() bool {
	switch o {
	case OperatorGT, OperatorLT, OperatorGTE, OperatorLTE, OperatorEQ:
		return true
	default:
		return false
	}
}

type ConditionKind string

const (
	ConditionThreshold ConditionKind = "threshold"
	ConditionAll       ConditionKind = "all"
	ConditionAny       ConditionKind = "any"
	ConditionNot       ConditionKind = "not"
)

// Condition is a tagged variant selected by Kind:
//
//	threshold: Target, Op, Value
//	all, any:  Conditions
//	not:       Condition
//
// Targets are "metric:<name>", "dimension:<name>", "score" or "score_delta".
type Condition struct {
	Kind       ConditionKind `json:"kind" yaml:"kind"`
	Target     string        `json:"target,omitempty" yaml:"target,omitempty"`
	Op         Operator      `json:"op,omitempty" yaml:"op,omitempty"`
	Value      float64       `json:"value,omitempty" yaml:"value,omitempty"`
	Conditions []Condition   `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Condition  *Condition    `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// SeverityTier raises the severity of a firing rule while its condition holds.
type SeverityTier struct {
	Severity  Severity  `json:"severity" yaml:"severity"`
	Condition Condition `json:"condition" yaml:"condition"`
}

type AlertRule struct {
	ID             string         `json:"id" yaml:"id"`
	Name           string         `json:"name" yaml:"name"`
	Description    string         `json:"description,omitempty" yaml:"description,omitempty"`
	Condition      Condition      `json:"condition" yaml:"condition"`
	Severity       Severity       `json:"severity" yaml:"severity"`
	Tiers          []SeverityTier `json:"tiers,omitempty" yaml:"tiers,omitempty"`
	Debounce       Duration       `json:"debounce" yaml:"debounce"`
	Recommendation string         `json:"recommendation" yaml:"recommendation"`
	Enabled        *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (r AlertRule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// RuleState carries debounce tracking for one (project, rule) pair between
// cycles. ConditionSince is nil while the condition does not hold.
type RuleState struct {
	ProjectID      string     `json:"project_id"`
	RuleID         string     `json:"rule_id"`
	ConditionSince *time.Time `json:"condition_since,omitempty"`
}

// Duration is a time.Duration written as "72h" in policy files.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return fmt.Errorf("invalid duration %s", string(data))
		}
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}
