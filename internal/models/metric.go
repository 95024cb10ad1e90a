package models

import (
	"encoding/json"
	"sort"
)

type MetricName string

const (
	MetricScheduleAdherence   MetricName = "schedule_adherence"
	MetricBudgetVariance      MetricName = "budget_variance"
	MetricProductivity        MetricName = "productivity"
	MetricCollaborationHealth MetricName = "collaboration_health"
)

// KnownMetrics lists every metric the extractor produces, in report order.
var KnownMetrics = []MetricName{
	MetricScheduleAdherence,
	MetricBudgetVariance,
	MetricProductivity,
	MetricCollaborationHealth,
}

func (m MetricName) IsValid() bool {
	for _, k := range KnownMetrics {
		if k == m {
			return true
		}
	}
	return false
}

// MetricSet maps metric names to normalized values in [0,1]. A metric that
// is present but not applicable has no value; callers must not read it as 0.
// A MetricSet cannot be changed once built.
type MetricSet struct {
	values        map[MetricName]float64
	notApplicable map[MetricName]bool
}

// MetricSetBuilder accumulates values for a new MetricSet.
type MetricSetBuilder struct {
	set MetricSet
}

func NewMetricSetBuilder() *MetricSetBuilder {
	return &MetricSetBuilder{set: MetricSet{
		values:        make(map[MetricName]float64),
		notApplicable: make(map[MetricName]bool),
	}}
}

func (b *MetricSetBuilder) Set(name MetricName, value float64) *MetricSetBuilder {
	b.set.values[name] = value
	delete(b.set.notApplicable, name)
	return b
}

func (b *MetricSetBuilder) NotApplicable(name MetricName) *MetricSetBuilder {
	delete(b.set.values, name)
	b.set.notApplicable[name] = true
	return b
}

// Build returns the set. The builder must not be used afterwards.
func (b *MetricSetBuilder) Build() MetricSet {
	s := b.set
	b.set = MetricSet{}
	return s
}

// Value returns the metric value and whether it is applicable.
func (s MetricSet) Value(name MetricName) (float64, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Has reports whether the metric was computed at all, applicable or not.
func (s MetricSet) Has(name MetricName) bool {
	_, ok := s.values[name]
	return ok || s.notApplicable[name]
}

func (s MetricSet) Names() []MetricName {
	names := make([]MetricName, 0, len(s.values)+len(s.notApplicable))
	for n := range s.values {
		names = append(names, n)
	}
	for n := range s.notApplicable {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Applicable returns a copy of the applicable values.
func (s MetricSet) Applicable() map[MetricName]float64 {
	out := make(map[MetricName]float64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s MetricSet) MarshalJSON() ([]byte, error) {
	out := make(map[MetricName]*float64, len(s.values)+len(s.notApplicable))
	for k, v := range s.values {
		v := v
		out[k] = &v
	}
	for k := range s.notApplicable {
		out[k] = nil
	}
	return json.Marshal(out)
}

func (s *MetricSet) UnmarshalJSON(data []byte) error {
	var raw map[MetricName]*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b := NewMetricSetBuilder()
	for k, v := range raw {
		if v == nil {
			b.NotApplicable(k)
		} else {
			b.Set(k, *v)
		}
	}
	*s = b.Build()
	return nil
}
