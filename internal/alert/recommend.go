package alert

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/projectpulse/internal/models"
)

var templateFuncs = template.FuncMap{
	"pct": func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
	"num": func(v float64) string { return fmt.Sprintf("%.1f", v) },
}

// Recommender renders the canned recommendation attached to a rule.
type Recommender struct {
	templates map[string]*template.Template
}

type recommendationData struct {
	Metrics map[string]float64
	Score   float64
	Risk    models.RiskLevel
}

func NewRecommender(sources map[string]string) (*Recommender, error) {
	r := &Recommender{templates: make(map[string]*template.Template, len(sources))}
	for key, src := range sources {
		tmpl, err := template.New(key).Funcs(templateFuncs).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("invalid recommendation template %q: %w", key, err)
		}
		r.templates[key] = tmpl
	}
	return r, nil
}

// Render fills the template for key from the current metrics and score. It
// returns nil when the key is unknown or rendering fails.
func (r *Recommender) Render(key string, metrics models.MetricSet, score *models.ScoreSnapshot) *models.Recommendation {
	tmpl, ok := r.templates[key]
	if !ok {
		return nil
	}
	data := recommendationData{Metrics: make(map[string]float64)}
	params := make(map[string]float64)
	for name, v := range metrics.Applicable() {
		data.Metrics[string(name)] = v
		params[string(name)] = v
	}
	if score != nil {
		data.Score = score.Composite
		data.Risk = score.RiskLevel
		params["score"] = score.Composite
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil
	}
	return &models.Recommendation{Key: key, Text: buf.String(), Params: params}
}
