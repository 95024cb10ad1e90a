package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/projectpulse/internal/models"
	"github.com/projectpulse/internal/store"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	err := st.ImportProjects(ctx, []models.ProjectSnapshot{
		{ID: "healthy", Title: "Healthy", State: models.ProjectStateActive},
		{ID: "risky", Title: "Risky", State: models.ProjectStateActive},
		{ID: "fresh", Title: "Never evaluated", State: models.ProjectStateActive},
		{ID: "done", Title: "Finished", State: models.ProjectStateCompleted},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	commit := func(id string, composite float64, risk models.RiskLevel, alerts ...models.Alert) {
		err := st.CommitEvaluation(ctx, store.EvaluationBatch{
			ProjectID: id,
			Score: &models.ScoreSnapshot{
				ProjectID:    id,
				Composite:    composite,
				RiskLevel:    risk,
				ModelVersion: "v1",
				Metrics:      models.NewMetricSetBuilder().Build(),
				EvaluatedAt:  now,
			},
			Alerts: alerts,
		})
		if err != nil {
			t.Fatalf("commit %s: %v", id, err)
		}
	}
	commit("healthy", 91, models.RiskLow)
	commit("risky", 22.5, models.RiskCritical,
		models.Alert{ID: "a1", ProjectID: "risky", RuleID: "budget_overrun", Severity: models.SeverityCritical, Status: models.AlertStatusOpen, Occurrences: 1},
		models.Alert{ID: "a2", ProjectID: "risky", RuleID: "team_inactive", Severity: models.SeverityInfo, Status: models.AlertStatusAcknowledged, Occurrences: 3},
	)
	return st
}

func TestGenerate(t *testing.T) {
	g := NewReportGenerator(seed(t))
	p, err := g.Generate(context.Background(), now, models.ProjectStateActive)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(p.Projects) != 3 {
		t.Fatalf("got %d projects, want 3", len(p.Projects))
	}
	order := []string{p.Projects[0].ProjectID, p.Projects[1].ProjectID, p.Projects[2].ProjectID}
	if order[0] != "risky" || order[1] != "healthy" || order[2] != "fresh" {
		t.Fatalf("order = %v, want most at risk first and unscored last", order)
	}
	risky := p.Projects[0]
	if risky.OpenAlerts != 2 || risky.HighestSeverity != models.SeverityCritical {
		t.Fatalf("risky summary = %+v", risky)
	}
	if p.Projects[2].Composite != nil {
		t.Fatalf("unscored project has composite %v", *p.Projects[2].Composite)
	}
	if p.RiskCounts[models.RiskCritical] != 1 || p.RiskCounts[models.RiskLow] != 1 {
		t.Fatalf("risk counts = %v", p.RiskCounts)
	}

	s := p.AlertSummary
	if s.TotalAlerts != 2 || s.CriticalAlerts != 1 || s.InfoAlerts != 1 || len(s.TopRules) != 2 {
		t.Fatalf("alert summary = %+v", s)
	}
	if s.TopRules[0].RuleID != "budget_overrun" {
		t.Fatalf("tie on count should order by rule id, got %s first", s.TopRules[0].RuleID)
	}
}

func TestWorkbook(t *testing.T) {
	g := NewReportGenerator(seed(t))
	p, err := g.Generate(context.Background(), now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	f, err := Workbook(p)
	if err != nil {
		t.Fatalf("workbook: %v", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	wb, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer wb.Close()

	if v, _ := wb.GetCellValue(projectsSheet, "A1"); v != "Project" {
		t.Fatalf("A1 = %q", v)
	}
	if v, _ := wb.GetCellValue(projectsSheet, "A2"); v != "risky" {
		t.Fatalf("A2 = %q, want risky", v)
	}
	if v, _ := wb.GetCellValue(projectsSheet, "D2"); v != "22.5" {
		t.Fatalf("D2 = %q, want 22.5", v)
	}
	if v, _ := wb.GetCellValue(rulesSheet, "A2"); v != "budget_overrun" {
		t.Fatalf("rules A2 = %q", v)
	}
	rows, err := wb.GetRows(projectsSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 1+len(p.Projects) {
		t.Fatalf("got %d rows, want %d", len(rows), 1+len(p.Projects))
	}
}
