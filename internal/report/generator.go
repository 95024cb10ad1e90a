package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/projectpulse/internal/models"
	"github.com/projectpulse/internal/store"
)

const topRulesLimit = 10

// Source is the part of the store the report reads.
type Source interface {
	ListProjectIDs(ctx context.Context, states ...models.ProjectState) ([]string, error)
	GetProjectSnapshot(ctx context.Context, projectID string) (*models.ProjectSnapshot, error)
	LatestScore(ctx context.Context, projectID string) (*models.ScoreSnapshot, error)
	ListOpenAlerts(ctx context.Context, projectID string) ([]models.Alert, error)
}

type ReportGenerator struct {
	source Source
}

type Portfolio struct {
	GeneratedAt  time.Time                `json:"generated_at"`
	Projects     []ProjectSummary         `json:"projects"`
	RiskCounts   map[models.RiskLevel]int `json:"risk_counts"`
	AlertSummary AlertSummary             `json:"alert_summary"`
}

// ProjectSummary has a nil Composite for projects never evaluated.
type ProjectSummary struct {
	ProjectID       string              `json:"project_id"`
	Title           string              `json:"title"`
	State           models.ProjectState `json:"state"`
	Composite       *float64            `json:"composite"`
	RiskLevel       models.RiskLevel    `json:"risk_level,omitempty"`
	ModelVersion    string              `json:"model_version,omitempty"`
	EvaluatedAt     *time.Time          `json:"evaluated_at,omitempty"`
	OpenAlerts      int                 `json:"open_alerts"`
	HighestSeverity models.Severity     `json:"highest_severity,omitempty"`
}

type AlertSummary struct {
	TotalAlerts    int           `json:"total_alerts"`
	CriticalAlerts int           `json:"critical_alerts"`
	WarningAlerts  int           `json:"warning_alerts"`
	InfoAlerts     int           `json:"info_alerts"`
	TopRules       []RuleSummary `json:"top_rules"`
}

type RuleSummary struct {
	RuleID     string   `json:"rule_id"`
	AlertCount int      `json:"alert_count"`
	TopTargets []string `json:"top_targets"`
}

func NewReportGenerator(source Source) *ReportGenerator {
	return &ReportGenerator{source: source}
}

// Generate summarizes every project in the given states, or all projects
// when none are given. Projects are ordered most at risk first.
func (g *ReportGenerator) Generate(ctx context.Context, now time.Time, states ...models.ProjectState) (*Portfolio, error) {
	ids, err := g.source.ListProjectIDs(ctx, states...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	p := &Portfolio{
		GeneratedAt: now,
		Projects:    make([]ProjectSummary, 0, len(ids)),
		RiskCounts:  make(map[models.RiskLevel]int),
	}
	var alerts []models.Alert
	for _, id := range ids {
		snap, err := g.source.GetProjectSnapshot(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load project %s: %w", id, err)
		}
		summary := ProjectSummary{ProjectID: id, Title: snap.Title, State: snap.State}

		score, err := g.source.LatestScore(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load score for %s: %w", id, err)
		}
		if score != nil {
			composite := score.Composite
			evaluated := score.EvaluatedAt
			summary.Composite = &composite
			summary.RiskLevel = score.RiskLevel
			summary.ModelVersion = score.ModelVersion
			summary.EvaluatedAt = &evaluated
			p.RiskCounts[score.RiskLevel]++
		}

		open, err := g.source.ListOpenAlerts(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load alerts for %s: %w", id, err)
		}
		summary.OpenAlerts = len(open)
		for _, a := range open {
			if a.Severity.Rank() > summary.HighestSeverity.Rank() {
				summary.HighestSeverity = a.Severity
			}
		}
		alerts = append(alerts, open...)
		p.Projects = append(p.Projects, summary)
	}

	sort.SliceStable(p.Projects, func(i, j int) bool {
		a, b := p.Projects[i].Composite, p.Projects[j].Composite
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	p.AlertSummary = processAlerts(alerts)
	return p, nil
}

func processAlerts(alerts []models.Alert) AlertSummary {
	summary := AlertSummary{TopRules: []RuleSummary{}}
	byRule := make(map[string]*RuleSummary)

	for _, a := range alerts {
		summary.TotalAlerts++
		switch a.Severity {
		case models.SeverityCritical:
			summary.CriticalAlerts++
		case models.SeverityWarning:
			summary.WarningAlerts++
		case models.SeverityInfo:
			summary.InfoAlerts++
		}

		rs, ok := byRule[a.RuleID]
		if !ok {
			rs = &RuleSummary{RuleID: a.RuleID}
			byRule[a.RuleID] = rs
		}
		rs.AlertCount++
		if len(rs.TopTargets) < 5 {
			rs.TopTargets = append(rs.TopTargets, a.ProjectID)
		}
	}

	for _, rs := range byRule {
		summary.TopRules = append(summary.TopRules, *rs)
	}
	sort.Slice(summary.TopRules, func(i, j int) bool {
		if summary.TopRules[i].AlertCount != summary.TopRules[j].AlertCount {
			return summary.TopRules[i].AlertCount > summary.TopRules[j].AlertCount
		}
		return summary.TopRules[i].RuleID < summary.TopRules[j].RuleID
	})
	if len(summary.TopRules) > topRulesLimit {
		summary.TopRules = summary.TopRules[:topRulesLimit]
	}
	return summary
}

const (
	projectsSheet = "Portfolio"
	rulesSheet    = "Alert rules"
)

// Workbook renders the portfolio as an XLSX file with one sheet of projects
// and one of alert counts per rule.
func Workbook(p *Portfolio) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", projectsSheet); err != nil {
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E2E8F0"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, err
	}

	headers := []interface{}{"Project", "Title", "State", "Score", "Risk", "Model", "Evaluated at", "Open alerts", "Highest severity"}
	if err := f.SetSheetRow(projectsSheet, "A1", &headers); err != nil {
		return nil, err
	}
	for i, s := range p.Projects {
		row := []interface{}{s.ProjectID, s.Title, string(s.State), "", string(s.RiskLevel), s.ModelVersion, "", s.OpenAlerts, string(s.HighestSeverity)}
		if s.Composite != nil {
			row[3] = *s.Composite
		}
		if s.EvaluatedAt != nil {
			row[6] = s.EvaluatedAt.UTC().Format(time.RFC3339)
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(projectsSheet, cell, &row); err != nil {
			return nil, err
		}
	}
	f.SetRowStyle(projectsSheet, 1, 1, headerStyle)
	f.SetColWidth(projectsSheet, "A", "A", 20)
	f.SetColWidth(projectsSheet, "B", "B", 40)
	f.SetColWidth(projectsSheet, "C", "I", 15)

	if _, err := f.NewSheet(rulesSheet); err != nil {
		return nil, err
	}
	rows := [][]interface{}{
		{"Rule", "Open alerts", "Projects"},
	}
	for _, rs := range p.AlertSummary.TopRules {
		rows = append(rows, []interface{}{rs.RuleID, rs.AlertCount, strings.Join(rs.TopTargets, ", ")})
	}
	rows = append(rows,
		[]interface{}{},
		[]interface{}{"Critical", p.AlertSummary.CriticalAlerts},
		[]interface{}{"Warning", p.AlertSummary.WarningAlerts},
		[]interface{}{"Info", p.AlertSummary.InfoAlerts},
		[]interface{}{"Total", p.AlertSummary.TotalAlerts},
	)
	for i, row := range rows {
		for j, val := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			f.SetCellValue(rulesSheet, cell, val)
		}
	}
	f.SetRowStyle(rulesSheet, 1, 1, headerStyle)
	f.SetColWidth(rulesSheet, "A", "A", 25)
	f.SetColWidth(rulesSheet, "C", "C", 50)

	return f, nil
}
