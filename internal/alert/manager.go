package alert

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/projectpulse/internal/models"
)

var (
	ErrDuplicateOpenAlert = errors.New("more than one open alert for the same project and rule")
	ErrAlertResolved      = errors.New("alert is already resolved")
)

// Changes is the set of lifecycle transitions produced by one cycle. It is
// committed as a unit or not at all.
type Changes struct {
	Upserts []models.Alert
	History []models.AlertHistoryEntry
	Events  []models.AlertEvent
}

func (c *Changes) Empty() bool {
	return len(c.Upserts) == 0 && len(c.History) == 0
}

// openIndex enforces one open alert per (project, rule).
type openIndex map[models.AlertKey]*models.Alert

func newOpenIndex(projectID string, open []models.Alert) (openIndex, error) {
	idx := make(openIndex, len(open))
	for i := range open {
		a := open[i]
		if a.ProjectID != projectID {
			return nil, fmt.Errorf("alert %s belongs to project %s, not %s", a.ID, a.ProjectID, projectID)
		}
		if !a.Status.IsActive() {
			continue
		}
		if _, dup := idx[a.Key()]; dup {
			return nil, fmt.Errorf("%w: project %s rule %s", ErrDuplicateOpenAlert, a.ProjectID, a.RuleID)
		}
		idx[a.Key()] = &a
	}
	return idx, nil
}

// Manager applies rule results to a project's open alerts.
//
//	none -> open -> (escalated) -> resolved -> none
//
// Resolved alerts stay in history and are never reopened; a later firing of
// the same rule opens a new alert. Severity is never lowered in place: an
// alert keeps its peak severity until it resolves.
type Manager struct {
	newID func() string
}

func NewManager() *Manager {
	return &Manager{newID: uuid.NewString}
}

func (m *Manager) Apply(projectID string, open []models.Alert, results []RuleResult, policyVersion string, now time.Time) (*Changes, error) {
	idx, err := newOpenIndex(projectID, open)
	if err != nil {
		return nil, err
	}

	changes := &Changes{}
	handled := make(map[models.AlertKey]bool, len(results))
	ruleNames := make(map[string]string, len(results))

	for _, res := range results {
		key := models.AlertKey{ProjectID: projectID, RuleID: res.Rule.ID}
		ruleNames[res.Rule.ID] = res.Rule.Name
		switch res.Outcome {
		case Skipped:
			handled[key] = true
		case Fired:
			handled[key] = true
			existing, ok := idx[key]
			if !ok {
				a := models.Alert{
					ID:            m.newID(),
					ProjectID:     projectID,
					RuleID:        res.Rule.ID,
					Severity:      res.Severity,
					Status:        models.AlertStatusOpen,
					FirstSeen:     now,
					LastSeen:      now,
					Occurrences:   1,
					PolicyVersion: policyVersion,
				}
				changes.add(a, models.HistoryOpened, res.Rule.Name, now)
				continue
			}
			a := *existing
			a.LastSeen = now
			a.Occurrences++
			a.PolicyVersion = policyVersion
			if res.Severity.Rank() > a.Severity.Rank() {
				a.Severity = res.Severity
				a.Status = models.AlertStatusOpen
				changes.add(a, models.HistoryEscalated, res.Rule.Name, now)
				continue
			}
			changes.Upserts = append(changes.Upserts, a)
		}
	}

	for key, existing := range idx {
		if handled[key] {
			continue
		}
		a := *existing
		resolvedAt := now
		a.Status = models.AlertStatusResolved
		a.ResolvedAt = &resolvedAt
		changes.add(a, models.HistoryResolved, ruleNames[key.RuleID], now)
	}

	sort.Slice(changes.Upserts, func(i, j int) bool { return changes.Upserts[i].RuleID < changes.Upserts[j].RuleID })
	sort.Slice(changes.Events, func(i, j int) bool { return changes.Events[i].RuleID < changes.Events[j].RuleID })
	return changes, nil
}

func (c *Changes) add(a models.Alert, kind models.HistoryKind, ruleName string, now time.Time) {
	c.Upserts = append(c.Upserts, a)
	c.History = append(c.History, models.AlertHistoryEntry{
		AlertID:  a.ID,
		Kind:     kind,
		Severity: a.Severity,
		At:       now,
	})
	c.Events = append(c.Events, models.AlertEvent{
		AlertID:   a.ID,
		ProjectID: a.ProjectID,
		RuleID:    a.RuleID,
		RuleName:  ruleName,
		Severity:  a.Severity,
		Status:    a.Status,
		Kind:      kind,
		At:        now,
	})
}

// Acknowledge marks an open alert as acknowledged. Acknowledging twice is a
// no-op and returns a nil history entry.
func (m *Manager) Acknowledge(a models.Alert, actor string, now time.Time) (models.Alert, *models.AlertHistoryEntry, error) {
	switch a.Status {
	case models.AlertStatusResolved:
		return a, nil, fmt.Errorf("%w: %s", ErrAlertResolved, a.ID)
	case models.AlertStatusAcknowledged:
		return a, nil, nil
	}
	at := now
	a.Status = models.AlertStatusAcknowledged
	a.AcknowledgedBy = actor
	a.AcknowledgedAt = &at
	return a, &models.AlertHistoryEntry{
		AlertID:  a.ID,
		Kind:     models.HistoryAcknowledged,
		Severity: a.Severity,
		Actor:    actor,
		At:       now,
	}, nil
}
