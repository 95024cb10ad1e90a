package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/projectpulse/internal/models"
)

// MemoryStore keeps everything in process. It is used for development runs
// and tests and enforces the same commit rules as the database.
type MemoryStore struct {
	mu         sync.RWMutex
	projects   map[string]models.ProjectSnapshot
	scores     map[string][]models.ScoreSnapshot
	alerts     map[string]models.Alert
	history    map[string][]models.AlertHistoryEntry
	ruleStates map[string][]models.RuleState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:   make(map[string]models.ProjectSnapshot),
		scores:     make(map[string][]models.ScoreSnapshot),
		alerts:     make(map[string]models.Alert),
		history:    make(map[string][]models.AlertHistoryEntry),
		ruleStates: make(map[string][]models.RuleState),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetProjectSnapshot(ctx context.Context, projectID string) (*models.ProjectSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	p.Milestones = append([]models.Milestone(nil), p.Milestones...)
	p.Collaborators = append([]models.Collaborator(nil), p.Collaborators...)
	return &p, nil
}

func (s *MemoryStore) ProjectAccess(ctx context.Context, projectID string) (*models.ProjectAccess, error) {
	p, err := s.GetProjectSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return Access(p), nil
}

func (s *MemoryStore) ListProjectIDs(ctx context.Context, states ...models.ProjectState) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[models.ProjectState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	ids := make([]string, 0, len(s.projects))
	for id, p := range s.projects {
		if len(want) == 0 || want[p.State] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) ImportProjects(ctx context.Context, projects []models.ProjectSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) LatestScore(ctx context.Context, projectID string) (*models.ScoreSnapshot, error) {
	history, _ := s.ScoreHistory(ctx, projectID, 1)
	if len(history) == 0 {
		return nil, nil
	}
	return &history[0], nil
}

func (s *MemoryStore) ScoreHistory(ctx context.Context, projectID string, limit int) ([]models.ScoreSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.scores[projectID]
	n := len(all)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.ScoreSnapshot, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemoryStore) ListOpenAlerts(ctx context.Context, projectID string) ([]models.Alert, error) {
	return s.ListAlerts(ctx, projectID, FilterOpen)
}

func (s *MemoryStore) ListAlerts(ctx context.Context, projectID string, filter AlertFilter) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Alert, 0)
	for _, a := range s.alerts {
		if projectID != "" && a.ProjectID != projectID {
			continue
		}
		if filter.Match(a.Status) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) AlertHistory(ctx context.Context, alertID string) ([]models.AlertHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AlertHistoryEntry(nil), s.history[alertID]...), nil
}

func (s *MemoryStore) ListRuleStates(ctx context.Context, projectID string) ([]models.RuleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.RuleState(nil), s.ruleStates[projectID]...), nil
}

func (s *MemoryStore) CommitEvaluation(ctx context.Context, batch EvaluationBatch) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceTimeout, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check the whole batch before touching anything.
	next := make(map[string]models.Alert, len(batch.Alerts))
	for _, a := range batch.Alerts {
		if a.ProjectID != batch.ProjectID {
			return fmt.Errorf("alert %s belongs to project %s", a.ID, a.ProjectID)
		}
		next[a.ID] = a
	}
	active := make(map[models.AlertKey]string)
	for id, a := range s.alerts {
		if n, ok := next[id]; ok {
			a = n
		}
		if a.Status.IsActive() {
			active[a.Key()] = id
		}
	}
	for id, a := range next {
		if !a.Status.IsActive() {
			continue
		}
		if other, ok := active[a.Key()]; ok && other != id {
			return fmt.Errorf("upsert alert %s: open alert %s already exists for rule %s", id, other, a.RuleID)
		}
		active[a.Key()] = id
	}

	if batch.Score != nil {
		s.scores[batch.ProjectID] = append(s.scores[batch.ProjectID], *batch.Score)
	}
	for id, a := range next {
		s.alerts[id] = a
	}
	for _, h := range batch.History {
		s.history[h.AlertID] = append(s.history[h.AlertID], h)
	}
	s.ruleStates[batch.ProjectID] = append([]models.RuleState(nil), batch.RuleStates...)
	return nil
}

func (s *MemoryStore) AcknowledgeAlert(ctx context.Context, a models.Alert, entry models.AlertHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.alerts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != models.AlertStatusOpen {
		return ErrConflict
	}
	cur.Status = a.Status
	cur.AcknowledgedBy = a.AcknowledgedBy
	cur.AcknowledgedAt = a.AcknowledgedAt
	s.alerts[a.ID] = cur
	s.history[a.ID] = append(s.history[a.ID], entry)
	return nil
}
