package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/projectpulse/internal/models"
)

type projectRecord struct {
	ID            string `gorm:"primaryKey"`
	Title         string
	State         models.ProjectState `gorm:"index"`
	OwnerID       string              `gorm:"index"`
	IsPublic      bool
	StartDate     *time.Time
	EndDate       *time.Time
	BudgetTotal   *float64
	BudgetSpent   float64
	Milestones    datatypes.JSON
	Collaborators datatypes.JSON
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (projectRecord) TableName() string { return "projects" }

type scoreRecord struct {
	ID           uint    `gorm:"primaryKey"`
	ProjectID    string  `gorm:"index:idx_scores_project_time,priority:1;not null"`
	Composite    float64 `gorm:"not null"`
	Breakdown    datatypes.JSON
	Metrics      datatypes.JSON
	ModelVersion string
	RiskLevel    models.RiskLevel
	EvaluatedAt  time.Time `gorm:"index:idx_scores_project_time,priority:2;not null"`
}

func (scoreRecord) TableName() string { return "score_snapshots" }

// alertRecord carries a partial unique index so that the database itself
// refuses a second non-resolved alert for the same project and rule.
type alertRecord struct {
	ID             string             `gorm:"primaryKey"`
	ProjectID      string             `gorm:"not null;uniqueIndex:idx_alerts_open_rule,where:status <> 'resolved'"`
	RuleID         string             `gorm:"not null;uniqueIndex:idx_alerts_open_rule"`
	Severity       models.Severity    `gorm:"not null"`
	Status         models.AlertStatus `gorm:"not null;index"`
	FirstSeen      time.Time
	LastSeen       time.Time `gorm:"index"`
	Occurrences    int
	ResolvedAt     *time.Time
	AcknowledgedBy string
	AcknowledgedAt *time.Time
	PolicyVersion  string
}

func (alertRecord) TableName() string { return "alerts" }

type alertHistoryRecord struct {
	ID       uint               `gorm:"primaryKey"`
	AlertID  string             `gorm:"index;not null"`
	Kind     models.HistoryKind `gorm:"not null"`
	Severity models.Severity
	Actor    string
	At       time.Time
}

func (alertHistoryRecord) TableName() string { return "alert_history" }

type ruleStateRecord struct {
	ProjectID      string `gorm:"primaryKey"`
	RuleID         string `gorm:"primaryKey"`
	ConditionSince *time.Time
}

func (ruleStateRecord) TableName() string { return "rule_states" }

// GormStore is the sqlite-backed Store.
type GormStore struct {
	db        *gorm.DB
	opTimeout time.Duration
	logger    *zap.Logger
}

// OpenSQLite opens (creating if needed) the database file and migrates the
// schema.
func OpenSQLite(path string, opTimeout time.Duration, logger *zap.Logger) (*GormStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	// sqlite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&projectRecord{},
		&scoreRecord{},
		&alertRecord{},
		&alertHistoryRecord{},
		&ruleStateRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Database initialized", zap.String("path", path))
	return &GormStore{db: db, opTimeout: opTimeout, logger: logger}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func (s *GormStore) session(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return s.db.WithContext(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	return s.db.WithContext(ctx), cancel
}

// classify maps driver errors onto the package sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrPersistenceTimeout, err)
	case errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is closed") || strings.Contains(msg, "unable to open database") {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return err
}

func (s *GormStore) findProject(ctx context.Context, projectID string) (*projectRecord, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var rec projectRecord
	if err := db.First(&rec, "id = ?", projectID).Error; err != nil {
		return nil, classify(err)
	}
	return &rec, nil
}

func (s *GormStore) GetProjectSnapshot(ctx context.Context, projectID string) (*models.ProjectSnapshot, error) {
	rec, err := s.findProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return rec.snapshot()
}

func (s *GormStore) ProjectAccess(ctx context.Context, projectID string) (*models.ProjectAccess, error) {
	p, err := s.GetProjectSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return Access(p), nil
}

func (s *GormStore) ListProjectIDs(ctx context.Context, states ...models.ProjectState) ([]string, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	q := db.Model(&projectRecord{}).Order("id")
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	var ids []string
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, classify(err)
	}
	return ids, nil
}

func (s *GormStore) ImportProjects(ctx context.Context, projects []models.ProjectSnapshot) error {
	if len(projects) == 0 {
		return nil
	}
	recs := make([]projectRecord, 0, len(projects))
	for i := range projects {
		rec, err := newProjectRecord(&projects[i])
		if err != nil {
			return err
		}
		recs = append(recs, *rec)
	}
	db, cancel := s.session(ctx)
	defer cancel()
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&recs).Error
	return classify(err)
}

func (s *GormStore) LatestScore(ctx context.Context, projectID string) (*models.ScoreSnapshot, error) {
	history, err := s.ScoreHistory(ctx, projectID, 1)
	if err != nil || len(history) == 0 {
		return nil, err
	}
	return &history[0], nil
}

func (s *GormStore) ScoreHistory(ctx context.Context, projectID string, limit int) ([]models.ScoreSnapshot, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	q := db.Where("project_id = ?", projectID).Order("evaluated_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []scoreRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]models.ScoreSnapshot, 0, len(recs))
	for _, rec := range recs {
		snap, err := rec.snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, nil
}

func (s *GormStore) ListOpenAlerts(ctx context.Context, projectID string) ([]models.Alert, error) {
	return s.ListAlerts(ctx, projectID, FilterOpen)
}

func (s *GormStore) ListAlerts(ctx context.Context, projectID string, filter AlertFilter) ([]models.Alert, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	q := db.Order("last_seen DESC").Order("id")
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}
	switch filter {
	case FilterOpen:
		q = q.Where("status <> ?", models.AlertStatusResolved)
	case FilterResolved:
		q = q.Where("status = ?", models.AlertStatusResolved)
	}
	var recs []alertRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]models.Alert, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.alert())
	}
	return out, nil
}

func (s *GormStore) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var rec alertRecord
	if err := db.First(&rec, "id = ?", alertID).Error; err != nil {
		return nil, classify(err)
	}
	a := rec.alert()
	return &a, nil
}

func (s *GormStore) AlertHistory(ctx context.Context, alertID string) ([]models.AlertHistoryEntry, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var recs []alertHistoryRecord
	if err := db.Where("alert_id = ?", alertID).Order("at").Order("id").Find(&recs).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]models.AlertHistoryEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, models.AlertHistoryEntry{
			AlertID:  rec.AlertID,
			Kind:     rec.Kind,
			Severity: rec.Severity,
			Actor:    rec.Actor,
			At:       rec.At,
		})
	}
	return out, nil
}

func (s *GormStore) ListRuleStates(ctx context.Context, projectID string) ([]models.RuleState, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var recs []ruleStateRecord
	if err := db.Where("project_id = ?", projectID).Order("rule_id").Find(&recs).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]models.RuleState, 0, len(recs))
	for _, rec := range recs {
		out = append(out, models.RuleState{ProjectID: rec.ProjectID, RuleID: rec.RuleID, ConditionSince: rec.ConditionSince})
	}
	return out, nil
}

func (s *GormStore) CommitEvaluation(ctx context.Context, batch EvaluationBatch) error {
	var score *scoreRecord
	if batch.Score != nil {
		rec, err := newScoreRecord(batch.Score)
		if err != nil {
			return err
		}
		score = rec
	}

	db, cancel := s.session(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		if score != nil {
			if err := tx.Create(score).Error; err != nil {
				return fmt.Errorf("insert score: %w", err)
			}
		}
		for _, a := range batch.Alerts {
			if a.ProjectID != batch.ProjectID {
				return fmt.Errorf("alert %s belongs to project %s", a.ID, a.ProjectID)
			}
			rec := newAlertRecord(a)
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(&rec).Error; err != nil {
				return fmt.Errorf("upsert alert %s: %w", a.ID, err)
			}
		}
		if len(batch.History) > 0 {
			recs := make([]alertHistoryRecord, 0, len(batch.History))
			for _, h := range batch.History {
				recs = append(recs, newHistoryRecord(h))
			}
			if err := tx.Create(&recs).Error; err != nil {
				return fmt.Errorf("insert alert history: %w", err)
			}
		}
		if err := tx.Where("project_id = ?", batch.ProjectID).Delete(&ruleStateRecord{}).Error; err != nil {
			return fmt.Errorf("clear rule states: %w", err)
		}
		if len(batch.RuleStates) > 0 {
			recs := make([]ruleStateRecord, 0, len(batch.RuleStates))
			for _, st := range batch.RuleStates {
				recs = append(recs, ruleStateRecord{ProjectID: batch.ProjectID, RuleID: st.RuleID, ConditionSince: utcPtr(st.ConditionSince)})
			}
			if err := tx.Create(&recs).Error; err != nil {
				return fmt.Errorf("insert rule states: %w", err)
			}
		}
		return nil
	})
	return classify(err)
}

func (s *GormStore) AcknowledgeAlert(ctx context.Context, a models.Alert, entry models.AlertHistoryEntry) error {
	db, cancel := s.session(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&alertRecord{}).
			Where("id = ? AND status = ?", a.ID, models.AlertStatusOpen).
			Updates(map[string]interface{}{
				"status":          a.Status,
				"acknowledged_by": a.AcknowledgedBy,
				"acknowledged_at": utcPtr(a.AcknowledgedAt),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		h := newHistoryRecord(entry)
		return tx.Create(&h).Error
	})
	return classify(err)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func newProjectRecord(p *models.ProjectSnapshot) (*projectRecord, error) {
	milestones, err := json.Marshal(p.Milestones)
	if err != nil {
		return nil, fmt.Errorf("encode milestones of %s: %w", p.ID, err)
	}
	collaborators, err := json.Marshal(p.Collaborators)
	if err != nil {
		return nil, fmt.Errorf("encode collaborators of %s: %w", p.ID, err)
	}
	return &projectRecord{
		ID:            p.ID,
		Title:         p.Title,
		State:         p.State,
		OwnerID:       p.OwnerID,
		IsPublic:      p.IsPublic,
		StartDate:     utcPtr(p.StartDate),
		EndDate:       utcPtr(p.EndDate),
		BudgetTotal:   p.BudgetTotal,
		BudgetSpent:   p.BudgetSpent,
		Milestones:    datatypes.JSON(milestones),
		Collaborators: datatypes.JSON(collaborators),
	}, nil
}

func (r *projectRecord) snapshot() (*models.ProjectSnapshot, error) {
	p := &models.ProjectSnapshot{
		ID:          r.ID,
		Title:       r.Title,
		State:       r.State,
		OwnerID:     r.OwnerID,
		IsPublic:    r.IsPublic,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
		BudgetTotal: r.BudgetTotal,
		BudgetSpent: r.BudgetSpent,
	}
	if len(r.Milestones) > 0 {
		if err := json.Unmarshal(r.Milestones, &p.Milestones); err != nil {
			return nil, fmt.Errorf("decode milestones of %s: %w", r.ID, err)
		}
	}
	if len(r.Collaborators) > 0 {
		if err := json.Unmarshal(r.Collaborators, &p.Collaborators); err != nil {
			return nil, fmt.Errorf("decode collaborators of %s: %w", r.ID, err)
		}
	}
	return p, nil
}

func newScoreRecord(s *models.ScoreSnapshot) (*scoreRecord, error) {
	breakdown, err := json.Marshal(s.Breakdown)
	if err != nil {
		return nil, fmt.Errorf("encode breakdown: %w", err)
	}
	metrics, err := json.Marshal(s.Metrics)
	if err != nil {
		return nil, fmt.Errorf("encode metrics: %w", err)
	}
	return &scoreRecord{
		ProjectID:    s.ProjectID,
		Composite:    s.Composite,
		Breakdown:    datatypes.JSON(breakdown),
		Metrics:      datatypes.JSON(metrics),
		ModelVersion: s.ModelVersion,
		RiskLevel:    s.RiskLevel,
		EvaluatedAt:  s.EvaluatedAt.UTC(),
	}, nil
}

func (r scoreRecord) snapshot() (*models.ScoreSnapshot, error) {
	s := &models.ScoreSnapshot{
		ProjectID:    r.ProjectID,
		Composite:    r.Composite,
		ModelVersion: r.ModelVersion,
		RiskLevel:    r.RiskLevel,
		EvaluatedAt:  r.EvaluatedAt,
	}
	if err := json.Unmarshal(r.Breakdown, &s.Breakdown); err != nil {
		return nil, fmt.Errorf("decode breakdown: %w", err)
	}
	if err := json.Unmarshal(r.Metrics, &s.Metrics); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	return s, nil
}

func newAlertRecord(a models.Alert) alertRecord {
	return alertRecord{
		ID:             a.ID,
		ProjectID:      a.ProjectID,
		RuleID:         a.RuleID,
		Severity:       a.Severity,
		Status:         a.Status,
		FirstSeen:      a.FirstSeen.UTC(),
		LastSeen:       a.LastSeen.UTC(),
		Occurrences:    a.Occurrences,
		ResolvedAt:     utcPtr(a.ResolvedAt),
		AcknowledgedBy: a.AcknowledgedBy,
		AcknowledgedAt: utcPtr(a.AcknowledgedAt),
		PolicyVersion:  a.PolicyVersion,
	}
}

func (r alertRecord) alert() models.Alert {
	return models.Alert{
		ID:             r.ID,
		ProjectID:      r.ProjectID,
		RuleID:         r.RuleID,
		Severity:       r.Severity,
		Status:         r.Status,
		FirstSeen:      r.FirstSeen,
		LastSeen:       r.LastSeen,
		Occurrences:    r.Occurrences,
		ResolvedAt:     r.ResolvedAt,
		AcknowledgedBy: r.AcknowledgedBy,
		AcknowledgedAt: r.AcknowledgedAt,
		PolicyVersion:  r.PolicyVersion,
	}
}

func newHistoryRecord(h models.AlertHistoryEntry) alertHistoryRecord {
	return alertHistoryRecord{
		AlertID:  h.AlertID,
		Kind:     h.Kind,
		Severity: h.Severity,
		Actor:    h.Actor,
		At:       h.At.UTC(),
	}
}
