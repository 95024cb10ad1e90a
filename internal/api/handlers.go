package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/projectpulse/internal/alert"
	"github.com/projectpulse/internal/auth"
	"github.com/projectpulse/internal/models"
	"github.com/projectpulse/internal/report"
	"github.com/projectpulse/internal/store"
	"github.com/projectpulse/internal/visibility"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	maxPolicyBytes      = 1 << 20
)

// projectAccess returns nil access for an unknown project so the visibility
// filter denies it like any other project the caller cannot see.
func (s *Server) projectAccess(c *gin.Context, projectID string) (*models.ProjectAccess, error) {
	access, err := s.store.ProjectAccess(c.Request.Context(), projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return access, err
}

func (s *Server) triggerEvaluation(c *gin.Context) {
	projectID := c.Param("projectId")
	access, err := s.projectAccess(c, projectID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if access == nil || !visibility.CanAct(auth.CallerFrom(c), access) {
		s.fail(c, store.ErrNotFound)
		return
	}

	h, err := s.scheduler.TriggerNow(projectID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"handle": h.ID, "status": h.Status})
}

func (s *Server) getEvaluation(c *gin.Context) {
	h, err := s.scheduler.Status(c.Param("handle"))
	if err != nil {
		s.fail(c, err)
		return
	}
	access, err := s.projectAccess(c, h.ProjectID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !visibility.CanAct(auth.CallerFrom(c), access) {
		s.fail(c, store.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) getScore(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := c.Param("projectId")
	access, err := s.projectAccess(c, projectID)
	if err != nil {
		s.fail(c, err)
		return
	}
	caller := auth.CallerFrom(c)
	if visibility.Level(caller, access) == visibility.DetailNone {
		c.JSON(http.StatusOK, gin.H{"score": nil})
		return
	}

	// Only the engine writes the cache, in commit order; a miss reads
	// through to the store.
	score, ok := s.cache.Get(ctx, projectID)
	if !ok {
		score, err = s.store.LatestScore(ctx, projectID)
		if err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"score": s.filter.Score(caller, access, score)})
}

func (s *Server) getScoreHistory(c *gin.Context) {
	projectID := c.Param("projectId")
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = l
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	access, err := s.projectAccess(c, projectID)
	if err != nil {
		s.fail(c, err)
		return
	}
	caller := auth.CallerFrom(c)
	if visibility.Level(caller, access) == visibility.DetailNone {
		c.JSON(http.StatusOK, gin.H{"history": []visibility.ScoreView{}})
		return
	}
	history, err := s.store.ScoreHistory(c.Request.Context(), projectID, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": s.filter.History(caller, access, history)})
}

func (s *Server) listAlerts(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := c.Param("projectId")
	filter, err := store.ParseAlertFilter(c.Query("status"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	access, err := s.projectAccess(c, projectID)
	if err != nil {
		s.fail(c, err)
		return
	}
	caller := auth.CallerFrom(c)
	if visibility.Level(caller, access) != visibility.DetailFull {
		c.JSON(http.StatusOK, gin.H{"alerts": []models.AlertView{}})
		return
	}

	alerts, err := s.store.ListAlerts(ctx, projectID, filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	views, err := s.alertViews(c, projectID, alerts)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": s.filter.Alerts(caller, access, views)})
}

// alertViews attaches rule names and, for alerts still active, a
// recommendation rendered from the latest metrics.
func (s *Server) alertViews(c *gin.Context, projectID string, alerts []models.Alert) ([]models.AlertView, error) {
	ctx := c.Request.Context()
	policy, err := s.policies.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	rec, err := policy.Recommender()
	if err != nil {
		s.logger.Warn("Recommendation templates unavailable", zap.String("policy_version", policy.Version), zap.Error(err))
		rec = nil
	}
	var latest *models.ScoreSnapshot
	for _, a := range alerts {
		if a.Status.IsActive() {
			if latest, err = s.store.LatestScore(ctx, projectID); err != nil {
				return nil, err
			}
			break
		}
	}

	views := make([]models.AlertView, 0, len(alerts))
	for _, a := range alerts {
		v := models.AlertView{Alert: a, RuleName: a.RuleID}
		rule, ok := policy.Rule(a.RuleID)
		if ok {
			v.RuleName = rule.Name
		}
		if ok && rec != nil && latest != nil && a.Status.IsActive() {
			v.Recommendation = rec.Render(rule.Recommendation, latest.Metrics, latest)
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
	a, err := s.engine.Acknowledge(c.Request.Context(), auth.CallerFrom(c), c.Param("alertId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) alertSummary(c *gin.Context) {
	filter, err := store.ParseAlertFilter(c.DefaultQuery("status", string(store.FilterAll)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	alerts, err := s.store.ListAlerts(c.Request.Context(), "", filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	summary := models.AlertSummary{
		BySeverity: make(map[models.Severity]int),
		ByStatus:   make(map[models.AlertStatus]int),
	}
	for _, a := range alerts {
		summary.Total++
		summary.BySeverity[a.Severity]++
		summary.ByStatus[a.Status]++
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) getPolicy(c *gin.Context) {
	policy, err := s.policies.Current(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

func (s *Server) validatePolicy(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPolicyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	policy, err := alert.ParsePolicy(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "version": policy.Version, "rules": len(policy.Rules)})
}

func (s *Server) reloadPolicy(c *gin.Context) {
	src, ok := s.policies.(*alert.FileSource)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "built-in policy in use; nothing to reload"})
		return
	}
	policy, err := src.Reload()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	s.logger.Named("audit").Info("Policy reloaded",
		zap.String("version", policy.Version),
		zap.String("actor", auth.CallerFrom(c).UserID),
	)
	c.JSON(http.StatusOK, gin.H{"version": policy.Version, "rules": len(policy.Rules)})
}

func (s *Server) portfolioReport(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "xlsx" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json or xlsx"})
		return
	}
	now := s.now()
	portfolio, err := s.reports.Generate(c.Request.Context(), now, s.reportStates...)
	if err != nil {
		s.fail(c, err)
		return
	}
	if format == "json" {
		c.JSON(http.StatusOK, portfolio)
		return
	}

	file, err := report.Workbook(portfolio)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer file.Close()
	filename := fmt.Sprintf("portfolio-%s.xlsx", now.UTC().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := file.Write(c.Writer); err != nil {
		s.logger.Error("Failed to write portfolio workbook", zap.Error(err))
	}
}

func (s *Server) importProjects(c *gin.Context) {
	var projects []models.ProjectSnapshot
	if err := c.ShouldBindJSON(&projects); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, p := range projects {
		if p.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "project id is required"})
			return
		}
		if !p.State.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("project %s: invalid state %q", p.ID, p.State)})
			return
		}
	}
	if err := s.store.ImportProjects(c.Request.Context(), projects); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Named("audit").Info("Projects imported",
		zap.Int("count", len(projects)),
		zap.String("actor", auth.CallerFrom(c).UserID),
	)
	c.JSON(http.StatusOK, gin.H{"imported": len(projects)})
}
