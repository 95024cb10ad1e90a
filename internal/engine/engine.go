// Package engine runs one evaluation cycle for one project: extract
// metrics, score, evaluate rules, update alerts and commit the result
// atomically.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/projectpulse/internal/alert"
	"github.com/projectpulse/internal/cache"
	"github.com/projectpulse/internal/extractor"
	"github.com/projectpulse/internal/metrics"
	"github.com/projectpulse/internal/models"
	"github.com/projectpulse/internal/scoring"
	"github.com/projectpulse/internal/store"
)

var ErrConcurrentEvaluation = errors.New("evaluation already in progress for project")

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeSkipped means the project could not be evaluated this cycle
	// (incomplete data) and will be retried on the next one.
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeAbandoned Outcome = "abandoned"
)

type Result struct {
	ProjectID     string
	Outcome       Outcome
	PolicyVersion string
	Score         *models.ScoreSnapshot
	Changes       *alert.Changes
}

// EventSink receives alert events after a successful commit.
type EventSink interface {
	Dispatch(ctx context.Context, events []models.AlertEvent)
}

type Options struct {
	Extractor extractor.Config
	Retry     RetryPolicy
	Cache     cache.ScoreCache
	Events    EventSink
	// DeliveryTimeout bounds event delivery after a commit.
	DeliveryTimeout time.Duration
}

const defaultDeliveryTimeout = 10 * time.Second

type Engine struct {
	store     store.Store
	policies  alert.PolicySource
	extractor *extractor.Extractor
	evaluator *alert.RuleEvaluator
	manager   *alert.Manager
	cache     cache.ScoreCache
	events    EventSink
	delivery  time.Duration
	retry     RetryPolicy
	logger    *zap.Logger
	audit     *zap.Logger

	// Now is the evaluation clock.
	Now func() time.Time

	slots slots
}

func New(st store.Store, policies alert.PolicySource, logger *zap.Logger, opts Options) *Engine {
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = defaultDeliveryTimeout
	}
	return &Engine{
		store:     st,
		policies:  policies,
		extractor: extractor.New(opts.Extractor),
		evaluator: alert.NewRuleEvaluator(),
		manager:   alert.NewManager(),
		cache:     opts.Cache,
		events:    opts.Events,
		delivery:  opts.DeliveryTimeout,
		retry:     opts.Retry.withDefaults(),
		logger:    logger.Named("engine"),
		audit:     logger.Named("audit"),
		Now:       time.Now,
		slots:     slots{held: make(map[string]chan struct{})},
	}
}

// slots gives each project an exclusive section without holding a lock
// across store calls. Every read-modify-write of a project's alerts runs
// inside its slot. The channel is closed when the holder leaves.
type slots struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func (s *slots) tryEnter(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.held[projectID]; busy {
		return false
	}
	s.held[projectID] = make(chan struct{})
	return true
}

// enter waits for the slot to be free.
func (s *slots) enter(ctx context.Context, projectID string) error {
	for {
		s.mu.Lock()
		released, busy := s.held[projectID]
		if !busy {
			s.held[projectID] = make(chan struct{})
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		select {
		case <-released:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *slots) leave(projectID string) {
	s.mu.Lock()
	if released, ok := s.held[projectID]; ok {
		close(released)
		delete(s.held, projectID)
	}
	s.mu.Unlock()
}

// Evaluate runs one cycle. Skipped cycles return a result with
// OutcomeSkipped and an error wrapping extractor.ErrIncompleteSnapshot or
// scoring.ErrInsufficientMetrics. Nothing is written unless the whole cycle
// commits. Events are delivered after the project's slot is released.
func (e *Engine) Evaluate(ctx context.Context, projectID string) (*Result, error) {
	if !e.slots.tryEnter(projectID) {
		return nil, fmt.Errorf("%w: %s", ErrConcurrentEvaluation, projectID)
	}

	start := time.Now()
	res, err := e.evaluateHeld(ctx, projectID)
	outcome := OutcomeFailed
	if res != nil && res.Outcome != "" {
		outcome = res.Outcome
	}
	if res != nil {
		res.Outcome = outcome
	}
	metrics.RecordEvaluation(string(outcome), time.Since(start))

	log := e.logger.With(zap.String("project_id", projectID), zap.Duration("took", time.Since(start)))
	switch outcome {
	case OutcomeSucceeded:
		log.Info("Evaluation committed",
			zap.String("policy_version", res.PolicyVersion),
			zap.Float64("score", res.Score.Composite),
			zap.String("risk", string(res.Score.RiskLevel)),
			zap.Int("alert_changes", len(res.Changes.Upserts)),
		)
	case OutcomeSkipped:
		log.Warn("Evaluation skipped", zap.Error(err))
	case OutcomeAbandoned:
		log.Warn("Evaluation abandoned before commit", zap.Error(err))
	default:
		log.Error("Evaluation failed", zap.Error(err))
	}
	if outcome == OutcomeSucceeded {
		e.deliver(ctx, res)
	}
	return res, err
}

// evaluateHeld runs the cycle and releases the project's slot.
func (e *Engine) evaluateHeld(ctx context.Context, projectID string) (*Result, error) {
	defer e.slots.leave(projectID)
	return e.evaluate(ctx, projectID)
}

type cycleInput struct {
	snapshot *models.ProjectSnapshot
	open     []models.Alert
	states   map[string]models.RuleState
	previous *models.ScoreSnapshot
}

func (e *Engine) load(ctx context.Context, projectID string) (*cycleInput, error) {
	in := &cycleInput{states: make(map[string]models.RuleState)}
	err := e.withRetry(ctx, "load_snapshot", func(ctx context.Context) error {
		var err error
		in.snapshot, err = e.store.GetProjectSnapshot(ctx, projectID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", projectID, err)
	}
	err = e.withRetry(ctx, "load_alerts", func(ctx context.Context) error {
		var err error
		in.open, err = e.store.ListOpenAlerts(ctx, projectID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load open alerts: %w", err)
	}
	var states []models.RuleState
	err = e.withRetry(ctx, "load_rule_states", func(ctx context.Context) error {
		var err error
		states, err = e.store.ListRuleStates(ctx, projectID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load rule states: %w", err)
	}
	for _, st := range states {
		in.states[st.RuleID] = st
	}
	err = e.withRetry(ctx, "load_score", func(ctx context.Context) error {
		var err error
		in.previous, err = e.store.LatestScore(ctx, projectID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load previous score: %w", err)
	}
	return in, nil
}

func (e *Engine) evaluate(ctx context.Context, projectID string) (*Result, error) {
	policy, err := e.policies.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	now := e.Now()

	in, err := e.load(ctx, projectID)
	if err != nil {
		return nil, err
	}

	res := &Result{ProjectID: projectID, PolicyVersion: policy.Version}
	set, err := e.extractor.Extract(in.snapshot, now)
	if err != nil {
		if errors.Is(err, extractor.ErrIncompleteSnapshot) {
			res.Outcome = OutcomeSkipped
		}
		return res, err
	}
	score, err := policy.Model().Score(projectID, set, now)
	if err != nil {
		if errors.Is(err, scoring.ErrInsufficientMetrics) {
			res.Outcome = OutcomeSkipped
		}
		return res, err
	}

	evaluation := e.evaluator.Evaluate(alert.EvaluationInput{
		ProjectID: projectID,
		Now:       now,
		Rules:     policy.Rules,
		Metrics:   set,
		Score:     score,
		Previous:  in.previous,
		States:    in.states,
	})
	changes, err := e.manager.Apply(projectID, in.open, evaluation.Results, policy.Version, now)
	if err != nil {
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("apply alert lifecycle: %w", err)
	}
	e.decorate(policy, changes, set, score)

	if err := ctx.Err(); err != nil {
		res.Outcome = OutcomeAbandoned
		return res, fmt.Errorf("deadline passed before commit: %w", err)
	}

	batch := store.EvaluationBatch{
		ProjectID:  projectID,
		Score:      score,
		Alerts:     changes.Upserts,
		History:    changes.History,
		RuleStates: evaluation.States,
	}
	if err := e.withRetry(ctx, "commit", func(ctx context.Context) error {
		return e.store.CommitEvaluation(ctx, batch)
	}); err != nil {
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("commit evaluation: %w", err)
	}

	res.Outcome = OutcomeSucceeded
	res.Score = score
	res.Changes = changes
	// Still inside the slot, so cached scores follow commit order.
	e.cache.Set(context.WithoutCancel(ctx), score)
	for _, h := range changes.History {
		metrics.IncrementAlertTransition(string(h.Kind), string(h.Severity))
	}
	return res, nil
}

// decorate fills rule names for alerts of removed rules and renders
// recommendations for opened and escalated alerts.
func (e *Engine) decorate(policy *alert.Policy, changes *alert.Changes, set models.MetricSet, score *models.ScoreSnapshot) {
	rec, err := policy.Recommender()
	if err != nil {
		e.logger.Warn("Recommendation templates unavailable", zap.String("policy_version", policy.Version), zap.Error(err))
	}
	for i := range changes.Events {
		ev := &changes.Events[i]
		rule, ok := policy.Rule(ev.RuleID)
		if ev.RuleName == "" {
			ev.RuleName = ev.RuleID
			if ok {
				ev.RuleName = rule.Name
			}
		}
		if rec == nil || !ok || ev.Kind == models.HistoryResolved {
			continue
		}
		ev.Recommendation = rec.Render(rule.Recommendation, set, score)
	}
}

// deliver hands committed events to the sinks. The cycle deadline does not
// apply once the commit has happened; DeliveryTimeout does.
func (e *Engine) deliver(ctx context.Context, res *Result) {
	if e.events == nil || len(res.Changes.Events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.delivery)
	defer cancel()
	e.events.Dispatch(ctx, res.Changes.Events)
}
