// Package scheduler decides when projects are evaluated. It runs a periodic
// sweep over active projects and accepts on-demand triggers, bounded by a
// fixed worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/projectpulse/internal/engine"
	"github.com/projectpulse/internal/metrics"
	"github.com/projectpulse/internal/models"
)

const (
	defaultWorkers         = 4
	defaultInterval        = 15 * time.Minute
	defaultEvalTimeout     = 30 * time.Second
	defaultHandleRetention = 1024
)

var ErrUnknownHandle = errors.New("unknown evaluation handle")

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type Trigger string

const (
	TriggerPeriodic Trigger = "periodic"
	TriggerOnDemand Trigger = "on_demand"
)

// Handle tracks one requested evaluation.
type Handle struct {
	ID        string    `json:"handle"`
	ProjectID string    `json:"project_id"`
	Trigger   Trigger   `json:"trigger"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Evaluator interface {
	Evaluate(ctx context.Context, projectID string) (*engine.Result, error)
}

type ProjectLister interface {
	ListProjectIDs(ctx context.Context, states ...models.ProjectState) ([]string, error)
}

type Config struct {
	Interval          time.Duration
	Workers           int
	EvaluationTimeout time.Duration
	States            []models.ProjectState
	// HandleRetention caps how many finished handles stay queryable.
	HandleRetention int
}

// run is the in-flight evaluation of one project. next is the single
// periodic rerun queued behind it.
type run struct {
	handle *Handle
	next   *Handle
}

type Scheduler struct {
	evaluator Evaluator
	projects  ProjectLister
	cfg       Config
	sem       *semaphore.Weighted
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[string]*run
	handles  map[string]*Handle
	finished []string

	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	now func() time.Time
}

func New(evaluator Evaluator, projects ProjectLister, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = defaultEvalTimeout
	}
	if cfg.HandleRetention < 1 {
		cfg.HandleRetention = defaultHandleRetention
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		evaluator: evaluator,
		projects:  projects,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.Workers)),
		logger:    logger.Named("scheduler"),
		inFlight:  make(map[string]*run),
		handles:   make(map[string]*Handle),
		ctx:       ctx,
		cancel:    cancel,
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
}

// Start runs one sweep immediately and then one per interval until Stop is
// called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.sweep(ctx)
		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			}
		}
	}()
	s.logger.Info("Scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("workers", s.cfg.Workers),
	)
}

// Stop ends the periodic sweep, cancels running evaluations and waits for
// them to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.cancel()
	})
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) sweep(ctx context.Context) {
	ids, err := s.projects.ListProjectIDs(ctx, s.cfg.States...)
	if err != nil {
		s.logger.Error("Error listing projects for evaluation", zap.Error(err))
		return
	}
	for _, id := range ids {
		s.TriggerPeriodic(id)
	}
	s.logger.Debug("Periodic sweep queued", zap.Int("projects", len(ids)))
}

// TriggerPeriodic queues an evaluation. While one is in flight for the
// project, repeated calls coalesce into a single rerun and share its handle.
func (s *Scheduler) TriggerPeriodic(projectID string) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.inFlight[projectID]; ok {
		if r.next == nil {
			r.next = s.newHandleLocked(projectID, TriggerPeriodic)
		}
		return *r.next
	}
	h := s.newHandleLocked(projectID, TriggerPeriodic)
	s.launchLocked(projectID, h)
	return *h
}

// TriggerNow starts an evaluation for one project, or returns
// engine.ErrConcurrentEvaluation if one is already in flight.
func (s *Scheduler) TriggerNow(projectID string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[projectID]; ok {
		return Handle{}, fmt.Errorf("%w: %s", engine.ErrConcurrentEvaluation, projectID)
	}
	h := s.newHandleLocked(projectID, TriggerOnDemand)
	s.launchLocked(projectID, h)
	return *h, nil
}

func (s *Scheduler) Status(handleID string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[handleID]
	if !ok {
		return Handle{}, ErrUnknownHandle
	}
	return *h, nil
}

func (s *Scheduler) newHandleLocked(projectID string, trigger Trigger) *Handle {
	now := s.now()
	h := &Handle{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Trigger:   trigger,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.handles[h.ID] = h
	return h
}

func (s *Scheduler) launchLocked(projectID string, h *Handle) {
	s.inFlight[projectID] = &run{handle: h}
	s.wg.Add(1)
	go s.work(projectID, h)
}

func (s *Scheduler) work(projectID string, h *Handle) {
	defer s.wg.Done()
	for h != nil {
		s.execute(projectID, h)
		h = s.advance(projectID)
	}
}

// advance finishes the current run and returns the queued rerun, if any.
func (s *Scheduler) advance(projectID string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.inFlight[projectID]
	if r == nil || r.next == nil || s.ctx.Err() != nil {
		if r != nil && r.next != nil {
			s.finishLocked(r.next, StatusFailed, "scheduler stopped")
		}
		delete(s.inFlight, projectID)
		return nil
	}
	r.handle, r.next = r.next, nil
	return r.handle
}

func (s *Scheduler) execute(projectID string, h *Handle) {
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		s.mu.Lock()
		s.finishLocked(h, StatusFailed, "scheduler stopped")
		s.mu.Unlock()
		return
	}
	defer s.sem.Release(1)

	s.setStatus(h, StatusRunning, "")
	metrics.SchedulerInFlight.Inc()
	defer metrics.SchedulerInFlight.Dec()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.EvaluationTimeout)
	defer cancel()
	res, err := s.evaluator.Evaluate(ctx, projectID)

	status, msg := statusOf(res, err)
	s.mu.Lock()
	s.finishLocked(h, status, msg)
	s.mu.Unlock()
	if status == StatusPending {
		s.logger.Debug("Evaluation deferred to next cycle",
			zap.String("project_id", projectID),
			zap.String("handle", h.ID),
			zap.Error(err),
		)
	}
}

// statusOf maps a cycle result to a handle status. Skipped cycles stay
// pending until a later cycle evaluates the project.
func statusOf(res *engine.Result, err error) (Status, string) {
	if errors.Is(err, engine.ErrConcurrentEvaluation) {
		return StatusPending, err.Error()
	}
	if res != nil {
		switch res.Outcome {
		case engine.OutcomeSucceeded:
			return StatusSucceeded, ""
		case engine.OutcomeSkipped:
			msg := ""
			if err != nil {
				msg = err.Error()
			}
			return StatusPending, msg
		}
	}
	if err == nil {
		return StatusFailed, "evaluation produced no result"
	}
	return StatusFailed, err.Error()
}

func (s *Scheduler) setStatus(h *Handle, status Status, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.Status = status
	h.Error = msg
	h.UpdatedAt = s.now()
}

// finishLocked records the final status and evicts the oldest finished
// handles beyond the retention limit. Pending is final for a skipped run.
func (s *Scheduler) finishLocked(h *Handle, status Status, msg string) {
	h.Status = status
	h.Error = msg
	h.UpdatedAt = s.now()
	s.finished = append(s.finished, h.ID)
	for len(s.finished) > s.cfg.HandleRetention {
		delete(s.handles, s.finished[0])
		s.finished = s.finished[1:]
	}
}
