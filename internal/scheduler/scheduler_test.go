package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/projectpulse/internal/engine"
	"github.com/projectpulse/internal/extractor"
	"github.com/projectpulse/internal/models"
)

type fakeEvaluator struct {
	mu        sync.Mutex
	calls     map[string]int
	active    int
	maxActive int
	started   chan string
	gate      chan struct{}
	outcome   func(projectID string) (*engine.Result, error)
}

func newFakeEvaluator() *fakeEvaluator {
	return &fakeEvaluator{calls: make(map[string]int), started: make(chan string, 64)}
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, projectID string) (*engine.Result, error) {
	f.mu.Lock()
	f.calls[projectID]++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	f.started <- projectID
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return &engine.Result{ProjectID: projectID, Outcome: engine.OutcomeAbandoned}, ctx.Err()
		}
	}
	if f.outcome != nil {
		return f.outcome(projectID)
	}
	return &engine.Result{ProjectID: projectID, Outcome: engine.OutcomeSucceeded}, nil
}

func (f *fakeEvaluator) callCount(projectID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[projectID]
}

type staticLister []string

func (l staticLister) ListProjectIDs(ctx context.Context, states ...models.ProjectState) ([]string, error) {
	return l, nil
}

func newTestScheduler(t *testing.T, ev Evaluator, cfg Config) *Scheduler {
	t.Helper()
	s := New(ev, staticLister(nil), cfg, zap.NewNop())
	t.Cleanup(s.Stop)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitStatus(t *testing.T, s *Scheduler, id string, want Status) {
	t.Helper()
	waitFor(t, fmt.Sprintf("handle %s to be %s", id, want), func() bool {
		h, err := s.Status(id)
		return err == nil && h.Status == want
	})
}

func TestTriggerNowSucceeds(t *testing.T) {
	ev := newFakeEvaluator()
	s := newTestScheduler(t, ev, Config{})

	h, err := s.TriggerNow("p1")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if h.ID == "" || h.Trigger != TriggerOnDemand {
		t.Fatalf("handle = %+v", h)
	}
	waitStatus(t, s, h.ID, StatusSucceeded)
}

func TestTriggerNowWhileInFlight(t *testing.T) {
	ev := newFakeEvaluator()
	ev.gate = make(chan struct{})
	s := newTestScheduler(t, ev, Config{})

	first, err := s.TriggerNow("p1")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	<-ev.started
	if _, err := s.TriggerNow("p1"); !errors.Is(err, engine.ErrConcurrentEvaluation) {
		t.Fatalf("err = %v, want ErrConcurrentEvaluation", err)
	}
	if _, err := s.TriggerNow("p2"); err != nil {
		t.Fatalf("other project rejected: %v", err)
	}
	if h, _ := s.Status(first.ID); h.Status != StatusRunning {
		t.Fatalf("status = %s, want running", h.Status)
	}
	close(ev.gate)
	waitStatus(t, s, first.ID, StatusSucceeded)
}

func TestPeriodicTriggersCoalesce(t *testing.T) {
	ev := newFakeEvaluator()
	ev.gate = make(chan struct{})
	s := newTestScheduler(t, ev, Config{})

	first := s.TriggerPeriodic("p1")
	<-ev.started
	second := s.TriggerPeriodic("p1")
	third := s.TriggerPeriodic("p1")
	if second.ID == first.ID || second.ID != third.ID {
		t.Fatalf("handles: first=%s second=%s third=%s", first.ID, second.ID, third.ID)
	}
	if second.Status != StatusPending {
		t.Fatalf("queued handle status = %s", second.Status)
	}

	close(ev.gate)
	waitStatus(t, s, first.ID, StatusSucceeded)
	waitStatus(t, s, second.ID, StatusSucceeded)
	if n := ev.callCount("p1"); n != 2 {
		t.Fatalf("evaluations = %d, want 2", n)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		res  *engine.Result
		err  error
		want Status
	}{
		{"succeeded", &engine.Result{Outcome: engine.OutcomeSucceeded}, nil, StatusSucceeded},
		{"skipped", &engine.Result{Outcome: engine.OutcomeSkipped}, extractor.ErrIncompleteSnapshot, StatusPending},
		{"failed", &engine.Result{Outcome: engine.OutcomeFailed}, errors.New("boom"), StatusFailed},
		{"abandoned", &engine.Result{Outcome: engine.OutcomeAbandoned}, context.DeadlineExceeded, StatusFailed},
		{"no result", nil, errors.New("load policy"), StatusFailed},
		{"engine busy", nil, engine.ErrConcurrentEvaluation, StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := statusOf(tt.res, tt.err); got != tt.want {
				t.Errorf("statusOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSkippedEvaluationStaysPending(t *testing.T) {
	ev := newFakeEvaluator()
	ev.outcome = func(id string) (*engine.Result, error) {
		return &engine.Result{ProjectID: id, Outcome: engine.OutcomeSkipped}, extractor.ErrIncompleteSnapshot
	}
	s := newTestScheduler(t, ev, Config{})

	h, err := s.TriggerNow("p1")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	<-ev.started
	waitFor(t, "slot release", func() bool {
		_, err := s.TriggerNow("p1")
		return err == nil
	})
	got, _ := s.Status(h.ID)
	if got.Status != StatusPending || got.Error == "" {
		t.Fatalf("handle = %+v, want pending with reason", got)
	}
}

func TestWorkerPoolBound(t *testing.T) {
	ev := newFakeEvaluator()
	ev.gate = make(chan struct{})
	s := newTestScheduler(t, ev, Config{Workers: 2})

	var handles []Handle
	for i := 0; i < 5; i++ {
		h, err := s.TriggerNow(fmt.Sprintf("p%d", i))
		if err != nil {
			t.Fatalf("trigger: %v", err)
		}
		handles = append(handles, h)
	}
	<-ev.started
	<-ev.started
	close(ev.gate)
	for _, h := range handles {
		waitStatus(t, s, h.ID, StatusSucceeded)
	}
	if ev.maxActive > 2 {
		t.Fatalf("max concurrent evaluations = %d, want <= 2", ev.maxActive)
	}
}

func TestEvaluationTimeout(t *testing.T) {
	ev := newFakeEvaluator()
	ev.gate = make(chan struct{})
	s := newTestScheduler(t, ev, Config{EvaluationTimeout: 20 * time.Millisecond})

	h, err := s.TriggerNow("p1")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	waitStatus(t, s, h.ID, StatusFailed)
}

func TestStartSweepsProjects(t *testing.T) {
	ev := newFakeEvaluator()
	s := New(ev, staticLister{"a", "b", "c"}, Config{Interval: time.Hour}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	waitFor(t, "initial sweep", func() bool {
		return ev.callCount("a") == 1 && ev.callCount("b") == 1 && ev.callCount("c") == 1
	})
	s.Stop()
}

func TestUnknownHandle(t *testing.T) {
	s := newTestScheduler(t, newFakeEvaluator(), Config{})
	if _, err := s.Status("nope"); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("err = %v, want ErrUnknownHandle", err)
	}
}

func TestHandleRetention(t *testing.T) {
	ev := newFakeEvaluator()
	s := newTestScheduler(t, ev, Config{HandleRetention: 2})

	var ids []string
	for i := 0; i < 3; i++ {
		h, err := s.TriggerNow("p1")
		if err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
		waitStatus(t, s, h.ID, StatusSucceeded)
		waitFor(t, "slot release", func() bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			_, busy := s.inFlight["p1"]
			return !busy
		})
		ids = append(ids, h.ID)
	}
	if _, err := s.Status(ids[0]); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("oldest handle still retained")
	}
	if _, err := s.Status(ids[2]); err != nil {
		t.Fatalf("newest handle evicted: %v", err)
	}
}
