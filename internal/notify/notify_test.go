package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/projectpulse/internal/models"
)

var at = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func event(sev models.Severity) models.AlertEvent {
	return models.AlertEvent{
		AlertID:        "a1",
		ProjectID:      "p1",
		RuleID:         "budget_overrun",
		RuleName:       "Budget deviation",
		Severity:       sev,
		Status:         models.AlertStatusOpen,
		Kind:           models.HistoryOpened,
		Recommendation: &models.Recommendation{Key: "budget_overrun", Text: "Review allocations."},
		At:             at,
	}
}

type recordingSink struct {
	name   string
	err    error
	events []models.AlertEvent
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Notify(ctx context.Context, e models.AlertEvent) error {
	r.events = append(r.events, e)
	return r.err
}

func TestDispatcherFiltersBySeverityAndSurvivesFailures(t *testing.T) {
	failing := &recordingSink{name: "failing", err: errors.New("boom")}
	ok := &recordingSink{name: "ok"}
	d := NewDispatcher(zap.NewNop(), models.SeverityWarning, failing, ok)

	d.Dispatch(context.Background(), []models.AlertEvent{
		event(models.SeverityInfo),
		event(models.SeverityWarning),
		event(models.SeverityCritical),
	})

	if len(ok.events) != 2 || len(failing.events) != 2 {
		t.Fatalf("delivered ok=%d failing=%d, want 2 each", len(ok.events), len(failing.events))
	}
	if ok.events[0].Severity != models.SeverityWarning {
		t.Fatalf("first delivered severity = %s", ok.events[0].Severity)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got models.AlertEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(srv.URL, time.Second)
	if err := w.Notify(context.Background(), event(models.SeverityCritical)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.AlertID != "a1" || got.Recommendation == nil {
		t.Fatalf("received %+v", got)
	}
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), event(models.SeverityWarning)); err == nil {
		t.Fatalf("expected error on 502")
	}
}

type fakeSlack struct {
	channel string
	calls   int
}

func (f *fakeSlack) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.channel = channelID
	f.calls++
	return channelID, "1", nil
}

func TestSlackNotifier(t *testing.T) {
	fake := &fakeSlack{}
	s := &SlackNotifier{client: fake, channel: "#alerts"}
	if err := s.Notify(context.Background(), event(models.SeverityCritical)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if fake.calls != 1 || fake.channel != "#alerts" {
		t.Fatalf("calls = %d channel = %q", fake.calls, fake.channel)
	}

	a := slackAttachment(event(models.SeverityCritical))
	if a.Color != "#ff0000" || a.Text != "Review allocations." || len(a.Fields) != 4 {
		t.Fatalf("attachment = %+v", a)
	}
}

type fakeMailer struct {
	sent []*gomail.Message
}

func (f *fakeMailer) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return nil
}

func TestEmailNotifier(t *testing.T) {
	fake := &fakeMailer{}
	n := &EmailNotifier{sender: fake, from: "pulse@example.org", receivers: []string{"pi@example.org"}}
	if err := n.Notify(context.Background(), event(models.SeverityWarning)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("sent %d messages", len(fake.sent))
	}
	subject := fake.sent[0].GetHeader("Subject")
	if len(subject) != 1 || !strings.Contains(subject[0], "Budget deviation") {
		t.Fatalf("subject = %v", subject)
	}

	n.receivers = nil
	if err := n.Notify(context.Background(), event(models.SeverityWarning)); err != nil || len(fake.sent) != 1 {
		t.Fatalf("notifier without receivers sent mail")
	}
}

type stuckMailer struct {
	release chan struct{}
}

func (s *stuckMailer) DialAndSend(m ...*gomail.Message) error {
	<-s.release
	return nil
}

func TestEmailNotifierGivesUpAtDeadline(t *testing.T) {
	stuck := &stuckMailer{release: make(chan struct{})}
	defer close(stuck.release)
	n := &EmailNotifier{sender: stuck, from: "pulse@example.org", receivers: []string{"pi@example.org"}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := n.Notify(ctx, event(models.SeverityCritical))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("notify took %v", took)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaNotifierKeysByProject(t *testing.T) {
	fake := &fakeWriter{}
	k := &KafkaNotifier{writer: fake}
	if err := k.Notify(context.Background(), event(models.SeverityCritical)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(fake.msgs) != 1 || string(fake.msgs[0].Key) != "p1" {
		t.Fatalf("messages = %+v", fake.msgs)
	}
	if !fake.msgs[0].Time.Equal(at) {
		t.Fatalf("message time = %v", fake.msgs[0].Time)
	}
}

func TestRoutingKey(t *testing.T) {
	if got := routingKey("pulse.alert", event(models.SeverityCritical)); got != "pulse.alert.critical" {
		t.Fatalf("routing key = %q", got)
	}
}
