package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/projectpulse/internal/models"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailNotifier struct {
	sender    mailSender
	from      string
	receivers []string
}

func NewEmailNotifier(host string, port int, from, password string, receivers []string) *EmailNotifier {
	return &EmailNotifier{
		sender:    gomail.NewDialer(host, port, from, password),
		from:      from,
		receivers: receivers,
	}
}

func (n *EmailNotifier) Name() string { return "email" }

// Notify sends one message per event. gomail has no context support, so a
// send still running when ctx ends is abandoned and reported as ctx's error.
func (n *EmailNotifier) Notify(ctx context.Context, e models.AlertEvent) error {
	if len(n.receivers) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := n.message(e)
	sent := make(chan error, 1)
	go func() { sent <- n.sender.DialAndSend(msg) }()

	select {
	case err := <-sent:
		if err != nil {
			return fmt.Errorf("failed to send alert email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("alert email abandoned: %w", ctx.Err())
	}
}

func (n *EmailNotifier) message(e models.AlertEvent) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.receivers...)
	m.SetHeader("Subject", title(e))

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", e.ProjectID)
	fmt.Fprintf(&b, "Rule: %s (%s)\n", e.RuleName, e.RuleID)
	fmt.Fprintf(&b, "Severity: %s\n", e.Severity)
	fmt.Fprintf(&b, "Status: %s\n", e.Status)
	fmt.Fprintf(&b, "Time: %s\n", e.At.Format(time.RFC3339))
	if e.Recommendation != nil {
		fmt.Fprintf(&b, "\n%s\n", e.Recommendation.Text)
	}
	m.SetBody("text/plain", b.String())
	return m
}
