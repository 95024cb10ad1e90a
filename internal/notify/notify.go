// Package notify hands alert events to delivery transports. Delivery is
// best effort: a failing sink is logged and counted, never propagated to
// the evaluation cycle.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/projectpulse/internal/metrics"
	"github.com/projectpulse/internal/models"
)

type Notifier interface {
	Name() string
	Notify(ctx context.Context, event models.AlertEvent) error
}

// Dispatcher fans events out to every configured sink.
type Dispatcher struct {
	sinks       []Notifier
	minSeverity models.Severity
	logger      *zap.Logger
}

// NewDispatcher drops events below minSeverity. Resolution events carry
// the alert's peak severity, so they follow the same path as the opening.
func NewDispatcher(logger *zap.Logger, minSeverity models.Severity, sinks ...Notifier) *Dispatcher {
	return &Dispatcher{sinks: sinks, minSeverity: minSeverity, logger: logger}
}

func (d *Dispatcher) Sinks() int {
	return len(d.sinks)
}

func (d *Dispatcher) wants(e models.AlertEvent) bool {
	return e.Severity.Rank() >= d.minSeverity.Rank()
}

func (d *Dispatcher) Dispatch(ctx context.Context, events []models.AlertEvent) {
	for _, e := range events {
		if !d.wants(e) {
			continue
		}
		for _, sink := range d.sinks {
			if err := sink.Notify(ctx, e); err != nil {
				metrics.IncrementNotification(sink.Name(), "failed")
				d.logger.Error("Failed to deliver alert event",
					zap.String("sink", sink.Name()),
					zap.String("alert_id", e.AlertID),
					zap.String("project_id", e.ProjectID),
					zap.String("kind", string(e.Kind)),
					zap.Error(err),
				)
				continue
			}
			metrics.IncrementNotification(sink.Name(), "sent")
		}
	}
}

// Close releases sinks that hold connections.
func (d *Dispatcher) Close() error {
	var firstErr error
	for _, sink := range d.sinks {
		if c, ok := sink.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close %s: %w", sink.Name(), err)
			}
		}
	}
	return firstErr
}

func title(e models.AlertEvent) string {
	name := e.RuleName
	if name == "" {
		name = e.RuleID
	}
	return fmt.Sprintf("[%s] %s %s: %s", e.Severity, e.ProjectID, e.Kind, name)
}

func severityColor(s models.Severity) string {
	switch s {
	case models.SeverityInfo:
		return "#36a64f"
	case models.SeverityWarning:
		return "#ffcc00"
	case models.SeverityCritical:
		return "#ff0000"
	default:
		return "#000000"
	}
}
