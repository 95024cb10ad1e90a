package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/projectpulse/internal/alert"
	"github.com/projectpulse/internal/models"
	"github.com/projectpulse/internal/store"
	"github.com/projectpulse/internal/visibility"
)

// Acknowledge marks an alert as seen by the caller. Callers who may not act
// on the alert's project get store.ErrNotFound, the same as for a missing
// alert. A resolved alert yields alert.ErrAlertResolved.
//
// The update runs inside the project's slot and waits for a running cycle to
// commit, so the cycle cannot overwrite it with the copy it loaded.
func (e *Engine) Acknowledge(ctx context.Context, caller models.Caller, alertID string) (*models.Alert, error) {
	a, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	access, err := e.store.ProjectAccess(ctx, a.ProjectID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if !visibility.CanAct(caller, access) {
		return nil, store.ErrNotFound
	}

	if err := e.slots.enter(ctx, a.ProjectID); err != nil {
		return nil, fmt.Errorf("acknowledge alert %s: %w", alertID, err)
	}
	defer e.slots.leave(a.ProjectID)

	for attempt := 0; attempt < 2; attempt++ {
		current, err := e.store.GetAlert(ctx, alertID)
		if err != nil {
			return nil, err
		}
		updated, entry, err := e.manager.Acknowledge(*current, caller.UserID, e.Now())
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return &updated, nil
		}

		err = e.store.AcknowledgeAlert(ctx, updated, *entry)
		if errors.Is(err, store.ErrConflict) {
			// Changed since we read it; decide again.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("acknowledge alert %s: %w", alertID, err)
		}

		e.audit.Info("Alert acknowledged",
			zap.String("alert_id", updated.ID),
			zap.String("project_id", updated.ProjectID),
			zap.String("rule_id", updated.RuleID),
			zap.String("actor", caller.UserID),
			zap.String("role", string(caller.Role)),
		)
		return &updated, nil
	}
	return nil, fmt.Errorf("acknowledge alert %s: %w", alertID, alert.ErrAlertResolved)
}
