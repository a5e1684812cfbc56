package pipeline

import (
	"context"

	"mailtriage/internal/model"

	"go.uber.org/zap"
)

// matchesAutoAction: empty category matches any, MinPriority 0 matches any,
// otherwise the stored priority must be at least MinPriority (1 is most urgent).
func matchesAutoAction(a model.AutoAction, c model.ClassificationResult) bool {
	if c.Handled || c.UserOverridden {
		return false
	}
	if a.Category != "" && a.Category != c.Category {
		return false
	}
	if a.MinPriority > 0 && c.Priority < a.MinPriority {
		return false
	}
	return true
}

// applyAutoActions runs configured actions over recent, unhandled, non-overridden classifications.
func (o *Orchestrator) applyAutoActions(ctx context.Context, userID int, log *zap.Logger) int {
	if len(o.cfg.AutoActions) == 0 {
		return 0
	}
	cands, err := o.deps.Classifications.ListAutoActionCandidates(ctx, userID, o.now().Add(-o.cfg.AutoActionWindow))
	if err != nil {
		log.Warn("Failed to load auto-action candidates", zap.Error(err))
		return 0
	}

	applied := 0
	for _, c := range cands {
		for _, a := range o.cfg.AutoActions {
			if a.Action != model.ActionMarkHandled {
				continue
			}
			if !matchesAutoAction(a, c) {
				continue
			}
			if err := o.deps.Classifications.MarkHandled(ctx, userID, c.EmailID); err != nil {
				log.Warn("Auto-action failed", zap.String("email_id", c.EmailID), zap.Error(err))
				break
			}
			applied++
			break
		}
	}
	if applied > 0 {
		log.Info("Auto-actions applied", zap.Int("handled", applied))
	}
	return applied
}
