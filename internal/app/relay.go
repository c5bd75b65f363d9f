package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/nearby/internal/domain"
	"github.com/pscheid92/nearby/internal/metrics"
)

const msgRelayFailed = "Failed to send interest. Please try again."

// Relay forwards "show interest" signals to the remote match procedure. Each
// call is a single attempt; there is no retry.
type Relay struct {
	interests domain.InterestService
	notifier  domain.Notifier
	clock     clockwork.Clock
	userID    uuid.UUID

	// OnMatch runs after a mutual match, e.g. to refresh a matches view.
	OnMatch func(target uuid.UUID)
}

func NewRelay(interests domain.InterestService, notifier domain.Notifier, userID uuid.UUID, clock clockwork.Clock) *Relay {
	return &Relay{
		interests: interests,
		notifier:  notifier,
		clock:     clock,
		userID:    userID,
	}
}

// ShowInterest signals interest in target and reports whether it produced a
// mutual match.
func (r *Relay) ShowInterest(ctx context.Context, target uuid.UUID) (domain.InterestResult, error) {
	if target == uuid.Nil || target == r.userID {
		return domain.InterestResult{}, domain.ErrInvalidTarget
	}

	kind, message, err := r.interests.HandleInterest(ctx, r.userID, target)
	if err != nil {
		return r.fail(ctx, target, fmt.Errorf("%w: %w", domain.ErrRelayFailed, err))
	}

	var result domain.InterestResult
	switch domain.InterestOutcome(kind) {
	case domain.InterestMatched:
		result = domain.InterestResult{Outcome: domain.InterestMatched, Message: message}
		r.notify(ctx, domain.NotifyMatched, message)
	case domain.InterestSent:
		result = domain.InterestResult{Outcome: domain.InterestSent, Message: message}
		r.notify(ctx, domain.NotifyInterestSent, message)
	default:
		return r.fail(ctx, target, fmt.Errorf("%w: unexpected outcome %q", domain.ErrRelayFailed, kind))
	}

	metrics.InterestSignalsTotal.WithLabelValues(kind).Inc()
	slog.InfoContext(ctx, "Interest relayed", "user_id", r.userID, "target", target, "outcome", kind)

	if result.Outcome == domain.InterestMatched && r.OnMatch != nil {
		r.OnMatch(target)
	}
	return result, nil
}

func (r *Relay) fail(ctx context.Context, target uuid.UUID, err error) (domain.InterestResult, error) {
	metrics.InterestSignalsTotal.WithLabelValues("failed").Inc()
	slog.WarnContext(ctx, "Interest relay failed", "user_id", r.userID, "target", target, "error", err)
	r.notify(ctx, domain.NotifyRelayFailed, msgRelayFailed)
	return domain.InterestResult{}, err
}

func (r *Relay) notify(ctx context.Context, kind domain.NotificationKind, message string) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(ctx, domain.Notification{Kind: kind, Message: message, At: r.clock.Now()})
}
