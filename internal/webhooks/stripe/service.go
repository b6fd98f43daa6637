package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/jbelamor/donormark-backend/internal/orders"
	pkgerrors "github.com/jbelamor/donormark-backend/pkg/errors"
	"github.com/jbelamor/donormark-backend/pkg/logger"
	stripepkg "github.com/jbelamor/donormark-backend/pkg/stripe"
)

// Settler is the slice of the order engine the webhook needs.
type Settler interface {
	SettleFromIntent(ctx context.Context, intent *stripepkg.Intent) (*orders.Settlement, error)
}

type ServiceParams struct {
	Settler Settler
	// Guard is optional; without it every delivery is processed and the
	// registry's own session-id idempotency is the only dedupe.
	Guard  *IdempotencyGuard
	Logger *logger.Logger
}

type Service struct {
	settler Settler
	guard   *IdempotencyGuard
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Settler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settler required")
	}
	return &Service{
		settler: params.Settler,
		guard:   params.Guard,
		logg:    params.Logger,
	}, nil
}

// HandleEvent routes a verified Stripe event. Unrecognized event types are
// acknowledged without action so Stripe stops redelivering them.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return s.handleSessionPaid(ctx, event)
	default:
		return nil
	}
}

func (s *Service) handleSessionPaid(ctx context.Context, event *stripe.Event) error {
	if s.guard != nil {
		duplicate, err := s.guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency check")
		}
		if duplicate {
			if s.logg != nil {
				s.logg.Info(s.logg.WithField(ctx, "event_id", event.ID), "duplicate webhook delivery skipped")
			}
			return nil
		}
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session event")
	}
	intent := stripepkg.IntentFromSession(&sess)

	// Completed sessions with delayed payment methods arrive unpaid; the
	// async_payment_succeeded delivery settles those later.
	if !intent.Paid() {
		return nil
	}

	if _, err := s.settler.SettleFromIntent(ctx, intent); err != nil {
		// Free the event id so Stripe's retry gets another attempt.
		if s.guard != nil {
			if releaseErr := s.guard.Release(ctx, event.ID); releaseErr != nil && s.logg != nil {
				s.logg.Error(ctx, "release idempotency key", releaseErr)
			}
		}
		return err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithSessionID(ctx, intent.ID), "checkout session settled")
	}
	return nil
}
