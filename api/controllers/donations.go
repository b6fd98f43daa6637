package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jbelamor/donormark-backend/api/responses"
	"github.com/jbelamor/donormark-backend/api/validators"
	"github.com/jbelamor/donormark-backend/internal/donations"
	"github.com/jbelamor/donormark-backend/internal/orders"
	"github.com/jbelamor/donormark-backend/internal/registry"
	pkgerrors "github.com/jbelamor/donormark-backend/pkg/errors"
	"github.com/jbelamor/donormark-backend/pkg/logger"
	stripepkg "github.com/jbelamor/donormark-backend/pkg/stripe"
)

// DonationsRecord ingests a payment the caller has already confirmed with the
// processor, e.g. a backoffice import of historical payments.
func DonationsRecord(svc *donations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "donation service unavailable"))
			return
		}

		var payload donationRecordRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		donation, err := svc.RecordPayment(r.Context(), donations.RecordPaymentInput{
			SessionID:      payload.SessionID,
			Email:          payload.Email,
			Name:           payload.Name,
			AmountCents:    payload.AmountCents,
			SubscriptionID: payload.SubscriptionID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newDonationResponse(donation))
	}
}

// DonationsIntent opens a checkout session for a plain donation, outside any
// order.
func DonationsIntent(processor intentCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if processor == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment processor unavailable"))
			return
		}

		var payload donationIntentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cents, err := donationCents(payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intent, err := processor.CreateIntent(r.Context(), stripepkg.CreateIntentParams{
			Mode:          stripepkg.ModePayment,
			AmountCents:   cents,
			Description:   "Donation",
			CustomerEmail: payload.Email,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session"))
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{
			"sessionId":   intent.ID,
			"checkoutUrl": intent.URL,
		})
	}
}

func donationCents(payload donationIntentRequest) (int64, error) {
	if payload.AmountCents != nil {
		if *payload.AmountCents <= 0 {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
		}
		return *payload.AmountCents, nil
	}
	if payload.Amount != nil {
		cents := decimal.NewFromFloat(*payload.Amount).Mul(decimal.NewFromInt(100)).Round(0)
		if !cents.IsPositive() {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
		}
		return cents.IntPart(), nil
	}
	return 0, pkgerrors.New(pkgerrors.CodeValidation, "amountCents or amount required")
}

// DonationsConfirm re-checks a checkout session with the processor and, when
// paid, settles it. The success-page redirect calls this so the donor sees
// their mark without waiting for the webhook.
func DonationsConfirm(settler intentSettler, processor intentRetriever, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if settler == nil || processor == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "confirmation unavailable"))
			return
		}

		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "session_id query parameter required"))
			return
		}

		ctx := r.Context()
		intent, err := processor.RetrieveIntent(ctx, sessionID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve checkout session"))
			return
		}
		if !intent.Paid() {
			// not a failure: the donor may arrive before the payment clears
			responses.WriteSuccess(w, map[string]string{"sessionId": intent.ID, "status": "unpaid"})
			return
		}

		settlement, err := settler.SettleFromIntent(ctx, intent)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := confirmResponse{SessionID: intent.ID, Status: "settled"}
		if settlement.Donation != nil {
			donation := newDonationResponse(settlement.Donation)
			out.Donation = &donation
		}
		if settlement.Order != nil {
			order := newOrderResponse(settlement.Order, "")
			out.Order = &order
		}
		responses.WriteSuccess(w, out)
	}
}

type confirmResponse struct {
	SessionID string            `json:"sessionId"`
	Status    string            `json:"status"`
	Donation  *donationResponse `json:"donation,omitempty"`
	Order     *orderResponse    `json:"order,omitempty"`
}

// DonationsWall serves the public donor wall with each record filtered down
// to what the donor chose to show.
func DonationsWall(svc *donations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "donation service unavailable"))
			return
		}

		list, err := svc.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries := make([]wallEntry, 0, len(list))
		for i := range list {
			entries = append(entries, newWallEntry(&list[i]))
		}
		responses.WriteSuccess(w, entries)
	}
}

type intentSettler interface {
	SettleFromIntent(ctx context.Context, intent *stripepkg.Intent) (*orders.Settlement, error)
}

type intentRetriever interface {
	RetrieveIntent(ctx context.Context, id string) (*stripepkg.Intent, error)
}

type intentCreator interface {
	CreateIntent(ctx context.Context, params stripepkg.CreateIntentParams) (*stripepkg.Intent, error)
}

type donationIntentRequest struct {
	Email       string   `json:"email" validate:"required,email"`
	Name        string   `json:"name,omitempty"`
	AmountCents *int64   `json:"amountCents,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
}

type donationRecordRequest struct {
	SessionID      string `json:"sessionId" validate:"required"`
	Email          string `json:"email" validate:"required,email"`
	Name           string `json:"name,omitempty"`
	AmountCents    int64  `json:"amountCents" validate:"gt=0"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

type donationResponse struct {
	SessionID   string    `json:"sessionId"`
	Email       string    `json:"email"`
	Name        string    `json:"name,omitempty"`
	AmountCents int64     `json:"amountCents"`
	Mark        string    `json:"mark"`
	HandleBound bool      `json:"handleBound"`
	BoundHandle string    `json:"boundHandle,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newDonationResponse(d *registry.Donation) donationResponse {
	return donationResponse{
		SessionID:   d.SessionID,
		Email:       d.Email,
		Name:        d.Name,
		AmountCents: d.AmountCents,
		Mark:        d.Mark,
		HandleBound: d.HandleBound,
		BoundHandle: d.BoundHandle,
		CreatedAt:   d.CreatedAt,
	}
}

type wallEntry struct {
	Name        string    `json:"name,omitempty"`
	Handle      string    `json:"handle,omitempty"`
	AmountCents *int64    `json:"amountCents,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newWallEntry(d *registry.Donation) wallEntry {
	entry := wallEntry{CreatedAt: d.CreatedAt}
	if d.ShowName != nil && *d.ShowName {
		entry.Name = d.Name
	}
	if d.ShowUsername != nil && *d.ShowUsername && d.HandleBound {
		entry.Handle = d.BoundHandle
	}
	if d.ShowAmount != nil && *d.ShowAmount {
		amount := d.AmountCents
		entry.AmountCents = &amount
	}
	return entry
}
