package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jbelamor/donormark-backend/api/responses"
	"github.com/jbelamor/donormark-backend/api/validators"
	"github.com/jbelamor/donormark-backend/internal/orders"
	"github.com/jbelamor/donormark-backend/internal/registry"
	pkgerrors "github.com/jbelamor/donormark-backend/pkg/errors"
	"github.com/jbelamor/donormark-backend/pkg/logger"
)

// OrdersCreate stores a new pending order.
func OrdersCreate(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		var payload orderCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]orders.ItemInput, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, orders.ItemInput{
				Name:        item.Name,
				Quantity:    item.Quantity,
				AmountCents: item.AmountCents,
				Amount:      item.Amount,
			})
		}

		order, err := svc.Create(r.Context(), orders.CreateInput{
			Email:       payload.Email,
			App:         payload.App,
			Items:       items,
			BillingMode: payload.BillingMode,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order, ""))
	}
}

// OrdersAttachIntent opens a checkout session for the order.
func OrdersAttachIntent(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		order, checkoutURL, err := svc.AttachPaymentIntent(r.Context(), chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order, checkoutURL))
	}
}

// OrdersReconcile re-checks the order's payment with the processor.
func OrdersReconcile(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, chi.URLParam(r, "orderID"))
		}
		order, err := svc.Reconcile(ctx, chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order, ""))
	}
}

// OrdersGet returns one order.
func OrdersGet(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		order, err := svc.Get(r.Context(), chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order, ""))
	}
}

type orderItemRequest struct {
	Name        string   `json:"name" validate:"required"`
	Quantity    int      `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	AmountCents *int64   `json:"amountCents,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
}

type orderCreateRequest struct {
	Email       string             `json:"email" validate:"required,email"`
	App         string             `json:"app,omitempty"`
	Items       []orderItemRequest `json:"items" validate:"required,min=1,dive"`
	BillingMode string             `json:"billingMode,omitempty"`
}

type orderResponse struct {
	ID             string               `json:"id"`
	Email          string               `json:"email"`
	App            string               `json:"app,omitempty"`
	Items          []registry.OrderItem `json:"items"`
	BillingMode    string               `json:"billingMode"`
	TotalCents     int64                `json:"totalCents"`
	Status         registry.OrderStatus `json:"status"`
	SessionID      string               `json:"sessionId,omitempty"`
	SubscriptionID string               `json:"subscriptionId,omitempty"`
	Mark           string               `json:"mark,omitempty"`
	CheckoutURL    string               `json:"checkoutUrl,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

func newOrderResponse(order *registry.Order, checkoutURL string) orderResponse {
	return orderResponse{
		ID:             order.ID,
		Email:          order.Email,
		App:            order.App,
		Items:          order.Items,
		BillingMode:    order.BillingMode,
		TotalCents:     order.TotalCents,
		Status:         order.Status,
		SessionID:      order.SessionID,
		SubscriptionID: order.SubscriptionID,
		Mark:           order.Mark,
		CheckoutURL:    checkoutURL,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
}
