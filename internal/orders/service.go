package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jbelamor/donormark-backend/internal/donations"
	"github.com/jbelamor/donormark-backend/internal/registry"
	pkgerrors "github.com/jbelamor/donormark-backend/pkg/errors"
	"github.com/jbelamor/donormark-backend/pkg/metrics"
	stripepkg "github.com/jbelamor/donormark-backend/pkg/stripe"
)

// metadataOrderID is the metadata key carried on checkout sessions so the
// webhook can route a settlement back to its order.
const metadataOrderID = "orderId"

// PaymentProcessor is the slice of the processor client the order engine
// needs.
type PaymentProcessor interface {
	CreateIntent(ctx context.Context, params stripepkg.CreateIntentParams) (*stripepkg.Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*stripepkg.Intent, error)
}

// ServiceParams wires the order engine dependencies.
type ServiceParams struct {
	Registry  *registry.Registry
	Donations *donations.Service
	Processor PaymentProcessor
	Clock     func() time.Time
	Metrics   *metrics.LedgerMetrics
}

// Service owns the order lifecycle: creation, intent attachment, and
// reconciliation against the processor.
type Service struct {
	registry  *registry.Registry
	donations *donations.Service
	processor PaymentProcessor
	clock     func() time.Time
	metrics   *metrics.LedgerMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Registry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "registry required")
	}
	if params.Donations == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "donation service required")
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &Service{
		registry:  params.Registry,
		donations: params.Donations,
		processor: params.Processor,
		clock:     params.Clock,
		metrics:   params.Metrics,
	}, nil
}

// ItemInput is one order line as submitted by the caller. AmountCents is
// authoritative when set; Amount carries legacy major-unit pricing.
type ItemInput struct {
	Name        string
	Quantity    int
	AmountCents *int64
	Amount      *float64
}

// CreateInput carries a new order.
type CreateInput struct {
	Email       string
	App         string
	Items       []ItemInput
	BillingMode string
}

// Create validates the order, totals its items, and stores it pending.
func (s *Service) Create(ctx context.Context, input CreateInput) (*registry.Order, error) {
	email := registry.CanonicalEmail(input.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "valid email required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order needs at least one item")
	}
	mode := strings.ToLower(strings.TrimSpace(input.BillingMode))
	if mode == "" {
		mode = registry.BillingModePayment
	}
	if mode != registry.BillingModePayment && mode != registry.BillingModeSubscription {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown billing mode").
			WithDetails(map[string]any{"billingMode": input.BillingMode})
	}

	items := make([]registry.OrderItem, 0, len(input.Items))
	total := decimal.Zero
	for i, item := range input.Items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d has no name", i))
		}
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		cents, err := itemCents(item)
		if err != nil {
			return nil, err
		}
		total = total.Add(decimal.NewFromInt(cents).Mul(decimal.NewFromInt(int64(quantity))))
		items = append(items, registry.OrderItem{
			Name:        name,
			Quantity:    quantity,
			AmountCents: item.AmountCents,
			Amount:      item.Amount,
		})
	}
	if !total.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}

	now := s.clock().UTC()
	order := registry.Order{
		ID:          uuid.NewString(),
		Email:       email,
		App:         strings.TrimSpace(input.App),
		Items:       items,
		BillingMode: mode,
		TotalCents:  total.IntPart(),
		Status:      registry.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.registry.Update(ctx, func(doc *registry.Document) error {
		doc.Orders = append(doc.Orders, order)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// itemCents resolves one line's unit price in minor units. Minor units win
// when both are present; legacy major-unit amounts are rounded to the
// nearest cent.
func itemCents(item ItemInput) (int64, error) {
	if item.AmountCents != nil {
		if *item.AmountCents <= 0 {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "item amount must be positive")
		}
		return *item.AmountCents, nil
	}
	if item.Amount != nil {
		cents := decimal.NewFromFloat(*item.Amount).Mul(decimal.NewFromInt(100)).Round(0)
		if !cents.IsPositive() {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "item amount must be positive")
		}
		return cents.IntPart(), nil
	}
	return 0, pkgerrors.New(pkgerrors.CodeValidation, "item has no amount")
}

// AttachPaymentIntent opens a checkout session for the order and records the
// session id. The attachment is set-once: re-attaching returns the stored
// session without opening a new one.
func (s *Service) AttachPaymentIntent(ctx context.Context, orderID string) (*registry.Order, string, error) {
	if s.processor == nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeDependency, "payment processor not configured")
	}

	var order registry.Order
	err := s.registry.View(ctx, func(doc *registry.Document) error {
		found := doc.FindOrder(orderID)
		if found == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		order = *found
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	if order.Status == registry.OrderStatusPaid {
		return nil, "", pkgerrors.New(pkgerrors.CodeStateConflict, "order already paid")
	}
	// legacy documents can hold orders created before totals were validated
	if order.TotalCents <= 0 {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}
	if order.SessionID != "" {
		return &order, "", nil
	}

	intent, err := s.processor.CreateIntent(ctx, stripepkg.CreateIntentParams{
		Mode:          order.BillingMode,
		AmountCents:   order.TotalCents,
		Description:   orderDescription(&order),
		CustomerEmail: order.Email,
		Metadata:      map[string]string{metadataOrderID: order.ID},
	})
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	err = s.registry.Update(ctx, func(doc *registry.Document) error {
		found := doc.FindOrder(orderID)
		if found == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if found.SessionID != "" && found.SessionID != intent.ID {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already has a payment intent")
		}
		found.SessionID = intent.ID
		found.UpdatedAt = s.clock().UTC()
		order = *found
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return &order, intent.URL, nil
}

func orderDescription(order *registry.Order) string {
	if len(order.Items) == 1 {
		return order.Items[0].Name
	}
	return fmt.Sprintf("Order %s (%d items)", order.ID, len(order.Items))
}

// Reconcile re-checks the order's session with the processor and settles it
// when the upstream reports it paid.
func (s *Service) Reconcile(ctx context.Context, orderID string) (*registry.Order, error) {
	if s.processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment processor not configured")
	}

	var order registry.Order
	err := s.registry.View(ctx, func(doc *registry.Document) error {
		found := doc.FindOrder(orderID)
		if found == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		order = *found
		return nil
	})
	if err != nil {
		return nil, err
	}
	if order.Status == registry.OrderStatusPaid {
		return &order, nil
	}
	if order.SessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no payment intent to reconcile")
	}

	// The upstream lookup happens outside the registry lock so a slow
	// processor call never blocks other writers.
	intent, err := s.processor.RetrieveIntent(ctx, order.SessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve payment intent")
	}
	if !intent.Paid() {
		return &order, nil
	}
	settlement, err := s.SettleFromIntent(ctx, intent)
	if err != nil {
		return nil, err
	}
	if settlement.Order != nil {
		return settlement.Order, nil
	}
	return &order, nil
}

// Settlement is the outcome of applying a paid intent: the donation record
// (always present) and the order it settled, if the intent belonged to one.
type Settlement struct {
	Donation *registry.Donation
	Order    *registry.Order
}

// SettleFromIntent applies a paid processor intent to the registry: the
// donation is recorded and the matching order, if any, flips to paid in the
// same write. A repeat settlement for the same session changes nothing.
func (s *Service) SettleFromIntent(ctx context.Context, intent *stripepkg.Intent) (*Settlement, error) {
	if intent == nil || strings.TrimSpace(intent.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent with session id required")
	}
	if !intent.Paid() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "intent is not paid").
			WithDetails(map[string]any{"paymentStatus": intent.PaymentStatus})
	}

	var out Settlement
	err := s.registry.Update(ctx, func(doc *registry.Document) error {
		order := findOrderForIntent(doc, intent)

		email := intent.CustomerEmail
		if email == "" && order != nil {
			email = order.Email
		}
		donation, _, err := s.donations.Apply(doc, donations.RecordPaymentInput{
			SessionID:      intent.ID,
			Email:          email,
			Name:           intent.CustomerName,
			AmountCents:    intent.AmountCents,
			SubscriptionID: intent.SubscriptionID,
		})
		if err != nil {
			return err
		}
		donated := *donation
		out.Donation = &donated

		if order == nil {
			return nil
		}
		if order.Status == registry.OrderStatusPaid {
			copied := *order
			out.Order = &copied
			return nil
		}
		order.Status = registry.OrderStatusPaid
		if order.SessionID == "" {
			order.SessionID = intent.ID
		}
		order.Mark = donation.Mark
		order.SubscriptionID = intent.SubscriptionID
		order.UpdatedAt = s.clock().UTC()
		s.metrics.IncOrderSettled()
		copied := *order
		out.Order = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// findOrderForIntent matches on the session id first and falls back to the
// order id the intent was created with.
func findOrderForIntent(doc *registry.Document, intent *stripepkg.Intent) *registry.Order {
	for i := range doc.Orders {
		if doc.Orders[i].SessionID == intent.ID {
			return &doc.Orders[i]
		}
	}
	if id := intent.Metadata[metadataOrderID]; id != "" {
		return doc.FindOrder(id)
	}
	return nil
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, orderID string) (*registry.Order, error) {
	var order registry.Order
	err := s.registry.View(ctx, func(doc *registry.Document) error {
		found := doc.FindOrder(orderID)
		if found == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		order = *found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// List returns all orders in insertion order.
func (s *Service) List(ctx context.Context) ([]registry.Order, error) {
	var out []registry.Order
	err := s.registry.View(ctx, func(doc *registry.Document) error {
		out = append(out, doc.Orders...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
