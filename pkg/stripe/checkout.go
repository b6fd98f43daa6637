package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
)

// Billing modes accepted by CreateIntent.
const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
)

// PaymentStatusPaid is the upstream status that settles a session.
const PaymentStatusPaid = "paid"

// CreateIntentParams describes a payable intent to open with the processor.
type CreateIntentParams struct {
	Mode          string
	AmountCents   int64
	Description   string
	CustomerEmail string
	Metadata      map[string]string
}

// Intent is the processor-neutral view of a checkout session.
type Intent struct {
	ID             string
	URL            string
	PaymentStatus  string
	AmountCents    int64
	CustomerEmail  string
	CustomerName   string
	Metadata       map[string]string
	Mode           string
	SubscriptionID string
}

// Paid reports whether the upstream confirmed the payment.
func (i *Intent) Paid() bool {
	return i != nil && i.PaymentStatus == PaymentStatusPaid
}

// CreateIntent opens a checkout session and returns its id and hosted URL.
func (c *Client) CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	if c == nil || c.api == nil {
		return nil, errors.New("stripe client not initialized")
	}
	if params.AmountCents <= 0 {
		return nil, errors.New("amount must be positive")
	}

	mode := stripe.CheckoutSessionModePayment
	if strings.EqualFold(params.Mode, ModeSubscription) {
		mode = stripe.CheckoutSessionModeSubscription
	}

	description := params.Description
	if description == "" {
		description = "Donation"
	}

	priceData := checkoutPriceData(mode, c.currency, params.AmountCents, description)

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(mode)),
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: priceData,
			Quantity:  stripe.Int64(1),
		}},
	}
	if params.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	for key, value := range params.Metadata {
		sessionParams.AddMetadata(key, value)
	}
	sessionParams.Context = ctx

	sess, err := session.New(sessionParams)
	if err != nil {
		return nil, err
	}
	return intentFromSession(sess), nil
}

// checkoutPriceData builds the session's line-item price. Subscription mode
// bills monthly, matching the original subscription plans.
func checkoutPriceData(mode stripe.CheckoutSessionMode, currency string, amountCents int64, description string) *stripe.CheckoutSessionLineItemPriceDataParams {
	priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripe.String(currency),
		UnitAmount: stripe.Int64(amountCents),
		ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(description),
		},
	}
	if mode == stripe.CheckoutSessionModeSubscription {
		priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
		}
	}
	return priceData
}

// RetrieveIntent fetches the session back from the processor.
func (c *Client) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	if c == nil || c.api == nil {
		return nil, errors.New("stripe client not initialized")
	}
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("session id is required")
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")

	sess, err := session.Get(id, params)
	if err != nil {
		return nil, err
	}
	return intentFromSession(sess), nil
}

// IntentFromSession converts a raw checkout session, e.g. one decoded from a
// webhook payload, into the neutral intent view.
func IntentFromSession(sess *stripe.CheckoutSession) *Intent {
	return intentFromSession(sess)
}

func intentFromSession(sess *stripe.CheckoutSession) *Intent {
	if sess == nil {
		return nil
	}
	intent := &Intent{
		ID:            sess.ID,
		URL:           sess.URL,
		PaymentStatus: string(sess.PaymentStatus),
		AmountCents:   sess.AmountTotal,
		CustomerEmail: sess.CustomerEmail,
		Metadata:      sess.Metadata,
		Mode:          string(sess.Mode),
	}
	if sess.CustomerDetails != nil {
		if sess.CustomerDetails.Email != "" {
			intent.CustomerEmail = sess.CustomerDetails.Email
		}
		intent.CustomerName = sess.CustomerDetails.Name
	}
	if sess.Subscription != nil {
		intent.SubscriptionID = sess.Subscription.ID
	}
	return intent
}
