package stripe

import (
	"testing"

	"github.com/stripe/stripe-go/v84"
)

func TestCheckoutPriceDataSubscriptionBillsMonthly(t *testing.T) {
	priceData := checkoutPriceData(stripe.CheckoutSessionModeSubscription, "usd", 2500, "Supporter")
	if priceData.Recurring == nil {
		t.Fatal("subscription price data must carry a recurring interval")
	}
	if got := *priceData.Recurring.Interval; got != "month" {
		t.Fatalf("expected monthly interval, got %q", got)
	}
	if *priceData.UnitAmount != 2500 {
		t.Fatalf("unit amount = %d", *priceData.UnitAmount)
	}
}

func TestCheckoutPriceDataOneTimeHasNoRecurring(t *testing.T) {
	priceData := checkoutPriceData(stripe.CheckoutSessionModePayment, "usd", 2500, "Donation")
	if priceData.Recurring != nil {
		t.Fatal("one-time price data must not carry a recurring interval")
	}
}

func TestIntentFromSessionPrefersCustomerDetails(t *testing.T) {
	intent := IntentFromSession(&stripe.CheckoutSession{
		ID:            "cs_1",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:   2500,
		CustomerEmail: "checkout@x.com",
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{
			Email: "details@x.com",
			Name:  "Ada",
		},
	})
	if intent.CustomerEmail != "details@x.com" {
		t.Fatalf("customer details email must win, got %q", intent.CustomerEmail)
	}
	if intent.CustomerName != "Ada" {
		t.Fatalf("customer name = %q", intent.CustomerName)
	}
	if !intent.Paid() {
		t.Fatal("paid session must report paid")
	}
}

func TestIntentFromSessionNil(t *testing.T) {
	if IntentFromSession(nil) != nil {
		t.Fatal("nil session must yield nil intent")
	}
	var intent *Intent
	if intent.Paid() {
		t.Fatal("nil intent is never paid")
	}
}
