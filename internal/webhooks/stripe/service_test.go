package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/jbelamor/donormark-backend/internal/orders"
	"github.com/jbelamor/donormark-backend/internal/registry"
	stripepkg "github.com/jbelamor/donormark-backend/pkg/stripe"
)

type stubSettler struct {
	intents []*stripepkg.Intent
	err     error
}

func (s *stubSettler) SettleFromIntent(_ context.Context, intent *stripepkg.Intent) (*orders.Settlement, error) {
	s.intents = append(s.intents, intent)
	if s.err != nil {
		return nil, s.err
	}
	return &orders.Settlement{Donation: &registry.Donation{SessionID: intent.ID, Mark: "mark"}}, nil
}

type stubIdemStore struct {
	keys map[string]string
}

func newStubIdemStore() *stubIdemStore {
	return &stubIdemStore{keys: map[string]string{}}
}

func (s *stubIdemStore) Get(_ context.Context, key string) (string, error) {
	return s.keys[key], nil
}

func (s *stubIdemStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, exists := s.keys[key]; exists {
		return false, nil
	}
	s.keys[key] = "1"
	return true, nil
}

func (s *stubIdemStore) IdempotencyKey(scope, id string) string {
	return "test:" + scope + ":" + id
}

func (s *stubIdemStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.keys, key)
	}
	return nil
}

func sessionEvent(t *testing.T, eventType stripe.EventType, sess stripe.CheckoutSession) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(sess)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_" + sess.ID,
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestHandleEventSettlesPaidSession(t *testing.T) {
	settler := &stubSettler{}
	svc, err := NewService(ServiceParams{Settler: settler})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_test_1",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:   1500,
		CustomerEmail: "donor@example.com",
	})
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(settler.intents) != 1 || settler.intents[0].ID != "cs_test_1" {
		t.Fatalf("expected one settlement for cs_test_1, got %+v", settler.intents)
	}
}

func TestHandleEventSkipsUnpaidCompletedSession(t *testing.T) {
	settler := &stubSettler{}
	svc, _ := NewService(ServiceParams{Settler: settler})

	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_delayed",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
	})
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(settler.intents) != 0 {
		t.Fatalf("expected no settlement for unpaid session, got %+v", settler.intents)
	}
}

func TestHandleEventIgnoresUnknownTypes(t *testing.T) {
	settler := &stubSettler{}
	svc, _ := NewService(ServiceParams{Settler: settler})

	event := &stripe.Event{
		ID:   "evt_other",
		Type: stripe.EventTypeInvoicePaid,
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(settler.intents) != 0 {
		t.Fatalf("expected unknown type ignored, got %+v", settler.intents)
	}
}

func TestHandleEventDropsDuplicateDeliveries(t *testing.T) {
	settler := &stubSettler{}
	guard, err := NewIdempotencyGuard(newStubIdemStore(), time.Minute, "stripe")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	svc, _ := NewService(ServiceParams{Settler: settler, Guard: guard})

	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_dup",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
	})
	for i := 0; i < 3; i++ {
		if err := svc.HandleEvent(context.Background(), event); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if len(settler.intents) != 1 {
		t.Fatalf("expected a single settlement, got %d", len(settler.intents))
	}
}

func TestHandleEventReleasesGuardOnSettleFailure(t *testing.T) {
	settler := &stubSettler{err: errors.New("registry down")}
	store := newStubIdemStore()
	guard, err := NewIdempotencyGuard(store, time.Minute, "stripe")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	svc, _ := NewService(ServiceParams{Settler: settler, Guard: guard})

	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_fail",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
	})
	if err := svc.HandleEvent(context.Background(), event); err == nil {
		t.Fatal("expected settle error surfaced")
	}
	if len(store.keys) != 0 {
		t.Fatalf("expected idempotency key released, got %v", store.keys)
	}

	settler.err = nil
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("retry delivery: %v", err)
	}
	if len(settler.intents) != 2 {
		t.Fatalf("expected retry to settle, got %d attempts", len(settler.intents))
	}
}
