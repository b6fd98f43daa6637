package identity

import (
	"context"
	"testing"
	"time"

	"github.com/jbelamor/donormark-backend/internal/registry"
	pkgerrors "github.com/jbelamor/donormark-backend/pkg/errors"
)

func seedDonation(t *testing.T, reg *registry.Registry, email, mark string) {
	t.Helper()
	err := reg.Update(context.Background(), func(doc *registry.Document) error {
		doc.Donations = append(doc.Donations, registry.Donation{
			SessionID:   "cs_" + mark[:8],
			Email:       email,
			AmountCents: 500,
			Mark:        mark,
			CreatedAt:   time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		t.Fatalf("seed donation: %v", err)
	}
}

func newTestService(t *testing.T, reg *registry.Registry, allowChange bool) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Registry:          reg,
		AllowHandleChange: allowChange,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestClaimHandleCreatesIdentityAndStampsDonations(t *testing.T) {
	store := registry.NewMemoryStore()
	reg := registry.New(store)
	seedDonation(t, reg, "Donor@Example.com", "aaaa0000bbbb1111")
	svc := newTestService(t, reg, false)

	ident, err := svc.ClaimHandle(context.Background(), ClaimInput{
		Email:    "donor@example.com",
		Handle:   "NightOwl",
		Mark:     "aaaa0000bbbb1111",
		DeviceID: "device-1",
	})
	if err != nil {
		t.Fatalf("claim handle: %v", err)
	}
	if ident.Handle != "nightowl" {
		t.Errorf("expected canonical handle, got %q", ident.Handle)
	}
	if len(ident.Marks) != 1 || ident.Marks[0] != "aaaa0000bbbb1111" {
		t.Errorf("expected mark seeded, got %v", ident.Marks)
	}
	if len(ident.DeviceIDs) != 1 || ident.DeviceIDs[0] != "device-1" {
		t.Errorf("expected device recorded, got %v", ident.DeviceIDs)
	}

	snap := store.Snapshot()
	if len(snap.Identities) != 1 {
		t.Fatalf("expected one identity, got %d", len(snap.Identities))
	}
	donation := snap.FindDonationBySession("cs_aaaa0000")
	if donation == nil || !donation.HandleBound || donation.BoundHandle != "nightowl" {
		t.Errorf("expected donation stamped with bound handle, got %+v", donation)
	}
}

func TestClaimHandleRejectsMarkMintedForAnotherEmail(t *testing.T) {
	reg := registry.New(registry.NewMemoryStore())
	seedDonation(t, reg, "alice@example.com", "aaaa0000bbbb1111")
	svc := newTestService(t, reg, false)

	_, err := svc.ClaimHandle(context.Background(), ClaimInput{
		Email:  "bob@example.com",
		Handle: "nightowl",
		Mark:   "aaaa0000bbbb1111",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeOwnership) {
		t.Fatalf("expected ownership error, got %v", err)
	}
}

func TestClaimHandleRejectsDisposableEmail(t *testing.T) {
	reg := registry.New(registry.NewMemoryStore())
	seedDonation(t, reg, "burner@mailinator.com", "aaaa0000bbbb1111")
	svc := newTestService(t, reg, false)

	_, err := svc.ClaimHandle(context.Background(), ClaimInput{
		Email:  "burner@mailinator.com",
		Handle: "nightowl",
		Mark:   "aaaa0000bbbb1111",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodePolicy) {
		t.Fatalf("expected policy error, got %v", err)
	}
}

func TestClaimHandleRejectsTakenHandle(t *testing.T) {
	reg := registry.New(registry.NewMemoryStore())
	seedDonation(t, reg, "alice@example.com", "aaaa0000bbbb1111")
	seedDonation(t, reg, "bob@example.com", "cccc2222dddd3333")
	svc := newTestService(t, reg, false)

	ctx := context.Background()
	if _, err := svc.ClaimHandle(ctx, ClaimInput{
		Email: "alice@example.com", Handle: "nightowl", Mark: "aaaa0000bbbb1111",
	}); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	_, err := svc.ClaimHandle(ctx, ClaimInput{
		Email: "bob@example.com", Handle: "NIGHTOWL", Mark: "cccc2222dddd3333",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestClaimHandleFreezeAndConvergence(t *testing.T) {
	store := registry.NewMemoryStore()
	reg := registry.New(store)
	seedDonation(t, reg, "alice@example.com", "aaaa0000bbbb1111")
	seedDonation(t, reg, "alice@example.com", "cccc2222dddd3333")
	svc := newTestService(t, reg, false)

	ctx := context.Background()
	if _, err := svc.ClaimHandle(ctx, ClaimInput{
		Email: "alice@example.com", Handle: "nightowl", Mark: "aaaa0000bbbb1111",
	}); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	// Re-claiming the same handle with a second mark converges: no new
	// identity, both marks accumulated.
	ident, err := svc.ClaimHandle(ctx, ClaimInput{
		Email: "Alice@Example.com", Handle: "NightOwl", Mark: "cccc2222dddd3333",
	})
	if err != nil {
		t.Fatalf("repeat claim: %v", err)
	}
	if len(ident.Marks) != 2 {
		t.Errorf("expected both marks accumulated, got %v", ident.Marks)
	}
	if got := len(store.Snapshot().Identities); got != 1 {
		t.Errorf("expected single identity, got %d", got)
	}

	// A different handle for the same email is frozen out.
	_, err = svc.ClaimHandle(ctx, ClaimInput{
		Email: "alice@example.com", Handle: "dayowl", Mark: "aaaa0000bbbb1111",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestClaimHandleChangeAllowedByFlag(t *testing.T) {
	store := registry.NewMemoryStore()
	reg := registry.New(store)
	seedDonation(t, reg, "alice@example.com", "aaaa0000bbbb1111")
	svc := newTestService(t, reg, true)

	ctx := context.Background()
	if _, err := svc.ClaimHandle(ctx, ClaimInput{
		Email: "alice@example.com", Handle: "nightowl", Mark: "aaaa0000bbbb1111",
	}); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	ident, err := svc.ClaimHandle(ctx, ClaimInput{
		Email: "alice@example.com", Handle: "dayowl", Mark: "aaaa0000bbbb1111",
	})
	if err != nil {
		t.Fatalf("handle change: %v", err)
	}
	if ident.Handle != "dayowl" {
		t.Errorf("expected upgraded handle, got %q", ident.Handle)
	}
	donation := store.Snapshot().FindDonationBySession("cs_aaaa0000")
	if donation == nil || donation.BoundHandle != "dayowl" {
		t.Errorf("expected donations re-stamped, got %+v", donation)
	}
}

func TestClaimHandleAccumulatesDevicesSetLike(t *testing.T) {
	store := registry.NewMemoryStore()
	reg := registry.New(store)
	seedDonation(t, reg, "alice@example.com", "aaaa0000bbbb1111")
	svc := newTestService(t, reg, false)

	ctx := context.Background()
	for _, device := range []string{"device-1", "device-1", "device-2"} {
		if _, err := svc.ClaimHandle(ctx, ClaimInput{
			Email: "alice@example.com", Handle: "nightowl",
			Mark: "aaaa0000bbbb1111", DeviceID: device,
		}); err != nil {
			t.Fatalf("claim with device %s: %v", device, err)
		}
	}

	ident := store.Snapshot().FindIdentityByEmail("alice@example.com")
	if ident == nil {
		t.Fatal("identity missing")
	}
	if len(ident.DeviceIDs) != 2 {
		t.Errorf("expected two unique devices, got %v", ident.DeviceIDs)
	}
	if len(ident.Marks) != 1 {
		t.Errorf("expected single mark, got %v", ident.Marks)
	}
}

func TestCheckHandleAvailable(t *testing.T) {
	reg := registry.New(registry.NewMemoryStore())
	seedDonation(t, reg, "alice@example.com", "aaaa0000bbbb1111")
	svc := newTestService(t, reg, false)

	ctx := context.Background()
	available, err := svc.CheckHandleAvailable(ctx, "nightowl")
	if err != nil || !available {
		t.Fatalf("expected available, got %v %v", available, err)
	}

	if _, err := svc.ClaimHandle(ctx, ClaimInput{
		Email: "alice@example.com", Handle: "nightowl", Mark: "aaaa0000bbbb1111",
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	available, err = svc.CheckHandleAvailable(ctx, "  NightOwl ")
	if err != nil || available {
		t.Fatalf("expected taken case-insensitively, got %v %v", available, err)
	}

	if _, err := svc.CheckHandleAvailable(ctx, "   "); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for blank handle, got %v", err)
	}
}
