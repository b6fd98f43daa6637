package registry

import (
	"testing"
)

func TestDecodeDocumentCoercesMalformedCollections(t *testing.T) {
	doc, repaired, err := DecodeDocument([]byte(`{"donations": "not-a-list"}`))
	if err != nil {
		t.Fatalf("decode should not error on malformed collections: %v", err)
	}
	if !repaired {
		t.Fatal("expected repair flag")
	}
	if doc.Donations == nil || len(doc.Donations) != 0 {
		t.Fatalf("expected empty donations, got %v", doc.Donations)
	}
	if doc.Identities == nil || doc.Orders == nil {
		t.Fatal("missing collections must be initialized")
	}
}

func TestDecodeDocumentKeepsValidCollections(t *testing.T) {
	payload := []byte(`{
		"donations": [{"sessionId": "cs_1", "email": "a@x.com", "amountCents": 2500}],
		"identities": [],
		"orders": []
	}`)
	doc, repaired, err := DecodeDocument(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if repaired {
		t.Fatal("well-formed document should not be repaired")
	}
	if len(doc.Donations) != 1 || doc.Donations[0].SessionID != "cs_1" {
		t.Fatalf("unexpected donations %v", doc.Donations)
	}
}

func TestDecodeDocumentRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeDocument([]byte("{not json")); err == nil {
		t.Fatal("expected decode error for garbage payload")
	}
}

func TestCanonicalHelpers(t *testing.T) {
	if got := CanonicalEmail("  A@X.COM "); got != "a@x.com" {
		t.Fatalf("canonical email = %q", got)
	}
	if got := CanonicalHandle(" Nova "); got != "nova" {
		t.Fatalf("canonical handle = %q", got)
	}
}

func TestDocumentFinders(t *testing.T) {
	doc := NewDocument()
	doc.Donations = append(doc.Donations, Donation{SessionID: "cs_1", Email: "a@x.com"})
	doc.Identities = append(doc.Identities, Identity{ID: "id-1", Email: "A@x.com", Handle: "Nova"})
	doc.Orders = append(doc.Orders, Order{ID: "o-1"})

	if doc.FindDonationBySession("cs_1") == nil {
		t.Fatal("expected donation lookup to hit")
	}
	if doc.FindDonationBySession("cs_2") != nil {
		t.Fatal("expected donation lookup to miss")
	}
	if doc.FindIdentityByEmail("a@X.com") == nil {
		t.Fatal("email lookup should be case-insensitive")
	}
	if doc.FindIdentityByHandle("NOVA") == nil {
		t.Fatal("handle lookup should be case-insensitive")
	}
	if doc.FindIdentityByHandle("") != nil {
		t.Fatal("empty handle must never match")
	}
	if doc.FindOrder("o-1") == nil {
		t.Fatal("expected order lookup to hit")
	}
}
