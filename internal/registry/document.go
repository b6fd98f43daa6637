package registry

import (
	"encoding/json"
	"strings"
	"time"
)

// Order lifecycle. Transitions are monotonic: pending -> paid.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusPaid    OrderStatus = "paid"
)

// Billing modes an order can carry.
const (
	BillingModePayment      = "payment"
	BillingModeSubscription = "subscription"
)

// Document is the root aggregate persisted by the registry store. Every
// collection is always non-nil, even on first creation; stores repair any
// document that violates this before handing it out.
//
// Field names follow the legacy registry file layout, which is shared with
// older tooling.
type Document struct {
	Donations  []Donation `json:"donations"`
	Identities []Identity `json:"identities"`
	Orders     []Order    `json:"orders"`
}

// Donation is one confirmed one-time payment, keyed by the processor session
// id. The mark is set exactly once at creation and never changes.
type Donation struct {
	SessionID      string    `json:"sessionId"`
	Email          string    `json:"email"`
	Name           string    `json:"name,omitempty"`
	AmountCents    int64     `json:"amountCents"`
	CreatedAt      time.Time `json:"createdAt"`
	Mark           string    `json:"mark,omitempty"`
	HandleBound    bool      `json:"handleBound,omitempty"`
	BoundHandle    string    `json:"boundHandle,omitempty"`
	SubscriptionID string    `json:"subscriptionId,omitempty"`

	// Visibility flags for the public wall. Pointers so the repair utility
	// can tell a legacy record with no flags from an explicit false.
	ShowName     *bool `json:"showName,omitempty"`
	ShowUsername *bool `json:"showUsername,omitempty"`
	ShowAmount   *bool `json:"showAmount,omitempty"`
}

// Identity binds a canonical email to a handle and its mark history.
type Identity struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle,omitempty"`
	Email     string    `json:"email"`
	Marks     []string  `json:"marks"`
	DeviceIDs []string  `json:"deviceIds,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Order is a pending or settled purchase intent.
type Order struct {
	ID             string      `json:"id"`
	Email          string      `json:"email"`
	App            string      `json:"app,omitempty"`
	Items          []OrderItem `json:"items"`
	BillingMode    string      `json:"billingMode"`
	TotalCents     int64       `json:"totalCents"`
	Status         OrderStatus `json:"status"`
	SessionID      string      `json:"sessionId,omitempty"`
	SubscriptionID string      `json:"subscriptionId,omitempty"`
	Mark           string      `json:"mark,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// OrderItem carries a minor-unit amount, or a legacy major-unit amount when
// minor units are absent.
type OrderItem struct {
	Name        string   `json:"name"`
	Quantity    int      `json:"quantity,omitempty"`
	AmountCents *int64   `json:"amountCents,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
}

// NewDocument returns a structurally valid empty document.
func NewDocument() *Document {
	return &Document{
		Donations:  []Donation{},
		Identities: []Identity{},
		Orders:     []Order{},
	}
}

type rawDocument struct {
	Donations  json.RawMessage `json:"donations"`
	Identities json.RawMessage `json:"identities"`
	Orders     json.RawMessage `json:"orders"`
}

// DecodeDocument parses a persisted payload. Collections that are missing or
// not of the expected container kind are coerced to empty; the second return
// reports whether any coercion happened so the caller can persist the repair.
// An unparsable payload returns an error and the caller handles recovery.
func DecodeDocument(payload []byte) (*Document, bool, error) {
	var raw rawDocument
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, false, err
	}

	doc := NewDocument()
	repaired := false
	if !decodeCollection(raw.Donations, &doc.Donations) {
		doc.Donations = []Donation{}
		repaired = true
	}
	if !decodeCollection(raw.Identities, &doc.Identities) {
		doc.Identities = []Identity{}
		repaired = true
	}
	if !decodeCollection(raw.Orders, &doc.Orders) {
		doc.Orders = []Order{}
		repaired = true
	}
	return doc, repaired, nil
}

func decodeCollection[T any](raw json.RawMessage, dest *[]T) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false
	}
	if *dest == nil {
		*dest = []T{}
	}
	return true
}

// EncodeDocument serializes a document for persistence.
func EncodeDocument(doc *Document) ([]byte, error) {
	if doc == nil {
		doc = NewDocument()
	}
	return json.MarshalIndent(doc, "", "  ")
}

// CanonicalEmail lowercases and trims an email address.
func CanonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CanonicalHandle lowercases and trims a handle.
func CanonicalHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// FindDonationBySession returns the donation recorded for a processor session
// id, or nil.
func (d *Document) FindDonationBySession(sessionID string) *Donation {
	for i := range d.Donations {
		if d.Donations[i].SessionID == sessionID {
			return &d.Donations[i]
		}
	}
	return nil
}

// FindIdentityByEmail returns the identity owning the canonical email, or nil.
func (d *Document) FindIdentityByEmail(email string) *Identity {
	email = CanonicalEmail(email)
	for i := range d.Identities {
		if CanonicalEmail(d.Identities[i].Email) == email {
			return &d.Identities[i]
		}
	}
	return nil
}

// FindIdentityByHandle returns the identity owning the canonical handle, or nil.
func (d *Document) FindIdentityByHandle(handle string) *Identity {
	handle = CanonicalHandle(handle)
	if handle == "" {
		return nil
	}
	for i := range d.Identities {
		if CanonicalHandle(d.Identities[i].Handle) == handle {
			return &d.Identities[i]
		}
	}
	return nil
}

// FindOrder returns the order with the given id, or nil.
func (d *Document) FindOrder(orderID string) *Order {
	for i := range d.Orders {
		if d.Orders[i].ID == orderID {
			return &d.Orders[i]
		}
	}
	return nil
}
