package donations

import (
	"context"
	"crypto/rand"
	"io"
	"strings"
	"time"

	"github.com/jbelamor/donormark-backend/internal/registry"
	pkgerrors "github.com/jbelamor/donormark-backend/pkg/errors"
	"github.com/jbelamor/donormark-backend/pkg/metrics"
)

// ServiceParams wires the ledger dependencies.
type ServiceParams struct {
	Registry   *registry.Registry
	MarkSecret string
	Clock      func() time.Time
	Rand       io.Reader
	Metrics    *metrics.LedgerMetrics
}

// Service owns the donation side of the ledger: idempotent recording of paid
// one-time events and mark minting.
type Service struct {
	registry *registry.Registry
	secret   string
	clock    func() time.Time
	rng      io.Reader
	metrics  *metrics.LedgerMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Registry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "registry required")
	}
	if strings.TrimSpace(params.MarkSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "mark secret required")
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	if params.Rand == nil {
		params.Rand = rand.Reader
	}
	return &Service{
		registry: params.Registry,
		secret:   params.MarkSecret,
		clock:    params.Clock,
		rng:      params.Rand,
		metrics:  params.Metrics,
	}, nil
}

// RecordPaymentInput carries a payment the processor has already confirmed.
type RecordPaymentInput struct {
	SessionID      string
	Email          string
	Name           string
	AmountCents    int64
	SubscriptionID string
}

// RecordPayment records a confirmed payment exactly once per processor
// session id. A repeat confirmation returns the existing record, backfilling
// any previously-empty fields; it never mints a second mark.
func (s *Service) RecordPayment(ctx context.Context, input RecordPaymentInput) (*registry.Donation, error) {
	var out registry.Donation
	err := s.registry.Update(ctx, func(doc *registry.Document) error {
		donation, _, err := s.Apply(doc, input)
		if err != nil {
			return err
		}
		out = *donation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Apply records the payment inside an already-open registry mutation, so the
// order engine can settle an order and record its donation in one write. The
// returned pointer aliases the document; the second result reports whether a
// mark was freshly minted.
func (s *Service) Apply(doc *registry.Document, input RecordPaymentInput) (*registry.Donation, bool, error) {
	if strings.TrimSpace(input.SessionID) == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "processor session id required")
	}
	email := registry.CanonicalEmail(input.Email)

	if existing := doc.FindDonationBySession(input.SessionID); existing != nil {
		minted, err := s.backfill(existing, email, input)
		if err != nil {
			return nil, false, err
		}
		s.metrics.IncPaymentRecorded()
		return existing, minted, nil
	}

	now := s.clock().UTC()
	mark, err := Mint(email, s.secret, now, s.rng)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint mark")
	}

	show := true
	hide := false
	doc.Donations = append(doc.Donations, registry.Donation{
		SessionID:      input.SessionID,
		Email:          email,
		Name:           strings.TrimSpace(input.Name),
		AmountCents:    input.AmountCents,
		CreatedAt:      now,
		Mark:           mark,
		SubscriptionID: input.SubscriptionID,
		ShowName:       &show,
		ShowUsername:   &show,
		ShowAmount:     &hide,
	})
	s.metrics.IncPaymentRecorded()
	s.metrics.IncMarkMinted()
	return &doc.Donations[len(doc.Donations)-1], true, nil
}

// backfill fills previously-empty fields on a repeat confirmation. The mark
// is only minted when the stored record never received one.
func (s *Service) backfill(donation *registry.Donation, email string, input RecordPaymentInput) (bool, error) {
	if donation.Email == "" && email != "" {
		donation.Email = email
	}
	if donation.Name == "" && strings.TrimSpace(input.Name) != "" {
		donation.Name = strings.TrimSpace(input.Name)
	}
	if donation.AmountCents == 0 && input.AmountCents != 0 {
		donation.AmountCents = input.AmountCents
	}
	if donation.CreatedAt.IsZero() {
		donation.CreatedAt = s.clock().UTC()
	}
	if donation.SubscriptionID == "" && input.SubscriptionID != "" {
		donation.SubscriptionID = input.SubscriptionID
	}
	if donation.Mark == "" {
		mark, err := Mint(donation.Email, s.secret, s.clock().UTC(), s.rng)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint mark")
		}
		donation.Mark = mark
		s.metrics.IncMarkMinted()
		return true, nil
	}
	return false, nil
}

// List returns the recorded donations, newest last (insertion order).
func (s *Service) List(ctx context.Context) ([]registry.Donation, error) {
	var out []registry.Donation
	err := s.registry.View(ctx, func(doc *registry.Document) error {
		out = append(out, doc.Donations...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
