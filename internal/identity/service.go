package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jbelamor/donormark-backend/internal/registry"
	pkgerrors "github.com/jbelamor/donormark-backend/pkg/errors"
	"github.com/jbelamor/donormark-backend/pkg/metrics"
)

// ServiceParams wires the identity registry dependencies.
type ServiceParams struct {
	Registry *registry.Registry
	// DisposableDomains extends the built-in deny list.
	DisposableDomains []string
	// AllowHandleChange relaxes the freeze so the same email may re-claim a
	// different handle.
	AllowHandleChange bool
	Clock             func() time.Time
	Metrics           *metrics.LedgerMetrics
}

// Service owns handle allocation: uniqueness, one identity per email,
// mark-ownership verification, and the handle freeze.
type Service struct {
	registry          *registry.Registry
	deny              *denyList
	allowHandleChange bool
	clock             func() time.Time
	metrics           *metrics.LedgerMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Registry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "registry required")
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &Service{
		registry:          params.Registry,
		deny:              newDenyList(params.DisposableDomains),
		allowHandleChange: params.AllowHandleChange,
		clock:             params.Clock,
		metrics:           params.Metrics,
	}, nil
}

// CheckHandleAvailable reports whether no identity owns the handle,
// case-insensitively.
func (s *Service) CheckHandleAvailable(ctx context.Context, handle string) (bool, error) {
	canonical := registry.CanonicalHandle(handle)
	if canonical == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "handle required")
	}
	var available bool
	err := s.registry.View(ctx, func(doc *registry.Document) error {
		available = doc.FindIdentityByHandle(canonical) == nil
		return nil
	})
	if err != nil {
		return false, err
	}
	return available, nil
}

// ClaimInput carries a handle claim.
type ClaimInput struct {
	Email    string
	Handle   string
	Mark     string
	DeviceID string
}

// ClaimHandle binds a handle to the email-derived identity. The claim is
// converging rather than idempotent: repeat claims with the same inputs end
// in the same final state, with set-like mark and device accumulation.
func (s *Service) ClaimHandle(ctx context.Context, input ClaimInput) (*registry.Identity, error) {
	email := registry.CanonicalEmail(input.Email)
	handle := registry.CanonicalHandle(input.Handle)
	mark := strings.TrimSpace(input.Mark)

	if email == "" || !strings.Contains(email, "@") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "valid email required")
	}
	if handle == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "handle required")
	}
	if mark == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "mark required")
	}

	var out registry.Identity
	err := s.registry.Update(ctx, func(doc *registry.Document) error {
		if !markOwnedBy(doc, mark, email) {
			return pkgerrors.New(pkgerrors.CodeOwnership, "mark was not minted for this email")
		}

		if domain, blocked := s.deny.Blocked(email); blocked {
			return pkgerrors.New(pkgerrors.CodePolicy, "disposable email domains are not allowed").
				WithDetails(map[string]any{"domain": domain})
		}

		if other := doc.FindIdentityByHandle(handle); other != nil &&
			registry.CanonicalEmail(other.Email) != email {
			return pkgerrors.New(pkgerrors.CodeConflict, "handle already taken")
		}

		ident := doc.FindIdentityByEmail(email)
		if ident == nil {
			doc.Identities = append(doc.Identities, registry.Identity{
				ID:        uuid.NewString(),
				Handle:    handle,
				Email:     email,
				Marks:     []string{mark},
				CreatedAt: s.clock().UTC(),
			})
			ident = &doc.Identities[len(doc.Identities)-1]
		} else {
			current := registry.CanonicalHandle(ident.Handle)
			if current != "" && current != handle && !s.allowHandleChange {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "handle is frozen for this email")
			}
			ident.Handle = handle
			ident.Marks = appendUnique(ident.Marks, mark)
		}
		if input.DeviceID != "" {
			ident.DeviceIDs = appendUnique(ident.DeviceIDs, input.DeviceID)
		}

		stampDonations(doc, email, handle)

		out = cloneIdentity(ident)
		s.metrics.IncHandleClaimed()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// markOwnedBy verifies some donation carries this exact mark for this exact
// canonical email. A mark minted for another payer can never claim a handle.
func markOwnedBy(doc *registry.Document, mark, email string) bool {
	for i := range doc.Donations {
		if doc.Donations[i].Mark == mark &&
			registry.CanonicalEmail(doc.Donations[i].Email) == email {
			return true
		}
	}
	return false
}

// stampDonations marks every donation for the email as bound, for downstream
// display.
func stampDonations(doc *registry.Document, email, handle string) {
	for i := range doc.Donations {
		if registry.CanonicalEmail(doc.Donations[i].Email) == email {
			doc.Donations[i].HandleBound = true
			doc.Donations[i].BoundHandle = handle
		}
	}
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

func cloneIdentity(ident *registry.Identity) registry.Identity {
	out := *ident
	out.Marks = append([]string(nil), ident.Marks...)
	out.DeviceIDs = append([]string(nil), ident.DeviceIDs...)
	return out
}
