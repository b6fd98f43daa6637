package repair

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/jbelamor/donormark-backend/internal/registry"
	pkgerrors "github.com/jbelamor/donormark-backend/pkg/errors"
	"github.com/jbelamor/donormark-backend/pkg/logger"
)

// ServiceParams wires the repair pass.
type ServiceParams struct {
	Registry *registry.Registry
	Logger   *logger.Logger
}

// Service normalizes legacy donation records in place. Older registry files
// predate the public-wall visibility flags and handle stamping, so records
// written by that tooling carry nil flags and bound handles without a value.
type Service struct {
	registry *registry.Registry
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Registry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "registry required")
	}
	return &Service{registry: params.Registry, logg: params.Logger}, nil
}

// Report summarizes one repair pass.
type Report struct {
	Scanned          int `json:"scanned"`
	FlagsDefaulted   int `json:"flagsDefaulted"`
	AmountsForced    int `json:"amountsForced"`
	HandlesRecovered int `json:"handlesRecovered"`
	Unrepairable     int `json:"unrepairable"`
}

// Changed reports whether the pass rewrote anything.
func (r Report) Changed() bool {
	return r.FlagsDefaulted > 0 || r.AmountsForced > 0 || r.HandlesRecovered > 0
}

// Run walks every donation once and writes the document back only when
// something changed. Records that cannot be repaired are reported through the
// aggregated error without blocking repairs to the rest.
func (s *Service) Run(ctx context.Context) (Report, error) {
	var report Report
	var problems error

	err := s.registry.Update(ctx, func(doc *registry.Document) error {
		for i := range doc.Donations {
			donation := &doc.Donations[i]
			report.Scanned++

			if strings.TrimSpace(donation.SessionID) == "" {
				report.Unrepairable++
				problems = multierr.Append(problems,
					fmt.Errorf("donation %d has no session id", i))
				continue
			}

			if fixVisibilityFlags(donation) {
				report.FlagsDefaulted++
			}
			if forceAmountVisible(donation) {
				report.AmountsForced++
			}
			if recoverBoundHandle(doc, donation) {
				report.HandlesRecovered++
			}
		}
		if !report.Changed() {
			// Update persists on nil return, so an untouched document
			// short-circuits through a sentinel instead.
			return errNothingToRepair
		}
		return nil
	})
	if err != nil && !stdErrors.Is(err, errNothingToRepair) {
		return report, err
	}

	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"scanned":          report.Scanned,
			"flagsDefaulted":   report.FlagsDefaulted,
			"amountsForced":    report.AmountsForced,
			"handlesRecovered": report.HandlesRecovered,
			"unrepairable":     report.Unrepairable,
		})
		s.logg.Info(ctx, "repair pass finished")
	}
	return report, problems
}

var errNothingToRepair = stdErrors.New("nothing to repair")

// fixVisibilityFlags fills missing wall-visibility flags with the defaults
// new records get: name and username visible, amount hidden.
func fixVisibilityFlags(donation *registry.Donation) bool {
	changed := false
	if donation.ShowName == nil {
		donation.ShowName = boolPtr(true)
		changed = true
	}
	if donation.ShowUsername == nil {
		donation.ShowUsername = boolPtr(true)
		changed = true
	}
	if donation.ShowAmount == nil {
		donation.ShowAmount = boolPtr(false)
		changed = true
	}
	return changed
}

// forceAmountVisible keeps a wall entry from rendering empty: a donor who
// hides both name and username still shows the amount.
func forceAmountVisible(donation *registry.Donation) bool {
	if donation.ShowName != nil && !*donation.ShowName &&
		donation.ShowUsername != nil && !*donation.ShowUsername &&
		(donation.ShowAmount == nil || !*donation.ShowAmount) {
		donation.ShowAmount = boolPtr(true)
		return true
	}
	return false
}

// recoverBoundHandle backfills the handle on records stamped as bound before
// the handle value was persisted alongside the flag. The claimed identity is
// authoritative; the email local part is the legacy fallback.
func recoverBoundHandle(doc *registry.Document, donation *registry.Donation) bool {
	if !donation.HandleBound || donation.BoundHandle != "" {
		return false
	}
	if ident := doc.FindIdentityByEmail(donation.Email); ident != nil && ident.Handle != "" {
		donation.BoundHandle = registry.CanonicalHandle(ident.Handle)
		return true
	}
	email := registry.CanonicalEmail(donation.Email)
	if at := strings.Index(email, "@"); at > 0 {
		donation.BoundHandle = email[:at]
		return true
	}
	return false
}

func boolPtr(v bool) *bool { return &v }
