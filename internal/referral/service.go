package referral

import (
	"context"
	"fmt"
	"time"

	"github.com/iprofit-labs/refpay/internal/idgen"
	"github.com/iprofit-labs/refpay/internal/logging"
	"github.com/iprofit-labs/refpay/internal/user"
	"github.com/iprofit-labs/refpay/internal/validation"
)

// Service wraps the store with intake validation and business rules.
type Service struct {
	store    Store
	profiles user.Store
}

// NewService creates a referral service.
func NewService(store Store, profiles user.Store) *Service {
	return &Service{store: store, profiles: profiles}
}

// CreateInput is the intake request for a new referral.
type CreateInput struct {
	ReferrerID  string    `json:"referrerId"`
	RefereeID   string    `json:"refereeId"`
	BonusAmount string    `json:"bonusAmount"`
	ProfitBonus string    `json:"profitBonus,omitempty"`
	BonusType   BonusType `json:"bonusType,omitempty"`
	IPAddress   string    `json:"ipAddress,omitempty"`
}

// Create validates and records a new pending referral.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Referral, error) {
	if !validation.ValidID(in.ReferrerID) {
		return nil, fmt.Errorf("invalid referrerId %q", in.ReferrerID)
	}
	if !validation.ValidID(in.RefereeID) {
		return nil, fmt.Errorf("invalid refereeId %q", in.RefereeID)
	}
	if in.ReferrerID == in.RefereeID {
		return nil, ErrSelfReferral
	}
	if err := validation.CheckAmount("bonusAmount", in.BonusAmount); err != nil {
		return nil, err
	}
	if in.ProfitBonus != "" {
		if err := validation.CheckAmount("profitBonus", in.ProfitBonus); err != nil {
			return nil, err
		}
	}

	bonusType := in.BonusType
	if bonusType == "" {
		bonusType = BonusSignup
	}
	switch bonusType {
	case BonusSignup, BonusProfitShare:
	default:
		return nil, fmt.Errorf("unknown bonusType %q", bonusType)
	}

	// Both parties must be known to the platform.
	if _, err := s.profiles.Get(ctx, in.ReferrerID); err != nil {
		return nil, fmt.Errorf("referrer: %w", err)
	}
	if _, err := s.profiles.Get(ctx, in.RefereeID); err != nil {
		return nil, fmt.Errorf("referee: %w", err)
	}

	if dup, err := s.store.HasPendingPair(ctx, in.ReferrerID, in.RefereeID); err != nil {
		return nil, err
	} else if dup {
		return nil, ErrDuplicatePending
	}

	now := time.Now()
	r := &Referral{
		ID:          idgen.WithPrefix("ref_"),
		ReferrerID:  in.ReferrerID,
		RefereeID:   in.RefereeID,
		BonusAmount: in.BonusAmount,
		ProfitBonus: in.ProfitBonus,
		BonusType:   bonusType,
		Status:      StatusPending,
		IPAddress:   in.IPAddress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}

	logging.L(ctx).Info("referral created",
		"referral_id", r.ID,
		"referrer_id", r.ReferrerID,
		"referee_id", r.RefereeID,
		"bonus_amount", r.BonusAmount,
	)
	return r, nil
}

// Get returns a referral by ID.
func (s *Service) Get(ctx context.Context, id string) (*Referral, error) {
	return s.store.Get(ctx, id)
}

// ListByReferrer returns a referrer's referrals, newest first.
func (s *Service) ListByReferrer(ctx context.Context, referrerID string, limit int) ([]*Referral, error) {
	return s.store.ListByReferrer(ctx, referrerID, limit)
}

// ListByStatus returns referrals in a given state, newest first.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*Referral, error) {
	switch status {
	case StatusPending, StatusPaid, StatusFlagged, StatusRejected:
	default:
		return nil, fmt.Errorf("unknown status %q", status)
	}
	return s.store.ListByStatus(ctx, status, limit)
}

// ReviewQueue returns pending referrals annotated for manual review.
func (s *Service) ReviewQueue(ctx context.Context, limit int) ([]*Referral, error) {
	return s.store.ListQueued(ctx, limit)
}

// Review resolves a queued or flagged referral by hand. Approving clears the
// review annotations and returns the referral to Pending so the engine can
// evaluate it again; rejecting moves it to Rejected. Payouts always go
// through the engine, never through review.
func (s *Service) Review(ctx context.Context, id string, approve bool, note string) (*Referral, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == StatusPaid {
		return nil, ErrNotPending
	}

	if note != "" {
		r.SetMeta(MetaAuditNote, note)
	}
	if approve {
		// Clearing annotations returns the referral to the evaluation pool.
		delete(r.Metadata, MetaQueuedForReview)
		delete(r.Metadata, MetaEligibility)
		r.Status = StatusPending
	} else {
		r.Status = StatusRejected
	}
	if err := s.store.Update(ctx, r, nil); err != nil {
		return nil, err
	}

	logging.L(ctx).Info("referral reviewed",
		"referral_id", r.ID, "approved_for_reevaluation", approve, "status", r.Status)
	return r, nil
}
