// Package referral manages referral records and their payout state machine.
//
// A referral links a referrer to a referee and carries a pending monetary
// bonus. It leaves Pending at most once: to Paid (auto-approved payout) or to
// Flagged (held for manual review). Queueing for review is an annotation
// only — a queued referral stays Pending and can be re-evaluated.
package referral

import (
	"context"
	"errors"
	"time"

	"github.com/iprofit-labs/refpay/internal/txn"
)

var (
	ErrReferralNotFound = errors.New("referral not found")
	ErrNotPending       = errors.New("referral is not pending")
	ErrDuplicatePending = errors.New("a pending referral already exists for this pair")
	ErrSelfReferral     = errors.New("referrer and referee must be different users")
)

// Status represents the payout state of a referral.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusFlagged  Status = "flagged"
	StatusRejected Status = "rejected"
)

// BonusType distinguishes the one-time signup reward from ongoing
// profit sharing.
type BonusType string

const (
	BonusSignup      BonusType = "signup"
	BonusProfitShare BonusType = "profit_share"
)

// Metadata keys written by the decision engine.
const (
	MetaQueuedForReview = "queued_for_review"
	MetaSecurityCheck   = "security_check"
	MetaEligibility     = "eligibility_rejection"
	MetaAutoApproved    = "auto_approved"
	MetaAuditNote       = "audit_note"
	MetaPayoutError     = "payout_error"
)

// ClaimTTL is how long an evaluation claim is honored before it is
// considered stale and another evaluator may take over.
const ClaimTTL = 5 * time.Minute

// Referral links a referrer to a referee with a pending bonus.
// Amounts are fixed-point decimal strings with six fractional digits.
type Referral struct {
	ID            string         `json:"id"`
	ReferrerID    string         `json:"referrerId"`
	RefereeID     string         `json:"refereeId"`
	BonusAmount   string         `json:"bonusAmount"`
	ProfitBonus   string         `json:"profitBonus"`
	BonusType     BonusType      `json:"bonusType"`
	Status        Status         `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	IPAddress     string         `json:"ipAddress,omitempty"` // source IP of the referral signup
	TransactionID string         `json:"transactionId,omitempty"`
	PaidAt        time.Time      `json:"paidAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// SetMeta writes a metadata annotation, allocating the map on first use.
func (r *Referral) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// Store persists referral records.
//
// Mutating methods accept an optional txn.Tx; a nil Tx means the write is
// autonomous. ClaimForEvaluation is the compare-and-swap that makes
// concurrent evaluations of the same referral safe: it succeeds only while
// the referral is Pending and unclaimed (or the previous claim is stale).
type Store interface {
	Create(ctx context.Context, r *Referral) error
	Get(ctx context.Context, id string) (*Referral, error)
	Update(ctx context.Context, r *Referral, tx txn.Tx) error

	ClaimForEvaluation(ctx context.Context, id string) (bool, error)
	ReleaseClaim(ctx context.Context, id string) error

	CountByReferrerSince(ctx context.Context, referrerID string, since time.Time) (int, error)
	CountFromIP(ctx context.Context, ip string) (int, error)
	HasPendingPair(ctx context.Context, referrerID, refereeID string) (bool, error)

	ListByStatus(ctx context.Context, status Status, limit int) ([]*Referral, error)
	ListByReferrer(ctx context.Context, referrerID string, limit int) ([]*Referral, error)
	ListQueued(ctx context.Context, limit int) ([]*Referral, error)
}
