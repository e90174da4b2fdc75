// Package approval decides what happens to a pending referral bonus: pay it
// automatically, flag it for fraud review, or queue it for a human look.
//
// The engine is fail-closed. Anything that goes wrong during an evaluation —
// storage errors, panics, a payout that cannot commit — yields a non-approved
// outcome at maximum severity rather than an error the caller could ignore.
package approval

import (
	"context"
	"time"

	"github.com/iprofit-labs/refpay/internal/security"
)

// Decision is the engine's verdict for one evaluation.
type Decision string

const (
	// DecisionAutoApproved means the bonus was paid in this evaluation.
	DecisionAutoApproved Decision = "auto_approved"
	// DecisionFlagged means the referral was moved to Flagged for fraud review.
	DecisionFlagged Decision = "flagged"
	// DecisionQueued means the referral stays Pending, annotated for manual
	// review, and may be evaluated again.
	DecisionQueued Decision = "queued"
	// DecisionRejected means the referral was ineligible or not evaluable
	// (wrong state, concurrent evaluation). Nothing was changed terminally.
	DecisionRejected Decision = "rejected"
	// DecisionFailed is the fail-closed verdict after an internal error.
	DecisionFailed Decision = "failed"
)

// Outcome is the full result of evaluating one referral.
type Outcome struct {
	ReferralID    string             `json:"referralId"`
	Decision      Decision           `json:"decision"`
	Approved      bool               `json:"approved"`
	RiskScore     int                `json:"riskScore"`
	RiskLevel     security.RiskLevel `json:"riskLevel"`
	Reasons       []string           `json:"reasons,omitempty"`
	TransactionID string             `json:"transactionId,omitempty"`
	// RequiresManualReview is set on flagged and queued outcomes: a human
	// has to look before this referral can pay out.
	RequiresManualReview bool      `json:"requiresManualReview,omitempty"`
	EvaluatedAt          time.Time `json:"evaluatedAt"`
}

// EventSink receives evaluation outcomes for fan-out (websocket stream,
// audit trail). Implementations must not block the evaluation path.
type EventSink interface {
	EvaluationCompleted(ctx context.Context, o *Outcome)
}

// PolicySource yields the checker configuration for one evaluation.
// Implementations may re-read the environment so operators can tune
// thresholds without a restart.
type PolicySource interface {
	CheckPolicy() security.Config
}

// StaticPolicy is a PolicySource returning a fixed configuration.
type StaticPolicy struct {
	Config security.Config
}

func (s StaticPolicy) CheckPolicy() security.Config { return s.Config }
