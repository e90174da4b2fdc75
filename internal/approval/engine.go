package approval

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/iprofit-labs/refpay/internal/idgen"
	"github.com/iprofit-labs/refpay/internal/ledger"
	"github.com/iprofit-labs/refpay/internal/logging"
	"github.com/iprofit-labs/refpay/internal/metrics"
	"github.com/iprofit-labs/refpay/internal/referral"
	"github.com/iprofit-labs/refpay/internal/security"
	"github.com/iprofit-labs/refpay/internal/syncutil"
	"github.com/iprofit-labs/refpay/internal/traces"
	"github.com/iprofit-labs/refpay/internal/txn"
	"github.com/iprofit-labs/refpay/internal/user"
)

// failClosedScore is the risk score reported when an evaluation errors out.
const failClosedScore = 95

// flagRiskScoreDefault flags referrals scoring above this when no policy
// override is configured.
const flagRiskScoreDefault = 70

// EngineConfig wires an Engine. Referrals, Profiles, Ledger, Txns, and
// Aggregator are required; the rest default sensibly.
type EngineConfig struct {
	Referrals  referral.Store
	Profiles   user.Store
	Ledger     ledger.Store
	Txns       txn.Beginner
	Aggregator *security.Aggregator

	Eligibility EligibilityPolicy // defaults to DefaultPolicy{}
	Policy      PolicySource      // defaults to security.DefaultConfig()
	Events      EventSink         // optional
}

// Engine evaluates pending referrals and settles the approved ones.
type Engine struct {
	referrals   referral.Store
	profiles    user.Store
	books       ledger.Store
	txns        txn.Beginner
	agg         *security.Aggregator
	eligibility EligibilityPolicy
	policy      PolicySource
	events      EventSink
	locks       *syncutil.ContextShardedMutex
}

// NewEngine creates an approval engine.
func NewEngine(cfg EngineConfig) *Engine {
	eligibility := cfg.Eligibility
	if eligibility == nil {
		eligibility = DefaultPolicy{}
	}
	policy := cfg.Policy
	if policy == nil {
		policy = StaticPolicy{Config: security.DefaultConfig()}
	}
	return &Engine{
		referrals:   cfg.Referrals,
		profiles:    cfg.Profiles,
		books:       cfg.Ledger,
		txns:        cfg.Txns,
		agg:         cfg.Aggregator,
		eligibility: eligibility,
		policy:      policy,
		events:      cfg.Events,
		locks:       syncutil.NewContextShardedMutex(),
	}
}

// Evaluate runs the full pipeline for one referral: claim, eligibility, risk
// scoring, decision, and (for approvals) the atomic payout. It never returns
// nil and never returns an error; internal failures yield the fail-closed
// outcome instead.
//
// Safe to call concurrently for the same referral: an in-process lock plus a
// store-level claim guarantee at most one payout.
func (e *Engine) Evaluate(ctx context.Context, referralID string) (out *Outcome) {
	ctx, span := traces.StartSpan(ctx, "approval.Evaluate",
		attribute.String("referral.id", referralID))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("evaluation panicked", "referral_id", referralID, "panic", r)
			out = e.failClosed(referralID, "internal error during evaluation")
		}
		if out != nil {
			span.SetAttributes(
				attribute.String("decision", string(out.Decision)),
				attribute.Int("risk.score", out.RiskScore),
			)
			metrics.EvaluationsTotal.WithLabelValues(string(out.Decision)).Inc()
			if e.events != nil {
				e.events.EvaluationCompleted(ctx, out)
			}
		}
	}()

	unlock, err := e.locks.LockContext(ctx, "referral:"+referralID)
	if err != nil {
		return e.failClosed(referralID, "evaluation cancelled")
	}
	defer unlock()

	r, err := e.referrals.Get(ctx, referralID)
	if err != nil {
		// An unknown referral is a caller mistake, not an engine failure.
		if errors.Is(err, referral.ErrReferralNotFound) {
			return &Outcome{
				ReferralID:  referralID,
				Decision:    DecisionRejected,
				RiskLevel:   security.RiskLow,
				Reasons:     []string{"referral not found"},
				EvaluatedAt: time.Now(),
			}
		}
		logging.L(ctx).Error("load referral failed", "referral_id", referralID, "error", err)
		return e.failClosed(referralID, "referral lookup failed")
	}
	if r.Status != referral.StatusPending {
		return &Outcome{
			ReferralID:  referralID,
			Decision:    DecisionRejected,
			RiskLevel:   security.RiskLow,
			Reasons:     []string{"referral is " + string(r.Status) + ", not pending"},
			EvaluatedAt: time.Now(),
		}
	}

	claimed, err := e.referrals.ClaimForEvaluation(ctx, referralID)
	if err != nil {
		logging.L(ctx).Error("claim failed", "referral_id", referralID, "error", err)
		return e.failClosed(referralID, "claim failed")
	}
	if !claimed {
		return &Outcome{
			ReferralID:  referralID,
			Decision:    DecisionRejected,
			RiskLevel:   security.RiskLow,
			Reasons:     []string{"another evaluation is in progress"},
			EvaluatedAt: time.Now(),
		}
	}
	defer func() {
		// The claim only gates pending referrals, so releasing it after a
		// terminal transition is harmless.
		_ = e.referrals.ReleaseClaim(context.WithoutCancel(ctx), referralID)
	}()

	if err := e.eligibility.Eligible(r); err != nil {
		r.SetMeta(referral.MetaEligibility, err.Error())
		e.annotate(ctx, r)
		return &Outcome{
			ReferralID:  referralID,
			Decision:    DecisionRejected,
			RiskLevel:   security.RiskLow,
			Reasons:     []string{"ineligible: " + err.Error()},
			EvaluatedAt: time.Now(),
		}
	}

	result := e.agg.Evaluate(ctx, e.buildInput(ctx, r))

	r.SetMeta(referral.MetaSecurityCheck, map[string]any{
		"passed":     result.Passed,
		"score":      result.Score,
		"risk_level": string(result.RiskLevel),
		"reasons":    result.Reasons,
		"checked_at": time.Now().UTC().Format(time.RFC3339),
	})

	policy := e.policy.CheckPolicy()
	flagAbove := policy.MaxRiskScore
	if flagAbove <= 0 {
		flagAbove = flagRiskScoreDefault
	}
	// The configured cap binds even when every checker passed: soft
	// data-quality penalties accrue score without failing a checker.
	if result.Score > flagAbove || result.RiskLevel.AtLeast(security.RiskHigh) {
		return e.flag(ctx, r, result)
	}
	if result.Passed {
		return e.settle(ctx, r, result)
	}
	return e.queue(ctx, r, result)
}

// settle pays the bonus: one transaction covers the ledger entry, the
// balance credit, and the referral's move to Paid.
func (e *Engine) settle(ctx context.Context, r *referral.Referral, result *security.Result) *Outcome {
	already, err := e.books.HasTransactionForReferral(ctx, r.ID)
	if err != nil {
		logging.L(ctx).Error("payout idempotency check failed", "referral_id", r.ID, "error", err)
		return e.failClosed(r.ID, "payout precondition check failed")
	}
	if already {
		return &Outcome{
			ReferralID:  r.ID,
			Decision:    DecisionRejected,
			RiskScore:   result.Score,
			RiskLevel:   result.RiskLevel,
			Reasons:     []string{"bonus already paid for this referral"},
			EvaluatedAt: time.Now(),
		}
	}

	// The payout covers the signup bonus plus any accrued profit share.
	total, err := ledger.AddAmounts(r.BonusAmount, r.ProfitBonus)
	if err != nil {
		logging.L(ctx).Error("compute payout amount failed", "referral_id", r.ID, "error", err)
		return e.failClosed(r.ID, "invalid payout amount")
	}

	tx, err := e.txns.Begin(ctx)
	if err != nil {
		logging.L(ctx).Error("begin payout transaction failed", "referral_id", r.ID, "error", err)
		return e.failClosed(r.ID, "payout transaction unavailable")
	}
	defer tx.Rollback()

	txID, err := e.books.CreateBonusTransaction(ctx, &ledger.BonusTransaction{
		ID:         idgen.WithPrefix("btx_"),
		UserID:     r.ReferrerID,
		ReferralID: r.ID,
		Amount:     total,
		Status:     ledger.TxApproved,
		Metadata: map[string]any{
			"risk_score":    result.Score,
			"risk_level":    string(result.RiskLevel),
			"auto_approved": true,
		},
	}, tx)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateReferralPay) {
			return &Outcome{
				ReferralID:  r.ID,
				Decision:    DecisionRejected,
				RiskScore:   result.Score,
				RiskLevel:   result.RiskLevel,
				Reasons:     []string{"bonus already paid for this referral"},
				EvaluatedAt: time.Now(),
			}
		}
		logging.L(ctx).Error("record bonus transaction failed", "referral_id", r.ID, "error", err)
		return e.payoutFailed(ctx, r, err)
	}

	if err := e.books.IncrementBalance(ctx, r.ReferrerID, total, tx); err != nil {
		logging.L(ctx).Error("credit balance failed", "referral_id", r.ID, "error", err)
		return e.payoutFailed(ctx, r, err)
	}

	now := time.Now()
	r.Status = referral.StatusPaid
	r.TransactionID = txID
	r.PaidAt = now
	r.SetMeta(referral.MetaAutoApproved, true)
	delete(r.Metadata, referral.MetaQueuedForReview)
	if err := e.referrals.Update(ctx, r, tx); err != nil {
		logging.L(ctx).Error("mark referral paid failed", "referral_id", r.ID, "error", err)
		return e.payoutFailed(ctx, r, err)
	}

	if err := tx.Commit(); err != nil {
		logging.L(ctx).Error("commit payout failed", "referral_id", r.ID, "error", err)
		return e.payoutFailed(ctx, r, err)
	}

	metrics.PayoutsTotal.Inc()
	metrics.PayoutAmountTotal.Add(ledger.AmountFloat(total))
	logging.L(ctx).Info("referral auto-approved",
		"referral_id", r.ID,
		"referrer_id", r.ReferrerID,
		"amount", total,
		"risk_score", result.Score,
		"transaction_id", txID,
	)

	return &Outcome{
		ReferralID:    r.ID,
		Decision:      DecisionAutoApproved,
		Approved:      true,
		RiskScore:     result.Score,
		RiskLevel:     result.RiskLevel,
		Reasons:       result.Reasons,
		TransactionID: txID,
		EvaluatedAt:   now,
	}
}

// flag moves the referral to Flagged for fraud review.
func (e *Engine) flag(ctx context.Context, r *referral.Referral, result *security.Result) *Outcome {
	r.Status = referral.StatusFlagged
	if err := e.referrals.Update(ctx, r, nil); err != nil {
		logging.L(ctx).Error("flag referral failed", "referral_id", r.ID, "error", err)
		return e.failClosed(r.ID, "could not flag referral")
	}
	logging.L(ctx).Warn("referral flagged",
		"referral_id", r.ID,
		"risk_score", result.Score,
		"risk_level", result.RiskLevel,
		"reasons", result.Reasons,
	)
	return &Outcome{
		ReferralID:           r.ID,
		Decision:             DecisionFlagged,
		RiskScore:            result.Score,
		RiskLevel:            result.RiskLevel,
		Reasons:              result.Reasons,
		RequiresManualReview: true,
		EvaluatedAt:          time.Now(),
	}
}

// queue annotates the referral for manual review. It stays Pending and may
// be re-evaluated.
func (e *Engine) queue(ctx context.Context, r *referral.Referral, result *security.Result) *Outcome {
	r.SetMeta(referral.MetaQueuedForReview, true)
	e.annotate(ctx, r)
	logging.L(ctx).Info("referral queued for review",
		"referral_id", r.ID,
		"risk_score", result.Score,
		"risk_level", result.RiskLevel,
	)
	return &Outcome{
		ReferralID:           r.ID,
		Decision:             DecisionQueued,
		RiskScore:            result.Score,
		RiskLevel:            result.RiskLevel,
		Reasons:              result.Reasons,
		RequiresManualReview: true,
		EvaluatedAt:          time.Now(),
	}
}

// payoutFailed records the error on the referral (best effort, outside the
// aborted transaction) and fails closed.
func (e *Engine) payoutFailed(ctx context.Context, r *referral.Referral, cause error) *Outcome {
	r.Status = referral.StatusPending
	r.TransactionID = ""
	r.PaidAt = time.Time{}
	r.SetMeta(referral.MetaPayoutError, cause.Error())
	e.annotate(ctx, r)
	return e.failClosed(r.ID, "payout failed")
}

// annotate persists metadata-only changes. Failures are logged, not fatal:
// the annotation is advisory.
func (e *Engine) annotate(ctx context.Context, r *referral.Referral) {
	if err := e.referrals.Update(ctx, r, nil); err != nil {
		logging.L(ctx).Error("annotate referral failed", "referral_id", r.ID, "error", err)
	}
}

func (e *Engine) failClosed(referralID string, reasons ...string) *Outcome {
	return &Outcome{
		ReferralID:  referralID,
		Decision:    DecisionFailed,
		Approved:    false,
		RiskScore:   failClosedScore,
		RiskLevel:   security.RiskHigh,
		Reasons:     reasons,
		EvaluatedAt: time.Now(),
	}
}

// buildInput assembles everything the checkers look at. Missing context
// (unknown profiles, empty IP history) degrades to nils; checkers penalize
// rather than fail on absent data.
func (e *Engine) buildInput(ctx context.Context, r *referral.Referral) *security.Input {
	in := &security.Input{
		Referral: r,
		Stats:    &storeStats{referrals: e.referrals, profiles: e.profiles},
		Config:   e.policy.CheckPolicy(),
	}

	if p, err := e.profiles.Get(ctx, r.ReferrerID); err == nil {
		in.Referrer = p
	} else if !errors.Is(err, user.ErrProfileNotFound) {
		logging.L(ctx).Warn("referrer profile unavailable", "user_id", r.ReferrerID, "error", err)
	}
	if p, err := e.profiles.Get(ctx, r.RefereeID); err == nil {
		in.Referee = p
	} else if !errors.Is(err, user.ErrProfileNotFound) {
		logging.L(ctx).Warn("referee profile unavailable", "user_id", r.RefereeID, "error", err)
	}

	if ips, err := e.profiles.RecentIPs(ctx, r.ReferrerID, 3); err == nil {
		in.ReferrerIPs = ips
	}
	if ips, err := e.profiles.RecentIPs(ctx, r.RefereeID, 3); err == nil {
		in.RefereeIPs = ips
	}
	return in
}

// storeStats adapts the referral and profile stores to security.Stats.
type storeStats struct {
	referrals referral.Store
	profiles  user.Store
}

func (s *storeStats) ReferralsFromIP(ctx context.Context, ip string) (int, error) {
	return s.referrals.CountFromIP(ctx, ip)
}

func (s *storeStats) ReferralsSince(ctx context.Context, referrerID string, since time.Time) (int, error) {
	return s.referrals.CountByReferrerSince(ctx, referrerID, since)
}

func (s *storeStats) AccountsOnDevice(ctx context.Context, deviceID string) (int, error) {
	return s.profiles.CountAccountsByDevice(ctx, deviceID)
}
