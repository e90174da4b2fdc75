package security

import (
	"context"
	"sync"

	"github.com/iprofit-labs/refpay/internal/logging"
	"github.com/iprofit-labs/refpay/internal/metrics"
)

// autoApproveScoreCap is the aggregate score above which a referral is never
// considered clean, regardless of individual checker verdicts.
const autoApproveScoreCap = 50

// Aggregator fans a referral out to every checker concurrently and folds
// the verdicts into one Result.
type Aggregator struct {
	checkers []Checker
}

// NewAggregator builds the standard checker set. Nil detectors fall back to
// the built-in heuristics.
func NewAggregator(vpn VPNDetector, activity ActivityComparator) *Aggregator {
	if vpn == nil {
		vpn = HeuristicVPNDetector{}
	}
	if activity == nil {
		activity = NoopActivityComparator{}
	}
	return &Aggregator{
		checkers: []Checker{
			IPChecker{},
			DeviceChecker{},
			BehavioralChecker{Activity: activity},
			VPNChecker{Detector: vpn},
			TimingChecker{},
			VerificationChecker{},
			SuspiciousActivityChecker{},
		},
	}
}

// Evaluate runs all checkers concurrently and aggregates.
//
// A checker that panics is isolated: it contributes a small penalty and a
// "check unavailable" reason instead of taking the evaluation down. The
// aggregate score is clamped to [0,100]; the result passes only when every
// checker passed and the score stays at or below the auto-approve cap.
func (a *Aggregator) Evaluate(ctx context.Context, in *Input) *Result {
	results := make([]*CheckResult, len(a.checkers))

	var wg sync.WaitGroup
	for i, c := range a.checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					metrics.CheckerFailuresTotal.WithLabelValues(c.Name()).Inc()
					logging.L(ctx).Error("checker panicked",
						"checker", c.Name(), "panic", r)
					results[i] = unavailableResult(c.Name())
				}
			}()
			results[i] = c.Check(ctx, in)
		}(i, c)
	}
	wg.Wait()

	out := &Result{Passed: true, RiskLevel: RiskLow, Checks: results}
	dominant := RiskLow
	for _, r := range results {
		out.Score += r.Score
		out.Reasons = append(out.Reasons, r.Reasons...)
		if !r.Passed {
			out.Passed = false
			dominant = MaxLevel(dominant, r.RiskLevel)
		}
	}

	if out.Score < 0 {
		out.Score = 0
	}
	if out.Score > 100 {
		out.Score = 100
	}
	if out.Score > autoApproveScoreCap {
		out.Passed = false
	}
	out.RiskLevel = MaxLevel(levelForScore(out.Score), dominant)

	metrics.RiskScores.Observe(float64(out.Score))
	return out
}

func levelForScore(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

func unavailableResult(name string) *CheckResult {
	res := newCheckResult(name)
	res.penalty(missingDataPenalty, "%s check unavailable", name)
	return res
}
