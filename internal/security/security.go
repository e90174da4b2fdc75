// Package security implements the fraud-risk checks that gate referral
// bonus payouts.
//
// Seven independent checkers each examine one angle of a referral (shared
// IPs, shared devices, behavioral similarity, account verification, VPN use,
// timing, referral velocity). The Aggregator fans them out concurrently and
// folds their findings into a single Result with a 0-100 risk score.
package security

import (
	"context"
	"fmt"
	"time"

	"github.com/iprofit-labs/refpay/internal/referral"
	"github.com/iprofit-labs/refpay/internal/user"
)

// RiskLevel classifies the severity of a finding or an overall result.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// rank orders risk levels for dominance comparisons.
func (l RiskLevel) rank() int {
	switch l {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether l is at least as severe as other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.rank() >= other.rank()
}

// MaxLevel returns the more severe of two risk levels.
func MaxLevel(a, b RiskLevel) RiskLevel {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Config tunes the checkers. Zero thresholds fall back to sane defaults via
// DefaultConfig; the server layer builds this from environment policy.
type Config struct {
	EnableIPCheck         bool
	EnableDeviceCheck     bool
	EnableBehavioralCheck bool
	EnableVPNCheck        bool
	EnableTimingCheck     bool

	MaxRiskScore       int
	MinAccountAgeDays  int
	MaxSameIPReferrals int
	MaxDailyReferrals  int

	RequireKYC           bool
	RequireEmailVerified bool
	RequirePhoneVerified bool
}

// DefaultConfig returns the policy used when no overrides are set.
func DefaultConfig() Config {
	return Config{
		EnableIPCheck:         true,
		EnableDeviceCheck:     true,
		EnableBehavioralCheck: true,
		EnableVPNCheck:        true,
		EnableTimingCheck:     true,
		MaxRiskScore:          70,
		MinAccountAgeDays:     7,
		MaxSameIPReferrals:    5,
		MaxDailyReferrals:     5,
		RequireKYC:            true,
		RequireEmailVerified:  true,
	}
}

// Stats answers the aggregate questions checkers ask about history.
type Stats interface {
	// ReferralsFromIP counts referrals recorded from an IP address.
	ReferralsFromIP(ctx context.Context, ip string) (int, error)
	// ReferralsSince counts referrals a referrer created after the cutoff.
	ReferralsSince(ctx context.Context, referrerID string, since time.Time) (int, error)
	// AccountsOnDevice counts distinct accounts sharing a device fingerprint.
	AccountsOnDevice(ctx context.Context, deviceID string) (int, error)
}

// Input is everything a checker may look at. Profile or history fields may
// be nil/empty; checkers degrade gracefully with small penalties rather than
// hard failures when data is missing.
type Input struct {
	Referral *referral.Referral
	Referrer *user.Profile
	Referee  *user.Profile

	// Recent IPs per party, newest first.
	ReferrerIPs []string
	RefereeIPs  []string

	Stats  Stats
	Config Config
}

// CheckResult is one checker's verdict.
type CheckResult struct {
	Checker   string    `json:"checker"`
	Passed    bool      `json:"passed"`
	Score     int       `json:"score"`
	RiskLevel RiskLevel `json:"riskLevel"`
	Reasons   []string  `json:"reasons,omitempty"`
	Details   map[string]any
}

func newCheckResult(name string) *CheckResult {
	return &CheckResult{
		Checker:   name,
		Passed:    true,
		RiskLevel: RiskLow,
		Details:   make(map[string]any),
	}
}

// fail records a finding: points are added, the checker no longer passes,
// and the level escalates to at least lvl.
func (r *CheckResult) fail(points int, lvl RiskLevel, format string, args ...any) {
	r.Passed = false
	r.Score += points
	r.RiskLevel = MaxLevel(r.RiskLevel, lvl)
	r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
}

// penalty records a soft deduction for missing or degraded data. The checker
// still passes; the points keep borderline cases out of auto-approval.
func (r *CheckResult) penalty(points int, format string, args ...any) {
	r.Score += points
	r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
}

// Result is the aggregated outcome over all checkers.
type Result struct {
	Passed    bool           `json:"passed"`
	Score     int            `json:"score"` // clamped to [0,100]
	RiskLevel RiskLevel      `json:"riskLevel"`
	Checks    []*CheckResult `json:"checks"`
	Reasons   []string       `json:"reasons,omitempty"`
}

// Checker examines one fraud angle of a referral.
type Checker interface {
	Name() string
	Check(ctx context.Context, in *Input) *CheckResult
}
