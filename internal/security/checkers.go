package security

import (
	"context"
	"time"

	"github.com/iprofit-labs/refpay/internal/referral"
	"github.com/iprofit-labs/refpay/internal/user"
)

// Checker names, in evaluation order.
const (
	CheckerIP         = "ip"
	CheckerDevice     = "device"
	CheckerBehavioral = "behavioral"
	CheckerVPN        = "vpn"
	CheckerTiming     = "timing"
	CheckerVerify     = "verification"
	CheckerSuspicious = "suspicious_activity"
)

const (
	deviceAccountLimit  = 3
	nameSimThreshold    = 0.8
	activitySimLimit    = 0.9
	vpnLookupLimit      = 3
	rapidReferralWindow = 10 * time.Minute
	dormancyWindow      = 168 * time.Hour
	missingDataPenalty  = 5
)

// -----------------------------------------------------------------------------
// IP
// -----------------------------------------------------------------------------

// IPChecker looks for referrer/referee address overlap and IP abuse.
type IPChecker struct{}

func (IPChecker) Name() string { return CheckerIP }

func (IPChecker) Check(ctx context.Context, in *Input) *CheckResult {
	res := newCheckResult(CheckerIP)
	if !in.Config.EnableIPCheck {
		res.Details["skipped"] = true
		return res
	}

	referrerIPs := ipSet(in.ReferrerIPs, profileIP(in.Referrer))
	refereeIPs := ipSet(in.RefereeIPs, profileIP(in.Referee), in.Referral.IPAddress)

	if len(referrerIPs) == 0 || len(refereeIPs) == 0 {
		res.penalty(missingDataPenalty, "ip history incomplete")
	}
	for ip := range refereeIPs {
		if referrerIPs[ip] {
			res.fail(30, RiskHigh, "referrer and referee share ip %s", ip)
			break
		}
	}

	srcIP := in.Referral.IPAddress
	if srcIP == "" {
		res.penalty(missingDataPenalty, "no source ip recorded on referral")
		return res
	}
	if IsPrivateIP(srcIP) {
		res.fail(20, RiskMedium, "referral originated from private-range ip %s", srcIP)
	}
	if in.Stats != nil {
		count, err := in.Stats.ReferralsFromIP(ctx, srcIP)
		if err != nil {
			res.penalty(missingDataPenalty, "ip referral history unavailable")
		} else if count > in.Config.MaxSameIPReferrals {
			res.fail(25, RiskMedium, "%d referrals recorded from ip %s", count, srcIP)
		}
		res.Details["referrals_from_ip"] = count
	}
	return res
}

func profileIP(p *user.Profile) string {
	if p == nil {
		return ""
	}
	return p.LastIPAddress
}

func ipSet(ips []string, extra ...string) map[string]bool {
	set := make(map[string]bool, len(ips)+len(extra))
	for _, ip := range ips {
		if ip != "" {
			set[ip] = true
		}
	}
	for _, ip := range extra {
		if ip != "" {
			set[ip] = true
		}
	}
	return set
}

// -----------------------------------------------------------------------------
// Device
// -----------------------------------------------------------------------------

// DeviceChecker flags shared or overloaded device fingerprints.
type DeviceChecker struct{}

func (DeviceChecker) Name() string { return CheckerDevice }

func (DeviceChecker) Check(ctx context.Context, in *Input) *CheckResult {
	res := newCheckResult(CheckerDevice)
	if !in.Config.EnableDeviceCheck {
		res.Details["skipped"] = true
		return res
	}

	var referrerDev, refereeDev string
	if in.Referrer != nil {
		referrerDev = in.Referrer.DeviceID
	}
	if in.Referee != nil {
		refereeDev = in.Referee.DeviceID
	}

	if refereeDev == "" {
		res.penalty(missingDataPenalty, "referee device fingerprint missing")
		return res
	}
	if referrerDev != "" && referrerDev == refereeDev {
		res.fail(35, RiskHigh, "referrer and referee share device %s", refereeDev)
	}
	if in.Stats != nil {
		count, err := in.Stats.AccountsOnDevice(ctx, refereeDev)
		if err != nil {
			res.penalty(missingDataPenalty, "device account history unavailable")
		} else if count > deviceAccountLimit {
			res.fail(20, RiskMedium, "%d accounts registered on device %s", count, refereeDev)
		}
		res.Details["accounts_on_device"] = count
	}
	return res
}

// -----------------------------------------------------------------------------
// Behavioral
// -----------------------------------------------------------------------------

// BehavioralChecker compares the two accounts for signs of one person
// operating both: near-identical names, templated emails, lockstep signups,
// matching activity patterns.
type BehavioralChecker struct {
	Activity ActivityComparator
}

func (BehavioralChecker) Name() string { return CheckerBehavioral }

func (c BehavioralChecker) Check(ctx context.Context, in *Input) *CheckResult {
	res := newCheckResult(CheckerBehavioral)
	if !in.Config.EnableBehavioralCheck {
		res.Details["skipped"] = true
		return res
	}
	if in.Referrer == nil || in.Referee == nil {
		res.penalty(missingDataPenalty, "profile data incomplete")
		return res
	}

	if !in.Referrer.CreatedAt.IsZero() && !in.Referee.CreatedAt.IsZero() {
		gap := in.Referee.CreatedAt.Sub(in.Referrer.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap < 24*time.Hour {
			res.fail(25, RiskMedium, "accounts created %s apart", gap.Round(time.Minute))
		}
	}

	if in.Referrer.Name != "" && in.Referee.Name != "" {
		sim := NameSimilarity(in.Referrer.Name, in.Referee.Name)
		res.Details["name_similarity"] = sim
		if sim > nameSimThreshold {
			res.fail(20, RiskMedium, "names are %.0f%% similar", sim*100)
		}
	}

	if SequentialEmails(in.Referrer.Email, in.Referee.Email) {
		res.fail(30, RiskHigh, "sequential email pattern: %s / %s", in.Referrer.Email, in.Referee.Email)
	}

	if c.Activity != nil {
		sim, err := c.Activity.ActivitySimilarity(ctx, in.Referrer.ID, in.Referee.ID)
		if err != nil {
			res.penalty(missingDataPenalty, "activity comparison unavailable")
		} else {
			res.Details["activity_similarity"] = sim
			if sim > activitySimLimit {
				res.fail(25, RiskHigh, "activity patterns are %.0f%% similar", sim*100)
			}
		}
	}
	return res
}

// -----------------------------------------------------------------------------
// VPN
// -----------------------------------------------------------------------------

// VPNChecker runs the referee's recent addresses through a VPN detector.
type VPNChecker struct {
	Detector VPNDetector
}

func (VPNChecker) Name() string { return CheckerVPN }

func (c VPNChecker) Check(ctx context.Context, in *Input) *CheckResult {
	res := newCheckResult(CheckerVPN)
	if !in.Config.EnableVPNCheck || c.Detector == nil {
		res.Details["skipped"] = true
		return res
	}

	ips := in.RefereeIPs
	if in.Referral.IPAddress != "" {
		ips = append([]string{in.Referral.IPAddress}, ips...)
	}
	if len(ips) == 0 {
		res.penalty(missingDataPenalty, "no referee ips to screen")
		return res
	}
	if len(ips) > vpnLookupLimit {
		ips = ips[:vpnLookupLimit]
	}

	seen := make(map[string]bool, len(ips))
	for _, ip := range ips {
		if ip == "" || seen[ip] {
			continue
		}
		seen[ip] = true
		flagged, err := c.Detector.IsVPN(ctx, ip)
		if err != nil {
			res.penalty(missingDataPenalty, "vpn reputation unavailable")
			break
		}
		if flagged {
			res.fail(25, RiskHigh, "ip %s flagged as vpn/proxy", ip)
		}
	}
	return res
}

// -----------------------------------------------------------------------------
// Timing
// -----------------------------------------------------------------------------

// TimingChecker flags referrals recorded implausibly fast after the referee
// signed up, and referees who had been dormant for a week or more when the
// referral landed.
type TimingChecker struct{}

func (TimingChecker) Name() string { return CheckerTiming }

func (TimingChecker) Check(ctx context.Context, in *Input) *CheckResult {
	res := newCheckResult(CheckerTiming)
	if !in.Config.EnableTimingCheck {
		res.Details["skipped"] = true
		return res
	}

	if in.Referee == nil || in.Referee.CreatedAt.IsZero() {
		res.penalty(missingDataPenalty, "referee signup time unknown")
	} else {
		delta := in.Referral.CreatedAt.Sub(in.Referee.CreatedAt)
		res.Details["signup_to_referral"] = delta.String()
		if delta >= 0 && delta < rapidReferralWindow {
			res.fail(30, RiskHigh, "referral recorded %s after referee signup", delta.Round(time.Second))
		}
	}

	if in.Referee != nil && !in.Referee.LastLoginAt.IsZero() {
		idle := in.Referral.CreatedAt.Sub(in.Referee.LastLoginAt)
		if idle > dormancyWindow {
			res.fail(15, RiskMedium, "referee dormant for %dh before referral", int(idle.Hours()))
		}
	}
	return res
}

// -----------------------------------------------------------------------------
// Verification
// -----------------------------------------------------------------------------

// VerificationChecker holds the referee account to the platform's identity
// bar: KYC, account age, verified contacts, real deposit activity.
type VerificationChecker struct{}

func (VerificationChecker) Name() string { return CheckerVerify }

func (VerificationChecker) Check(ctx context.Context, in *Input) *CheckResult {
	res := newCheckResult(CheckerVerify)
	if in.Referee == nil {
		res.penalty(missingDataPenalty, "referee profile unavailable")
		return res
	}

	cfg := in.Config
	if cfg.RequireKYC && in.Referee.KYCStatus != user.KYCApproved {
		res.fail(15, RiskMedium, "referee kyc status is %s", in.Referee.KYCStatus)
	}
	if cfg.MinAccountAgeDays > 0 && !in.Referee.CreatedAt.IsZero() {
		age := time.Since(in.Referee.CreatedAt)
		minAge := time.Duration(cfg.MinAccountAgeDays) * 24 * time.Hour
		if age < minAge {
			res.fail(20, RiskMedium, "referee account is %d days old (minimum %d)",
				int(age.Hours()/24), cfg.MinAccountAgeDays)
		}
	}
	// Zero deposits only matter for the one-time signup reward; a profit
	// share already implies real account activity.
	if in.Referral.BonusType == referral.BonusSignup && in.Referee.TotalDeposits <= 0 {
		res.fail(10, RiskLow, "referee has no deposits")
	}
	if cfg.RequireEmailVerified && !in.Referee.EmailVerified {
		res.fail(15, RiskMedium, "referee email not verified")
	}
	if cfg.RequirePhoneVerified && !in.Referee.PhoneVerified {
		res.fail(15, RiskMedium, "referee phone not verified")
	}
	return res
}

// -----------------------------------------------------------------------------
// Suspicious activity
// -----------------------------------------------------------------------------

// SuspiciousActivityChecker flags referrers generating referrals faster than
// the daily policy allows.
type SuspiciousActivityChecker struct{}

func (SuspiciousActivityChecker) Name() string { return CheckerSuspicious }

func (SuspiciousActivityChecker) Check(ctx context.Context, in *Input) *CheckResult {
	res := newCheckResult(CheckerSuspicious)
	if in.Stats == nil {
		res.penalty(missingDataPenalty, "referral history unavailable")
		return res
	}

	count, err := in.Stats.ReferralsSince(ctx, in.Referral.ReferrerID, time.Now().Add(-24*time.Hour))
	if err != nil {
		res.penalty(missingDataPenalty, "referral velocity unavailable")
		return res
	}
	res.Details["referrals_24h"] = count
	if count > in.Config.MaxDailyReferrals {
		res.fail(25, RiskMedium, "%d referrals in the last 24h (limit %d)",
			count, in.Config.MaxDailyReferrals)
	}
	return res
}
