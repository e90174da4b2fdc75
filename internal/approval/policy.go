package approval

import (
	"fmt"

	"github.com/iprofit-labs/refpay/internal/ledger"
	"github.com/iprofit-labs/refpay/internal/referral"
)

// EligibilityPolicy vets a referral before any risk scoring happens.
// A non-nil error makes the referral ineligible; the error text is recorded
// on the referral and the record stays Pending.
type EligibilityPolicy interface {
	Eligible(r *referral.Referral) error
}

// DefaultPolicy enforces the baseline payout rules: a known bonus type, a
// strictly positive amount, and a per-referral cap.
type DefaultPolicy struct {
	// MaxBonus caps a single payout. Empty means the default cap.
	MaxBonus string
}

// DefaultMaxBonus is the per-referral payout cap when none is configured.
const DefaultMaxBonus = "500.000000"

func (p DefaultPolicy) Eligible(r *referral.Referral) error {
	switch r.BonusType {
	case referral.BonusSignup, referral.BonusProfitShare:
	default:
		return fmt.Errorf("unknown bonus type %q", r.BonusType)
	}

	// The payout is bonus plus profit share, so the cap applies to the sum.
	total, err := ledger.AddAmounts(r.BonusAmount, r.ProfitBonus)
	if err != nil {
		return fmt.Errorf("malformed bonus amount %q + %q", r.BonusAmount, r.ProfitBonus)
	}
	totalValue, _ := ledger.ParseAmount(total)
	if totalValue.Sign() <= 0 {
		return fmt.Errorf("total bonus must be positive, got %s", total)
	}

	cap := p.MaxBonus
	if cap == "" {
		cap = DefaultMaxBonus
	}
	capValue, ok := ledger.ParseAmount(cap)
	if !ok {
		return fmt.Errorf("malformed bonus cap %q", cap)
	}
	if totalValue.Cmp(capValue) > 0 {
		return fmt.Errorf("total bonus %s exceeds cap %s", total, cap)
	}
	return nil
}
