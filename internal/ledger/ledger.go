// Package ledger tracks referral bonus transactions and user balances.
//
// Flow:
//  1. The decision engine auto-approves a referral
//  2. A bonus transaction is recorded (immutable, referrer as beneficiary)
//  3. The referrer's balance is credited by the same amount
//
// Both writes plus the referral update happen inside one txn.Tx so a crash
// mid-payout cannot leave a Paid referral without its transaction, or the
// reverse.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/iprofit-labs/refpay/internal/txn"
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateReferralPay = errors.New("referral already has a bonus transaction")
)

// TransactionStatus is the state of a bonus transaction. Transactions are
// written already-approved by the engine; manual payouts may start pending.
type TransactionStatus string

const (
	TxPending  TransactionStatus = "pending"
	TxApproved TransactionStatus = "approved"
	TxRejected TransactionStatus = "rejected"
)

// BonusTransaction is an immutable record of a referral bonus payout.
type BonusTransaction struct {
	ID         string            `json:"id"`
	UserID     string            `json:"userId"` // beneficiary (the referrer)
	ReferralID string            `json:"referralId"`
	Amount     string            `json:"amount"` // 6-dp decimal string
	Status     TransactionStatus `json:"status"`
	Metadata   map[string]any    `json:"metadata,omitempty"` // risk score/level, auto-approval flag
	CreatedAt  time.Time         `json:"createdAt"`
}

// Balance is a user's bonus balance.
type Balance struct {
	UserID    string    `json:"userId"`
	Available string    `json:"available"`
	TotalIn   string    `json:"totalIn"` // lifetime bonus credits
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists ledger data. Mutating methods accept an optional txn.Tx.
type Store interface {
	// CreateBonusTransaction records an immutable bonus transaction and
	// returns its ID. At most one transaction may reference a referral.
	CreateBonusTransaction(ctx context.Context, bt *BonusTransaction, tx txn.Tx) (string, error)
	// IncrementBalance credits a user's balance by amount.
	IncrementBalance(ctx context.Context, userID, amount string, tx txn.Tx) error

	GetBalance(ctx context.Context, userID string) (*Balance, error)
	GetTransaction(ctx context.Context, id string) (*BonusTransaction, error)
	History(ctx context.Context, userID string, limit int) ([]*BonusTransaction, error)
	// HasTransactionForReferral is the idempotency backstop: true when a
	// bonus transaction already references the referral.
	HasTransactionForReferral(ctx context.Context, referralID string) (bool, error)
}

// -----------------------------------------------------------------------------
// Fixed-point amount helpers (6 decimals)
// -----------------------------------------------------------------------------

// ParseAmount parses a decimal string into micro-units. "" parses as zero.
func ParseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 || parts[0] == "" {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) > 6 {
		return nil, false
	}
	for len(frac) < 6 {
		frac += "0"
	}

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, false
	}
	if neg {
		result.Neg(result)
	}
	return result, true
}

// FormatAmount renders micro-units back to a 6-dp decimal string.
func FormatAmount(amount *big.Int) string {
	if amount == nil {
		return "0.000000"
	}
	neg := amount.Sign() < 0
	s := new(big.Int).Abs(amount).String()
	for len(s) < 7 {
		s = "0" + s
	}
	out := s[:len(s)-6] + "." + s[len(s)-6:]
	if neg {
		out = "-" + out
	}
	return out
}

// AddAmounts returns a+b as a 6-dp decimal string.
func AddAmounts(a, b string) (string, error) {
	av, ok := ParseAmount(a)
	if !ok {
		return "", ErrInvalidAmount
	}
	bv, ok := ParseAmount(b)
	if !ok {
		return "", ErrInvalidAmount
	}
	return FormatAmount(new(big.Int).Add(av, bv)), nil
}

// AmountPositive reports whether s parses as a strictly positive amount.
func AmountPositive(s string) bool {
	v, ok := ParseAmount(s)
	return ok && v.Sign() > 0
}

// AmountFloat converts an amount string to float64 for metrics only; ledger
// arithmetic never goes through floats.
func AmountFloat(s string) float64 {
	v, ok := ParseAmount(s)
	if !ok {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(1e6)).Float64()
	return f
}
