package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestParseAndFormatAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"25", "25.000000", true},
		{"25.5", "25.500000", true},
		{"0.000001", "0.000001", true},
		{"0", "0.000000", true},
		{"", "0.000000", true},
		{"-3.25", "-3.250000", true},
		{"1.1234567", "", false}, // too many decimals
		{"1.2.3", "", false},
		{"abc", "", false},
		{".5", "", false},
	}

	for _, tt := range tests {
		v, ok := ParseAmount(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseAmount(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if got := FormatAmount(v); got != tt.want {
			t.Errorf("FormatAmount(ParseAmount(%q)) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAddAmounts(t *testing.T) {
	got, err := AddAmounts("10.500000", "4.250000")
	if err != nil {
		t.Fatalf("AddAmounts: %v", err)
	}
	if got != "14.750000" {
		t.Errorf("AddAmounts = %q, want 14.750000", got)
	}

	if _, err := AddAmounts("bad", "1"); err == nil {
		t.Error("expected an error for a malformed amount")
	}
}

func TestAmountPositive(t *testing.T) {
	if !AmountPositive("0.000001") {
		t.Error("smallest positive unit should be positive")
	}
	if AmountPositive("0") || AmountPositive("-1") || AmountPositive("junk") {
		t.Error("zero, negative, and malformed amounts are not positive")
	}
}

func TestMemoryStoreCreditFlow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.CreateBonusTransaction(ctx, &BonusTransaction{
		UserID:     "alice",
		ReferralID: "ref_1",
		Amount:     "25.000000",
		Status:     TxApproved,
	}, nil)
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if err := store.IncrementBalance(ctx, "alice", "25.000000", nil); err != nil {
		t.Fatalf("credit balance: %v", err)
	}

	b, err := store.GetBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b.Available != "25.000000" || b.TotalIn != "25.000000" {
		t.Errorf("balance = %+v, want 25.000000 available and lifetime", b)
	}

	bt, err := store.GetTransaction(ctx, id)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if bt.ReferralID != "ref_1" {
		t.Errorf("transaction referral = %q, want ref_1", bt.ReferralID)
	}

	exists, err := store.HasTransactionForReferral(ctx, "ref_1")
	if err != nil || !exists {
		t.Errorf("HasTransactionForReferral = %v, %v; want true, nil", exists, err)
	}
}

func TestMemoryStoreRejectsDuplicateReferralPayout(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	mk := func() (string, error) {
		return store.CreateBonusTransaction(ctx, &BonusTransaction{
			UserID:     "alice",
			ReferralID: "ref_1",
			Amount:     "25.000000",
		}, nil)
	}
	if _, err := mk(); err != nil {
		t.Fatalf("first payout: %v", err)
	}
	if _, err := mk(); !errors.Is(err, ErrDuplicateReferralPay) {
		t.Fatalf("second payout error = %v, want ErrDuplicateReferralPay", err)
	}
}

func TestMemoryStoreRejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, amount := range []string{"0", "-5", "nope"} {
		_, err := store.CreateBonusTransaction(ctx, &BonusTransaction{
			UserID: "alice", Amount: amount,
		}, nil)
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %q: error = %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestUnknownBalanceIsZero(t *testing.T) {
	store := NewMemoryStore()
	b, err := store.GetBalance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b.Available != "0.000000" {
		t.Errorf("balance = %s, want 0.000000", b.Available)
	}
}
