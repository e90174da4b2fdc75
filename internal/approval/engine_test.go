package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iprofit-labs/refpay/internal/ledger"
	"github.com/iprofit-labs/refpay/internal/referral"
	"github.com/iprofit-labs/refpay/internal/security"
	"github.com/iprofit-labs/refpay/internal/txn"
	"github.com/iprofit-labs/refpay/internal/user"
)

type fixture struct {
	engine    *Engine
	referrals *referral.MemoryStore
	profiles  *user.MemoryStore
	books     ledger.Store
}

func newFixture(t *testing.T, books ledger.Store) *fixture {
	t.Helper()

	referrals := referral.NewMemoryStore()
	profiles := user.NewMemoryStore()
	if books == nil {
		books = ledger.NewMemoryStore()
	}

	engine := NewEngine(EngineConfig{
		Referrals:  referrals,
		Profiles:   profiles,
		Ledger:     books,
		Txns:       &txn.MemoryBeginner{},
		Aggregator: security.NewAggregator(nil, nil),
	})
	return &fixture{engine: engine, referrals: referrals, profiles: profiles, books: books}
}

func (f *fixture) seedProfiles(t *testing.T) (referrer, referee *user.Profile) {
	t.Helper()
	now := time.Now()

	referrer = &user.Profile{
		ID:            "alice",
		Name:          "Alice Johnson",
		Email:         "alice@example.com",
		CreatedAt:     now.Add(-365 * 24 * time.Hour),
		LastLoginAt:   now.Add(-2 * time.Hour),
		DeviceID:      "device-alice",
		KYCStatus:     user.KYCApproved,
		EmailVerified: true,
		TotalDeposits: 5000,
		LastIPAddress: "203.0.113.10",
	}
	referee = &user.Profile{
		ID:            "bob",
		Name:          "Robert Chen",
		Email:         "rchen@mailhost.net",
		CreatedAt:     now.Add(-30 * 24 * time.Hour),
		LastLoginAt:   now.Add(-1 * time.Hour),
		DeviceID:      "device-bob",
		KYCStatus:     user.KYCApproved,
		EmailVerified: true,
		TotalDeposits: 250,
		LastIPAddress: "198.51.100.7",
	}

	ctx := context.Background()
	if err := f.profiles.Put(ctx, referrer); err != nil {
		t.Fatalf("seed referrer: %v", err)
	}
	if err := f.profiles.Put(ctx, referee); err != nil {
		t.Fatalf("seed referee: %v", err)
	}
	return referrer, referee
}

func (f *fixture) seedReferral(t *testing.T, amount string) *referral.Referral {
	t.Helper()
	r := &referral.Referral{
		ID:          "ref_" + t.Name(),
		ReferrerID:  "alice",
		RefereeID:   "bob",
		BonusAmount: amount,
		BonusType:   referral.BonusSignup,
		Status:      referral.StatusPending,
		IPAddress:   "203.0.113.50",
		CreatedAt:   time.Now(),
	}
	if err := f.referrals.Create(context.Background(), r); err != nil {
		t.Fatalf("seed referral: %v", err)
	}
	return r
}

func TestEvaluateCleanReferralAutoApproves(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProfiles(t)
	r := f.seedReferral(t, "25.000000")

	out := f.engine.Evaluate(context.Background(), r.ID)

	if out.Decision != DecisionAutoApproved || !out.Approved {
		t.Fatalf("decision = %s approved = %v, want auto_approved, reasons: %v",
			out.Decision, out.Approved, out.Reasons)
	}
	if out.TransactionID == "" {
		t.Error("expected a transaction ID on approval")
	}

	got, err := f.referrals.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("reload referral: %v", err)
	}
	if got.Status != referral.StatusPaid {
		t.Errorf("status = %s, want paid", got.Status)
	}
	if got.TransactionID != out.TransactionID {
		t.Errorf("referral transaction = %q, want %q", got.TransactionID, out.TransactionID)
	}
	if got.PaidAt.IsZero() {
		t.Error("expected paidAt to be set")
	}

	balance, err := f.books.GetBalance(context.Background(), "alice")
	if err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if balance.Available != "25.000000" {
		t.Errorf("balance = %s, want 25.000000", balance.Available)
	}

	bt, err := f.books.GetTransaction(context.Background(), out.TransactionID)
	if err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if bt.UserID != "alice" || bt.ReferralID != r.ID || bt.Amount != "25.000000" {
		t.Errorf("unexpected transaction %+v", bt)
	}
}

func TestEvaluatePaysBonusPlusProfitShare(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProfiles(t)

	r := &referral.Referral{
		ID:          "ref_" + t.Name(),
		ReferrerID:  "alice",
		RefereeID:   "bob",
		BonusAmount: "25.000000",
		ProfitBonus: "10.500000",
		BonusType:   referral.BonusProfitShare,
		Status:      referral.StatusPending,
		IPAddress:   "203.0.113.50",
		CreatedAt:   time.Now(),
	}
	if err := f.referrals.Create(context.Background(), r); err != nil {
		t.Fatalf("seed referral: %v", err)
	}

	out := f.engine.Evaluate(context.Background(), r.ID)
	if out.Decision != DecisionAutoApproved {
		t.Fatalf("decision = %s, reasons: %v", out.Decision, out.Reasons)
	}

	bt, err := f.books.GetTransaction(context.Background(), out.TransactionID)
	if err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if bt.Amount != "35.500000" {
		t.Errorf("transaction amount = %s, want 35.500000 (bonus + profit share)", bt.Amount)
	}

	balance, _ := f.books.GetBalance(context.Background(), "alice")
	if balance.Available != "35.500000" {
		t.Errorf("balance = %s, want 35.500000", balance.Available)
	}
}

func TestEvaluateFraudulentReferralFlagged(t *testing.T) {
	f := newFixture(t, nil)
	referrer, referee := f.seedProfiles(t)

	// Same device, same IP: textbook self-referral.
	referee.DeviceID = referrer.DeviceID
	referee.LastIPAddress = referrer.LastIPAddress
	if err := f.profiles.Put(context.Background(), referee); err != nil {
		t.Fatalf("update referee: %v", err)
	}

	r := f.seedReferral(t, "25.000000")
	out := f.engine.Evaluate(context.Background(), r.ID)

	if out.Decision != DecisionFlagged {
		t.Fatalf("decision = %s, want flagged, reasons: %v", out.Decision, out.Reasons)
	}
	if out.Approved {
		t.Error("flagged referral must not be approved")
	}
	if !out.RiskLevel.AtLeast(security.RiskHigh) {
		t.Errorf("risk level = %s, want at least HIGH", out.RiskLevel)
	}
	if !out.RequiresManualReview {
		t.Error("flagged outcome must require manual review")
	}

	got, _ := f.referrals.Get(context.Background(), r.ID)
	if got.Status != referral.StatusFlagged {
		t.Errorf("status = %s, want flagged", got.Status)
	}

	balance, _ := f.books.GetBalance(context.Background(), "alice")
	if balance.Available != "0.000000" {
		t.Errorf("balance = %s, want 0.000000 (no payout)", balance.Available)
	}
}

func TestEvaluateModerateRiskQueued(t *testing.T) {
	f := newFixture(t, nil)
	_, referee := f.seedProfiles(t)

	// One soft finding: unverified email. Not clean, not damning.
	referee.EmailVerified = false
	if err := f.profiles.Put(context.Background(), referee); err != nil {
		t.Fatalf("update referee: %v", err)
	}

	r := f.seedReferral(t, "25.000000")
	out := f.engine.Evaluate(context.Background(), r.ID)

	if out.Decision != DecisionQueued {
		t.Fatalf("decision = %s, want queued, reasons: %v", out.Decision, out.Reasons)
	}
	if out.Approved {
		t.Error("queued referral must not be approved")
	}
	if !out.RequiresManualReview {
		t.Error("queued outcome must require manual review")
	}

	got, _ := f.referrals.Get(context.Background(), r.ID)
	if got.Status != referral.StatusPending {
		t.Errorf("status = %s, want pending (queueing is an annotation)", got.Status)
	}
	if queued, _ := got.Metadata[referral.MetaQueuedForReview].(bool); !queued {
		t.Error("expected queued_for_review annotation")
	}

	queue, err := f.referrals.ListQueued(context.Background(), 10)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(queue) != 1 || queue[0].ID != r.ID {
		t.Errorf("review queue = %v, want the queued referral", queue)
	}
}

func TestEvaluateIneligibleReferralRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProfiles(t)
	r := f.seedReferral(t, "9999.000000") // over the payout cap

	out := f.engine.Evaluate(context.Background(), r.ID)

	if out.Decision != DecisionRejected {
		t.Fatalf("decision = %s, want rejected, reasons: %v", out.Decision, out.Reasons)
	}

	got, _ := f.referrals.Get(context.Background(), r.ID)
	if got.Status != referral.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if _, ok := got.Metadata[referral.MetaEligibility]; !ok {
		t.Error("expected an eligibility annotation")
	}
}

func TestEvaluateIsIdempotentAfterPayout(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProfiles(t)
	r := f.seedReferral(t, "25.000000")

	first := f.engine.Evaluate(context.Background(), r.ID)
	if first.Decision != DecisionAutoApproved {
		t.Fatalf("first evaluation: %s, reasons: %v", first.Decision, first.Reasons)
	}

	second := f.engine.Evaluate(context.Background(), r.ID)
	if second.Approved {
		t.Error("second evaluation must not approve again")
	}
	if second.Decision != DecisionRejected {
		t.Errorf("second decision = %s, want rejected", second.Decision)
	}

	balance, _ := f.books.GetBalance(context.Background(), "alice")
	if balance.Available != "25.000000" {
		t.Errorf("balance = %s, want a single 25.000000 credit", balance.Available)
	}
}

func TestEvaluateConcurrentSingleVictor(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProfiles(t)
	r := f.seedReferral(t, "25.000000")

	const workers = 8
	outcomes := make([]*Outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = f.engine.Evaluate(context.Background(), r.ID)
		}(i)
	}
	wg.Wait()

	approved := 0
	for _, out := range outcomes {
		if out.Approved {
			approved++
		}
	}
	if approved != 1 {
		t.Fatalf("approved %d times, want exactly 1", approved)
	}

	history, err := f.books.History(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("got %d bonus transactions, want exactly 1", len(history))
	}

	balance, _ := f.books.GetBalance(context.Background(), "alice")
	if balance.Available != "25.000000" {
		t.Errorf("balance = %s, want a single credit", balance.Available)
	}
}

type brokenLedger struct {
	ledger.Store
}

func (b brokenLedger) CreateBonusTransaction(context.Context, *ledger.BonusTransaction, txn.Tx) (string, error) {
	return "", errors.New("ledger write refused")
}

func TestEvaluatePayoutFailureFailsClosed(t *testing.T) {
	f := newFixture(t, brokenLedger{Store: ledger.NewMemoryStore()})
	f.seedProfiles(t)
	r := f.seedReferral(t, "25.000000")

	out := f.engine.Evaluate(context.Background(), r.ID)

	if out.Approved {
		t.Fatal("a failed payout must not report approval")
	}
	if out.Decision != DecisionFailed {
		t.Errorf("decision = %s, want failed", out.Decision)
	}
	if out.RiskScore != failClosedScore {
		t.Errorf("risk score = %d, want %d", out.RiskScore, failClosedScore)
	}
	if out.RiskLevel != security.RiskHigh {
		t.Errorf("risk level = %s, want HIGH", out.RiskLevel)
	}

	got, _ := f.referrals.Get(context.Background(), r.ID)
	if got.Status != referral.StatusPending {
		t.Errorf("status = %s, want pending after failed payout", got.Status)
	}
	if _, ok := got.Metadata[referral.MetaPayoutError]; !ok {
		t.Error("expected a payout_error annotation")
	}
}

func TestEvaluateMissingReferralRejected(t *testing.T) {
	f := newFixture(t, nil)

	out := f.engine.Evaluate(context.Background(), "ref_does_not_exist")
	if out.Approved {
		t.Fatal("unknown referral must not approve")
	}
	// A bad ID is the caller's problem, not an internal failure.
	if out.Decision != DecisionRejected {
		t.Errorf("decision = %s, want rejected", out.Decision)
	}
	if out.RiskScore != 0 || out.RiskLevel != security.RiskLow {
		t.Errorf("risk = %s/%d, want LOW/0", out.RiskLevel, out.RiskScore)
	}
}

func TestEvaluateScoreAboveConfiguredCapNeverPays(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now()

	// The referee has no device fingerprint and no address history: every
	// checker still passes, but the data-quality penalties add up.
	for _, p := range []*user.Profile{
		{
			ID:            "alice",
			Name:          "Alice Johnson",
			Email:         "alice@example.com",
			CreatedAt:     now.Add(-365 * 24 * time.Hour),
			LastLoginAt:   now.Add(-2 * time.Hour),
			DeviceID:      "device-alice",
			KYCStatus:     user.KYCApproved,
			EmailVerified: true,
			TotalDeposits: 5000,
			LastIPAddress: "203.0.113.10",
		},
		{
			ID:            "bob",
			Name:          "Robert Chen",
			Email:         "rchen@mailhost.net",
			CreatedAt:     now.Add(-30 * 24 * time.Hour),
			LastLoginAt:   now.Add(-1 * time.Hour),
			KYCStatus:     user.KYCApproved,
			EmailVerified: true,
			TotalDeposits: 250,
		},
	} {
		if err := f.profiles.Put(context.Background(), p); err != nil {
			t.Fatalf("seed profile %s: %v", p.ID, err)
		}
	}

	cfg := security.DefaultConfig()
	cfg.MaxRiskScore = 10
	engine := NewEngine(EngineConfig{
		Referrals:  f.referrals,
		Profiles:   f.profiles,
		Ledger:     f.books,
		Txns:       &txn.MemoryBeginner{},
		Aggregator: security.NewAggregator(nil, nil),
		Policy:     StaticPolicy{Config: cfg},
	})

	r := &referral.Referral{
		ID:          "ref_" + t.Name(),
		ReferrerID:  "alice",
		RefereeID:   "bob",
		BonusAmount: "25.000000",
		BonusType:   referral.BonusSignup,
		Status:      referral.StatusPending,
		CreatedAt:   time.Now(),
	}
	if err := f.referrals.Create(context.Background(), r); err != nil {
		t.Fatalf("seed referral: %v", err)
	}

	out := engine.Evaluate(context.Background(), r.ID)
	if out.Approved {
		t.Fatalf("score %d above cap %d must not pay out", out.RiskScore, cfg.MaxRiskScore)
	}
	if out.Decision != DecisionFlagged {
		t.Errorf("decision = %s, want flagged, reasons: %v", out.Decision, out.Reasons)
	}
	if out.RiskScore <= cfg.MaxRiskScore {
		t.Fatalf("fixture broke: score %d should exceed the %d cap", out.RiskScore, cfg.MaxRiskScore)
	}

	balance, _ := f.books.GetBalance(context.Background(), "alice")
	if balance.Available != "0.000000" {
		t.Errorf("balance = %s, want no payout", balance.Available)
	}
}

func TestEvaluateNonPendingReferralRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProfiles(t)
	r := f.seedReferral(t, "25.000000")

	r.Status = referral.StatusFlagged
	if err := f.referrals.Update(context.Background(), r, nil); err != nil {
		t.Fatalf("update referral: %v", err)
	}

	out := f.engine.Evaluate(context.Background(), r.ID)
	if out.Decision != DecisionRejected || out.Approved {
		t.Fatalf("outcome = %+v, want rejected", out)
	}
}

func TestDefaultPolicyEligibility(t *testing.T) {
	tests := []struct {
		name    string
		r       referral.Referral
		wantErr bool
	}{
		{"valid signup bonus", referral.Referral{BonusType: referral.BonusSignup, BonusAmount: "25.000000"}, false},
		{"valid profit share", referral.Referral{BonusType: referral.BonusProfitShare, BonusAmount: "0.500000"}, false},
		{"at the cap", referral.Referral{BonusType: referral.BonusSignup, BonusAmount: "500.000000"}, false},
		{"over the cap", referral.Referral{BonusType: referral.BonusSignup, BonusAmount: "500.000001"}, true},
		{"sum over the cap", referral.Referral{BonusType: referral.BonusProfitShare, BonusAmount: "450.000000", ProfitBonus: "60.000000"}, true},
		{"zero amount", referral.Referral{BonusType: referral.BonusSignup, BonusAmount: "0"}, true},
		{"negative amount", referral.Referral{BonusType: referral.BonusSignup, BonusAmount: "-5"}, true},
		{"garbage amount", referral.Referral{BonusType: referral.BonusSignup, BonusAmount: "lots"}, true},
		{"unknown bonus type", referral.Referral{BonusType: "loyalty", BonusAmount: "25.000000"}, true},
	}

	policy := DefaultPolicy{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Eligible(&tt.r)
			if (err != nil) != tt.wantErr {
				t.Errorf("Eligible() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
