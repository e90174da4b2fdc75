package referral

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iprofit-labs/refpay/internal/testutil"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)

	r := &Referral{
		ID:          "ref_pg_roundtrip",
		ReferrerID:  "alice",
		RefereeID:   "bob",
		BonusAmount: "25.000000",
		BonusType:   BonusSignup,
		Status:      StatusPending,
		IPAddress:   "203.0.113.50",
		CreatedAt:   time.Now(),
	}
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ReferrerID != "alice" || got.BonusAmount != "25.000000" || got.Status != StatusPending {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// The partial unique index enforces one pending referral per pair.
	dup := &Referral{
		ID:         "ref_pg_dup",
		ReferrerID: "alice",
		RefereeID:  "bob",
		BonusType:  BonusSignup,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}
	if err := store.Create(ctx, dup); !errors.Is(err, ErrDuplicatePending) {
		t.Fatalf("duplicate create error = %v, want ErrDuplicatePending", err)
	}

	got.Status = StatusPaid
	got.SetMeta(MetaAutoApproved, true)
	if err := store.Update(ctx, got, nil); err != nil {
		t.Fatalf("update: %v", err)
	}
	reloaded, err := store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != StatusPaid {
		t.Errorf("status = %s, want paid", reloaded.Status)
	}
	if v, _ := reloaded.Metadata[MetaAutoApproved].(bool); !v {
		t.Error("metadata annotation did not survive the round trip")
	}
}

func TestPostgresStoreClaim(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)

	r := &Referral{
		ID:         "ref_pg_claim",
		ReferrerID: "alice",
		RefereeID:  "carol",
		BonusType:  BonusSignup,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := store.ClaimForEvaluation(ctx, r.ID)
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v; want true", ok, err)
	}
	ok, err = store.ClaimForEvaluation(ctx, r.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("second claim succeeded while the first is held")
	}

	if err := store.ReleaseClaim(ctx, r.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ = store.ClaimForEvaluation(ctx, r.ID); !ok {
		t.Fatal("claim after release should succeed")
	}

	if _, err := store.ClaimForEvaluation(ctx, "ref_pg_missing"); !errors.Is(err, ErrReferralNotFound) {
		t.Fatalf("claim missing error = %v, want ErrReferralNotFound", err)
	}
}
