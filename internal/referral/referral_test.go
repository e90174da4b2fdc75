package referral

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iprofit-labs/refpay/internal/user"
)

func seedReferral(t *testing.T, store *MemoryStore, id string) *Referral {
	t.Helper()
	r := &Referral{
		ID:          id,
		ReferrerID:  "alice",
		RefereeID:   "bob-" + id,
		BonusAmount: "25.000000",
		BonusType:   BonusSignup,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
	if err := store.Create(context.Background(), r); err != nil {
		t.Fatalf("seed referral: %v", err)
	}
	return r
}

func TestMemoryStoreDuplicatePendingPair(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedReferral(t, store, "ref_1")

	dup := &Referral{
		ID:         "ref_2",
		ReferrerID: "alice",
		RefereeID:  "bob-ref_1",
		Status:     StatusPending,
	}
	if err := store.Create(ctx, dup); !errors.Is(err, ErrDuplicatePending) {
		t.Fatalf("error = %v, want ErrDuplicatePending", err)
	}
}

func TestClaimForEvaluation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := seedReferral(t, store, "ref_1")

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
	ok, _ = store.ClaimForEvaluation(ctx, r.ID)
	if !ok {
		t.Fatal("claim after release should succeed")
	}
}

func TestClaimStaleTakeover(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := seedReferral(t, store, "ref_1")

	// Simulate an evaluator that died holding the claim.
	store.mu.Lock()
	store.claims[r.ID] = time.Now().Add(-ClaimTTL - time.Minute)
	store.mu.Unlock()

	ok, err := store.ClaimForEvaluation(ctx, r.ID)
	if err != nil || !ok {
		t.Fatalf("stale claim takeover = %v, %v; want true", ok, err)
	}
}

func TestClaimRaceSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := seedReferral(t, store, "ref_1")

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ClaimForEvaluation(ctx, r.ID)
			if err == nil && ok {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("%d claims won, want exactly 1", won)
	}
}

func TestClaimNonPendingFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := seedReferral(t, store, "ref_1")

	r.Status = StatusPaid
	if err := store.Update(ctx, r, nil); err != nil {
		t.Fatalf("update: %v", err)
	}

	ok, err := store.ClaimForEvaluation(ctx, r.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ok {
		t.Fatal("claim on a paid referral should fail")
	}
}

func TestListQueuedFiltersAnnotation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	queued := seedReferral(t, store, "ref_q")
	queued.SetMeta(MetaQueuedForReview, true)
	if err := store.Update(ctx, queued, nil); err != nil {
		t.Fatalf("update: %v", err)
	}
	seedReferral(t, store, "ref_plain")

	got, err := store.ListQueued(ctx, 10)
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(got) != 1 || got[0].ID != "ref_q" {
		t.Fatalf("queue = %v, want only ref_q", got)
	}
}

func newTestService(t *testing.T) (*Service, *user.MemoryStore) {
	t.Helper()
	profiles := user.NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"alice", "bob"} {
		if err := profiles.Put(ctx, &user.Profile{ID: id, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("seed profile %s: %v", id, err)
		}
	}
	return NewService(NewMemoryStore(), profiles), profiles
}

func TestServiceCreate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	r, err := svc.Create(ctx, CreateInput{
		ReferrerID:  "alice",
		RefereeID:   "bob",
		BonusAmount: "25.000000",
		IPAddress:   "203.0.113.50",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("status = %s, want pending", r.Status)
	}
	if r.BonusType != BonusSignup {
		t.Errorf("bonus type = %s, want signup default", r.BonusType)
	}
	if r.ID == "" {
		t.Error("expected a generated ID")
	}
}

func TestServiceCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
		want error // nil means any error is acceptable
	}{
		{"self referral", CreateInput{ReferrerID: "alice", RefereeID: "alice", BonusAmount: "1"}, ErrSelfReferral},
		{"bad amount", CreateInput{ReferrerID: "alice", RefereeID: "bob", BonusAmount: "1.23456789"}, nil},
		{"bad referrer id", CreateInput{ReferrerID: "no spaces allowed", RefereeID: "bob", BonusAmount: "1"}, nil},
		{"unknown user", CreateInput{ReferrerID: "alice", RefereeID: "stranger", BonusAmount: "1"}, user.ErrProfileNotFound},
		{"unknown bonus type", CreateInput{ReferrerID: "alice", RefereeID: "bob", BonusAmount: "1", BonusType: "loyalty"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestServiceCreateDuplicatePending(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	in := CreateInput{ReferrerID: "alice", RefereeID: "bob", BonusAmount: "25.000000"}
	if _, err := svc.Create(ctx, in); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.Create(ctx, in); !errors.Is(err, ErrDuplicatePending) {
		t.Fatalf("second create error = %v, want ErrDuplicatePending", err)
	}
}

func TestServiceReview(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	r, err := svc.Create(ctx, CreateInput{ReferrerID: "alice", RefereeID: "bob", BonusAmount: "25.000000"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rejected, err := svc.Review(ctx, r.ID, false, "looks synthetic")
	if err != nil {
		t.Fatalf("review reject: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Errorf("status = %s, want rejected", rejected.Status)
	}
	if note, _ := rejected.Metadata[MetaAuditNote].(string); note != "looks synthetic" {
		t.Errorf("audit note = %q, want recorded", note)
	}

	restored, err := svc.Review(ctx, r.ID, true, "false positive")
	if err != nil {
		t.Fatalf("review approve: %v", err)
	}
	if restored.Status != StatusPending {
		t.Errorf("status = %s, want pending for re-evaluation", restored.Status)
	}
}
