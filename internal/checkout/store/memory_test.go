package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tablevox/checkout/internal/checkout/domain"
	"github.com/tablevox/checkout/internal/clock"
)

func newMemoryStoreForTest() (*MemoryStore, *clock.FakeClock) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewMemoryStore(clk), clk
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	s, _ := newMemoryStoreForTest()
	ctx := context.Background()

	created, err := s.Create(ctx, "user-1", "starter", "pi_1", "pi_1_secret")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", created.Status)
	}
	if !created.ExpiresAt.Equal(created.CreatedAt.Add(domain.SessionTTL)) {
		t.Fatalf("expected expiry %s after creation", domain.SessionTTL)
	}

	got, err := s.GetExisting(ctx, "user-1", "starter")
	if err != nil {
		t.Fatalf("get existing: %v", err)
	}
	if got == nil || got.GatewayReferenceID != "pi_1" {
		t.Fatalf("expected stored session, got %+v", got)
	}

	byRef, err := s.GetByGatewayReference(ctx, "pi_1")
	if err != nil {
		t.Fatalf("get by reference: %v", err)
	}
	if byRef == nil || byRef.UserID != "user-1" || byRef.PlanID != "starter" {
		t.Fatalf("expected session by reference, got %+v", byRef)
	}
}

func TestMemoryStoreCreateConflict(t *testing.T) {
	s, clk := newMemoryStoreForTest()
	ctx := context.Background()

	if _, err := s.Create(ctx, "user-1", "starter", "pi_1", "secret"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, "user-1", "starter", "pi_2", "secret"); !errors.Is(err, domain.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}

	// Same user, different plan lives independently.
	if _, err := s.Create(ctx, "user-1", "growth", "pi_3", "secret"); err != nil {
		t.Fatalf("create second plan: %v", err)
	}

	// After expiry the slot is reclaimable.
	clk.Advance(domain.SessionTTL)
	if _, err := s.Create(ctx, "user-1", "starter", "pi_4", "secret"); err != nil {
		t.Fatalf("create after expiry: %v", err)
	}
}

func TestMemoryStoreExpiredSessionIsAbsent(t *testing.T) {
	s, clk := newMemoryStoreForTest()
	ctx := context.Background()

	if _, err := s.Create(ctx, "user-1", "starter", "pi_1", "secret"); err != nil {
		t.Fatalf("create: %v", err)
	}

	clk.Advance(domain.SessionTTL - time.Second)
	if got, _ := s.GetExisting(ctx, "user-1", "starter"); got == nil {
		t.Fatal("expected session to still be live just before expiry")
	}

	clk.Advance(time.Second)
	if got, _ := s.GetExisting(ctx, "user-1", "starter"); got != nil {
		t.Fatalf("expected expired session to be absent, got %+v", got)
	}
	if got, _ := s.GetByGatewayReference(ctx, "pi_1"); got != nil {
		t.Fatalf("expected expired session absent by reference, got %+v", got)
	}
}

func TestMemoryStoreUpdateStatusForwardOnly(t *testing.T) {
	s, _ := newMemoryStoreForTest()
	ctx := context.Background()

	if _, err := s.Create(ctx, "user-1", "starter", "pi_1", "secret"); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := s.UpdateStatus(ctx, "user-1", "starter", domain.StatusProcessing)
	if err != nil || !ok {
		t.Fatalf("expected PENDING to PROCESSING to succeed, ok=%v err=%v", ok, err)
	}

	// A second attempt loses the guard.
	ok, err = s.UpdateStatus(ctx, "user-1", "starter", domain.StatusProcessing)
	if err != nil || ok {
		t.Fatalf("expected repeated PROCESSING transition to fail, ok=%v err=%v", ok, err)
	}

	// Backwards transition never applies.
	ok, err = s.UpdateStatus(ctx, "user-1", "starter", domain.StatusPending)
	if err != nil || ok {
		t.Fatalf("expected PROCESSING to PENDING to fail, ok=%v err=%v", ok, err)
	}

	ok, err = s.UpdateStatus(ctx, "user-1", "starter", domain.StatusFailed)
	if err != nil || !ok {
		t.Fatalf("expected PROCESSING to FAILED to succeed, ok=%v err=%v", ok, err)
	}

	// Missing session reports no transition.
	ok, err = s.UpdateStatus(ctx, "user-2", "starter", domain.StatusProcessing)
	if err != nil || ok {
		t.Fatalf("expected transition on absent session to fail, ok=%v err=%v", ok, err)
	}
}

func TestMemoryStoreProcessingOutlivesTTL(t *testing.T) {
	s, clk := newMemoryStoreForTest()
	ctx := context.Background()

	if _, err := s.Create(ctx, "user-1", "starter", "pi_1", "secret"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, _ := s.UpdateStatus(ctx, "user-1", "starter", domain.StatusProcessing); !ok {
		t.Fatal("expected transition to PROCESSING")
	}

	clk.Advance(2 * domain.SessionTTL)

	got, err := s.GetExisting(ctx, "user-1", "starter")
	if err != nil {
		t.Fatalf("get existing: %v", err)
	}
	if got == nil || got.Status != domain.StatusProcessing {
		t.Fatalf("expected PROCESSING session to stay live past the TTL, got %+v", got)
	}
}

func TestMemoryStoreSweepExpired(t *testing.T) {
	s, clk := newMemoryStoreForTest()
	ctx := context.Background()

	if _, err := s.Create(ctx, "user-1", "starter", "pi_1", "secret"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, "user-2", "growth", "pi_2", "secret"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, _ := s.UpdateStatus(ctx, "user-2", "growth", domain.StatusProcessing); !ok {
		t.Fatal("expected transition to PROCESSING")
	}

	removed, err := s.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected no sweeps before expiry, got %d", removed)
	}

	clk.Advance(domain.SessionTTL)
	removed, err = s.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected exactly the PENDING session swept, got %d", removed)
	}

	if got, _ := s.GetExisting(ctx, "user-2", "growth"); got == nil {
		t.Fatal("expected PROCESSING session to survive the sweep")
	}
}

func TestMemoryStoreCompleteAndClear(t *testing.T) {
	s, _ := newMemoryStoreForTest()
	ctx := context.Background()

	if _, err := s.Create(ctx, "user-1", "starter", "pi_1", "secret"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Complete(ctx, "user-1", "starter"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got, _ := s.GetExisting(ctx, "user-1", "starter"); got != nil {
		t.Fatalf("expected completed session removed, got %+v", got)
	}
	if got, _ := s.GetByGatewayReference(ctx, "pi_1"); got != nil {
		t.Fatalf("expected reference index cleaned, got %+v", got)
	}

	// Clear on an absent session is a no-op.
	if err := s.Clear(ctx, "user-1", "starter"); err != nil {
		t.Fatalf("clear: %v", err)
	}
}
