package invite

import (
	"context"
	"errors"
	"testing"
	"time"

	"herald/cmd/internal/pgtest"
)

func TestPostgresRedemptionStore_RecordOnceAndSweep(t *testing.T) {
	t.Parallel()

	pool := pgtest.OpenPool(t)
	schema := pgtest.Schema(t, pool, "invite")

	ledger, err := NewPostgresRedemptionStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	s := newTestService(t, WithRedemptionStore(ledger))

	ctx := context.Background()
	now := time.Now().UTC()
	iss, err := s.CreateInviteToken(IssueInput{SubjectID: "u", Email: "u@example.com", TTLHours: 1, Now: now})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.Redeem(ctx, iss.Token, TypeInvite, now); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, err := s.Redeem(ctx, iss.Token, TypeInvite, now); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("expected ErrAlreadyRedeemed, got %v", err)
	}

	removed, err := ledger.Sweep(ctx, now.Add(-time.Minute))
	if err != nil || removed != 0 {
		t.Fatalf("sweep before expiry: removed=%d err=%v", removed, err)
	}
	removed, err = ledger.Sweep(ctx, now.Add(3*time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("sweep after expiry: removed=%d err=%v", removed, err)
	}
}
