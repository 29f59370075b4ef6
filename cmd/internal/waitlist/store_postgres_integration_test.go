package waitlist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"herald/cmd/internal/pgtest"
	"herald/cmd/security/secure"
)

func TestPostgresStore_CreateOrGet_ConcurrentSameEmail(t *testing.T) {
	t.Parallel()

	pool := pgtest.OpenPool(t)
	schema := pgtest.Schema(t, pool, "waitlist")

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	key := secure.DedupeKey("race@example.com")

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]struct{}{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, ok, err := st.CreateOrGet(ctx, CreateRecord{
				ID:        pgtest.NewULID(t),
				Email:     "race@example.com",
				DedupeKey: key,
			})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			ids[e.ID] = struct{}{}
		}()
	}
	wg.Wait()

	if created != 1 || len(ids) != 1 {
		t.Fatalf("expected exactly one entry, created=%d ids=%d", created, len(ids))
	}
}

func TestPostgresStore_ConfirmationAndEvents(t *testing.T) {
	t.Parallel()

	pool := pgtest.OpenPool(t)
	schema := pgtest.Schema(t, pool, "waitlist")

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	e, _, err := st.CreateOrGet(ctx, CreateRecord{
		ID:        pgtest.NewULID(t),
		Email:     "pg@example.com",
		DedupeKey: secure.DedupeKey("pg@example.com"),
		Locale:    "de",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := st.MarkConfirmationFailed(ctx, e.ID, SendError{Code: "rate_limited", Msg: "429"}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, err := st.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Comms.Confirmation.Error == nil || got.Comms.Confirmation.Error.Code != "rate_limited" || got.Locale != "de" {
		t.Fatalf("unexpected entry: %+v", got)
	}

	at := time.Now().UTC().Truncate(time.Microsecond)
	if err := st.MarkConfirmationSent(ctx, e.ID, "msg_pg", at); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := st.MarkConfirmationFailed(ctx, e.ID, SendError{Code: "provider_timeout", Msg: "late failure"}); err != nil {
		t.Fatalf("late mark failed: %v", err)
	}
	if err := st.MarkConfirmationFailed(ctx, pgtest.NewULID(t), SendError{Code: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a missing entry, got %v", err)
	}
	ok, err := st.RecordDeliveryEvent(ctx, DeliveryEvent{MessageID: "msg_pg", Type: "email.bounced", At: at})
	if err != nil || !ok {
		t.Fatalf("record event: ok=%v err=%v", ok, err)
	}

	got, _ = st.Get(ctx, e.ID)
	c := got.Comms.Confirmation
	if !c.Sent || c.Error != nil || c.MessageID != "msg_pg" || c.LastEvent != "email.bounced" {
		t.Fatalf("unexpected confirmation: %+v", c)
	}

	if _, err := st.Get(ctx, pgtest.NewULID(t)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
