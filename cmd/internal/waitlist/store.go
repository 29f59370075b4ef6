package waitlist

import (
	"context"
	"time"
)

// CreateRecord is a normalized waitlist insert payload.
type CreateRecord struct {
	ID        string
	Email     string
	DedupeKey string
	Locale    string
	CreatedAt time.Time
}

// Store is the persistence boundary for waitlist documents.
//
// CreateOrGet is idempotent on DedupeKey: at most one entry exists per normalized email.
// The boolean result reports whether a new entry was created.
type Store interface {
	CreateOrGet(ctx context.Context, in CreateRecord) (Entry, bool, error)
	Get(ctx context.Context, id string) (Entry, error)
	MarkConfirmationSent(ctx context.Context, id, messageID string, at time.Time) error
	MarkConfirmationFailed(ctx context.Context, id string, sendErr SendError) error
	RecordDeliveryEvent(ctx context.Context, ev DeliveryEvent) (bool, error)
}
