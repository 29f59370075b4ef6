package invite

import (
	"context"
	"time"
)

// Redemption is one recorded use of a token.
type Redemption struct {
	TokenID    string
	TokenHash  string
	SubjectID  string
	Type       Type
	RedeemedAt time.Time
	ExpiresAt  time.Time
}

// RedemptionStore is the persistence boundary for the single-use ledger.
//
// Record must be atomic per TokenID: of two concurrent calls for the same token
// exactly one succeeds and the other returns ErrAlreadyRedeemed.
type RedemptionStore interface {
	Record(ctx context.Context, r Redemption) error
	Sweep(ctx context.Context, before time.Time) (int64, error)
}
