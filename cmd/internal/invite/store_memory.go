package invite

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryRedemptionStore keeps the ledger in process memory.
type MemoryRedemptionStore struct {
	mu   sync.Mutex
	byID map[string]Redemption
}

// NewMemoryRedemptionStore constructs an empty ledger.
func NewMemoryRedemptionStore() *MemoryRedemptionStore {
	return &MemoryRedemptionStore{byID: make(map[string]Redemption)}
}

// Record stores r unless its token was already redeemed.
func (s *MemoryRedemptionStore) Record(ctx context.Context, r Redemption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(r.TokenID) == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[r.TokenID]; ok {
		return ErrAlreadyRedeemed
	}
	s.byID[r.TokenID] = r
	return nil
}

// Sweep drops rows whose token expired before the cutoff; expired tokens can no longer validate.
func (s *MemoryRedemptionStore) Sweep(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.byID {
		if r.ExpiresAt.Before(before) {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of recorded redemptions.
func (s *MemoryRedemptionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
