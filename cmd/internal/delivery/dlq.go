package delivery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"herald/cmd/internal/waitlist"
)

// DropReason explains why an entry left the queue without a successful send.
type DropReason string

const (
	DropAttemptsExhausted DropReason = "attempts_exhausted"
	DropRecordMissing     DropReason = "record_missing"
	DropInvalidRecipient  DropReason = "invalid_recipient"
	DropPermanentFailure  DropReason = "permanent_failure"
)

// DeadLetterEntry is a failed confirmation send awaiting replay, keyed by waitlist id.
type DeadLetterEntry struct {
	WaitlistID  string             `json:"waitlistId"`
	Attempts    int                `json:"attempts"`
	MaxAttempts int                `json:"maxAttempts"`
	LastError   waitlist.SendError `json:"lastError"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// Exhausted reports whether the entry may no longer be retried.
func (e DeadLetterEntry) Exhausted() bool { return e.Attempts >= e.MaxAttempts }

// ArchivedEntry is a dropped entry kept for audit.
type ArchivedEntry struct {
	DeadLetterEntry
	Reason     DropReason `json:"reason"`
	ArchivedAt time.Time  `json:"archivedAt"`
}

// DeadLetterStore persists the queue. RecordFailure is an atomic upsert:
// it creates the entry with attempts=1 or increments attempts and replaces lastError.
type DeadLetterStore interface {
	RecordFailure(ctx context.Context, waitlistID string, maxAttempts int, sendErr waitlist.SendError, now time.Time) (DeadLetterEntry, error)
	List(ctx context.Context, limit int) ([]DeadLetterEntry, error)
	Delete(ctx context.Context, waitlistID string) error
	Drop(ctx context.Context, e DeadLetterEntry, reason DropReason, now time.Time) error
}

// MemoryDeadLetterStore is an in-process DeadLetterStore.
type MemoryDeadLetterStore struct {
	mu      sync.Mutex
	entries map[string]DeadLetterEntry
	archive []ArchivedEntry
}

// NewMemoryDeadLetterStore constructs an empty queue.
func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{entries: make(map[string]DeadLetterEntry)}
}

// Put inserts or replaces e as-is. Intended for seeding and tests.
func (s *MemoryDeadLetterStore) Put(e DeadLetterEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.WaitlistID] = e
}

// RecordFailure implements DeadLetterStore.
func (s *MemoryDeadLetterStore) RecordFailure(ctx context.Context, waitlistID string, maxAttempts int, sendErr waitlist.SendError, now time.Time) (DeadLetterEntry, error) {
	if err := ctx.Err(); err != nil {
		return DeadLetterEntry{}, err
	}
	if strings.TrimSpace(waitlistID) == "" || maxAttempts <= 0 {
		return DeadLetterEntry{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[waitlistID]
	if !ok {
		e = DeadLetterEntry{WaitlistID: waitlistID, MaxAttempts: maxAttempts, CreatedAt: now}
	}
	e.Attempts++
	e.LastError = sendErr
	e.UpdatedAt = now
	s.entries[waitlistID] = e
	return e, nil
}

// List returns up to limit entries, oldest update first. limit <= 0 means all.
func (s *MemoryDeadLetterStore) List(ctx context.Context, limit int) ([]DeadLetterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]DeadLetterEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].WaitlistID < out[j].WaitlistID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns the entry for waitlistID.
func (s *MemoryDeadLetterStore) Get(waitlistID string) (DeadLetterEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[waitlistID]
	return e, ok
}

// Delete implements DeadLetterStore. Deleting a missing entry is not an error.
func (s *MemoryDeadLetterStore) Delete(ctx context.Context, waitlistID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, waitlistID)
	return nil
}

// Drop archives e with reason and removes it from the queue.
func (s *MemoryDeadLetterStore) Drop(ctx context.Context, e DeadLetterEntry, reason DropReason, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.archive = append(s.archive, ArchivedEntry{DeadLetterEntry: e, Reason: reason, ArchivedAt: now})
	delete(s.entries, e.WaitlistID)
	return nil
}

// Archive returns a copy of archived entries.
func (s *MemoryDeadLetterStore) Archive() []ArchivedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ArchivedEntry(nil), s.archive...)
}

// Len returns the queue length.
func (s *MemoryDeadLetterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
