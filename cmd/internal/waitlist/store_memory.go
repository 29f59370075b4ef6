package waitlist

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used when no database is configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry // id -> entry
	byKey   map[string]string // dedupe key -> id
	byMsg   map[string]string // message id -> id
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		byKey:   make(map[string]string),
		byMsg:   make(map[string]string),
	}
}

// Put inserts or replaces an entry as-is. Intended for seeding and tests.
func (s *MemoryStore) Put(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := e
	s.entries[e.ID] = &cp
	if e.DedupeKey != "" {
		s.byKey[e.DedupeKey] = e.ID
	}
	if e.Comms.Confirmation.MessageID != "" {
		s.byMsg[e.Comms.Confirmation.MessageID] = e.ID
	}
}

// CreateOrGet creates a pending entry unless one already exists for the dedupe key.
func (s *MemoryStore) CreateOrGet(ctx context.Context, in CreateRecord) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.Email) == "" || strings.TrimSpace(in.DedupeKey) == "" {
		return Entry{}, false, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[in.DedupeKey]; ok {
		return *s.entries[id], false, nil
	}

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	e := &Entry{
		ID:        in.ID,
		Email:     in.Email,
		Status:    StatusPending,
		DedupeKey: in.DedupeKey,
		Locale:    in.Locale,
		CreatedAt: createdAt,
	}
	s.entries[e.ID] = e
	s.byKey[e.DedupeKey] = e.ID
	return *e, true, nil
}

// Get returns an entry by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return *e, nil
}

// MarkConfirmationSent records a successful confirmation delivery.
func (s *MemoryStore) MarkConfirmationSent(ctx context.Context, id, messageID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	sentAt := at
	e.Comms.Confirmation.Sent = true
	e.Comms.Confirmation.SentAt = &sentAt
	e.Comms.Confirmation.MessageID = messageID
	e.Comms.Confirmation.Error = nil
	if messageID != "" {
		s.byMsg[messageID] = id
	}
	return nil
}

// MarkConfirmationFailed records a failed confirmation delivery. An entry
// already marked sent is left unchanged.
func (s *MemoryStore) MarkConfirmationFailed(ctx context.Context, id string, sendErr SendError) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.Comms.Confirmation.Sent {
		return nil
	}
	se := sendErr
	e.Comms.Confirmation.Sent = false
	e.Comms.Confirmation.Error = &se
	return nil
}

// RecordDeliveryEvent stores the latest provider event for the message's entry.
// It reports false when no entry owns the message id.
func (s *MemoryStore) RecordDeliveryEvent(ctx context.Context, ev DeliveryEvent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if strings.TrimSpace(ev.MessageID) == "" || strings.TrimSpace(ev.Type) == "" {
		return false, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byMsg[ev.MessageID]
	if !ok {
		return false, nil
	}
	e := s.entries[id]
	at := ev.At
	e.Comms.Confirmation.LastEvent = ev.Type
	e.Comms.Confirmation.LastEventAt = &at
	return true, nil
}
