// Package waitlist holds the waitlist document model and its persistence boundary.
//
// Herald only owns dedupe-key computation and the comms.confirmation subfields.
// Status transitions beyond the initial "pending" belong to the external
// waitlist-management collaborator and are never written here.
package waitlist

import "time"

// Status is the lifecycle state owned by the waitlist-management collaborator.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusInvited   Status = "invited"
	StatusRejected  Status = "rejected"
	StatusBlocked   Status = "blocked"
	StatusActive    Status = "active"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInvited, StatusRejected, StatusBlocked, StatusActive:
		return true
	default:
		return false
	}
}

// SendError is the {code, msg} pair recorded for a failed delivery.
type SendError struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Confirmation mirrors waitlist/{id}.comms.confirmation.
type Confirmation struct {
	Sent        bool       `json:"sent"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	MessageID   string     `json:"messageId,omitempty"`
	Error       *SendError `json:"error,omitempty"`
	LastEvent   string     `json:"lastEvent,omitempty"`
	LastEventAt *time.Time `json:"lastEventAt,omitempty"`
}

// Comms groups per-channel delivery state.
type Comms struct {
	Confirmation Confirmation `json:"confirmation"`
}

// Entry is a waitlist document.
type Entry struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Status    Status    `json:"status"`
	DedupeKey string    `json:"dedupeKey"`
	Locale    string    `json:"locale,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Comms     Comms     `json:"comms"`
}

// DeliveryEvent is a provider callback about a previously sent message.
type DeliveryEvent struct {
	MessageID string
	Type      string
	At        time.Time
}
