package authapi

import (
	"time"

	"herald/cmd/internal/delivery"
)

type waitlistResponse struct {
	response
	ID               string `json:"id"`
	Created          bool   `json:"created"`
	ConfirmationSent bool   `json:"confirmationSent"`
}

type mintResponse struct {
	response
	TokenID   string    `json:"tokenId"`
	Token     string    `json:"token"`
	URL       string    `json:"url,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	Emailed   bool      `json:"emailed"`
}

type claimsResponse struct {
	response
	TokenID   string    `json:"tokenId"`
	SubjectID string    `json:"subjectId"`
	Email     string    `json:"email"`
	Type      string    `json:"type"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type replayResponse struct {
	response
	Result delivery.ReplayResult `json:"result"`
}
