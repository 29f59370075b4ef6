package authapi

import (
	"net"
	"net/http"
	"strings"

	"herald/cmd/internal/invite"
	"herald/cmd/internal/ratelimit"
	"herald/cmd/security/secure"
)

// inbound is the request metadata every handler needs, parsed once.
type inbound struct {
	IP        net.IP
	UserAgent string
	Bearer    string
	HasBearer bool
}

func (h *Handler) parseInbound(r *http.Request) inbound {
	in := inbound{
		IP:        ratelimit.ClientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	}
	in.Bearer, in.HasBearer = secure.ExtractBearerToken(r.Header.Get("Authorization"))
	return in
}

// ipKey is the limiter key for policy scoped to the caller address.
func (in inbound) ipKey(policy string) string {
	if in.IP == nil {
		return policy + ":ip:unknown"
	}
	return policy + ":ip:" + in.IP.String()
}

func (in inbound) ipString() string {
	if in.IP == nil {
		return ""
	}
	return in.IP.String()
}

type waitlistRequest struct {
	Email  string `json:"email"`
	Locale string `json:"locale"`
}

type mintRequest struct {
	SubjectID string `json:"subjectId"`
	Email     string `json:"email"`
	TTLHours  int    `json:"ttlHours"`
	Send      bool   `json:"send"`
	Locale    string `json:"locale"`
}

// tokenRequest carries either a raw token or a link containing one.
type tokenRequest struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

func (r tokenRequest) token() (string, bool) {
	if tok := strings.TrimSpace(r.Token); tok != "" {
		return tok, true
	}
	return invite.ExtractTokenFromURL(r.URL)
}
