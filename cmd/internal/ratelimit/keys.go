package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"herald/cmd/security/secure"
)

// KeyFunc derives the limiter key for a request. ok=false skips limiting.
type KeyFunc func(r *http.Request) (key string, ok bool)

// ClientIP returns the caller address. Forwarding headers are honored only when
// trustProxy is set: first valid X-Forwarded-For hop, then X-Real-IP.
func ClientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

// ClientIPKey keys requests by "<policy>:ip:<addr>".
func ClientIPKey(policy string, trustProxy bool) KeyFunc {
	return func(r *http.Request) (string, bool) {
		ip := ClientIP(r, trustProxy)
		if ip == nil {
			return policy + ":ip:unknown", true
		}
		return policy + ":ip:" + ip.String(), true
	}
}

// WaitlistKey is the composite key bounding signups per address.
func WaitlistKey(email string) string {
	return "waitlist:" + secure.NormalizeEmail(email)
}
