package secure

import (
	"encoding/hex"
	"errors"
	"strings"
)

// SchemeV1 is the only accepted webhook signature scheme.
const SchemeV1 = "v1"

// ErrSignatureFormat is returned when a signature header cannot be parsed.
var ErrSignatureFormat = errors.New("malformed signature header")

// Signature is a single parsed entry of a signature header.
// It is verified per request and never persisted.
type Signature struct {
	Scheme       string
	SignatureHex string
}

// ParseSignatureHeader splits a header of the form "v1,<hex>[ v1,<hex>...]".
// Entries with a scheme other than v1 are skipped; if none remain the header is rejected.
func ParseSignatureHeader(header string) ([]Signature, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrSignatureFormat
	}

	var out []Signature
	for _, part := range strings.Fields(header) {
		scheme, sig, ok := strings.Cut(part, ",")
		if !ok || scheme != SchemeV1 || sig == "" {
			continue
		}
		out = append(out, Signature{Scheme: scheme, SignatureHex: sig})
	}
	if len(out) == 0 {
		return nil, ErrSignatureFormat
	}
	return out, nil
}

// VerifySignature checks an HMAC-SHA256 signature over the raw payload bytes.
//
// The header must carry the "v1," prefix. The expected MAC is compared against each
// decoded candidate in constant time. Any parsing or decoding error yields false.
func VerifySignature(payload []byte, header string, secret []byte) bool {
	if len(payload) == 0 || len(secret) == 0 {
		return false
	}
	sigs, err := ParseSignatureHeader(header)
	if err != nil {
		return false
	}

	expected := HMACSHA256(payload, secret)
	matched := false
	for _, s := range sigs {
		got, err := hex.DecodeString(s.SignatureHex)
		if err != nil {
			continue
		}
		if ConstantTimeEqual(got, expected) {
			matched = true
		}
	}
	return matched
}

// SignV1 returns the "v1,<hex>" header value for payload. Used by tests and tooling.
func SignV1(payload, secret []byte) string {
	return SchemeV1 + "," + HashHMACSHA256Hex(payload, secret)
}

// ExtractBearerToken returns the token of an Authorization header.
// The header must literally start with "Bearer " (case-sensitive, one space).
func ExtractBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	tok := header[len(prefix):]
	if tok == "" {
		return "", false
	}
	return tok, true
}
