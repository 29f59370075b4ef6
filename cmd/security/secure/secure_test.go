package secure

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestHashSHA256Hex_Deterministic(t *testing.T) {
	t.Parallel()

	a := HashSHA256Hex([]byte("hello"))
	b := HashSHA256Hex([]byte("hello"))
	if a != b {
		t.Fatalf("hash not deterministic: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Fatalf("unexpected digest %q", a)
	}
}

func TestDedupeKey_NormalizationIdempotence(t *testing.T) {
	t.Parallel()

	cases := []string{
		"Alice@Example.com",
		"  alice@example.com",
		"ALICE@EXAMPLE.COM  ",
		"\talice@Example.COM\n",
	}
	want := DedupeKey("alice@example.com")
	for _, in := range cases {
		if got := DedupeKey(in); got != want {
			t.Fatalf("DedupeKey(%q)=%q want=%q", in, got, want)
		}
		if got := DedupeKey(NormalizeEmail(in)); got != DedupeKey(in) {
			t.Fatalf("normalization not idempotent for %q", in)
		}
	}
	if DedupeKey("bob@example.com") == want {
		t.Fatalf("different emails must not share a dedupe key")
	}
}

func sign(secret, payload []byte) string {
	m := hmac.New(sha256.New, secret)
	m.Write(payload)
	return "v1," + hex.EncodeToString(m.Sum(nil))
}

func TestVerifySignature_Valid(t *testing.T) {
	t.Parallel()

	secret := []byte("s3cr3t")
	payloads := [][]byte{
		[]byte(`{"event":"delivered"}`),
		[]byte("x"),
		[]byte(strings.Repeat("a", 4096)),
	}
	for _, p := range payloads {
		if !VerifySignature(p, sign(secret, p), secret) {
			t.Fatalf("expected valid signature for payload len=%d", len(p))
		}
		if SignV1(p, secret) != sign(secret, p) {
			t.Fatalf("SignV1 mismatch")
		}
	}
}

func TestVerifySignature_FlippedByteRejected(t *testing.T) {
	t.Parallel()

	secret := []byte("s3cr3t")
	payload := []byte(`{"event":"delivered"}`)
	header := sign(secret, payload)
	sigHex := strings.TrimPrefix(header, "v1,")
	raw, err := hex.DecodeString(sigHex)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	for i := range raw {
		flipped := append([]byte(nil), raw...)
		flipped[i] ^= 0x01
		if VerifySignature(payload, "v1,"+hex.EncodeToString(flipped), secret) {
			t.Fatalf("flipped byte %d must be rejected", i)
		}
	}
}

func TestVerifySignature_RejectsMalformed(t *testing.T) {
	t.Parallel()

	secret := []byte("s3cr3t")
	payload := []byte(`{"event":"delivered"}`)
	good := sign(secret, payload)

	cases := []struct {
		name    string
		payload []byte
		header  string
		secret  []byte
	}{
		{name: "missing prefix", payload: payload, header: strings.TrimPrefix(good, "v1,"), secret: secret},
		{name: "other scheme", payload: payload, header: "v2," + strings.TrimPrefix(good, "v1,"), secret: secret},
		{name: "non hex", payload: payload, header: "v1,zzzz-not-hex", secret: secret},
		{name: "odd hex", payload: payload, header: "v1,abc", secret: secret},
		{name: "empty header", payload: payload, header: "", secret: secret},
		{name: "empty payload", payload: nil, header: good, secret: secret},
		{name: "empty secret", payload: payload, header: good, secret: nil},
		{name: "truncated", payload: payload, header: good[:len(good)-2], secret: secret},
		{name: "wrong secret", payload: payload, header: good, secret: []byte("other")},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if VerifySignature(tc.payload, tc.header, tc.secret) {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestVerifySignature_MultipleEntries(t *testing.T) {
	t.Parallel()

	secret := []byte("s3cr3t")
	payload := []byte(`{"event":"delivered"}`)
	header := "v1,deadbeef v2,abcd " + sign(secret, payload)
	if !VerifySignature(payload, header, secret) {
		t.Fatalf("expected any matching v1 entry to be accepted")
	}
}

func TestParseSignatureHeader(t *testing.T) {
	t.Parallel()

	sigs, err := ParseSignatureHeader("v1,aa v1,bb")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(sigs) != 2 || sigs[0].SignatureHex != "aa" || sigs[1].Scheme != "v1" {
		t.Fatalf("unexpected parse result: %+v", sigs)
	}
	if _, err := ParseSignatureHeader("sha256=abc"); !errors.Is(err, ErrSignatureFormat) {
		t.Fatalf("expected ErrSignatureFormat, got %v", err)
	}
}

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "Bearer abc.def", want: "abc.def", wantOK: true},
		{in: "bearer abc", wantOK: false},
		{in: "Bearer  abc", want: " abc", wantOK: true},
		{in: "Bearer", wantOK: false},
		{in: "Bearer ", wantOK: false},
		{in: "Basic abc", wantOK: false},
		{in: "", wantOK: false},
	}
	for _, tc := range cases {
		got, ok := ExtractBearerToken(tc.in)
		if ok != tc.wantOK || got != tc.want {
			t.Fatalf("ExtractBearerToken(%q)=(%q,%v) want=(%q,%v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	if _, err := Key("   ", 32); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
	if _, err := Key("short", 32); !errors.Is(err, ErrKeyTooShort) {
		t.Fatalf("expected ErrKeyTooShort, got %v", err)
	}
	k, err := Key(" "+strings.Repeat("k", 32)+" ", 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(k) != 32 {
		t.Fatalf("expected trimmed 32-byte key, got %d", len(k))
	}
}

func TestConstantTimeEqual(t *testing.T) {
	t.Parallel()

	if !ConstantTimeEqual([]byte("abc"), []byte("abc")) {
		t.Fatalf("equal slices must compare equal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("abd")) {
		t.Fatalf("different slices must not compare equal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("abcd")) {
		t.Fatalf("different lengths must not compare equal")
	}
}
