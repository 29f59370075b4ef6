package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"herald/cmd/internal/delivery"
	"herald/cmd/internal/invite"
	"herald/cmd/internal/ratelimit"
	"herald/cmd/internal/waitlist"
)

const (
	testAdminKey = "admin-key-for-tests"
	testSecret   = "0123456789abcdef0123456789abcdef"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls []delivery.Message
	fail  bool
}

func (f *fakeProvider) Send(_ context.Context, msg delivery.Message) (delivery.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	if f.fail {
		return delivery.SendResult{}, &delivery.ProviderError{Code: "unavailable", Status: 503, Msg: "down"}
	}
	return delivery.SendResult{ID: "msg_" + msg.To}, nil
}

func (f *fakeProvider) sent() []delivery.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery.Message(nil), f.calls...)
}

type fakeReplayer struct {
	res   delivery.ReplayResult
	err   error
	calls int
}

func (f *fakeReplayer) Replay(context.Context) (delivery.ReplayResult, error) {
	f.calls++
	return f.res, f.err
}

type memoryAudit struct {
	mu      sync.Mutex
	actions []string
}

func (m *memoryAudit) Record(_ context.Context, ev AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, ev.Action)
	return nil
}

func (m *memoryAudit) has(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.actions {
		if a == action {
			return true
		}
	}
	return false
}

type testServer struct {
	mux      *http.ServeMux
	provider *fakeProvider
	wl       *waitlist.MemoryStore
	dlq      *delivery.MemoryDeadLetterStore
	replayer *fakeReplayer
	audit    *memoryAudit
	now      time.Time
}

func testConfig() Config {
	return Config{
		AdminKey:            testAdminKey,
		MaxBodyBytes:        1 << 16,
		InviteTTLHours:      24,
		ResetTTLHours:       1,
		MaxTTLHours:         720,
		WaitlistIPMax:       100,
		WaitlistIPWindow:    time.Minute,
		WaitlistEmailMax:    100,
		WaitlistEmailWindow: time.Hour,
		TokenIPMax:          100,
		TokenIPWindow:       time.Minute,
	}
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := &testServer{
		mux:      http.NewServeMux(),
		provider: &fakeProvider{},
		wl:       waitlist.NewMemoryStore(),
		dlq:      delivery.NewMemoryDeadLetterStore(),
		replayer: &fakeReplayer{},
		audit:    &memoryAudit{},
		now:      time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return s.now }

	renderer, err := delivery.NewRenderer("Herald")
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	pipeline, err := delivery.NewPipeline(s.provider, renderer, s.wl, s.dlq, delivery.WithLogger(log), delivery.WithClock(clock))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	wlSvc, err := waitlist.NewService(s.wl)
	if err != nil {
		t.Fatalf("waitlist: %v", err)
	}
	tokens, err := invite.NewService(testSecret,
		invite.WithBaseURL("https://app.example.com/"),
		invite.WithRedemptionStore(invite.NewMemoryRedemptionStore()),
		invite.WithClock(clock),
	)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryStore(0), ratelimit.WithLogger(log), ratelimit.WithClock(clock))
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}

	h := NewHandler(log, cfg,
		WithTokens(tokens),
		WithWaitlist(wlSvc),
		WithMailer(pipeline),
		WithReplayer(s.replayer),
		WithLimiter(limiter),
		WithAuditSink(s.audit),
		WithClock(clock),
	)
	h.Register(s.mux)
	return s
}

type call struct {
	method string
	path   string
	body   string
	bearer string
	ip     string
}

func (s *testServer) do(c call) *httptest.ResponseRecorder {
	method := c.method
	if method == "" {
		method = http.MethodPost
	}
	req := httptest.NewRequest(method, c.path, bytes.NewBufferString(c.body))
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.ip != "" {
		req.RemoteAddr = c.ip + ":41000"
	}
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v (body=%q)", err, rr.Body.String())
	}
	return out
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected %d, got %d (body=%s)", status, rr.Code, rr.Body.String())
	}
	if code == "" {
		return
	}
	if got := decodeBody(t, rr)["code"]; got != code {
		t.Fatalf("expected code=%q, got %v", code, got)
	}
}

func TestWaitlistJoin_CreatesOnceAndConfirms(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testConfig())

	first := s.do(call{path: "/waitlist", body: `{"email":"Alice@Example.com","locale":"de"}`})
	expectCode(t, first, http.StatusOK, "")
	a := decodeBody(t, first)
	if a["success"] != true || a["created"] != true || a["confirmationSent"] != true {
		t.Fatalf("unexpected first response: %v", a)
	}

	second := s.do(call{path: "/waitlist", body: `{"email":"alice@example.com"}`})
	expectCode(t, second, http.StatusOK, "")
	b := decodeBody(t, second)
	if b["created"] != false || b["id"] != a["id"] || b["confirmationSent"] != true {
		t.Fatalf("expected the same entry without a new send, got %v", b)
	}

	sent := s.provider.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one confirmation email, got %d", len(sent))
	}
	if sent[0].To != "alice@example.com" || !strings.HasPrefix(sent[0].IdempotencyKey, "waitlist-confirmation:") {
		t.Fatalf("unexpected message: %+v", sent[0])
	}
}

func TestWaitlistJoin_ProviderFailureStillJoins(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testConfig())
	s.provider.fail = true

	rr := s.do(call{path: "/waitlist", body: `{"email":"bob@example.com"}`})
	expectCode(t, rr, http.StatusOK, "")
	body := decodeBody(t, rr)
	if body["created"] != true || body["confirmationSent"] != false {
		t.Fatalf("unexpected response: %v", body)
	}
	if s.dlq.Len() != 1 {
		t.Fatalf("expected failed confirmation to be dead-lettered, got %d entries", s.dlq.Len())
	}
}

func TestWaitlistJoin_RejectsBadInput(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testConfig())

	cases := []struct {
		name string
		body string
		code string
	}{
		{name: "invalid email", body: `{"email":"not-an-email"}`, code: "invalid_email"},
		{name: "display name", body: `{"email":"Alice <alice@example.com>"}`, code: "invalid_email"},
		{name: "unknown field", body: `{"email":"a@example.com","admin":true}`, code: "invalid_json"},
		{name: "trailing data", body: `{"email":"a@example.com"}{}`, code: "invalid_json"},
	}
	for _, tc := range cases {
		rr := s.do(call{path: "/waitlist", body: tc.body})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rr.Code)
		}
		if got := decodeBody(t, rr)["code"]; got != tc.code {
			t.Fatalf("%s: expected code=%q, got %v", tc.name, tc.code, got)
		}
	}

	rr := s.do(call{method: http.MethodGet, path: "/waitlist"})
	expectCode(t, rr, http.StatusMethodNotAllowed, "method_not_allowed")
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected Allow header")
	}
}

func TestWaitlistJoin_RateLimitedPerEmail(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.WaitlistEmailMax = 2
	s := newTestServer(t, cfg)

	for i, ip := range []string{"198.51.100.1", "198.51.100.2"} {
		rr := s.do(call{path: "/waitlist", body: `{"email":"carol@example.com"}`, ip: ip})
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}

	rr := s.do(call{path: "/waitlist", body: `{"email":"CAROL@example.com"}`, ip: "198.51.100.3"})
	expectCode(t, rr, http.StatusTooManyRequests, "rate_limited")
	if rr.Header().Get("Retry-After") == "" || rr.Header().Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("expected rate limit headers, got %v", rr.Header())
	}
	body := decodeBody(t, rr)
	if body["remaining"] != float64(0) || body["retryAfter"] == float64(0) {
		t.Fatalf("unexpected 429 body: %v", body)
	}

	// Another address is unaffected.
	rr = s.do(call{path: "/waitlist", body: `{"email":"dave@example.com"}`, ip: "198.51.100.3"})
	expectCode(t, rr, http.StatusOK, "")
}

func TestWaitlistJoin_RateLimitedPerIP(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.WaitlistIPMax = 1
	s := newTestServer(t, cfg)

	expectCode(t, s.do(call{path: "/waitlist", body: `{"email":"e1@example.com"}`, ip: "203.0.113.9"}), http.StatusOK, "")
	expectCode(t, s.do(call{path: "/waitlist", body: `{"email":"e2@example.com"}`, ip: "203.0.113.9"}), http.StatusTooManyRequests, "rate_limited")
	expectCode(t, s.do(call{path: "/waitlist", body: `{"email":"e2@example.com"}`, ip: "203.0.113.10"}), http.StatusOK, "")
}

func TestAdminRoutes_RequireBearerKey(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testConfig())
	body := `{"subjectId":"user-1","email":"user@example.com"}`

	expectCode(t, s.do(call{path: "/invites", body: body}), http.StatusUnauthorized, "unauthorized")
	expectCode(t, s.do(call{path: "/invites", body: body, bearer: "wrong"}), http.StatusForbidden, "forbidden")
	expectCode(t, s.do(call{path: "/admin/dlq/replay", bearer: "wrong"}), http.StatusForbidden, "forbidden")
	if !s.audit.has("security.admin.rejected") {
		t.Fatalf("expected rejected admin calls to be audited")
	}

	cfg := testConfig()
	cfg.AdminKey = ""
	disabled := newTestServer(t, cfg)
	expectCode(t, disabled.do(call{path: "/invites", body: body, bearer: testAdminKey}), http.StatusServiceUnavailable, "admin_disabled")
}

func mint(t *testing.T, s *testServer, path, body string) map[string]any {
	t.Helper()
	rr := s.do(call{path: path, body: body, bearer: testAdminKey})
	expectCode(t, rr, http.StatusOK, "")
	return decodeBody(t, rr)
}

func TestInvite_MintValidateAccept(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testConfig())

	minted := mint(t, s, "/invites", `{"subjectId":"user-1","email":"User@Example.com"}`)
	tok, _ := minted["token"].(string)
	url, _ := minted["url"].(string)
	if tok == "" || url != "https://app.example.com/invite/"+tok {
		t.Fatalf("unexpected mint response: %v", minted)
	}
	if minted["emailed"] != false {
		t.Fatalf("token must not be emailed unless requested")
	}

	rr := s.do(call{path: "/invites/validate", body: `{"token":"` + tok + `"}`})
	expectCode(t, rr, http.StatusOK, "")
	claims := decodeBody(t, rr)
	if claims["subjectId"] != "user-1" || claims["email"] != "user@example.com" || claims["type"] != "invite" {
		t.Fatalf("unexpected claims: %v", claims)
	}
	issued, _ := time.Parse(time.RFC3339, fmt.Sprint(claims["issuedAt"]))
	expires, _ := time.Parse(time.RFC3339, fmt.Sprint(claims["expiresAt"]))
	if issued.IsZero() || expires.Sub(issued) != 24*time.Hour {
		t.Fatalf("expected issuedAt 24h before expiresAt, got %v / %v", claims["issuedAt"], claims["expiresAt"])
	}

	expectCode(t, s.do(call{path: "/invites/validate", body: `{"url":"` + url + `"}`}), http.StatusOK, "")
	expectCode(t, s.do(call{path: "/password-reset/validate", body: `{"token":"` + tok + `"}`}), http.StatusForbidden, "token_wrong_type")

	expectCode(t, s.do(call{path: "/invites/accept", body: `{"token":"` + tok + `"}`}), http.StatusOK, "")
	expectCode(t, s.do(call{path: "/invites/accept", body: `{"token":"` + tok + `"}`}), http.StatusConflict, "token_redeemed")
	if !s.audit.has("token.redeemed") || !s.audit.has("admin.token.minted") {
		t.Fatalf("expected mint and redemption audit events, got %v", s.audit.actions)
	}
}

func TestInvite_ExpiryAndTamper(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testConfig())

	a := mint(t, s, "/invites", `{"subjectId":"user-1","email":"a@example.com","ttlHours":1}`)["token"].(string)
	b := mint(t, s, "/invites", `{"subjectId":"user-2","email":"b@example.com","ttlHours":1}`)["token"].(string)

	payloadA, _, _ := strings.Cut(a, ".")
	_, sigB, _ := strings.Cut(b, ".")
	rr := s.do(call{path: "/invites/validate", body: `{"token":"` + payloadA + "." + sigB + `"}`})
	expectCode(t, rr, http.StatusUnauthorized, "token_invalid")
	if !s.audit.has("security.token.signature_invalid") {
		t.Fatalf("expected signature failure to be audited")
	}

	expectCode(t, s.do(call{path: "/invites/validate", body: `{"token":"garbage"}`}), http.StatusBadRequest, "token_malformed")
	expectCode(t, s.do(call{path: "/invites/validate", body: `{}`}), http.StatusBadRequest, "token_missing")

	s.now = s.now.Add(time.Hour + time.Second)
	expectCode(t, s.do(call{path: "/invites/validate", body: `{"token":"` + a + `"}`}), http.StatusUnauthorized, "token_expired")
}

func TestPasswordReset_MintAndEmail(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testConfig())

	minted := mint(t, s, "/password-reset", `{"subjectId":"user-9","email":"reset@example.com","send":true,"locale":"de-DE"}`)
	if minted["emailed"] != true {
		t.Fatalf("expected email to be sent: %v", minted)
	}
	expires, err := time.Parse(time.RFC3339, minted["expiresAt"].(string))
	if err != nil || !expires.Equal(s.now.Add(time.Hour)) {
		t.Fatalf("expected default 1h reset ttl, got %v (%v)", minted["expiresAt"], err)
	}

	sent := s.provider.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one email, got %d", len(sent))
	}
	if sent[0].IdempotencyKey != "password_reset:"+minted["tokenId"].(string) {
		t.Fatalf("unexpected idempotency key %q", sent[0].IdempotencyKey)
	}
	if !strings.Contains(sent[0].HTML, minted["url"].(string)) {
		t.Fatalf("expected reset link in email body")
	}

	tok := minted["token"].(string)
	expectCode(t, s.do(call{path: "/password-reset/validate", body: `{"token":"` + tok + `"}`}), http.StatusOK, "")
	expectCode(t, s.do(call{path: "/invites/accept", body: `{"token":"` + tok + `"}`}), http.StatusForbidden, "token_wrong_type")
}

func TestMint_RejectsBadInput(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testConfig())

	cases := []struct {
		body string
		code string
	}{
		{body: `{"subjectId":"u","email":"u@example.com","ttlHours":-1}`, code: "invalid_ttl"},
		{body: `{"subjectId":"u","email":"u@example.com","ttlHours":100000}`, code: "invalid_ttl"},
		{body: `{"email":"u@example.com"}`, code: "invalid_request"},
		{body: `{"subjectId":"u","email":"nope"}`, code: "invalid_request"},
	}
	for _, tc := range cases {
		rr := s.do(call{path: "/invites", body: tc.body, bearer: testAdminKey})
		expectCode(t, rr, http.StatusBadRequest, tc.code)
	}
}

func TestReplay_RunsOnePass(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testConfig())
	s.replayer.res = delivery.ReplayResult{Processed: 3, Successful: 2, Dropped: 1}

	rr := s.do(call{path: "/admin/dlq/replay", bearer: testAdminKey})
	expectCode(t, rr, http.StatusOK, "")
	result, _ := decodeBody(t, rr)["result"].(map[string]any)
	if result["processed"] != float64(3) || result["dropped"] != float64(1) {
		t.Fatalf("unexpected result: %v", result)
	}
	if s.replayer.calls != 1 {
		t.Fatalf("expected one replay pass, got %d", s.replayer.calls)
	}

	s.replayer.err = errors.New("list failed")
	expectCode(t, s.do(call{path: "/admin/dlq/replay", bearer: testAdminKey}), http.StatusInternalServerError, "replay_failed")
}

func TestRegister_MountsWebhook(t *testing.T) {
	t.Parallel()

	hit := false
	wh := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit = true
		w.WriteHeader(http.StatusNoContent)
	})
	mux := http.NewServeMux()
	NewHandler(nil, testConfig(), WithWebhook(wh)).Register(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/email", nil))
	if !hit || rr.Code != http.StatusNoContent {
		t.Fatalf("expected webhook handler to serve /webhooks/email")
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/waitlist", bytes.NewBufferString(`{"email":"a@example.com"}`)))
	expectCode(t, rr, http.StatusServiceUnavailable, "unavailable")
}
