package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tasktrack/apiserver/config"
	"github.com/tasktrack/apiserver/internal/auth"
	"github.com/tasktrack/apiserver/internal/events"
	"github.com/tasktrack/apiserver/internal/handlers"
	"github.com/tasktrack/apiserver/internal/metrics"
	"github.com/tasktrack/apiserver/internal/ratelimit"
	"github.com/tasktrack/apiserver/internal/services"
	"github.com/tasktrack/apiserver/internal/testutil"
	"github.com/tasktrack/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "server-test-secret"

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) recorded() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	t         *testing.T
	handler   http.Handler
	mem       *testutil.MemStore
	tokens    *auth.TokenService
	publisher *recordingPublisher
	metrics   *metrics.Metrics
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		mem:       testutil.NewMemStore(),
		tokens:    auth.NewTokenService(testSecret, time.Hour),
		publisher: &recordingPublisher{},
		metrics:   metrics.New(),
	}
	deps := Deps{
		Users:   h.mem.Users(),
		Tasks:   h.mem.Tasks(),
		Tokens:  h.tokens,
		Hasher:  auth.NewPasswordHasher(bcrypt.MinCost),
		Metrics: h.metrics,
		Events:  h.publisher,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	h.handler = NewHandler(deps)
	return h
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, want, rec.Body.String())
	}
}

// register creates an account and returns its token and user.
func (h *harness) register(username string) (string, types.User) {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "Str0ng!Pass",
	})
	expectStatus(h.t, rec, http.StatusCreated)
	res := decode[services.AuthResult](h.t, rec)
	return res.Token, res.User
}

// admin creates an account, promotes it and returns a fresh token.
func (h *harness) admin(username string) (string, types.User) {
	h.t.Helper()
	_, user := h.register(username)
	promoted, err := h.mem.Users().SetRole(context.Background(), username, types.RoleAdmin)
	if err != nil {
		h.t.Fatalf("SetRole: %v", err)
	}
	token, err := h.tokens.Issue(user.ID, types.RoleAdmin)
	if err != nil {
		h.t.Fatalf("Issue: %v", err)
	}
	return token, promoted
}

func (h *harness) createTask(token, title string) types.Task {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/v1/tasks", token, map[string]string{"title": title})
	expectStatus(h.t, rec, http.StatusCreated)
	return decode[types.Task](h.t, rec)
}

func TestRegisterWeakPassword(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "a@b.com",
		"password": "weak",
	})
	expectStatus(t, rec, http.StatusBadRequest)

	body := decode[handlers.ErrorResponse](t, rec)
	if body.Code != "VALIDATION_FAILED" {
		t.Fatalf("code = %q", body.Code)
	}
	joined := strings.Join(body.Details, "\n")
	if !strings.Contains(joined, "at least 8 characters") || !strings.Contains(joined, "uppercase") {
		t.Fatalf("details = %q", body.Details)
	}
}

func TestRegisterLoginProfile(t *testing.T) {
	h := newHarness(t)
	_, user := h.register("alice")

	rec := h.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "Str0ng!Pass",
	})
	expectStatus(t, rec, http.StatusOK)
	if strings.Contains(rec.Body.String(), "password_hash") || strings.Contains(rec.Body.String(), "$2a$") {
		t.Fatalf("login response leaked the digest: %s", rec.Body.String())
	}
	login := decode[services.AuthResult](t, rec)

	claims, err := h.tokens.Verify(login.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != user.ID {
		t.Fatalf("subject = %d, want %d", claims.Subject, user.ID)
	}

	rec = h.do(http.MethodGet, "/api/v1/auth/profile", login.Token, nil)
	expectStatus(t, rec, http.StatusOK)
	if profile := decode[types.User](t, rec); profile.ID != user.ID || profile.Username != "alice" {
		t.Fatalf("profile = %+v", profile)
	}

	if got := h.publisher.recorded(); len(got) != 1 || got[0] != events.UserRegistered {
		t.Fatalf("events = %v", got)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	h := newHarness(t)
	h.register("alice")
	rec := h.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "new@example.com",
		"password": "Str0ng!Pass",
	})
	expectStatus(t, rec, http.StatusConflict)
}

func TestLoginWrongPassword(t *testing.T) {
	h := newHarness(t)
	h.register("alice")
	rec := h.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "Wr0ng!Pass",
	})
	expectStatus(t, rec, http.StatusUnauthorized)
	if body := decode[handlers.ErrorResponse](t, rec); body.Reason != "INVALID_CREDENTIALS" {
		t.Fatalf("reason = %q", body.Reason)
	}
}

func TestOtherUsersTaskIsForbidden(t *testing.T) {
	h := newHarness(t)
	aliceToken, _ := h.register("alice")
	bobToken, _ := h.register("bob")
	task := h.createTask(aliceToken, "private")

	path := "/api/v1/tasks/" + strconv.Itoa(task.ID)
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		var body any
		if method == http.MethodPut || method == http.MethodPatch {
			body = map[string]string{"title": "hijacked"}
		}
		rec := h.do(method, path, bobToken, body)
		expectStatus(t, rec, http.StatusForbidden)
		if got := decode[handlers.ErrorResponse](t, rec); got.Reason != "NOT_OWNER" {
			t.Fatalf("%s reason = %q", method, got.Reason)
		}
	}

	rec := h.do(http.MethodGet, path, aliceToken, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[types.Task](t, rec); got.Title != "private" {
		t.Fatalf("task changed by a denied request: %+v", got)
	}
}

func TestAdminDeletesAnyTask(t *testing.T) {
	h := newHarness(t)
	aliceToken, _ := h.register("alice")
	adminToken, _ := h.admin("boss")
	task := h.createTask(aliceToken, "doomed")

	path := "/api/v1/tasks/" + strconv.Itoa(task.ID)
	rec := h.do(http.MethodDelete, path, adminToken, nil)
	expectStatus(t, rec, http.StatusOK)
	if msg := decode[handlers.MessageResponse](t, rec); msg.Message == "" {
		t.Fatal("expected a confirmation message")
	}

	expectStatus(t, h.do(http.MethodGet, path, adminToken, nil), http.StatusNotFound)
	expectStatus(t, h.do(http.MethodGet, path, aliceToken, nil), http.StatusNotFound)

	got := h.publisher.recorded()
	if got[len(got)-1] != events.TaskDeleted {
		t.Fatalf("events = %v", got)
	}
}

func TestTokenFailuresAreDistinguished(t *testing.T) {
	h := newHarness(t)
	_, user := h.register("alice")

	expired, err := h.tokens.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }).Issue(user.ID, user.Role)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := map[string]struct {
		header string
		reason string
	}{
		"expired":   {header: "Bearer " + expired, reason: "EXPIRED"},
		"malformed": {header: "Bearer not-a-token", reason: "MALFORMED"},
		"missing":   {header: "", reason: "MISSING_CREDENTIALS"},
		"scheme":    {header: "Basic " + expired, reason: "MISSING_CREDENTIALS"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.handler.ServeHTTP(rec, req)
			expectStatus(t, rec, http.StatusUnauthorized)
			if body := decode[handlers.ErrorResponse](t, rec); body.Reason != tc.reason || body.Code != "UNAUTHENTICATED" {
				t.Fatalf("body = %+v", body)
			}
		})
	}

	rec := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `tasktrack_auth_authentication_failures_total{reason="EXPIRED"} 1`) {
		t.Fatal("expired token was not counted")
	}
}

func TestDeletedUserTokenIsRejected(t *testing.T) {
	h := newHarness(t)
	token, user := h.register("alice")
	if err := h.mem.Users().Delete(context.Background(), user.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	rec := h.do(http.MethodGet, "/api/v1/auth/profile", token, nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if body := decode[handlers.ErrorResponse](t, rec); body.Reason != "SUBJECT_GONE" {
		t.Fatalf("reason = %q", body.Reason)
	}
}

func TestStatsRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	aliceToken, _ := h.register("alice")
	adminToken, _ := h.admin("boss")
	h.createTask(aliceToken, "one")
	h.createTask(aliceToken, "two")

	rec := h.do(http.MethodGet, "/api/v1/tasks/stats", aliceToken, nil)
	expectStatus(t, rec, http.StatusForbidden)
	if body := decode[handlers.ErrorResponse](t, rec); body.Reason != "INSUFFICIENT_ROLE" {
		t.Fatalf("reason = %q", body.Reason)
	}

	rec = h.do(http.MethodGet, "/api/v1/tasks/stats", adminToken, nil)
	expectStatus(t, rec, http.StatusOK)
	stats := decode[types.TaskStats](t, rec)
	if stats.TotalTasks != 2 || stats.PendingTasks != 2 || stats.TotalUsers != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRoleChangeAppliesToNextRequest(t *testing.T) {
	h := newHarness(t)
	token, _ := h.register("alice")
	expectStatus(t, h.do(http.MethodGet, "/api/v1/tasks/stats", token, nil), http.StatusForbidden)

	if _, err := h.mem.Users().SetRole(context.Background(), "alice", types.RoleAdmin); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	expectStatus(t, h.do(http.MethodGet, "/api/v1/tasks/stats", token, nil), http.StatusOK)
}

func TestListTasks(t *testing.T) {
	h := newHarness(t)
	aliceToken, _ := h.register("alice")
	bobToken, _ := h.register("bob")
	for i := 0; i < 3; i++ {
		h.createTask(aliceToken, "alice task")
	}
	h.createTask(bobToken, "bob task")

	rec := h.do(http.MethodGet, "/api/v1/tasks?page=1&limit=2", aliceToken, nil)
	expectStatus(t, rec, http.StatusOK)
	page := decode[types.TaskPage](t, rec)
	if len(page.Tasks) != 2 || page.Pagination.TotalTasks != 3 || page.Pagination.TotalPages != 2 {
		t.Fatalf("page = %+v", page)
	}

	rec = h.do(http.MethodGet, "/api/v1/tasks?limit=500", aliceToken, nil)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestUpdateTaskValidation(t *testing.T) {
	h := newHarness(t)
	token, _ := h.register("alice")
	task := h.createTask(token, "draft")
	path := "/api/v1/tasks/" + strconv.Itoa(task.ID)

	rec := h.do(http.MethodPatch, path, token, map[string]string{"status": "done"})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = h.do(http.MethodPatch, path, token, map[string]string{"status": "completed"})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[types.Task](t, rec); got.Status != types.TaskStatusCompleted || got.Title != "draft" {
		t.Fatalf("task = %+v", got)
	}

	req := httptest.NewRequest(http.MethodPut, path, strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	raw := httptest.NewRecorder()
	h.handler.ServeHTTP(raw, req)
	expectStatus(t, raw, http.StatusBadRequest)
}

func TestNonNumericTaskID(t *testing.T) {
	h := newHarness(t)
	token, _ := h.register("alice")
	expectStatus(t, h.do(http.MethodGet, "/api/v1/tasks/abc", token, nil), http.StatusNotFound)
}

func TestUnknownRouteAndHeaders(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/v2/nothing", "", nil)
	expectStatus(t, rec, http.StatusNotFound)
	if body := decode[handlers.ErrorResponse](t, rec); body.Error == "" {
		t.Fatal("expected a JSON error body")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing nosniff header")
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if body := decode[handlers.HealthResponse](t, rec); body.Status != "ok" {
		t.Fatalf("health = %+v", body)
	}
}

func TestRateLimitAppliesToAPIOnly(t *testing.T) {
	limiter := ratelimit.NewMemory()
	defer limiter.Close()
	h := newHarness(t, func(d *Deps) {
		d.Limiter = limiter
		d.RateLimit = config.RateLimitConfig{Requests: 2, Window: time.Minute}
	})

	for i := 0; i < 2; i++ {
		expectStatus(t, h.do(http.MethodGet, "/api/v1/tasks", "", nil), http.StatusUnauthorized)
	}
	rec := h.do(http.MethodGet, "/api/v1/tasks", "", nil)
	expectStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}

	expectStatus(t, h.do(http.MethodGet, "/healthz", "", nil), http.StatusOK)
}

func TestForwardedForDoesNotEvadeRateLimit(t *testing.T) {
	limiter := ratelimit.NewMemory()
	defer limiter.Close()
	h := newHarness(t, func(d *Deps) {
		d.Limiter = limiter
		d.RateLimit = config.RateLimitConfig{Requests: 2, Window: time.Minute}
	})

	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	send("203.0.113.1")
	send("203.0.113.2")
	if code := send("203.0.113.3"); code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 regardless of X-Forwarded-For", code)
	}
}

func TestTrustedProxyKeysOnForwardedFor(t *testing.T) {
	limiter := ratelimit.NewMemory()
	defer limiter.Close()
	h := newHarness(t, func(d *Deps) {
		d.Limiter = limiter
		d.RateLimit = config.RateLimitConfig{Requests: 1, Window: time.Minute}
		d.TrustProxy = true
	})

	for _, client := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
		req.Header.Set("X-Forwarded-For", client)
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			t.Fatalf("client %s limited by another client's requests", client)
		}
	}
}

func TestStoreFailureIsOpaque(t *testing.T) {
	h := newHarness(t)
	token, _ := h.register("alice")
	h.mem.Err = errors.New("pq: connection refused to 10.0.0.5")

	rec := h.do(http.MethodGet, "/api/v1/tasks", token, nil)
	expectStatus(t, rec, http.StatusInternalServerError)
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Fatalf("response leaked the store error: %s", rec.Body.String())
	}
}

func TestEventFailureDoesNotFailRequest(t *testing.T) {
	h := newHarness(t)
	token, _ := h.register("alice")
	h.publisher.err = errors.New("broker down")

	task := h.createTask(token, "still created")
	if task.ID == 0 {
		t.Fatal("task was not created")
	}
}
