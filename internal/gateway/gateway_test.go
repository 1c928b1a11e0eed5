package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chantier-intranet/internal/accounts"
	"chantier-intranet/internal/auth"
	"chantier-intranet/internal/audit"
	"chantier-intranet/internal/config"
	"chantier-intranet/internal/ratelimit"
	"chantier-intranet/internal/rbac"

	"github.com/gin-gonic/gin"
)

const cookieName = "auth_token"

var t0 = time.Unix(1700000000, 0).UTC()

type harness struct {
	gw        *Gateway
	tokens    *auth.Manager
	dir       *accounts.MemoryRepo
	auditRepo *audit.MemoryRepo
	router    *gin.Engine
}

type harnessOpts struct {
	apiLimit  int
	directory accounts.Directory
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clock := func() time.Time { return t0 }
	log := discardLogger()

	tokens, err := auth.NewManager(config.AuthConfig{
		JWTSecret:     "test-secret",
		TokenTTL:      7 * 24 * time.Hour,
		ShortTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if opts.apiLimit == 0 {
		opts.apiLimit = 100
	}
	limiter := ratelimit.New(ratelimit.NewMemoryStore(clock), map[ratelimit.Scope]ratelimit.Policy{
		ratelimit.ScopeLogin: {Limit: 12, Window: 15 * time.Minute},
		ratelimit.ScopeAPI:   {Limit: opts.apiLimit, Window: time.Minute},
	}, log)

	dir := accounts.NewMemoryRepo(
		accounts.Account{ID: 1, Email: "admin@btp.fr", Name: "Admin", Role: rbac.RoleAdmin, Status: accounts.StatusActive},
		accounts.Account{ID: 2, Email: "ouvrier@btp.fr", Name: "Ouvrier", Role: rbac.RoleWorker, Status: accounts.StatusActive},
		accounts.Account{ID: 3, Email: "client@btp.fr", Name: "Client", Role: rbac.RoleClient, Status: accounts.StatusActive},
		accounts.Account{ID: 4, Email: "autre@btp.fr", Name: "Autre", Role: rbac.RoleClient, Status: accounts.StatusActive},
		accounts.Account{ID: 5, Email: "parti@btp.fr", Name: "Parti", Role: rbac.RoleWorker, Status: accounts.StatusInactive},
	)
	var directory accounts.Directory = dir
	if opts.directory != nil {
		directory = opts.directory
	}

	owners := rbac.NewRegistry()
	owners.Register(rbac.ResourceChantier, rbac.OwnerResolverFunc(func(_ context.Context, id int64) (int64, error) {
		if id == 10 {
			return 3, nil
		}
		return 0, rbac.ErrOwnerNotFound
	}))

	auditRepo := audit.NewMemoryRepo()
	gw, err := New(Deps{
		Limiter:    limiter,
		Tokens:     tokens,
		Directory:  directory,
		Authorizer: rbac.NewAuthorizer(owners),
		Audit:      audit.NewRecorder(auditRepo, log, audit.WithClock(clock)),
		Log:        log,
		Cookie:     auth.CookieConfig{Name: cookieName},
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(nil); err != nil {
		t.Fatalf("SetTrustedProxies: %v", err)
	}
	r.Use(gin.Recovery())
	ok := func(c *gin.Context) {
		id, _ := auth.IdentityFrom(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "role": id.Role})
	}
	r.GET("/api/chantiers/:id", gw.RequireResourcePermission(rbac.ActionViewChantier, rbac.ResourceChantier, "id"), ok)
	r.GET("/api/admin/audit", gw.RequireRole(rbac.RoleAdmin), ok)
	r.GET("/api/dashboard", gw.RequirePermission(rbac.ActionViewDashboard), ok)
	r.GET("/api/auth/me", gw.Authenticate(), ok)
	r.GET("/api/broken", gw.Authenticate(), func(*gin.Context) { panic("handler bug") })
	r.POST("/api/auth/login", gw.Throttle(ratelimit.ScopeLogin, "login"), func(c *gin.Context) {
		c.AbortWithStatus(http.StatusUnauthorized)
	})

	return &harness{gw: gw, tokens: tokens, dir: dir, auditRepo: auditRepo, router: r}
}

func (h *harness) token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := h.tokens.Issue(t0, auth.Identity{UserID: userID, Email: "x@btp.fr", Role: role, Name: "X"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok.Value
}

func (h *harness) do(method, path, bearer, cookie string) *httptest.ResponseRecorder {
	return h.doFrom(method, path, bearer, cookie, nil)
}

func (h *harness) doFrom(method, path, bearer, cookie string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: cookie})
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Code              string `json:"code"`
		Message           string `json:"message"`
		RetryAfterMinutes int    `json:"retry_after_minutes"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var b errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return b
}

func (h *harness) onlyRecord(t *testing.T) audit.Record {
	t.Helper()
	recs := h.auditRepo.Records()
	if len(recs) != 1 {
		t.Fatalf("expected exactly one audit record, got %d: %+v", len(recs), recs)
	}
	return recs[0]
}

func clearedCookie(w *httptest.ResponseRecorder) bool {
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName && c.MaxAge < 0 {
			return true
		}
	}
	return false
}

func TestGuard_DisabledAccountWithValidToken(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	w := h.do(http.MethodGet, "/api/auth/me", "", h.token(t, 5, "worker"))

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if b := decodeError(t, w); b.Error.Code != "ACCOUNT_DISABLED" {
		t.Fatalf("expected ACCOUNT_DISABLED, got %+v", b)
	}
	if !clearedCookie(w) {
		t.Fatalf("expected identity cookie cleared, got %v", w.Header().Values("Set-Cookie"))
	}

	rec := h.onlyRecord(t)
	if rec.Reason() != ReasonAccountDisabled {
		t.Fatalf("expected reason account_disabled, got %q", rec.Reason())
	}
	if rec.ActorID == nil || *rec.ActorID != 5 {
		t.Fatalf("expected actor 5, got %v", rec.ActorID)
	}
}

func TestGuard_DeletedAccountLooksDisabled(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	w := h.do(http.MethodGet, "/api/auth/me", h.token(t, 99, "admin"), "")

	if w.Code != http.StatusForbidden || decodeError(t, w).Error.Code != "ACCOUNT_DISABLED" {
		t.Fatalf("expected ACCOUNT_DISABLED, got %d %s", w.Code, w.Body.String())
	}
	if got := h.onlyRecord(t).Reason(); got != ReasonAccountNotFound {
		t.Fatalf("expected audit reason account_not_found, got %q", got)
	}
}

func TestThrottle_ThirteenthLoginAttempt(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	for i := 1; i <= 12; i++ {
		w := h.do(http.MethodPost, "/api/auth/login", "", "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected handler to run, got %d", i, w.Code)
		}
	}
	if n := len(h.auditRepo.Records()); n != 0 {
		t.Fatalf("expected throttle to leave allowed attempts to the handler, got %d records", n)
	}

	w := h.do(http.MethodPost, "/api/auth/login", "", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	b := decodeError(t, w)
	if b.Error.Code != "RATE_LIMIT_EXCEEDED" || b.Error.RetryAfterMinutes != 15 {
		t.Fatalf("unexpected body %+v", b)
	}
	if got := w.Header().Get("Retry-After"); got != "900" {
		t.Fatalf("expected Retry-After 900, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining 0, got %q", got)
	}

	rec := h.onlyRecord(t)
	if rec.Reason() != ReasonRateLimitExceeded || rec.Action != "login" || rec.ActorID != nil {
		t.Fatalf("unexpected audit record %+v", rec)
	}
}

func TestThrottle_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	var last *httptest.ResponseRecorder
	for i := 1; i <= 13; i++ {
		header := http.Header{}
		header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		last = h.doFrom(http.MethodPost, "/api/auth/login", "", "", header)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 13th attempt from one peer to be limited, got %d", last.Code)
	}
	if ip := h.onlyRecord(t).IPAddress; ip != "192.0.2.1" {
		t.Fatalf("expected peer address in audit, got %q", ip)
	}
}

func TestGuard_PanickingHandlerStillAudited(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	w := h.do(http.MethodGet, "/api/broken", h.token(t, 1, "admin"), "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from recovery, got %d", w.Code)
	}

	rec := h.onlyRecord(t)
	if rec.Reason() != ReasonAuthorized || rec.Details["status"] != http.StatusInternalServerError || rec.Details["panic"] != true {
		t.Fatalf("unexpected audit record %+v", rec)
	}
}

func TestGuard_OwnershipException(t *testing.T) {
	cases := []struct {
		name       string
		userID     int64
		role       string
		path       string
		wantStatus int
		wantReason string
	}{
		{"owner client", 3, "client", "/api/chantiers/10", http.StatusOK, ReasonAuthorizedAsOwner},
		{"other client", 4, "client", "/api/chantiers/10", http.StatusForbidden, rbac.ReasonNotOwner},
		{"missing chantier", 3, "client", "/api/chantiers/11", http.StatusForbidden, rbac.ReasonResourceNotFound},
		{"bad id", 3, "client", "/api/chantiers/abc", http.StatusForbidden, rbac.ReasonNoOwnershipContext},
		{"worker by matrix", 2, "worker", "/api/chantiers/11", http.StatusOK, ReasonAuthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, harnessOpts{})
			w := h.do(http.MethodGet, tc.path, h.token(t, tc.userID, tc.role), "")
			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, w.Code, w.Body.String())
			}
			if w.Code == http.StatusForbidden {
				b := decodeError(t, w)
				if b.Error.Code != "FORBIDDEN" {
					t.Fatalf("expected FORBIDDEN, got %+v", b)
				}
			}
			rec := h.onlyRecord(t)
			if rec.Reason() != tc.wantReason {
				t.Fatalf("expected reason %q, got %q", tc.wantReason, rec.Reason())
			}
			if rec.Action != "view_chantier" || rec.ResourceType != "chantier" {
				t.Fatalf("unexpected audit labels %+v", rec)
			}
		})
	}
}

func TestGuard_DenialDoesNotLeakReason(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	notOwner := decodeError(t, h.do(http.MethodGet, "/api/chantiers/10", h.token(t, 4, "client"), ""))
	missing := decodeError(t, h.do(http.MethodGet, "/api/chantiers/11", h.token(t, 4, "client"), ""))
	if notOwner != missing {
		t.Fatalf("expected identical bodies for not-owner and not-found, got %+v vs %+v", notOwner, missing)
	}
}

func TestGuard_TokenFailures(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	w := h.do(http.MethodGet, "/api/auth/me", "", "")
	if w.Code != http.StatusUnauthorized || decodeError(t, w).Error.Code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %d %s", w.Code, w.Body.String())
	}
	if rec := h.onlyRecord(t); rec.Reason() != ReasonTokenMissing || rec.ActorID != nil {
		t.Fatalf("unexpected record %+v", rec)
	}

	tampered := h.token(t, 1, "admin") + "x"

	h = newHarness(t, harnessOpts{})
	w = h.do(http.MethodGet, "/api/auth/me", "", tampered)
	if w.Code != http.StatusUnauthorized || !clearedCookie(w) {
		t.Fatalf("expected 401 with cleared cookie, got %d %v", w.Code, w.Header().Values("Set-Cookie"))
	}
	if got := h.onlyRecord(t).Reason(); got != "token_invalid_signature" {
		t.Fatalf("expected token_invalid_signature, got %q", got)
	}

	h = newHarness(t, harnessOpts{})
	w = h.do(http.MethodGet, "/api/auth/me", tampered, "")
	if w.Code != http.StatusUnauthorized || clearedCookie(w) {
		t.Fatalf("expected 401 without cookie change for header token, got %d", w.Code)
	}
}

func TestGuard_RequireRole(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	if w := h.do(http.MethodGet, "/api/admin/audit", h.token(t, 2, "worker"), ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected worker denied, got %d", w.Code)
	}
	if got := h.onlyRecord(t).Reason(); got != rbac.ReasonRoleNotAllowed {
		t.Fatalf("expected role_not_allowed, got %q", got)
	}
	if w := h.do(http.MethodGet, "/api/admin/audit", h.token(t, 1, "admin"), ""); w.Code != http.StatusOK {
		t.Fatalf("expected admin allowed, got %d", w.Code)
	}
}

func TestGuard_UsesLiveRole(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	// Token says admin, the directory now says worker.
	h.dir.Put(accounts.Account{ID: 1, Email: "admin@btp.fr", Role: rbac.RoleWorker, Status: accounts.StatusActive})

	if w := h.do(http.MethodGet, "/api/admin/audit", h.token(t, 1, "admin"), ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected demoted account denied, got %d", w.Code)
	}

	w := h.do(http.MethodGet, "/api/auth/me", h.token(t, 1, "admin"), "")
	var body struct {
		UserID int64  `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UserID != 1 || body.Role != "worker" {
		t.Fatalf("expected live identity in context, got %+v", body)
	}
}

type failingDirectory struct{ err error }

func (d failingDirectory) LookupByID(context.Context, int64) (accounts.Account, error) {
	return accounts.Account{}, d.err
}

func TestGuard_DirectoryFailureDenies(t *testing.T) {
	h := newHarness(t, harnessOpts{directory: failingDirectory{err: context.DeadlineExceeded}})
	w := h.do(http.MethodGet, "/api/dashboard", h.token(t, 1, "admin"), "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected fail-closed 401, got %d", w.Code)
	}
	if got := h.onlyRecord(t).Reason(); got != ReasonDirectoryUnavailable {
		t.Fatalf("expected directory_unavailable, got %q", got)
	}
}

func TestGuard_APIRateLimitComesFirst(t *testing.T) {
	h := newHarness(t, harnessOpts{apiLimit: 2})
	for i := 0; i < 2; i++ {
		h.do(http.MethodGet, "/api/dashboard", "", "")
	}

	w := h.do(http.MethodGet, "/api/dashboard", h.token(t, 1, "admin"), "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Fatalf("expected limit header 2, got %q", got)
	}
	recs := h.auditRepo.Records()
	last := recs[len(recs)-1]
	if last.Reason() != ReasonRateLimitExceeded || last.ActorID != nil {
		t.Fatalf("expected rate limit denial before token check, got %+v", last)
	}
}

func TestGuard_AuditFailureDoesNotAlterDecision(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.auditRepo.FailWith(errors.New("disk full"))

	if w := h.do(http.MethodGet, "/api/dashboard", h.token(t, 3, "client"), ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 despite audit failure, got %d", w.Code)
	}
	if w := h.do(http.MethodGet, "/api/admin/audit", h.token(t, 3, "client"), ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 despite audit failure, got %d", w.Code)
	}
}

func TestEvaluate_DeniedRequestKeepsOtherKeysUntouched(t *testing.T) {
	h := newHarness(t, harnessOpts{apiLimit: 1})
	ctx := context.Background()

	h.gw.Evaluate(ctx, Request{ClientIP: "10.0.0.1"})
	if d := h.gw.Evaluate(ctx, Request{ClientIP: "10.0.0.1"}); d.Code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("expected second call limited, got %+v", d)
	}
	d := h.gw.Evaluate(ctx, Request{ClientIP: "10.0.0.2"})
	if d.Reason != ReasonTokenMissing || d.RateLimit.Remaining != 0 || !d.RateLimit.Allowed {
		t.Fatalf("expected fresh window for another client, got %+v", d)
	}
}

func TestRetryAfterMinutes(t *testing.T) {
	cases := map[time.Duration]int{
		0:                1,
		30 * time.Second: 1,
		61 * time.Second: 2,
		15 * time.Minute: 15,
		-5 * time.Second: 1,
	}
	for wait, want := range cases {
		if got := RetryAfterMinutes(wait); got != want {
			t.Fatalf("%v: expected %d, got %d", wait, want, got)
		}
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("expected error for missing collaborators")
	}
}
