package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"chantier-intranet/internal/accounts"
	"chantier-intranet/internal/apierr"
	"chantier-intranet/internal/auth"
	"chantier-intranet/internal/audit"
	"chantier-intranet/internal/rbac"
	"chantier-intranet/internal/resources"
	"chantier-intranet/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Login audit reasons.
const (
	ReasonLoginSuccess         = "login_success"
	ReasonUserNotFound         = "user_not_found"
	ReasonInvalidPassword      = "invalid_password"
	ReasonAccountDisabled      = "account_disabled"
	ReasonDirectoryUnavailable = "directory_unavailable"
	ReasonLogout               = "logout"
)

// compareMissing spends a bcrypt comparison on unknown emails.
var compareMissing = auth.CompareDummy

const (
	defaultAuditPage = 50
	maxAuditPage     = 500
)

type Auditor interface {
	Record(ctx context.Context, rec audit.Record)
}

type ResourceReader interface {
	GetChantier(ctx context.Context, id int64) (resources.Chantier, error)
	GetInvoice(ctx context.Context, id int64) (resources.Invoice, error)
	GetAttachment(ctx context.Context, id int64) (resources.Attachment, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
// Access control happens in the gateway middleware in front of them.
type Handlers struct {
	Tokens      *auth.Manager
	Credentials accounts.CredentialStore
	Resources   ResourceReader
	AuditLog    audit.Reader
	Audit       Auditor
	Cookie      auth.CookieConfig
	Clock       func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// --- Auth ---

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type userView struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Login checks credentials and issues an identity token, both in the body and as a cookie.
// Unknown email and wrong password get the same answer.
func (h Handlers) Login(c *gin.Context) {
	if h.Tokens == nil || h.Credentials == nil {
		apierr.Abort(c, apierr.CodeInternal, "auth not configured")
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Abort(c, apierr.CodeBadRequest, "invalid json")
		return
	}
	if req.Email == "" || req.Password == "" {
		apierr.Abort(c, apierr.CodeBadRequest, "email and password required")
		return
	}

	ctx := c.Request.Context()
	acct, err := h.Credentials.LookupByEmail(ctx, req.Email)
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		compareMissing(req.Password)
		h.recordLogin(c, nil, ReasonUserNotFound)
		apierr.Abort(c, apierr.CodeInvalidCredentials, "Invalid email or password.")
		return
	case err != nil:
		logger.FromGin(c).Error("credential lookup failed", "err", err)
		h.recordLogin(c, nil, ReasonDirectoryUnavailable)
		apierr.Abort(c, apierr.CodeInternal, "login unavailable")
		return
	}

	if !auth.VerifyPassword(acct.PasswordHash, req.Password) {
		h.recordLogin(c, audit.Int64(acct.ID), ReasonInvalidPassword)
		apierr.Abort(c, apierr.CodeInvalidCredentials, "Invalid email or password.")
		return
	}
	if !acct.Active() {
		h.recordLogin(c, audit.Int64(acct.ID), ReasonAccountDisabled)
		apierr.Abort(c, apierr.CodeAccountDisabled, "Account is disabled.")
		return
	}

	ttl := h.Tokens.TTL(req.RememberMe)
	tok, err := h.Tokens.IssueWithTTL(h.now(), auth.Identity{
		UserID: acct.ID,
		Email:  acct.Email,
		Role:   acct.Role.String(),
		Name:   acct.Name,
	}, ttl)
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "user_id", acct.ID, "err", err)
		apierr.Abort(c, apierr.CodeInternal, "token issuance failed")
		return
	}

	auth.SetTokenCookie(c.Writer, h.Cookie, tok.Value, ttl)
	h.recordLogin(c, audit.Int64(acct.ID), ReasonLoginSuccess)
	c.JSON(http.StatusOK, gin.H{
		"token":      tok.Value,
		"expires_at": tok.ExpiresAt,
		"user":       userView{ID: acct.ID, Email: acct.Email, Name: acct.Name, Role: acct.Role.String()},
	})
}

// Logout clears the identity cookie. The token itself stays valid until expiry; disabling
// the account is the revocation path.
func (h Handlers) Logout(c *gin.Context) {
	var actor *int64
	if tok, _ := auth.Extract(c.Request, h.Cookie.Name); tok != "" && h.Tokens != nil {
		if claims, err := h.Tokens.Verify(tok, h.now()); err == nil {
			actor = audit.Int64(claims.UserID)
		}
	}
	auth.ClearTokenCookie(c.Writer, h.Cookie)
	h.record(c, audit.Record{
		ActorID:      actor,
		Action:       "logout",
		ResourceType: "auth",
		Details:      map[string]any{"reason": ReasonLogout},
	})
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Me returns the live identity placed in context by the gateway, with its permissions.
func (h Handlers) Me(c *gin.Context) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		apierr.Abort(c, apierr.CodeUnauthorized, "Authentication required.")
		return
	}
	role, _ := rbac.ParseRole(id.Role)
	c.JSON(http.StatusOK, gin.H{
		"user":        userView{ID: id.UserID, Email: id.Email, Name: id.Name, Role: id.Role},
		"permissions": actionNames(rbac.Permissions(role)),
	})
}

// Dashboard is the landing payload: who the caller is and what they may do.
func (h Handlers) Dashboard(c *gin.Context) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		apierr.Abort(c, apierr.CodeUnauthorized, "Authentication required.")
		return
	}
	role, _ := rbac.ParseRole(id.Role)
	perms := rbac.Permissions(role)
	c.JSON(http.StatusOK, gin.H{
		"name":               id.Name,
		"role":               id.Role,
		"can_view_all_sites": rbac.Can(role, rbac.ActionViewAllChantiers),
		"can_manage_stock":   rbac.Can(role, rbac.ActionManageStock),
		"can_view_audit_log": rbac.Can(role, rbac.ActionViewAuditLog),
		"permissions":        actionNames(perms),
	})
}

// --- Resources ---

func (h Handlers) GetChantier(c *gin.Context) {
	readResource(c, h.Resources, func(ctx context.Context, r ResourceReader, id int64) (any, error) {
		return r.GetChantier(ctx, id)
	})
}

func (h Handlers) GetInvoice(c *gin.Context) {
	readResource(c, h.Resources, func(ctx context.Context, r ResourceReader, id int64) (any, error) {
		return r.GetInvoice(ctx, id)
	})
}

func (h Handlers) GetAttachment(c *gin.Context) {
	readResource(c, h.Resources, func(ctx context.Context, r ResourceReader, id int64) (any, error) {
		return r.GetAttachment(ctx, id)
	})
}

func readResource(c *gin.Context, r ResourceReader, get func(context.Context, ResourceReader, int64) (any, error)) {
	if r == nil {
		apierr.Abort(c, apierr.CodeInternal, "resources not configured")
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierr.Abort(c, apierr.CodeBadRequest, "invalid id")
		return
	}
	v, err := get(c.Request.Context(), r, id)
	if err != nil {
		if errors.Is(err, resources.ErrNotFound) {
			apierr.Abort(c, apierr.CodeNotFound, "not found")
			return
		}
		logger.FromGin(c).Error("resource read failed", "id", id, "err", err)
		apierr.Abort(c, apierr.CodeInternal, "read failed")
		return
	}
	c.JSON(http.StatusOK, v)
}

// --- Admin ---

// AuditLogRecent lists the most recent audit records, newest first.
func (h Handlers) AuditLogRecent(c *gin.Context) {
	if h.AuditLog == nil {
		apierr.Abort(c, apierr.CodeInternal, "audit log not configured")
		return
	}
	limit := defaultAuditPage
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			apierr.Abort(c, apierr.CodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditPage)
	}
	recs, err := h.AuditLog.Recent(c.Request.Context(), limit)
	if err != nil {
		logger.FromGin(c).Error("audit log read failed", "err", err)
		apierr.Abort(c, apierr.CodeInternal, "audit log read failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (h Handlers) recordLogin(c *gin.Context, actor *int64, reason string) {
	h.record(c, audit.Record{
		ActorID:      actor,
		Action:       "login",
		ResourceType: "auth",
		Details:      map[string]any{"reason": reason},
	})
}

func (h Handlers) record(c *gin.Context, rec audit.Record) {
	if h.Audit == nil {
		return
	}
	rec.IPAddress = c.ClientIP()
	rec.UserAgent = c.Request.UserAgent()
	h.Audit.Record(c.Request.Context(), rec)
}

func actionNames(actions []rbac.Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.String())
	}
	return out
}
