package gateway

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"chantier-intranet/internal/apierr"
	"chantier-intranet/internal/auth"
	"chantier-intranet/internal/audit"
	"chantier-intranet/internal/ratelimit"
	"chantier-intranet/internal/rbac"

	"github.com/gin-gonic/gin"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRetryAfter         = "Retry-After"
)

// Rule describes what a route requires. The zero Rule admits any active account.
type Rule struct {
	Roles  []rbac.Role
	Action rbac.Action

	// Resource and Param name the owned resource and the route parameter carrying its id,
	// for actions with an ownership exception.
	Resource rbac.ResourceType
	Param    string

	// AuditAction and AuditResource label the audit record. They default to the action
	// name (or "access") and the resource type (or "route").
	AuditAction   string
	AuditResource string
}

func (r Rule) auditAction() string {
	switch {
	case r.AuditAction != "":
		return r.AuditAction
	case r.Action != 0:
		return r.Action.String()
	default:
		return "access"
	}
}

func (r Rule) auditResource() string {
	switch {
	case r.AuditResource != "":
		return r.AuditResource
	case r.Resource != "":
		return string(r.Resource)
	default:
		return "route"
	}
}

// Authenticate admits any caller with a valid token and an active account.
func (g *Gateway) Authenticate() gin.HandlerFunc {
	return g.Guard(Rule{})
}

// RequireRole admits callers whose live role is in roles.
func (g *Gateway) RequireRole(roles ...rbac.Role) gin.HandlerFunc {
	return g.Guard(Rule{Roles: roles})
}

// RequirePermission admits callers whose role holds action.
func (g *Gateway) RequirePermission(action rbac.Action) gin.HandlerFunc {
	return g.Guard(Rule{Action: action})
}

// RequireResourcePermission admits callers whose role holds action, or clients who own the
// resource whose id is in route parameter param.
func (g *Gateway) RequireResourcePermission(action rbac.Action, resource rbac.ResourceType, param string) gin.HandlerFunc {
	return g.Guard(Rule{Action: action, Resource: resource, Param: param})
}

// Guard evaluates rule for each request and writes exactly one audit record: before the
// response on denial, after the downstream handlers on success. A panicking handler is
// recorded with status 500 and the panic is passed on.
func (g *Gateway) Guard(rule Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		var target *rbac.Target
		if rule.Resource != "" {
			id, _ := strconv.ParseInt(c.Param(rule.Param), 10, 64)
			target = &rbac.Target{Type: rule.Resource, ID: id}
		}

		token, source := auth.Extract(c.Request, g.cookie.Name)
		d := g.Evaluate(c.Request.Context(), Request{
			ClientIP: c.ClientIP(),
			Token:    token,
			Source:   source,
			Roles:    rule.Roles,
			Action:   rule.Action,
			Target:   target,
		})

		rec := audit.Record{
			Action:       rule.auditAction(),
			ResourceType: rule.auditResource(),
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
		}
		if d.Identity.UserID > 0 {
			rec.ActorID = audit.Int64(d.Identity.UserID)
		}
		if target != nil && target.ID > 0 {
			rec.ResourceID = audit.Int64(target.ID)
		}
		details := map[string]any{
			"reason": d.Reason,
			"method": c.Request.Method,
			"path":   routePath(c),
		}
		if source != auth.SourceNone {
			details["token_source"] = string(source)
		}

		g.writeRateLimitHeaders(c, d.RateLimit)
		g.observer.GatewayDecision(d.Allowed, d.Reason)

		if !d.Allowed {
			rec.Details = details
			g.audit.Record(c.Request.Context(), rec)
			if d.Code == apierr.CodeRateLimitExceeded {
				g.observer.RateLimited(string(ratelimit.ScopeAPI))
			}
			g.deny(c, d)
			return
		}

		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), d.Identity))
		defer func() {
			p := recover()
			details["status"] = c.Writer.Status()
			if p != nil {
				details["status"] = http.StatusInternalServerError
				details["panic"] = true
			}
			if d.ByOwnership {
				details["by_ownership"] = true
			}
			rec.Details = details
			g.audit.Record(c.Request.Context(), rec)
			if p != nil {
				panic(p)
			}
		}()
		c.Next()
	}
}

// Throttle applies the scope's rate limit only, keyed by client IP. It is meant for
// unauthenticated entry points such as login, whose handlers audit their own outcome;
// Throttle audits denials under auditAction.
func (g *Gateway) Throttle(scope ratelimit.Scope, auditAction string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rl := g.limiter.Check(c.Request.Context(), scope, c.ClientIP())
		g.writeRateLimitHeaders(c, rl)
		if rl.Allowed {
			c.Next()
			return
		}

		g.observer.RateLimited(string(scope))
		g.observer.GatewayDecision(false, ReasonRateLimitExceeded)
		g.audit.Record(c.Request.Context(), audit.Record{
			Action:       auditAction,
			ResourceType: "auth",
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			Details: map[string]any{
				"reason": ReasonRateLimitExceeded,
				"scope":  string(scope),
				"method": c.Request.Method,
				"path":   routePath(c),
			},
		})
		g.deny(c, Decision{Code: apierr.CodeRateLimitExceeded, Reason: ReasonRateLimitExceeded, RateLimit: rl})
	}
}

// Cookie returns the identity cookie settings shared with the login handlers.
func (g *Gateway) Cookie() auth.CookieConfig {
	return g.cookie
}

func (g *Gateway) deny(c *gin.Context, d Decision) {
	if d.ClearCookie {
		auth.ClearTokenCookie(c.Writer, g.cookie)
	}

	switch d.Code {
	case apierr.CodeRateLimitExceeded:
		wait := d.RateLimit.RetryAfter(g.now())
		c.Header(headerRetryAfter, strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		minutes := RetryAfterMinutes(wait)
		apierr.AbortWith(c, d.Code,
			fmt.Sprintf("Too many requests. Try again in %d minute(s).", minutes),
			gin.H{"retry_after_minutes": minutes})
	case apierr.CodeAccountDisabled:
		apierr.Abort(c, d.Code, "Account is disabled.")
	case apierr.CodeForbidden:
		apierr.Abort(c, d.Code, "You do not have permission to perform this action.")
	default:
		apierr.Abort(c, apierr.CodeUnauthorized, "Authentication required.")
	}
}

func (g *Gateway) writeRateLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	c.Header(headerRateLimitLimit, strconv.Itoa(d.Limit))
	c.Header(headerRateLimitRemaining, strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		c.Header(headerRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// RetryAfterMinutes rounds a wait up to whole minutes, never below one.
func RetryAfterMinutes(wait time.Duration) int {
	m := int(math.Ceil(wait.Minutes()))
	if m < 1 {
		return 1
	}
	return m
}

func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}
