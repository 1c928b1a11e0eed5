package main

import (
	"context"
	"net/http"

	"chantier-intranet/internal/gateway"
	"chantier-intranet/internal/httpapi"
	"chantier-intranet/internal/obs"
	"chantier-intranet/internal/ratelimit"
	"chantier-intranet/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Every /api route except login and logout sits
// behind exactly one gateway guard.
func registerRoutes(r *gin.Engine, gw *gateway.Gateway, h httpapi.Handlers, metrics *obs.Metrics, dbCheck func(context.Context) error) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := dbCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", gw.Throttle(ratelimit.ScopeLogin, "login"), h.Login)
		authGroup.POST("/logout", h.Logout)
		authGroup.GET("/me", gw.Guard(gateway.Rule{AuditAction: "view_profile", AuditResource: "user"}), h.Me)
	}

	api.GET("/dashboard", gw.RequirePermission(rbac.ActionViewDashboard), h.Dashboard)

	api.GET("/chantiers/:id", gw.RequireResourcePermission(rbac.ActionViewChantier, rbac.ResourceChantier, "id"), h.GetChantier)
	api.GET("/invoices/:id", gw.RequireResourcePermission(rbac.ActionViewInvoice, rbac.ResourceInvoice, "id"), h.GetInvoice)
	api.GET("/attachments/:id", gw.RequireResourcePermission(rbac.ActionViewAttachment, rbac.ResourceAttachment, "id"), h.GetAttachment)

	// ADMIN routes
	admin := api.Group("/admin")
	{
		admin.GET("/audit", gw.Guard(gateway.Rule{
			Roles:         []rbac.Role{rbac.RoleAdmin},
			AuditAction:   rbac.ActionViewAuditLog.String(),
			AuditResource: "audit_log",
		}), h.AuditLogRecent)
	}
}
