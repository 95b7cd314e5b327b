package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kidguard-api/internal/middleware"
	"github.com/noah-isme/kidguard-api/internal/models"
)

// Handlers groups every HTTP handler mounted by Register.
type Handlers struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Students *StudentHandler
	Guardian *GuardianHandler
	Pickup   *PickupHandler
	Metrics  *MetricsHandler
}

// Register mounts the API routes on r under prefix.
func Register(r gin.IRouter, prefix string, h Handlers, tokens middleware.TokenValidator, exposeMetrics bool) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	if exposeMetrics {
		r.GET("/metrics", h.Metrics.Prometheus)
	}

	api := r.Group(prefix)

	auth := api.Group("/auth")
	auth.POST("/seed-admin", h.Auth.SeedAdmin)
	auth.POST("/register", h.Auth.Register)
	auth.POST("/login", h.Auth.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(tokens))

	secured.GET("/profile", h.Users.Profile)

	admin := secured.Group("/admin", middleware.RequireRoles(models.RoleAdmin))
	admin.GET("/users", h.Users.List)
	admin.PATCH("/users/:id/approve", h.Users.Approve)
	admin.POST("/students", h.Students.Create)
	admin.GET("/students", h.Students.List)

	guardian := secured.Group("/guardian")
	guardian.POST("/link-guardian", middleware.RequireRoles(models.RolePrimary, models.RoleAdmin), h.Guardian.Link)
	guardian.GET("/my-students", middleware.RequireRoles(models.RolePrimary, models.RoleGuardian, models.RoleAdmin), h.Guardian.MyStudents)

	pickup := secured.Group("/pickup")
	pickup.POST("/generate-qr", middleware.RequireRoles(models.RolePrimary, models.RoleGuardian), h.Pickup.GenerateQR)
	pickup.POST("/verify-qr", middleware.RequireRoles(models.RoleSecurity), h.Pickup.VerifyQR)
	history := pickup.Group("/history", middleware.RequireRoles(models.RoleAdmin, models.RoleSecurity))
	history.GET("", h.Pickup.History)
	history.GET("/export", h.Pickup.ExportHistory)
}
