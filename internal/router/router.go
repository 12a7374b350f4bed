package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/license-panel/internal/handler"
	"github.com/iliyamo/license-panel/internal/middleware"
	"github.com/iliyamo/license-panel/internal/policy"
)

// Panel bundles the handlers served behind authentication.
type Panel struct {
	Auth      *handler.AuthHandler
	Devices   *handler.DeviceHandler
	Logs      *handler.LogHandler
	Users     *handler.UserHandler
	Dashboard *handler.DashboardHandler
}

// Security carries what the protected routes need to resolve and limit
// callers.  Nil buckets disable rate limiting.
type Security struct {
	JWTSecret  string
	Loader     middleware.IdentityLoader
	APILimit   *middleware.TokenBucket
	LoginLimit *middleware.TokenBucket
}

// New returns an Echo instance with the common middleware chain and every
// route registered.
func New(p Panel, sec Security, health handler.Pinger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger())

	RegisterRoutes(e, health)
	RegisterAuth(e, p.Auth, sec)
	RegisterPanel(e, p, sec)
	return e
}

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, health handler.Pinger) {
	e.GET("/healthz", handler.Health(health))
}

// RegisterAuth registers login under /v1/auth with its own, stricter
// bucket, and /v1/me behind JWTAuth.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, sec Security) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login, sec.LoginLimit.Middleware())

	e.GET("/v1/me", a.Me, middleware.JWTAuth(sec.JWTSecret, sec.Loader), sec.APILimit.Middleware())
}

// RegisterPanel registers the device, log and account endpoints.  Each
// route names the operation it needs; the service layer checks again.
func RegisterPanel(e *echo.Echo, p Panel, sec Security) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(sec.JWTSecret, sec.Loader),
		sec.APILimit.Middleware(),
	)
	can := middleware.RequirePermission

	g.GET("/dashboard", p.Dashboard.Get, can(policy.ViewDashboard))

	// ---- Devices ----
	g.GET("/devices", p.Devices.List, can(policy.ViewDevices))
	g.GET("/devices/lookup", p.Devices.Lookup, can(policy.ViewDevices))
	g.GET("/devices/:id", p.Devices.Get, can(policy.ViewDevices))
	g.POST("/devices", p.Devices.Create, can(policy.ManageDevices))
	g.POST("/devices/:id/grant", p.Devices.Grant, can(policy.ManageDevices))
	g.POST("/devices/:id/reset", p.Devices.Reset, can(policy.ManageDevices))
	g.DELETE("/devices/:id", p.Devices.Delete, can(policy.ManageDevices))
	g.POST("/devices/:id/actions/:action", p.Devices.Action, can(policy.ManageDevices))

	// ---- Activity log ----
	g.GET("/logs", p.Logs.List, can(policy.ViewLogs))

	// ---- Accounts ----
	g.GET("/users", p.Users.List, can(policy.ManageUsers))
	g.POST("/users", p.Users.Create, can(policy.ManageUsers))
	g.PUT("/users/:username/role", p.Users.SetRole, can(policy.ManageUsers))
}
