package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/license-panel/internal/policy"
)

// RequirePermission aborts the request unless the identity set by JWTAuth
// is allowed op by the policy table.  It answers 401 when there is no
// identity and 403 when the role lacks the capability.
func RequirePermission(op policy.Operation) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := IdentityFrom(c)
			if id == nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
			}
			if policy.Authorize(id, op) != policy.Allow {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
