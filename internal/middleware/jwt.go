package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/license-panel/internal/logs"
	"github.com/iliyamo/license-panel/internal/model"
	"github.com/iliyamo/license-panel/internal/repository"
	"github.com/iliyamo/license-panel/internal/utils"
)

// IdentityLoader resolves a token subject to the account as it is now.
type IdentityLoader interface {
	Reload(ctx context.Context, username string) (model.Identity, error)
}

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and injects the caller's identity into the context.  The token only
// names the account: the identity is reloaded on every request so a role
// change or a removed account takes effect on the next call.  Handlers
// read it with IdentityFrom.
func JWTAuth(secret string, loader IdentityLoader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			claims, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			id, err := loader.Reload(c.Request().Context(), claims.Username)
			if errors.Is(err, repository.ErrNotFound) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "account no longer exists"})
			}
			if err != nil {
				logs.With("auth").WithError(err).Error("reload identity")
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "try again later"})
			}
			SetIdentity(c, id)
			return next(c)
		}
	}
}
