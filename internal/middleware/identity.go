package middleware

// identity.go holds the helpers that store and read the authenticated
// principal on the Echo context.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/license-panel/internal/model"
)

const (
	identityKey  = "identity"
	requestIDKey = "request_id"
)

// SetIdentity stores id on the context for downstream handlers.
func SetIdentity(c echo.Context, id model.Identity) { c.Set(identityKey, &id) }

// IdentityFrom returns the identity placed by JWTAuth, or nil.
func IdentityFrom(c echo.Context) *model.Identity {
	id, _ := c.Get(identityKey).(*model.Identity)
	return id
}

// RequestIDFrom returns the id assigned by RequestID, or "".
func RequestIDFrom(c echo.Context) string {
	s, _ := c.Get(requestIDKey).(string)
	return s
}

// actorName identifies the caller for rate limiting and logs.  It returns
// "anon" before authentication.
func actorName(c echo.Context) string {
	if id := IdentityFrom(c); id != nil && id.Username != "" {
		return id.Username
	}
	return "anon"
}
