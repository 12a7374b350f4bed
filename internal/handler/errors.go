// Package handler holds the HTTP handlers of the panel.  Handlers only
// decode requests, call the service layer with the caller's identity and
// encode the result; authorization decisions live in the service.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/license-panel/internal/auth"
	"github.com/iliyamo/license-panel/internal/logs"
	"github.com/iliyamo/license-panel/internal/middleware"
	"github.com/iliyamo/license-panel/internal/registry"
	"github.com/iliyamo/license-panel/internal/repository"
	"github.com/iliyamo/license-panel/internal/service"
)

// requestTimeout bounds the storage work of one request.
const requestTimeout = 5 * time.Second

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// writeError maps service and storage errors to a status code and a JSON
// body of the form {"error": "..."}.  Unexpected errors are logged and
// answered with a generic 500.
func writeError(c echo.Context, err error) error {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		logs.With("http").WithError(err).
			WithField("request_id", middleware.RequestIDFrom(c)).
			WithField("path", c.Path()).
			Error("request failed")
	}
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "1")
	}
	if msg == "" {
		msg = err.Error()
	}
	return c.JSON(status, echo.Map{"error": msg})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrAccountLocked):
		return http.StatusLocked, "account temporarily locked"
	case errors.Is(err, repository.ErrDuplicateMac):
		return http.StatusConflict, "mac already registered"
	case errors.Is(err, repository.ErrDuplicateUsername):
		return http.StatusConflict, "username already taken"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, registry.ErrUnsupportedTransition):
		return http.StatusUnprocessableEntity, ""
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, ""
	case errors.Is(err, service.ErrTryAgainLater),
		repository.IsTransient(err),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "try again later"
	}
	return http.StatusInternalServerError, "internal error"
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// idParam parses the :id path parameter.
func idParam(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
