package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/license-panel/internal/activity"
	"github.com/iliyamo/license-panel/internal/middleware"
	"github.com/iliyamo/license-panel/internal/service"
)

// LogHandler serves the activity log.
type LogHandler struct {
	Svc *service.Licensing
}

func NewLogHandler(svc *service.Licensing) *LogHandler { return &LogHandler{Svc: svc} }

// List returns the newest entries first.  ?limit= defaults to
// activity.DefaultLimit and is capped at activity.MaxLimit; ?q= filters on
// MAC, hostname, action or user.
func (h *LogHandler) List(c echo.Context) error {
	limit := activity.DefaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = n
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	entries, err := h.Svc.ListLogs(ctx, middleware.IdentityFrom(c), limit, strings.TrimSpace(c.QueryParam("q")))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}
