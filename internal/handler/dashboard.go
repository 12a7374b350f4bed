package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/license-panel/internal/middleware"
	"github.com/iliyamo/license-panel/internal/service"
)

type DashboardHandler struct {
	Svc *service.Licensing
}

func NewDashboardHandler(svc *service.Licensing) *DashboardHandler {
	return &DashboardHandler{Svc: svc}
}

// Get returns the device and user counts and the latest activity.
func (h *DashboardHandler) Get(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	st, err := h.Svc.Dashboard(ctx, middleware.IdentityFrom(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}
