package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/license-panel/internal/middleware"
	"github.com/iliyamo/license-panel/internal/model"
	"github.com/iliyamo/license-panel/internal/registry"
	"github.com/iliyamo/license-panel/internal/service"
)

// DeviceHandler serves the device registry endpoints.
type DeviceHandler struct {
	Svc *service.Licensing
	Now func() time.Time
}

func NewDeviceHandler(svc *service.Licensing) *DeviceHandler {
	return &DeviceHandler{Svc: svc, Now: time.Now}
}

// deviceView is a device plus its display status.
type deviceView struct {
	model.Device
	Status string `json:"status"`
}

func (h *DeviceHandler) view(d model.Device) deviceView {
	return deviceView{Device: d, Status: d.Status(h.Now().UTC())}
}

func (h *DeviceHandler) views(ds []model.Device) []deviceView {
	out := make([]deviceView, 0, len(ds))
	for _, d := range ds {
		out = append(out, h.view(d))
	}
	return out
}

type createDeviceReq struct {
	MAC       string     `json:"mac"`
	Hostname  string     `json:"hostname"`
	KeyCode   string     `json:"key_code"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// durationReq names a grant length either as text ("30", "30d",
// "forever") or as a day count.
type durationReq struct {
	Duration string `json:"duration"`
	Days     *int   `json:"days"`
}

func (r durationReq) parse() (registry.Duration, error) {
	if r.Duration == "" && r.Days != nil {
		return registry.ParseDuration(strconv.Itoa(*r.Days))
	}
	return registry.ParseDuration(r.Duration)
}

// List returns every device, or those matching ?q= on MAC, hostname or
// key.
func (h *DeviceHandler) List(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	ds, err := h.Svc.ListDevices(ctx, middleware.IdentityFrom(c), strings.TrimSpace(c.QueryParam("q")))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, h.views(ds))
}

func (h *DeviceHandler) Get(c echo.Context) error {
	id, ok := idParam(c)
	if !ok {
		return badRequest(c, "invalid device id")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	d, err := h.Svc.GetDevice(ctx, middleware.IdentityFrom(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, h.view(d))
}

// Lookup finds a device by ?mac= in any common notation.
func (h *DeviceHandler) Lookup(c echo.Context) error {
	mac := c.QueryParam("mac")
	if mac == "" {
		return badRequest(c, "mac required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	d, found, err := h.Svc.FindDeviceByMac(ctx, middleware.IdentityFrom(c), mac)
	if err != nil {
		return writeError(c, err)
	}
	if !found {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	return c.JSON(http.StatusOK, h.view(d))
}

// Create issues a key for a new device.  The device starts pending.
func (h *DeviceHandler) Create(c echo.Context) error {
	var req createDeviceReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if strings.TrimSpace(req.MAC) == "" {
		return badRequest(c, "mac required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	d, err := h.Svc.IssueKey(ctx, middleware.IdentityFrom(c), service.IssueKeyInput{
		MAC:       req.MAC,
		Hostname:  req.Hostname,
		KeyCode:   req.KeyCode,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, h.view(d))
}

// Grant activates a device for the requested duration.
func (h *DeviceHandler) Grant(c echo.Context) error {
	id, ok := idParam(c)
	if !ok {
		return badRequest(c, "invalid device id")
	}
	var req durationReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	dur, err := req.parse()
	if err != nil {
		return writeError(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	d, err := h.Svc.GrantLicense(ctx, middleware.IdentityFrom(c), id, dur)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, h.view(d))
}

// Reset flips the enablement flag of a device.
func (h *DeviceHandler) Reset(c echo.Context) error {
	id, ok := idParam(c)
	if !ok {
		return badRequest(c, "invalid device id")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	d, err := h.Svc.ResetDevice(ctx, middleware.IdentityFrom(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, h.view(d))
}

func (h *DeviceHandler) Delete(c echo.Context) error {
	id, ok := idParam(c)
	if !ok {
		return badRequest(c, "invalid device id")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Svc.RemoveDevice(ctx, middleware.IdentityFrom(c), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Action runs a lifecycle action named in the path.  activate reads the
// same body as Grant; unknown names answer 422.
func (h *DeviceHandler) Action(c echo.Context) error {
	id, ok := idParam(c)
	if !ok {
		return badRequest(c, "invalid device id")
	}
	// An unknown name still goes to the service, which checks permissions
	// before it answers ErrUnsupportedTransition.
	action := registry.Action(c.Param("action"))
	if known, perr := registry.ParseAction(c.Param("action")); perr == nil {
		action = known
	}

	var dur registry.Duration
	if action == registry.ActionActivate {
		var req durationReq
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid body")
		}
		var err error
		if dur, err = req.parse(); err != nil {
			return writeError(c, err)
		}
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	d, err := h.Svc.Apply(ctx, middleware.IdentityFrom(c), id, action, dur)
	if err != nil {
		return writeError(c, err)
	}
	if action == registry.ActionDelete {
		return c.JSON(http.StatusOK, echo.Map{"deleted": h.view(d)})
	}
	return c.JSON(http.StatusOK, h.view(d))
}
