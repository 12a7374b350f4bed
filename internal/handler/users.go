package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/license-panel/internal/middleware"
	"github.com/iliyamo/license-panel/internal/service"
)

// UserHandler serves staff account administration.
type UserHandler struct {
	Accounts *service.Accounts
}

func NewUserHandler(accounts *service.Accounts) *UserHandler { return &UserHandler{Accounts: accounts} }

type createUserReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type roleReq struct {
	Role string `json:"role"`
}

func (h *UserHandler) List(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	users, err := h.Accounts.ListUsers(ctx, middleware.IdentityFrom(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, users)
}

func (h *UserHandler) Create(c echo.Context) error {
	var req createUserReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	u, err := h.Accounts.CreateUser(ctx, middleware.IdentityFrom(c),
		strings.TrimSpace(req.Username), req.Password, strings.ToLower(strings.TrimSpace(req.Role)))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, u)
}

// SetRole reassigns the role of :username.  The change applies to that
// user's next request.
func (h *UserHandler) SetRole(c echo.Context) error {
	var req roleReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	u, err := h.Accounts.SetUserRole(ctx, middleware.IdentityFrom(c),
		c.Param("username"), strings.ToLower(strings.TrimSpace(req.Role)))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}
