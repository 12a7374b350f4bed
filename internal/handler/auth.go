package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/license-panel/internal/middleware"
	"github.com/iliyamo/license-panel/internal/model"
	"github.com/iliyamo/license-panel/internal/service"
	"github.com/iliyamo/license-panel/internal/utils"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Accounts  *service.Accounts
	JWTSecret string
	TTLMin    int
}

func NewAuthHandler(accounts *service.Accounts, secret string, ttlMin int) *AuthHandler {
	return &AuthHandler{Accounts: accounts, JWTSecret: secret, TTLMin: ttlMin}
}

// ----- DTOs -----

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResp struct {
	User   model.Identity    `json:"user"`
	Access utils.AccessToken `json:"access"`
}

// Login checks the credentials and returns a signed access token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return badRequest(c, "username/password required")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	id, err := h.Accounts.Login(ctx, req.Username, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	tok, err := utils.NewAccessToken(h.JWTSecret, id.Username, id.Role, h.TTLMin)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, loginResp{User: id, Access: tok})
}

// Me returns the identity resolved for the current token.
func (h *AuthHandler) Me(c echo.Context) error {
	id := middleware.IdentityFrom(c)
	if id == nil {
		return writeError(c, service.ErrUnauthenticated)
	}
	return c.JSON(http.StatusOK, id)
}
