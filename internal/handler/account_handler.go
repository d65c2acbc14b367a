package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tarang-school/pay-api/internal/service"
	appErrors "github.com/tarang-school/pay-api/pkg/errors"
	"github.com/tarang-school/pay-api/pkg/response"
)

// AccountHandler exposes account profile endpoints.
type AccountHandler struct {
	accounts *service.AccountService
}

// NewAccountHandler constructs AccountHandler.
func NewAccountHandler(accounts *service.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// Me godoc
// @Summary Get current account profile
// @Description Returns the profile document, creating it on first login
// @Tags Accounts
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /accounts/me [get]
func (h *AccountHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	account, err := h.accounts.GetOrCreate(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, account, nil)
}

// UpdateMe godoc
// @Summary Update current account profile
// @Tags Accounts
// @Accept json
// @Produce json
// @Param payload body service.UpdateProfileRequest true "Profile payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /accounts/me [put]
func (h *AccountHandler) UpdateMe(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid profile payload"))
		return
	}

	account, err := h.accounts.UpdateProfile(c.Request.Context(), claims.Email, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, account, nil)
}

// RegisterDeviceToken godoc
// @Summary Register a push notification token
// @Description Stores the device token on every linked student record
// @Tags Accounts
// @Accept json
// @Produce json
// @Param payload body service.RegisterDeviceTokenRequest true "Device token"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /accounts/me/device-tokens [post]
func (h *AccountHandler) RegisterDeviceToken(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.RegisterDeviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid token payload"))
		return
	}

	if err := h.accounts.RegisterDeviceToken(c.Request.Context(), claims.Email, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
