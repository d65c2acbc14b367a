package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tarang-school/pay-api/internal/models"
	"github.com/tarang-school/pay-api/internal/service"
	appErrors "github.com/tarang-school/pay-api/pkg/errors"
	"github.com/tarang-school/pay-api/pkg/response"
)

// NotificationHandler exposes the scoped notification endpoints. Each
// account reads its own scope; admins read the shared admin scope.
type NotificationHandler struct {
	notifications *service.NotificationService
}

// NewNotificationHandler constructs NotificationHandler.
func NewNotificationHandler(notifications *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

func notificationScope(claims *models.JWTClaims) string {
	if claims.Role == models.RoleAdmin {
		return models.AdminScope
	}
	return claims.Email
}

// List godoc
// @Summary List notifications
// @Description Returns the scope's notifications newest first, dropping expired entries
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	items, err := h.notifications.List(c.Request.Context(), notificationScope(claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// ToggleRead godoc
// @Summary Toggle a notification's read flag
// @Tags Notifications
// @Produce json
// @Param id path int true "Notification ID"
// @Success 204
// @Router /notifications/{id}/read [put]
func (h *NotificationHandler) ToggleRead(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "notification id must be numeric"))
		return
	}
	if err := h.notifications.ToggleRead(c.Request.Context(), notificationScope(claims), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MarkAllRead godoc
// @Summary Mark every notification in the scope as read
// @Tags Notifications
// @Produce json
// @Success 204
// @Router /notifications/read-all [put]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.notifications.MarkAllRead(c.Request.Context(), notificationScope(claims)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Dismiss godoc
// @Summary Dismiss a notification
// @Tags Notifications
// @Produce json
// @Param id path int true "Notification ID"
// @Success 204
// @Router /notifications/{id} [delete]
func (h *NotificationHandler) Dismiss(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "notification id must be numeric"))
		return
	}
	if err := h.notifications.Dismiss(c.Request.Context(), notificationScope(claims), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type appendNotificationRequest struct {
	Scope       string `json:"scope" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Subtitle    string `json:"subtitle"`
	Description string `json:"description"`
}

// Append godoc
// @Summary Publish a notification to a scope
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body appendNotificationRequest true "Notification payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /notifications [post]
func (h *NotificationHandler) Append(c *gin.Context) {
	var req appendNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid notification payload"))
		return
	}
	if err := h.notifications.Append(c.Request.Context(), req.Scope, req.Title, req.Subtitle, req.Description); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"scope": req.Scope})
}
