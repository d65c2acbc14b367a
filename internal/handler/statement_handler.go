package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tarang-school/pay-api/internal/service"
	appErrors "github.com/tarang-school/pay-api/pkg/errors"
	"github.com/tarang-school/pay-api/pkg/response"
)

// StatementHandler exposes the statement render pipeline.
type StatementHandler struct {
	statements *service.StatementService
}

// NewStatementHandler constructs StatementHandler.
func NewStatementHandler(statements *service.StatementService) *StatementHandler {
	return &StatementHandler{statements: statements}
}

type requestStatementPayload struct {
	SSN   string `json:"ssn" binding:"required"`
	Month string `json:"month" binding:"required"`
}

// Request godoc
// @Summary Request a monthly statement render
// @Tags Statements
// @Accept json
// @Produce json
// @Param payload body requestStatementPayload true "Statement request"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /statements [post]
func (h *StatementHandler) Request(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload requestStatementPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid statement payload"))
		return
	}

	job, err := h.statements.Request(c.Request.Context(), claims, payload.SSN, payload.Month)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job)
}

// Status godoc
// @Summary Get statement job status
// @Tags Statements
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /statements/{id} [get]
func (h *StatementHandler) Status(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	job, err := h.statements.Status(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Get a signed download link
// @Description Returns the job with a signed URL once rendering completed
// @Tags Statements
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /statements/{id}/download [get]
func (h *StatementHandler) Download(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	download, err := h.statements.Download(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, download, nil)
}

// ServeFile godoc
// @Summary Serve a rendered statement
// @Description Streams the PDF referenced by a signed download token
// @Tags Statements
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200
// @Failure 401 {object} response.Envelope
// @Router /statements/download/{token} [get]
func (h *StatementHandler) ServeFile(c *gin.Context) {
	path, err := h.statements.ResolveToken(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Type", "application/pdf")
	c.File(path)
}
