package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tarang-school/pay-api/internal/models"
	"github.com/tarang-school/pay-api/internal/service"
	appErrors "github.com/tarang-school/pay-api/pkg/errors"
	"github.com/tarang-school/pay-api/pkg/response"
)

// StudentHandler exposes enrollment and ledger endpoints for student
// records.
type StudentHandler struct {
	enrollment *service.EnrollmentService
	ledger     *service.LedgerService
	accounts   *service.AccountService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(enrollment *service.EnrollmentService, ledger *service.LedgerService, accounts *service.AccountService) *StudentHandler {
	return &StudentHandler{enrollment: enrollment, ledger: ledger, accounts: accounts}
}

// List godoc
// @Summary List students
// @Description Admins list every record with filters; parents get their linked records
// @Tags Students
// @Produce json
// @Param search query string false "Search by name or identity number"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if claims.Role != models.RoleAdmin {
		students, err := h.enrollment.ListLinked(c.Request.Context(), claims.Email)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, students, nil)
		return
	}

	var filter models.StudentFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	students, pagination, err := h.enrollment.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student record
// @Tags Students
// @Produce json
// @Param ssn path string true "Identity number"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{ssn} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	student, err := h.enrollment.Get(c.Request.Context(), claims, c.Param("ssn"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Register godoc
// @Summary Register a student
// @Description Validates the identity number, aggregates selected courses and links the record to the caller
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.RegisterStudentRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Register(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.RegisterStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}

	student, err := h.enrollment.Register(c.Request.Context(), claims.Email, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// UpdateCourses godoc
// @Summary Replace a student's course selection
// @Description Recomputes price and due date from the new selection
// @Tags Students
// @Accept json
// @Produce json
// @Param ssn path string true "Identity number"
// @Param payload body service.UpdateCoursesRequest true "Course selection"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{ssn}/courses [put]
func (h *StudentHandler) UpdateCourses(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateCoursesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course payload"))
		return
	}

	student, err := h.enrollment.UpdateCourses(c.Request.Context(), claims, c.Param("ssn"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// SetVacation godoc
// @Summary Toggle vacation state
// @Description Pauses or resumes payments for a record
// @Tags Students
// @Accept json
// @Produce json
// @Param ssn path string true "Identity number"
// @Param payload body object true "Vacation flag"
// @Success 200 {object} response.Envelope
// @Router /students/{ssn}/vacation [put]
func (h *StudentHandler) SetVacation(c *gin.Context) {
	var payload struct {
		Vacation bool `json:"vacation"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid vacation payload"))
		return
	}

	student, err := h.enrollment.SetVacation(c.Request.Context(), c.Param("ssn"), payload.Vacation)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Unlink godoc
// @Summary Unlink a student from the current account
// @Tags Students
// @Produce json
// @Param ssn path string true "Identity number"
// @Success 204
// @Router /students/{ssn}/link [delete]
func (h *StudentHandler) Unlink(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.enrollment.Unlink(c.Request.Context(), claims.Email, c.Param("ssn")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Balance godoc
// @Summary Get outstanding balance
// @Description Derives the billing month's outstanding amount from the transaction history
// @Tags Ledger
// @Produce json
// @Param ssn path string true "Identity number"
// @Param asOf query string false "Reference date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Router /students/{ssn}/balance [get]
func (h *StudentHandler) Balance(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var asOf time.Time
	if raw := c.Query("asOf"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "asOf must use the YYYY-MM-DD form"))
			return
		}
		asOf = parsed
	}

	balance, err := h.ledger.Balance(c.Request.Context(), claims, c.Param("ssn"), asOf)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, balance, nil)
}

// Transactions godoc
// @Summary List payment history
// @Tags Ledger
// @Produce json
// @Param ssn path string true "Identity number"
// @Success 200 {object} response.Envelope
// @Router /students/{ssn}/transactions [get]
func (h *StudentHandler) Transactions(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	txs, err := h.ledger.Transactions(c.Request.Context(), claims, c.Param("ssn"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, txs, nil)
}

// InitiatePayment godoc
// @Summary Initiate a payment
// @Description Starts a provider payment against the outstanding balance
// @Tags Ledger
// @Accept json
// @Produce json
// @Param ssn path string true "Identity number"
// @Param payload body service.InitiatePaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /students/{ssn}/payments [post]
func (h *StudentHandler) InitiatePayment(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}

	account, err := h.accounts.GetOrCreate(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	res, err := h.ledger.InitiatePayment(c.Request.Context(), claims, account, c.Param("ssn"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// AppendTransaction godoc
// @Summary Record a settled transaction
// @Description Records a provider settlement on the student record; redeliveries are no-ops
// @Tags Ledger
// @Accept json
// @Produce json
// @Param ssn path string true "Identity number"
// @Param payload body service.AppendTransactionRequest true "Transaction payload"
// @Success 204
// @Failure 400 {object} response.Envelope
// @Router /students/{ssn}/transactions [post]
func (h *StudentHandler) AppendTransaction(c *gin.Context) {
	var req service.AppendTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transaction payload"))
		return
	}
	if err := h.ledger.AppendTransaction(c.Request.Context(), c.Param("ssn"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
