package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tarang-school/pay-api/internal/models"
	appErrors "github.com/tarang-school/pay-api/pkg/errors"
	"github.com/tarang-school/pay-api/pkg/swish"
)

// LedgerReconciler derives outstanding balances from price and
// transaction history. Balances are never stored; any cached balance
// field on old documents is ignored.
type LedgerReconciler struct{}

// NewLedgerReconciler constructs a LedgerReconciler.
func NewLedgerReconciler() *LedgerReconciler {
	return &LedgerReconciler{}
}

// OutstandingBalance returns the amount still due within asOf's
// calendar month: the record price minus paid transactions dated inside
// the month, clamped at zero. Billing is monthly and non-cumulative, so
// payments in other months never offset the current window.
func (r *LedgerReconciler) OutstandingBalance(student *models.Student, asOf time.Time) decimal.Decimal {
	windowStart := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, asOf.Location())
	windowEnd := windowStart.AddDate(0, 1, 0)

	paid := decimal.Zero
	for _, tx := range student.Transactions {
		if tx.Status != models.TransactionStatusPaid {
			continue
		}
		if tx.DatePaid.Before(windowStart) || !tx.DatePaid.Before(windowEnd) {
			continue
		}
		paid = paid.Add(tx.Amount)
	}

	outstanding := student.Price.Sub(paid)
	if outstanding.IsNegative() {
		return decimal.Zero
	}
	return outstanding
}

type paymentInitiator interface {
	CreatePayment(ctx context.Context, req swish.PaymentRequest) (*swish.PaymentResponse, error)
}

type transactionAppender interface {
	FindBySSN(ctx context.Context, ssn string) (*models.Student, int64, error)
	AppendTransaction(ctx context.Context, ssn string, tx models.Transaction) error
}

// BalanceResponse is the derived ledger view for one record.
type BalanceResponse struct {
	SSN         string          `json:"ssn"`
	Price       decimal.Decimal `json:"price"`
	Outstanding decimal.Decimal `json:"outstanding"`
	DueDate     models.Date     `json:"dueDate"`
	AsOf        time.Time       `json:"asOf"`
}

// InitiatePaymentRequest starts an external payment for a record.
type InitiatePaymentRequest struct {
	Amount  decimal.Decimal `json:"amount" validate:"required"`
	Message string          `json:"message"`
}

// AppendTransactionRequest records an externally settled payment.
type AppendTransactionRequest struct {
	Amount        decimal.Decimal          `json:"amount" validate:"required"`
	DatePaid      time.Time                `json:"datePaid" validate:"required"`
	Status        models.TransactionStatus `json:"status" validate:"required,oneof=PAID PENDING FAILED"`
	TransactionID string                   `json:"transactionId" validate:"required"`
}

// LedgerService reconciles balances and brokers payment initiation.
// Settlement itself arrives later through the callback path; initiation
// only asks the provider to start a payment.
type LedgerService struct {
	students      transactionAppender
	payments      paymentInitiator
	notifications notificationAppender
	reconciler    *LedgerReconciler
	metrics       *MetricsService
	validator     *validator.Validate
	logger        *zap.Logger
	now           func() time.Time
}

// NewLedgerService constructs LedgerService.
func NewLedgerService(students transactionAppender, payments paymentInitiator, notifications notificationAppender, validate *validator.Validate, logger *zap.Logger) *LedgerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		students:      students,
		payments:      payments,
		notifications: notifications,
		reconciler:    NewLedgerReconciler(),
		validator:     validate,
		logger:        logger,
		now:           time.Now,
	}
}

// WithClock overrides the service clock.
func (s *LedgerService) WithClock(now func() time.Time) *LedgerService {
	s.now = now
	return s
}

// WithMetrics attaches payment and settlement counters.
func (s *LedgerService) WithMetrics(metrics *MetricsService) *LedgerService {
	s.metrics = metrics
	return s
}

// Balance derives the outstanding amount for a record. A zero asOf
// means the current billing month.
func (s *LedgerService) Balance(ctx context.Context, claims *models.JWTClaims, ssn string, asOf time.Time) (*BalanceResponse, error) {
	student, err := s.loadAuthorized(ctx, claims, ssn)
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	return &BalanceResponse{
		SSN:         student.SSN,
		Price:       student.Price,
		Outstanding: s.reconciler.OutstandingBalance(student, asOf),
		DueDate:     student.DueDate,
		AsOf:        asOf,
	}, nil
}

// Transactions lists a record's payment history, most recent first.
func (s *LedgerService) Transactions(ctx context.Context, claims *models.JWTClaims, ssn string) ([]models.Transaction, error) {
	student, err := s.loadAuthorized(ctx, claims, ssn)
	if err != nil {
		return nil, err
	}
	txs := make([]models.Transaction, len(student.Transactions))
	copy(txs, student.Transactions)
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].DatePaid.After(txs[j].DatePaid)
	})
	return txs, nil
}

// InitiatePayment asks the provider to start a payment for the
// outstanding amount. Rejections surface as-is and are never retried
// here; transport failures are retryable.
func (s *LedgerService) InitiatePayment(ctx context.Context, claims *models.JWTClaims, account *models.Account, ssn string, req InitiatePaymentRequest) (*swish.PaymentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be positive")
	}

	student, err := s.loadAuthorized(ctx, claims, ssn)
	if err != nil {
		return nil, err
	}
	if student.PaymentAllowed == models.PaymentStatusVacation {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "payments are paused for this student")
	}

	outstanding := s.reconciler.OutstandingBalance(student, s.now())
	if req.Amount.GreaterThan(outstanding) {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("amount %s exceeds outstanding balance %s", req.Amount, outstanding))
	}

	message := req.Message
	if message == "" {
		message = fmt.Sprintf("Tarang school fee %s", student.Name)
	}
	resp, err := s.payments.CreatePayment(ctx, swish.PaymentRequest{
		Amount:             req.Amount.StringFixed(2),
		Message:            message,
		CallbackIdentifier: account.CallbackIdentifier,
	})
	if err != nil {
		if swish.IsRejected(err) {
			s.metrics.RecordPayment("rejected")
			return nil, appErrors.Wrap(err, appErrors.ErrPaymentRejected.Code, appErrors.ErrPaymentRejected.Status, "payment rejected by provider")
		}
		s.metrics.RecordPayment("unavailable")
		return nil, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "payment provider unavailable")
	}

	s.metrics.RecordPayment("initiated")
	s.logger.Info("payment initiated",
		zap.String("ssn", ssn),
		zap.String("reference", resp.Reference),
		zap.String("amount", req.Amount.String()))
	return resp, nil
}

// AppendTransaction records a settlement reported by the provider
// callback. The write is a single atomic array union keyed on the
// provider transaction id, so a redelivered callback is a no-op.
func (s *LedgerService) AppendTransaction(ctx context.Context, ssn string, req AppendTransactionRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transaction payload")
	}
	if !req.Amount.IsPositive() {
		return appErrors.Clone(appErrors.ErrValidation, "transaction amount must be positive")
	}

	student, _, err := s.students.FindBySSN(ctx, ssn)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	for _, tx := range student.Transactions {
		if tx.TransactionID == req.TransactionID {
			return nil
		}
	}

	tx := models.Transaction{
		Amount:        req.Amount,
		DatePaid:      req.DatePaid.UTC(),
		Status:        req.Status,
		TransactionID: req.TransactionID,
	}
	if err := s.students.AppendTransaction(ctx, ssn, tx); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record transaction")
	}
	s.metrics.RecordSettlement()

	if s.notifications != nil && req.Status == models.TransactionStatusPaid {
		for _, email := range student.Users {
			if err := s.notifications.Append(ctx, email, "Payment received", student.Name,
				fmt.Sprintf("Payment of %s for %s was received", req.Amount, student.Name)); err != nil {
				s.logger.Warn("payment notification failed", zap.String("scope", email), zap.Error(err))
			}
		}
	}
	return nil
}

func (s *LedgerService) loadAuthorized(ctx context.Context, claims *models.JWTClaims, ssn string) (*models.Student, error) {
	student, _, err := s.students.FindBySSN(ctx, ssn)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if claims.Role != models.RoleAdmin && !student.LinkedTo(claims.Email) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student not linked to account")
	}
	return student, nil
}
