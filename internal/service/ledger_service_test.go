package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarang-school/pay-api/internal/models"
	appErrors "github.com/tarang-school/pay-api/pkg/errors"
	"github.com/tarang-school/pay-api/pkg/swish"
)

type mockTransactionStore struct {
	students map[string]models.Student
	appended []models.Transaction
}

func (m *mockTransactionStore) FindBySSN(ctx context.Context, ssn string) (*models.Student, int64, error) {
	if s, ok := m.students[ssn]; ok {
		return &s, 1, nil
	}
	return nil, 0, sql.ErrNoRows
}

func (m *mockTransactionStore) AppendTransaction(ctx context.Context, ssn string, tx models.Transaction) error {
	s := m.students[ssn]
	s.Transactions = append(s.Transactions, tx)
	m.students[ssn] = s
	m.appended = append(m.appended, tx)
	return nil
}

type mockPaymentClient struct {
	err  error
	last swish.PaymentRequest
}

func (m *mockPaymentClient) CreatePayment(ctx context.Context, req swish.PaymentRequest) (*swish.PaymentResponse, error) {
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return &swish.PaymentResponse{Reference: "swish-ref-1", Status: "CREATED"}, nil
}

func ledgerStudent(txs ...models.Transaction) models.Student {
	return models.Student{
		SSN:            "120305-9876",
		Name:           "Elsa",
		Price:          decimal.NewFromInt(500),
		Users:          []string{"anna@example.com"},
		PaymentAllowed: models.PaymentStatusNew,
		Transactions:   txs,
	}
}

func paidTx(id string, amount int64, when time.Time) models.Transaction {
	return models.Transaction{
		Amount:        decimal.NewFromInt(amount),
		DatePaid:      when,
		Status:        models.TransactionStatusPaid,
		TransactionID: id,
	}
}

func TestOutstandingBalance(t *testing.T) {
	reconciler := NewLedgerReconciler()
	asOf := testClock()

	student := ledgerStudent(paidTx("t1", 300, asOf.AddDate(0, 0, -2)))
	assert.True(t, reconciler.OutstandingBalance(&student, asOf).Equal(decimal.NewFromInt(200)))
}

func TestOutstandingBalanceIgnoresOtherMonths(t *testing.T) {
	reconciler := NewLedgerReconciler()
	asOf := testClock()

	student := ledgerStudent(paidTx("t1", 300, asOf.AddDate(0, -1, 0)))
	assert.True(t, reconciler.OutstandingBalance(&student, asOf).Equal(decimal.NewFromInt(500)))
}

func TestOutstandingBalanceClampsOverpayment(t *testing.T) {
	reconciler := NewLedgerReconciler()
	asOf := testClock()

	student := ledgerStudent(paidTx("t1", 600, asOf))
	assert.True(t, reconciler.OutstandingBalance(&student, asOf).IsZero())
}

func TestOutstandingBalanceSkipsPendingAndFailed(t *testing.T) {
	reconciler := NewLedgerReconciler()
	asOf := testClock()

	student := ledgerStudent(
		paidTx("t1", 100, asOf),
		models.Transaction{Amount: decimal.NewFromInt(200), DatePaid: asOf, Status: models.TransactionStatusPending, TransactionID: "t2"},
		models.Transaction{Amount: decimal.NewFromInt(200), DatePaid: asOf, Status: models.TransactionStatusFailed, TransactionID: "t3"},
	)
	assert.True(t, reconciler.OutstandingBalance(&student, asOf).Equal(decimal.NewFromInt(400)))
}

func TestOutstandingBalanceNoTransactions(t *testing.T) {
	reconciler := NewLedgerReconciler()
	student := ledgerStudent()
	assert.True(t, reconciler.OutstandingBalance(&student, testClock()).Equal(decimal.NewFromInt(500)))
}

func newTestLedgerService(students *mockTransactionStore, payments *mockPaymentClient, notifier *mockNotifier) *LedgerService {
	return NewLedgerService(students, payments, notifier, nil, nil).WithClock(testClock)
}

func parentClaims() *models.JWTClaims {
	return &models.JWTClaims{Email: "anna@example.com", Role: models.RoleParent}
}

func TestInitiatePayment(t *testing.T) {
	students := &mockTransactionStore{students: map[string]models.Student{"120305-9876": ledgerStudent()}}
	payments := &mockPaymentClient{}
	svc := newTestLedgerService(students, payments, &mockNotifier{})
	account := &models.Account{Email: "anna@example.com", CallbackIdentifier: "cb-1"}

	resp, err := svc.InitiatePayment(context.Background(), parentClaims(), account, "120305-9876", InitiatePaymentRequest{
		Amount: decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	assert.Equal(t, "swish-ref-1", resp.Reference)
	assert.Equal(t, "500.00", payments.last.Amount)
	assert.Equal(t, "cb-1", payments.last.CallbackIdentifier)
}

func TestInitiatePaymentBlockedOnVacation(t *testing.T) {
	student := ledgerStudent()
	student.PaymentAllowed = models.PaymentStatusVacation
	students := &mockTransactionStore{students: map[string]models.Student{"120305-9876": student}}
	svc := newTestLedgerService(students, &mockPaymentClient{}, &mockNotifier{})

	_, err := svc.InitiatePayment(context.Background(), parentClaims(), &models.Account{}, "120305-9876", InitiatePaymentRequest{
		Amount: decimal.NewFromInt(100),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestInitiatePaymentRejectedIsNotRetryable(t *testing.T) {
	students := &mockTransactionStore{students: map[string]models.Student{"120305-9876": ledgerStudent()}}
	payments := &mockPaymentClient{err: swish.ErrRejected}
	svc := newTestLedgerService(students, payments, &mockNotifier{})

	_, err := svc.InitiatePayment(context.Background(), parentClaims(), &models.Account{}, "120305-9876", InitiatePaymentRequest{
		Amount: decimal.NewFromInt(100),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPaymentRejected.Code, appErrors.FromError(err).Code)
	assert.False(t, appErrors.IsRetryable(err))
}

func TestInitiatePaymentUnavailableIsRetryable(t *testing.T) {
	students := &mockTransactionStore{students: map[string]models.Student{"120305-9876": ledgerStudent()}}
	payments := &mockPaymentClient{err: swish.ErrUnavailable}
	svc := newTestLedgerService(students, payments, &mockNotifier{})

	_, err := svc.InitiatePayment(context.Background(), parentClaims(), &models.Account{}, "120305-9876", InitiatePaymentRequest{
		Amount: decimal.NewFromInt(100),
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsRetryable(err))
}

func TestInitiatePaymentCapsAtOutstanding(t *testing.T) {
	students := &mockTransactionStore{students: map[string]models.Student{"120305-9876": ledgerStudent()}}
	svc := newTestLedgerService(students, &mockPaymentClient{}, &mockNotifier{})

	_, err := svc.InitiatePayment(context.Background(), parentClaims(), &models.Account{}, "120305-9876", InitiatePaymentRequest{
		Amount: decimal.NewFromInt(600),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAppendTransactionDeduplicates(t *testing.T) {
	students := &mockTransactionStore{students: map[string]models.Student{
		"120305-9876": ledgerStudent(paidTx("swish-1", 300, testClock())),
	}}
	notifier := &mockNotifier{}
	svc := newTestLedgerService(students, &mockPaymentClient{}, notifier)

	err := svc.AppendTransaction(context.Background(), "120305-9876", AppendTransactionRequest{
		Amount:        decimal.NewFromInt(300),
		DatePaid:      testClock(),
		Status:        models.TransactionStatusPaid,
		TransactionID: "swish-1",
	})
	require.NoError(t, err)
	assert.Empty(t, students.appended)
	assert.Empty(t, notifier.appended)
}

func TestAppendTransactionRejectsNonPositiveAmount(t *testing.T) {
	students := &mockTransactionStore{students: map[string]models.Student{"120305-9876": ledgerStudent()}}
	svc := newTestLedgerService(students, &mockPaymentClient{}, &mockNotifier{})

	for _, amount := range []decimal.Decimal{decimal.NewFromInt(-100), decimal.Zero} {
		err := svc.AppendTransaction(context.Background(), "120305-9876", AppendTransactionRequest{
			Amount:        amount,
			DatePaid:      testClock(),
			Status:        models.TransactionStatusPaid,
			TransactionID: "swish-neg",
		})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	}
	assert.Empty(t, students.appended)
}

func TestAppendTransactionNotifiesLinkedAccounts(t *testing.T) {
	students := &mockTransactionStore{students: map[string]models.Student{"120305-9876": ledgerStudent()}}
	notifier := &mockNotifier{}
	svc := newTestLedgerService(students, &mockPaymentClient{}, notifier)

	err := svc.AppendTransaction(context.Background(), "120305-9876", AppendTransactionRequest{
		Amount:        decimal.NewFromInt(300),
		DatePaid:      testClock(),
		Status:        models.TransactionStatusPaid,
		TransactionID: "swish-2",
	})
	require.NoError(t, err)
	require.Len(t, students.appended, 1)
	assert.Equal(t, []string{"anna@example.com"}, notifier.scopes)
}

func TestBalanceHonorsAsOf(t *testing.T) {
	now := testClock()
	students := &mockTransactionStore{students: map[string]models.Student{
		"120305-9876": ledgerStudent(paidTx("t1", 300, now)),
	}}
	svc := newTestLedgerService(students, &mockPaymentClient{}, &mockNotifier{})

	current, err := svc.Balance(context.Background(), parentClaims(), "120305-9876", time.Time{})
	require.NoError(t, err)
	assert.True(t, current.Outstanding.Equal(decimal.NewFromInt(200)))

	// The previous month saw no payments, so the full fee is open.
	previous, err := svc.Balance(context.Background(), parentClaims(), "120305-9876", now.AddDate(0, -1, 0))
	require.NoError(t, err)
	assert.True(t, previous.Outstanding.Equal(decimal.NewFromInt(500)))
}

func TestTransactionsSortedMostRecentFirst(t *testing.T) {
	now := testClock()
	students := &mockTransactionStore{students: map[string]models.Student{
		"120305-9876": ledgerStudent(
			paidTx("old", 100, now.AddDate(0, 0, -10)),
			paidTx("new", 100, now),
		),
	}}
	svc := newTestLedgerService(students, &mockPaymentClient{}, &mockNotifier{})

	txs, err := svc.Transactions(context.Background(), parentClaims(), "120305-9876")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "new", txs[0].TransactionID)
}
