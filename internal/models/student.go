package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus gates what payment flows a student record allows.
type PaymentStatus string

const (
	// PaymentStatusNew marks a freshly created record awaiting admin
	// validation.
	PaymentStatusNew PaymentStatus = "new"
	// PaymentStatusVacation soft-deactivates a record instead of
	// deleting it.
	PaymentStatusVacation PaymentStatus = "vacation"
)

// TransactionStatus reflects the provider-reported state of a payment.
type TransactionStatus string

const (
	TransactionStatusPaid    TransactionStatus = "PAID"
	TransactionStatusPending TransactionStatus = "PENDING"
	TransactionStatusFailed  TransactionStatus = "FAILED"
)

// Transaction is an externally settled payment appended to a student
// record. Transactions are append-only and never mutated.
type Transaction struct {
	Amount        decimal.Decimal   `json:"amount"`
	DatePaid      time.Time         `json:"datePaid"`
	Status        TransactionStatus `json:"status"`
	TransactionID string            `json:"transactionId"`
}

// Student is the authoritative enrollment record, stored as a document
// keyed by ssn. Price and dueDate are always derived from the selected
// courses; users is append-only (unlinking is its own operation).
type Student struct {
	SSN            string           `json:"ssn"`
	Name           string           `json:"name"`
	Courses        []CourseOffering `json:"courses"`
	Price          decimal.Decimal  `json:"price"`
	Advance        decimal.Decimal  `json:"advance"`
	DueDate        Date             `json:"dueDate"`
	Users          []string         `json:"users"`
	PaymentAllowed PaymentStatus    `json:"paymentAllowed"`
	Transactions   []Transaction    `json:"transactions"`
	ExpoPushTokens []string         `json:"expoPushTokens"`
}

// LinkedTo reports whether the record already lists the account email.
func (s *Student) LinkedTo(email string) bool {
	for _, u := range s.Users {
		if u == email {
			return true
		}
	}
	return false
}

// StudentFilter narrows admin student listings.
type StudentFilter struct {
	Search   string
	Page     int
	PageSize int
}
