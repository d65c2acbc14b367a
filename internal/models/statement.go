package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatementStatus tracks the lifecycle of an async statement job.
type StatementStatus string

const (
	StatementStatusQueued     StatementStatus = "queued"
	StatementStatusProcessing StatementStatus = "processing"
	StatementStatusCompleted  StatementStatus = "completed"
	StatementStatusFailed     StatementStatus = "failed"
)

// StatementJob is a request to render a monthly ledger statement PDF
// for one student, stored as a document keyed by job id.
type StatementJob struct {
	ID          string          `json:"id"`
	SSN         string          `json:"ssn"`
	Month       string          `json:"month"` // YYYY-MM
	RequestedBy string          `json:"requestedBy"`
	Status      StatementStatus `json:"status"`
	FilePath    string          `json:"filePath,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// StatementDownload pairs a completed job with its signed URL.
type StatementDownload struct {
	Job       StatementJob `json:"job"`
	URL       string       `json:"url,omitempty"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
}

// StatementLine is one rendered transaction row.
type StatementLine struct {
	Date   string
	ID     string
	Status string
	Amount decimal.Decimal
}
