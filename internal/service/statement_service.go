package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tarang-school/pay-api/internal/models"
	appErrors "github.com/tarang-school/pay-api/pkg/errors"
	"github.com/tarang-school/pay-api/pkg/export"
	"github.com/tarang-school/pay-api/pkg/jobs"
)

type statementStore interface {
	Create(ctx context.Context, job *models.StatementJob) error
	Find(ctx context.Context, id string) (*models.StatementJob, error)
	UpdateStatus(ctx context.Context, id string, status models.StatementStatus, filePath, errMsg string) error
}

type statementFileStore interface {
	Save(filename string, data []byte) (string, error)
	Path(filename string) string
}

type statementSigner interface {
	Generate(jobID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

/// StatementService renders monthly ledger statements asynchronously: a
// request creates a job document and enqueues the render; the worker
// derives the month's ledger view, renders the PDF and stores it; the
// download endpoint hands out a signed URL once the job completes.
type StatementService struct {
	statements statementStore
	students   transactionAppender
	files      statementFileStore
	signer     statementSigner
	queue      jobEnqueuer
	renderer   *export.StatementRenderer
	reconciler *LedgerReconciler
	metrics    *MetricsService
	logger     *zap.Logger
	now        func() time.Time
}

// NewStatementService constructs StatementService. Attach the queue
// with SetQueue after the worker handler is bound.
func NewStatementService(statements statementStore, students transactionAppender, files statementFileStore, signer statementSigner, logger *zap.Logger) *StatementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatementService{
		statements: statements,
		students:   students,
		files:      files,
		signer:     signer,
		renderer:   export.NewStatementRenderer(),
		reconciler: NewLedgerReconciler(),
		logger:     logger,
		now:        time.Now,
	}
}

// SetQueue binds the render queue. The queue's handler must be
// Process; wiring happens in main where both exist.
func (s *StatementService) SetQueue(queue jobEnqueuer) {
	s.queue = queue
}

// WithClock overrides the service clock.
func (s *StatementService) WithClock(now func() time.Time) *StatementService {
	s.now = now
	return s
}

// WithMetrics attaches the render outcome counter.
func (s *StatementService) WithMetrics(metrics *MetricsService) *StatementService {
	s.metrics = metrics
	return s
}

// Request queues a statement render for one student month. Month uses
// the YYYY-MM form.
func (s *StatementService) Request(ctx context.Context, claims *models.JWTClaims, ssn, month string) (*models.StatementJob, error) {
	if _, err := time.Parse("2006-01", month); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must use the YYYY-MM form")
	}

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

	job := &models.StatementJob{
		ID:          uuid.NewString(),
		SSN:         ssn,
		Month:       month,
		RequestedBy: claims.Email,
		Status:      models.StatementStatusQueued,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.statements.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create statement job")
	}

	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "statement queue not running")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "statement.render", Payload: job.ID}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue statement job")
	}
	return job, nil
}

// Status returns the job record, visible to the requester and admins.
func (s *StatementService) Status(ctx context.Context, claims *models.JWTClaims, jobID string) (*models.StatementJob, error) {
	job, err := s.statements.Find(ctx, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "statement job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load statement job")
	}
	if claims.Role != models.RoleAdmin && job.RequestedBy != claims.Email {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "statement belongs to another account")
	}
	return job, nil
}

// Download returns the job with a signed URL once rendering completed.
func (s *StatementService) Download(ctx context.Context, claims *models.JWTClaims, jobID string) (*models.StatementDownload, error) {
	job, err := s.Status(ctx, claims, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.StatementStatusCompleted {
		return &models.StatementDownload{Job: *job}, nil
	}

	token, expiresAt, err := s.signer.Generate(job.ID, job.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
	}
	return &models.StatementDownload{
		Job:       *job,
		URL:       fmt.Sprintf("/api/v1/statements/download/%s", token),
		ExpiresAt: &expiresAt,
	}, nil
}

// ResolveToken validates a signed token and returns the absolute file path.
func (s *StatementService) ResolveToken(token string) (string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	return s.files.Path(relPath), nil
}

// Process is the queue handler: it renders and stores the statement for
// a queued job and records the outcome on the job document.
func (s *StatementService) Process(ctx context.Context, job jobs.Job) error {
	jobID, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("statement job payload must be a job id")
	}

	record, err := s.statements.Find(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load statement job %s: %w", jobID, err)
	}

	if err := s.statements.UpdateStatus(ctx, jobID, models.StatementStatusProcessing, "", ""); err != nil {
		s.logger.Warn("statement status update failed", zap.String("job_id", jobID), zap.Error(err))
	}

	relPath, err := s.render(ctx, record)
	if err != nil {
		s.metrics.RecordStatement("failed")
		if uerr := s.statements.UpdateStatus(ctx, jobID, models.StatementStatusFailed, "", err.Error()); uerr != nil {
			s.logger.Warn("statement failure not recorded", zap.String("job_id", jobID), zap.Error(uerr))
		}
		return err
	}

	if err := s.statements.UpdateStatus(ctx, jobID, models.StatementStatusCompleted, relPath, ""); err != nil {
		return fmt.Errorf("record statement completion %s: %w", jobID, err)
	}
	s.metrics.RecordStatement("completed")
	s.logger.Info("statement rendered", zap.String("job_id", jobID), zap.String("file", relPath))
	return nil
}

func (s *StatementService) render(ctx context.Context, job *models.StatementJob) (string, error) {
	student, _, err := s.students.FindBySSN(ctx, job.SSN)
	if err != nil {
		return "", fmt.Errorf("load student %s: %w", job.SSN, err)
	}

	monthStart, err := time.Parse("2006-01", job.Month)
	if err != nil {
		return "", fmt.Errorf("parse statement month %q: %w", job.Month, err)
	}
	monthEnd := monthStart.AddDate(0, 1, 0)

	statement := export.Statement{
		StudentName: student.Name,
		SSN:         student.SSN,
		Month:       job.Month,
		Price:       student.Price,
		Outstanding: s.reconciler.OutstandingBalance(student, monthStart),
		DueDate:     student.DueDate.Format("2006-01-02"),
	}
	for _, tx := range student.Transactions {
		if tx.DatePaid.Before(monthStart) || !tx.DatePaid.Before(monthEnd) {
			continue
		}
		if tx.Status == models.TransactionStatusPaid {
			statement.Paid = statement.Paid.Add(tx.Amount)
		}
		statement.Lines = append(statement.Lines, models.StatementLine{
			Date:   tx.DatePaid.Format("2006-01-02"),
			ID:     tx.TransactionID,
			Status: string(tx.Status),
			Amount: tx.Amount,
		})
	}

	data, err := s.renderer.RenderPDF(statement)
	if err != nil {
		return "", err
	}

	relPath := fmt.Sprintf("%s/%s-%s.pdf", job.SSN, job.Month, job.ID)
	if _, err := s.files.Save(relPath, data); err != nil {
		return "", err
	}
	return relPath, nil
}
