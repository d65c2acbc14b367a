package repository

import (
	"context"
	"time"

	"github.com/tarang-school/pay-api/internal/models"
)

const statementCollection = "statements"

// StatementRepository manages statement job documents keyed by job id.
type StatementRepository struct {
	store *DocumentStore
}

// NewStatementRepository constructs a StatementRepository.
func NewStatementRepository(store *DocumentStore) *StatementRepository {
	return &StatementRepository{store: store}
}

// Create persists a new job document.
func (r *StatementRepository) Create(ctx context.Context, job *models.StatementJob) error {
	return r.store.Set(ctx, statementCollection, job.ID, job)
}

// Find fetches a job by id. Returns sql.ErrNoRows when unknown.
func (r *StatementRepository) Find(ctx context.Context, id string) (*models.StatementJob, error) {
	var job models.StatementJob
	if _, err := r.store.Get(ctx, statementCollection, id, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateStatus transitions a job, recording the rendered file or the
// failure reason.
func (r *StatementRepository) UpdateStatus(ctx context.Context, id string, status models.StatementStatus, filePath, errMsg string) error {
	patch := map[string]interface{}{
		"status": status,
	}
	if filePath != "" {
		patch["filePath"] = filePath
	}
	if errMsg != "" {
		patch["error"] = errMsg
	}
	if status == models.StatementStatusCompleted || status == models.StatementStatusFailed {
		now := time.Now().UTC()
		patch["completedAt"] = now
	}
	return r.store.SetWithMerge(ctx, statementCollection, id, patch)
}
