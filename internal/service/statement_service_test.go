package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarang-school/pay-api/internal/models"
	appErrors "github.com/tarang-school/pay-api/pkg/errors"
	"github.com/tarang-school/pay-api/pkg/jobs"
	"github.com/tarang-school/pay-api/pkg/storage"
)

type mockStatementStore struct {
	jobsByID map[string]models.StatementJob
}

func newMockStatementStore() *mockStatementStore {
	return &mockStatementStore{jobsByID: make(map[string]models.StatementJob)}
}

func (m *mockStatementStore) Create(ctx context.Context, job *models.StatementJob) error {
	m.jobsByID[job.ID] = *job
	return nil
}

func (m *mockStatementStore) Find(ctx context.Context, id string) (*models.StatementJob, error) {
	if j, ok := m.jobsByID[id]; ok {
		return &j, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStatementStore) UpdateStatus(ctx context.Context, id string, status models.StatementStatus, filePath, errMsg string) error {
	j := m.jobsByID[id]
	j.Status = status
	if filePath != "" {
		j.FilePath = filePath
	}
	if errMsg != "" {
		j.Error = errMsg
	}
	m.jobsByID[id] = j
	return nil
}

type mockFileStore struct {
	saved map[string][]byte
}

func (m *mockFileStore) Save(filename string, data []byte) (string, error) {
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[filename] = data
	return filename, nil
}

func (m *mockFileStore) Path(filename string) string {
	return "/var/statements/" + filename
}

type mockQueue struct {
	enqueued []jobs.Job
}

func (m *mockQueue) Enqueue(job jobs.Job) error {
	m.enqueued = append(m.enqueued, job)
	return nil
}

func newTestStatementService(statements *mockStatementStore, students *mockTransactionStore, files *mockFileStore, queue *mockQueue) *StatementService {
	signer := storage.NewSignedURLSigner("statement-secret", time.Hour)
	svc := NewStatementService(statements, students, files, signer, nil).WithClock(testClock)
	if queue != nil {
		svc.SetQueue(queue)
	}
	return svc
}

func TestStatementRequestQueuesJob(t *testing.T) {
	statements := newMockStatementStore()
	students := &mockTransactionStore{students: map[string]models.Student{"120305-9876": ledgerStudent()}}
	queue := &mockQueue{}
	svc := newTestStatementService(statements, students, &mockFileStore{}, queue)

	job, err := svc.Request(context.Background(), parentClaims(), "120305-9876", "2025-08")
	require.NoError(t, err)
	assert.Equal(t, models.StatementStatusQueued, job.Status)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, job.ID, queue.enqueued[0].Payload)
}

func TestStatementRequestRejectsBadMonth(t *testing.T) {
	svc := newTestStatementService(newMockStatementStore(), &mockTransactionStore{}, &mockFileStore{}, &mockQueue{})

	_, err := svc.Request(context.Background(), parentClaims(), "120305-9876", "August 2025")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestStatementProcessRendersAndCompletes(t *testing.T) {
	statements := newMockStatementStore()
	students := &mockTransactionStore{students: map[string]models.Student{
		"120305-9876": ledgerStudent(paidTx("swish-1", 300, testClock())),
	}}
	files := &mockFileStore{}
	svc := newTestStatementService(statements, students, files, &mockQueue{})

	job, err := svc.Request(context.Background(), parentClaims(), "120305-9876", "2025-08")
	require.NoError(t, err)

	require.NoError(t, svc.Process(context.Background(), jobs.Job{ID: job.ID, Payload: job.ID}))

	stored := statements.jobsByID[job.ID]
	assert.Equal(t, models.StatementStatusCompleted, stored.Status)
	assert.NotEmpty(t, stored.FilePath)
	assert.Contains(t, files.saved, stored.FilePath)
}

func TestStatementDownloadBeforeCompletion(t *testing.T) {
	statements := newMockStatementStore()
	students := &mockTransactionStore{students: map[string]models.Student{"120305-9876": ledgerStudent()}}
	svc := newTestStatementService(statements, students, &mockFileStore{}, &mockQueue{})

	job, err := svc.Request(context.Background(), parentClaims(), "120305-9876", "2025-08")
	require.NoError(t, err)

	download, err := svc.Download(context.Background(), parentClaims(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, download.URL)
}

func TestStatementStatusHiddenFromOtherAccounts(t *testing.T) {
	statements := newMockStatementStore()
	students := &mockTransactionStore{students: map[string]models.Student{"120305-9876": ledgerStudent()}}
	svc := newTestStatementService(statements, students, &mockFileStore{}, &mockQueue{})

	job, err := svc.Request(context.Background(), parentClaims(), "120305-9876", "2025-08")
	require.NoError(t, err)

	other := &models.JWTClaims{Email: "other@example.com", Role: models.RoleParent}
	_, err = svc.Status(context.Background(), other, job.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
