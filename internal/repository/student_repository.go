package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tarang-school/pay-api/internal/models"
)

const studentCollection = "students"

// StudentRepository manages enrollment documents keyed by identity number.
type StudentRepository struct {
	store *DocumentStore
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(store *DocumentStore) *StudentRepository {
	return &StudentRepository{store: store}
}

// FindBySSN fetches a student document and its version. Returns
// sql.ErrNoRows when no enrollment exists for the identity number.
func (r *StudentRepository) FindBySSN(ctx context.Context, ssn string) (*models.Student, int64, error) {
	var student models.Student
	version, err := r.store.Get(ctx, studentCollection, ssn, &student)
	if err != nil {
		return nil, 0, err
	}
	return &student, version, nil
}

// FindBySSNs loads the documents for the given identity numbers. Missing
// numbers are skipped rather than reported.
func (r *StudentRepository) FindBySSNs(ctx context.Context, ssns []string) ([]models.Student, error) {
	bodies, err := r.store.QueryByFieldIn(ctx, studentCollection, "ssn", ssns)
	if err != nil {
		return nil, err
	}
	students := make([]models.Student, 0, len(bodies))
	for _, body := range bodies {
		var student models.Student
		if err := json.Unmarshal(body, &student); err != nil {
			return nil, fmt.Errorf("decode student document: %w", err)
		}
		students = append(students, student)
	}
	return students, nil
}

// List returns enrollment documents matching the filter, newest key last.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	base := "FROM documents WHERE collection = $1"
	args := []interface{}{studentCollection}

	if filter.Search != "" {
		base += fmt.Sprintf(" AND (LOWER(body->>'name') LIKE $%d OR key LIKE $%d)", len(args)+1, len(args)+1)
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT body %s ORDER BY key LIMIT %d OFFSET %d", base, size, offset)
	var bodies [][]byte
	if err := r.store.DB().SelectContext(ctx, &bodies, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.store.DB().GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}

	students := make([]models.Student, 0, len(bodies))
	for _, body := range bodies {
		var student models.Student
		if err := json.Unmarshal(body, &student); err != nil {
			return nil, 0, fmt.Errorf("decode student document: %w", err)
		}
		students = append(students, student)
	}
	return students, total, nil
}

// Exists reports whether an enrollment document is already present.
func (r *StudentRepository) Exists(ctx context.Context, ssn string) (bool, error) {
	if _, _, err := r.FindBySSN(ctx, ssn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Upsert merges the student fields into the document, creating it when
// absent. Array fields present in the struct replace the stored arrays.
func (r *StudentRepository) Upsert(ctx context.Context, student *models.Student) error {
	return r.store.SetWithMerge(ctx, studentCollection, student.SSN, student)
}

// Replace overwrites the document only when version still matches.
func (r *StudentRepository) Replace(ctx context.Context, student *models.Student, version int64) error {
	return r.store.CompareAndSet(ctx, studentCollection, student.SSN, student, version)
}

// AppendTransaction records one settlement as a single atomic write so
// concurrent callbacks never overwrite each other.
func (r *StudentRepository) AppendTransaction(ctx context.Context, ssn string, tx models.Transaction) error {
	return r.store.ArrayUnion(ctx, studentCollection, ssn, "transactions", tx)
}

// AddUser links an account email to the student, skipping duplicates.
func (r *StudentRepository) AddUser(ctx context.Context, ssn, email string) error {
	return r.store.ArrayUnion(ctx, studentCollection, ssn, "users", email)
}

// AddPushToken registers a device token on the student, skipping duplicates.
func (r *StudentRepository) AddPushToken(ctx context.Context, ssn, token string) error {
	return r.store.ArrayUnion(ctx, studentCollection, ssn, "expoPushTokens", token)
}
