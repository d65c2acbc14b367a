package repository

import (
	"context"

	"github.com/tarang-school/pay-api/internal/models"
)

// Accounts and the course catalogue share one collection: profile
// documents are keyed by email and the catalogue sits under a fixed key
// that can never collide with an address.
const (
	accountCollection = "users"
	catalogueKey      = "catalogue"
)

// AccountRepository manages profile documents keyed by email.
type AccountRepository struct {
	store *DocumentStore
}

// NewAccountRepository constructs an AccountRepository.
func NewAccountRepository(store *DocumentStore) *AccountRepository {
	return &AccountRepository{store: store}
}

// FindByEmail fetches a profile document and its version. Returns
// sql.ErrNoRows when the profile does not exist.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, int64, error) {
	var account models.Account
	version, err := r.store.Get(ctx, accountCollection, email, &account)
	if err != nil {
		return nil, 0, err
	}
	return &account, version, nil
}

// Upsert merges the profile fields into the document, creating it when
// absent.
func (r *AccountRepository) Upsert(ctx context.Context, account *models.Account) error {
	return r.store.SetWithMerge(ctx, accountCollection, account.Email, account)
}

// Replace overwrites the profile only when version still matches.
func (r *AccountRepository) Replace(ctx context.Context, account *models.Account, version int64) error {
	return r.store.CompareAndSet(ctx, accountCollection, account.Email, account, version)
}

// AddStudent links an identity number to the profile, skipping duplicates.
func (r *AccountRepository) AddStudent(ctx context.Context, email, ssn string) error {
	return r.store.ArrayUnion(ctx, accountCollection, email, "students", ssn)
}
