package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tarang-school/pay-api/internal/models"
)

// CatalogRepository manages the single course catalogue document.
type CatalogRepository struct {
	store *DocumentStore
}

// NewCatalogRepository constructs a CatalogRepository.
func NewCatalogRepository(store *DocumentStore) *CatalogRepository {
	return &CatalogRepository{store: store}
}

// Get returns the catalogue and its version. A missing document reads
// as an empty catalogue at version zero.
func (r *CatalogRepository) Get(ctx context.Context) (*models.Catalogue, int64, error) {
	var catalogue models.Catalogue
	version, err := r.store.Get(ctx, accountCollection, catalogueKey, &catalogue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.Catalogue{Courses: []models.CourseOffering{}}, 0, nil
		}
		return nil, 0, err
	}
	if catalogue.Courses == nil {
		catalogue.Courses = []models.CourseOffering{}
	}
	return &catalogue, version, nil
}

// Replace overwrites the catalogue only when version still matches. A
// zero version creates the document.
func (r *CatalogRepository) Replace(ctx context.Context, catalogue *models.Catalogue, version int64) error {
	if version == 0 {
		return r.store.Set(ctx, accountCollection, catalogueKey, catalogue)
	}
	return r.store.CompareAndSet(ctx, accountCollection, catalogueKey, catalogue, version)
}
