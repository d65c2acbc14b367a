package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tarang-school/pay-api/internal/models"
	appErrors "github.com/tarang-school/pay-api/pkg/errors"
)

const catalogCacheKey = "catalog:courses"

type catalogStore interface {
	Get(ctx context.Context) (*models.Catalogue, int64, error)
	Replace(ctx context.Context, catalogue *models.Catalogue, version int64) error
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CourseRequest creates or updates a catalogue offering.
type CourseRequest struct {
	Name    string          `json:"name" validate:"required"`
	Price   decimal.Decimal `json:"price" validate:"required"`
	Info    string          `json:"info"`
	DueDate models.Date     `json:"dueDate"`
}

// CatalogService manages the course catalogue with a read-through
// cache. Mutations are admin only; the handler enforces the role.
type CatalogService struct {
	store     catalogStore
	cache     catalogCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewCatalogService constructs CatalogService.
func NewCatalogService(store catalogStore, cache catalogCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &CatalogService{store: store, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger, now: time.Now}
}

// WithClock overrides the service clock.
func (s *CatalogService) WithClock(now func() time.Time) *CatalogService {
	s.now = now
	return s
}

// Courses returns all catalogue offerings, served from cache when warm.
func (s *CatalogService) Courses(ctx context.Context) ([]models.CourseOffering, error) {
	if s.cache != nil {
		var cached []models.CourseOffering
		if err := s.cache.Get(ctx, catalogCacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	catalogue, _, err := s.store.Get(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load catalogue")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, catalogCacheKey, catalogue.Courses, s.cacheTTL); err != nil {
			s.logger.Warn("catalogue cache refresh failed", zap.Error(err))
		}
	}
	return catalogue.Courses, nil
}

// Create adds a new offering. Ids derive from the creation timestamp in
// milliseconds.
func (s *CatalogService) Create(ctx context.Context, req CourseRequest) (*models.CourseOffering, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course := models.CourseOffering{
		CourseID: strconv.FormatInt(s.now().UnixMilli(), 10),
		Name:     req.Name,
		Price:    req.Price,
		Info:     req.Info,
		DueDate:  req.DueDate,
	}

	err := s.withCatalogue(ctx, func(catalogue *models.Catalogue) error {
		catalogue.Courses = append(catalogue.Courses, course)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// Update replaces the fields of an existing offering.
func (s *CatalogService) Update(ctx context.Context, id string, req CourseRequest) (*models.CourseOffering, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	var updated models.CourseOffering
	err := s.withCatalogue(ctx, func(catalogue *models.Catalogue) error {
		for i := range catalogue.Courses {
			if catalogue.Courses[i].CourseID == id {
				catalogue.Courses[i].Name = req.Name
				catalogue.Courses[i].Price = req.Price
				catalogue.Courses[i].Info = req.Info
				catalogue.Courses[i].DueDate = req.DueDate
				updated = catalogue.Courses[i]
				return nil
			}
		}
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("course %s not found", id))
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes an offering from the catalogue. Existing enrollments
// keep their copy of the course; only future selection is affected.
func (s *CatalogService) Delete(ctx context.Context, id string) error {
	return s.withCatalogue(ctx, func(catalogue *models.Catalogue) error {
		for i := range catalogue.Courses {
			if catalogue.Courses[i].CourseID == id {
				catalogue.Courses = append(catalogue.Courses[:i], catalogue.Courses[i+1:]...)
				return nil
			}
		}
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("course %s not found", id))
	})
}

// withCatalogue runs a read-modify-write over the catalogue document,
// retrying once on a concurrent update and invalidating the cache on
// success.
func (s *CatalogService) withCatalogue(ctx context.Context, fn func(*models.Catalogue) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		catalogue, version, err := s.store.Get(ctx)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load catalogue")
		}

		if err := fn(catalogue); err != nil {
			return err
		}

		if err := s.store.Replace(ctx, catalogue, version); err != nil {
			if isVersionConflict(err) && attempt == 0 {
				continue
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update catalogue")
		}

		if s.cache != nil {
			if err := s.cache.Delete(ctx, catalogCacheKey); err != nil {
				s.logger.Warn("catalogue cache invalidation failed", zap.Error(err))
			}
		}
		return nil
	}
	return appErrors.Clone(appErrors.ErrConflict, "catalogue updated concurrently, retry")
}
