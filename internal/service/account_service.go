package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tarang-school/pay-api/internal/models"
	appErrors "github.com/tarang-school/pay-api/pkg/errors"
)

type accountStore interface {
	FindByEmail(ctx context.Context, email string) (*models.Account, int64, error)
	Upsert(ctx context.Context, account *models.Account) error
	Replace(ctx context.Context, account *models.Account, version int64) error
}

type pushTokenRegistrar interface {
	FindBySSN(ctx context.Context, ssn string) (*models.Student, int64, error)
	AddPushToken(ctx context.Context, ssn, token string) error
}

// UpdateProfileRequest edits the mutable profile fields. Role is set at
// creation and never editable through this path.
type UpdateProfileRequest struct {
	Name        string `json:"name" validate:"required"`
	PhoneNumber string `json:"phoneNumber"`
	PictureURL  string `json:"pictureUrl"`
}

// RegisterDeviceTokenRequest stores an opaque push token for later use
// by the external delivery service.
type RegisterDeviceTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// AccountService manages profile documents and device tokens.
type AccountService struct {
	accounts  accountStore
	students  pushTokenRegistrar
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAccountService constructs AccountService.
func NewAccountService(accounts accountStore, students pushTokenRegistrar, validate *validator.Validate, logger *zap.Logger) *AccountService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{accounts: accounts, students: students, validator: validate, logger: logger}
}

// GetOrCreate returns the profile for an authenticated identity,
// creating it on first login from the identity provider claims.
func (s *AccountService) GetOrCreate(ctx context.Context, claims *models.JWTClaims) (*models.Account, error) {
	account, _, err := s.accounts.FindByEmail(ctx, claims.Email)
	if err == nil {
		return account, nil
	}
	if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}

	account = &models.Account{
		Email:              claims.Email,
		Name:               claims.Name,
		Role:               claims.Role,
		Students:           []string{},
		CallbackIdentifier: uuid.NewString(),
	}
	if err := s.accounts.Upsert(ctx, account); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}
	s.logger.Info("account created", zap.String("email", claims.Email))
	return account, nil
}

// UpdateProfile merges the mutable fields into the profile document.
func (s *AccountService) UpdateProfile(ctx context.Context, email string, req UpdateProfileRequest) (*models.Account, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	account, version, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}

	account.Name = req.Name
	account.PhoneNumber = req.PhoneNumber
	account.PictureURL = req.PictureURL
	if err := s.accounts.Replace(ctx, account, version); err != nil {
		if isVersionConflict(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "account updated concurrently, retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update account")
	}
	return account, nil
}

// RegisterDeviceToken stores the push token on every linked student so
// the delivery service can reach the household. Duplicates are skipped
// at the store.
func (s *AccountService) RegisterDeviceToken(ctx context.Context, email string, req RegisterDeviceTokenRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid token payload")
	}

	account, _, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}

	for _, ssn := range account.Students {
		if err := s.students.AddPushToken(ctx, ssn, req.Token); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register device token")
		}
	}
	return nil
}
