package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tarang-school/pay-api/internal/models"
	"github.com/tarang-school/pay-api/internal/repository"
	"github.com/tarang-school/pay-api/pkg/config"
	appErrors "github.com/tarang-school/pay-api/pkg/errors"
	"github.com/tarang-school/pay-api/pkg/identity"
)

func isVersionConflict(err error) bool {
	return errors.Is(err, repository.ErrVersionConflict)
}

// EnrollmentCalculator derives price and due date from a course
// selection. It is the single derivation point for both fields; stored
// values are a cache refreshed on every selection change.
type EnrollmentCalculator struct {
	policy    string
	scheduler *DueDateScheduler
}

// NewEnrollmentCalculator constructs a calculator for the configured
// due-date policy.
func NewEnrollmentCalculator(policy string, scheduler *DueDateScheduler) *EnrollmentCalculator {
	if scheduler == nil {
		scheduler = NewDueDateScheduler()
	}
	return &EnrollmentCalculator{policy: policy, scheduler: scheduler}
}

// Summarize computes the aggregate price and due date for the selected
// courses at the given reference time. Pure and idempotent.
func (c *EnrollmentCalculator) Summarize(selected []models.CourseOffering, now time.Time) models.CourseSummary {
	total := decimal.Zero
	for _, course := range selected {
		total = total.Add(course.Price)
	}

	if c.policy == config.DueDatePolicyScheduled {
		return models.CourseSummary{TotalPrice: total, DueDate: c.scheduler.PreferredDueDate(now)}
	}

	// Max-of-courses policy: latest course due date wins, with the epoch
	// floor standing in for an empty selection.
	due := models.EpochDate()
	for _, course := range selected {
		if course.DueDate.After(due) {
			due = course.DueDate
		}
	}
	return models.CourseSummary{TotalPrice: total, DueDate: due}
}

type studentStore interface {
	FindBySSN(ctx context.Context, ssn string) (*models.Student, int64, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindBySSNs(ctx context.Context, ssns []string) ([]models.Student, error)
	Upsert(ctx context.Context, student *models.Student) error
	Replace(ctx context.Context, student *models.Student, version int64) error
	AddUser(ctx context.Context, ssn, email string) error
}

type accountLinker interface {
	FindByEmail(ctx context.Context, email string) (*models.Account, int64, error)
	Replace(ctx context.Context, account *models.Account, version int64) error
	AddStudent(ctx context.Context, email, ssn string) error
}

type catalogReader interface {
	Courses(ctx context.Context) ([]models.CourseOffering, error)
}

type notificationAppender interface {
	Append(ctx context.Context, scope string, title, subtitle, description string) error
}

// RegisterStudentRequest creates or links an enrollment record.
type RegisterStudentRequest struct {
	SSN          string  `json:"ssn" validate:"required"`
	Name         string  `json:"name" validate:"required"`
	CourseIDs    []string `json:"courseIds"`
	LoadExisting bool    `json:"loadExisting"`
}

// UpdateCoursesRequest replaces the course selection of a record.
type UpdateCoursesRequest struct {
	CourseIDs []string `json:"courseIds" validate:"required,min=1"`
}

// EnrollmentService orchestrates enrollment records: identity-number
// validation, course selection, linking accounts and soft deactivation.
type EnrollmentService struct {
	students      studentStore
	accounts      accountLinker
	catalog       catalogReader
	notifications notificationAppender
	calculator    *EnrollmentCalculator
	validator     *validator.Validate
	logger        *zap.Logger
	now           func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(students studentStore, accounts accountLinker, catalog catalogReader, notifications notificationAppender, calculator *EnrollmentCalculator, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if calculator == nil {
		calculator = NewEnrollmentCalculator("", nil)
	}
	return &EnrollmentService{
		students:      students,
		accounts:      accounts,
		catalog:       catalog,
		notifications: notifications,
		calculator:    calculator,
		validator:     validate,
		logger:        logger,
		now:           time.Now,
	}
}

// WithClock overrides the service clock.
func (s *EnrollmentService) WithClock(now func() time.Time) *EnrollmentService {
	s.now = now
	return s
}

// Register validates the identity number and either creates a new
// enrollment record or, when the caller opts in, links the account to
// an existing one. A number already enrolled elsewhere is a conflict
// the caller must resolve explicitly.
func (s *EnrollmentService) Register(ctx context.Context, email string, req RegisterStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	if _, err := identity.ValidateAt(req.SSN, s.now()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	existing, _, err := s.students.FindBySSN(ctx, req.SSN)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	if existing != nil {
		if existing.LinkedTo(email) {
			return existing, nil
		}
		if !req.LoadExisting {
			return nil, appErrors.Clone(appErrors.ErrConflict, "identity number already enrolled under another account")
		}
		return s.link(ctx, existing, email)
	}

	if len(req.CourseIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one course is required")
	}
	selected, err := s.selectCourses(ctx, req.CourseIDs)
	if err != nil {
		return nil, err
	}
	summary := s.calculator.Summarize(selected, s.now())

	student := &models.Student{
		SSN:            req.SSN,
		Name:           req.Name,
		Courses:        selected,
		Price:          summary.TotalPrice,
		Advance:        decimal.Zero,
		DueDate:        summary.DueDate,
		Users:          []string{email},
		PaymentAllowed: models.PaymentStatusNew,
		Transactions:   []models.Transaction{},
		ExpoPushTokens: []string{},
	}
	if err := s.students.Upsert(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	if err := s.accounts.AddStudent(ctx, email, req.SSN); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link student to account")
	}

	// Subtitle "validate" flags the record for admin review, matching
	// what the admin panel filters on.
	if s.notifications != nil {
		if err := s.notifications.Append(ctx, models.AdminScope, "New student", "validate",
			fmt.Sprintf("%s registered %s for %d course(s)", email, req.Name, len(selected))); err != nil {
			s.logger.Warn("admin notification failed", zap.String("ssn", req.SSN), zap.Error(err))
		}
	}

	s.logger.Info("student registered", zap.String("ssn", req.SSN), zap.String("by", email))
	return student, nil
}

func (s *EnrollmentService) link(ctx context.Context, student *models.Student, email string) (*models.Student, error) {
	if err := s.students.AddUser(ctx, student.SSN, email); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link account to student")
	}
	if err := s.accounts.AddStudent(ctx, email, student.SSN); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link student to account")
	}
	student.Users = append(student.Users, email)
	return student, nil
}

// Get returns one enrollment record. Parents only see records linked to
// their account; admins see everything.
func (s *EnrollmentService) Get(ctx context.Context, claims *models.JWTClaims, ssn string) (*models.Student, error) {
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
	return student, nil
}

// List returns enrollment records with pagination metadata. Admin only;
// the handler enforces the role.
func (s *EnrollmentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.students.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ListLinked returns the enrollment records linked to an account.
func (s *EnrollmentService) ListLinked(ctx context.Context, email string) ([]models.Student, error) {
	account, _, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return []models.Student{}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	if len(account.Students) == 0 {
		return []models.Student{}, nil
	}
	students, err := s.students.FindBySSNs(ctx, account.Students)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load linked students")
	}
	return students, nil
}

// UpdateCourses replaces the course selection and recomputes price and
// due date in the same write, retrying once on a concurrent update.
func (s *EnrollmentService) UpdateCourses(ctx context.Context, claims *models.JWTClaims, ssn string, req UpdateCoursesRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course selection")
	}
	selected, err := s.selectCourses(ctx, req.CourseIDs)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		student, version, err := s.students.FindBySSN(ctx, ssn)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		if claims.Role != models.RoleAdmin && !student.LinkedTo(claims.Email) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "student not linked to account")
		}

		summary := s.calculator.Summarize(selected, s.now())
		student.Courses = selected
		student.Price = summary.TotalPrice
		student.DueDate = summary.DueDate

		if err := s.students.Replace(ctx, student, version); err != nil {
			if isVersionConflict(err) && attempt == 0 {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update courses")
		}
		return student, nil
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "student updated concurrently, retry")
}

// SetVacation soft-deactivates a record instead of deleting it. Admin
// only; the handler enforces the role.
func (s *EnrollmentService) SetVacation(ctx context.Context, ssn string, vacation bool) (*models.Student, error) {
	student, version, err := s.students.FindBySSN(ctx, ssn)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if vacation {
		student.PaymentAllowed = models.PaymentStatusVacation
	} else {
		student.PaymentAllowed = models.PaymentStatusNew
	}
	if err := s.students.Replace(ctx, student, version); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update payment status")
	}
	return student, nil
}

// Unlink removes the student from the account's list. The enrollment
// record itself is never deleted; once no account remains linked the
// record is parked on vacation so billing stops.
func (s *EnrollmentService) Unlink(ctx context.Context, email, ssn string) error {
	account, version, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	kept := account.Students[:0]
	for _, linked := range account.Students {
		if linked != ssn {
			kept = append(kept, linked)
		}
	}
	if len(kept) == len(account.Students) {
		return nil
	}
	account.Students = kept
	if err := s.accounts.Replace(ctx, account, version); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unlink student")
	}

	student, studentVersion, err := s.students.FindBySSN(ctx, ssn)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	users := student.Users[:0]
	for _, u := range student.Users {
		if u != email {
			users = append(users, u)
		}
	}
	student.Users = users
	if len(users) == 0 {
		student.PaymentAllowed = models.PaymentStatusVacation
	}
	if err := s.students.Replace(ctx, student, studentVersion); err != nil && !isVersionConflict(err) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student links")
	}
	return nil
}

// selectCourses resolves catalogue offerings by id. Unknown ids are a
// validation error so a stale client cannot enroll into a removed course.
func (s *EnrollmentService) selectCourses(ctx context.Context, ids []string) ([]models.CourseOffering, error) {
	if len(ids) == 0 {
		return []models.CourseOffering{}, nil
	}
	courses, err := s.catalog.Courses(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load catalogue")
	}
	byID := make(map[string]models.CourseOffering, len(courses))
	for _, c := range courses {
		byID[c.CourseID] = c
	}
	selected := make([]models.CourseOffering, 0, len(ids))
	for _, id := range ids {
		course, ok := byID[id]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown course id %s", id))
		}
		selected = append(selected, course)
	}
	return selected, nil
}
