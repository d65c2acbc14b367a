package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarang-school/pay-api/internal/models"
	"github.com/tarang-school/pay-api/internal/repository"
	"github.com/tarang-school/pay-api/pkg/config"
	appErrors "github.com/tarang-school/pay-api/pkg/errors"
)

var testClock = func() time.Time {
	return time.Date(2025, time.August, 10, 12, 0, 0, 0, time.UTC)
}

type mockStudentStore struct {
	students  map[string]models.Student
	versions  map[string]int64
	conflicts int
	linked    []string
}

func (m *mockStudentStore) FindBySSN(ctx context.Context, ssn string) (*models.Student, int64, error) {
	if s, ok := m.students[ssn]; ok {
		return &s, m.versions[ssn], nil
	}
	return nil, 0, sql.ErrNoRows
}

func (m *mockStudentStore) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	out := make([]models.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (m *mockStudentStore) FindBySSNs(ctx context.Context, ssns []string) ([]models.Student, error) {
	out := make([]models.Student, 0, len(ssns))
	for _, ssn := range ssns {
		if s, ok := m.students[ssn]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockStudentStore) Upsert(ctx context.Context, student *models.Student) error {
	if m.students == nil {
		m.students = make(map[string]models.Student)
		m.versions = make(map[string]int64)
	}
	m.students[student.SSN] = *student
	m.versions[student.SSN]++
	return nil
}

func (m *mockStudentStore) Replace(ctx context.Context, student *models.Student, version int64) error {
	if m.conflicts > 0 {
		m.conflicts--
		return repository.ErrVersionConflict
	}
	if m.versions[student.SSN] != version {
		return repository.ErrVersionConflict
	}
	m.students[student.SSN] = *student
	m.versions[student.SSN]++
	return nil
}

func (m *mockStudentStore) AddUser(ctx context.Context, ssn, email string) error {
	s := m.students[ssn]
	s.Users = append(s.Users, email)
	m.students[ssn] = s
	m.linked = append(m.linked, email)
	return nil
}

type mockAccountLinker struct {
	accounts map[string]models.Account
	versions map[string]int64
	students map[string][]string
}

func (m *mockAccountLinker) FindByEmail(ctx context.Context, email string) (*models.Account, int64, error) {
	if a, ok := m.accounts[email]; ok {
		return &a, m.versions[email], nil
	}
	return nil, 0, sql.ErrNoRows
}

func (m *mockAccountLinker) Replace(ctx context.Context, account *models.Account, version int64) error {
	m.accounts[account.Email] = *account
	return nil
}

func (m *mockAccountLinker) AddStudent(ctx context.Context, email, ssn string) error {
	if m.students == nil {
		m.students = make(map[string][]string)
	}
	m.students[email] = append(m.students[email], ssn)
	return nil
}

type mockCatalogReader struct {
	courses []models.CourseOffering
}

func (m *mockCatalogReader) Courses(ctx context.Context) ([]models.CourseOffering, error) {
	return m.courses, nil
}

type mockNotifier struct {
	appended  []string
	scopes    []string
	subtitles []string
}

func (m *mockNotifier) Append(ctx context.Context, scope, title, subtitle, description string) error {
	m.scopes = append(m.scopes, scope)
	m.appended = append(m.appended, title)
	m.subtitles = append(m.subtitles, subtitle)
	return nil
}

func testCourses() []models.CourseOffering {
	return []models.CourseOffering{
		{CourseID: "1", Name: "Dance", Price: decimal.NewFromInt(800), DueDate: models.NewDate(2025, time.September, 3)},
		{CourseID: "2", Name: "Music", Price: decimal.NewFromInt(700), DueDate: models.NewDate(2025, time.August, 6)},
	}
}

func TestSummarizeMaxCoursePolicy(t *testing.T) {
	calc := NewEnrollmentCalculator(config.DueDatePolicyMaxCourse, nil)

	summary := calc.Summarize(testCourses(), testClock())
	assert.True(t, summary.TotalPrice.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, models.NewDate(2025, time.September, 3), summary.DueDate)

	// Same input, same output.
	again := calc.Summarize(testCourses(), testClock())
	assert.Equal(t, summary, again)
}

func TestSummarizeEmptySelection(t *testing.T) {
	calc := NewEnrollmentCalculator(config.DueDatePolicyMaxCourse, nil)
	summary := calc.Summarize(nil, testClock())
	assert.True(t, summary.TotalPrice.IsZero())
	assert.Equal(t, models.EpochDate(), summary.DueDate)
}

func TestSummarizeScheduledPolicy(t *testing.T) {
	calc := NewEnrollmentCalculator(config.DueDatePolicyScheduled, nil)
	// August 2025 starts on a Friday, so the 1st wins.
	summary := calc.Summarize(testCourses(), testClock())
	assert.Equal(t, models.NewDate(2025, time.August, 1), summary.DueDate)
}

func newTestEnrollmentService(students *mockStudentStore, accounts *mockAccountLinker, notifier *mockNotifier) *EnrollmentService {
	calc := NewEnrollmentCalculator(config.DueDatePolicyMaxCourse, nil)
	svc := NewEnrollmentService(students, accounts, &mockCatalogReader{courses: testCourses()}, notifier, calc, nil, nil)
	return svc.WithClock(testClock)
}

func TestRegisterRejectsInvalidIdentityNumber(t *testing.T) {
	svc := newTestEnrollmentService(&mockStudentStore{}, &mockAccountLinker{}, &mockNotifier{})

	_, err := svc.Register(context.Background(), "anna@example.com", RegisterStudentRequest{SSN: "800101-1230", Name: "Maja"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRegisterCreatesStudent(t *testing.T) {
	students := &mockStudentStore{}
	accounts := &mockAccountLinker{}
	notifier := &mockNotifier{}
	svc := newTestEnrollmentService(students, accounts, notifier)

	student, err := svc.Register(context.Background(), "anna@example.com", RegisterStudentRequest{
		SSN: "120305-9876", Name: "Elsa", CourseIDs: []string{"1", "2"},
	})
	require.NoError(t, err)
	assert.True(t, student.Price.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, models.NewDate(2025, time.September, 3), student.DueDate)
	assert.Equal(t, models.PaymentStatusNew, student.PaymentAllowed)
	assert.Equal(t, []string{"anna@example.com"}, student.Users)
	assert.Equal(t, []string{"120305-9876"}, accounts.students["anna@example.com"])

	require.Len(t, notifier.scopes, 1)
	assert.Equal(t, models.AdminScope, notifier.scopes[0])
	assert.Equal(t, "validate", notifier.subtitles[0])
}

func TestRegisterRequiresCourses(t *testing.T) {
	svc := newTestEnrollmentService(&mockStudentStore{}, &mockAccountLinker{}, &mockNotifier{})

	_, err := svc.Register(context.Background(), "anna@example.com", RegisterStudentRequest{
		SSN: "120305-9876", Name: "Elsa",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRegisterConflictRequiresOptIn(t *testing.T) {
	students := &mockStudentStore{
		students: map[string]models.Student{
			"120305-9876": {SSN: "120305-9876", Name: "Elsa", Users: []string{"other@example.com"}},
		},
		versions: map[string]int64{"120305-9876": 1},
	}
	accounts := &mockAccountLinker{}
	svc := newTestEnrollmentService(students, accounts, &mockNotifier{})

	_, err := svc.Register(context.Background(), "anna@example.com", RegisterStudentRequest{SSN: "120305-9876", Name: "Elsa"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	// Opting in links instead of erroring.
	student, err := svc.Register(context.Background(), "anna@example.com", RegisterStudentRequest{
		SSN: "120305-9876", Name: "Elsa", LoadExisting: true,
	})
	require.NoError(t, err)
	assert.Contains(t, student.Users, "anna@example.com")
	assert.Equal(t, []string{"120305-9876"}, accounts.students["anna@example.com"])
}

func TestUpdateCoursesRecomputesDerivedFields(t *testing.T) {
	students := &mockStudentStore{
		students: map[string]models.Student{
			"120305-9876": {
				SSN:   "120305-9876",
				Name:  "Elsa",
				Users: []string{"anna@example.com"},
				Price: decimal.NewFromInt(1500),
			},
		},
		versions: map[string]int64{"120305-9876": 1},
	}
	svc := newTestEnrollmentService(students, &mockAccountLinker{}, &mockNotifier{})
	claims := &models.JWTClaims{Email: "anna@example.com", Role: models.RoleParent}

	student, err := svc.UpdateCourses(context.Background(), claims, "120305-9876", UpdateCoursesRequest{CourseIDs: []string{"2"}})
	require.NoError(t, err)
	assert.True(t, student.Price.Equal(decimal.NewFromInt(700)))
	assert.Equal(t, models.NewDate(2025, time.August, 6), student.DueDate)
	require.Len(t, student.Courses, 1)
	assert.Equal(t, "2", student.Courses[0].CourseID)
}

func TestUpdateCoursesRetriesOnConflict(t *testing.T) {
	students := &mockStudentStore{
		students: map[string]models.Student{
			"120305-9876": {SSN: "120305-9876", Users: []string{"anna@example.com"}},
		},
		versions:  map[string]int64{"120305-9876": 1},
		conflicts: 1,
	}
	svc := newTestEnrollmentService(students, &mockAccountLinker{}, &mockNotifier{})
	claims := &models.JWTClaims{Email: "anna@example.com", Role: models.RoleParent}

	_, err := svc.UpdateCourses(context.Background(), claims, "120305-9876", UpdateCoursesRequest{CourseIDs: []string{"1"}})
	require.NoError(t, err)
}

func TestUpdateCoursesForbiddenForUnlinkedAccount(t *testing.T) {
	students := &mockStudentStore{
		students: map[string]models.Student{
			"120305-9876": {SSN: "120305-9876", Users: []string{"other@example.com"}},
		},
		versions: map[string]int64{"120305-9876": 1},
	}
	svc := newTestEnrollmentService(students, &mockAccountLinker{}, &mockNotifier{})
	claims := &models.JWTClaims{Email: "anna@example.com", Role: models.RoleParent}

	_, err := svc.UpdateCourses(context.Background(), claims, "120305-9876", UpdateCoursesRequest{CourseIDs: []string{"1"}})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSetVacation(t *testing.T) {
	students := &mockStudentStore{
		students: map[string]models.Student{
			"120305-9876": {SSN: "120305-9876", PaymentAllowed: models.PaymentStatusNew},
		},
		versions: map[string]int64{"120305-9876": 1},
	}
	svc := newTestEnrollmentService(students, &mockAccountLinker{}, &mockNotifier{})

	student, err := svc.SetVacation(context.Background(), "120305-9876", true)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusVacation, student.PaymentAllowed)
}

func TestUnlinkIsIdempotent(t *testing.T) {
	accounts := &mockAccountLinker{
		accounts: map[string]models.Account{
			"anna@example.com": {Email: "anna@example.com", Students: []string{"120305-9876"}},
		},
		versions: map[string]int64{"anna@example.com": 1},
	}
	svc := newTestEnrollmentService(&mockStudentStore{}, accounts, &mockNotifier{})

	require.NoError(t, svc.Unlink(context.Background(), "anna@example.com", "120305-9876"))
	assert.Empty(t, accounts.accounts["anna@example.com"].Students)

	// A second unlink finds nothing to remove and succeeds quietly.
	require.NoError(t, svc.Unlink(context.Background(), "anna@example.com", "120305-9876"))
}

func TestUnlinkParksOrphanedRecord(t *testing.T) {
	students := &mockStudentStore{
		students: map[string]models.Student{
			"120305-9876": {SSN: "120305-9876", Users: []string{"anna@example.com"}, PaymentAllowed: models.PaymentStatusNew},
		},
		versions: map[string]int64{"120305-9876": 1},
	}
	accounts := &mockAccountLinker{
		accounts: map[string]models.Account{
			"anna@example.com": {Email: "anna@example.com", Students: []string{"120305-9876"}},
		},
		versions: map[string]int64{"anna@example.com": 1},
	}
	svc := newTestEnrollmentService(students, accounts, &mockNotifier{})

	require.NoError(t, svc.Unlink(context.Background(), "anna@example.com", "120305-9876"))
	parked := students.students["120305-9876"]
	assert.Empty(t, parked.Users)
	assert.Equal(t, models.PaymentStatusVacation, parked.PaymentAllowed)
}
