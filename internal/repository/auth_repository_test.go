package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/tarang-school/pay-api/internal/models"
)

func newAuthRepoMock(t *testing.T) (*AuthRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewAuthRepository(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

func TestAuthRepositoryFindCredential(t *testing.T) {
	repo, mock, cleanup := newAuthRepoMock(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"email", "password_hash", "role", "active", "last_login", "created_at", "updated_at"}).
		AddRow("anna@example.com", "$2a$10$hash", models.RoleParent, true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT email, password_hash, role, active, last_login, created_at, updated_at FROM credentials WHERE email = $1 LIMIT 1")).
		WithArgs("anna@example.com").
		WillReturnRows(rows)

	cred, err := repo.FindCredential(context.Background(), "anna@example.com")
	require.NoError(t, err)
	require.Equal(t, models.RoleParent, cred.Role)
	require.True(t, cred.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthRepositoryFindCredentialMissing(t *testing.T) {
	repo, mock, cleanup := newAuthRepoMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT email, password_hash").
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindCredential(context.Background(), "ghost@example.com")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthRepositoryRevokeAccountRefreshTokens(t *testing.T) {
	repo, mock, cleanup := newAuthRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE email = $1 AND revoked = FALSE")).
		WithArgs("anna@example.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.RevokeAccountRefreshTokens(context.Background(), "anna@example.com"))
	require.NoError(t, mock.ExpectationsWereMet())
}
