package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newStoreMock(t *testing.T) (*DocumentStore, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	store := NewDocumentStore(sqlx.NewDb(db, "sqlmock"))
	return store, mock, func() { db.Close() }
}

func TestDocumentStoreGet(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"body", "version"}).
		AddRow([]byte(`{"name":"Maja"}`), int64(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT body, version FROM documents WHERE collection = $1 AND key = $2")).
		WithArgs("students", "800101-1232").
		WillReturnRows(rows)

	var doc struct {
		Name string `json:"name"`
	}
	version, err := store.Get(context.Background(), "students", "800101-1232", &doc)
	require.NoError(t, err)
	require.Equal(t, int64(3), version)
	require.Equal(t, "Maja", doc.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreGetMissing(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body, version FROM documents")).
		WithArgs("students", "120305-9876").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "students", "120305-9876", nil)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreCompareAndSetConflict(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET body = $3, version = version + 1")).
		WithArgs("students", "800101-1232", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.CompareAndSet(context.Background(), "students", "800101-1232", map[string]string{"name": "Maja"}, 3)
	require.ErrorIs(t, err, ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreCompareAndSet(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET body = $3, version = version + 1")).
		WithArgs("students", "800101-1232", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CompareAndSet(context.Background(), "students", "800101-1232", map[string]string{"name": "Maja"}, 3)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreCreateExistingIsConflict(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (collection, key) DO NOTHING")).
		WithArgs("notifications", "anna@example.com", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Create(context.Background(), "notifications", "anna@example.com", map[string]string{})
	require.ErrorIs(t, err, ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreArrayUnionDeduplicatesObjects(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()

	// Containment must run against the wrapped single-element array so
	// object elements (transactions) dedupe, not just primitives.
	mock.ExpectExec(regexp.QuoteMeta("@> $4::jsonb")).
		WithArgs("students", "800101-1232", "transactions", []byte(`[{"transactionId":"swish-1"}]`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.ArrayUnion(context.Background(), "students", "800101-1232", "transactions",
		map[string]string{"transactionId": "swish-1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreQueryByFieldInEmpty(t *testing.T) {
	store, _, cleanup := newStoreMock(t)
	defer cleanup()

	bodies, err := store.QueryByFieldIn(context.Background(), "students", "ssn", nil)
	require.NoError(t, err)
	require.Nil(t, bodies)
}
