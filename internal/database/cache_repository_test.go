package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRepository_GetSet(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCacheRepository(db)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO gateway_cache`).
		WithArgs("paymob:auth_token", "tok", int64(3000000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Set(ctx, "paymob:auth_token", "tok", 50*time.Minute))

	mock.ExpectQuery(`SELECT value FROM gateway_cache WHERE key = \$1 AND expires_at > NOW\(\)`).
		WithArgs("paymob:auth_token").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("tok"))
	value, ok, err := repo.Get(ctx, "paymob:auth_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", value)

	mock.ExpectQuery(`SELECT value FROM gateway_cache`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	_, ok, err = repo.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheRepository_Incr(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCacheRepository(db)

	mock.ExpectQuery(`INSERT INTO gateway_cache (.+) ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("paymob:auth_token:lock", int64(10000)).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(1)))

	n, err := repo.Incr(context.Background(), "paymob:auth_token:lock", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheRepository_DeleteExpired(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCacheRepository(db)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM gateway_cache WHERE expires_at <= NOW\(\)`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	mock.ExpectExec(`DELETE FROM gateway_cache WHERE key`).
		WithArgs("paymob:auth_token").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(ctx, "paymob:auth_token"))

	mock.ExpectExec(`UPDATE gateway_cache SET expires_at`).
		WithArgs("k", int64(5000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Expire(ctx, "k", 5*time.Second))

	assert.NoError(t, mock.ExpectationsWereMet())
}
