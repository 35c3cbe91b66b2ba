package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvisoryLockReleasesOnHoldingConnection(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	// Acquire and release are session-scoped: both statements must run,
	// and the pinned connection goes back to the pool afterwards.
	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	l := NewAdvisoryLock(db, "lock:campaign:c1")
	ok, err := l.TryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, l.conn)

	require.NoError(t, l.Release(context.Background()))
	assert.Nil(t, l.conn)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLockContendedHoldsNoConnection(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	l := NewAdvisoryLock(db, "lock:campaign:c1")
	ok, err := l.TryAcquire(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	assert.Nil(t, l.conn)

	// Release without a held lock must be a no-op, no SQL issued.
	require.NoError(t, l.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLockSameKeySameID(t *testing.T) {
	a := NewAdvisoryLock(nil, "lock:campaign:c1")
	b := NewAdvisoryLock(nil, "lock:campaign:c1")
	c := NewAdvisoryLock(nil, "lock:campaign:c2")
	assert.Equal(t, a.lockID, b.lockID)
	assert.NotEqual(t, a.lockID, c.lockID)
}

func TestRedisLockMutualExclusion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	a := New(client, nil, "lock:campaign:c1", time.Minute)
	b := New(client, nil, "lock:campaign:c1", time.Minute)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx))
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
