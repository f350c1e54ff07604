package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusvote/internal/testutil"
)

func TestDBStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewDB(t)
	clock := testutil.NewClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store := NewDBStore(d)
	store.Now = clock.Now
	acc := uuid.New()

	token, sess, err := store.Create(ctx, acc, time.Hour, Meta{ClientIP: "10.0.0.1", UserAgent: "curl"})
	require.NoError(t, err)
	assert.NotEqual(t, token, sess.TokenHash, "only the hash is stored")
	assert.Len(t, sess.TokenHash, 64)

	got, err := store.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, acc, got.AccountID)
	assert.Equal(t, "10.0.0.1", got.ClientIP)

	_, err = store.Get(ctx, token+"x")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, token))
	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDBStoreExpiry(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewDB(t)
	clock := testutil.NewClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store := NewDBStore(d)
	store.Now = clock.Now

	expired, _, err := store.Create(ctx, uuid.New(), time.Minute, Meta{})
	require.NoError(t, err)
	live, _, err := store.Create(ctx, uuid.New(), time.Hour, Meta{})
	require.NoError(t, err)
	_, _, err = store.Create(ctx, uuid.New(), time.Minute, Meta{})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = store.Get(ctx, expired)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "one expired row was already dropped by Get")

	_, err = store.Get(ctx, live)
	assert.NoError(t, err)
}
