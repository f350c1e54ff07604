package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"campusvote/internal/models"
	"campusvote/internal/testutil"
)

func TestSecretStoreAtMostOnePerIdentifier(t *testing.T) {
	ctx := context.Background()
	s := NewSecretStore(testutil.NewDB(t))

	first, err := s.CreateForIdentifier(ctx, "student-1", 6, 1800, nil)
	require.NoError(t, err)
	second, err := s.CreateForIdentifier(ctx, "student-1", 6, 1800, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.Key, second.Key)

	n, err := s.CountForIdentifier(ctx, "student-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.FindByIdentifier(ctx, "student-1", false)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, models.NoCounter, got.LastVerifiedCounter)
	assert.Len(t, got.Key, 40)
}

func TestSecretStoreOwnerScope(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewDB(t)
	s := NewSecretStore(d)
	owner := testutil.Voter(t, d)

	_, err := s.CreateForOwner(ctx, owner.ID, 6, 1800, testutil.Ptr("::ffff:10.0.0.1"))
	require.NoError(t, err)
	sec, err := s.CreateForOwner(ctx, owner.ID, 8, 60, nil)
	require.NoError(t, err)

	got, err := s.FindByOwner(ctx, owner.ID, true)
	require.NoError(t, err)
	assert.Equal(t, sec.ID, got.ID)
	assert.Equal(t, 8, got.Length)
	assert.Nil(t, got.RequestorIPAddress)

	_, err = s.FindByOwner(ctx, uuid.New(), false)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSecretStoreNormalizesIP(t *testing.T) {
	ctx := context.Background()
	s := NewSecretStore(testutil.NewDB(t))
	sec, err := s.CreateForIdentifier(ctx, "x", 6, 1800, testutil.Ptr("::ffff:1.2.3.4"))
	require.NoError(t, err)
	require.NotNil(t, sec.RequestorIPAddress)
	assert.Equal(t, "1.2.3.4", *sec.RequestorIPAddress)
}

func TestSecretStoreAdvanceCounter(t *testing.T) {
	ctx := context.Background()
	s := NewSecretStore(testutil.NewDB(t))
	sec, err := s.CreateForIdentifier(ctx, "x", 6, 1800, nil)
	require.NoError(t, err)

	ok, err := s.AdvanceCounter(ctx, sec, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	stale := *sec
	stale.LastVerifiedCounter = models.NoCounter
	ok, err = s.AdvanceCounter(ctx, &stale, 10)
	require.NoError(t, err)
	assert.False(t, ok, "same counter must lose")

	got, err := s.FindByIdentifier(ctx, "x", false)
	require.NoError(t, err)
	assert.EqualValues(t, 10, got.LastVerifiedCounter)
}

func TestSecretStoreMetadataAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewSecretStore(testutil.NewDB(t))
	sec, err := s.CreateForIdentifier(ctx, "x", 6, 1800, nil)
	require.NoError(t, err)

	require.NoError(t, s.SetMetadata(ctx, sec, datatypes.JSON(`{"student_id":"abc"}`)))
	got, err := s.FindByIdentifier(ctx, "x", false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"student_id":"abc"}`, string(got.Metadata))

	removed, err := s.Delete(ctx, sec)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Delete(ctx, sec)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSecretStoreWithTxRollback(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewDB(t)
	s := NewSecretStore(d)

	boom := errors.New("boom")
	err := d.Transaction(func(tx *gorm.DB) error {
		if _, err := s.WithTx(tx).CreateForIdentifier(ctx, "x", 6, 1800, nil); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := s.CountForIdentifier(ctx, "x")
	require.NoError(t, err)
	assert.Zero(t, n)
}
