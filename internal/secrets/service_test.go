package secrets

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"campusvote/internal/repo"
	"campusvote/internal/testutil"
	"campusvote/internal/totp"
)

func newService(t *testing.T) (*Service, *gorm.DB, *testutil.Clock) {
	t.Helper()
	d := testutil.NewDB(t)
	clock := testutil.NewClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	svc := New(repo.NewSecretStore(d), Options{Length: 6, ValidityPeriod: 1800})
	svc.Now = clock.Now
	return svc, d, clock
}

func TestIssueAndVerifyIdentifier(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	issued, err := svc.IssueForIdentifier(ctx, "student-1", nil)
	require.NoError(t, err)
	require.Len(t, issued.Code, 6)

	ok, err := svc.VerifyIdentifier(ctx, "student-1", issued.Code, nil, false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.VerifyIdentifier(ctx, "student-1", issued.Code, nil, false)
	require.NoError(t, err)
	assert.False(t, ok, "replay must fail")
}

func TestVerifyDeletesOnSuccess(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	issued, err := svc.IssueForIdentifier(ctx, "student-1", nil)
	require.NoError(t, err)
	ok, err := svc.VerifyIdentifier(ctx, "student-1", issued.Code, nil, true)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := svc.Store.CountForIdentifier(ctx, "student-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVerifyUnknownAndMalformed(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	ok, err := svc.VerifyIdentifier(ctx, "nobody", "123456", nil, true)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.IssueForIdentifier(ctx, "student-1", nil)
	require.NoError(t, err)
	ok, err = svc.VerifyIdentifier(ctx, "student-1", "not-a-code", nil, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReissueInvalidatesPreviousCode(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	old, err := svc.IssueForIdentifier(ctx, "student-1", nil)
	require.NoError(t, err)
	fresh, err := svc.IssueForIdentifier(ctx, "student-1", nil)
	require.NoError(t, err)

	if old.Code != fresh.Code {
		ok, err := svc.VerifyIdentifier(ctx, "student-1", old.Code, nil, false)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	ok, err := svc.VerifyIdentifier(ctx, "student-1", fresh.Code, nil, false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyOwnerIPBinding(t *testing.T) {
	ctx := context.Background()
	svc, d, _ := newService(t)
	acc := testutil.Voter(t, d)

	issued, err := svc.IssueForOwner(ctx, acc.ID, &totp.Origin{IP: "1.2.3.4"})
	require.NoError(t, err)

	ok, err := svc.VerifyOwner(ctx, acc.ID, issued.Code, &totp.Origin{IP: "5.6.7.8"}, true)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.VerifyOwner(ctx, acc.ID, issued.Code, &totp.Origin{IP: "1.2.3.4"}, true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyExpires(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newService(t)

	issued, err := svc.IssueForIdentifier(ctx, "student-1", nil)
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	ok, err := svc.VerifyIdentifier(ctx, "student-1", issued.Code, nil, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExchangeTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	payload := map[string]any{"student_id": "2b1f6a0e-6b55-4bd6-9b1c-4a1a0c0b7d11"}

	token, err := svc.MintExchangeToken(ctx, payload, 15*time.Minute)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 32)
	assert.GreaterOrEqual(t, len(parts[1]), 6)
	assert.LessOrEqual(t, len(parts[1]), 12)
	assert.Len(t, parts[2], 40)

	got, err := svc.RedeemExchangeToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = svc.RedeemExchangeToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExchangeTokenExpires(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newService(t)

	token, err := svc.MintExchangeToken(ctx, map[string]any{"account_id": "x"}, 15*time.Minute)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	_, err = svc.RedeemExchangeToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// часы за секунду до границы шага: срок жизни считается от выдачи
func newUnalignedService(t *testing.T) (*Service, *gorm.DB, *testutil.Clock) {
	t.Helper()
	svc, d, clock := newService(t)
	clock.Advance(899 * time.Second)
	return svc, d, clock
}

func TestExchangeTokenSurvivesStepBoundary(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newUnalignedService(t)

	token, err := svc.MintExchangeToken(ctx, map[string]any{"account_id": "x"}, 15*time.Minute)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	got, err := svc.RedeemExchangeToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "x", got["account_id"])
}

func TestExchangeTokenExpiresAfterLifetime(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newUnalignedService(t)

	token, err := svc.MintExchangeToken(ctx, map[string]any{"account_id": "x"}, 15*time.Minute)
	require.NoError(t, err)
	clock.Advance(15*time.Minute + time.Second)

	_, err = svc.RedeemExchangeToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestOTPSurvivesStepBoundary(t *testing.T) {
	ctx := context.Background()
	svc, d, clock := newService(t)
	clock.Advance(1799 * time.Second)
	acc := testutil.Voter(t, d)

	issued, err := svc.IssueForOwner(ctx, acc.ID, nil)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	ok, err := svc.VerifyOwner(ctx, acc.ID, issued.Code, nil, true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOTPExpiresAfterValidityPeriod(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newService(t)
	clock.Advance(17 * time.Minute)

	issued, err := svc.IssueForIdentifier(ctx, "student-1", nil)
	require.NoError(t, err)
	assert.True(t, issued.Secret.CreatedAt.Equal(clock.Now()))
	clock.Advance(30*time.Minute + time.Second)

	ok, err := svc.VerifyIdentifier(ctx, "student-1", issued.Code, nil, false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedeemRejectsMalformed(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	token, err := svc.MintExchangeToken(ctx, map[string]any{"k": "v"}, 15*time.Minute)
	require.NoError(t, err)
	parts := strings.Split(token, ".")

	for _, bad := range []string{
		"",
		"only-one",
		parts[0] + "." + parts[1],
		token + ".extra",
		parts[0] + ".." + parts[2],
		parts[0] + "." + parts[1] + "." + strings.Repeat("0", 40),
		"deadbeef." + parts[1] + "." + parts[2],
	} {
		_, err := svc.RedeemExchangeToken(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", bad)
	}

	// неудачные попытки не портят настоящий токен
	got, err := svc.RedeemExchangeToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "v", got["k"])
}

func TestMintRejectsNonPositiveLifetime(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.MintExchangeToken(context.Background(), nil, 0)
	assert.Error(t, err)
}

func TestWithTxRollsBackMint(t *testing.T) {
	ctx := context.Background()
	svc, d, _ := newService(t)

	var token string
	err := d.Transaction(func(tx *gorm.DB) error {
		var err error
		token, err = svc.WithTx(tx).MintExchangeToken(ctx, map[string]any{"k": "v"}, time.Minute)
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = svc.RedeemExchangeToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestConcurrentRedeemSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	token, err := svc.MintExchangeToken(ctx, map[string]any{"k": "v"}, 15*time.Minute)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	var wins, invalid atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RedeemExchangeToken(ctx, token)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrInvalidToken):
				invalid.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, workers-1, invalid.Load())
}
