package voting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"campusvote/internal/models"
	"campusvote/internal/testutil"
)

type fixture struct {
	db     *gorm.DB
	ledger *Ledger
	clock  *testutil.Clock

	election *models.Election
	office   *models.Office
	a, b     *models.Candidate
	voter    *models.UserAccount
}

func setup(t *testing.T) *fixture {
	t.Helper()
	d := testutil.NewDB(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewClock(now)

	f := &fixture{db: d, clock: clock}
	f.election = testutil.Election(t, d, "Senate Election", now.Add(-time.Hour), now.Add(time.Hour))
	f.office = testutil.Office(t, d, f.election, "President")
	f.a = testutil.Candidate(t, d, f.office, "A")
	f.b = testutil.Candidate(t, d, f.office, "B")
	f.voter = testutil.Voter(t, d)

	f.ledger = NewLedger(d)
	f.ledger.Now = clock.Now
	return f
}

func (f *fixture) counts(t *testing.T) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	a, err := f.ledger.CountValidVotes(ctx, f.a.ID)
	require.NoError(t, err)
	b, err := f.ledger.CountValidVotes(ctx, f.b.ID)
	require.NoError(t, err)
	return a, b
}

func (f *fixture) rowsForOffice(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Vote{}).
		Where("voter_id = ? AND office_id = ?", f.voter.ID, f.office.ID).Count(&n).Error)
	return n
}

func TestSenateScenario(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	first, outcome, err := f.ledger.CastVote(ctx, f.voter.ID, f.election.Slug, f.office.ID, f.a.ID)
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
	a, b := f.counts(t)
	assert.EqualValues(t, 1, a)
	assert.EqualValues(t, 0, b)

	second, outcome, err := f.ledger.CastVote(ctx, f.voter.ID, f.election.Slug, f.office.ID, f.b.ID)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	assert.Equal(t, first.ID, second.ID, "vote must be updated in place")
	a, b = f.counts(t)
	assert.EqualValues(t, 0, a)
	assert.EqualValues(t, 1, b)
	assert.EqualValues(t, 1, f.rowsForOffice(t))

	var stored models.Vote
	require.NoError(t, f.db.First(&stored, first.ID).Error)
	assert.True(t, first.CreatedAt.Equal(stored.CreatedAt))

	removed, err := f.ledger.WithdrawVote(ctx, f.voter.ID, f.election.Slug, f.office.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	a, b = f.counts(t)
	assert.Zero(t, a)
	assert.Zero(t, b)
}

func TestDuplicateVoteRejected(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, _, err := f.ledger.CastVote(ctx, f.voter.ID, f.election.Slug, f.office.ID, f.a.ID)
	require.NoError(t, err)
	_, _, err = f.ledger.CastVote(ctx, f.voter.ID, f.election.Slug, f.office.ID, f.a.ID)
	assert.ErrorIs(t, err, ErrDuplicateVote)
	assert.EqualValues(t, 1, f.rowsForOffice(t))
}

func TestWithdrawIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, _, err := f.ledger.CastVote(ctx, f.voter.ID, f.election.Slug, f.office.ID, f.a.ID)
	require.NoError(t, err)

	removed, err := f.ledger.WithdrawVote(ctx, f.voter.ID, f.election.Slug, f.office.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = f.ledger.WithdrawVote(ctx, f.voter.ID, f.election.Slug, f.office.ID)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Zero(t, f.rowsForOffice(t))
}

func TestCastPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown election", func(t *testing.T) {
		f := setup(t)
		_, _, err := f.ledger.CastVote(ctx, f.voter.ID, "missing", f.office.ID, f.a.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("office of another election", func(t *testing.T) {
		f := setup(t)
		now := f.clock.Now()
		other := testutil.Election(t, f.db, "Other", now.Add(-time.Hour), now.Add(time.Hour))
		_, _, err := f.ledger.CastVote(ctx, f.voter.ID, other.Slug, f.office.ID, f.a.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("candidate of another office", func(t *testing.T) {
		f := setup(t)
		vp := testutil.Office(t, f.db, f.election, "Vice President")
		c := testutil.Candidate(t, f.db, vp, "C")
		_, _, err := f.ledger.CastVote(ctx, f.voter.ID, f.election.Slug, f.office.ID, c.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("election ended", func(t *testing.T) {
		f := setup(t)
		f.clock.Advance(2 * time.Hour)
		_, _, err := f.ledger.CastVote(ctx, f.voter.ID, f.election.Slug, f.office.ID, f.a.ID)
		assert.ErrorIs(t, err, ErrElectionEnded)
		_, err = f.ledger.WithdrawVote(ctx, f.voter.ID, f.election.Slug, f.office.ID)
		assert.ErrorIs(t, err, ErrElectionEnded)
	})

	t.Run("inactive office", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.db.Model(f.office).Update("is_active", false).Error)
		_, _, err := f.ledger.CastVote(ctx, f.voter.ID, f.election.Slug, f.office.ID, f.a.ID)
		assert.ErrorIs(t, err, ErrOfficeInactive)
	})

	t.Run("disqualified candidate", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.db.Model(f.a).Update("disqualified", true).Error)
		_, _, err := f.ledger.CastVote(ctx, f.voter.ID, f.election.Slug, f.office.ID, f.a.ID)
		assert.ErrorIs(t, err, ErrCandidateDisqualified)
	})
}

func TestLockFreezesBallot(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, _, err := f.ledger.CastVote(ctx, f.voter.ID, f.election.Slug, f.office.ID, f.a.ID)
	require.NoError(t, err)

	created, err := f.ledger.Lock(ctx, f.election.Slug, f.voter.ID)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = f.ledger.Lock(ctx, f.election.Slug, f.voter.ID)
	require.NoError(t, err)
	assert.False(t, created)

	var n int64
	require.NoError(t, f.db.Model(&models.VoteLock{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	locked, err := f.ledger.IsLocked(ctx, f.election.ID, f.voter.ID)
	require.NoError(t, err)
	assert.True(t, locked)

	_, _, err = f.ledger.CastVote(ctx, f.voter.ID, f.election.Slug, f.office.ID, f.b.ID)
	assert.ErrorIs(t, err, ErrBallotLocked)
	_, err = f.ledger.WithdrawVote(ctx, f.voter.ID, f.election.Slug, f.office.ID)
	assert.ErrorIs(t, err, ErrBallotLocked)

	a, _ := f.counts(t)
	assert.EqualValues(t, 1, a)

	other := testutil.Voter(t, f.db)
	_, _, err = f.ledger.CastVote(ctx, other.ID, f.election.Slug, f.office.ID, f.b.ID)
	assert.NoError(t, err, "lock is per voter")
}

func TestLockAfterEnd(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.clock.Advance(2 * time.Hour)

	_, err := f.ledger.Lock(ctx, f.election.Slug, f.voter.ID)
	assert.ErrorIs(t, err, ErrElectionEnded)
	_, err = f.ledger.Lock(ctx, "missing", f.voter.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLeadingCandidate(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	lead, err := f.ledger.LeadingCandidate(ctx, f.office.ID)
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, "A", lead.Name, "no votes: name order")

	for i := 0; i < 2; i++ {
		v := testutil.Voter(t, f.db)
		_, _, err := f.ledger.CastVote(ctx, v.ID, f.election.Slug, f.office.ID, f.b.ID)
		require.NoError(t, err)
	}
	v := testutil.Voter(t, f.db)
	_, _, err = f.ledger.CastVote(ctx, v.ID, f.election.Slug, f.office.ID, f.a.ID)
	require.NoError(t, err)

	lead, err = f.ledger.LeadingCandidate(ctx, f.office.ID)
	require.NoError(t, err)
	assert.Equal(t, f.b.ID, lead.ID)

	require.NoError(t, f.db.Model(f.b).Update("disqualified", true).Error)
	lead, err = f.ledger.LeadingCandidate(ctx, f.office.ID)
	require.NoError(t, err)
	assert.Equal(t, f.a.ID, lead.ID)

	empty := testutil.Office(t, f.db, f.election, "Empty")
	lead, err = f.ledger.LeadingCandidate(ctx, empty.ID)
	require.NoError(t, err)
	assert.Nil(t, lead)
}

func TestLedgerSafeForAnyAccount(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	admin := testutil.Admin(t, f.db)

	_, _, err := f.ledger.CastVote(ctx, admin.ID, f.election.Slug, f.office.ID, f.a.ID)
	require.NoError(t, err)
	_, _, err = f.ledger.CastVote(ctx, uuid.New(), f.election.Slug, f.office.ID, f.a.ID)
	require.NoError(t, err)
}

func TestConcurrentCastKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	c := testutil.Candidate(t, f.db, f.office, "C")
	candidates := []uint{f.a.ID, f.b.ID, c.ID}
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const workers = 12
	var wg sync.WaitGroup
	var unexpected atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(cand uint) {
			defer wg.Done()
			_, _, err := f.ledger.CastVote(ctx, f.voter.ID, f.election.Slug, f.office.ID, cand)
			if err != nil && !errors.Is(err, ErrDuplicateVote) {
				unexpected.Add(1)
			}
		}(candidates[i%len(candidates)])
	}
	wg.Wait()

	assert.Zero(t, unexpected.Load())
	assert.EqualValues(t, 1, f.rowsForOffice(t))
}
