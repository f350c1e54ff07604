// Package voting — учёт голосов: один голос на офис, перезапись, отзыв, блокировка бюллетеня.
package voting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"campusvote/internal/election"
	"campusvote/internal/logs"
	"campusvote/internal/metrics"
	"campusvote/internal/models"
	"campusvote/internal/repo"
)

var (
	ErrNotFound              = errors.New("election, office or candidate not found")
	ErrElectionEnded         = errors.New("election has ended")
	ErrOfficeInactive        = errors.New("office is not active")
	ErrCandidateDisqualified = errors.New("candidate is disqualified")
	ErrDuplicateVote         = errors.New("already voted for this candidate")
	ErrBallotLocked          = errors.New("ballot is locked")
)

// Outcome — что сделал CastVote.
type Outcome string

const (
	Created Outcome = "created"
	Updated Outcome = "updated"
)

// попытки транзакции при гонке на уникальном индексе (office, voter)
const castAttempts = 2

type Ledger struct {
	db      *gorm.DB
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db, Now: time.Now}
}

// WithTx — ledger поверх внешней транзакции (вложенные операции идут через SAVEPOINT).
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	cp := *l
	cp.db = tx
	return &cp
}

// target — выборы и офис из запроса после проверки.
type target struct {
	election *models.Election
	office   *models.Office
}

// resolve проверяет, что офис принадлежит выборам из пути и выборы не закончились.
func (l *Ledger) resolve(ctx context.Context, tx *gorm.DB, slug string, officeID uint) (*target, error) {
	e, err := repo.NewElectionStore(tx).GetBySlug(ctx, slug, false)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: election %q", ErrNotFound, slug)
	}
	if err != nil {
		return nil, err
	}
	var o models.Office
	err = tx.WithContext(ctx).Where("id = ? AND election_id = ?", officeID, e.ID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: office %d in %q", ErrNotFound, officeID, slug)
	}
	if err != nil {
		return nil, err
	}
	if election.ForElection(l.Now(), e).Ended {
		return nil, ErrElectionEnded
	}
	return &target{election: e, office: &o}, nil
}

// checkUnlocked берёт блокировку бюллетеня и проверяет, что он не зафиксирован.
// Параллельный Lock ждёт эту же строку, поэтому проверка не устаревает до коммита.
func (l *Ledger) checkUnlocked(ctx context.Context, votes *repo.VoteStore, electionID uint, voterID uuid.UUID) error {
	if err := votes.LockBallot(ctx, electionID, voterID); err != nil {
		return err
	}
	locked, err := votes.IsLockedForUpdate(ctx, electionID, voterID)
	if err != nil {
		return err
	}
	if locked {
		return ErrBallotLocked
	}
	return nil
}

// CastVote отдаёт голос избирателя за кандидата офиса. Голос за другого
// кандидата того же офиса переписывает прежний на месте.
func (l *Ledger) CastVote(ctx context.Context, voterID uuid.UUID, slug string, officeID, candidateID uint) (*models.Vote, Outcome, error) {
	var (
		vote    *models.Vote
		outcome Outcome
		err     error
	)
	for attempt := 0; attempt < castAttempts; attempt++ {
		err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var cerr error
			vote, outcome, cerr = l.cast(ctx, tx, voterID, slug, officeID, candidateID)
			return cerr
		})
		if !repo.IsDuplicate(err) {
			break
		}
		logs.Logger.Debugf("vote race voter=%s office=%d, retrying", voterID, officeID)
	}
	if err != nil {
		if errors.Is(err, ErrDuplicateVote) {
			l.Metrics.Vote("duplicate")
		}
		return nil, "", err
	}
	if outcome == Created {
		l.Metrics.Vote("cast")
	} else {
		l.Metrics.Vote("update")
	}
	return vote, outcome, nil
}

func (l *Ledger) cast(ctx context.Context, tx *gorm.DB, voterID uuid.UUID, slug string, officeID, candidateID uint) (*models.Vote, Outcome, error) {
	t, err := l.resolve(ctx, tx, slug, officeID)
	if err != nil {
		return nil, "", err
	}
	var c models.Candidate
	err = tx.WithContext(ctx).Where("id = ? AND office_id = ?", candidateID, t.office.ID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", fmt.Errorf("%w: candidate %d in office %d", ErrNotFound, candidateID, officeID)
	}
	if err != nil {
		return nil, "", err
	}
	if !t.office.IsActive {
		return nil, "", ErrOfficeInactive
	}
	if c.Disqualified {
		return nil, "", ErrCandidateDisqualified
	}

	votes := repo.NewVoteStore(tx)
	if err := l.checkUnlocked(ctx, votes, t.election.ID, voterID); err != nil {
		return nil, "", err
	}

	existing, err := votes.FindForOffice(ctx, voterID, t.office.ID, true)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		v := &models.Vote{CandidateID: c.ID, OfficeID: t.office.ID, VoterID: voterID}
		if err := votes.Insert(ctx, v); err != nil {
			return nil, "", err
		}
		return v, Created, nil
	case err != nil:
		return nil, "", err
	case existing.CandidateID == c.ID:
		return nil, "", ErrDuplicateVote
	default:
		if err := votes.Retarget(ctx, existing, c.ID); err != nil {
			return nil, "", err
		}
		return existing, Updated, nil
	}
}

// WithdrawVote удаляет голос избирателя в офисе. Повторный вызов — no-op.
// Возвращает, был ли голос.
func (l *Ledger) WithdrawVote(ctx context.Context, voterID uuid.UUID, slug string, officeID uint) (bool, error) {
	var removed bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := l.resolve(ctx, tx, slug, officeID)
		if err != nil {
			return err
		}
		votes := repo.NewVoteStore(tx)
		if err := l.checkUnlocked(ctx, votes, t.election.ID, voterID); err != nil {
			return err
		}
		n, err := votes.DeleteForOffice(ctx, voterID, t.office.ID)
		removed = n > 0
		return err
	})
	if err != nil {
		return false, err
	}
	if removed {
		l.Metrics.Vote("withdraw")
	}
	return removed, nil
}

func (l *Ledger) CountValidVotes(ctx context.Context, candidateID uint) (int64, error) {
	return repo.NewVoteStore(l.db).CountForCandidate(ctx, candidateID)
}

// Tally — кандидаты офиса (без дисквалифицированных) по убыванию голосов.
func (l *Ledger) Tally(ctx context.Context, officeID uint) ([]repo.TallyRow, error) {
	return repo.NewVoteStore(l.db).Tally(ctx, officeID)
}

// LeadingCandidate: ничья — по имени, затем по id. nil — квалифицированных кандидатов нет.
func (l *Ledger) LeadingCandidate(ctx context.Context, officeID uint) (*models.Candidate, error) {
	rows, err := l.Tally(ctx, officeID)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return repo.NewElectionStore(l.db).GetCandidate(ctx, rows[0].CandidateID)
}

// Choices — текущий выбор избирателя: office_id -> candidate_id.
func (l *Ledger) Choices(ctx context.Context, voterID uuid.UUID, electionID uint) (map[uint]uint, error) {
	return repo.NewVoteStore(l.db).Choices(ctx, voterID, electionID)
}
