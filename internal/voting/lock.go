package voting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"campusvote/internal/election"
	"campusvote/internal/repo"
)

// Lock фиксирует бюллетень избирателя. Повторный вызов — no-op.
// true — блокировка создана этим вызовом.
func (l *Ledger) Lock(ctx context.Context, slug string, voterID uuid.UUID) (bool, error) {
	var created bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := repo.NewElectionStore(tx).GetBySlug(ctx, slug, false)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: election %q", ErrNotFound, slug)
		}
		if err != nil {
			return err
		}
		if election.ForElection(l.Now(), e).Ended {
			return ErrElectionEnded
		}
		votes := repo.NewVoteStore(tx)
		if err := votes.LockBallot(ctx, e.ID, voterID); err != nil {
			return err
		}
		created, err = votes.Lock(ctx, e.ID, voterID)
		return err
	})
	if err != nil {
		return false, err
	}
	if created {
		l.Metrics.VoteLocked()
	}
	return created, nil
}

func (l *Ledger) IsLocked(ctx context.Context, electionID uint, voterID uuid.UUID) (bool, error) {
	return repo.NewVoteStore(l.db).IsLocked(ctx, electionID, voterID)
}
