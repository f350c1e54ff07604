package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"campusvote/internal/models"
)

type VoteStore struct{ db *gorm.DB }

func NewVoteStore(db *gorm.DB) *VoteStore { return &VoteStore{db: db} }

func (s *VoteStore) WithTx(tx *gorm.DB) *VoteStore { return &VoteStore{db: tx} }

func (s *VoteStore) DB() *gorm.DB { return s.db }

// FindForOffice — голос избирателя в офисе (за любого кандидата).
func (s *VoteStore) FindForOffice(ctx context.Context, voterID uuid.UUID, officeID uint, lock bool) (*models.Vote, error) {
	q := s.db.WithContext(ctx)
	if lock {
		q = forUpdate(q)
	}
	var v models.Vote
	if err := q.Where("voter_id = ? AND office_id = ?", voterID, officeID).First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *VoteStore) Insert(ctx context.Context, v *models.Vote) error {
	return s.db.WithContext(ctx).Create(v).Error
}

// Retarget переносит голос на другого кандидата того же офиса; id и created_at сохраняются.
func (s *VoteStore) Retarget(ctx context.Context, v *models.Vote, candidateID uint) error {
	if err := s.db.WithContext(ctx).Model(v).Update("candidate_id", candidateID).Error; err != nil {
		return err
	}
	v.CandidateID = candidateID
	return nil
}

// DeleteForOffice возвращает число удалённых строк.
func (s *VoteStore) DeleteForOffice(ctx context.Context, voterID uuid.UUID, officeID uint) (int64, error) {
	res := s.db.WithContext(ctx).Where("voter_id = ? AND office_id = ?", voterID, officeID).Delete(&models.Vote{})
	return res.RowsAffected, res.Error
}

func (s *VoteStore) CountForCandidate(ctx context.Context, candidateID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Vote{}).Where("candidate_id = ?", candidateID).Count(&n).Error
	return n, err
}

func (s *VoteStore) CountForOffice(ctx context.Context, officeID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Vote{}).Where("office_id = ?", officeID).Count(&n).Error
	return n, err
}

// TallyRow — кандидат и число голосов за него.
type TallyRow struct {
	CandidateID uint   `json:"candidate_id"`
	Name        string `json:"name"`
	Votes       int64  `gorm:"column:vote_count" json:"votes"`
}

// Tally — не дисквалифицированные кандидаты офиса; больше голосов — выше,
// при равенстве по имени, затем по id.
func (s *VoteStore) Tally(ctx context.Context, officeID uint) ([]TallyRow, error) {
	var rows []TallyRow
	err := s.db.WithContext(ctx).
		Table("candidates AS c").
		Select("c.id AS candidate_id, c.name AS name, COUNT(v.id) AS vote_count").
		Joins("LEFT JOIN votes AS v ON v.candidate_id = c.id").
		Where("c.office_id = ? AND c.disqualified = ?", officeID, false).
		Group("c.id, c.name").
		Order("vote_count DESC, c.name ASC, c.id ASC").
		Scan(&rows).Error
	return rows, err
}

// Choices — выбор избирателя по офисам выборов: office_id -> candidate_id.
func (s *VoteStore) Choices(ctx context.Context, voterID uuid.UUID, electionID uint) (map[uint]uint, error) {
	var rows []models.Vote
	err := s.db.WithContext(ctx).
		Joins("JOIN offices ON offices.id = votes.office_id").
		Where("votes.voter_id = ? AND offices.election_id = ?", voterID, electionID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]uint, len(rows))
	for _, v := range rows {
		out[v.OfficeID] = v.CandidateID
	}
	return out, nil
}

// ---------- vote locks ----------

// LockBallot сериализует изменения бюллетеня избирателя: cast, withdraw и Lock
// берут FOR UPDATE одну и ту же строку. Это строка аккаунта избирателя, а если
// аккаунта нет — строка выборов.
func (s *VoteStore) LockBallot(ctx context.Context, electionID uint, voterID uuid.UUID) error {
	var ids []string
	if err := forUpdate(s.db.WithContext(ctx).Model(&models.UserAccount{})).
		Where("id = ?", voterID).Pluck("id", &ids).Error; err != nil {
		return err
	}
	if len(ids) > 0 {
		return nil
	}
	var electionIDs []uint
	return forUpdate(s.db.WithContext(ctx).Model(&models.Election{})).
		Where("id = ?", electionID).Pluck("id", &electionIDs).Error
}

// Lock — create-if-absent. true — блокировка создана этим вызовом.
func (s *VoteStore) Lock(ctx context.Context, electionID uint, voterID uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.VoteLock{ElectionID: electionID, VoterID: voterID})
	return res.RowsAffected > 0, res.Error
}

func (s *VoteStore) IsLocked(ctx context.Context, electionID uint, voterID uuid.UUID) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.VoteLock{}).
		Where("election_id = ? AND voter_id = ?", electionID, voterID).Count(&n).Error
	return n > 0, err
}

// IsLockedForUpdate — IsLocked блокирующим чтением: видит последнюю
// зафиксированную блокировку даже при снимке REPEATABLE READ.
func (s *VoteStore) IsLockedForUpdate(ctx context.Context, electionID uint, voterID uuid.UUID) (bool, error) {
	var rows []models.VoteLock
	err := forUpdate(s.db.WithContext(ctx)).
		Where("election_id = ? AND voter_id = ?", electionID, voterID).
		Limit(1).Find(&rows).Error
	return len(rows) > 0, err
}

func (s *VoteStore) CountLocks(ctx context.Context, electionID uint, voterID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.VoteLock{}).
		Where("election_id = ? AND voter_id = ?", electionID, voterID).Count(&n).Error
	return n, err
}
