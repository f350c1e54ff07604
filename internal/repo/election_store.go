package repo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"campusvote/internal/models"
)

const slugAttempts = 5

// ErrSlugExhausted — все попытки подобрать уникальный slug заняты.
var ErrSlugExhausted = errors.New("could not generate unique election slug")

type ElectionStore struct{ db *gorm.DB }

func NewElectionStore(db *gorm.DB) *ElectionStore { return &ElectionStore{db: db} }

func (s *ElectionStore) WithTx(tx *gorm.DB) *ElectionStore { return &ElectionStore{db: tx} }

// ---------- scopes ----------

func Ongoing(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(d *gorm.DB) *gorm.DB {
		return d.Where("start_date <= ? AND end_date >= ?", now, now)
	}
}

func Upcoming(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(d *gorm.DB) *gorm.DB { return d.Where("start_date > ?", now) }
}

func Ended(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(d *gorm.DB) *gorm.DB { return d.Where("end_date < ?", now) }
}

func withBallot(d *gorm.DB) *gorm.DB {
	return d.Preload("Offices", func(q *gorm.DB) *gorm.DB { return q.Order("name asc, id asc") }).
		Preload("Offices.Candidates", func(q *gorm.DB) *gorm.DB { return q.Order("name asc, id asc") })
}

// ---------- elections ----------

// Slugify: "Senate Election 2024" -> "senate-election-2024".
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > 280 {
		slug = strings.TrimSuffix(slug[:280], "-")
	}
	if slug == "" {
		slug = "election"
	}
	return slug
}

func newSlug(name string) (string, error) {
	var raw [3]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return Slugify(name) + "-" + hex.EncodeToString(raw[:]), nil
}

// Create присваивает slug; при коллизии пробует ещё раз.
func (s *ElectionStore) Create(ctx context.Context, e *models.Election) error {
	for attempt := 0; attempt < slugAttempts; attempt++ {
		slug, err := newSlug(e.Name)
		if err != nil {
			return err
		}
		e.Slug = slug
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Omit(clause.Associations).Create(e).Error
		})
		if err == nil {
			return nil
		}
		if !IsDuplicate(err) {
			return fmt.Errorf("create election: %w", err)
		}
		e.ID = 0
	}
	return ErrSlugExhausted
}

// Update — slug не меняется никогда.
func (s *ElectionStore) Update(ctx context.Context, e *models.Election) error {
	return s.db.WithContext(ctx).Model(&models.Election{ID: e.ID}).
		Select("Name", "Description", "StartDate", "EndDate").
		Updates(e).Error
}

func (s *ElectionStore) GetBySlug(ctx context.Context, slug string, ballot bool) (*models.Election, error) {
	q := s.db.WithContext(ctx)
	if ballot {
		q = q.Scopes(withBallot)
	}
	var e models.Election
	if err := q.Where("slug = ?", slug).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *ElectionStore) GetByID(ctx context.Context, id uint) (*models.Election, error) {
	var e models.Election
	if err := s.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// List — status: all|ongoing|upcoming|ended.
func (s *ElectionStore) List(ctx context.Context, status string, now time.Time, ballot bool) ([]models.Election, error) {
	q := s.db.WithContext(ctx).Order("start_date desc, id desc")
	switch status {
	case "ongoing":
		q = q.Scopes(Ongoing(now))
	case "upcoming":
		q = q.Scopes(Upcoming(now))
	case "ended":
		q = q.Scopes(Ended(now))
	}
	if ballot {
		q = q.Scopes(withBallot)
	}
	var rows []models.Election
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *ElectionStore) HasOngoing(ctx context.Context, now time.Time) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Election{}).Scopes(Ongoing(now)).Count(&n).Error
	return n > 0, err
}

// Delete удаляет выборы вместе с офисами, кандидатами, голосами и блокировками.
func (s *ElectionStore) Delete(ctx context.Context, id uint) (bool, error) {
	var removed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var officeIDs []uint
		if err := tx.Model(&models.Office{}).Where("election_id = ?", id).Pluck("id", &officeIDs).Error; err != nil {
			return err
		}
		if err := deleteOffices(tx, officeIDs); err != nil {
			return err
		}
		if err := tx.Where("election_id = ?", id).Delete(&models.VoteLock{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Election{}, id)
		removed = res.RowsAffected > 0
		return res.Error
	})
	return removed, err
}

func deleteOffices(tx *gorm.DB, officeIDs []uint) error {
	if len(officeIDs) == 0 {
		return nil
	}
	if err := tx.Where("office_id IN ?", officeIDs).Delete(&models.Vote{}).Error; err != nil {
		return err
	}
	if err := tx.Where("office_id IN ?", officeIDs).Delete(&models.Candidate{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", officeIDs).Delete(&models.Office{}).Error
}

// ---------- election config ----------

// GetOrCreateConfig — идемпотентно: строка ID = 1 создаётся при первом обращении.
func (s *ElectionStore) GetOrCreateConfig(ctx context.Context) (*models.ElectionConfig, error) {
	var cfg models.ElectionConfig
	err := s.db.WithContext(ctx).First(&cfg, models.ElectionConfigID).Error
	if err == nil {
		return &cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	cfg = models.ElectionConfig{ID: models.ElectionConfigID}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&cfg).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).First(&cfg, models.ElectionConfigID).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *ElectionStore) UpdateConfig(ctx context.Context, starts, ends *time.Time) (*models.ElectionConfig, error) {
	cfg, err := s.GetOrCreateConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg.ElectionStarts, cfg.ElectionEnds = starts, ends
	if err := s.db.WithContext(ctx).Model(cfg).
		Select("ElectionStarts", "ElectionEnds").Updates(cfg).Error; err != nil {
		return nil, err
	}
	return cfg, nil
}

// ---------- offices ----------

func (s *ElectionStore) CreateOffice(ctx context.Context, o *models.Office) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(o).Error
}

func (s *ElectionStore) UpdateOffice(ctx context.Context, o *models.Office) error {
	return s.db.WithContext(ctx).Model(&models.Office{ID: o.ID}).
		Select("Name", "Description", "IsActive").Updates(o).Error
}

func (s *ElectionStore) GetOffice(ctx context.Context, id uint) (*models.Office, error) {
	var o models.Office
	if err := s.db.WithContext(ctx).First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *ElectionStore) ListOffices(ctx context.Context, electionID uint) ([]models.Office, error) {
	var rows []models.Office
	err := s.db.WithContext(ctx).
		Preload("Candidates", func(q *gorm.DB) *gorm.DB { return q.Order("name asc, id asc") }).
		Where("election_id = ?", electionID).Order("name asc, id asc").Find(&rows).Error
	return rows, err
}

func (s *ElectionStore) DeleteOffice(ctx context.Context, id uint) (bool, error) {
	var removed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Office{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		removed = n > 0
		return deleteOffices(tx, []uint{id})
	})
	return removed, err
}

// ---------- candidates ----------

func (s *ElectionStore) CreateCandidate(ctx context.Context, c *models.Candidate) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(c).Error
}

// UpdateCandidate — кандидат не переезжает в другой офис.
func (s *ElectionStore) UpdateCandidate(ctx context.Context, c *models.Candidate) error {
	return s.db.WithContext(ctx).Model(&models.Candidate{ID: c.ID}).
		Select("Name", "Manifesto", "Disqualified").Updates(c).Error
}

func (s *ElectionStore) GetCandidate(ctx context.Context, id uint) (*models.Candidate, error) {
	var c models.Candidate
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *ElectionStore) DeleteCandidate(ctx context.Context, id uint) (bool, error) {
	var removed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("candidate_id = ?", id).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Candidate{}, id)
		removed = res.RowsAffected > 0
		return res.Error
	})
	return removed, err
}
