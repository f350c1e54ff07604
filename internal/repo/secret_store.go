package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"campusvote/internal/models"
	"campusvote/internal/totp"
)

// число попыток создать секрет при гонке с параллельным создателем
const createAttempts = 3

// SecretStore — секреты OTP. Now задаёт CreatedAt: от него отсчитывается срок жизни.
type SecretStore struct {
	db  *gorm.DB
	Now func() time.Time
}

func NewSecretStore(db *gorm.DB) *SecretStore { return &SecretStore{db: db, Now: time.Now} }

// WithTx — тот же store поверх открытой транзакции.
func (s *SecretStore) WithTx(tx *gorm.DB) *SecretStore { return &SecretStore{db: tx, Now: s.Now} }

// WithClock — копия store с другими часами.
func (s *SecretStore) WithClock(now func() time.Time) *SecretStore {
	return &SecretStore{db: s.db, Now: now}
}

func (s *SecretStore) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *SecretStore) DB() *gorm.DB { return s.db }

// CreateForIdentifier удаляет прежний секрет идентификатора и создаёт новый.
func (s *SecretStore) CreateForIdentifier(ctx context.Context, identifier string, length, validity int, ip *string) (*models.OTPSecret, error) {
	sec := &models.OTPSecret{Identifier: &identifier}
	if err := s.create(ctx, "identifier", identifier, sec, length, validity, ip); err != nil {
		return nil, fmt.Errorf("create secret for identifier: %w", err)
	}
	return sec, nil
}

// CreateForOwner — то же, но секрет принадлежит аккаунту.
func (s *SecretStore) CreateForOwner(ctx context.Context, owner uuid.UUID, length, validity int, ip *string) (*models.OTPSecret, error) {
	sec := &models.OTPSecret{OwnerID: &owner}
	if err := s.create(ctx, "owner_id", owner, sec, length, validity, ip); err != nil {
		return nil, fmt.Errorf("create secret for owner: %w", err)
	}
	return sec, nil
}

func (s *SecretStore) create(ctx context.Context, column string, value any, sec *models.OTPSecret, length, validity int, ip *string) error {
	sec.Length = length
	sec.ValidityPeriod = validity
	sec.LastVerifiedCounter = models.NoCounter
	sec.CreatedAt = s.now()
	if ip != nil {
		if norm, ok := totp.NormalizeIP(*ip); ok {
			sec.RequestorIPAddress = &norm
		}
	}

	var err error
	for attempt := 0; attempt < createAttempts; attempt++ {
		if sec.Key, err = totp.NewKey(); err != nil {
			return err
		}
		sec.ID = 0
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where(column+" = ?", value).Delete(&models.OTPSecret{}).Error; err != nil {
				return err
			}
			return tx.Create(sec).Error
		})
		// параллельный создатель успел вставить свой — удаляем и пробуем снова
		if err == nil || !IsDuplicate(err) {
			return err
		}
	}
	return err
}

func (s *SecretStore) FindByIdentifier(ctx context.Context, identifier string, lock bool) (*models.OTPSecret, error) {
	return s.find(ctx, "identifier = ?", identifier, lock)
}

func (s *SecretStore) FindByOwner(ctx context.Context, owner uuid.UUID, lock bool) (*models.OTPSecret, error) {
	return s.find(ctx, "owner_id = ?", owner, lock)
}

func (s *SecretStore) find(ctx context.Context, where string, value any, lock bool) (*models.OTPSecret, error) {
	q := s.db.WithContext(ctx)
	if lock {
		q = forUpdate(q)
	}
	var res models.OTPSecret
	if err := q.Where(where, value).First(&res).Error; err != nil {
		return nil, err
	}
	return &res, nil
}

// AdvanceCounter сдвигает счётчик, только если он строго меньше counter.
// false — проверку уже выиграл кто-то другой.
func (s *SecretStore) AdvanceCounter(ctx context.Context, sec *models.OTPSecret, counter int64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.OTPSecret{}).
		Where("id = ? AND last_verified_counter < ?", sec.ID, counter).
		Update("last_verified_counter", counter)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	sec.LastVerifiedCounter = counter
	return true, nil
}

func (s *SecretStore) SetMetadata(ctx context.Context, sec *models.OTPSecret, meta datatypes.JSON) error {
	if err := s.db.WithContext(ctx).Model(&models.OTPSecret{}).
		Where("id = ?", sec.ID).Update("metadata", meta).Error; err != nil {
		return err
	}
	sec.Metadata = meta
	return nil
}

// Delete сообщает, была ли строка действительно удалена.
func (s *SecretStore) Delete(ctx context.Context, sec *models.OTPSecret) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ?", sec.ID).Delete(&models.OTPSecret{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountForIdentifier — число живых секретов идентификатора.
func (s *SecretStore) CountForIdentifier(ctx context.Context, identifier string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.OTPSecret{}).Where("identifier = ?", identifier).Count(&n).Error
	return n, err
}
