package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"campusvote/internal/models"
)

// DBStore хранит сессии в таблице sessions.
type DBStore struct {
	db  *gorm.DB
	Now func() time.Time
}

func NewDBStore(db *gorm.DB) *DBStore { return &DBStore{db: db, Now: time.Now} }

func (s *DBStore) Create(ctx context.Context, accountID uuid.UUID, ttl time.Duration, meta Meta) (string, *Session, error) {
	token, sess, err := newSession(s.Now(), accountID, ttl, meta)
	if err != nil {
		return "", nil, err
	}
	row := models.Session{
		TokenHash: sess.TokenHash,
		AccountID: sess.AccountID,
		ExpiresAt: sess.ExpiresAt,
		ClientIP:  sess.ClientIP,
		UserAgent: sess.UserAgent,
		CreatedAt: sess.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", nil, err
	}
	return token, sess, nil
}

// Get — истёкшая сессия удаляется при обращении.
func (s *DBStore) Get(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var row models.Session
	err := s.db.WithContext(ctx).Where("token_hash = ?", HashToken(token)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !row.ExpiresAt.After(s.Now()) {
		_ = s.db.WithContext(ctx).Delete(&models.Session{}, "token_hash = ?", row.TokenHash).Error
		return nil, ErrNotFound
	}
	return &Session{
		TokenHash: row.TokenHash,
		AccountID: row.AccountID,
		ExpiresAt: row.ExpiresAt,
		ClientIP:  row.ClientIP,
		UserAgent: row.UserAgent,
		CreatedAt: row.CreatedAt,
	}, nil
}

func (s *DBStore) Delete(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Delete(&models.Session{}, "token_hash = ?", HashToken(token)).Error
}

// Purge удаляет все истёкшие сессии; возвращает их число.
func (s *DBStore) Purge(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.Now()).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}
