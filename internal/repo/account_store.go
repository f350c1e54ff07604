package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"campusvote/internal/models"
)

// ErrAlreadyLinked — у студента уже есть аккаунт.
var ErrAlreadyLinked = errors.New("student already has an account")

func NormalizeEmail(s string) string  { return strings.ToLower(strings.TrimSpace(s)) }
func NormalizeMatric(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

type AccountStore struct{ db *gorm.DB }

func NewAccountStore(db *gorm.DB) *AccountStore { return &AccountStore{db: db} }

func (s *AccountStore) WithTx(tx *gorm.DB) *AccountStore { return &AccountStore{db: tx} }

func (s *AccountStore) Create(ctx context.Context, a *models.UserAccount) error {
	a.Email = NormalizeEmail(a.Email)
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *AccountStore) GetByID(ctx context.Context, id uuid.UUID) (*models.UserAccount, error) {
	var a models.UserAccount
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*models.UserAccount, error) {
	var a models.UserAccount
	if err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AccountStore) SetPassword(ctx context.Context, id uuid.UUID, hash string) error {
	res := s.db.WithContext(ctx).Model(&models.UserAccount{}).Where("id = ?", id).Update("password_hash", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type StudentStore struct{ db *gorm.DB }

func NewStudentStore(db *gorm.DB) *StudentStore { return &StudentStore{db: db} }

func (s *StudentStore) WithTx(tx *gorm.DB) *StudentStore { return &StudentStore{db: tx} }

func (s *StudentStore) Create(ctx context.Context, st *models.Student) error {
	st.Email = NormalizeEmail(st.Email)
	st.MatriculationNumber = NormalizeMatric(st.MatriculationNumber)
	return s.db.WithContext(ctx).Omit("Account").Create(st).Error
}

func (s *StudentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Student, error) {
	var st models.Student
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&st).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// Find — студент с данной парой email / номер зачётки (без учёта регистра).
func (s *StudentStore) Find(ctx context.Context, email, matric string) (*models.Student, error) {
	var st models.Student
	err := s.db.WithContext(ctx).
		Where("email = ? AND matriculation_number = ?", NormalizeEmail(email), NormalizeMatric(matric)).
		First(&st).Error
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *StudentStore) GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.Student, error) {
	var st models.Student
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&st).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// LinkAccount привязывает аккаунт, только если привязки ещё нет.
func (s *StudentStore) LinkAccount(ctx context.Context, studentID, accountID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.Student{}).
		Where("id = ? AND account_id IS NULL", studentID).
		Update("account_id", accountID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyLinked
	}
	return nil
}

func (s *StudentStore) List(ctx context.Context, limit int) ([]models.Student, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var rows []models.Student
	err := s.db.WithContext(ctx).Order("name asc, email asc").Limit(limit).Find(&rows).Error
	return rows, err
}
