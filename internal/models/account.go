package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccountType string

const (
	AccountStudent AccountType = "student"
	AccountAdmin   AccountType = "admin"
)

type UserAccount struct {
	ID           uuid.UUID   `gorm:"type:char(36);primaryKey" json:"id"`
	Name         string      `gorm:"size:120;not null" json:"name"`
	AccountType  AccountType `gorm:"size:32;not null;default:student" json:"account_type"`
	Email        string      `gorm:"size:254;uniqueIndex;not null" json:"email"`
	PasswordHash string      `gorm:"size:255;not null" json:"-"`
	Timezone     string      `gorm:"size:64;not null;default:UTC" json:"timezone"`
	IsAdmin      bool        `gorm:"not null;default:false" json:"is_admin"`
	IsSuperuser  bool        `gorm:"not null;default:false" json:"is_superuser"`
	IsActive     bool        `gorm:"not null" json:"is_active"`
	DateJoined   time.Time   `gorm:"not null" json:"date_joined"`
}

func (a *UserAccount) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.DateJoined.IsZero() {
		a.DateJoined = time.Now().UTC()
	}
	return nil
}

// CanVote — администраторы к голосованию не допускаются.
func (a *UserAccount) CanVote() bool {
	return a.IsActive && !a.IsAdmin && !a.IsSuperuser
}

// Student — запись о студенте; аккаунт привязывается после регистрации.
type Student struct {
	ID                  uuid.UUID    `gorm:"type:char(36);primaryKey" json:"id"`
	Name                string       `gorm:"size:120;not null" json:"name"`
	Level               int          `gorm:"not null" json:"level"`
	Department          string       `gorm:"size:120" json:"department"`
	MatriculationNumber string       `gorm:"size:120;uniqueIndex;not null" json:"matriculation_number"`
	Email               string       `gorm:"size:254;uniqueIndex;not null" json:"email"`
	AccountID           *uuid.UUID   `gorm:"type:char(36);uniqueIndex" json:"account_id,omitempty"`
	Account             *UserAccount `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	CreatedAt           time.Time    `json:"added_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

func (s *Student) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (s *Student) String() string { return s.Name + " (" + s.MatriculationNumber + ")" }

// Session — серверная сессия входа (бэкенд "db").
type Session struct {
	TokenHash string    `gorm:"size:64;primaryKey"`
	AccountID uuid.UUID `gorm:"type:char(36);not null;index"`
	ExpiresAt time.Time `gorm:"not null;index"`
	ClientIP  string    `gorm:"size:64"`
	UserAgent string    `gorm:"size:255"`
	CreatedAt time.Time
}
