package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// NoCounter — значение LastVerifiedCounter до первой успешной проверки.
const NoCounter int64 = -1

// OTPSecret — короткоживущий секрет TOTP.
// Ровно одно из полей Identifier / OwnerID заполнено.
type OTPSecret struct {
	ID                  uint       `gorm:"primaryKey"`
	Identifier          *string    `gorm:"size:255;uniqueIndex"`
	OwnerID             *uuid.UUID `gorm:"type:char(36);uniqueIndex"`
	Key                 string     `gorm:"size:64;uniqueIndex;not null" json:"-"` // наружу только внутри exchange-токена
	LastVerifiedCounter int64      `gorm:"not null;default:-1"`
	ValidityPeriod      int        `gorm:"not null"`
	Length              int        `gorm:"not null"`
	RequestorIPAddress  *string    `gorm:"size:64"`
	Metadata            datatypes.JSON
	CreatedAt           time.Time `gorm:"not null"`
}

func (OTPSecret) TableName() string { return "otp_secrets" }

// Scope — человекочитаемый ключ секрета (для логов).
func (s *OTPSecret) Scope() string {
	switch {
	case s.Identifier != nil:
		return "identifier:" + *s.Identifier
	case s.OwnerID != nil:
		return "owner:" + s.OwnerID.String()
	default:
		return "unscoped"
	}
}
