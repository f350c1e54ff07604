package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound — запись не найдена.
var ErrNotFound = gorm.ErrRecordNotFound

// forUpdate добавляет SELECT ... FOR UPDATE там, где диалект его понимает.
// sqlite сериализует запись сама (одно соединение).
func forUpdate(d *gorm.DB) *gorm.DB {
	if SupportsRowLocks(d) {
		return d.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return d
}

// SupportsRowLocks — понимает ли диалект SELECT ... FOR UPDATE.
func SupportsRowLocks(d *gorm.DB) bool {
	return d.Dialector.Name() != "sqlite"
}

// IsDuplicate — нарушение уникального индекса.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
