// Package testutil — изолированная sqlite-БД в памяти и фикстуры для тестов.
package testutil

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"campusvote/internal/db"
	"campusvote/internal/models"
)

// NewDB открывает отдельную in-memory БД на тест и накатывает схему.
// Одно соединение: транзакции сериализуются, внутри транзакции — только tx.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	d, err := db.Open("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(d))

	t.Cleanup(func() {
		if sqlDB, err := d.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return d
}

// Clock — управляемые часы для тестов.
type Clock struct{ T time.Time }

func NewClock(t time.Time) *Clock { return &Clock{T: t} }

func (c *Clock) Now() time.Time { return c.T }

func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

func Ptr[T any](v T) *T { return &v }

var seq atomic.Int64

func next() string { return strconv.FormatInt(seq.Add(1), 10) }

// Voter — активный студенческий аккаунт.
func Voter(t testing.TB, d *gorm.DB) *models.UserAccount {
	t.Helper()
	n := next()
	acc := &models.UserAccount{
		Name:         "Voter " + n,
		AccountType:  models.AccountStudent,
		Email:        "voter" + n + "@example.edu",
		PasswordHash: "x",
		Timezone:     "UTC",
		IsActive:     true,
	}
	require.NoError(t, d.Create(acc).Error)
	return acc
}

// Admin — аккаунт администратора.
func Admin(t testing.TB, d *gorm.DB) *models.UserAccount {
	t.Helper()
	n := next()
	acc := &models.UserAccount{
		Name:         "Admin " + n,
		AccountType:  models.AccountAdmin,
		Email:        "admin" + n + "@example.edu",
		PasswordHash: "x",
		Timezone:     "UTC",
		IsAdmin:      true,
		IsActive:     true,
	}
	require.NoError(t, d.Create(acc).Error)
	return acc
}

// Election создаёт выборы с датами относительно now.
func Election(t testing.TB, d *gorm.DB, name string, start, end time.Time) *models.Election {
	t.Helper()
	e := &models.Election{
		Name:      name,
		Slug:      "election-" + next(),
		StartDate: &start,
		EndDate:   &end,
	}
	require.NoError(t, d.Create(e).Error)
	return e
}

func Office(t testing.TB, d *gorm.DB, e *models.Election, name string) *models.Office {
	t.Helper()
	o := &models.Office{ElectionID: e.ID, Name: name, IsActive: true}
	require.NoError(t, d.Create(o).Error)
	return o
}

func Candidate(t testing.TB, d *gorm.DB, o *models.Office, name string) *models.Candidate {
	t.Helper()
	c := &models.Candidate{OfficeID: o.ID, Name: name}
	require.NoError(t, d.Create(c).Error)
	return c
}

func Student(t testing.TB, d *gorm.DB, email, matric string) *models.Student {
	t.Helper()
	s := &models.Student{
		Name:                "Student " + next(),
		Level:               300,
		Department:          "Chemical Engineering",
		MatriculationNumber: matric,
		Email:               email,
	}
	require.NoError(t, d.Create(s).Error)
	return s
}

// Message — письмо, перехваченное Mailbox.
type Message struct {
	Code      string
	Recipient string
}

// Mailbox запоминает отправленные OTP. Err, если задан, возвращается из SendOTP.
type Mailbox struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func (m *Mailbox) SendOTP(_ context.Context, code, recipient string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, Message{Code: code, Recipient: recipient})
	return nil
}

func (m *Mailbox) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// Last — последнее письмо; пустое, если писем не было.
func (m *Mailbox) Last() Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Message{}
	}
	return m.sent[len(m.sent)-1]
}
