package accounts

import (
	"context"
	"errors"
	"strings"

	"campusvote/internal/models"
	"campusvote/internal/repo"
)

// ErrInvalidCredentials — неверная пара логин/пароль (причина не уточняется).
var ErrInvalidCredentials = errors.New("invalid credentials")

// Имена полей, под которыми клиент может прислать e-mail и номер зачётки;
// проверяются по порядку.
var (
	EmailFields         = []string{"email", "username"}
	MatriculationFields = []string{"matriculation_number", "mat_no"}
)

// Credentials — поля формы входа как есть.
type Credentials map[string]string

func (c Credentials) first(fields []string) string {
	for _, f := range fields {
		if v := strings.TrimSpace(c[f]); v != "" {
			return v
		}
	}
	return ""
}

func (c Credentials) Email() string         { return c.first(EmailFields) }
func (c Credentials) Matriculation() string { return c.first(MatriculationFields) }

// Authenticator — вход по e-mail и паролю; с номером зачётки — только студенту
// с этой парой e-mail/номер.
type Authenticator struct {
	Accounts *repo.AccountStore
	Students *repo.StudentStore
}

func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*models.UserAccount, error) {
	email := creds.Email()
	password := creds["password"]
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	acc, err := a.Accounts.GetByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		// выравниваем время ответа с веткой "пароль неверный"
		_ = CheckPassword(dummyHash, password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if matric := creds.Matriculation(); matric != "" {
		st, err := a.Students.GetByAccount(ctx, acc.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(st.MatriculationNumber, repo.NormalizeMatric(matric)) {
			return nil, ErrInvalidCredentials
		}
	}

	if !CheckPassword(acc.PasswordHash, password) || !acc.IsActive {
		return nil, ErrInvalidCredentials
	}
	return acc, nil
}

var dummyHash = func() string {
	h, _ := HashPassword("dummy-password")
	return h
}()
