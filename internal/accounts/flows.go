package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"campusvote/internal/logs"
	"campusvote/internal/models"
	"campusvote/internal/repo"
	"campusvote/internal/secrets"
	"campusvote/internal/totp"
)

var (
	ErrUnknownStudent    = errors.New("student details could not be verified")
	ErrAlreadyRegistered = errors.New("student already registered")
	ErrUnknownAccount    = errors.New("account could not be identified")
	ErrInvalidOTP        = errors.New("invalid otp")
	ErrSessionExpired    = errors.New("password set token invalid or expired")
	ErrResetTokenInvalid = errors.New("password reset token invalid or expired")
)

const (
	payloadStudentID = "student_id"
	payloadAccountID = "account_id"

	DefaultTokenTTL = 15 * time.Minute
)

// Mailer доставляет OTP пользователю.
type Mailer interface {
	SendOTP(ctx context.Context, code, recipient string) error
}

// Service — шаги регистрации и сброса пароля.
// Каждый шаг выполняется в одной транзакции: ошибка почты откатывает выпуск OTP.
type Service struct {
	db       *gorm.DB
	Secrets  *secrets.Service
	Accounts *repo.AccountStore
	Students *repo.StudentStore
	Mailer   Mailer
	TokenTTL time.Duration
}

func NewService(d *gorm.DB, sec *secrets.Service, mailer Mailer) *Service {
	return &Service{
		db:       d,
		Secrets:  sec,
		Accounts: repo.NewAccountStore(d),
		Students: repo.NewStudentStore(d),
		Mailer:   mailer,
		TokenTTL: DefaultTokenTTL,
	}
}

type txDeps struct {
	secrets  *secrets.Service
	accounts *repo.AccountStore
	students *repo.StudentStore
}

func (s *Service) inTx(ctx context.Context, fn func(d txDeps) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(txDeps{
			secrets:  s.Secrets.WithTx(tx),
			accounts: s.Accounts.WithTx(tx),
			students: s.Students.WithTx(tx),
		})
	})
}

// ---------- регистрация ----------

// VerifyStudentDetails находит студента по паре e-mail/номер и отправляет ему OTP.
func (s *Service) VerifyStudentDetails(ctx context.Context, email, matric string, origin *totp.Origin) (*models.Student, error) {
	st, err := s.findStudent(ctx, email, matric)
	if err != nil {
		return nil, err
	}
	if st.AccountID != nil {
		return nil, ErrAlreadyRegistered
	}

	err = s.inTx(ctx, func(d txDeps) error {
		issued, err := d.secrets.IssueForIdentifier(ctx, st.ID.String(), origin)
		if err != nil {
			return err
		}
		return s.Mailer.SendOTP(ctx, issued.Code, st.Email)
	})
	if err != nil {
		return nil, fmt.Errorf("issue registration otp: %w", err)
	}
	logs.Logger.WithField("student", st.ID).Info("registration otp issued")
	return st, nil
}

// VerifyRegistrationOTP гасит OTP и выдаёт password_set_token.
func (s *Service) VerifyRegistrationOTP(ctx context.Context, email, matric, otp string, origin *totp.Origin) (string, error) {
	st, err := s.findStudent(ctx, email, matric)
	if err != nil {
		return "", err
	}

	var token string
	err = s.inTx(ctx, func(d txDeps) error {
		ok, err := d.secrets.VerifyIdentifier(ctx, st.ID.String(), otp, origin, true)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidOTP
		}
		token, err = d.secrets.MintExchangeToken(ctx, map[string]any{payloadStudentID: st.ID.String()}, s.TokenTTL)
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// CompleteRegistration создаёт аккаунт студента по password_set_token.
// Пароль и часовой пояс уже проверены вызывающим.
func (s *Service) CompleteRegistration(ctx context.Context, token, password, timezone string) (*models.UserAccount, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	var acc *models.UserAccount
	err = s.inTx(ctx, func(d txDeps) error {
		payload, err := d.secrets.RedeemExchangeToken(ctx, token)
		if errors.Is(err, secrets.ErrInvalidToken) {
			return ErrSessionExpired
		}
		if err != nil {
			return err
		}
		id, ok := payloadUUID(payload, payloadStudentID)
		if !ok {
			return ErrSessionExpired
		}
		st, err := d.students.GetByID(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSessionExpired
		}
		if err != nil {
			return err
		}
		if st.AccountID != nil {
			return ErrAlreadyRegistered
		}

		acc = &models.UserAccount{
			Name:         st.Name,
			AccountType:  models.AccountStudent,
			Email:        st.Email,
			PasswordHash: hash,
			Timezone:     timezone,
			IsActive:     true,
		}
		if acc.Timezone == "" {
			acc.Timezone = "UTC"
		}
		if err := d.accounts.Create(ctx, acc); err != nil {
			if repo.IsDuplicate(err) {
				return ErrAlreadyRegistered
			}
			return err
		}
		if err := d.students.LinkAccount(ctx, st.ID, acc.ID); err != nil {
			if errors.Is(err, repo.ErrAlreadyLinked) {
				return ErrAlreadyRegistered
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logs.Logger.WithField("account", acc.ID).Info("registration completed")
	return acc, nil
}

func (s *Service) findStudent(ctx context.Context, email, matric string) (*models.Student, error) {
	st, err := s.Students.Find(ctx, email, matric)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnknownStudent
	}
	return st, err
}

// ---------- сброс пароля ----------

// InitiatePasswordReset выдаёт OTP владельцу аккаунта с этим e-mail.
func (s *Service) InitiatePasswordReset(ctx context.Context, email string, origin *totp.Origin) (*models.UserAccount, error) {
	acc, err := s.findAccount(ctx, email)
	if err != nil {
		return nil, err
	}
	err = s.inTx(ctx, func(d txDeps) error {
		issued, err := d.secrets.IssueForOwner(ctx, acc.ID, origin)
		if err != nil {
			return err
		}
		return s.Mailer.SendOTP(ctx, issued.Code, acc.Email)
	})
	if err != nil {
		return nil, fmt.Errorf("issue password reset otp: %w", err)
	}
	logs.Logger.WithField("account", acc.ID).Info("password reset otp issued")
	return acc, nil
}

// VerifyResetOTP гасит OTP и выдаёт password_reset_token.
func (s *Service) VerifyResetOTP(ctx context.Context, email, otp string, origin *totp.Origin) (string, error) {
	acc, err := s.findAccount(ctx, email)
	if err != nil {
		return "", err
	}
	var token string
	err = s.inTx(ctx, func(d txDeps) error {
		ok, err := d.secrets.VerifyOwner(ctx, acc.ID, otp, origin, true)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidOTP
		}
		token, err = d.secrets.MintExchangeToken(ctx, map[string]any{payloadAccountID: acc.ID.String()}, s.TokenTTL)
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) CompletePasswordReset(ctx context.Context, token, password string) (*models.UserAccount, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	var acc *models.UserAccount
	err = s.inTx(ctx, func(d txDeps) error {
		payload, err := d.secrets.RedeemExchangeToken(ctx, token)
		if errors.Is(err, secrets.ErrInvalidToken) {
			return ErrResetTokenInvalid
		}
		if err != nil {
			return err
		}
		id, ok := payloadUUID(payload, payloadAccountID)
		if !ok {
			return ErrResetTokenInvalid
		}
		if err := d.accounts.SetPassword(ctx, id, hash); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrResetTokenInvalid
			}
			return err
		}
		acc, err = d.accounts.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	logs.Logger.WithField("account", acc.ID).Info("password reset completed")
	return acc, nil
}

func (s *Service) findAccount(ctx context.Context, email string) (*models.UserAccount, error) {
	acc, err := s.Accounts.GetByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnknownAccount
	}
	return acc, err
}

// ---------- аккаунты ----------

// CreateAdmin — администратор для CLI. Пароль проходит ту же политику.
func (s *Service) CreateAdmin(ctx context.Context, name, email, password string) (*models.UserAccount, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(email) == "" {
		return nil, errors.New("name and email are required")
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	acc := &models.UserAccount{
		Name:         strings.TrimSpace(name),
		AccountType:  models.AccountAdmin,
		Email:        email,
		PasswordHash: hash,
		Timezone:     "UTC",
		IsAdmin:      true,
		IsSuperuser:  true,
		IsActive:     true,
	}
	if err := s.Accounts.Create(ctx, acc); err != nil {
		if repo.IsDuplicate(err) {
			return nil, fmt.Errorf("account %s already exists", repo.NormalizeEmail(email))
		}
		return nil, err
	}
	return acc, nil
}

func payloadUUID(payload map[string]any, key string) (uuid.UUID, bool) {
	raw, ok := payload[key].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	return id, err == nil
}
