// Package secrets — выдача/проверка OTP и одноразовые exchange-токены.
package secrets

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"campusvote/internal/logs"
	"campusvote/internal/metrics"
	"campusvote/internal/models"
	"campusvote/internal/repo"
	"campusvote/internal/totp"
)

// ErrInvalidToken — токен битый, просрочен или уже использован. Причина не раскрывается.
var ErrInvalidToken = errors.New("invalid access token")

const (
	tokenSep       = "."
	identifierSize = 16 // байт, 32 hex-символа
	minTokenDigits = 6
	maxTokenDigits = 12

	scopeIdentifier = "identifier"
	scopeOwner      = "owner"
)

type Options struct {
	Length         int // цифр в OTP
	ValidityPeriod int // секунд на шаг
	Tolerance      int // шагов в обе стороны
}

type Service struct {
	Store   *repo.SecretStore
	Metrics *metrics.Metrics
	Now     func() time.Time
	opts    Options
}

func New(store *repo.SecretStore, opts Options) *Service {
	return &Service{Store: store, Now: time.Now, opts: opts}
}

// WithTx — копия сервиса, работающая внутри tx.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	cp := *s
	cp.Store = s.Store.WithTx(tx)
	return &cp
}

// store — хранилище на часах сервиса.
func (s *Service) store() *repo.SecretStore { return s.Store.WithClock(s.Now) }

// Issued — созданный секрет и его текущий код.
type Issued struct {
	Secret *models.OTPSecret
	Code   string
}

func originIP(origin *totp.Origin) *string {
	if origin == nil {
		return nil
	}
	ip := origin.IP
	return &ip
}

func (s *Service) IssueForIdentifier(ctx context.Context, identifier string, origin *totp.Origin) (*Issued, error) {
	sec, err := s.store().CreateForIdentifier(ctx, identifier, s.opts.Length, s.opts.ValidityPeriod, originIP(origin))
	if err != nil {
		return nil, err
	}
	s.Metrics.OTPIssued(scopeIdentifier)
	return &Issued{Secret: sec, Code: totp.Token(sec, s.Now())}, nil
}

func (s *Service) IssueForOwner(ctx context.Context, owner uuid.UUID, origin *totp.Origin) (*Issued, error) {
	sec, err := s.store().CreateForOwner(ctx, owner, s.opts.Length, s.opts.ValidityPeriod, originIP(origin))
	if err != nil {
		return nil, err
	}
	s.Metrics.OTPIssued(scopeOwner)
	return &Issued{Secret: sec, Code: totp.Token(sec, s.Now())}, nil
}

// VerifyIdentifier проверяет код секрета идентификатора.
// Неверный код — (false, nil); ошибка — только от хранилища.
func (s *Service) VerifyIdentifier(ctx context.Context, identifier, code string, origin *totp.Origin, deleteOnVerify bool) (bool, error) {
	ok, err := s.verify(ctx, code, origin, deleteOnVerify, func(st *repo.SecretStore) (*models.OTPSecret, error) {
		return st.FindByIdentifier(ctx, identifier, true)
	})
	s.Metrics.OTPVerified(scopeIdentifier, ok)
	return ok, err
}

func (s *Service) VerifyOwner(ctx context.Context, owner uuid.UUID, code string, origin *totp.Origin, deleteOnVerify bool) (bool, error) {
	ok, err := s.verify(ctx, code, origin, deleteOnVerify, func(st *repo.SecretStore) (*models.OTPSecret, error) {
		return st.FindByOwner(ctx, owner, true)
	})
	s.Metrics.OTPVerified(scopeOwner, ok)
	return ok, err
}

func (s *Service) verify(ctx context.Context, code string, origin *totp.Origin, deleteOnVerify bool,
	find func(*repo.SecretStore) (*models.OTPSecret, error)) (bool, error) {
	var ok bool
	err := s.Store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		_, ok, err = s.WithTx(tx).verifyTx(ctx, code, origin, deleteOnVerify, find)
		return err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// verifyTx — проверка в уже открытой транзакции; s.Store привязан к ней.
func (s *Service) verifyTx(ctx context.Context, code string, origin *totp.Origin, deleteOnVerify bool,
	find func(*repo.SecretStore) (*models.OTPSecret, error)) (*models.OTPSecret, bool, error) {
	sec, err := find(s.Store)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	counter, ok := totp.Verify(sec, code, s.Now(), origin, s.opts.Tolerance)
	if !ok {
		return sec, false, nil
	}
	advanced, err := s.Store.AdvanceCounter(ctx, sec, counter)
	if err != nil || !advanced {
		return sec, false, err
	}
	if deleteOnVerify {
		removed, err := s.Store.Delete(ctx, sec)
		if err != nil || !removed {
			return sec, false, err
		}
	}
	return sec, true, nil
}

// MintExchangeToken создаёт одноразовый токен "identifier.code.key",
// несущий payload и живущий expiresAfter.
func (s *Service) MintExchangeToken(ctx context.Context, payload map[string]any, expiresAfter time.Duration) (string, error) {
	step := int(expiresAfter / time.Second)
	if step <= 0 {
		return "", fmt.Errorf("exchange token: non-positive lifetime %s", expiresAfter)
	}
	meta, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("exchange token payload: %w", err)
	}
	identifier, err := randomHex(identifierSize)
	if err != nil {
		return "", err
	}
	digits, err := randomDigits()
	if err != nil {
		return "", err
	}

	var token string
	err = s.Store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st := s.store().WithTx(tx)
		sec, err := st.CreateForIdentifier(ctx, identifier, digits, step, nil)
		if err != nil {
			return err
		}
		if err := st.SetMetadata(ctx, sec, datatypes.JSON(meta)); err != nil {
			return err
		}
		token = strings.Join([]string{identifier, totp.Token(sec, s.Now()), sec.Key}, tokenSep)
		return nil
	})
	s.Metrics.ExchangeToken("mint", err == nil)
	if err != nil {
		return "", fmt.Errorf("mint exchange token: %w", err)
	}
	return token, nil
}

// RedeemExchangeToken возвращает payload и удаляет секрет. Второй вызов — ErrInvalidToken.
func (s *Service) RedeemExchangeToken(ctx context.Context, token string) (map[string]any, error) {
	var payload map[string]any
	err := s.Store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payload, err = s.WithTx(tx).redeem(ctx, token)
		return err
	})
	s.Metrics.ExchangeToken("redeem", err == nil)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *Service) redeem(ctx context.Context, token string) (map[string]any, error) {
	parts := strings.Split(token, tokenSep)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, ErrInvalidToken
	}
	identifier, code, key := parts[0], parts[1], parts[2]

	// ключ сверяется до проверки кода: чужой ключ не сдвигает счётчик
	sec, ok, err := s.verifyTx(ctx, code, nil, false, func(st *repo.SecretStore) (*models.OTPSecret, error) {
		sec, err := st.FindByIdentifier(ctx, identifier, true)
		if err != nil {
			return nil, err
		}
		if subtle.ConstantTimeCompare([]byte(sec.Key), []byte(key)) != 1 {
			return nil, repo.ErrNotFound
		}
		return sec, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidToken
	}

	payload := map[string]any{}
	if len(sec.Metadata) > 0 {
		if err := json.Unmarshal(sec.Metadata, &payload); err != nil {
			return nil, fmt.Errorf("exchange token payload: %w", err)
		}
	}
	removed, err := s.Store.Delete(ctx, sec)
	if err != nil {
		return nil, err
	}
	// параллельный погаситель успел первым
	if !removed {
		return nil, ErrInvalidToken
	}
	logs.Logger.Debugf("exchange token redeemed: %s", sec.Scope())
	return payload, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("random identifier: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// случайная длина кода в [minTokenDigits, maxTokenDigits]
func randomDigits() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxTokenDigits-minTokenDigits+1))
	if err != nil {
		return 0, fmt.Errorf("random digits: %w", err)
	}
	return minTokenDigits + int(n.Int64()), nil
}
