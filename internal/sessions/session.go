// Package sessions — серверные сессии входа: SQL (по умолчанию) или Redis.
package sessions

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound — сессии нет или она истекла.
var ErrNotFound = errors.New("session not found")

const tokenBytes = 32

// Session — то, что хранится на сервере. Сам токен не хранится, только его sha256.
type Session struct {
	TokenHash string    `json:"token_hash"`
	AccountID uuid.UUID `json:"account_id"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientIP  string    `json:"client_ip"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}

// Meta — сведения о клиенте на момент входа.
type Meta struct {
	ClientIP  string
	UserAgent string
}

type Store interface {
	Create(ctx context.Context, accountID uuid.UUID, ttl time.Duration, meta Meta) (string, *Session, error)
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken — ключ хранения сессии.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newSession(now time.Time, accountID uuid.UUID, ttl time.Duration, meta Meta) (string, *Session, error) {
	token, err := newToken()
	if err != nil {
		return "", nil, err
	}
	return token, &Session{
		TokenHash: HashToken(token),
		AccountID: accountID,
		ExpiresAt: now.Add(ttl),
		ClientIP:  meta.ClientIP,
		UserAgent: truncate(meta.UserAgent, 255),
		CreatedAt: now,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
