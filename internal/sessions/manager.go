package sessions

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultCookieName = "campusvote_session"

// Manager связывает Store с cookie. Токен принимается и из Authorization: Bearer.
type Manager struct {
	Store      Store
	CookieName string
	TTL        time.Duration
	Secure     bool
}

func NewManager(store Store, cookieName string, ttl time.Duration, secure bool) *Manager {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Manager{Store: store, CookieName: cookieName, TTL: ttl, Secure: secure}
}

// Start открывает сессию и ставит cookie; токен возвращается для API-клиентов.
func (m *Manager) Start(ctx context.Context, w http.ResponseWriter, accountID uuid.UUID, meta Meta) (string, error) {
	token, sess, err := m.Store.Create(ctx, accountID, m.TTL, meta)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(m.TTL / time.Second),
		HttpOnly: true,
		Secure:   m.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// Load — сессия запроса либо ErrNotFound.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	return m.Store.Get(r.Context(), m.Token(r))
}

// End удаляет сессию и стирает cookie. Без сессии — no-op.
func (m *Manager) End(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     m.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	token := m.Token(r)
	if token == "" {
		return nil
	}
	return m.Store.Delete(r.Context(), token)
}

func (m *Manager) Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if c, err := r.Cookie(m.CookieName); err == nil {
		return c.Value
	}
	return ""
}
