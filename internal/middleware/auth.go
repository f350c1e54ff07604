package middleware

import (
	"context"
	"errors"
	"net/http"

	"campusvote/internal/apperr"
	"campusvote/internal/logs"
	"campusvote/internal/models"
	"campusvote/internal/repo"
	"campusvote/internal/sessions"
)

// Auth подгружает аккаунт по сессии запроса.
type Auth struct {
	Sessions *sessions.Manager
	Accounts *repo.AccountStore
}

// Load кладёт аккаунт и сессию в контекст, если сессия валидна.
// Анонимный запрос проходит дальше без аккаунта.
func (a *Auth) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := a.Sessions.Load(r)
		if err != nil {
			if !errors.Is(err, sessions.ErrNotFound) {
				logs.Logger.WithError(err).WithField("reqid", GetRequestID(r)).Warn("session lookup failed")
			}
			next.ServeHTTP(w, r)
			return
		}
		acc, err := a.Accounts.GetByID(r.Context(), sess.AccountID)
		if err != nil || !acc.IsActive {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), accountKey, acc)
		ctx = context.WithValue(ctx, sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func WithAccount(ctx context.Context, acc *models.UserAccount) context.Context {
	return context.WithValue(ctx, accountKey, acc)
}

func Account(r *http.Request) *models.UserAccount {
	acc, _ := r.Context().Value(accountKey).(*models.UserAccount)
	return acc
}

func Session(r *http.Request) *sessions.Session {
	s, _ := r.Context().Value(sessionKey).(*sessions.Session)
	return s
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Account(r) == nil {
			apperr.Write(w, apperr.Unauthorized())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireVoter — только аккаунты, которым разрешено голосовать.
func RequireVoter(next http.Handler) http.Handler {
	return RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Account(r).CanVote() {
			apperr.Write(w, apperr.AccessDenied("Only students can vote."))
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func RequireAdmin(next http.Handler) http.Handler {
	return RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc := Account(r)
		if !acc.IsAdmin && !acc.IsSuperuser {
			apperr.Write(w, apperr.AccessDenied("You do not have permission to perform this action."))
			return
		}
		next.ServeHTTP(w, r)
	}))
}
