// Package api — JSON API избирателей: аккаунты, выборы, голосование.
package api

import (
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/mux"

	"campusvote/internal/accounts"
	"campusvote/internal/middleware"
	"campusvote/internal/repo"
	"campusvote/internal/sessions"
	"campusvote/internal/voting"
)

type Dependencies struct {
	Flows         *accounts.Service
	Authenticator *accounts.Authenticator
	Sessions      *sessions.Manager
	Elections     *repo.ElectionStore
	Students      *repo.StudentStore
	Ledger        *voting.Ledger
	Matriculation *regexp.Regexp // nil — формат не проверяется
	OTPLength     int
	Now           func() time.Time
}

type Handler struct {
	d Dependencies
}

// Attach регистрирует маршруты. Аккаунт запроса должен быть уже загружен
// (middleware.Auth.Load выше по цепочке).
func Attach(r *mux.Router, d Dependencies) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &Handler{d: d}

	acc := r.PathPrefix("/accounts").Subrouter()
	acc.HandleFunc("/sign-in", h.SignIn).Methods(http.MethodPost)
	acc.HandleFunc("/sign-out", h.SignOut).Methods(http.MethodPost)
	acc.Handle("/me", middleware.RequireAuth(http.HandlerFunc(h.Me))).Methods(http.MethodGet)

	acc.HandleFunc("/registration/detail-verification",
		guarded("Oops! An error occurred while verifying your details.", h.VerifyStudentDetails)).Methods(http.MethodPost)
	acc.HandleFunc("/registration/otp-verification",
		guarded("Oops! An error occurred while verifying OTP.", h.VerifyRegistrationOTP)).Methods(http.MethodPost)
	acc.HandleFunc("/registration/completion",
		guarded("Oops! An error occurred while completing registration.", h.CompleteRegistration)).Methods(http.MethodPost)

	acc.HandleFunc("/password-reset/initiation",
		guarded("Oops! An error occurred while verifying your details.", h.InitiatePasswordReset)).Methods(http.MethodPost)
	acc.HandleFunc("/password-reset/otp-verification",
		guarded("Oops! An error occurred while verifying OTP.", h.VerifyResetOTP)).Methods(http.MethodPost)
	acc.HandleFunc("/password-reset/completion",
		guarded("Oops! An error occurred while completing password reset.", h.CompletePasswordReset)).Methods(http.MethodPost)

	el := r.PathPrefix("/elections").Subrouter()
	el.Use(middleware.RequireAuth)
	el.HandleFunc("", h.ListElections).Methods(http.MethodGet)
	el.HandleFunc("/window", h.Window).Methods(http.MethodGet)
	el.HandleFunc("/{slug}", h.ElectionDetail).Methods(http.MethodGet)

	vote := el.NewRoute().Subrouter()
	vote.Use(middleware.RequireVoter)
	vote.HandleFunc("/{slug}/vote", h.Ballot).Methods(http.MethodGet)
	vote.HandleFunc("/{slug}/vote/{office_id:[0-9]+}",
		guarded("Oops! An error occurred while registering your vote.", h.CastVote)).Methods(http.MethodPost)
	vote.HandleFunc("/{slug}/lock-in-vote",
		guarded("Oops! An error occurred while locking in your votes.", h.LockInVote)).Methods(http.MethodPost)

	return h
}
