package api

import (
	"errors"
	"fmt"
	"net/http"

	"campusvote/internal/accounts"
	"campusvote/internal/apperr"
	"campusvote/internal/logs"
	"campusvote/internal/middleware"
	"campusvote/internal/models"
	"campusvote/internal/repo"
	"campusvote/internal/secrets"
	"campusvote/internal/voting"
)

// toAppError сопоставляет доменные ошибки ответам API. nil — ошибка неожиданная.
func toAppError(err error) *apperr.Error {
	if e, ok := apperr.As(err); ok {
		return e
	}
	switch {
	case errors.Is(err, accounts.ErrInvalidCredentials):
		return apperr.New(apperr.KindValidation, http.StatusBadRequest, "Invalid credentials!", err)
	case errors.Is(err, accounts.ErrUnknownStudent),
		errors.Is(err, accounts.ErrUnknownAccount),
		errors.Is(err, voting.ErrNotFound),
		errors.Is(err, repo.ErrNotFound):
		return apperr.NotFound(err)
	case errors.Is(err, accounts.ErrInvalidOTP):
		return apperr.New(apperr.KindValidation, http.StatusBadRequest, "Invalid OTP.", err)
	case errors.Is(err, accounts.ErrSessionExpired):
		return apperr.InvalidToken("Session expired. Please refresh and try again.", err)
	case errors.Is(err, accounts.ErrResetTokenInvalid):
		return apperr.InvalidToken("The reset token is invalid or expired.", err)
	case errors.Is(err, secrets.ErrInvalidToken):
		return apperr.InvalidToken("", err)
	case errors.Is(err, voting.ErrElectionEnded):
		return apperr.ElectionEnded(err)
	case errors.Is(err, voting.ErrBallotLocked):
		return apperr.BallotLocked(err)
	case errors.Is(err, voting.ErrDuplicateVote):
		return apperr.DuplicateVote(err)
	case errors.Is(err, voting.ErrOfficeInactive):
		e := apperr.AccessDenied("Voting for this office is closed.")
		e.Cause = err
		return e
	case errors.Is(err, voting.ErrCandidateDisqualified):
		e := apperr.Field("candidate", "This candidate has been disqualified.")
		e.Cause = err
		return e
	}
	return nil
}

// writeError — ответ для ошибки вне защищённых потоков.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if e := toAppError(err); e != nil {
		apperr.Write(w, e)
		return
	}
	logs.Logger.WithError(err).WithField("reqid", middleware.GetRequestID(r)).Error("request failed")
	apperr.Write(w, err)
}

// guarded оборачивает поток: известные ошибки — свой статус, неожиданные
// (и паника) — 200 с status "error" и сообщением oops.
func guarded(oops string, fn func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				reportOops(w, r, oops, fmt.Errorf("panic: %v", rec))
			}
		}()
		err := fn(w, r)
		if err == nil {
			return
		}
		if e := toAppError(err); e != nil && e.Kind != apperr.KindInternal {
			apperr.Write(w, e)
			return
		}
		reportOops(w, r, oops, err)
	}
}

func reportOops(w http.ResponseWriter, r *http.Request, oops string, err error) {
	logs.Logger.WithError(err).WithField("reqid", middleware.GetRequestID(r)).Error(oops)
	models.WriteJSON(w, http.StatusOK, models.Envelope{Status: models.StatusError, Detail: oops})
}
