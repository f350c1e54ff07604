package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"campusvote/internal/models"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindInvalidToken  Kind = "invalid_token"
	KindAccessDenied  Kind = "access_denied"
	KindElectionEnded Kind = "election_ended"
	KindBallotLocked  Kind = "ballot_locked"
	KindDuplicateVote Kind = "duplicate_vote"
	KindUnauthorized  Kind = "unauthorized"
	KindInternal      Kind = "internal"
)

// Error — ошибка уровня приложения с HTTP-статусом и сообщением для клиента.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Message    string
	Fields     map[string]any
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, status int, msg string, cause error) *Error {
	return &Error{Kind: kind, HTTPStatus: status, Message: msg, Cause: cause}
}

// As достаёт *Error из цепочки.
func As(err error) (*Error, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return nil, false
	}
	return e, true
}

func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

func Validation(msg string, fields map[string]any) *Error {
	if msg == "" {
		msg = "An error occurred"
	}
	return &Error{Kind: KindValidation, HTTPStatus: http.StatusBadRequest, Message: msg, Fields: fields}
}

// Field — ошибка одного поля.
func Field(name, msg string) *Error {
	return Validation("", map[string]any{name: []string{msg}})
}

// NotFound не раскрывает, что именно не найдено.
func NotFound(cause error) *Error {
	return New(KindNotFound, http.StatusBadRequest, "Invalid payload!", cause)
}

func InvalidToken(msg string, cause error) *Error {
	if msg == "" {
		msg = "Invalid access token"
	}
	return New(KindInvalidToken, http.StatusBadRequest, msg, cause)
}

func AccessDenied(reason string) *Error {
	return New(KindAccessDenied, http.StatusForbidden, reason, nil)
}

func ElectionEnded(cause error) *Error {
	return New(KindElectionEnded, http.StatusForbidden,
		"You are not allowed to perform this action as the election has ended.", cause)
}

func BallotLocked(cause error) *Error {
	return New(KindBallotLocked, http.StatusForbidden,
		"Your votes for this election have been locked in and can no longer be changed.", cause)
}

func DuplicateVote(cause error) *Error {
	return &Error{
		Kind:       KindDuplicateVote,
		HTTPStatus: http.StatusBadRequest,
		Message:    "You have already voted for this candidate.",
		Fields:     map[string]any{"candidate": []string{"You have already voted for this candidate."}},
		Cause:      cause,
	}
}

func Unauthorized() *Error {
	return New(KindUnauthorized, http.StatusUnauthorized, "Authentication credentials were not provided.", nil)
}

func Internal(msg string, cause error) *Error {
	return New(KindInternal, http.StatusInternalServerError, msg, cause)
}

// Write рендерит ошибку в конверт. Не *Error — 500 без подробностей.
func Write(w http.ResponseWriter, err error) {
	e, ok := As(err)
	if !ok {
		models.WriteError(w, http.StatusInternalServerError, "An unexpected error occurred.", nil)
		return
	}
	models.WriteError(w, e.HTTPStatus, e.Message, e.Fields)
}
