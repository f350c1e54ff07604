package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"campusvote/internal/accounts"
	"campusvote/internal/apperr"
	"campusvote/internal/middleware"
	"campusvote/internal/models"
	"campusvote/internal/repo"
	"campusvote/internal/sessions"
)

const (
	signInURL    = "/accounts/sign-in"
	electionsURL = "/elections"
)

func sessionMeta(r *http.Request) sessions.Meta {
	return sessions.Meta{ClientIP: middleware.GetClientIP(r), UserAgent: r.UserAgent()}
}

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	f, err := parseForm(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	creds := accounts.Credentials(f.values)
	if creds.Email() == "" {
		f.fail("email", "This field is required.")
	}
	f.required("password")
	for _, name := range accounts.MatriculationFields {
		if f.get(name) != "" {
			f.matriculation(name, h.d.Matriculation, false)
			break
		}
	}
	if err := f.err(); err != nil {
		writeError(w, r, err)
		return
	}

	acc, err := h.d.Authenticator.Authenticate(r.Context(), creds)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, err := h.d.Sessions.Start(r.Context(), w, acc.ID, sessionMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, models.Envelope{
		Status:      models.StatusSuccess,
		Detail:      "Hello " + acc.Name + "!",
		Data:        map[string]any{"token": token, "account": acc},
		RedirectURL: nextURL(r.URL.Query()),
	})
}

// nextURL — ?next=/path плюс остальные параметры запроса. Только локальные пути.
func nextURL(q url.Values) string {
	next := q.Get("next")
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return electionsURL
	}
	q.Del("next")
	if len(q) > 0 {
		next += "?" + q.Encode()
	}
	return next
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Sessions.End(w, r); err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, models.Envelope{
		Status:      models.StatusSuccess,
		Detail:      "You have been signed out.",
		RedirectURL: signInURL,
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	acc := middleware.Account(r)
	data := map[string]any{"account": acc}
	st, err := h.d.Students.GetByAccount(r.Context(), acc.ID)
	switch {
	case err == nil:
		data["student"] = st
	case !errors.Is(err, repo.ErrNotFound):
		writeError(w, r, err)
		return
	}
	models.WriteSuccess(w, "Account retrieved.", data)
}

// ---------- регистрация ----------

func alreadyRegistered(w http.ResponseWriter) {
	models.WriteJSON(w, http.StatusBadRequest, models.Envelope{
		Status:      models.StatusError,
		Detail:      "You have already registered an account. Proceed to sign in.",
		RedirectURL: signInURL,
	})
}

func (h *Handler) VerifyStudentDetails(w http.ResponseWriter, r *http.Request) error {
	f, err := parseForm(r)
	if err != nil {
		return err
	}
	email := f.email("email")
	matric := f.matriculation("matriculation_number", h.d.Matriculation, true)
	if err := f.err(); err != nil {
		return err
	}

	st, err := h.d.Flows.VerifyStudentDetails(r.Context(), email, matric, middleware.Origin(r))
	switch {
	case errors.Is(err, accounts.ErrUnknownStudent):
		return apperr.New(apperr.KindNotFound, http.StatusBadRequest,
			"Sorry, we could not verify your details. Please try again.", err)
	case errors.Is(err, accounts.ErrAlreadyRegistered):
		alreadyRegistered(w)
		return nil
	case err != nil:
		return err
	}
	models.WriteSuccess(w, "Hi "+st.String()+"! Your details have been verified. Check your email for an OTP to proceed", nil)
	return nil
}

func (h *Handler) VerifyRegistrationOTP(w http.ResponseWriter, r *http.Request) error {
	f, err := parseForm(r)
	if err != nil {
		return err
	}
	otp := f.otp("otp", h.d.OTPLength)
	email := f.email("email")
	matric := f.matriculation("matriculation_number", h.d.Matriculation, true)
	if err := f.err(); err != nil {
		return err
	}

	token, err := h.d.Flows.VerifyRegistrationOTP(r.Context(), email, matric, otp, middleware.Origin(r))
	if err != nil {
		return err
	}
	models.WriteSuccess(w, "Valid OTP!", map[string]any{"password_set_token": token})
	return nil
}

// newPassword проверяет password/confirm_password.
func newPassword(f *form) string {
	f.required("password", "confirm_password")
	password := f.values["password"]
	if password != "" {
		if err := accounts.ValidatePassword(password); err != nil {
			f.fail("password", err.Error())
		}
	}
	if confirm := f.values["confirm_password"]; password != "" && confirm != "" && confirm != password {
		f.fail("confirm_password", "Passwords do not match.")
	}
	return password
}

func (h *Handler) CompleteRegistration(w http.ResponseWriter, r *http.Request) error {
	f, err := parseForm(r)
	if err != nil {
		return err
	}
	password := newPassword(f)
	f.required("password_set_token")
	tz, tzErr := accounts.ValidateTimezone(f.get("timezone"))
	if tzErr != nil {
		f.fail("timezone", tzErr.Error())
	}
	if err := f.err(); err != nil {
		return err
	}

	acc, err := h.d.Flows.CompleteRegistration(r.Context(), f.get("password_set_token"), password, tz)
	if errors.Is(err, accounts.ErrAlreadyRegistered) {
		alreadyRegistered(w)
		return nil
	}
	if err != nil {
		return err
	}
	// сразу входим
	token, err := h.d.Sessions.Start(r.Context(), w, acc.ID, sessionMeta(r))
	if err != nil {
		return err
	}
	models.WriteJSON(w, http.StatusOK, models.Envelope{
		Status:      models.StatusSuccess,
		Detail:      "Registration successful!",
		Data:        map[string]any{"token": token},
		RedirectURL: electionsURL,
	})
	return nil
}

// ---------- сброс пароля ----------

func (h *Handler) InitiatePasswordReset(w http.ResponseWriter, r *http.Request) error {
	f, err := parseForm(r)
	if err != nil {
		return err
	}
	email := f.email("email")
	if err := f.err(); err != nil {
		return err
	}

	_, err = h.d.Flows.InitiatePasswordReset(r.Context(), email, middleware.Origin(r))
	if errors.Is(err, accounts.ErrUnknownAccount) {
		return apperr.New(apperr.KindNotFound, http.StatusBadRequest,
			"Sorry, we could not identify you. Please try again.", err)
	}
	if err != nil {
		return err
	}
	models.WriteSuccess(w, "Check your email for an OTP to proceed", nil)
	return nil
}

func (h *Handler) VerifyResetOTP(w http.ResponseWriter, r *http.Request) error {
	f, err := parseForm(r)
	if err != nil {
		return err
	}
	otp := f.otp("otp", h.d.OTPLength)
	email := f.email("email")
	if err := f.err(); err != nil {
		return err
	}

	token, err := h.d.Flows.VerifyResetOTP(r.Context(), email, otp, middleware.Origin(r))
	if err != nil {
		return err
	}
	models.WriteSuccess(w, "Valid OTP!", map[string]any{"password_reset_token": token})
	return nil
}

func (h *Handler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) error {
	f, err := parseForm(r)
	if err != nil {
		return err
	}
	password := newPassword(f)
	f.required("password_reset_token")
	if err := f.err(); err != nil {
		return err
	}

	acc, err := h.d.Flows.CompletePasswordReset(r.Context(), f.get("password_reset_token"), password)
	if err != nil {
		return err
	}
	token, err := h.d.Sessions.Start(r.Context(), w, acc.ID, sessionMeta(r))
	if err != nil {
		return err
	}
	models.WriteJSON(w, http.StatusOK, models.Envelope{
		Status:      models.StatusSuccess,
		Detail:      "Password reset successful!",
		Data:        map[string]any{"token": token},
		RedirectURL: electionsURL,
	})
	return nil
}
