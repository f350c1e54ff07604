package middleware

import (
	"net/http"
	"runtime/debug"

	"campusvote/internal/logs"
	"campusvote/internal/models"
)

// Recoverer перехватывает панику в обработчике, пишет лог со стеком
// и отвечает конвертом с status "error".
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				reqid := GetRequestID(r)
				logs.Logger.Errorf("panic: %v reqid=%s uri=%s method=%s\nstack:\n%s",
					rec, reqid, r.RequestURI, r.Method, string(debug.Stack()))
				models.WriteJSON(w, http.StatusInternalServerError, models.Envelope{
					Status: models.StatusError,
					Detail: "Oops! An error occurred. Please try again.",
					Errors: map[string]any{"reqid": reqid},
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
