package models

import (
	"encoding/json"
	"net/http"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope — единый формат JSON-ответа API.
type Envelope struct {
	Status      string         `json:"status"`           // success|error
	Detail      string         `json:"detail"`           // сообщение для пользователя
	Data        any            `json:"data,omitempty"`   // полезная нагрузка
	Errors      map[string]any `json:"errors,omitempty"` // ошибки по полям
	RedirectURL string         `json:"redirect_url,omitempty"`
}

func WriteSuccess(w http.ResponseWriter, detail string, data any) {
	WriteJSON(w, http.StatusOK, Envelope{Status: StatusSuccess, Detail: detail, Data: data})
}

func WriteError(w http.ResponseWriter, status int, detail string, fields map[string]any) {
	WriteJSON(w, status, Envelope{Status: StatusError, Detail: detail, Errors: fields})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
