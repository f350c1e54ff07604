package admin

import (
	"net/http"
	"regexp"

	"github.com/gorilla/mux"

	"campusvote/internal/middleware"
	"campusvote/internal/repo"
	"campusvote/internal/voting"
)

type Dependencies struct {
	Elections     *repo.ElectionStore
	Students      *repo.StudentStore
	Ledger        *voting.Ledger
	Matriculation *regexp.Regexp
}

// Attach — JSON API администратора под /admin/api. Только для admin/superuser.
func Attach(r *mux.Router, d Dependencies) {
	h := &Handler{d: d}
	sub := r.PathPrefix("/admin/api").Subrouter()
	sub.Use(middleware.RequireAdmin)

	sub.HandleFunc("/config", h.ConfigGet).Methods(http.MethodGet)
	sub.HandleFunc("/config", h.ConfigUpdate).Methods(http.MethodPut)

	sub.HandleFunc("/elections", h.ElectionsList).Methods(http.MethodGet)
	sub.HandleFunc("/elections", h.ElectionCreate).Methods(http.MethodPost)
	sub.HandleFunc("/elections/{id:[0-9]+}", h.ElectionGet).Methods(http.MethodGet)
	sub.HandleFunc("/elections/{id:[0-9]+}", h.ElectionUpdate).Methods(http.MethodPut)
	sub.HandleFunc("/elections/{id:[0-9]+}", h.ElectionDelete).Methods(http.MethodDelete)

	sub.HandleFunc("/elections/{id:[0-9]+}/offices", h.OfficesList).Methods(http.MethodGet)
	sub.HandleFunc("/elections/{id:[0-9]+}/offices", h.OfficeCreate).Methods(http.MethodPost)
	sub.HandleFunc("/offices/{id:[0-9]+}", h.OfficeUpdate).Methods(http.MethodPut)
	sub.HandleFunc("/offices/{id:[0-9]+}", h.OfficeDelete).Methods(http.MethodDelete)

	sub.HandleFunc("/offices/{id:[0-9]+}/candidates", h.CandidateCreate).Methods(http.MethodPost)
	sub.HandleFunc("/candidates/{id:[0-9]+}", h.CandidateUpdate).Methods(http.MethodPut)
	sub.HandleFunc("/candidates/{id:[0-9]+}", h.CandidateDelete).Methods(http.MethodDelete)

	sub.HandleFunc("/students", h.StudentsList).Methods(http.MethodGet)
	sub.HandleFunc("/students", h.StudentCreate).Methods(http.MethodPost)
}
