package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"campusvote/internal/apperr"
	"campusvote/internal/middleware"
	"campusvote/internal/models"
	"campusvote/internal/voting"
)

// строки, означающие "отозвать голос"
var withdrawSentinels = map[string]struct{}{
	"null": {}, "undefined": {}, "nil": {}, "none": {},
}

// parseCandidate: id кандидата либо withdraw=true.
func parseCandidate(raw json.RawMessage) (id uint, withdraw bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false, apperr.Field("candidate", "This field is required.")
	}
	if bytes.Equal(raw, []byte("null")) {
		return 0, true, nil
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, apperr.Field("candidate", "Select a valid candidate.")
		}
		s = strings.TrimSpace(s)
		if _, ok := withdrawSentinels[strings.ToLower(s)]; ok {
			return 0, true, nil
		}
	} else {
		s = string(raw)
	}
	n, perr := strconv.ParseUint(s, 10, 0)
	if perr != nil || n == 0 {
		return 0, false, apperr.Field("candidate", "Select a valid candidate.")
	}
	return uint(n), false, nil
}

func (h *Handler) Ballot(w http.ResponseWriter, r *http.Request) {
	acc := middleware.Account(r)
	e, err := h.openElection(r.Context(), mux.Vars(r)["slug"], true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	choices, err := h.d.Ledger.Choices(r.Context(), acc.ID, e.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	locked, err := h.d.Ledger.IsLocked(r.Context(), e.ID, acc.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteSuccess(w, "Ballot retrieved.", map[string]any{
		"election": h.view(e),
		"choices":  choices,
		"locked":   locked,
	})
}

func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) error {
	acc := middleware.Account(r)
	vars := mux.Vars(r)
	officeID, err := strconv.ParseUint(vars["office_id"], 10, 0)
	if err != nil {
		return apperr.NotFound(err)
	}
	var body struct {
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	candidateID, withdraw, err := parseCandidate(body.Candidate)
	if err != nil {
		return err
	}
	e, err := h.openElection(r.Context(), vars["slug"], false)
	if err != nil {
		return err
	}

	if withdraw {
		removed, err := h.d.Ledger.WithdrawVote(r.Context(), acc.ID, e.Slug, uint(officeID))
		if err != nil {
			return err
		}
		detail := "Your vote has been withdrawn."
		if !removed {
			detail = "You have no vote to withdraw for this office."
		}
		models.WriteSuccess(w, detail, map[string]any{"withdrawn": removed})
		return nil
	}

	vote, outcome, err := h.d.Ledger.CastVote(r.Context(), acc.ID, e.Slug, uint(officeID), candidateID)
	if err != nil {
		return err
	}
	detail := "Your vote has been registered."
	if outcome == voting.Updated {
		detail = "Your vote has been updated."
	}
	models.WriteSuccess(w, detail, map[string]any{"vote": vote, "outcome": outcome})
	return nil
}

func (h *Handler) LockInVote(w http.ResponseWriter, r *http.Request) error {
	acc := middleware.Account(r)
	e, err := h.openElection(r.Context(), mux.Vars(r)["slug"], false)
	if err != nil {
		return err
	}
	created, err := h.d.Ledger.Lock(r.Context(), e.Slug, acc.ID)
	if err != nil {
		return err
	}
	detail := "Your votes have been locked in."
	if !created {
		detail = "Your votes are already locked in."
	}
	models.WriteSuccess(w, detail, map[string]any{"locked": true})
	return nil
}
