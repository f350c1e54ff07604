package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"campusvote/internal/apperr"
	"campusvote/internal/election"
	"campusvote/internal/middleware"
	"campusvote/internal/models"
	"campusvote/internal/repo"
	"campusvote/internal/voting"
)

type electionView struct {
	*models.Election
	State   string          `json:"state"`
	Window  election.Window `json:"window"`
	Results []officeResult  `json:"results,omitempty"`
}

type officeResult struct {
	OfficeID uint              `json:"office_id"`
	Office   string            `json:"office"`
	Tally    []repo.TallyRow   `json:"tally"`
	Leading  *models.Candidate `json:"leading_candidate"`
}

func (h *Handler) view(e *models.Election) electionView {
	w := election.ForElection(h.d.Now(), e)
	return electionView{Election: e, State: w.State(), Window: w}
}

func (h *Handler) ListElections(w http.ResponseWriter, r *http.Request) {
	status, err := election.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, apperr.Field("status", "Select one of: all, ongoing, upcoming, ended."))
		return
	}
	rows, err := h.d.Elections.List(r.Context(), string(status), h.d.Now(), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]electionView, 0, len(rows))
	for i := range rows {
		out = append(out, h.view(&rows[i]))
	}
	models.WriteSuccess(w, "Elections retrieved.", map[string]any{"elections": out, "status": status})
}

// ElectionDetail — бюллетень выборов; итоги только после окончания или для администратора.
func (h *Handler) ElectionDetail(w http.ResponseWriter, r *http.Request) {
	e, err := h.d.Elections.GetBySlug(r.Context(), mux.Vars(r)["slug"], true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v := h.view(e)
	acc := middleware.Account(r)
	if v.Window.Ended || acc.IsAdmin || acc.IsSuperuser {
		if v.Results, err = h.results(r.Context(), e); err != nil {
			writeError(w, r, err)
			return
		}
	}
	models.WriteSuccess(w, "Election retrieved.", map[string]any{"election": v})
}

func (h *Handler) results(ctx context.Context, e *models.Election) ([]officeResult, error) {
	out := make([]officeResult, 0, len(e.Offices))
	for _, o := range e.Offices {
		tally, err := h.d.Ledger.Tally(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		leading, err := h.d.Ledger.LeadingCandidate(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, officeResult{OfficeID: o.ID, Office: o.Name, Tally: tally, Leading: leading})
	}
	return out, nil
}

// Window — глобальное окно из конфига и идущие сейчас выборы.
func (h *Handler) Window(w http.ResponseWriter, r *http.Request) {
	now := h.d.Now()
	cfg, err := h.d.Elections.GetOrCreateConfig(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := h.d.Elections.List(r.Context(), string(election.StatusOngoing), now, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ongoing := make([]electionView, 0, len(rows))
	for i := range rows {
		ongoing = append(ongoing, h.view(&rows[i]))
	}
	win := election.ForConfig(now, cfg)
	models.WriteSuccess(w, "Election window retrieved.", map[string]any{
		"config":  cfg,
		"window":  win,
		"state":   win.State(),
		"ongoing": ongoing,
	})
}

// openElection — выборы из пути, в которых сейчас можно голосовать.
func (h *Handler) openElection(ctx context.Context, slug string, ballot bool) (*models.Election, error) {
	e, err := h.d.Elections.GetBySlug(ctx, slug, ballot)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, apperr.NotFound(err)
	}
	if err != nil {
		return nil, err
	}
	win := election.ForElection(h.d.Now(), e)
	switch {
	case win.Ended:
		return nil, apperr.ElectionEnded(voting.ErrElectionEnded)
	case !win.Ongoing:
		return nil, apperr.AccessDenied("You are not allowed to perform this action as the election has not started.")
	}
	return e, nil
}
