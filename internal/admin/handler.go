package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"campusvote/internal/apperr"
	"campusvote/internal/logs"
	"campusvote/internal/middleware"
	"campusvote/internal/models"
	"campusvote/internal/repo"
)

type Handler struct {
	d Dependencies
}

// ---------- utils ----------

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Field("body", "Invalid JSON payload.")
	}
	return nil
}

func idVar(r *http.Request) uint {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 0)
	return uint(id)
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		err = apperr.NotFound(err)
	case repo.IsDuplicate(err):
		err = apperr.Validation("A record with these details already exists.", nil)
	}
	if _, ok := apperr.As(err); !ok {
		logs.Logger.WithError(err).WithField("reqid", middleware.GetRequestID(r)).Error("admin request failed")
	}
	apperr.Write(w, err)
}

func notFoundUnless(found bool) error {
	if found {
		return nil
	}
	return apperr.NotFound(repo.ErrNotFound)
}

type fieldErrors map[string]any

func (f fieldErrors) add(name, msg string) { f[name] = []string{msg} }

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return apperr.Validation("", f)
}

// ---------- election config ----------

type configInput struct {
	ElectionStarts *time.Time `json:"election_starts"`
	ElectionEnds   *time.Time `json:"election_ends"`
}

func (h *Handler) ConfigGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.d.Elections.GetOrCreateConfig(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	models.WriteSuccess(w, "Election config retrieved.", cfg)
}

func (h *Handler) ConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var in configInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	errs := fieldErrors{}
	checkDates(errs, in.ElectionStarts, in.ElectionEnds, "election_ends")
	if err := errs.err(); err != nil {
		fail(w, r, err)
		return
	}
	cfg, err := h.d.Elections.UpdateConfig(r.Context(), in.ElectionStarts, in.ElectionEnds)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.WriteSuccess(w, "Election config updated.", cfg)
}

func checkDates(errs fieldErrors, start, end *time.Time, field string) {
	if start != nil && end != nil && end.Before(*start) {
		errs.add(field, "End date must not be before the start date.")
	}
}

// ---------- elections ----------

type electionInput struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
}

func (in *electionInput) validate() error {
	errs := fieldErrors{}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		errs.add("name", "This field is required.")
	}
	if in.StartDate == nil {
		errs.add("start_date", "This field is required.")
	}
	if in.EndDate == nil {
		errs.add("end_date", "This field is required.")
	}
	checkDates(errs, in.StartDate, in.EndDate, "end_date")
	return errs.err()
}

func (h *Handler) ElectionsList(w http.ResponseWriter, r *http.Request) {
	rows, err := h.d.Elections.List(r.Context(), "all", time.Now(), false)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.WriteSuccess(w, "Elections retrieved.", rows)
}

func (h *Handler) ElectionCreate(w http.ResponseWriter, r *http.Request) {
	var in electionInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	if err := in.validate(); err != nil {
		fail(w, r, err)
		return
	}
	e := &models.Election{Name: in.Name, Description: in.Description, StartDate: in.StartDate, EndDate: in.EndDate}
	if err := h.d.Elections.Create(r.Context(), e); err != nil {
		fail(w, r, err)
		return
	}
	logs.Logger.WithField("slug", e.Slug).Info("election created")
	models.WriteJSON(w, http.StatusCreated, models.Envelope{Status: models.StatusSuccess, Detail: "Election created.", Data: e})
}

// ElectionGet — выборы с бюллетенем и текущими итогами.
func (h *Handler) ElectionGet(w http.ResponseWriter, r *http.Request) {
	e, err := h.d.Elections.GetByID(r.Context(), idVar(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	full, err := h.d.Elections.GetBySlug(r.Context(), e.Slug, true)
	if err != nil {
		fail(w, r, err)
		return
	}
	tallies := map[uint][]repo.TallyRow{}
	for _, o := range full.Offices {
		rows, err := h.d.Ledger.Tally(r.Context(), o.ID)
		if err != nil {
			fail(w, r, err)
			return
		}
		tallies[o.ID] = rows
	}
	models.WriteSuccess(w, "Election retrieved.", map[string]any{"election": full, "tallies": tallies})
}

func (h *Handler) ElectionUpdate(w http.ResponseWriter, r *http.Request) {
	e, err := h.d.Elections.GetByID(r.Context(), idVar(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	var in electionInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	if err := in.validate(); err != nil {
		fail(w, r, err)
		return
	}
	e.Name, e.Description, e.StartDate, e.EndDate = in.Name, in.Description, in.StartDate, in.EndDate
	if err := h.d.Elections.Update(r.Context(), e); err != nil {
		fail(w, r, err)
		return
	}
	models.WriteSuccess(w, "Election updated.", e)
}

func (h *Handler) ElectionDelete(w http.ResponseWriter, r *http.Request) {
	removed, err := h.d.Elections.Delete(r.Context(), idVar(r))
	if err == nil {
		err = notFoundUnless(removed)
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	models.WriteSuccess(w, "Election deleted.", nil)
}

// ---------- offices ----------

type officeInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

func (in *officeInput) validate() error {
	errs := fieldErrors{}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		errs.add("name", "This field is required.")
	}
	return errs.err()
}

func (h *Handler) OfficesList(w http.ResponseWriter, r *http.Request) {
	if _, err := h.d.Elections.GetByID(r.Context(), idVar(r)); err != nil {
		fail(w, r, err)
		return
	}
	rows, err := h.d.Elections.ListOffices(r.Context(), idVar(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	models.WriteSuccess(w, "Offices retrieved.", rows)
}

func (h *Handler) OfficeCreate(w http.ResponseWriter, r *http.Request) {
	e, err := h.d.Elections.GetByID(r.Context(), idVar(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	var in officeInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	if err := in.validate(); err != nil {
		fail(w, r, err)
		return
	}
	o := &models.Office{ElectionID: e.ID, Name: in.Name, Description: in.Description, IsActive: true}
	if in.IsActive != nil {
		o.IsActive = *in.IsActive
	}
	if err := h.d.Elections.CreateOffice(r.Context(), o); err != nil {
		fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, models.Envelope{Status: models.StatusSuccess, Detail: "Office created.", Data: o})
}

func (h *Handler) OfficeUpdate(w http.ResponseWriter, r *http.Request) {
	o, err := h.d.Elections.GetOffice(r.Context(), idVar(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	var in officeInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	if err := in.validate(); err != nil {
		fail(w, r, err)
		return
	}
	o.Name, o.Description = in.Name, in.Description
	if in.IsActive != nil {
		o.IsActive = *in.IsActive
	}
	if err := h.d.Elections.UpdateOffice(r.Context(), o); err != nil {
		fail(w, r, err)
		return
	}
	models.WriteSuccess(w, "Office updated.", o)
}

func (h *Handler) OfficeDelete(w http.ResponseWriter, r *http.Request) {
	removed, err := h.d.Elections.DeleteOffice(r.Context(), idVar(r))
	if err == nil {
		err = notFoundUnless(removed)
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	models.WriteSuccess(w, "Office deleted.", nil)
}

// ---------- candidates ----------

type candidateInput struct {
	Name         string `json:"name"`
	Manifesto    string `json:"manifesto"`
	Disqualified bool   `json:"disqualified"`
}

func (in *candidateInput) validate() error {
	errs := fieldErrors{}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		errs.add("name", "This field is required.")
	}
	return errs.err()
}

func (h *Handler) CandidateCreate(w http.ResponseWriter, r *http.Request) {
	o, err := h.d.Elections.GetOffice(r.Context(), idVar(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	var in candidateInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	if err := in.validate(); err != nil {
		fail(w, r, err)
		return
	}
	c := &models.Candidate{OfficeID: o.ID, Name: in.Name, Manifesto: in.Manifesto, Disqualified: in.Disqualified}
	if err := h.d.Elections.CreateCandidate(r.Context(), c); err != nil {
		fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, models.Envelope{Status: models.StatusSuccess, Detail: "Candidate created.", Data: c})
}

func (h *Handler) CandidateUpdate(w http.ResponseWriter, r *http.Request) {
	c, err := h.d.Elections.GetCandidate(r.Context(), idVar(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	var in candidateInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	if err := in.validate(); err != nil {
		fail(w, r, err)
		return
	}
	c.Name, c.Manifesto, c.Disqualified = in.Name, in.Manifesto, in.Disqualified
	if err := h.d.Elections.UpdateCandidate(r.Context(), c); err != nil {
		fail(w, r, err)
		return
	}
	models.WriteSuccess(w, "Candidate updated.", c)
}

func (h *Handler) CandidateDelete(w http.ResponseWriter, r *http.Request) {
	removed, err := h.d.Elections.DeleteCandidate(r.Context(), idVar(r))
	if err == nil {
		err = notFoundUnless(removed)
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	models.WriteSuccess(w, "Candidate deleted.", nil)
}

// ---------- students ----------

type studentInput struct {
	Name                string `json:"name"`
	Level               int    `json:"level"`
	Department          string `json:"department"`
	MatriculationNumber string `json:"matriculation_number"`
	Email               string `json:"email"`
}

func (h *Handler) validateStudent(in *studentInput) error {
	errs := fieldErrors{}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.MatriculationNumber = strings.TrimSpace(in.MatriculationNumber)
	if in.Name == "" {
		errs.add("name", "This field is required.")
	}
	if in.Level < 100 || in.Level > 700 || in.Level%100 != 0 {
		errs.add("level", "Select a valid level (100 to 700).")
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		errs.add("email", "Enter a valid email address.")
	}
	switch {
	case in.MatriculationNumber == "":
		errs.add("matriculation_number", "This field is required.")
	case h.d.Matriculation != nil && !h.d.Matriculation.MatchString(in.MatriculationNumber):
		errs.add("matriculation_number", "Invalid matriculation number. It should be in the format: ABC/123456/2024")
	}
	if in.Department == "" {
		in.Department = "Chemical Engineering"
	}
	return errs.err()
}

func (h *Handler) StudentsList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.d.Students.List(r.Context(), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.WriteSuccess(w, "Students retrieved.", rows)
}

func (h *Handler) StudentCreate(w http.ResponseWriter, r *http.Request) {
	var in studentInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.validateStudent(&in); err != nil {
		fail(w, r, err)
		return
	}
	st := &models.Student{
		Name:                in.Name,
		Level:               in.Level,
		Department:          in.Department,
		MatriculationNumber: in.MatriculationNumber,
		Email:               in.Email,
	}
	if err := h.d.Students.Create(r.Context(), st); err != nil {
		fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, models.Envelope{Status: models.StatusSuccess, Detail: "Student created.", Data: st})
}
