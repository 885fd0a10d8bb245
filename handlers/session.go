package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"reelay/models"
	"reelay/services/session"

	"github.com/gorilla/mux"
)

type sessionService interface {
	List() []models.Profile
	Current() (models.Profile, bool)
	Create(name string) (models.Profile, error)
	Rename(id, name string) (models.Profile, error)
	SetPin(id, pin string) (models.Profile, error)
	ClearPin(id string) (models.Profile, error)
	SignIn(id, pin string) (models.Profile, error)
	SignOut() error
	Delete(id string) error
}

var _ sessionService = (*session.Service)(nil)

type SessionHandler struct {
	Service sessionService
}

func NewSessionHandler(service sessionService) *SessionHandler {
	return &SessionHandler{Service: service}
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Service.List())
}

// Current returns the signed-in profile, or 204 when signed out.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Service.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.Service.Create(body.Name)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNameRequired) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

func (h *SessionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, ok := profileID(w, r)
	if !ok {
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.Service.Rename(id, body.Name)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrNameRequired):
			status = http.StatusBadRequest
		case errors.Is(err, session.ErrProfileNotFound):
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

func (h *SessionHandler) SetPin(w http.ResponseWriter, r *http.Request) {
	id, ok := profileID(w, r)
	if !ok {
		return
	}

	var body struct {
		Pin string `json:"pin"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.Service.SetPin(id, body.Pin)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrProfileNotFound):
			status = http.StatusNotFound
		case errors.Is(err, session.ErrPinRequired), errors.Is(err, session.ErrPinTooShort):
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

func (h *SessionHandler) ClearPin(w http.ResponseWriter, r *http.Request) {
	id, ok := profileID(w, r)
	if !ok {
		return
	}

	p, err := h.Service.ClearPin(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrProfileNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	id, ok := profileID(w, r)
	if !ok {
		return
	}

	var body struct {
		Pin string `json:"pin"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.Service.SignIn(id, body.Pin)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrProfileNotFound):
			status = http.StatusNotFound
		case errors.Is(err, session.ErrPinInvalid):
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.SignOut(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := profileID(w, r)
	if !ok {
		return
	}

	if err := h.Service.Delete(id); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrProfileNotFound):
			status = http.StatusNotFound
		case strings.Contains(err.Error(), "cannot delete the last profile"):
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func profileID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(mux.Vars(r)["profileID"])
	if id == "" {
		http.Error(w, "profile id is required", http.StatusBadRequest)
		return "", false
	}
	return id, true
}
