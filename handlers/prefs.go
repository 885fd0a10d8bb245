package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"reelay/services/prefs"
)

type prefsService interface {
	Get() prefs.Preferences
	SetTheme(theme string) (prefs.Preferences, error)
	CompleteOnboarding() (prefs.Preferences, error)
}

var _ prefsService = (*prefs.Service)(nil)

type PrefsHandler struct {
	Service prefsService
}

func NewPrefsHandler(service prefsService) *PrefsHandler {
	return &PrefsHandler{Service: service}
}

func (h *PrefsHandler) Get(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Service.Get())
}

func (h *PrefsHandler) SetTheme(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Theme string `json:"theme"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	updated, err := h.Service.SetTheme(body.Theme)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, prefs.ErrInvalidTheme) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

func (h *PrefsHandler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	updated, err := h.Service.CompleteOnboarding()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}
