package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"reelay/services/credits"
)

type balanceLedger interface {
	Balance(ctx context.Context) (int, error)
	Add(ctx context.Context, amount int) error
}

var _ balanceLedger = (*credits.Service)(nil)

type CreditsHandler struct {
	Service balanceLedger
}

func NewCreditsHandler(service balanceLedger) *CreditsHandler {
	return &CreditsHandler{Service: service}
}

func (h *CreditsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.Service.Balance(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, credits.ErrAuthRequired) {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"balance": balance})
}

// Add credits the signed-in user's balance. This is where a purchase flow
// would land once payments exist.
func (h *CreditsHandler) Add(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount int `json:"amount"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Service.Add(r.Context(), body.Amount); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, credits.ErrInvalidAmount):
			status = http.StatusBadRequest
		case errors.Is(err, credits.ErrAuthRequired):
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}

	balance, err := h.Service.Balance(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"balance": balance})
}
