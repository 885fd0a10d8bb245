package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"reelay/models"
	"reelay/services/credits"
	"reelay/services/library"
	"reelay/services/recommend"
)

// minSeenForRecommendations is how many seen movies a profile needs before
// the generator has enough taste signal to work with.
const minSeenForRecommendations = 5

type suggestionStore interface {
	QueryBy(f library.Filter) ([]models.MovieRecord, error)
	SeenCount() (int, error)
	AcceptSuggestion(id int64, asSeen bool) (models.MovieRecord, error)
	RejectSuggestion(id int64) (models.MovieRecord, error)
}

type creditLedger interface {
	Balance(ctx context.Context) (int, error)
	Deduct(ctx context.Context, amount int) error
	Add(ctx context.Context, amount int) error
	RefundOnFailure() bool
}

type recommender interface {
	Suggest(ctx context.Context) ([]models.MovieRecord, error)
}

var (
	_ suggestionStore = (*library.Service)(nil)
	_ creditLedger    = (*credits.Service)(nil)
	_ recommender     = (*recommend.Service)(nil)
)

type RecommendationsHandler struct {
	Store   suggestionStore
	Credits creditLedger
	Engine  recommender
}

func NewRecommendationsHandler(store suggestionStore, ledger creditLedger, engine recommender) *RecommendationsHandler {
	return &RecommendationsHandler{Store: store, Credits: ledger, Engine: engine}
}

// List returns the active, unreviewed recommendations.
func (h *RecommendationsHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.QueryBy(library.FilterSuggested)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.MovieRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// Generate charges one credit and runs the recommendation pipeline. The
// charge happens before generation; a pipeline failure refunds it only when
// the ledger is configured to do so.
func (h *RecommendationsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	seen, err := h.Store.SeenCount()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if seen < minSeenForRecommendations {
		http.Error(w, "mark at least 5 movies as seen to get recommendations", http.StatusPreconditionFailed)
		return
	}

	balance, err := h.Credits.Balance(ctx)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, credits.ErrAuthRequired) {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}
	if balance < 1 {
		http.Error(w, "no credits remaining", http.StatusPaymentRequired)
		return
	}

	if err := h.Credits.Deduct(ctx, 1); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, credits.ErrInsufficientBalance):
			status = http.StatusPaymentRequired
		case errors.Is(err, credits.ErrAuthRequired):
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}

	records, err := h.Engine.Suggest(ctx)
	if err != nil {
		h.refundIfConfigured(ctx)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if len(records) == 0 {
		// Every round completed but nothing survived resolution and
		// exclusion. The charge follows the same refund policy as an
		// outright pipeline failure.
		h.refundIfConfigured(ctx)
		http.Error(w, "no recommendations could be generated", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (h *RecommendationsHandler) refundIfConfigured(ctx context.Context) {
	if !h.Credits.RefundOnFailure() {
		return
	}
	if err := h.Credits.Add(ctx, 1); err != nil {
		log.Printf("[recommendations] refund after failed generation also failed: %v", err)
	}
}

// Accept moves a recommendation into the watchlist, or straight to seen when
// the body asks for it.
func (h *RecommendationsHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id, ok := movieID(w, r)
	if !ok {
		return
	}

	var body struct {
		AsSeen bool `json:"asSeen"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.Store.AcceptSuggestion(id, body.AsSeen)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, library.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, library.ErrNotSuggested):
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// Reject marks a recommendation as not interested so it never comes back.
func (h *RecommendationsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := movieID(w, r)
	if !ok {
		return
	}

	rec, err := h.Store.RejectSuggestion(id)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, library.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, library.ErrNotSuggested):
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}
