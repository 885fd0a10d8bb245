package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"reelay/models"
	syncsvc "reelay/services/sync"
)

type reconciler interface {
	RunPass(ctx context.Context) (models.SyncSummary, error)
	MergeRemote(ctx context.Context) (int, error)
	Status() models.SyncStatus
}

var _ reconciler = (*syncsvc.Service)(nil)

type SyncHandler struct {
	Service reconciler
}

func NewSyncHandler(service reconciler) *SyncHandler {
	return &SyncHandler{Service: service}
}

// Run executes a full reconciliation pass immediately and returns its
// summary. The background loop keeps its own schedule either way.
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.RunPass(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, syncsvc.ErrNoSession) {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// Merge pulls the remote snapshot and applies it over local synced records.
func (h *SyncHandler) Merge(w http.ResponseWriter, r *http.Request) {
	applied, err := h.Service.MergeRemote(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, syncsvc.ErrNoSession) {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"applied": applied})
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Service.Status())
}
