package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"reelay/models"
	"reelay/services/catalog"
)

type catalogService interface {
	Search(ctx context.Context, query string, year int) ([]models.CatalogMovie, error)
}

var _ catalogService = (*catalog.Service)(nil)

type CatalogHandler struct {
	Service catalogService
}

func NewCatalogHandler(service catalogService) *CatalogHandler {
	return &CatalogHandler{Service: service}
}

// Search proxies a free-text query to the catalog provider. The optional
// year parameter narrows the search.
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	year := 0
	if raw := r.URL.Query().Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "year must be a positive integer", http.StatusBadRequest)
			return
		}
		year = parsed
	}

	results, err := h.Service.Search(r.Context(), query, year)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if results == nil {
		results = []models.CatalogMovie{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}
