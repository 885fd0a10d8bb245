package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"reelay/models"
	"reelay/services/library"

	"github.com/gorilla/mux"
)

type movieService interface {
	Get(id int64) (models.MovieRecord, error)
	QueryBy(f library.Filter) ([]models.MovieRecord, error)
	Watch(ctx context.Context, f library.Filter) (<-chan []models.MovieRecord, error)
	MarkSeen(m models.CatalogMovie) (models.MovieRecord, error)
	UnmarkSeen(id int64) (models.MovieRecord, error)
	AddToWatchlist(m models.CatalogMovie) (models.MovieRecord, error)
	RemoveFromWatchlist(id int64) (models.MovieRecord, error)
	SetFavorite(id int64, favorite bool) (models.MovieRecord, error)
	SetRating(id int64, rating float64) (models.MovieRecord, error)
	SetNotInterested(m models.CatalogMovie) (models.MovieRecord, error)
	Remove(id int64) error
}

var _ movieService = (*library.Service)(nil)

type MoviesHandler struct {
	Service movieService
}

func NewMoviesHandler(service movieService) *MoviesHandler {
	return &MoviesHandler{Service: service}
}

// List returns the user's records under the requested filter. An absent
// filter parameter lists everything.
func (h *MoviesHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	records, err := h.Service.QueryBy(filter)
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

// Watch streams the filtered list as server-sent events: the current
// snapshot immediately, then a fresh snapshot after every change. The stream
// ends when the client disconnects.
func (h *MoviesHandler) Watch(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	updates, err := h.Service.Watch(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for records := range updates {
		payload, err := json.Marshal(records)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func (h *MoviesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := movieID(w, r)
	if !ok {
		return
	}

	rec, err := h.Service.Get(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, library.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *MoviesHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	movie, ok := decodeCatalogMovie(w, r)
	if !ok {
		return
	}

	rec, err := h.Service.MarkSeen(movie)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *MoviesHandler) UnmarkSeen(w http.ResponseWriter, r *http.Request) {
	id, ok := movieID(w, r)
	if !ok {
		return
	}

	rec, err := h.Service.UnmarkSeen(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, library.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *MoviesHandler) AddToWatchlist(w http.ResponseWriter, r *http.Request) {
	movie, ok := decodeCatalogMovie(w, r)
	if !ok {
		return
	}

	rec, err := h.Service.AddToWatchlist(movie)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *MoviesHandler) RemoveFromWatchlist(w http.ResponseWriter, r *http.Request) {
	id, ok := movieID(w, r)
	if !ok {
		return
	}

	rec, err := h.Service.RemoveFromWatchlist(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, library.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *MoviesHandler) SetFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := movieID(w, r)
	if !ok {
		return
	}

	var body struct {
		Favorite bool `json:"favorite"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.Service.SetFavorite(id, body.Favorite)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, library.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, library.ErrNotSeen):
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *MoviesHandler) SetRating(w http.ResponseWriter, r *http.Request) {
	id, ok := movieID(w, r)
	if !ok {
		return
	}

	var body struct {
		Rating float64 `json:"rating"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.Service.SetRating(id, body.Rating)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, library.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, library.ErrNotSeen):
			status = http.StatusConflict
		case errors.Is(err, library.ErrInvalidRating):
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *MoviesHandler) SetNotInterested(w http.ResponseWriter, r *http.Request) {
	movie, ok := decodeCatalogMovie(w, r)
	if !ok {
		return
	}

	rec, err := h.Service.SetNotInterested(movie)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *MoviesHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, ok := movieID(w, r)
	if !ok {
		return
	}

	if err := h.Service.Remove(id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, library.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseFilter(w http.ResponseWriter, r *http.Request) (library.Filter, bool) {
	filter := library.Filter(r.URL.Query().Get("filter"))
	if filter == "" {
		filter = library.FilterAll
	}
	switch filter {
	case library.FilterAll, library.FilterSeen, library.FilterWatchlist,
		library.FilterFavorites, library.FilterNotInterested, library.FilterSuggested:
		return filter, true
	default:
		http.Error(w, "unknown filter", http.StatusBadRequest)
		return "", false
	}
}

func movieID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["movieID"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "movie id must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeCatalogMovie(w http.ResponseWriter, r *http.Request) (models.CatalogMovie, bool) {
	var movie models.CatalogMovie
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&movie); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return models.CatalogMovie{}, false
	}
	if movie.ID <= 0 {
		http.Error(w, "movie id must be a positive integer", http.StatusBadRequest)
		return models.CatalogMovie{}, false
	}
	return movie, true
}
