package catalog

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"reelay/models"
)

var ErrNoMatch = errors.New("no catalog match")

// searcher abstracts the catalog provider so tests can substitute a fixture.
type searcher interface {
	searchMovies(ctx context.Context, title string, year int) ([]models.CatalogMovie, error)
}

// Service looks up canonical movie metadata in the catalog provider.
type Service struct {
	client searcher
}

func NewService(apiKey, language string) *Service {
	return &Service{client: newTMDBClient(apiKey, language, nil)}
}

// NewServiceWithBaseURL points the provider client at an alternate endpoint.
// Used by tests with an httptest server.
func NewServiceWithBaseURL(apiKey, language, baseURL string, httpc *http.Client) *Service {
	c := newTMDBClient(apiKey, language, httpc)
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.minInterval = 0
	return &Service{client: c}
}

// Search returns catalog matches for a free-text query in provider relevance
// order. Year 0 searches without a year constraint.
func (s *Service) Search(ctx context.Context, query string, year int) ([]models.CatalogMovie, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	return s.client.searchMovies(ctx, query, year)
}

// Resolve maps a title and release year to a single canonical catalog entry.
// It tries an exact title+year search first, then falls back to a title-only
// search and accepts the best result whose year is within two of the target.
// Year 0 skips the year checks entirely and takes the top title match.
func (s *Service) Resolve(ctx context.Context, title string, year int) (models.CatalogMovie, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.CatalogMovie{}, ErrNoMatch
	}

	if year > 0 {
		results, err := s.client.searchMovies(ctx, title, year)
		if err != nil {
			return models.CatalogMovie{}, err
		}
		if len(results) > 0 {
			return results[0], nil
		}
		log.Printf("[catalog] no exact match for %q (%d), retrying without year", title, year)
	}

	results, err := s.client.searchMovies(ctx, title, 0)
	if err != nil {
		return models.CatalogMovie{}, err
	}
	if len(results) == 0 {
		return models.CatalogMovie{}, ErrNoMatch
	}

	if year == 0 {
		return results[0], nil
	}

	for _, m := range results {
		got := m.Year()
		if got == 0 {
			continue
		}
		diff := got - year
		if diff < 0 {
			diff = -diff
		}
		if diff <= 2 {
			return m, nil
		}
	}
	return models.CatalogMovie{}, ErrNoMatch
}
