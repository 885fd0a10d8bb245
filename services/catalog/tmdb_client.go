package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"reelay/models"
)

const tmdbBaseURL = "https://api.themoviedb.org/3"

type tmdbClient struct {
	apiKey   string
	language string
	baseURL  string
	httpc    *http.Client

	// Rate limiting
	throttleMu  sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

func newTMDBClient(apiKey, language string, httpc *http.Client) *tmdbClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &tmdbClient{
		apiKey:      strings.TrimSpace(apiKey),
		language:    language,
		baseURL:     tmdbBaseURL,
		httpc:       httpc,
		minInterval: 20 * time.Millisecond, // TMDB has generous rate limits
	}
}

func (c *tmdbClient) isConfigured() bool {
	return c != nil && c.apiKey != ""
}

type tmdbSearchResponse struct {
	Results []struct {
		ID           int64  `json:"id"`
		Title        string `json:"title"`
		Overview     string `json:"overview"`
		PosterPath   string `json:"poster_path"`
		BackdropPath string `json:"backdrop_path"`
		ReleaseDate  string `json:"release_date"`
	} `json:"results"`
}

// searchMovies queries TMDB's movie search. Year 0 means unfiltered. Results
// keep the provider's relevance order: the first element is the best match.
func (c *tmdbClient) searchMovies(ctx context.Context, title string, year int) ([]models.CatalogMovie, error) {
	if !c.isConfigured() {
		return nil, errors.New("tmdb api key not configured")
	}

	endpoint, err := url.JoinPath(c.baseURL, "search", "movie")
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("query", title)
	if lang := strings.TrimSpace(c.language); lang != "" {
		q.Set("language", lang)
	} else {
		q.Set("language", "en-US")
	}
	if year > 0 {
		q.Set("year", strconv.Itoa(year))
	}

	var payload tmdbSearchResponse
	if err := c.doGET(ctx, endpoint+"?"+q.Encode(), &payload); err != nil {
		return nil, err
	}

	movies := make([]models.CatalogMovie, 0, len(payload.Results))
	for _, r := range payload.Results {
		movies = append(movies, models.CatalogMovie{
			ID:           r.ID,
			Title:        r.Title,
			Overview:     r.Overview,
			PosterPath:   r.PosterPath,
			BackdropPath: r.BackdropPath,
			ReleaseDate:  r.ReleaseDate,
		})
	}
	return movies, nil
}

// doGET performs an HTTP GET with rate limiting and retry with exponential
// backoff on 429s and server errors.
func (c *tmdbClient) doGET(ctx context.Context, endpoint string, v any) error {
	var lastErr error
	backoff := 300 * time.Millisecond

	for attempt := 0; attempt < 3; attempt++ {
		c.throttleMu.Lock()
		since := time.Since(c.lastRequest)
		if since < c.minInterval {
			time.Sleep(c.minInterval - since)
		}
		c.lastRequest = time.Now()
		c.throttleMu.Unlock()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
			log.Printf("[tmdb] http error (attempt %d/3): %v", attempt+1, err)
			time.Sleep(backoff)
			backoff *= 2
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			log.Printf("[tmdb] rate limited or server error (attempt %d/3): status %d", attempt+1, resp.StatusCode)
			lastErr = fmt.Errorf("tmdb request failed: %s", resp.Status)
			time.Sleep(backoff)
			backoff *= 2
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return fmt.Errorf("tmdb request failed: %s", resp.Status)
		}

		err = json.NewDecoder(resp.Body).Decode(v)
		resp.Body.Close()
		if err != nil {
			return err
		}
		return nil
	}

	return lastErr
}
