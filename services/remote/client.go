// Package remote talks to the hosted document store that mirrors each user's
// movie records and credit balance across devices.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"reelay/models"
)

var (
	// ErrNetwork wraps transport-level failures. These are transient and
	// retried by the reconciler on its next pass.
	ErrNetwork = errors.New("remote store unreachable")
	// ErrUserIDRequired is returned when no user is signed in.
	ErrUserIDRequired = errors.New("user id is required")
)

// Client performs document reads and writes against the remote store. Movie
// documents live under /v1/users/{uid}/movies/{id} keyed by the catalog ID;
// the credit balance is a single integer field on the user's profile
// document.
type Client struct {
	httpc   *http.Client
	baseURL string
	apiKey  string
}

// NewClient creates a remote store client for the given base URL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpc:   &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type movieDocument struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	PosterPath    string    `json:"posterPath,omitempty"`
	BackdropPath  string    `json:"backdropPath,omitempty"`
	ReleaseDate   string    `json:"releaseDate,omitempty"`
	Overview      string    `json:"overview,omitempty"`
	IsSeen        bool      `json:"isSeen"`
	IsWatchlist   bool      `json:"isWatchlist"`
	IsFavorite    bool      `json:"isFavorite"`
	NotInterested bool      `json:"notInterested"`
	Rating        *float64  `json:"rating,omitempty"`
	AIReason      string    `json:"aiReason,omitempty"`
	AddedAt       time.Time `json:"addedAt"`
	LastModified  time.Time `json:"lastModified"`
}

type profileDocument struct {
	Credits   *int      `json:"credits,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

func toDocument(rec models.MovieRecord) movieDocument {
	return movieDocument{
		ID:            rec.ID,
		Title:         rec.Title,
		PosterPath:    rec.PosterPath,
		BackdropPath:  rec.BackdropPath,
		ReleaseDate:   rec.ReleaseDate,
		Overview:      rec.Overview,
		IsSeen:        rec.IsSeen,
		IsWatchlist:   rec.IsWatchlist,
		IsFavorite:    rec.IsFavorite,
		NotInterested: rec.NotInterested,
		Rating:        rec.Rating,
		AIReason:      rec.AIReason,
		AddedAt:       rec.AddedAt,
		LastModified:  rec.LastModified,
	}
}

func (d movieDocument) record() models.MovieRecord {
	return models.MovieRecord{
		ID:            d.ID,
		Title:         d.Title,
		PosterPath:    d.PosterPath,
		BackdropPath:  d.BackdropPath,
		ReleaseDate:   d.ReleaseDate,
		Overview:      d.Overview,
		IsSeen:        d.IsSeen,
		IsWatchlist:   d.IsWatchlist,
		IsFavorite:    d.IsFavorite,
		NotInterested: d.NotInterested,
		Rating:        d.Rating,
		AIReason:      d.AIReason,
		AddedAt:       d.AddedAt,
		LastModified:  d.LastModified,
		SyncState:     models.SyncStateSynced,
	}
}

// PushRecord upserts one movie document. The write is idempotent: pushing
// the same record twice leaves one document behind.
func (c *Client) PushRecord(ctx context.Context, userID string, rec models.MovieRecord) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserIDRequired
	}
	path := fmt.Sprintf("/v1/users/%s/movies/%s", url.PathEscape(userID), rec.Key())
	return c.do(ctx, http.MethodPut, path, toDocument(rec), nil)
}

// PullAllRecords reads the user's full movie collection.
func (c *Client) PullAllRecords(ctx context.Context, userID string) ([]models.MovieRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserIDRequired
	}

	var docs []movieDocument
	path := fmt.Sprintf("/v1/users/%s/movies", url.PathEscape(userID))
	if err := c.do(ctx, http.MethodGet, path, nil, &docs); err != nil {
		return nil, err
	}

	records := make([]models.MovieRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, d.record())
	}
	return records, nil
}

// DeleteRecord removes one movie document. Deleting a document that is
// already gone succeeds.
func (c *Client) DeleteRecord(ctx context.Context, userID string, id int64) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserIDRequired
	}
	path := fmt.Sprintf("/v1/users/%s/movies/%s", url.PathEscape(userID), strconv.FormatInt(id, 10))
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// PushCredits writes the credit balance onto the user's profile document.
// The server assigns the update timestamp.
func (c *Client) PushCredits(ctx context.Context, userID string, value int) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserIDRequired
	}
	path := fmt.Sprintf("/v1/users/%s/profile", url.PathEscape(userID))
	return c.do(ctx, http.MethodPatch, path, profileDocument{Credits: &value}, nil)
}

// PullCredits reads the credit balance. ok is false when the profile has no
// balance yet (a brand-new user).
func (c *Client) PullCredits(ctx context.Context, userID string) (value int, ok bool, err error) {
	if strings.TrimSpace(userID) == "" {
		return 0, false, ErrUserIDRequired
	}

	var doc profileDocument
	path := fmt.Sprintf("/v1/users/%s/profile", url.PathEscape(userID))
	err = c.do(ctx, http.MethodGet, path, nil, &doc)
	if isNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if doc.Credits == nil {
		return 0, false, nil
	}
	return *doc.Credits, true, nil
}

// statusError distinguishes HTTP-level rejections from transport failures.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote store request failed: %s", e.status)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: no base url configured", ErrNetwork)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s", ErrNetwork, resp.Status)
	}
	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode, status: resp.Status}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode remote response: %w", err)
		}
	}
	return nil
}
