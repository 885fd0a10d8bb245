package models

import (
	"strconv"
	"time"
)

// SyncState tracks whether a record's latest local edit has reached the
// remote store.
type SyncState string

const (
	SyncStateSynced        SyncState = "SYNCED"
	SyncStatePendingCreate SyncState = "PENDING_CREATE"
	SyncStatePendingUpdate SyncState = "PENDING_UPDATE"
	SyncStatePendingDelete SyncState = "PENDING_DELETE"
	SyncStateFailed        SyncState = "FAILED"
)

// Pending reports whether the state still needs a push to the remote store.
// FAILED counts as pending: failed records re-enter the batch on the next pass.
func (s SyncState) Pending() bool {
	return s != SyncStateSynced
}

// MovieRecord is one user-movie association with its status flags. The ID is
// the TMDB catalog ID and is stable for the life of the record.
type MovieRecord struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	PosterPath   string `json:"posterPath,omitempty"`
	BackdropPath string `json:"backdropPath,omitempty"`
	ReleaseDate  string `json:"releaseDate,omitempty"`
	Overview     string `json:"overview,omitempty"`

	IsSeen        bool `json:"isSeen"`
	IsWatchlist   bool `json:"isWatchlist"`
	IsFavorite    bool `json:"isFavorite"`
	NotInterested bool `json:"notInterested"`

	// Rating is only meaningful while IsSeen is true; clearing IsSeen clears it.
	Rating *float64 `json:"rating,omitempty"`

	// AIReason is set while the record is an active, unreviewed recommendation
	// and cleared when the user accepts or rejects it.
	AIReason string `json:"aiReason,omitempty"`

	AddedAt      time.Time `json:"addedAt"`
	LastModified time.Time `json:"lastModified"`
	SyncState    SyncState `json:"syncState"`
}

// Key returns the record's identity as used for remote document keys.
func (m MovieRecord) Key() string {
	return strconv.FormatInt(m.ID, 10)
}

// Year extracts the release year from the ISO-ish release date, or 0.
func (m MovieRecord) Year() int {
	if len(m.ReleaseDate) < 4 {
		return 0
	}
	year, err := strconv.Atoi(m.ReleaseDate[:4])
	if err != nil {
		return 0
	}
	return year
}

// Suggested reports whether the record is an active recommendation awaiting
// user review. Suggested records are hidden from the user's added lists.
func (m MovieRecord) Suggested() bool {
	return m.AIReason != ""
}

// CatalogMovie is a movie as returned by the external catalog search, before
// it becomes a local record.
type CatalogMovie struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	PosterPath   string `json:"posterPath,omitempty"`
	BackdropPath string `json:"backdropPath,omitempty"`
	ReleaseDate  string `json:"releaseDate,omitempty"`
	Overview     string `json:"overview,omitempty"`
}

// Year extracts the release year from the catalog release date, or 0.
func (c CatalogMovie) Year() int {
	if len(c.ReleaseDate) < 4 {
		return 0
	}
	year, err := strconv.Atoi(c.ReleaseDate[:4])
	if err != nil {
		return 0
	}
	return year
}

// Record converts a catalog result into a fresh local record. Flags default
// to false; callers merge with any existing local record before persisting.
func (c CatalogMovie) Record(now time.Time) MovieRecord {
	return MovieRecord{
		ID:           c.ID,
		Title:        c.Title,
		PosterPath:   c.PosterPath,
		BackdropPath: c.BackdropPath,
		ReleaseDate:  c.ReleaseDate,
		Overview:     c.Overview,
		AddedAt:      now,
		LastModified: now,
		SyncState:    SyncStatePendingCreate,
	}
}

// Suggestion is one candidate produced by the text-generation service.
type Suggestion struct {
	Title  string `json:"title"`
	Year   int    `json:"year"`
	Reason string `json:"reason"`
}
