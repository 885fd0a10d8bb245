// Package library is the local record store: one row per catalog movie the
// user has interacted with, plus the live-query hub the rest of the app
// observes it through. Every user-level mutation stamps the row with a
// pending sync state so the reconciler knows what to push.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"reelay/models"
)

var (
	ErrNotFound      = errors.New("movie not found")
	ErrNotSeen       = errors.New("movie has not been marked seen")
	ErrInvalidRating = errors.New("rating must be between 0 and 5")
	ErrNotSuggested  = errors.New("movie is not an active recommendation")
	ErrNotInterested = errors.New("movie was marked not interested")
)

// Filter selects records by user-state flag. List filters hide active
// recommendations and tombstoned rows; those only show up under their own
// filters.
type Filter string

const (
	FilterAll           Filter = "all"
	FilterSeen          Filter = "seen"
	FilterWatchlist     Filter = "watchlist"
	FilterFavorites     Filter = "favorites"
	FilterNotInterested Filter = "notInterested"
	FilterSuggested     Filter = "suggested"
)

const selectColumns = `id, title, poster_path, backdrop_path, release_date, overview,
	is_seen, is_watchlist, is_favorite, not_interested, rating, ai_reason,
	added_at, last_modified, sync_state`

// Service manages the local movie records and their live views.
type Service struct {
	db  *sql.DB
	now func() time.Time

	mu       sync.Mutex
	watchers map[int64]*watcher
	nextID   int64
	onChange func()
}

type watcher struct {
	filter Filter
	signal chan struct{}
	out    chan []models.MovieRecord
}

// NewService creates a record store backed by the provided database.
func NewService(db *sql.DB) *Service {
	return &Service{
		db:       db,
		now:      func() time.Time { return time.Now().UTC() },
		watchers: make(map[int64]*watcher),
	}
}

// SetClock overrides the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetChangeHook registers a callback invoked after every local user mutation.
// The reconciler uses it as its debounced trigger.
func (s *Service) SetChangeHook(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Get returns the record with the given catalog ID.
func (s *Service) Get(id int64) (models.MovieRecord, error) {
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM movies WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MovieRecord{}, ErrNotFound
	}
	return rec, err
}

// QueryBy returns all records matching the filter. Order is not significant.
func (s *Service) QueryBy(f Filter) ([]models.MovieRecord, error) {
	where, err := filterClause(f)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT ` + selectColumns + ` FROM movies WHERE ` + where)
	if err != nil {
		return nil, fmt.Errorf("query movies: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// Watch returns a live view of the records matching the filter: the current
// snapshot immediately, then a fresh snapshot after every change. The channel
// closes when ctx is cancelled. Slow consumers only ever miss intermediate
// snapshots, never the latest one.
func (s *Service) Watch(ctx context.Context, f Filter) (<-chan []models.MovieRecord, error) {
	if _, err := filterClause(f); err != nil {
		return nil, err
	}

	w := &watcher{
		filter: f,
		signal: make(chan struct{}, 1),
		out:    make(chan []models.MovieRecord, 1),
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.watchers[id] = w
	s.mu.Unlock()

	go s.runWatcher(ctx, id, w)

	return w.out, nil
}

func (s *Service) runWatcher(ctx context.Context, id int64, w *watcher) {
	defer func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
		close(w.out)
	}()

	s.deliver(w)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.signal:
			s.deliver(w)
		}
	}
}

func (s *Service) deliver(w *watcher) {
	snapshot, err := s.QueryBy(w.filter)
	if err != nil {
		return
	}
	// Latest-wins: replace any undelivered snapshot.
	select {
	case <-w.out:
	default:
	}
	w.out <- snapshot
}

// notify wakes every watcher; fireHook additionally schedules a sync pass.
func (s *Service) notify(fireHook bool) {
	s.mu.Lock()
	hook := s.onChange
	for _, w := range s.watchers {
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()

	if fireHook && hook != nil {
		hook()
	}
}

// MarkSeen records the movie as watched, creating the record if needed.
func (s *Service) MarkSeen(m models.CatalogMovie) (models.MovieRecord, error) {
	return s.mutate(m, func(rec *models.MovieRecord) error {
		rec.IsSeen = true
		rec.AIReason = ""
		return nil
	})
}

// UnmarkSeen clears the watched flag. Rating and favorite only make sense on
// a seen movie, so both are cleared with it.
func (s *Service) UnmarkSeen(id int64) (models.MovieRecord, error) {
	return s.mutateExisting(id, func(rec *models.MovieRecord) error {
		rec.IsSeen = false
		rec.Rating = nil
		rec.IsFavorite = false
		return nil
	})
}

// AddToWatchlist saves the movie for later, creating the record if needed.
func (s *Service) AddToWatchlist(m models.CatalogMovie) (models.MovieRecord, error) {
	return s.mutate(m, func(rec *models.MovieRecord) error {
		rec.IsWatchlist = true
		rec.AIReason = ""
		return nil
	})
}

// RemoveFromWatchlist clears the watch-later flag.
func (s *Service) RemoveFromWatchlist(id int64) (models.MovieRecord, error) {
	return s.mutateExisting(id, func(rec *models.MovieRecord) error {
		rec.IsWatchlist = false
		return nil
	})
}

// SetFavorite toggles the favorite flag. Only seen movies can be favorited.
func (s *Service) SetFavorite(id int64, favorite bool) (models.MovieRecord, error) {
	return s.mutateExisting(id, func(rec *models.MovieRecord) error {
		if favorite && !rec.IsSeen {
			return ErrNotSeen
		}
		rec.IsFavorite = favorite
		return nil
	})
}

// SetRating stores a 0-5 rating. Only seen movies can be rated.
func (s *Service) SetRating(id int64, rating float64) (models.MovieRecord, error) {
	return s.mutateExisting(id, func(rec *models.MovieRecord) error {
		if rating < 0 || rating > 5 {
			return ErrInvalidRating
		}
		if !rec.IsSeen {
			return ErrNotSeen
		}
		rec.Rating = &rating
		return nil
	})
}

// SetNotInterested permanently excludes the movie from future
// recommendations. The flag is never cleared.
func (s *Service) SetNotInterested(m models.CatalogMovie) (models.MovieRecord, error) {
	return s.mutate(m, func(rec *models.MovieRecord) error {
		rec.NotInterested = true
		rec.AIReason = ""
		return nil
	})
}

// Remove tombstones the record for remote deletion. The local row is purged
// once the reconciler confirms the remote delete.
func (s *Service) Remove(id int64) error {
	rec, err := s.Get(id)
	if err != nil {
		return err
	}

	now := s.now()
	rec.LastModified = now
	rec.SyncState = models.SyncStatePendingDelete

	if err := s.write(rec, true); err != nil {
		return err
	}

	s.notify(true)
	return nil
}

// SaveSuggestion persists a generated recommendation, merging with any
// existing record so flags the user already set survive.
func (s *Service) SaveSuggestion(m models.CatalogMovie, reason string) (models.MovieRecord, error) {
	return s.mutate(m, func(rec *models.MovieRecord) error {
		if rec.NotInterested {
			return ErrNotInterested
		}
		rec.AIReason = reason
		return nil
	})
}

// AcceptSuggestion converts an active recommendation into a watchlist entry,
// or directly into a seen movie when asSeen is set.
func (s *Service) AcceptSuggestion(id int64, asSeen bool) (models.MovieRecord, error) {
	return s.mutateExisting(id, func(rec *models.MovieRecord) error {
		if !rec.Suggested() {
			return ErrNotSuggested
		}
		rec.AIReason = ""
		if asSeen {
			rec.IsSeen = true
		} else {
			rec.IsWatchlist = true
		}
		return nil
	})
}

// RejectSuggestion dismisses an active recommendation. The movie stays
// permanently excluded from future generations.
func (s *Service) RejectSuggestion(id int64) (models.MovieRecord, error) {
	return s.mutateExisting(id, func(rec *models.MovieRecord) error {
		if !rec.Suggested() {
			return ErrNotSuggested
		}
		rec.AIReason = ""
		rec.NotInterested = true
		return nil
	})
}

// Upsert writes the record as-is. Callers are responsible for LastModified
// and SyncState; user-facing mutations should go through the flag operations
// instead.
func (s *Service) Upsert(rec models.MovieRecord) error {
	if err := s.write(rec, rec.SyncState == models.SyncStatePendingDelete); err != nil {
		return err
	}
	s.notify(false)
	return nil
}

// mutate loads or creates the record for the catalog movie, applies fn, and
// persists it with a fresh pending state.
func (s *Service) mutate(m models.CatalogMovie, fn func(*models.MovieRecord) error) (models.MovieRecord, error) {
	now := s.now()

	rec, err := s.Get(m.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = m.Record(now)
	case err != nil:
		return models.MovieRecord{}, err
	default:
		// Refresh descriptive fields from the catalog payload.
		if m.Title != "" {
			rec.Title = m.Title
		}
		if m.PosterPath != "" {
			rec.PosterPath = m.PosterPath
		}
		if m.BackdropPath != "" {
			rec.BackdropPath = m.BackdropPath
		}
		if m.ReleaseDate != "" {
			rec.ReleaseDate = m.ReleaseDate
		}
		if m.Overview != "" {
			rec.Overview = m.Overview
		}
	}

	return s.apply(rec, fn, now)
}

func (s *Service) mutateExisting(id int64, fn func(*models.MovieRecord) error) (models.MovieRecord, error) {
	rec, err := s.Get(id)
	if err != nil {
		return models.MovieRecord{}, err
	}
	return s.apply(rec, fn, s.now())
}

func (s *Service) apply(rec models.MovieRecord, fn func(*models.MovieRecord) error, now time.Time) (models.MovieRecord, error) {
	existedBefore := !rec.AddedAt.IsZero() && rec.SyncState != models.SyncStatePendingCreate

	if err := fn(&rec); err != nil {
		return models.MovieRecord{}, err
	}

	rec.LastModified = now
	rec.SyncState = nextPendingState(rec.SyncState, existedBefore)

	if err := s.write(rec, false); err != nil {
		return models.MovieRecord{}, err
	}

	s.notify(true)
	return rec, nil
}

// nextPendingState picks the pending state for a fresh local edit.
func nextPendingState(current models.SyncState, existedBefore bool) models.SyncState {
	switch current {
	case models.SyncStatePendingCreate:
		return models.SyncStatePendingCreate
	case models.SyncStatePendingDelete:
		// Re-added before the delete was pushed; the remote doc may still
		// exist, so treat it as an update.
		return models.SyncStatePendingUpdate
	default:
		if existedBefore {
			return models.SyncStatePendingUpdate
		}
		return models.SyncStatePendingCreate
	}
}

func (s *Service) write(rec models.MovieRecord, tombstone bool) error {
	var rating any
	if rec.Rating != nil {
		rating = *rec.Rating
	}

	ts := 0
	if tombstone {
		ts = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO movies (id, title, poster_path, backdrop_path, release_date, overview,
			is_seen, is_watchlist, is_favorite, not_interested, rating, ai_reason,
			added_at, last_modified, sync_state, tombstone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			poster_path = excluded.poster_path,
			backdrop_path = excluded.backdrop_path,
			release_date = excluded.release_date,
			overview = excluded.overview,
			is_seen = excluded.is_seen,
			is_watchlist = excluded.is_watchlist,
			is_favorite = excluded.is_favorite,
			not_interested = excluded.not_interested,
			rating = excluded.rating,
			ai_reason = excluded.ai_reason,
			added_at = excluded.added_at,
			last_modified = excluded.last_modified,
			sync_state = excluded.sync_state,
			tombstone = excluded.tombstone`,
		rec.ID, rec.Title, rec.PosterPath, rec.BackdropPath, rec.ReleaseDate, rec.Overview,
		rec.IsSeen, rec.IsWatchlist, rec.IsFavorite, rec.NotInterested, rating, rec.AIReason,
		rec.AddedAt, rec.LastModified, string(rec.SyncState), ts)
	if err != nil {
		return fmt.Errorf("upsert movie %d: %w", rec.ID, err)
	}
	return nil
}

func filterClause(f Filter) (string, error) {
	switch f {
	case FilterAll:
		return `tombstone = 0 AND ai_reason = ''`, nil
	case FilterSeen:
		return `tombstone = 0 AND is_seen = 1 AND ai_reason = ''`, nil
	case FilterWatchlist:
		return `tombstone = 0 AND is_watchlist = 1 AND ai_reason = ''`, nil
	case FilterFavorites:
		return `tombstone = 0 AND is_favorite = 1 AND ai_reason = ''`, nil
	case FilterNotInterested:
		return `tombstone = 0 AND not_interested = 1`, nil
	case FilterSuggested:
		return `tombstone = 0 AND ai_reason != '' AND not_interested = 0`, nil
	default:
		return "", fmt.Errorf("unknown filter %q", f)
	}
}

func collectRecords(rows *sql.Rows) ([]models.MovieRecord, error) {
	records := make([]models.MovieRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (models.MovieRecord, error) {
	var rec models.MovieRecord
	var rating sql.NullFloat64
	var state string

	err := row.Scan(&rec.ID, &rec.Title, &rec.PosterPath, &rec.BackdropPath,
		&rec.ReleaseDate, &rec.Overview, &rec.IsSeen, &rec.IsWatchlist,
		&rec.IsFavorite, &rec.NotInterested, &rating, &rec.AIReason,
		&rec.AddedAt, &rec.LastModified, &state)
	if err != nil {
		return models.MovieRecord{}, err
	}

	if rating.Valid {
		value := rating.Float64
		rec.Rating = &value
	}
	rec.SyncState = models.SyncState(state)

	return rec, nil
}
