package library

import (
	"database/sql"
	"errors"
	"fmt"

	"reelay/models"
)

// PendingBatches reads the records awaiting a remote push, partitioned into
// the upsert group (creates, updates, and failed upserts) and the delete
// group (tombstoned rows, including failed deletes).
func (s *Service) PendingBatches() (upserts, deletes []models.MovieRecord, err error) {
	rows, err := s.db.Query(`SELECT ` + selectColumns + `, tombstone FROM movies WHERE sync_state != 'SYNCED'`)
	if err != nil {
		return nil, nil, fmt.Errorf("query pending movies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.MovieRecord
		var rating sql.NullFloat64
		var state string
		var tombstone bool

		err := rows.Scan(&rec.ID, &rec.Title, &rec.PosterPath, &rec.BackdropPath,
			&rec.ReleaseDate, &rec.Overview, &rec.IsSeen, &rec.IsWatchlist,
			&rec.IsFavorite, &rec.NotInterested, &rating, &rec.AIReason,
			&rec.AddedAt, &rec.LastModified, &state, &tombstone)
		if err != nil {
			return nil, nil, err
		}
		if rating.Valid {
			value := rating.Float64
			rec.Rating = &value
		}
		rec.SyncState = models.SyncState(state)

		if tombstone {
			deletes = append(deletes, rec)
		} else {
			upserts = append(upserts, rec)
		}
	}

	return upserts, deletes, rows.Err()
}

// MarkSynced records a confirmed remote write.
func (s *Service) MarkSynced(id int64) error {
	return s.setSyncState(id, models.SyncStateSynced)
}

// MarkFailed records a failed remote push; the record re-enters the pending
// pool on the next pass.
func (s *Service) MarkFailed(id int64) error {
	return s.setSyncState(id, models.SyncStateFailed)
}

func (s *Service) setSyncState(id int64, state models.SyncState) error {
	res, err := s.db.Exec(`UPDATE movies SET sync_state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return fmt.Errorf("set sync state for movie %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	s.notify(false)
	return nil
}

// Purge physically removes the row after a confirmed remote delete.
func (s *Service) Purge(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM movies WHERE id = ?`, id); err != nil {
		return fmt.Errorf("purge movie %d: %w", id, err)
	}
	s.notify(false)
	return nil
}

// ApplyRemote merges one remote record into the store. A record with no
// local counterpart is inserted as SYNCED; a clean local record is
// overwritten (remote wins); a local record with a pending edit is left
// untouched so the next outgoing pass stays authoritative. Reports whether
// the remote version was applied.
func (s *Service) ApplyRemote(rec models.MovieRecord) (bool, error) {
	local, err := s.Get(rec.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		// New on this device.
	case err != nil:
		return false, err
	case local.SyncState.Pending():
		return false, nil
	}

	rec.SyncState = models.SyncStateSynced
	if err := s.write(rec, false); err != nil {
		return false, err
	}

	s.notify(false)
	return true, nil
}

// SeenCount returns how many movies the user has marked seen.
func (s *Service) SeenCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM movies WHERE tombstone = 0 AND is_seen = 1 AND ai_reason = ''`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count seen movies: %w", err)
	}
	return n, nil
}

// ExclusionIDs returns every catalog ID a recommendation round must not
// suggest: seen, watchlisted, and not-interested movies.
func (s *Service) ExclusionIDs() (map[int64]struct{}, error) {
	rows, err := s.db.Query(`SELECT id FROM movies WHERE is_seen = 1 OR is_watchlist = 1 OR not_interested = 1`)
	if err != nil {
		return nil, fmt.Errorf("query exclusion ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}
