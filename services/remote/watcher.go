package remote

import (
	"context"
	"fmt"
	"log"
	"time"

	"reelay/models"
)

// WatchRecords polls the user's remote collection and emits a snapshot
// whenever it changes, giving cross-device edits a way into the local store.
// The channel closes when ctx is cancelled. Poll failures are logged and
// retried on the next tick.
func (c *Client) WatchRecords(ctx context.Context, userID string, interval time.Duration) <-chan []models.MovieRecord {
	if interval <= 0 {
		interval = time.Minute
	}

	out := make(chan []models.MovieRecord, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var lastFingerprint string
		for {
			records, err := c.PullAllRecords(ctx, userID)
			if err != nil {
				log.Printf("[remote] watch poll failed: %v", err)
			} else if fp := fingerprint(records); fp != lastFingerprint {
				lastFingerprint = fp
				select {
				case <-out:
				default:
				}
				out <- records
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

// fingerprint summarizes a snapshot cheaply: document count plus the newest
// modification stamp is enough to detect remote churn between polls.
func fingerprint(records []models.MovieRecord) string {
	var newest time.Time
	for _, rec := range records {
		if rec.LastModified.After(newest) {
			newest = rec.LastModified
		}
	}
	return fmt.Sprintf("%d/%s", len(records), newest.UTC().Format(time.RFC3339Nano))
}
