// Package sync reconciles the local record store with the remote document
// store. Local mutations schedule a debounced pass; a periodic ticker picks
// up anything left behind by earlier failures.
package sync

import (
	"context"
	"errors"
	"log"
	stdsync "sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"reelay/models"
)

// ErrNoSession is returned when a pass is requested without a signed-in user.
var ErrNoSession = errors.New("no user signed in")

type recordStore interface {
	PendingBatches() (upserts, deletes []models.MovieRecord, err error)
	MarkSynced(id int64) error
	MarkFailed(id int64) error
	Purge(id int64) error
	ApplyRemote(rec models.MovieRecord) (bool, error)
}

type remoteStore interface {
	PushRecord(ctx context.Context, userID string, rec models.MovieRecord) error
	PullAllRecords(ctx context.Context, userID string) ([]models.MovieRecord, error)
	DeleteRecord(ctx context.Context, userID string, id int64) error
}

type sessionProvider interface {
	CurrentUserID() string
}

// Options tune the reconciler's trigger cadence and batch fan-out.
type Options struct {
	Debounce    time.Duration
	Interval    time.Duration
	MaxParallel int
}

// Service owns the pending-state drain loop.
type Service struct {
	library recordStore
	remote  remoteStore
	session sessionProvider
	opts    Options

	mu      stdsync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      stdsync.WaitGroup
	trigger chan struct{}

	// passMu serializes passes: a triggered pass and a periodic pass must
	// not drain the same batch concurrently.
	passMu stdsync.Mutex

	statusMu    stdsync.Mutex
	lastRunAt   *time.Time
	lastSummary models.SyncSummary
	lastError   string
}

// NewService creates a reconciler over the given stores.
func NewService(library recordStore, remote remoteStore, session sessionProvider, opts Options) *Service {
	if opts.Debounce <= 0 {
		opts.Debounce = 750 * time.Millisecond
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	return &Service{
		library: library,
		remote:  remote,
		session: session,
		opts:    opts,
		trigger: make(chan struct{}, 1),
	}
}

// Start begins the background reconciliation loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(loopCtx)

	log.Println("[sync] reconciler started")
	return nil
}

// Stop gracefully stops the loop, waiting for an in-flight pass to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.running = false
		log.Println("[sync] reconciler stopped")
		return nil
	case <-ctx.Done():
		// The loop is still draining an in-flight pass. Leave running set
		// so a restart cannot spawn a second loop beside it.
		log.Println("[sync] reconciler stop timed out with a pass in flight")
		return ctx.Err()
	}
}

// Notify schedules a debounced pass. Multiple notifications inside the
// debounce window collapse into one pass. Never blocks the mutating caller.
func (s *Service) Notify() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// loop owns its context for its whole lifetime; a restart after a timed-out
// Stop must never swap the context out from under a draining loop.
func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
			if !s.debounce(ctx) {
				return
			}
			s.runAndRecord(ctx)
		case <-ticker.C:
			s.runAndRecord(ctx)
		}
	}
}

// debounce waits out the quiet window, swallowing further triggers. Reports
// false when the service is shutting down.
func (s *Service) debounce(ctx context.Context) bool {
	timer := time.NewTimer(s.opts.Debounce)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.trigger:
		case <-timer.C:
			return true
		}
	}
}

func (s *Service) runAndRecord(ctx context.Context) {
	summary, err := s.RunPass(ctx)

	s.statusMu.Lock()
	now := time.Now().UTC()
	s.lastRunAt = &now
	s.lastSummary = summary
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
	s.statusMu.Unlock()

	switch {
	case errors.Is(err, ErrNoSession):
		// Nothing to do until sign-in; local edits stay pending.
	case err != nil:
		log.Printf("[sync] pass failed: %v", err)
	case summary.Total() > 0:
		log.Printf("[sync] pass complete: created=%d updated=%d deleted=%d failed=%d",
			summary.Created, summary.Updated, summary.Deleted, summary.Failed)
	}
}

// RunPass drains the pending batches once. Every pending record is attempted
// exactly once; one record's failure never aborts the rest. The delete batch
// is fully processed before the upsert batch starts.
func (s *Service) RunPass(ctx context.Context) (models.SyncSummary, error) {
	userID := s.session.CurrentUserID()
	if userID == "" {
		return models.SyncSummary{}, ErrNoSession
	}

	s.passMu.Lock()
	defer s.passMu.Unlock()

	upserts, deletes, err := s.library.PendingBatches()
	if err != nil {
		return models.SyncSummary{}, err
	}

	var summary models.SyncSummary
	var summaryMu stdsync.Mutex

	deletePool := pool.New().WithMaxGoroutines(s.opts.MaxParallel)
	for _, rec := range deletes {
		rec := rec
		deletePool.Go(func() {
			if ctx.Err() != nil {
				return // left pending for the next trigger
			}
			if err := s.remote.DeleteRecord(ctx, userID, rec.ID); err != nil {
				log.Printf("[sync] delete %d failed: %v", rec.ID, err)
				if err := s.library.MarkFailed(rec.ID); err != nil {
					log.Printf("[sync] mark failed %d: %v", rec.ID, err)
				}
				summaryMu.Lock()
				summary.Failed++
				summaryMu.Unlock()
				return
			}
			if err := s.library.Purge(rec.ID); err != nil {
				log.Printf("[sync] purge %d: %v", rec.ID, err)
			}
			summaryMu.Lock()
			summary.Deleted++
			summaryMu.Unlock()
		})
	}
	deletePool.Wait()

	upsertPool := pool.New().WithMaxGoroutines(s.opts.MaxParallel)
	for _, rec := range upserts {
		rec := rec
		upsertPool.Go(func() {
			if ctx.Err() != nil {
				return
			}
			wasCreate := rec.SyncState == models.SyncStatePendingCreate

			if err := s.remote.PushRecord(ctx, userID, rec); err != nil {
				log.Printf("[sync] push %d failed: %v", rec.ID, err)
				if err := s.library.MarkFailed(rec.ID); err != nil {
					log.Printf("[sync] mark failed %d: %v", rec.ID, err)
				}
				summaryMu.Lock()
				summary.Failed++
				summaryMu.Unlock()
				return
			}
			if err := s.library.MarkSynced(rec.ID); err != nil {
				log.Printf("[sync] mark synced %d: %v", rec.ID, err)
			}
			summaryMu.Lock()
			if wasCreate {
				summary.Created++
			} else {
				summary.Updated++
			}
			summaryMu.Unlock()
		})
	}
	upsertPool.Wait()

	return summary, nil
}

// MergeRemote pulls the user's full remote collection and merges it into the
// local store. Runs on sign-in and whenever the remote watcher reports a
// change. Returns how many remote records were applied locally.
func (s *Service) MergeRemote(ctx context.Context) (int, error) {
	userID := s.session.CurrentUserID()
	if userID == "" {
		return 0, ErrNoSession
	}

	records, err := s.remote.PullAllRecords(ctx, userID)
	if err != nil {
		return 0, err
	}

	return s.ApplySnapshot(records)
}

// ApplySnapshot merges a remote snapshot into the local store record by
// record: unknown records are inserted as SYNCED, clean records are
// overwritten, records with a pending local edit are left alone.
func (s *Service) ApplySnapshot(records []models.MovieRecord) (int, error) {
	applied := 0
	for _, rec := range records {
		ok, err := s.library.ApplyRemote(rec)
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

// Status reports the most recent pass outcome.
func (s *Service) Status() models.SyncStatus {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	return models.SyncStatus{
		Running:     running,
		LastRunAt:   s.lastRunAt,
		LastSummary: s.lastSummary,
		LastError:   s.lastError,
	}
}
