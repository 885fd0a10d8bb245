package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"reelay/models"
	"reelay/services/remote"
)

func record(id int64) models.MovieRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return models.MovieRecord{
		ID:           id,
		Title:        fmt.Sprintf("Movie %d", id),
		ReleaseDate:  "2012-07-20",
		IsSeen:       true,
		AddedAt:      now,
		LastModified: now,
		SyncState:    models.SyncStatePendingCreate,
	}
}

// documentServer is a tiny in-memory double of the remote store.
type documentServer struct {
	mu      sync.Mutex
	movies  map[string]map[string]json.RawMessage
	credits map[string]int
}

func newDocumentServer() *documentServer {
	return &documentServer{
		movies:  make(map[string]map[string]json.RawMessage),
		credits: make(map[string]int),
	}
}

func (s *documentServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("PUT /v1/users/{uid}/movies/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		uid := r.PathValue("uid")
		var doc json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if s.movies[uid] == nil {
			s.movies[uid] = make(map[string]json.RawMessage)
		}
		s.movies[uid][r.PathValue("id")] = doc
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /v1/users/{uid}/movies", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		docs := make([]json.RawMessage, 0)
		for _, doc := range s.movies[r.PathValue("uid")] {
			docs = append(docs, doc)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(docs)
	})

	mux.HandleFunc("DELETE /v1/users/{uid}/movies/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		uid, id := r.PathValue("uid"), r.PathValue("id")
		if _, ok := s.movies[uid][id]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(s.movies[uid], id)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /v1/users/{uid}/profile", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		value, ok := s.credits[r.PathValue("uid")]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			json.NewEncoder(w).Encode(map[string]any{})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"credits": value})
	})

	mux.HandleFunc("PATCH /v1/users/{uid}/profile", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		var doc struct {
			Credits *int `json:"credits"`
		}
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil || doc.Credits == nil {
			http.Error(w, "credits field required", http.StatusBadRequest)
			return
		}
		s.credits[r.PathValue("uid")] = *doc.Credits
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func newTestClient(t *testing.T) (*remote.Client, *documentServer) {
	t.Helper()
	store := newDocumentServer()
	srv := httptest.NewServer(store.handler(t))
	t.Cleanup(srv.Close)
	return remote.NewClient(srv.URL, "test-api-key"), store
}

func TestPushAndPullRecords(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	if err := client.PushRecord(ctx, "user-1", record(42)); err != nil {
		t.Fatalf("push returned error: %v", err)
	}

	records, err := client.PullAllRecords(ctx, "user-1")
	if err != nil {
		t.Fatalf("pull returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].ID != 42 || !records[0].IsSeen {
		t.Fatalf("unexpected record: %+v", records[0])
	}
	if records[0].SyncState != models.SyncStateSynced {
		t.Fatalf("pulled records must come back SYNCED, got %s", records[0].SyncState)
	}
}

func TestPushRecordIsIdempotent(t *testing.T) {
	client, store := newTestClient(t)
	ctx := context.Background()

	rec := record(42)
	if err := client.PushRecord(ctx, "user-1", rec); err != nil {
		t.Fatalf("first push returned error: %v", err)
	}
	if err := client.PushRecord(ctx, "user-1", rec); err != nil {
		t.Fatalf("second push returned error: %v", err)
	}

	store.mu.Lock()
	count := len(store.movies["user-1"])
	store.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected one document after duplicate push, got %d", count)
	}
}

func TestDeleteRecordToleratesMissingDocument(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	if err := client.DeleteRecord(ctx, "user-1", 999); err != nil {
		t.Fatalf("delete of missing document returned error: %v", err)
	}
}

func TestCreditsRoundTrip(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	// A brand-new profile has no balance.
	_, ok, err := client.PullCredits(ctx, "user-1")
	if err != nil {
		t.Fatalf("pull credits returned error: %v", err)
	}
	if ok {
		t.Fatal("expected no balance for a new user")
	}

	if err := client.PushCredits(ctx, "user-1", 3); err != nil {
		t.Fatalf("push credits returned error: %v", err)
	}

	value, ok, err := client.PullCredits(ctx, "user-1")
	if err != nil {
		t.Fatalf("pull credits returned error: %v", err)
	}
	if !ok || value != 3 {
		t.Fatalf("expected balance 3, got %d (ok=%v)", value, ok)
	}
}

func TestUserIDRequired(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	if err := client.PushRecord(ctx, "", record(1)); !errors.Is(err, remote.ErrUserIDRequired) {
		t.Fatalf("expected ErrUserIDRequired, got %v", err)
	}
	if _, err := client.PullAllRecords(ctx, "  "); !errors.Is(err, remote.ErrUserIDRequired) {
		t.Fatalf("expected ErrUserIDRequired, got %v", err)
	}
}

func TestServerErrorsAreNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := remote.NewClient(srv.URL, "test-api-key")

	err := client.PushRecord(context.Background(), "user-1", record(1))
	if !errors.Is(err, remote.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestTransportFailuresAreNetworkErrors(t *testing.T) {
	// Point at a closed server.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := remote.NewClient(srv.URL, "test-api-key")

	_, err := client.PullAllRecords(context.Background(), "user-1")
	if !errors.Is(err, remote.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestWatchRecordsEmitsOnChange(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := client.WatchRecords(ctx, "user-1", 30*time.Millisecond)

	// First poll: the empty collection counts as the initial snapshot.
	select {
	case snapshot := <-updates:
		if len(snapshot) != 0 {
			t.Fatalf("expected empty initial snapshot, got %d", len(snapshot))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial snapshot")
	}

	if err := client.PushRecord(ctx, "user-1", record(42)); err != nil {
		t.Fatalf("push returned error: %v", err)
	}

	select {
	case snapshot := <-updates:
		if len(snapshot) != 1 || snapshot[0].ID != 42 {
			t.Fatalf("unexpected snapshot: %+v", snapshot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change snapshot")
	}
}
