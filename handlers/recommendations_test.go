package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reelay/handlers"
	"reelay/models"
	"reelay/services/credits"
	"reelay/services/library"

	"github.com/gorilla/mux"
)

type fakeStore struct {
	suggested []models.MovieRecord
	seenCount int
	accepted  []int64
	rejected  []int64
	missing   bool
}

func (s *fakeStore) QueryBy(f library.Filter) ([]models.MovieRecord, error) {
	return s.suggested, nil
}

func (s *fakeStore) SeenCount() (int, error) {
	return s.seenCount, nil
}

func (s *fakeStore) AcceptSuggestion(id int64, asSeen bool) (models.MovieRecord, error) {
	if s.missing {
		return models.MovieRecord{}, library.ErrNotFound
	}
	s.accepted = append(s.accepted, id)
	return models.MovieRecord{ID: id, IsWatchlist: !asSeen, IsSeen: asSeen}, nil
}

func (s *fakeStore) RejectSuggestion(id int64) (models.MovieRecord, error) {
	if s.missing {
		return models.MovieRecord{}, library.ErrNotFound
	}
	s.rejected = append(s.rejected, id)
	return models.MovieRecord{ID: id, NotInterested: true}, nil
}

type fakeLedger struct {
	balance    int
	balanceErr error
	deducted   int
	added      int
	refund     bool
}

func (l *fakeLedger) Balance(ctx context.Context) (int, error) {
	return l.balance, l.balanceErr
}

func (l *fakeLedger) Deduct(ctx context.Context, amount int) error {
	if l.balance < amount {
		return credits.ErrInsufficientBalance
	}
	l.balance -= amount
	l.deducted += amount
	return nil
}

func (l *fakeLedger) Add(ctx context.Context, amount int) error {
	l.balance += amount
	l.added += amount
	return nil
}

func (l *fakeLedger) RefundOnFailure() bool { return l.refund }

type fakeEngine struct {
	records []models.MovieRecord
	err     error
	calls   int
}

func (e *fakeEngine) Suggest(ctx context.Context) ([]models.MovieRecord, error) {
	e.calls++
	return e.records, e.err
}

func TestGenerateRecommendations(t *testing.T) {
	store := &fakeStore{seenCount: 8}
	ledger := &fakeLedger{balance: 3}
	engine := &fakeEngine{records: []models.MovieRecord{{ID: 1, Title: "Heat"}}}

	h := handlers.NewRecommendationsHandler(store, ledger, engine)

	req := httptest.NewRequest(http.MethodPost, "/api/recommendations", nil)
	rec := httptest.NewRecorder()
	h.Generate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ledger.deducted != 1 {
		t.Fatalf("expected 1 credit deducted, got %d", ledger.deducted)
	}
	if engine.calls != 1 {
		t.Fatalf("expected one generation run, got %d", engine.calls)
	}

	var out []models.MovieRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(out) != 1 || out[0].Title != "Heat" {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestGenerateRequiresFiveSeenMovies(t *testing.T) {
	store := &fakeStore{seenCount: 4}
	ledger := &fakeLedger{balance: 3}
	engine := &fakeEngine{}

	h := handlers.NewRecommendationsHandler(store, ledger, engine)

	req := httptest.NewRequest(http.MethodPost, "/api/recommendations", nil)
	rec := httptest.NewRecorder()
	h.Generate(rec, req)

	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected status 412, got %d", rec.Code)
	}
	if ledger.deducted != 0 {
		t.Fatalf("no credits should be charged, got %d", ledger.deducted)
	}
	if engine.calls != 0 {
		t.Fatalf("generation should not run, got %d calls", engine.calls)
	}
}

func TestGenerateRequiresCredits(t *testing.T) {
	store := &fakeStore{seenCount: 8}
	ledger := &fakeLedger{balance: 0}
	engine := &fakeEngine{}

	h := handlers.NewRecommendationsHandler(store, ledger, engine)

	req := httptest.NewRequest(http.MethodPost, "/api/recommendations", nil)
	rec := httptest.NewRecorder()
	h.Generate(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", rec.Code)
	}
	if engine.calls != 0 {
		t.Fatalf("generation should not run, got %d calls", engine.calls)
	}
}

func TestGenerateRequiresSession(t *testing.T) {
	store := &fakeStore{seenCount: 8}
	ledger := &fakeLedger{balanceErr: credits.ErrAuthRequired}
	engine := &fakeEngine{}

	h := handlers.NewRecommendationsHandler(store, ledger, engine)

	req := httptest.NewRequest(http.MethodPost, "/api/recommendations", nil)
	rec := httptest.NewRecorder()
	h.Generate(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestGenerateFailureKeepsChargeByDefault(t *testing.T) {
	store := &fakeStore{seenCount: 8}
	ledger := &fakeLedger{balance: 3}
	engine := &fakeEngine{err: errors.New("model unavailable")}

	h := handlers.NewRecommendationsHandler(store, ledger, engine)

	req := httptest.NewRequest(http.MethodPost, "/api/recommendations", nil)
	rec := httptest.NewRecorder()
	h.Generate(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	if ledger.balance != 2 {
		t.Fatalf("expected the charge to stand, balance is %d", ledger.balance)
	}
}

func TestGenerateFailureRefundsWhenConfigured(t *testing.T) {
	store := &fakeStore{seenCount: 8}
	ledger := &fakeLedger{balance: 3, refund: true}
	engine := &fakeEngine{err: errors.New("model unavailable")}

	h := handlers.NewRecommendationsHandler(store, ledger, engine)

	req := httptest.NewRequest(http.MethodPost, "/api/recommendations", nil)
	rec := httptest.NewRecorder()
	h.Generate(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	if ledger.balance != 3 {
		t.Fatalf("expected the charge refunded, balance is %d", ledger.balance)
	}
	if ledger.added != 1 {
		t.Fatalf("expected one refund, got %d", ledger.added)
	}
}

func TestListRecommendations(t *testing.T) {
	store := &fakeStore{suggested: []models.MovieRecord{{ID: 7, Title: "Ran", AIReason: "epic scope"}}}

	h := handlers.NewRecommendationsHandler(store, &fakeLedger{}, &fakeEngine{})

	req := httptest.NewRequest(http.MethodGet, "/api/recommendations", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var out []models.MovieRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(out) != 1 || out[0].AIReason != "epic scope" {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestAcceptRecommendation(t *testing.T) {
	store := &fakeStore{}

	h := handlers.NewRecommendationsHandler(store, &fakeLedger{}, &fakeEngine{})

	req := httptest.NewRequest(http.MethodPost, "/api/recommendations/7/accept", strings.NewReader(`{"asSeen":true}`))
	req = mux.SetURLVars(req, map[string]string{"movieID": "7"})
	rec := httptest.NewRecorder()
	h.Accept(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.accepted) != 1 || store.accepted[0] != 7 {
		t.Fatalf("unexpected accepted ids: %v", store.accepted)
	}

	var out models.MovieRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !out.IsSeen {
		t.Fatalf("expected asSeen accept to mark seen: %+v", out)
	}
}

func TestAcceptUnknownRecommendation(t *testing.T) {
	store := &fakeStore{missing: true}

	h := handlers.NewRecommendationsHandler(store, &fakeLedger{}, &fakeEngine{})

	req := httptest.NewRequest(http.MethodPost, "/api/recommendations/7/accept", strings.NewReader(`{}`))
	req = mux.SetURLVars(req, map[string]string{"movieID": "7"})
	rec := httptest.NewRecorder()
	h.Accept(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestRejectRecommendation(t *testing.T) {
	store := &fakeStore{}

	h := handlers.NewRecommendationsHandler(store, &fakeLedger{}, &fakeEngine{})

	req := httptest.NewRequest(http.MethodPost, "/api/recommendations/7/reject", nil)
	req = mux.SetURLVars(req, map[string]string{"movieID": "7"})
	rec := httptest.NewRecorder()
	h.Reject(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if len(store.rejected) != 1 || store.rejected[0] != 7 {
		t.Fatalf("unexpected rejected ids: %v", store.rejected)
	}
}

func TestRejectRejectsBadMovieID(t *testing.T) {
	h := handlers.NewRecommendationsHandler(&fakeStore{}, &fakeLedger{}, &fakeEngine{})

	req := httptest.NewRequest(http.MethodPost, "/api/recommendations/zero/reject", nil)
	req = mux.SetURLVars(req, map[string]string{"movieID": "zero"})
	rec := httptest.NewRecorder()
	h.Reject(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestGenerateEmptyResultRefundsWhenConfigured(t *testing.T) {
	store := &fakeStore{seenCount: 8}
	ledger := &fakeLedger{balance: 3, refund: true}
	engine := &fakeEngine{}

	h := handlers.NewRecommendationsHandler(store, ledger, engine)

	req := httptest.NewRequest(http.MethodPost, "/api/recommendations", nil)
	rec := httptest.NewRecorder()
	h.Generate(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	if engine.calls != 1 {
		t.Fatalf("expected one generation run, got %d", engine.calls)
	}
	if ledger.balance != 3 {
		t.Fatalf("expected the charge refunded, balance is %d", ledger.balance)
	}
}

func TestGenerateEmptyResultKeepsChargeByDefault(t *testing.T) {
	store := &fakeStore{seenCount: 8}
	ledger := &fakeLedger{balance: 3}
	engine := &fakeEngine{}

	h := handlers.NewRecommendationsHandler(store, ledger, engine)

	req := httptest.NewRequest(http.MethodPost, "/api/recommendations", nil)
	rec := httptest.NewRecorder()
	h.Generate(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	if ledger.balance != 2 {
		t.Fatalf("expected the charge to stand, balance is %d", ledger.balance)
	}
}
