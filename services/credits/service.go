// Package credits owns the per-user generation credit balance. It is the
// only writer of the balance: a deduction checks sufficiency locally, writes
// the new value remotely with retry, and only then updates the local cache,
// so a partial deduction is never observable.
package credits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"reelay/utils/retry"
)

var (
	ErrInsufficientBalance = errors.New("insufficient credit balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrAuthRequired        = errors.New("sign in required")
)

type balanceStore interface {
	PushCredits(ctx context.Context, userID string, value int) error
	PullCredits(ctx context.Context, userID string) (value int, ok bool, err error)
}

type sessionProvider interface {
	CurrentUserID() string
}

// Options tune the ledger's retry policy and signup behavior.
type Options struct {
	// Attempts and BaseDelay shape the remote write retry: BaseDelay, then
	// double it between each further attempt.
	Attempts  uint
	BaseDelay time.Duration
	// SignupGrant is written as the initial balance for a user whose profile
	// has no balance yet.
	SignupGrant int
	// RefundOnFailure controls whether the generation fee is re-credited
	// when the pipeline fails after a successful deduction.
	RefundOnFailure bool
}

// Service is the credit ledger.
type Service struct {
	remote  balanceStore
	session sessionProvider
	opts    Options

	// mu serializes whole balance operations, not just cache access. A
	// deduction's sufficiency check, remote write, and cache update must
	// act as one unit or two concurrent deductions could both spend the
	// same credit.
	mu         sync.Mutex
	cachedUser string
	cached     int
	hasCache   bool
}

// NewService creates a credit ledger over the remote balance store.
func NewService(remote balanceStore, session sessionProvider, opts Options) *Service {
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	return &Service{remote: remote, session: session, opts: opts}
}

// RefundOnFailure reports the configured refund policy.
func (s *Service) RefundOnFailure() bool {
	return s.opts.RefundOnFailure
}

// Balance returns the current balance, from the local cache when present,
// otherwise fetched from the remote profile. A brand-new user gets the
// signup grant pushed as their initial balance.
func (s *Service) Balance(ctx context.Context) (int, error) {
	userID := s.session.CurrentUserID()
	if userID == "" {
		return 0, ErrAuthRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(ctx, userID)
}

// balanceLocked reads the balance for userID. Callers hold s.mu.
func (s *Service) balanceLocked(ctx context.Context, userID string) (int, error) {
	if s.hasCache && s.cachedUser == userID {
		return s.cached, nil
	}

	value, ok, err := s.remote.PullCredits(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		value = s.opts.SignupGrant
		if err := s.pushWithRetry(ctx, userID, value); err != nil {
			return 0, fmt.Errorf("initialize balance: %w", err)
		}
	}

	s.setCacheLocked(userID, value)
	return value, nil
}

// Deduct removes amount from the balance. It fails with
// ErrInsufficientBalance before any remote call when the balance is too low.
// The local cache is only updated after the remote write is confirmed; if
// the write exhausts its retries the deduction is not applied anywhere.
func (s *Service) Deduct(ctx context.Context, amount int) error {
	return s.adjust(ctx, -amount, amount)
}

// Add credits amount to the balance, used for purchase crediting and
// failure refunds. Same retry discipline as Deduct.
func (s *Service) Add(ctx context.Context, amount int) error {
	return s.adjust(ctx, amount, amount)
}

func (s *Service) adjust(ctx context.Context, delta, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	userID := s.session.CurrentUserID()
	if userID == "" {
		return ErrAuthRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance, err := s.balanceLocked(ctx, userID)
	if err != nil {
		return err
	}

	if delta < 0 && amount > balance {
		return ErrInsufficientBalance
	}

	newBalance := balance + delta
	if err := s.pushWithRetry(ctx, userID, newBalance); err != nil {
		return err
	}

	s.setCacheLocked(userID, newBalance)
	return nil
}

func (s *Service) pushWithRetry(ctx context.Context, userID string, value int) error {
	return retry.Do(ctx, s.opts.Attempts, s.opts.BaseDelay, func() error {
		return s.remote.PushCredits(ctx, userID, value)
	})
}

// setCacheLocked records the confirmed balance. Callers hold s.mu.
func (s *Service) setCacheLocked(userID string, value int) {
	s.cachedUser = userID
	s.cached = value
	s.hasCache = true
}

// Invalidate drops the cached balance, forcing the next read to hit the
// remote profile. Called on sign-out.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.hasCache = false
	s.cachedUser = ""
	s.mu.Unlock()
}
