// Package retry wraps the shared retry-with-backoff policy used by every
// remote balance write. Attempts and base delay are the only knobs callers
// get; the delay doubles after each failed attempt and the last error is
// surfaced when the budget is exhausted.
package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

// Do runs op up to attempts times, sleeping baseDelay, then 2*baseDelay, and
// so on between attempts. The context cancels the waits.
func Do(ctx context.Context, attempts uint, baseDelay time.Duration, op func() error) error {
	return retrygo.Do(
		op,
		retrygo.Context(ctx),
		retrygo.Attempts(attempts),
		retrygo.Delay(baseDelay),
		retrygo.DelayType(retrygo.BackOffDelay),
		retrygo.LastErrorOnly(true),
	)
}

// Unrecoverable marks an error so Do stops retrying immediately.
func Unrecoverable(err error) error {
	return retrygo.Unrecoverable(err)
}
