package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vatpac-currency/watchtower/obs"
	"github.com/vatpac-currency/watchtower/store"
)

// retryBaseInterval and retryMaxInterval are the store-write retry
// policy's exponential backoff bounds (spec.md §4.B). Variables, not
// constants, so tests can shrink them instead of sleeping real seconds.
var (
	retryBaseInterval = 700 * time.Millisecond
	retryMaxInterval  = 15 * time.Second
)

const retryMaxAttempts = 3

// RetryingContentStore wraps a store.ContentStore and retries Put up to
// retryMaxAttempts times with exponential backoff, honouring a
// server-supplied Retry-After on 403/429/5xx (store.RetryableError). A 409
// conflict is never retried here — it is returned immediately so
// store.Store.Flush can run its own merge-and-retry-once policy, which
// needs to re-read and re-encode the document between attempts rather
// than blindly resubmitting the same bytes.
type RetryingContentStore struct {
	inner   store.ContentStore
	metrics *obs.Metrics
}

// NewRetryingContentStore builds the decorator. metrics may be nil.
func NewRetryingContentStore(inner store.ContentStore, metrics *obs.Metrics) *RetryingContentStore {
	return &RetryingContentStore{inner: inner, metrics: metrics}
}

func (r *RetryingContentStore) Get(ctx context.Context, path string) ([]byte, string, error) {
	return r.inner.Get(ctx, path)
}

func (r *RetryingContentStore) Put(ctx context.Context, path string, data []byte, sha string, message string) (string, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = retryBaseInterval
	exp.MaxInterval = retryMaxInterval
	exp.MaxElapsedTime = 0 // bounded by attempt count, not elapsed wall time

	wrapped := &retryAfterBackOff{base: exp}
	bo := backoff.WithMaxRetries(wrapped, uint64(retryMaxAttempts-1))
	bo = backoff.WithContext(bo, ctx)

	var newSHA string
	op := func() error {
		sha2, err := r.inner.Put(ctx, path, data, sha, message)
		if err == nil {
			newSHA = sha2
			return nil
		}
		if errors.Is(err, store.ErrConflict) {
			return backoff.Permanent(err)
		}
		var retryable *store.RetryableError
		if errors.As(err, &retryable) {
			if r.metrics != nil {
				r.metrics.FetchRetries.Inc()
			}
			wrapped.override = retryable.RetryAfter
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}
	return newSHA, nil
}

// retryAfterBackOff delegates to an underlying backoff.BackOff but, when a
// server Retry-After hint is present, uses that instead of the computed
// exponential interval for the next wait.
type retryAfterBackOff struct {
	base     backoff.BackOff
	override time.Duration
}

func (r *retryAfterBackOff) NextBackOff() time.Duration {
	if r.override > 0 {
		d := r.override
		r.override = 0
		return d
	}
	return r.base.NextBackOff()
}

func (r *retryAfterBackOff) Reset() {
	r.override = 0
	r.base.Reset()
}
