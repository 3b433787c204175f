// Package errs defines the small set of error kinds shared across the
// audit engine, store façade, budgeted fetcher, and HTTP API.
//
// These replace the source system's exception-driven control flow (catch
// blocks keyed on error message substrings) with sentinel errors checked
// via errors.Is/errors.As at the decision points named in each component's
// contract. None of these carry a stack trace or dynamic payload beyond
// what the specific kind needs — they are control-flow signals, not
// diagnostic records (diagnostics belong in the structured log line the
// caller emits alongside them).
package errs

import "errors"

var (
	// ErrBudgetExhausted signals the tick's subrequest or wall-clock budget
	// was hit. Not a failure: callers stop gracefully and resume next tick.
	ErrBudgetExhausted = errors.New("budget exhausted")

	// ErrStoreConflict signals a 409 on the content store PUT that could
	// not be resolved by the one merge-retry in store.Store.Flush.
	ErrStoreConflict = errors.New("store conflict")

	// ErrStoreFatal signals a non-409 write failure against the content
	// store. The tick aborts; the next tick retries from persisted state.
	ErrStoreFatal = errors.New("store fatal error")

	// ErrClientInput signals malformed input at an API boundary (bad CID,
	// duplicate watchlist entry, unknown CID on add).
	ErrClientInput = errors.New("invalid input")

	// ErrNotFound signals a missing resource on a delete/lookup.
	ErrNotFound = errors.New("not found")

	// ErrTransientFetch signals a transient outbound failure (network
	// error, 5xx, 429). The fetcher makes a single attempt per call, so
	// callers treat it as "no data this tick".
	ErrTransientFetch = errors.New("transient fetch failure")
)
