package fetch

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vatpac-currency/watchtower/errs"
	"github.com/vatpac-currency/watchtower/obs"
)

// DefaultTimeout is the per-call timeout used when a Fetcher is
// constructed without an explicit override (spec.md §4.B).
const DefaultTimeout = 25 * time.Second

// defaultOutboundRPS and defaultOutboundBurst bound how fast a Fetcher
// will issue calls against one upstream, independent of the tick's total
// call-count Budget: Budget caps how many calls a tick may spend in total,
// this caps how bursty they're allowed to be, the same per-origin
// throttle warming/service.go applies with its own rate.Limiter.
const (
	defaultOutboundRPS   = 10
	defaultOutboundBurst = 10
)

// Fetcher wraps an *http.Client with per-tick budget accounting. Every
// outbound call — data feed polls, existence lookups, rating/session
// fetches — goes through Do, which is single-attempt: spec.md §4.B treats
// data-plane fetch failure as "no data this tick", letting the next tick's
// slice retry rather than burning budget on retries here.
type Fetcher struct {
	client  *http.Client
	budget  *Budget
	timeout time.Duration
	metrics *obs.Metrics
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewFetcher builds a Fetcher. A timeout of zero or less falls back to
// DefaultTimeout; client may be nil, in which case a client whose Timeout
// is that resolved per-call timeout is used.
func NewFetcher(client *http.Client, budget *Budget, timeout time.Duration, metrics *obs.Metrics, logger *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:  client,
		budget:  budget,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(defaultOutboundRPS), defaultOutboundBurst),
	}
}

// Do issues req under the shared tick budget. It returns errs.ErrBudgetExhausted
// without making any network call when the budget is spent, and wraps
// network errors and 429/5xx responses as errs.ErrTransientFetch so
// callers can treat both identically ("no data this tick").
func (f *Fetcher) Do(req *http.Request) (*http.Response, error) {
	if !f.budget.Allow(f.timeout) {
		if f.metrics != nil {
			f.metrics.FetchBudgetExhausted.Inc()
		}
		return nil, errs.ErrBudgetExhausted
	}

	ctx, cancel := withTimeout(req, f.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %s %s: %v", errs.ErrTransientFetch, req.Method, req.URL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", errs.ErrTransientFetch, req.Method, req.URL, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s: status %d", errs.ErrTransientFetch, req.Method, req.URL, resp.StatusCode)
	}
	return resp, nil
}

// Budget exposes the shared Budget for callers (e.g. the engine) that need
// to decide how many more CIDs to attempt this tick.
func (f *Fetcher) Budget() *Budget {
	return f.budget
}
