// Package cleanup implements component H: periodic pruning of expired
// cache entries within the store document.
package cleanup

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vatpac-currency/watchtower/obs"
	"github.com/vatpac-currency/watchtower/store"
)

const (
	lastCleanupKey = "_last_cleanup"
	minInterval    = 6 * time.Hour
)

// ttlPrefixes maps a key prefix to the relative TTL used by cached_at
// entries under it, per spec.md §3's key namespace.
var ttlPrefixes = map[string]time.Duration{
	"rating:":     24 * time.Hour,
	"division:":   24 * time.Hour,
	"member:":     24 * time.Hour,
	"membermeta:": 7 * 24 * time.Hour,
}

// absoluteExpiryPrefixes are keys whose entries carry an expiresAt
// rather than a relative cached_at.
var absoluteExpiryPrefixes = []string{
	"cooldown:online:",
	"cooldown:offline:",
	"cooldown:flag:",
}

type cachedAtEnvelope struct {
	CachedAt int64 `json:"cached_at"`
}

type expiresAtEnvelope struct {
	ExpiresAt int64 `json:"expiresAt"`
}

// Sweeper runs the periodic store cleanup.
type Sweeper struct {
	metrics *obs.Metrics
	logger  *zap.Logger
}

// NewSweeper builds a Sweeper. metrics and logger may be nil.
func NewSweeper(metrics *obs.Metrics, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{metrics: metrics, logger: logger}
}

// Due reports whether a sweep should run: at least minInterval has
// elapsed since the last recorded cleanup (or none has ever run).
func (c *Sweeper) Due(s *store.Store, now time.Time) bool {
	var last int64
	found, err := s.Get(lastCleanupKey, &last)
	if err != nil || !found {
		return true
	}
	return now.Sub(time.Unix(last, 0)) >= minInterval
}

// Sweep deletes every expired entry it can classify, bounded by budget:
// it stops scanning (leaving the rest for next time) once budget
// elapses, since deletions are idempotent and a partial sweep is
// harmless. It always stamps _last_cleanup so repeated ticks don't
// re-scan immediately. now is the logical tick time used to classify
// expiry; budget bounds the wall-clock time actually spent scanning.
func (c *Sweeper) Sweep(ctx context.Context, s *store.Store, now time.Time, budget time.Duration) (dropped int, err error) {
	start := time.Now()
	keys := s.Keys()
	for _, key := range keys {
		if time.Since(start) > budget {
			break
		}
		if c.expired(s, key, now) {
			s.Del(key)
			dropped++
		}
	}

	if err := s.Set(lastCleanupKey, now.Unix()); err != nil {
		return dropped, err
	}
	if c.metrics != nil && dropped > 0 {
		c.metrics.CleanupEntriesDropped.Add(float64(dropped))
	}
	c.logger.Info("cleanup: sweep complete", zap.Int("dropped", dropped), zap.Int("scanned", len(keys)))
	return dropped, nil
}

// expired classifies key by prefix and decides whether its current
// value is stale. Keys this sweep doesn't recognise (watchlist,
// online_state, audit:job, ...) are never touched.
func (c *Sweeper) expired(s *store.Store, key string, now time.Time) bool {
	for prefix, ttl := range ttlPrefixes {
		if strings.HasPrefix(key, prefix) {
			var env cachedAtEnvelope
			if found, err := s.Get(key, &env); err != nil || !found {
				return false
			}
			// Double the TTL before dropping, per spec.md §4.H: a
			// cache entry is still honored (if stale) by cacheGet's
			// own maxAge check well before this sweep would drop it.
			return now.Sub(time.Unix(env.CachedAt, 0)) > 2*ttl
		}
	}

	for _, prefix := range absoluteExpiryPrefixes {
		if strings.HasPrefix(key, prefix) {
			var env expiresAtEnvelope
			if found, err := s.Get(key, &env); err != nil || !found {
				return false
			}
			return now.Unix() > env.ExpiresAt
		}
	}

	if strings.HasPrefix(key, "quarter:auto:") {
		// Idempotency markers are tiny and cheap to keep; they are not
		// swept, matching spec.md §3's silence on their expiry.
		return false
	}

	return false
}
