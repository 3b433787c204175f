// Package schedule implements component F: the quarterly auto-trigger
// that enqueues a visiting-scope audit at each quarter-start UTC instant,
// exactly once per quarter regardless of how many ticks observe it.
package schedule

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vatpac-currency/watchtower/audit"
	"github.com/vatpac-currency/watchtower/obs"
	"github.com/vatpac-currency/watchtower/store"
)

const jobKey = "audit:job"

func quarterMarkerKey(key string) string {
	return "quarter:auto:" + key
}

// quarterMarker is the idempotency marker stored at quarter:auto:<key>.
type quarterMarker struct {
	Done bool  `json:"done"`
	At   int64 `json:"at"`
}

// IsQuarterStart reports whether now falls within the quarter-start
// hour: 00:00-00:59 UTC on the first day of Jan/Apr/Jul/Oct. The window
// spans the whole hour (not just its first minute) because the quarterly
// marker, not the instant check, is what makes enqueue idempotent across
// the several 5-minute ticks that land within it.
func IsQuarterStart(now time.Time) bool {
	u := now.UTC()
	switch u.Month() {
	case time.January, time.April, time.July, time.October:
	default:
		return false
	}
	return u.Day() == 1 && u.Hour() == 0
}

// PreviousQuarterKey returns the YYYYQn key for the quarter that just
// ended as of now — e.g. at 2025-04-01T00:00Z (the start of Q2) this
// returns "2025Q1", the quarter the marker is meant to close out.
func PreviousQuarterKey(now time.Time) string {
	u := now.UTC()
	q := (int(u.Month())-1)/3 + 1
	year := u.Year()
	q--
	if q == 0 {
		q = 4
		year--
	}
	return fmt.Sprintf("%dQ%d", year, q)
}

// Trigger owns the quarterly enqueue decision.
type Trigger struct {
	metrics *obs.Metrics
	logger  *zap.Logger
}

// NewTrigger builds a Trigger. metrics and logger may be nil.
func NewTrigger(metrics *obs.Metrics, logger *zap.Logger) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{metrics: metrics, logger: logger}
}

// Fire checks whether now is a quarter-start instant not yet handled; if
// so, it constructs a fresh visiting job from watchlist, clears any
// stale visiting partial results, stages both, and stamps the quarter's
// idempotency marker. Returns whether a job was enqueued.
func (t *Trigger) Fire(ctx context.Context, s *store.Store, watchlist []string, now time.Time) (bool, error) {
	if !IsQuarterStart(now) {
		return false, nil
	}

	key := quarterMarkerKey(PreviousQuarterKey(now))
	var marker quarterMarker
	found, err := s.Get(key, &marker)
	if err != nil {
		return false, fmt.Errorf("schedule: reading quarter marker: %w", err)
	}
	if found && marker.Done {
		return false, nil
	}

	job := audit.NewJob(audit.ScopeVisiting, watchlist, now)
	if err := s.Set(jobKey, job); err != nil {
		return false, fmt.Errorf("schedule: staging quarterly job: %w", err)
	}
	s.Del("audit:partial:visiting")

	if err := s.Set(key, quarterMarker{Done: true, At: now.Unix()}); err != nil {
		return false, fmt.Errorf("schedule: stamping quarter marker: %w", err)
	}

	if t.metrics != nil {
		t.metrics.QuarterlyEnqueues.Inc()
	}
	t.logger.Info("schedule: quarterly audit enqueued", zap.String("quarter", PreviousQuarterKey(now)), zap.Int("cids", len(watchlist)))
	return true, nil
}
