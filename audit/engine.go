package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vatpac-currency/watchtower/errs"
	"github.com/vatpac-currency/watchtower/feed"
	"github.com/vatpac-currency/watchtower/fetch"
	"github.com/vatpac-currency/watchtower/obs"
	"github.com/vatpac-currency/watchtower/store"
)

const (
	jobKey       = "audit:job"
	firstSeenKey = "audit:first_seen"
)

func partialKey(scope Scope) string {
	return "audit:partial:" + string(scope)
}

// MaxProgEditsPerTick and ProgEditMinGap bound how often Engine.Tick fires
// its optional progress callback, capping the rate at which a UI-facing
// observer could be driven to re-render.
const (
	MaxProgEditsPerTick = 15
	ProgEditMinGap      = 600 * time.Millisecond
)

// ProgressEvent is emitted (at most MaxProgEditsPerTick times, at least
// ProgEditMinGap apart) as the engine advances through a job's slices.
type ProgressEvent struct {
	Scope  Scope
	Cursor int
	Total  int
	At     time.Time
}

// Engine is the tick-driven scheduler that advances the active job, if
// any, through up to BlockSize slices per invocation.
type Engine struct {
	members *feed.MembersClient
	metrics *obs.Metrics
	logger  *zap.Logger

	// OnProgress, if set, is called as CIDs are processed, throttled per
	// MaxProgEditsPerTick/ProgEditMinGap. Nil is a valid no-op default.
	OnProgress func(ProgressEvent)
}

// NewEngine builds an Engine. metrics and logger may be nil.
func NewEngine(members *feed.MembersClient, metrics *obs.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{members: members, metrics: metrics, logger: logger}
}

// Tick runs the audit engine's tick protocol (spec.md §4.E): load the
// active job, advance it by up to one block of slices while budget and
// wall-clock allow, and leave the updated job/partial results staged on
// s for the caller to flush. Returns false if there was no active job to
// advance.
func (e *Engine) Tick(ctx context.Context, s *store.Store, budget *fetch.Budget, now time.Time) (bool, error) {
	var job Job
	found, err := s.Get(jobKey, &job)
	if err != nil {
		return false, fmt.Errorf("audit: reading job: %w", err)
	}
	if !found || job.Done() {
		return false, nil
	}

	var partial PartialSet
	if err := s.GetDefault(partialKey(job.Scope), &partial); err != nil {
		return false, fmt.Errorf("audit: reading partial results: %w", err)
	}

	blocksDone := 0
	edits := 0
	var lastEdit time.Time

	for job.Cursor < job.Total && blocksDone < BlockSize && !budget.Expired() && budget.Remaining() > 0 {
		end := job.Cursor + SliceSize
		if end > job.Total {
			end = job.Total
		}
		slice := job.CIDs[job.Cursor:end]

		for i, cidStr := range slice {
			result := e.auditOne(ctx, s, job.Scope, cidStr, now)
			partial.Upsert(result)

			if e.metrics != nil {
				e.metrics.CIDsProcessedTotal.WithLabelValues(string(job.Scope)).Inc()
				if result.Flagged {
					e.metrics.FlaggedTotal.WithLabelValues(string(job.Scope)).Inc()
				}
			}

			if e.OnProgress != nil && edits < MaxProgEditsPerTick {
				wallNow := time.Now()
				if lastEdit.IsZero() || wallNow.Sub(lastEdit) >= ProgEditMinGap {
					e.OnProgress(ProgressEvent{
						Scope:  job.Scope,
						Cursor: job.Cursor + i + 1,
						Total:  job.Total,
						At:     wallNow,
					})
					lastEdit = wallNow
					edits++
				}
			}
		}

		job.Cursor = end
		blocksDone++
	}

	if err := s.Set(partialKey(job.Scope), partial); err != nil {
		return false, fmt.Errorf("audit: saving partial results: %w", err)
	}
	if job.Done() {
		s.Del(jobKey)
	} else {
		if err := s.Set(jobKey, job); err != nil {
			return false, fmt.Errorf("audit: saving job: %w", err)
		}
	}
	return true, nil
}

// auditOne computes the verdict for one CID, never returning an error:
// fetch failures are recorded as an incomplete result per spec.md §4.E's
// failure semantics, leaving the next sweep to re-evaluate.
func (e *Engine) auditOne(ctx context.Context, s *store.Store, scope Scope, cidStr string, now time.Time) PartialResult {
	firstSeen := e.firstSeen(s, cidStr, now)

	rating, ratingErr := e.lookupRating(ctx, s, cidStr)
	if ratingErr == nil && rating == "S1" && now.Sub(time.Unix(firstSeen, 0)) < S1ExemptDays*24*time.Hour {
		return PartialResult{CID: cidStr, Flagged: false, Exempt: true, ComputedAt: now.Unix()}
	}

	exists, err := e.members.Exists(ctx, cidStr)
	if err != nil {
		e.logger.Warn("audit: existence check failed", zap.String("cid", cidStr), zap.Error(err))
		return PartialResult{CID: cidStr, Flagged: false, Incomplete: true, ComputedAt: now.Unix()}
	}
	if !exists {
		// Missing members stay in the job and are marked, not dropped,
		// per spec.md §4.E's resolution of the source's ambiguity.
		return PartialResult{CID: cidStr, Flagged: false, Missing: true, ComputedAt: now.Unix()}
	}

	rule, err := Rule(scope)
	if err != nil {
		return PartialResult{CID: cidStr, Flagged: false, Incomplete: true, ComputedAt: now.Unix()}
	}

	since := now.AddDate(0, -rule.LookbackMonths, 0)
	sessions, err := e.members.Sessions(ctx, cidStr, since)
	if err != nil {
		e.logger.Warn("audit: sessions fetch failed", zap.String("cid", cidStr), zap.Error(err))
		return PartialResult{CID: cidStr, Flagged: false, Incomplete: true, ComputedAt: now.Unix()}
	}

	var total time.Duration
	var lastSession time.Time
	for _, sess := range sessions {
		total += sess.Duration()
		if sess.End.After(lastSession) {
			lastSession = sess.End
		}
	}

	hours := total.Hours()
	result := PartialResult{
		CID:        cidStr,
		Hours:      hours,
		Flagged:    hours < rule.HoursRequired,
		ComputedAt: now.Unix(),
	}
	if !lastSession.IsZero() {
		result.LastSession = lastSession.UTC().Format(time.RFC3339)
	}
	return result
}

// firstSeen returns the epoch-seconds timestamp of cid's first
// appearance in an audit, stamping it now if this is the first time it
// is observed.
func (e *Engine) firstSeen(s *store.Store, cidStr string, now time.Time) int64 {
	var seen map[string]int64
	_ = s.GetDefault(firstSeenKey, &seen)
	if seen == nil {
		seen = make(map[string]int64)
	}
	if ts, ok := seen[cidStr]; ok {
		return ts
	}
	seen[cidStr] = now.Unix()
	_ = s.Set(firstSeenKey, seen)
	return now.Unix()
}

type cachedRating struct {
	Rating string `json:"rating"`
}

// lookupRating resolves a controller's rating from the 24h rating cache,
// falling back to the member directory on a miss.
func (e *Engine) lookupRating(ctx context.Context, s *store.Store, cidStr string) (string, error) {
	key := "rating:" + cidStr
	var cached cachedRating
	if found, err := s.CacheGet(key, 24*time.Hour, &cached); err == nil && found {
		return cached.Rating, nil
	}

	meta, err := e.members.Meta(ctx, cidStr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrTransientFetch, err)
	}
	_ = s.CachePut(key, cachedRating{Rating: meta.Rating})
	return meta.Rating, nil
}
