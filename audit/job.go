// Package audit implements components D and E: the audit job model and
// the tick-driven engine that advances it. A job captures one scoped
// sweep over a frozen CID list; the engine walks the list in bounded
// slices, fetching activity and computing a pass/fail verdict per
// controller.
package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scope selects the activity threshold and lookback window for a sweep.
type Scope string

const (
	ScopeVisiting Scope = "visiting"
	ScopeLocal    Scope = "local"
)

// SliceSize is the number of CIDs processed per slice; BlockSize is the
// number of slices processed per tick at most.
const (
	SliceSize = 10
	BlockSize = 4
)

// S1ExemptDays is the grace period after a controller's first appearance
// during which an S1-rated controller is exempt from the hours check.
const S1ExemptDays = 90

// scopeRule holds the scope-dependent hours requirement and lookback
// window, resolving spec.md §9 open question 4 (the source only states
// one 3-month pair; both scopes in fact share the same 3-month lookback,
// differing only in required hours).
type scopeRule struct {
	HoursRequired float64
	LookbackMonths int
}

var scopeRules = map[Scope]scopeRule{
	ScopeVisiting: {HoursRequired: 10, LookbackMonths: 3},
	ScopeLocal:    {HoursRequired: 15, LookbackMonths: 3},
}

// Rule returns the scope's hours/lookback requirement. The caller is
// expected to only pass a Scope obtained from ParseScope or one of the
// Scope constants.
func Rule(scope Scope) (scopeRule, error) {
	r, ok := scopeRules[scope]
	if !ok {
		return scopeRule{}, fmt.Errorf("audit: unknown scope %q", scope)
	}
	return r, nil
}

// ParseScope validates a scope string from an API path parameter.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeVisiting, ScopeLocal:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("audit: invalid scope %q", s)
	}
}

// Job is the single active sweep, at most one across both scopes. The
// CID list is frozen at creation; cursor is the sole mutation vector.
type Job struct {
	ID        string   `json:"id"`
	Scope     Scope    `json:"scope"`
	CIDs      []string `json:"cids"`
	Cursor    int      `json:"cursor"`
	Total     int      `json:"total"`
	CreatedAt int64    `json:"created_at"`
}

// NewJob freezes cids into a job ready for the engine to process, stamping
// a fresh ID so the API can address this sweep across ticks.
func NewJob(scope Scope, cids []string, now time.Time) Job {
	frozen := append([]string(nil), cids...)
	return Job{
		ID:        uuid.New().String(),
		Scope:     scope,
		CIDs:      frozen,
		Cursor:    0,
		Total:     len(frozen),
		CreatedAt: now.Unix(),
	}
}

// Done reports whether the job has processed its entire CID list.
func (j Job) Done() bool {
	return j.Cursor >= j.Total
}

// PartialResult is the latest computed verdict for one CID within a
// scope; upserted into audit:partial:<scope> keyed by CID.
type PartialResult struct {
	CID         string  `json:"cid"`
	Hours       float64 `json:"hours"`
	Flagged     bool    `json:"flagged"`
	LastSession string  `json:"last_session,omitempty"`
	ComputedAt  int64   `json:"computed_at"`
	Exempt      bool    `json:"exempt,omitempty"`
	Missing     bool    `json:"missing,omitempty"`
	Incomplete  bool    `json:"incomplete,omitempty"`
}

// PartialSet is the ordered audit:partial:<scope> document: a sequence
// of results, upserted by CID with a linear scan.
type PartialSet struct {
	Results []PartialResult `json:"results"`
}

// Upsert inserts or replaces the entry for result.CID, refusing to
// overwrite a newer verdict with a stale one (spec.md §5's
// monotonic-computed_at ordering guarantee).
func (p *PartialSet) Upsert(result PartialResult) {
	for i, existing := range p.Results {
		if existing.CID == result.CID {
			if result.ComputedAt < existing.ComputedAt {
				return
			}
			p.Results[i] = result
			return
		}
	}
	p.Results = append(p.Results, result)
}

// Get returns the entry for cid, if present.
func (p *PartialSet) Get(cid string) (PartialResult, bool) {
	for _, r := range p.Results {
		if r.CID == cid {
			return r, true
		}
	}
	return PartialResult{}, false
}
