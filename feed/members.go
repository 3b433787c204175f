package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vatpac-currency/watchtower/errs"
	"github.com/vatpac-currency/watchtower/fetch"
)

// Session is one completed ATC session, used by the audit engine to sum
// controlling hours within the lookback window.
type Session struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the session length, or zero if End precedes Start
// (malformed upstream data, treated as contributing no hours rather than
// a negative one).
func (s Session) Duration() time.Duration {
	d := s.End.Sub(s.Start)
	if d < 0 {
		return 0
	}
	return d
}

// MemberMeta is the member-directory record (name, rating, division); the
// API caches it under member:<cid>.
type MemberMeta struct {
	Name     string `json:"name"`
	Rating   string `json:"rating"`
	Division string `json:"division"`
}

// MembersClient wraps the member directory: existence checks, cached
// metadata, and session history — spec.md §9 open question 1's "concrete
// activity-source contract".
type MembersClient struct {
	baseURL string
	fetcher *fetch.Fetcher
}

// NewMembersClient builds a client against baseURL (MEMBERS_BASE_URL).
func NewMembersClient(baseURL string, fetcher *fetch.Fetcher) *MembersClient {
	return &MembersClient{baseURL: baseURL, fetcher: fetcher}
}

// Exists reports whether cid is a known member. Per spec.md §6, any
// non-200 response (most commonly 404) means "does not exist"; only a
// transient fetch failure propagates as an error.
func (m *MembersClient) Exists(ctx context.Context, cidStr string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/members/"+cidStr, nil)
	if err != nil {
		return false, fmt.Errorf("feed: building exists request: %w", err)
	}
	resp, err := m.fetcher.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// Meta fetches the member's display name, rating, and division.
func (m *MembersClient) Meta(ctx context.Context, cidStr string) (MemberMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/members/"+cidStr, nil)
	if err != nil {
		return MemberMeta{}, fmt.Errorf("feed: building meta request: %w", err)
	}
	resp, err := m.fetcher.Do(req)
	if err != nil {
		return MemberMeta{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return MemberMeta{}, fmt.Errorf("%w: meta for %s: status %d", errs.ErrTransientFetch, cidStr, resp.StatusCode)
	}

	var meta MemberMeta
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return MemberMeta{}, fmt.Errorf("feed: decoding member meta for %s: %w", cidStr, err)
	}
	return meta, nil
}

type sessionsResponse struct {
	Sessions []struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"sessions"`
}

// Sessions returns completed ATC sessions for cid starting at or after
// since, used by the audit engine to sum hours in the scope's lookback
// window.
func (m *MembersClient) Sessions(ctx context.Context, cidStr string, since time.Time) ([]Session, error) {
	url := fmt.Sprintf("%s/members/%s/atc_sessions?start=%s", m.baseURL, cidStr, since.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: building sessions request: %w", err)
	}
	resp, err := m.fetcher.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: sessions for %s: status %d", errs.ErrTransientFetch, cidStr, resp.StatusCode)
	}

	var parsed sessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("feed: decoding sessions for %s: %w", cidStr, err)
	}

	out := make([]Session, 0, len(parsed.Sessions))
	for _, raw := range parsed.Sessions {
		start, errStart := time.Parse(time.RFC3339, raw.Start)
		end, errEnd := time.Parse(time.RFC3339, raw.End)
		if errStart != nil || errEnd != nil {
			continue
		}
		out = append(out, Session{Start: start, End: end})
	}
	return out, nil
}
