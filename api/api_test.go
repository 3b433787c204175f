package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vatpac-currency/watchtower/audit"
	"github.com/vatpac-currency/watchtower/store"
)

// newFeedServer fakes both the VATSIM live feed (root path) and the member
// directory (/members/<cid>[/atc_sessions]) behind one httptest server,
// since VATSIMClient and MembersClient are pointed at the same baseURL in
// these tests.
func newFeedServer(knownCIDs map[string]bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/":
			fmt.Fprint(w, `{"controllers":[{"cid":"1234567","callsign":"SYD_TWR","frequency":"199.5","name":"Test Ctrl"}]}`)
		case strings.HasSuffix(r.URL.Path, "/atc_sessions"):
			fmt.Fprint(w, `{"sessions":[]}`)
		case strings.HasPrefix(r.URL.Path, "/members/"):
			cidStr := strings.TrimPrefix(r.URL.Path, "/members/")
			if !knownCIDs[cidStr] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprint(w, `{"name":"Test Ctrl","rating":"S2","division":"VATPAC"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestService(t *testing.T, feedURL string) *Service {
	t.Helper()
	return NewService(newMemBackend(), "store.json", feedURL, feedURL, "https://example.org", nil, nil)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewReader(b)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWatchlistAddThenList(t *testing.T) {
	server := newFeedServer(map[string]bool{"1234567": true})
	defer server.Close()
	s := newTestService(t, server.URL)

	rec := doJSON(t, s, http.MethodPost, "/api/watchlist", addWatchlistRequest{CID: "1234567"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/api/watchlist", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var resp struct {
		Users []watchlistUser `json:"users"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Users) != 1 || resp.Users[0].CID != "1234567" {
		t.Fatalf("expected one watchlisted user, got %+v", resp.Users)
	}
}

func TestWatchlistAddDuplicateConflicts(t *testing.T) {
	server := newFeedServer(map[string]bool{"1234567": true})
	defer server.Close()
	s := newTestService(t, server.URL)

	doJSON(t, s, http.MethodPost, "/api/watchlist", addWatchlistRequest{CID: "1234567"})
	rec := doJSON(t, s, http.MethodPost, "/api/watchlist", addWatchlistRequest{CID: "1234567"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWatchlistAddMalformedCID(t *testing.T) {
	server := newFeedServer(nil)
	defer server.Close()
	s := newTestService(t, server.URL)

	rec := doJSON(t, s, http.MethodPost, "/api/watchlist", addWatchlistRequest{CID: "abc"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "Invalid CID format" {
		t.Fatalf("unexpected error message: %q", body.Error)
	}
}

func TestWatchlistAddUnknownCIDNotFound(t *testing.T) {
	server := newFeedServer(map[string]bool{})
	defer server.Close()
	s := newTestService(t, server.URL)

	rec := doJSON(t, s, http.MethodPost, "/api/watchlist", addWatchlistRequest{CID: "9999999"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWatchlistRemove(t *testing.T) {
	server := newFeedServer(map[string]bool{"1234567": true})
	defer server.Close()
	s := newTestService(t, server.URL)

	doJSON(t, s, http.MethodPost, "/api/watchlist", addWatchlistRequest{CID: "1234567"})

	rec := doJSON(t, s, http.MethodDelete, "/api/watchlist/1234567", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/watchlist/1234567", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("remove again: expected 404, got %d", rec.Code)
	}
}

func TestAuditEndpointInvalidScope(t *testing.T) {
	server := newFeedServer(nil)
	defer server.Close()
	s := newTestService(t, server.URL)

	rec := doJSON(t, s, http.MethodGet, "/api/audit/bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAuditEndpointReturnsCompleted(t *testing.T) {
	server := newFeedServer(nil)
	defer server.Close()

	backend := newMemBackend()
	st := store.New(backend, "store.json")
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	partial := audit.PartialSet{}
	partial.Upsert(audit.PartialResult{
		CID: "1234567", Hours: 12.5, Flagged: false, ComputedAt: time.Now().Unix(),
	})
	if err := st.Set("audit:partial:visiting", partial); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := st.Flush(context.Background(), "seed"); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	s := NewService(backend, "store.json", server.URL, server.URL, "https://example.org", nil, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/audit/visiting", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Completed []completedAuditEntry `json:"completed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Completed) != 1 || resp.Completed[0].CID != "1234567" {
		t.Fatalf("expected one completed entry, got %+v", resp.Completed)
	}
}

func TestPresenceIntersectsWatchlist(t *testing.T) {
	server := newFeedServer(map[string]bool{"1234567": true})
	defer server.Close()
	s := newTestService(t, server.URL)

	doJSON(t, s, http.MethodPost, "/api/watchlist", addWatchlistRequest{CID: "1234567"})

	rec := doJSON(t, s, http.MethodGet, "/api/presence", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Online []presenceEntry `json:"online"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Online) != 1 || resp.Online[0].CID != "1234567" {
		t.Fatalf("expected watchlisted controller online, got %+v", resp.Online)
	}
}

func TestStatsAggregates(t *testing.T) {
	server := newFeedServer(map[string]bool{"1234567": true})
	defer server.Close()
	s := newTestService(t, server.URL)

	doJSON(t, s, http.MethodPost, "/api/watchlist", addWatchlistRequest{CID: "1234567"})

	rec := doJSON(t, s, http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WatchlistTotal != 1 {
		t.Fatalf("expected watchlistTotal 1, got %d", resp.WatchlistTotal)
	}
}

func TestCORSPreflight(t *testing.T) {
	server := newFeedServer(nil)
	defer server.Close()
	s := newTestService(t, server.URL)

	req := httptest.NewRequest(http.MethodOptions, "/api/watchlist", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK && rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight success, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://example.org" {
		t.Fatalf("unexpected Allow-Origin: %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Fatalf("unexpected Allow-Methods: %q", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "86400" {
		t.Fatalf("unexpected Max-Age: %q", got)
	}
}
