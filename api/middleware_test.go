package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenBucketAllowsBurstThenBlocks(t *testing.T) {
	tb := newTokenBucket(5, 3)
	for i := 0; i < 3; i++ {
		if !tb.allow("client-a") {
			t.Fatalf("request %d should be allowed within burst", i+1)
		}
	}
	if tb.allow("client-a") {
		t.Fatal("request beyond burst should be blocked")
	}
}

func TestTokenBucketIsPerKey(t *testing.T) {
	tb := newTokenBucket(5, 1)
	if !tb.allow("client-a") {
		t.Fatal("expected first request for client-a to be allowed")
	}
	if !tb.allow("client-b") {
		t.Fatal("expected client-b to have its own independent bucket")
	}
}

func TestWithRateLimitRejectsOverBudget(t *testing.T) {
	tb := newTokenBucket(1, 1)
	h := withRateLimit(tb, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", rec.Code)
	}
}

func TestWithRequestIDEchoesHeader(t *testing.T) {
	server := newFeedServer(nil)
	defer server.Close()
	s := newTestService(t, server.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	req.Header.Set(requestIDHeader, "fixed-id-123")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got != "fixed-id-123" {
		t.Fatalf("expected request ID to be echoed back, got %q", got)
	}
}

func TestWithRequestIDGeneratesWhenMissing(t *testing.T) {
	server := newFeedServer(nil)
	defer server.Close()
	s := newTestService(t, server.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got == "" {
		t.Fatal("expected a generated request ID when none was supplied")
	}
}
