// Package api implements component G: the REST surface over the store
// document, plus CORS preflight mediation. Encore generates routing for
// typed endpoints but gives no hook for hand-rolled preflight handling,
// so the whole surface is mounted behind one raw endpoint and dispatched
// internally with chi + go-chi/cors, the same routing/CORS stack
// jordigilh-kubernaut's gateway declares.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/vatpac-currency/watchtower/config"
	"github.com/vatpac-currency/watchtower/feed"
	"github.com/vatpac-currency/watchtower/fetch"
	"github.com/vatpac-currency/watchtower/obs"
	"github.com/vatpac-currency/watchtower/store"
)

// requestFetchBudget and requestFetchTimeout bound the one-off external
// calls a single API request may make (member existence/meta lookups,
// a live feed poll). Unlike the scheduled tick, a request isn't sharing
// a per-invocation budget with anything else, so a small fixed allowance
// per request is enough headroom without needing a shared Budget.
const (
	requestFetchBudget  = 20
	requestFetchTimeout = 10 * time.Second
)

// Service owns the REST surface. A fresh store.Store is created per
// request (per spec.md §4.A's invocation-scoped lifetime) from the
// shared backend/path.
//
//encore:service
type Service struct {
	backend store.ContentStore
	path    string

	vatsimURL  string
	membersURL string

	allowedOrigin string
	metrics       *obs.Metrics
	logger        *zap.Logger

	limiter *tokenBucket
	router  http.Handler
}

var (
	svc  *Service
	once sync.Once
)

func initService() (*Service, error) {
	once.Do(func() {
		cfg := config.Load()
		logger := obs.NewLogger(cfg.LogLevel)
		metrics := obs.NewMetrics()

		backend := store.NewGitHubContentStore(cfg.GitHubRepo, cfg.GitHubBranch, cfg.GitHubToken, "https://api.github.com", http.DefaultClient)
		retrying := fetch.NewRetryingContentStore(backend, metrics)

		svc = NewService(retrying, cfg.GitHubDir+"/store.json", cfg.VATSIMDataURL, cfg.MembersBaseURL, cfg.AllowedOrigin, metrics, logger)
		svc.setRateLimit(cfg.RateLimitPerSec, cfg.RateLimitBurst)
	})
	return svc, nil
}

// defaultRateLimitPerSec and defaultRateLimitBurst apply when a Service is
// built directly via NewService without an explicit setRateLimit call
// (e.g. in tests).
const (
	defaultRateLimitPerSec = 5
	defaultRateLimitBurst  = 20
)

// NewService wires a Service directly, bypassing environment-driven
// config; used by initService and by tests.
func NewService(backend store.ContentStore, path, vatsimURL, membersURL, allowedOrigin string, metrics *obs.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		backend:       backend,
		path:          path,
		vatsimURL:     vatsimURL,
		membersURL:    membersURL,
		allowedOrigin: allowedOrigin,
		metrics:       metrics,
		logger:        logger,
		limiter:       newTokenBucket(defaultRateLimitPerSec, defaultRateLimitBurst),
	}
	s.router = s.buildRouter()
	return s
}

// setRateLimit replaces the per-IP rate limiter and rebuilds the router so
// the new limiter takes effect.
func (s *Service) setRateLimit(perSec float64, burst int) {
	s.limiter = newTokenBucket(perSec, int64(burst))
	s.router = s.buildRouter()
}

func (s *Service) newStore() *store.Store {
	st := store.New(s.backend, s.path)
	st.SetMetrics(s.metrics)
	return st
}

// requestFetcher builds a fetcher scoped to one request's own small
// budget, independent of the scheduled tick's shared budget. The budget's
// wall-clock window is twice the per-call timeout: Budget.Allow refuses a
// call whose timeout exceeds the time left, so a window equal to the
// timeout would refuse every call.
func (s *Service) requestFetcher() *fetch.Fetcher {
	budget := fetch.NewBudget(requestFetchBudget, 2*requestFetchTimeout)
	return fetch.NewFetcher(nil, budget, requestFetchTimeout, s.metrics, s.logger)
}

func (s *Service) vatsimClient() *feed.VATSIMClient {
	return feed.NewVATSIMClient(s.vatsimURL, s.requestFetcher())
}

func (s *Service) membersClient() *feed.MembersClient {
	return feed.NewMembersClient(s.membersURL, s.requestFetcher())
}

func (s *Service) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withRequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{s.allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))
	r.Use(func(next http.Handler) http.Handler {
		return withRateLimit(s.limiter, next)
	})

	r.Get("/api/healthz", s.handleHealthz)
	r.Get("/api/watchlist", s.withMetrics("watchlist", s.handleListWatchlist))
	r.Post("/api/watchlist", s.withMetrics("watchlist", s.handleAddWatchlist))
	r.Delete("/api/watchlist/{cid}", s.withMetrics("watchlist", s.handleRemoveWatchlist))
	r.Get("/api/audit/{scope}", s.withMetrics("audit", s.handleAudit))
	r.Get("/api/presence", s.withMetrics("presence", s.handlePresence))
	r.Get("/api/stats", s.withMetrics("stats", s.handleStats))
	return r
}

// ServeHTTP lets Service act as the dispatch target for the raw Encore
// endpoint declared in endpoint.go.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Service) withMetrics(route string, h http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		class := "2xx"
		switch {
		case rec.status >= 500:
			class = "5xx"
		case rec.status >= 400:
			class = "4xx"
		}
		s.metrics.APIRequestsTotal.WithLabelValues(route, class).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
