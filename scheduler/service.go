// Package scheduler is the cron-driven entry point tying cleanup (H),
// the audit engine (E), presence tracking (C), and the quarterly trigger
// (F) into one invocation, per spec.md §2's data-flow paragraph.
package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"encore.dev/cron"
	"go.uber.org/zap"

	"github.com/vatpac-currency/watchtower/audit"
	"github.com/vatpac-currency/watchtower/cleanup"
	"github.com/vatpac-currency/watchtower/config"
	"github.com/vatpac-currency/watchtower/feed"
	"github.com/vatpac-currency/watchtower/fetch"
	"github.com/vatpac-currency/watchtower/obs"
	"github.com/vatpac-currency/watchtower/presence"
	"github.com/vatpac-currency/watchtower/schedule"
	"github.com/vatpac-currency/watchtower/store"
)

// tickBudgetCalls bounds the whole invocation's outbound call count, and
// tickDeadline bounds its wall-clock length, per spec.md §4.E step 2's
// "tick deadline t0 + MAX_TICK_MS (12s)". tickFetchTimeout is the
// per-call timeout used by the Fetcher (spec.md §4.B) — a different,
// smaller concern than the tick deadline, and must not share its value:
// the deadline governs the whole invocation, the per-call timeout
// governs one outbound request within it.
const (
	tickBudgetCalls  = 120
	tickDeadline     = 12 * time.Second
	tickFetchTimeout = 25 * time.Second

	cleanupSweepBudget = 2 * time.Second

	watchlistKey = "watchlist"
)

// Service is the //encore:service that owns the single cron job firing
// every 5 minutes.
//
//encore:service
type Service struct {
	backend store.ContentStore
	path    string

	vatsimURL  string
	membersURL string

	subreqBudget int
	tickDeadline time.Duration
	fetchTimeout time.Duration

	sweeper *cleanup.Sweeper
	tracker *presence.Tracker
	trigger *schedule.Trigger

	metrics *obs.Metrics
	logger  *zap.Logger
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

		svc = NewService(retrying, cfg.GitHubDir+"/store.json", cfg.VATSIMDataURL, cfg.MembersBaseURL, metrics, logger)
		svc.subreqBudget = cfg.SubreqBudget
		svc.tickDeadline = cfg.MaxTickDuration
		svc.fetchTimeout = cfg.FetchTimeout
	})
	return svc, nil
}

// NewService wires a Service directly; used by initService and by tests.
// Callers needing non-default budget/deadline/timeout values (initService
// does) set subreqBudget/tickDeadline/fetchTimeout on the returned Service
// afterwards.
func NewService(backend store.ContentStore, path, vatsimURL, membersURL string, metrics *obs.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		backend:      backend,
		path:         path,
		vatsimURL:    vatsimURL,
		membersURL:   membersURL,
		subreqBudget: tickBudgetCalls,
		tickDeadline: tickDeadline,
		fetchTimeout: tickFetchTimeout,
		sweeper:      cleanup.NewSweeper(metrics, logger),
		tracker:      presence.NewTracker(metrics, logger),
		trigger:      schedule.NewTrigger(metrics, logger),
		metrics:      metrics,
		logger:       logger,
	}
}

// The cron job below fires Tick every 5 minutes, per spec.md §2.
var _ = cron.NewJob("watchtower-tick", cron.JobConfig{
	Title:    "Watchtower currency tick",
	Schedule: "*/5 * * * *",
	Endpoint: Tick,
})

//encore:api private
func Tick(ctx context.Context) error {
	s, err := initService()
	if err != nil {
		return err
	}
	return s.run(ctx, time.Now())
}

// run executes one invocation: cleanup first (bounded, cheap), the audit
// engine second (budget-dominant), presence third, the quarterly trigger
// last (enqueue-only, negligible additional budget), then a single flush.
// Order matters for budget accounting — see spec.md §4.J.
func (s *Service) run(ctx context.Context, now time.Time) (err error) {
	if s.metrics != nil {
		defer func() {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			s.metrics.TicksTotal.WithLabelValues(outcome).Inc()
		}()
	}

	st := store.New(s.backend, s.path)
	st.SetMetrics(s.metrics)
	if err := st.Load(ctx); err != nil {
		return fmt.Errorf("scheduler: loading store: %w", err)
	}

	if s.sweeper.Due(st, now) {
		dropped, err := s.sweeper.Sweep(ctx, st, now, cleanupSweepBudget)
		if err != nil {
			s.logger.Warn("scheduler: cleanup sweep failed", zap.Error(err))
		} else if dropped > 0 {
			s.logger.Info("scheduler: cleanup swept entries", zap.Int("dropped", dropped))
		}
	}

	budget := fetch.NewBudget(s.subreqBudget, s.tickDeadline)
	fetcher := fetch.NewFetcher(nil, budget, s.fetchTimeout, s.metrics, s.logger)
	members := feed.NewMembersClient(s.membersURL, fetcher)
	engine := audit.NewEngine(members, s.metrics, s.logger)

	ticked, err := engine.Tick(ctx, st, budget, now)
	if err != nil {
		s.logger.Warn("scheduler: audit tick failed", zap.Error(err))
	} else if ticked {
		s.logger.Info("scheduler: audit tick advanced", zap.Int("remaining_budget", budget.Remaining()))
	}

	vatsim := feed.NewVATSIMClient(s.vatsimURL, fetcher)
	online, err := vatsim.Online(ctx)
	if err != nil {
		s.logger.Warn("scheduler: vatsim feed fetch failed", zap.Error(err))
	} else {
		transitions, err := s.tracker.Run(ctx, st, online, now)
		if err != nil {
			s.logger.Warn("scheduler: presence tracking failed", zap.Error(err))
		} else if transitions > 0 {
			s.logger.Info("scheduler: presence transitions", zap.Int("count", transitions))
		}
	}

	var watchlist []string
	_ = st.GetDefault(watchlistKey, &watchlist)
	enqueued, err := s.trigger.Fire(ctx, st, watchlist, now)
	if err != nil {
		s.logger.Warn("scheduler: quarterly trigger failed", zap.Error(err))
	} else if enqueued {
		s.logger.Info("scheduler: quarterly audit enqueued")
	}

	if st.Dirty() {
		if err := st.Flush(ctx, "scheduler: tick"); err != nil {
			return fmt.Errorf("scheduler: flushing store: %w", err)
		}
	}
	return nil
}
