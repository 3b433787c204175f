package api

import (
	"net/http"

	"github.com/vatpac-currency/watchtower/audit"
)

type statsResponse struct {
	WatchlistTotal  int  `json:"watchlistTotal"`
	JobActive       bool `json:"jobActive"`
	VisitingTotal   int  `json:"visitingTotal"`
	VisitingFlagged int  `json:"visitingFlagged"`
	LocalTotal      int  `json:"localTotal"`
	LocalFlagged    int  `json:"localFlagged"`
}

// handleStats aggregates counts from watchlist, the active job, and
// both scopes' partial results, per spec.md §4.G.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.newStore()
	if err := st.Load(r.Context()); err != nil {
		s.writeInternalError(w, "stats", err)
		return
	}

	var cids []string
	_ = st.GetDefault(watchlistKey, &cids)

	var job audit.Job
	hasJob, err := st.Get("audit:job", &job)
	if err != nil {
		s.writeInternalError(w, "stats", err)
		return
	}

	var visiting, local audit.PartialSet
	if err := st.GetDefault("audit:partial:visiting", &visiting); err != nil {
		s.writeInternalError(w, "stats", err)
		return
	}
	if err := st.GetDefault("audit:partial:local", &local); err != nil {
		s.writeInternalError(w, "stats", err)
		return
	}

	countFlagged := func(set audit.PartialSet) int {
		n := 0
		for _, r := range set.Results {
			if r.Flagged {
				n++
			}
		}
		return n
	}

	writeJSON(w, http.StatusOK, statsResponse{
		WatchlistTotal:  len(cids),
		JobActive:       hasJob && !job.Done(),
		VisitingTotal:   len(visiting.Results),
		VisitingFlagged: countFlagged(visiting),
		LocalTotal:      len(local.Results),
		LocalFlagged:    countFlagged(local),
	})
}
