package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vatpac-currency/watchtower/audit"
)

type activeAuditEntry struct {
	ID            string  `json:"id"`
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	Progress      int     `json:"progress"`
	TicksRemaining int    `json:"ticksRemaining"`
	StartedAt     string  `json:"startedAt"`
	CompletedAt   *string `json:"completedAt"`
}

type completedAuditEntry struct {
	ID             string  `json:"id"`
	CID            string  `json:"cid"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	Status         string  `json:"status"`
	HoursLogged    float64 `json:"hoursLogged"`
	TicksRemaining int     `json:"ticksRemaining"`
	StartedAt      string  `json:"startedAt"`
	CompletedAt    string  `json:"completedAt"`
}

type auditStats struct {
	TotalActive    int     `json:"totalActive"`
	TotalCompleted int     `json:"totalCompleted"`
	AverageHours   float64 `json:"averageHours"`
}

func (s *Service) handleAudit(w http.ResponseWriter, r *http.Request) {
	scope, err := audit.ParseScope(chi.URLParam(r, "scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scope")
		return
	}

	st := s.newStore()
	if err := st.Load(r.Context()); err != nil {
		s.writeInternalError(w, "audit", err)
		return
	}

	var job audit.Job
	hasJob, err := st.Get("audit:job", &job)
	if err != nil {
		s.writeInternalError(w, "audit", err)
		return
	}

	var partial audit.PartialSet
	if err := st.GetDefault("audit:partial:"+string(scope), &partial); err != nil {
		s.writeInternalError(w, "audit", err)
		return
	}

	active := []activeAuditEntry{}
	if hasJob && job.Scope == scope && !job.Done() {
		ticksRemaining := (job.Total - job.Cursor + audit.SliceSize*audit.BlockSize - 1) / (audit.SliceSize * audit.BlockSize)
		active = append(active, activeAuditEntry{
			ID:             job.ID,
			Type:           string(scope),
			Status:         "active",
			Progress:       job.Cursor * 100 / max(job.Total, 1),
			TicksRemaining: ticksRemaining,
			StartedAt:      time.Unix(job.CreatedAt, 0).UTC().Format(time.RFC3339),
			CompletedAt:    nil,
		})
	}

	completed := make([]completedAuditEntry, 0, len(partial.Results))
	var hoursSum float64
	for _, res := range partial.Results {
		name := displayName(st, res.CID)
		computedAt := time.Unix(res.ComputedAt, 0).UTC().Format(time.RFC3339)
		completed = append(completed, completedAuditEntry{
			ID:             fmt.Sprintf("audit_%s", res.CID),
			CID:            res.CID,
			Name:           name,
			Type:           string(scope),
			Status:         "completed",
			HoursLogged:    res.Hours,
			TicksRemaining: 0,
			StartedAt:      computedAt,
			CompletedAt:    computedAt,
		})
		hoursSum += res.Hours
	}

	avg := 0.0
	if len(partial.Results) > 0 {
		avg = hoursSum / float64(len(partial.Results))
	}

	totalActive := 0
	if len(active) > 0 {
		totalActive = 1
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":    active,
		"completed": completed,
		"stats": auditStats{
			TotalActive:    totalActive,
			TotalCompleted: len(completed),
			AverageHours:   avg,
		},
	})
}
