package api

import "net/http"

type presenceEntry struct {
	CID       string `json:"cid"`
	Callsign  string `json:"callsign"`
	Frequency string `json:"frequency,omitempty"`
	Name      string `json:"name,omitempty"`
}

// handlePresence intersects the live feed with the watchlist, per
// spec.md §4.G — this is the one GET endpoint that makes an outbound
// call rather than reading only cached state.
func (s *Service) handlePresence(w http.ResponseWriter, r *http.Request) {
	st := s.newStore()
	if err := st.Load(r.Context()); err != nil {
		s.writeInternalError(w, "presence", err)
		return
	}

	var cids []string
	_ = st.GetDefault(watchlistKey, &cids)
	watchlisted := make(map[string]bool, len(cids))
	for _, c := range cids {
		watchlisted[c] = true
	}

	online, err := s.vatsimClient().Online(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "Unable to reach live feed")
		return
	}

	entries := make([]presenceEntry, 0)
	for c, info := range online {
		if !watchlisted[c] {
			continue
		}
		entries = append(entries, presenceEntry{
			CID:       c,
			Callsign:  info.Callsign,
			Frequency: info.Frequency,
			Name:      info.Name,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"online": entries})
}
