package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vatpac-currency/watchtower/cid"
	"github.com/vatpac-currency/watchtower/feed"
	"github.com/vatpac-currency/watchtower/presence"
	"github.com/vatpac-currency/watchtower/store"
)

const (
	watchlistKey       = "watchlist"
	watchlistAddedAtKey = "watchlist_added_at"
)

type watchlistUser struct {
	CID      string `json:"cid"`
	Name     string `json:"name"`
	AddedAt  string `json:"addedAt"`
	IsOnline bool   `json:"isOnline"`
}

type addWatchlistRequest struct {
	CID string `json:"cid"`
}

func insertSorted(list []string, cidStr string) []string {
	n, _ := strconv.ParseUint(cidStr, 10, 64)
	i := sort.Search(len(list), func(i int) bool {
		v, _ := strconv.ParseUint(list[i], 10, 64)
		return v >= n
	})
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = cidStr
	return list
}

func removeString(list []string, target string) ([]string, bool) {
	for i, v := range list {
		if v == target {
			return append(list[:i], list[i+1:]...), true
		}
	}
	return list, false
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// displayName resolves a controller's name from the member cache,
// falling back to "Controller <cid>" per spec.md §9 open question 3.
func displayName(s *store.Store, cidStr string) string {
	var meta feed.MemberMeta
	if found, err := s.CacheGet("member:"+cidStr, 24*time.Hour, &meta); err == nil && found && meta.Name != "" {
		return meta.Name
	}
	return fmt.Sprintf("Controller %s", cidStr)
}

func (s *Service) handleListWatchlist(w http.ResponseWriter, r *http.Request) {
	st := s.newStore()
	if err := st.Load(r.Context()); err != nil {
		s.writeInternalError(w, "watchlist", err)
		return
	}

	var cids []string
	_ = st.GetDefault(watchlistKey, &cids)
	var addedAt map[string]int64
	_ = st.GetDefault(watchlistAddedAtKey, &addedAt)
	var online map[string]presence.State
	_ = st.GetDefault("online_state", &online)

	users := make([]watchlistUser, 0, len(cids))
	for _, c := range cids {
		addedAtStr := ""
		if ts, ok := addedAt[c]; ok {
			addedAtStr = time.Unix(ts, 0).UTC().Format(time.RFC3339)
		}
		users = append(users, watchlistUser{
			CID:      c,
			Name:     displayName(st, c),
			AddedAt:  addedAtStr,
			IsOnline: online[c].Online,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (s *Service) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	// cid may arrive as a JSON string or a JSON number.
	var body struct {
		CID interface{} `json:"cid"`
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	var req addWatchlistRequest
	switch v := body.CID.(type) {
	case string:
		req.CID = v
	case json.Number:
		req.CID = v.String()
	}
	canon, err := cid.Canonicalize(req.CID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid CID format")
		return
	}

	st := s.newStore()
	if err := st.Load(r.Context()); err != nil {
		s.writeInternalError(w, "watchlist", err)
		return
	}

	var cids []string
	_ = st.GetDefault(watchlistKey, &cids)
	if contains(cids, canon) {
		writeError(w, http.StatusConflict, "Already on watchlist")
		return
	}

	exists, err := s.membersClient().Exists(r.Context(), canon)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Unable to verify controller")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "Unknown CID")
		return
	}

	now := time.Now()
	if meta, err := s.membersClient().Meta(r.Context(), canon); err == nil {
		_ = st.CachePut("member:"+canon, meta)
	}

	cids = insertSorted(cids, canon)
	if err := st.Set(watchlistKey, cids); err != nil {
		s.writeInternalError(w, "watchlist", err)
		return
	}
	var addedAt map[string]int64
	_ = st.GetDefault(watchlistAddedAtKey, &addedAt)
	if addedAt == nil {
		addedAt = make(map[string]int64)
	}
	addedAt[canon] = now.Unix()
	if err := st.Set(watchlistAddedAtKey, addedAt); err != nil {
		s.writeInternalError(w, "watchlist", err)
		return
	}

	if err := st.Flush(r.Context(), "watchlist: add "+canon); err != nil {
		s.writeInternalError(w, "watchlist", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user": map[string]string{
			"cid":     canon,
			"name":    displayName(st, canon),
			"addedAt": now.UTC().Format(time.RFC3339),
		},
	})
}

func (s *Service) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	canon, err := cid.Canonicalize(chi.URLParam(r, "cid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid CID format")
		return
	}

	st := s.newStore()
	if err := st.Load(r.Context()); err != nil {
		s.writeInternalError(w, "watchlist", err)
		return
	}

	var cids []string
	_ = st.GetDefault(watchlistKey, &cids)
	remaining, found := removeString(cids, canon)
	if !found {
		writeError(w, http.StatusNotFound, "Not on watchlist")
		return
	}
	if err := st.Set(watchlistKey, remaining); err != nil {
		s.writeInternalError(w, "watchlist", err)
		return
	}

	var addedAt map[string]int64
	_ = st.GetDefault(watchlistAddedAtKey, &addedAt)
	if addedAt != nil {
		delete(addedAt, canon)
		if err := st.Set(watchlistAddedAtKey, addedAt); err != nil {
			s.writeInternalError(w, "watchlist", err)
			return
		}
	}

	if err := st.Flush(r.Context(), "watchlist: remove "+canon); err != nil {
		s.writeInternalError(w, "watchlist", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
