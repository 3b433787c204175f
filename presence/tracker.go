// Package presence implements component C: diffing the VATSIM live feed
// against the last-known online/offline state, persisting only the
// controllers whose state actually changed, and broadcasting transitions
// for anything downstream that cares.
package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vatpac-currency/watchtower/feed"
	"github.com/vatpac-currency/watchtower/obs"
	"github.com/vatpac-currency/watchtower/store"
)

const onlineStateKey = "online_state"

// notificationCooldown bounds how often a repeated flap on the same CID
// re-fires a TransitionEvent. State is still updated every tick regardless
// — the cooldown only suppresses the downstream notification.
const notificationCooldown = 15 * time.Minute

// Info is the last-seen snapshot kept for a controller, enough for the
// API and audit engine to show "who" without re-fetching the feed.
type Info struct {
	Callsign  string `json:"callsign"`
	Frequency string `json:"frequency,omitempty"`
	Name      string `json:"name,omitempty"`
	LastSeen  int64  `json:"last_seen"`
}

// State is the persisted per-CID online/offline record.
type State struct {
	Online     bool `json:"online"`
	LastChange int64 `json:"last_change"`
	LastInfo   Info `json:"last_info"`
}

// Tracker diffs feed snapshots against store.Store's online_state.
type Tracker struct {
	metrics *obs.Metrics
	logger  *zap.Logger

	// publish defaults to TransitionTopic.Publish; tests substitute a
	// stub so presence diffing can be exercised without live Encore
	// pubsub infrastructure, the same boundary the teacher's own tests
	// draw around CacheInvalidateTopic.Publish.
	publish func(ctx context.Context, event *TransitionEvent) (string, error)
}

// NewTracker builds a Tracker. metrics and logger may be nil.
func NewTracker(metrics *obs.Metrics, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{metrics: metrics, logger: logger, publish: TransitionTopic.Publish}
}

// Run diffs online against the persisted online_state, applying spec.md
// §4.C's three-case algorithm:
//
//	offline/absent -> online : mark online, stamp LastChange, publish "online"
//	online -> missing from feed : mark offline, stamp LastChange, publish "offline"
//	steady state (no change)   : no write, no publish
//
// It returns the number of transitions applied this tick.
func (t *Tracker) Run(ctx context.Context, s *store.Store, online map[string]feed.Controller, now time.Time) (int, error) {
	var state map[string]State
	if err := s.GetDefault(onlineStateKey, &state); err != nil {
		return 0, fmt.Errorf("presence: loading online_state: %w", err)
	}
	if state == nil {
		state = make(map[string]State)
	}

	seen := make(map[string]struct{}, len(state)+len(online))
	for cid := range state {
		seen[cid] = struct{}{}
	}
	for cid := range online {
		seen[cid] = struct{}{}
	}

	dirty := false
	transitions := 0

	for cid := range seen {
		prev, hadPrev := state[cid]
		info, isOnline := online[cid]

		switch {
		case isOnline && (!hadPrev || !prev.Online):
			next := State{
				Online:     true,
				LastChange: now.Unix(),
				LastInfo: Info{
					Callsign:  info.Callsign,
					Frequency: info.Frequency,
					Name:      info.Name,
					LastSeen:  now.Unix(),
				},
			}
			state[cid] = next
			dirty = true
			transitions++
			t.notify(ctx, s, cid, "online", next, now)

		case !isOnline && hadPrev && prev.Online:
			next := State{
				Online:     false,
				LastChange: now.Unix(),
				LastInfo:   prev.LastInfo,
			}
			state[cid] = next
			dirty = true
			transitions++
			t.notify(ctx, s, cid, "offline", next, now)

		default:
			// steady state: no write, no notification
		}
	}

	if dirty {
		if err := s.Set(onlineStateKey, state); err != nil {
			return transitions, fmt.Errorf("presence: saving online_state: %w", err)
		}
	}
	return transitions, nil
}

// notify publishes a TransitionEvent unless a cooldown marker is still
// active for this CID/direction, per spec.md §9's cooldown-is-side-effect-
// suppression-only design note.
func (t *Tracker) notify(ctx context.Context, s *store.Store, cidStr, direction string, st State, now time.Time) {
	key := cooldownKey(cidStr, direction, st.LastInfo.Callsign)
	if cooldownActive(s, key, now) {
		return
	}
	if err := setCooldown(s, key, notificationCooldown, now); err != nil {
		t.logger.Warn("presence: failed to set cooldown marker", zap.String("cid", cidStr), zap.Error(err))
	}

	if t.metrics != nil {
		t.metrics.PresenceTransitions.WithLabelValues(direction).Inc()
	}

	event := &TransitionEvent{
		CID:       cidStr,
		Direction: direction,
		Callsign:  st.LastInfo.Callsign,
		At:        now.Unix(),
	}
	if _, err := t.publish(ctx, event); err != nil {
		t.logger.Warn("presence: failed to publish transition", zap.String("cid", cidStr), zap.String("direction", direction), zap.Error(err))
	}
}

func cooldownKey(cidStr, direction, callsign string) string {
	if direction == "online" {
		return fmt.Sprintf("cooldown:online:%s:%s", cidStr, strings.ToUpper(callsign))
	}
	return fmt.Sprintf("cooldown:offline:%s", cidStr)
}

type cooldownEntry struct {
	ExpiresAt int64 `json:"expiresAt"`
}

func cooldownActive(s *store.Store, key string, now time.Time) bool {
	var entry cooldownEntry
	found, err := s.Get(key, &entry)
	if err != nil || !found {
		return false
	}
	return now.Unix() < entry.ExpiresAt
}

func setCooldown(s *store.Store, key string, window time.Duration, now time.Time) error {
	return s.Set(key, cooldownEntry{ExpiresAt: now.Add(window).Unix()})
}
