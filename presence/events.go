package presence

import "encore.dev/pubsub"

// TransitionEvent is published whenever a controller's online/offline
// state changes. Downstream consumers (notification fan-out, dashboards)
// are out of scope here — this only broadcasts the fact of the
// transition, at-least-once, matching the teacher's invalidation
// broadcast pattern (invalidation/service.go's CacheInvalidateTopic).
type TransitionEvent struct {
	CID       string `json:"cid"`
	Direction string `json:"direction"` // "online" or "offline"
	Callsign  string `json:"callsign,omitempty"`
	At        int64  `json:"at"`
}

// TransitionTopic carries presence transitions to any interested
// subscriber (e.g. a notification service, not implemented here per
// spec.md §1's scope boundary).
var TransitionTopic = pubsub.NewTopic[*TransitionEvent](
	"presence-transition",
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)
