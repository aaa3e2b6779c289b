package realtime

import (
	"context"
	"encoding/json"
	"time"

	"clinicops/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	relayChannel        = "clinicops.realtime"
	relayPublishTimeout = 2 * time.Second
)

// relayEnvelope is the cross-instance wire format. InstanceID lets each
// process ignore its own publications; the owner session travels inside
// the envelope because Event excludes it from client-facing JSON.
type relayEnvelope struct {
	InstanceID     string `json:"instance_id"`
	OwnerSessionID string `json:"owner_session_id,omitempty"`
	Event          Event  `json:"event"`
}

// Relay mirrors room events across instances over Redis pub/sub, so a
// watcher connected to one instance sees holds placed through another.
type Relay struct {
	rdb        *redis.Client
	hub        *Hub
	instanceID string
	log        *logger.Logger
}

func NewRelay(rdb *redis.Client, hub *Hub, log *logger.Logger) *Relay {
	return &Relay{
		rdb:        rdb,
		hub:        hub,
		instanceID: uuid.NewString(),
		log:        log,
	}
}

// Publish mirrors a locally produced event to the other instances.
// Best-effort: a relay failure is logged and the local fan-out stands.
func (r *Relay) Publish(event Event) {
	envelope := relayEnvelope{
		InstanceID:     r.instanceID,
		OwnerSessionID: event.OwnerSessionID,
		Event:          event,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		r.log.Error("Failed to marshal relay envelope", "event_type", event.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()

	if err := r.rdb.Publish(ctx, relayChannel, payload).Err(); err != nil {
		r.log.Warn("Failed to relay event", "event_type", event.Type, "error", err)
	}
}

// Run subscribes to the relay channel and feeds foreign events into the
// local hub until the context ends.
func (r *Relay) Run(ctx context.Context) {
	sub := r.rdb.Subscribe(ctx, relayChannel)
	defer sub.Close()

	r.log.Info("Realtime relay subscribed", "channel", relayChannel, "instance_id", r.instanceID)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var envelope relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				r.log.Warn("Dropping malformed relay message", "error", err)
				continue
			}
			if envelope.InstanceID == r.instanceID {
				continue
			}

			event := envelope.Event
			event.OwnerSessionID = envelope.OwnerSessionID
			r.hub.Publish(event)
		}
	}
}
