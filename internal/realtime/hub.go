package realtime

import (
	"hash/fnv"
	"sync"

	"clinicops/pkg/logger"
	"clinicops/pkg/model"
)

const shardCount = 16

// Subscriber is one connected watcher of a room. Events arrive on C;
// when the hub cannot keep up with a slow consumer it drops events for
// that subscriber instead of blocking the publisher.
type Subscriber struct {
	SessionID string
	C         chan Event

	room  string
	shard *hubShard
	once  sync.Once
}

// Close detaches the subscriber from its room. The event channel is
// left open so a publish that raced the close cannot panic; it simply
// stops receiving and is collected with the subscriber.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.shard.remove(s.room, s)
	})
}

type hubShard struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]struct{}
}

func (sh *hubShard) remove(room string, sub *Subscriber) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	subs, ok := sh.rooms[room]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(sh.rooms, room)
	}
}

// Hub fans events out to room subscribers. Rooms are keyed (vet, date)
// and spread over shards so that one busy room does not serialize
// subscriptions everywhere else.
type Hub struct {
	shards  [shardCount]*hubShard
	bufSize int
	log     *logger.Logger
}

func NewHub(bufSize int, log *logger.Logger) *Hub {
	h := &Hub{
		bufSize: bufSize,
		log:     log,
	}
	for i := range h.shards {
		h.shards[i] = &hubShard{rooms: make(map[string]map[*Subscriber]struct{})}
	}
	return h
}

func (h *Hub) shardFor(room string) *hubShard {
	hash := fnv.New32a()
	hash.Write([]byte(room))
	return h.shards[hash.Sum32()%shardCount]
}

// Subscribe attaches a session to the (vet, date) room.
func (h *Hub) Subscribe(vetID, date, sessionID string) *Subscriber {
	room := model.RoomKey(vetID, date)
	shard := h.shardFor(room)

	sub := &Subscriber{
		SessionID: sessionID,
		C:         make(chan Event, h.bufSize),
		room:      room,
		shard:     shard,
	}

	shard.mu.Lock()
	subs, ok := shard.rooms[room]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		shard.rooms[room] = subs
	}
	subs[sub] = struct{}{}
	shard.mu.Unlock()

	return sub
}

// Publish delivers the event to every subscriber of its room, stamping
// IsOwn per recipient. Delivery is non-blocking: a subscriber whose
// buffer is full misses the event and catches up from the next
// snapshot.
func (h *Hub) Publish(event Event) {
	room := event.Room()
	shard := h.shardFor(room)

	shard.mu.RLock()
	subs := shard.rooms[room]
	targets := make([]*Subscriber, 0, len(subs))
	for sub := range subs {
		targets = append(targets, sub)
	}
	shard.mu.RUnlock()

	for _, sub := range targets {
		delivered := event
		delivered.IsOwn = event.OwnerSessionID != "" && event.OwnerSessionID == sub.SessionID

		select {
		case sub.C <- delivered:
		default:
			h.log.Warn("Dropping event for slow subscriber",
				"room", room,
				"session_id", sub.SessionID,
				"event_type", event.Type,
			)
		}
	}
}

// RoomSize reports the current subscriber count of a room.
func (h *Hub) RoomSize(vetID, date string) int {
	room := model.RoomKey(vetID, date)
	shard := h.shardFor(room)

	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return len(shard.rooms[room])
}
