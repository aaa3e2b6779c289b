package realtime

import (
	"context"
	"sync"

	"clinicops/pkg/logger"
	"clinicops/pkg/model"
)

// Dispatcher decouples mutations from fan-out: services enqueue events
// and return immediately, a single worker drains the queue into the hub
// and the cross-instance relay. A full queue drops the event rather
// than blocking a booking response.
type Dispatcher struct {
	hub   *Hub
	relay *Relay
	queue chan Event
	log   *logger.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewDispatcher(hub *Hub, relay *Relay, queueSize int, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		hub:   hub,
		relay: relay,
		queue: make(chan Event, queueSize),
		log:   log,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run drains the queue until the context ends or Stop is called, then
// flushes whatever is already enqueued.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case <-d.stop:
			d.drain()
			return
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

// Stop ends the Run loop and waits for the final flush.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

func (d *Dispatcher) deliver(event Event) {
	d.hub.Publish(event)
	if d.relay != nil {
		d.relay.Publish(event)
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) enqueue(event Event) {
	select {
	case d.queue <- event:
	default:
		d.log.Warn("Event queue full, dropping event",
			"event_type", event.Type,
			"room", event.Room(),
		)
	}
}

// HoldCreated implements the reservation manager's publisher.
func (d *Dispatcher) HoldCreated(hold *model.Hold) {
	d.enqueue(newHoldCreatedEvent(hold))
}

func (d *Dispatcher) HoldReleased(hold *model.Hold, reason string) {
	d.enqueue(newHoldReleasedEvent(hold, reason))
}

// SlotBooked implements the booking coordinator's publisher.
func (d *Dispatcher) SlotBooked(appointment *model.Appointment) {
	d.enqueue(newSlotBookedEvent(appointment))
}

func (d *Dispatcher) SlotCancelled(appointment *model.Appointment) {
	d.enqueue(newSlotCancelledEvent(appointment))
}
