package api

import (
	"sync"

	"autoassign/internal/metrics"
	"autoassign/internal/model"
)

// EventOrderAssigned is the stream event name for a committed assignment.
const EventOrderAssigned = "order.assigned"

// AssignmentBroker fans committed assignments out to the streams watching
// the assigned driver.
type AssignmentBroker interface {
	Subscribe(driverID string) <-chan model.AssignedEvent
	Unsubscribe(driverID string, ch <-chan model.AssignedEvent)
	Publish(evt model.AssignedEvent)
}

// LocalBroker delivers within this process only.
type LocalBroker struct {
	mu      sync.RWMutex
	drivers map[string]map[<-chan model.AssignedEvent]chan model.AssignedEvent
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{drivers: map[string]map[<-chan model.AssignedEvent]chan model.AssignedEvent{}}
}

func (b *LocalBroker) Subscribe(driverID string) <-chan model.AssignedEvent {
	ch := make(chan model.AssignedEvent, 8)
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.drivers[driverID]
	if subs == nil {
		subs = map[<-chan model.AssignedEvent]chan model.AssignedEvent{}
		b.drivers[driverID] = subs
	}
	subs[ch] = ch
	return ch
}

// Unsubscribe closes ch. Unknown channels are ignored.
func (b *LocalBroker) Unsubscribe(driverID string, ch <-chan model.AssignedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.drivers[driverID]
	w, ok := subs[ch]
	if !ok {
		return
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(b.drivers, driverID)
	}
	close(w)
}

// Publish never blocks; a subscriber with a full buffer misses the event.
func (b *LocalBroker) Publish(evt model.AssignedEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, w := range b.drivers[evt.DriverID] {
		select {
		case w <- evt:
		default:
			metrics.StreamEventsDropped.Inc()
		}
	}
}
