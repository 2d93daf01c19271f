package api

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"autoassign/internal/metrics"
	"autoassign/internal/model"
)

// RedisBroker carries assignments over Redis Pub/Sub so a driver connected
// to any instance sees commits made by every other.
type RedisBroker struct {
	rdb *redis.Client
	mu  sync.Mutex
	ps  map[<-chan model.AssignedEvent]*redis.PubSub
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb, ps: map[<-chan model.AssignedEvent]*redis.PubSub{}}
}

func driverChannel(driverID string) string { return "autoassign:driver:" + driverID }

func (b *RedisBroker) Subscribe(driverID string) <-chan model.AssignedEvent {
	ch := make(chan model.AssignedEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, driverChannel(driverID))
	// wait for the subscription confirmation so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		log.Printf("broker driver=%s subscribe err=%v", driverID, err)
	}
	b.mu.Lock()
	b.ps[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt model.AssignedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			default:
				metrics.StreamEventsDropped.Inc()
			}
		}
	}()
	return ch
}

// Unsubscribe closes the Pub/Sub; the forwarding goroutine then closes ch.
func (b *RedisBroker) Unsubscribe(_ string, ch <-chan model.AssignedEvent) {
	b.mu.Lock()
	ps := b.ps[ch]
	delete(b.ps, ch)
	b.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(evt model.AssignedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, driverChannel(evt.DriverID), data).Err(); err != nil {
		log.Printf("broker driver=%s order=%s publish err=%v", evt.DriverID, evt.OrderID, err)
	}
}
