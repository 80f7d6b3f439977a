// Package relay fans session events out to server-sent event clients.
package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 64

// Event is one message on the stream. Data is sent as the SSE data field.
type Event struct {
	ID   int64
	Type string
	Data []byte
}

// Broker fans out events to all subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextSub     atomic.Int64
	nextEvent   atomic.Int64
	dropped     atomic.Int64
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a client and returns its id and event channel. The
// channel is buffered; a slow consumer has events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextSub.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish stamps evt with the next event id and offers it to every
// subscriber without blocking.
func (b *Broker) Publish(evt Event) {
	evt.ID = b.nextEvent.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// PublishJSON publishes v encoded as JSON under type typ.
func (b *Broker) PublishJSON(typ string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("relay: encode %s event: %w", typ, err)
	}
	b.Publish(Event{Type: typ, Data: data})
	return nil
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
