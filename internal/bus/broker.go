package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// Filter narrows a subscription. Zero fields match everything.
type Filter struct {
	Types []string
	TabID string
}

func (f Filter) match(m Message) bool {
	if f.TabID != "" && m.TabID != f.TabID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == m.Type {
			return true
		}
	}
	return false
}

type subscriber struct {
	ch     chan Message
	filter Filter
}

// Broker fans out messages to subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]*subscriber),
	}
}

// Subscribe registers a listener. The channel is buffered; slow consumers
// have messages dropped.
func (b *Broker) Subscribe(filter Filter) (int64, <-chan Message) {
	id := b.nextID.Add(1)
	ch := make(chan Message, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = &subscriber{ch: ch, filter: filter}
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are
// ignored, so it is safe to call twice.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Publish delivers m to every matching subscriber without blocking.
func (b *Broker) Publish(m Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subscribers {
		if !sub.filter.match(m) {
			continue
		}
		select {
		case sub.ch <- m:
		default:
			b.dropped.Add(1)
			slog.Debug("bus message dropped", "subscriber", id, "type", m.Type)
		}
	}
}

// PublishPayload builds and publishes a message, logging marshal failures.
func (b *Broker) PublishPayload(typ, tabID string, payload any) {
	m, err := NewMessage(typ, tabID, payload)
	if err != nil {
		slog.Error("bus publish failed", "type", typ, "error", err)
		return
	}
	b.Publish(m)
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped counts messages discarded for slow subscribers.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }
