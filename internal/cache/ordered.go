package cache

import (
	"container/list"
	"sync"
)

// Ordered is a bounded map that evicts by insertion order. Setting an
// existing key moves it to the newest position.
type Ordered[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[K]*list.Element
}

type orderedEntry[K comparable, V any] struct {
	key   K
	value V
}

// NewOrdered returns a cache holding at most capacity entries. A capacity
// below one is treated as one.
func NewOrdered[K comparable, V any](capacity int) *Ordered[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ordered[K, V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[K]*list.Element),
	}
}

// Get does not change the entry's position.
func (o *Ordered[K, V]) Get(key K) (V, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	el, ok := o.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(*orderedEntry[K, V]).value, true
}

// Set stores value under key and returns the evicted key, if any.
func (o *Ordered[K, V]) Set(key K, value V) (evicted K, didEvict bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if el, ok := o.items[key]; ok {
		o.order.Remove(el)
	}
	o.items[key] = o.order.PushBack(&orderedEntry[K, V]{key: key, value: value})

	if o.order.Len() > o.capacity {
		oldest := o.order.Front()
		o.order.Remove(oldest)
		entry := oldest.Value.(*orderedEntry[K, V])
		delete(o.items, entry.key)
		return entry.key, true
	}
	return evicted, false
}

func (o *Ordered[K, V]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.order.Len()
}
