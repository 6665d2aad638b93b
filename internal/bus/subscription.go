package bus

import "context"

// Subscription subscribes before the sender is triggered, so a fast reply
// cannot land before Wait.
type Subscription struct {
	b  *Broker
	id int64
	ch <-chan Message
}

func Listen(b *Broker, typ, tabID string) *Subscription {
	id, ch := b.Subscribe(Filter{Types: []string{typ}, TabID: tabID})
	return &Subscription{b: b, id: id, ch: ch}
}

func (s *Subscription) Wait(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case m, ok := <-s.ch:
		if !ok {
			return Message{}, context.Canceled
		}
		return m, nil
	}
}

func (s *Subscription) Close() { s.b.Unsubscribe(s.id) }
