package events

import (
	"context"
	"sync"
)

const defaultBuffer = 64

type subscriber struct {
	instanceID string // empty matches every instance
	ch         chan Event
}

// Bus is an in-process publish/subscribe fan-out. Subscriptions are bound to
// the subscriber's context: when it is cancelled the subscription is removed
// and its channel closed, so consumers that range over the channel terminate
// cleanly. Publishing never blocks; a full subscriber loses its oldest
// buffered event instead.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[uint64]*subscriber),
	}
}

// Subscribe registers a listener for one instance's events, or for all
// instances when instanceID is empty. The returned channel is closed when ctx
// is cancelled.
func (b *Bus) Subscribe(ctx context.Context, instanceID string) <-chan Event {
	return b.SubscribeBuffered(ctx, instanceID, defaultBuffer)
}

func (b *Bus) SubscribeBuffered(ctx context.Context, instanceID string, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &subscriber{
		instanceID: instanceID,
		ch:         make(chan Event, buffer),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
		b.mu.Unlock()
	}()

	return sub.ch
}

// Publish fans the event out to every matching subscriber without blocking.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.instanceID != "" && sub.instanceID != evt.InstanceID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Slow consumer. Shed the oldest buffered event so the
			// stream stays current, then retry once.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
