package store

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ms-iwade/opensearch-app/internal/model"
)

// subscriptionBuffer is the channel capacity per subscription. A
// consumer that falls further behind than this loses events rather
// than blocking the writer.
const subscriptionBuffer = 16

// Subscription is a live stream of item events. Receive from C until
// it is closed; call Cancel to stop the stream and release it. Cancel
// is idempotent and safe to call from any goroutine.
type Subscription struct {
	C <-chan model.Item

	ch     chan model.Item
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription from its hub and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Hub fans one kind of item event out to any number of subscriptions.
// Publishing never blocks: a subscription whose buffer is full drops
// the event (logged at warn).
type Hub struct {
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
	closed bool
}

// NewHub returns an empty hub. The logger is required.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[int]*Subscription),
	}
}

// Subscribe opens a new stream on the hub. On a closed hub the
// returned subscription's channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan model.Item, subscriptionBuffer)
	sub := &Subscription{C: ch, ch: ch}

	if h.closed {
		close(ch)
		sub.cancel = func() {}
		return sub
	}

	id := h.nextID
	h.nextID++
	sub.cancel = func() { h.remove(id) }
	h.subs[id] = sub
	return sub
}

// Publish delivers item to every live subscription.
func (h *Hub) Publish(item model.Item) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- item:
		default:
			h.logger.Warn("event dropped, slow subscriber", zap.String("id", item.ID))
		}
	}
}

// Close cancels every subscription and rejects future ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
}
