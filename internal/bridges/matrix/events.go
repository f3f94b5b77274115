package matrix

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType names a controller event.
type EventType string

// Event types emitted by the Controller.
const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
	EventUpdate       EventType = "update"
	EventReconnecting EventType = "reconnecting"
)

// defaultSubscriberQueue is the per-subscriber buffer size.
const defaultSubscriberQueue = 64

// Event is one notification from the Controller.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	MatrixID  string         `json:"matrix_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler receives events.
type Handler func(Event)

type subscriber struct {
	handler Handler
	queue   chan Event
	done    chan struct{}
}

// Notifier fans events out to subscribers.
//
// Each subscriber has its own queue and goroutine, so events reach a
// subscriber in emission order while a slow or panicking subscriber never
// blocks Emit or other subscribers. When a queue is full the event is
// dropped for that subscriber and counted.
type Notifier struct {
	logHolder

	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextID    uint64
	queueSize int
	closed    bool

	wg      sync.WaitGroup
	emitted atomic.Uint64
	dropped atomic.Uint64
}

// NewNotifier creates a notifier. queueSize <= 0 selects the default.
func NewNotifier(queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = defaultSubscriberQueue
	}
	return &Notifier{
		subs:      make(map[uint64]*subscriber),
		queueSize: queueSize,
	}
}

// Subscribe registers h and returns a function that removes it. Events
// still queued for h when it is removed are discarded.
func (n *Notifier) Subscribe(h Handler) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed || h == nil {
		return func() {}
	}

	id := n.nextID
	n.nextID++
	sub := &subscriber{
		handler: h,
		queue:   make(chan Event, n.queueSize),
		done:    make(chan struct{}),
	}
	n.subs[id] = sub

	n.wg.Add(1)
	go n.run(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			if s, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(s.done)
			}
			n.mu.Unlock()
		})
	}
}

// Emit queues ev for every subscriber without blocking. ID and Timestamp are
// filled in when empty.
func (n *Notifier) Emit(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return
	}
	n.emitted.Add(1)

	for _, sub := range n.subs {
		select {
		case sub.queue <- ev:
		default:
			n.dropped.Add(1)
			n.logWarn("subscriber queue full, dropping event", "type", string(ev.Type))
		}
	}
}

func (n *Notifier) run(sub *subscriber) {
	defer n.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.queue:
			n.deliver(sub.handler, ev)
		}
	}
}

func (n *Notifier) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logError("event handler panic", fmt.Errorf("%v", r), "type", string(ev.Type))
		}
	}()
	h(ev)
}

// Close removes all subscribers and waits for their goroutines. Emit after
// Close is a no-op.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	for id, sub := range n.subs {
		delete(n.subs, id)
		close(sub.done)
	}
	n.mu.Unlock()

	n.wg.Wait()
}

// Dropped returns how many deliveries were dropped on full queues.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Emitted returns how many events were emitted.
func (n *Notifier) Emitted() uint64 {
	return n.emitted.Load()
}
