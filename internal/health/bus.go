package health

import (
	"sync"
	"time"
)

// EventType represents the type of health event being published.
type EventType string

const (
	// EventHealthUpdated is published whenever a provider's status changes.
	EventHealthUpdated EventType = "health-updated"
	// EventAlertCreated is published when a threshold breach opens an alert.
	EventAlertCreated EventType = "alert-created"
	// EventFailoverActivated is published when routing is pinned to a provider.
	EventFailoverActivated EventType = "failover-activated"
)

// Event is one health occurrence pushed to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Alert     *Alert    `json:"alert,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking fan-out bus. Events are delivered asynchronously
// via buffered channels; if a subscriber's channel is full the event is
// dropped for that subscriber, so a slow dashboard can never stall health
// recording.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	bufferSize  int
}

// NewBus creates a bus with the specified buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe registers a subscriber for all event types. The subscriber
// function is called from a dedicated goroutine. Returns an unsubscribe
// function.
func (b *Bus) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers = append(b.subscribers, ch)

	go func() {
		for event := range ch {
			func() {
				defer func() {
					_ = recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, subCh := range b.subscribers {
			if subCh == ch {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish sends an event to all subscribers without ever blocking.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, drop.
		}
	}
}
