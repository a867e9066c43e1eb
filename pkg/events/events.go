package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clubops/settle/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventJobStarted   EventType = "job.started"
	EventJobCycle     EventType = "job.cycle"
	EventJobExtended  EventType = "job.extended"
	EventJobFinalized EventType = "job.finalized"
	EventJobCancelled EventType = "job.cancelled"
	EventJobFailed    EventType = "job.failed"
)

// Event represents a job lifecycle event
type Event struct {
	ID          string
	Type        EventType
	Timestamp   time.Time
	JobID       string
	DistrictID  string
	TargetMonth string
	Message     string
	Metadata    map[string]string
}

// NewJobEvent builds an event carrying a job's identity.
func NewJobEvent(eventType EventType, job *types.ReconciliationJob, message string) *Event {
	return &Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now(),
		JobID:       job.ID,
		DistrictID:  job.DistrictID,
		TargetMonth: job.TargetMonth,
		Message:     message,
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // absorbs bursts from batch runs
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. Publishing never blocks
// job processing: the event is dropped when the broker is stopped.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// Drain unsubscribes everyone after the distribution loop has stopped.
func (b *Broker) Drain() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		close(sub)
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
