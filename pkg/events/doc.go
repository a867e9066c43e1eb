/*
Package events provides an in-memory event broker for settle's pub/sub
messaging.

The events package implements a lightweight event bus for broadcasting job
lifecycle events to interested subscribers. The orchestrator publishes an
event for every state transition it performs; the daemon subscribes for
logging and to feed the performance monitor. Delivery is best-effort: a
subscriber that stops draining its channel loses events rather than
stalling job processing.

# Architecture

The broker provides non-blocking pub/sub messaging with buffered channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │              Event Broker                  │           │
	│  │  - In-memory message bus                   │           │
	│  │  - Topic-agnostic (all events broadcast)   │           │
	│  │  - Non-blocking publish                    │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │          Event Distribution                │           │
	│  │                                            │           │
	│  │  Publisher → Event Channel (buffer: 100)   │           │
	│  │       ↓                                    │           │
	│  │  Broadcast Loop                            │           │
	│  │       ↓                                    │           │
	│  │  Subscriber Channels (buffer: 50 each)     │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Event Types                      │           │
	│  │    - job.started                           │           │
	│  │    - job.cycle                             │           │
	│  │    - job.extended                          │           │
	│  │    - job.finalized                         │           │
	│  │    - job.cancelled                         │           │
	│  │    - job.failed                            │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │            Subscribers                     │           │
	│  │                                            │           │
	│  │  Daemon log: Mirror events into the log    │           │
	│  │  Monitor feed: Project into health metrics │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel, Drain for final cleanup

Event:
  - ID: Unique event identifier (UUID)
  - Type: Event type (job.started, job.finalized, ...)
  - Timestamp: When the event occurred
  - JobID, DistrictID, TargetMonth: The job's identity
  - Message: Human-readable description
  - Metadata: Key-value pairs for additional context

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe() or broker.Drain()

NewJobEvent:
  - Builds an event carrying a job's identity
  - Fills ID and Timestamp; callers attach Metadata as needed

# Event Flow

Publish flow:
 1. Publisher calls broker.Publish(event)
 2. Event added to the main event channel (buffer 100)
 3. Broadcast loop receives the event
 4. Event sent to every subscriber channel
 5. Full subscriber buffers skip (no blocking)
 6. After Stop, publishes fall through and drop

Subscribe flow:
 1. Subscriber calls broker.Subscribe()
 2. New buffered channel created and registered
 3. Subscriber ranges over the channel in its own goroutine

Shutdown flow:
 1. broker.Stop() signals the broadcast loop
 2. broker.Drain() closes every subscriber channel
 3. Subscriber range loops terminate naturally

# Usage

Creating and starting the broker:

	broker := events.NewBroker()
	broker.Start()
	defer func() {
		broker.Stop()
		broker.Drain()
	}()

Subscribing to events:

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Printf("%s %s: %s\n", ev.Type, ev.JobID, ev.Message)
		}
	}()

Publishing events:

	ev := events.NewJobEvent(events.EventJobStarted, job, "reconciliation started")
	broker.Publish(ev)

Filtering by type:

	for ev := range sub {
		switch ev.Type {
		case events.EventJobFinalized:
			handleFinalized(ev)
		case events.EventJobFailed:
			handleFailed(ev)
		}
	}

# Event Types Catalog

EventJobStarted ("job.started"):
  - Published when: A reconciliation job is created
  - Message: "reconciliation started"
  - Subscribers: Daemon log, monitor (RecordJobStart)

EventJobCycle ("job.cycle"):
  - Published when: A processing cycle records an observation
  - Message: The derived timeline status message
  - Subscribers: Daemon log

EventJobExtended ("job.extended"):
  - Published when: The window grows, manually or automatically
  - Message: "window extended by N day(s) to DATE"
  - Metadata: days (extension size)
  - Subscribers: Daemon log, monitor (RecordJobExtension)

EventJobFinalized ("job.finalized"):
  - Published when: The month is committed and the job completes
  - Message: The readiness reason that allowed finalization
  - Metadata: days_stable (streak length at finalization)
  - Subscribers: Daemon log, monitor (RecordJobCompletion)

EventJobCancelled ("job.cancelled"):
  - Published when: An operator cancels the job
  - Message: "reconciliation cancelled"
  - Subscribers: Daemon log, monitor (RecordJobCancellation)

EventJobFailed ("job.failed"):
  - Published when: A job is marked failed
  - Message: The failure reason
  - Subscribers: Daemon log, monitor (RecordJobFailure)

# Design Patterns

Non-Blocking Publish:
  - Publish sends to a buffered channel
  - Returns immediately; a stopped broker drops the event
  - Trade-off: Throughput over guaranteed delivery

Fan-Out Pattern:
  - Single event broadcast to all subscribers
  - Each subscriber gets its own channel
  - Independent processing rates
  - Full buffers skip to prevent blocking

Fire-and-Forget:
  - No acknowledgment from subscribers
  - No retry on delivery failure
  - Suitable for observation, not for state changes; persisted job
    state never depends on an event arriving

Stop Then Drain:
  - Stop halts distribution; Drain closes subscriber channels
  - The split lets subscribers finish their buffered backlog between
    the two calls

# Integration Points

This package integrates with:

  - pkg/orchestrator: Publishes every lifecycle transition
  - cmd/settle (serve): Subscribes twice, for event logging and for
    driving the monitor projection
  - pkg/monitor: Consumes events indirectly through the daemon feed

# Performance Characteristics

Event publishing:
  - Latency: < 1µs (channel send)
  - Non-blocking: Never waits for subscribers

Event delivery:
  - Per subscriber: ~500ns to 1µs
  - Buffer: 50 events per subscriber, 100 in the main channel
  - Overflow: Slow subscribers skip events

Memory usage:
  - Broker: ~1KB baseline
  - Per subscriber: channel overhead plus buffered event pointers
  - Per event: ~200 bytes (struct + metadata)

# Troubleshooting

Events not received:
  - Symptom: Subscriber receives no events
  - Check: broker.Start() called before publishing
  - Check: Subscriber goroutine is ranging over the channel
  - Note: Events published after Stop are dropped silently

Events dropped:
  - Symptom: Gaps in a subscriber's view of a busy run
  - Cause: Subscriber buffer full (slow processing)
  - Check: SubscriberCount() and the event rate
  - Solution: Drain faster, or accept the gaps: the store holds the
    authoritative state

Goroutine leaks:
  - Symptom: Subscriber goroutines never exit at shutdown
  - Cause: Drain() not called after Stop()
  - Solution: Always pair Stop with Drain; range loops end when the
    channel closes

# Limitations

  - In-memory only (no persistence, no replay)
  - No delivery guarantees (best effort)
  - No topic filtering (all events broadcast; filter by Type at the
    subscriber)
  - No ordering guarantees across subscribers

The persisted job and timeline records in pkg/storage remain the source
of truth; events are a live view, not a ledger.

# See Also

  - pkg/orchestrator for the publishing call sites
  - cmd/settle for the daemon's subscriber loops
  - pkg/monitor for what the event feed drives
*/
package events
