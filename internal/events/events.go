// Package events defines the outbound notifications the engine emits as a
// run progresses. Consumers (a dashboard, a log shipper) are out of scope;
// this package only defines the typed envelope and one in-process sink,
// Bus, useful for tests and the CLI.
package events

import (
	"sync"
	"time"
)

// Kind names the event types the engine emits.
type Kind string

const (
	KindPlanGenerated     Kind = "plan_generated"
	KindBatchStarted      Kind = "batch_started"
	KindTaskStarted       Kind = "task_started"
	KindTaskFinished      Kind = "task_finished"
	KindBatchFinished     Kind = "batch_finished"
	KindCheckpointWritten Kind = "checkpoint_written"
	KindApprovalRequest   Kind = "approval_request"
	KindExecutionFinished Kind = "execution_finished"
)

// Event is the envelope carried on the outbound channel.
type Event struct {
	Kind        Kind      `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	ExecutionID string    `json:"execution_id"`
	Payload     any       `json:"payload,omitempty"`
}

// Sink is anywhere an Event can be published. Channel-backed sinks should
// never block a producer indefinitely; Bus below drops events rather than
// stalling the engine when nobody is listening.
type Sink interface {
	Publish(e Event)
}

// Bus fans a single event stream out to zero or more subscriber channels.
// Publish never blocks: a subscriber whose buffer is full misses events
// rather than stalling the run.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewBus returns an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a buffered channel that receives every future Publish
// call. The channel is never closed by Bus; callers own its lifetime.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, buffer)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish fans e out to every subscriber, dropping it for any subscriber
// whose buffer is currently full.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
