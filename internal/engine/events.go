package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventStateChanged       EventType = "state_changed"
	EventRunStarted         EventType = "run_started"
	EventIterationStarted   EventType = "iteration_started"
	EventSectionStarted     EventType = "section_started"
	EventStepStarted        EventType = "step_started"
	EventStepFailed         EventType = "step_failed"
	EventRunCompleted       EventType = "run_completed"
	EventRunFailed          EventType = "run_failed"
	EventRunStopped         EventType = "run_stopped"
	EventConnectionLost     EventType = "connection_lost"
	EventConnectionRestored EventType = "connection_restored"
)

// RunEvent is one session event, fanned out to every subscriber.
type RunEvent struct {
	RunID     uuid.UUID      `json:"run_id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Broadcaster fans run events out to subscribers. Slow subscribers lose
// events rather than stalling the engine.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers []chan RunEvent
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

func (b *Broadcaster) Subscribe() <-chan RunEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan RunEvent, 100)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

func (b *Broadcaster) Unsubscribe(ch <-chan RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			break
		}
	}
}

func (b *Broadcaster) Broadcast(event RunEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Skip if channel is full
		}
	}
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
