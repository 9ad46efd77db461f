package logger

import "sync"

// EventTap is the per-run event queue between the engine and the run log.
// Producers push one-shot messages, the logger consumes exactly one per
// row. One tap per session, never shared across runs.
type EventTap struct {
	mu    sync.Mutex
	queue []string
}

func NewEventTap() *EventTap {
	return &EventTap{}
}

// Push queues one message for the next free row.
func (t *EventTap) Push(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, msg)
}

// TakeOne pops the oldest pending message.
func (t *EventTap) TakeOne() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return "", false
	}
	msg := t.queue[0]
	t.queue = t.queue[1:]
	return msg, true
}

// Pending reports the queued message count.
func (t *EventTap) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}
