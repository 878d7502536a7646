package session

import (
	"sync"
	"time"
)

// EventType identifies a session event.
type EventType string

const (
	EventTick     EventType = "tick"
	EventReminder EventType = "reminder"
	EventLocked   EventType = "locked"
	EventUnlocked EventType = "unlocked"
	EventStarted  EventType = "started"
	EventStopped  EventType = "stopped"
	EventPaused   EventType = "paused"
	EventResumed  EventType = "resumed"
)

// Event is published on every session change.
type Event struct {
	Type             EventType `json:"type"`
	State            State     `json:"state"`
	SessionID        string    `json:"session_id,omitempty"`
	ElapsedSeconds   int64     `json:"elapsed_seconds"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	ReminderMinutes  int       `json:"reminder_minutes,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	Time             time.Time `json:"time"`
}

// broker fans events out to subscribers. Slow subscribers miss events.
type broker struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]chan Event
}

func newBroker() *broker {
	return &broker{subscribers: make(map[int]chan Event)}
}

func (b *broker) subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, id)
			close(ch)
		})
	}
}

func (b *broker) publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
