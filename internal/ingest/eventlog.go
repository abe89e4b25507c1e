package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/clock"
)

// EventTimeLayout is the operator-facing timestamp format.
const EventTimeLayout = "2006-01-02 15:04:05"

// MinEventLogSize is the smallest ring the event log will allocate.
const MinEventLogSize = 1000

// Level classifies an ingestion event.
type Level string

// Event levels, in increasing severity. Success marks a completed
// operation such as a connect or a flush.
const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is one line of the operator-facing ingestion log.
type Event struct {
	Timestamp string `json:"timestamp"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
}

// EventLog is a fixed-capacity ring of ingestion events. When full, the
// oldest event is overwritten.
//
// It is separate from the process log: it holds what an operator needs
// to see on the status page (connects, drops, flush results), not
// diagnostic detail.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscribers are called synchronously, outside the lock, and must
//     not block.
type EventLog struct {
	mu    sync.RWMutex
	buf   []Event
	next  int // slot the next event is written to
	count int

	clock clock.Clock
	zone  *time.Location

	subMu  sync.RWMutex
	subs   map[int]func(Event)
	nextID int
}

// NewEventLog creates a ring holding capacity events (at least
// MinEventLogSize). Timestamps are rendered in zone.
func NewEventLog(capacity int, clk clock.Clock, zone *time.Location) *EventLog {
	if capacity < MinEventLogSize {
		capacity = MinEventLogSize
	}
	if clk == nil {
		clk = clock.Real()
	}
	if zone == nil {
		zone = time.UTC
	}
	return &EventLog{
		buf:   make([]Event, capacity),
		clock: clk,
		zone:  zone,
		subs:  make(map[int]func(Event)),
	}
}

// Add appends an event and notifies subscribers.
func (l *EventLog) Add(level Level, message string) Event {
	ev := Event{
		Timestamp: l.clock.Now().In(l.zone).Format(EventTimeLayout),
		Level:     level,
		Message:   message,
	}

	l.mu.Lock()
	l.buf[l.next] = ev
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
	l.mu.Unlock()

	l.subMu.RLock()
	subs := make([]func(Event), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.subMu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
	return ev
}

// Infof records an info event.
func (l *EventLog) Infof(format string, args ...any) {
	l.Add(LevelInfo, fmt.Sprintf(format, args...))
}

// Successf records a success event.
func (l *EventLog) Successf(format string, args ...any) {
	l.Add(LevelSuccess, fmt.Sprintf(format, args...))
}

// Warningf records a warning event.
func (l *EventLog) Warningf(format string, args ...any) {
	l.Add(LevelWarning, fmt.Sprintf(format, args...))
}

// Errorf records an error event.
func (l *EventLog) Errorf(format string, args ...any) {
	l.Add(LevelError, fmt.Sprintf(format, args...))
}

// Snapshot returns a copy of the retained events, oldest first.
func (l *EventLog) Snapshot() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, 0, l.count)
	start := (l.next - l.count + len(l.buf)) % len(l.buf)
	for i := 0; i < l.count; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Cap returns the ring capacity.
func (l *EventLog) Cap() int {
	return len(l.buf)
}

// Subscribe registers fn to be called for every new event.
//
// Returns:
//   - func(): Unsubscribes fn. Safe to call more than once.
func (l *EventLog) Subscribe(fn func(Event)) func() {
	l.subMu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.subMu.Unlock()

	return func() {
		l.subMu.Lock()
		delete(l.subs, id)
		l.subMu.Unlock()
	}
}
