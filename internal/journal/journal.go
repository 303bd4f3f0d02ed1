// Package journal keeps a bounded, in-memory history of connection lifecycle
// and reload events so operators can inspect recent multiplexer activity
// through the admin API.
package journal

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

// Kind classifies a journal event.
type Kind string

const (
	KindAccept     Kind = "accept"
	KindDisconnect Kind = "disconnect"
	KindReload     Kind = "reload"
	KindError      Kind = "error"
)

// Event is a single journal entry.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   Kind      `json:"kind"`
	FD     int       `json:"fd,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Journal is a fixed-capacity FIFO of events. When full, the oldest event is
// evicted. A nil *Journal discards everything.
type Journal struct {
	mu    sync.Mutex
	q     *queue.Queue
	max   int
	total uint64
	now   func() time.Time
}

// New creates a Journal that retains at most max events.
func New(max int) *Journal {
	if max < 1 {
		max = 1
	}
	return &Journal{q: queue.New(), max: max, now: time.Now}
}

// Record appends ev, stamping it with the current time if unset.
func (j *Journal) Record(ev Event) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if ev.Time.IsZero() {
		ev.Time = j.now()
	}
	for j.q.Length() >= j.max {
		j.q.Remove()
	}
	j.q.Add(ev)
	j.total++
}

// Snapshot returns the retained events, oldest first.
func (j *Journal) Snapshot() []Event {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	events := make([]Event, j.q.Length())
	for i := range events {
		events[i] = j.q.Get(i).(Event)
	}
	return events
}

// Total returns the number of events ever recorded, including evicted ones.
func (j *Journal) Total() uint64 {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.total
}
