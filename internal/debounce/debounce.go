// Package debounce collapses bursts of keyed events into one. Each key owns
// at most one pending window and one timer; an event arriving inside the
// window replaces the payload and restarts the timer.
package debounce

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Timer is the part of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// AfterFunc starts a timer that calls f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// RealAfterFunc wraps time.AfterFunc.
func RealAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Entry is one pending window.
type Entry[T any] struct {
	Key     string
	Payload T
	// First and Last are the timestamps of the first and latest event.
	First time.Time
	Last  time.Time
	Count int

	gen   uint64
	timer Timer
}

// Gen identifies this incarnation of the key's window.
func (e Entry[T]) Gen() uint64 { return e.gen }

// Debouncer holds pending windows. When a window's timer expires, fire is
// called with the key and generation; the callee claims the entry with Take.
// A stale generation means the window was reset or flushed meanwhile.
type Debouncer[T any] struct {
	mu      sync.Mutex
	after   AfterFunc
	fire    func(key string, gen uint64)
	entries map[string]*Entry[T]
	gen     uint64
}

// New creates a debouncer. A nil after uses RealAfterFunc.
func New[T any](after AfterFunc, fire func(key string, gen uint64)) *Debouncer[T] {
	if after == nil {
		after = RealAfterFunc
	}
	return &Debouncer[T]{
		after:   after,
		fire:    fire,
		entries: make(map[string]*Entry[T]),
	}
}

// Add records an event that happened at at. If the key has a window whose
// latest event is within window of at, the payload is replaced and the timer
// restarted. If the window has already expired by at, the old entry is
// removed and returned so the caller can act on it, and a new window starts.
func (d *Debouncer[T]) Add(key string, payload T, at time.Time, window time.Duration) (flushed Entry[T], ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, exists := d.entries[key]; exists {
		if at.Sub(e.Last) <= window {
			e.timer.Stop()
			e.Payload = payload
			if at.After(e.Last) {
				e.Last = at
			}
			e.Count++
			d.arm(e, window)
			return Entry[T]{}, false
		}
		e.timer.Stop()
		delete(d.entries, key)
		flushed, ok = *e, true
	}

	e := &Entry[T]{Key: key, Payload: payload, First: at, Last: at, Count: 1}
	d.entries[key] = e
	d.arm(e, window)
	return flushed, ok
}

// arm gives e a new generation and timer. The caller must hold the mutex.
func (d *Debouncer[T]) arm(e *Entry[T], window time.Duration) {
	d.gen++
	gen := d.gen
	e.gen = gen
	key := e.Key
	e.timer = d.after(window, func() { d.fire(key, gen) })
}

// Take removes and returns the entry for key if its generation matches.
func (d *Debouncer[T]) Take(key string, gen uint64) (Entry[T], bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[key]
	if !ok || e.gen != gen {
		return Entry[T]{}, false
	}
	delete(d.entries, key)
	return *e, true
}

// Drain stops every timer and returns all pending entries ordered by their
// first event, then key.
func (d *Debouncer[T]) Drain() []Entry[T] {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Entry[T], 0, len(d.entries))
	for key, e := range d.entries {
		e.timer.Stop()
		out = append(out, *e)
		delete(d.entries, key)
	}
	slices.SortFunc(out, func(a, b Entry[T]) int {
		if c := a.First.Compare(b.First); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	return out
}

// Len returns the number of pending windows.
func (d *Debouncer[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
