// Package matchmaking holds participants waiting for a partner.
package matchmaking

import (
	"sync"
	"time"
)

// Entry is one waiting participant.
type Entry struct {
	Identity   string
	Handle     string
	EnqueuedAt time.Time
}

// Result of a pairing attempt.
type Result int

const (
	// NotEnough means fewer than two participants wait.
	NotEnough Result = iota
	// Paired means the two oldest entries were removed as a pair.
	Paired
	// SameIdentity means the two oldest share an identity. They were put
	// back (first at the head, second at the tail) and the caller should
	// wait for the next queue event before retrying.
	SameIdentity
)

func (r Result) String() string {
	switch r {
	case Paired:
		return "paired"
	case SameIdentity:
		return "same_identity"
	default:
		return "not_enough"
	}
}

// Queue is a FIFO of waiting participants.
type Queue struct {
	mu              sync.Mutex
	entries         []Entry
	requireDistinct bool
}

// NewQueue returns an empty queue. When requireDistinct is set two entries
// with the same identity are never paired.
func NewQueue(requireDistinct bool) *Queue {
	return &Queue{requireDistinct: requireDistinct}
}

// Enqueue appends e to the tail.
func (q *Queue) Enqueue(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now().UTC()
	}
	q.entries = append(q.entries, e)
}

// Remove drops the entry with handle. It reports whether one was found.
func (q *Queue) Remove(handle string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.Handle == handle {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e, true
		}
	}
	return Entry{}, false
}

// Replace swaps the handle of the oldest entry for identity, keeping its
// position. It returns the previous handle.
func (q *Queue) Replace(identity, handle string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].Identity == identity {
			old := q.entries[i].Handle
			q.entries[i].Handle = handle
			return old, true
		}
	}
	return "", false
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns the waiting entries, oldest first.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Next removes the two oldest entries when they can be paired. The first
// returned entry is the older one.
func (q *Queue) Next() (first, second Entry, res Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) < 2 {
		return Entry{}, Entry{}, NotEnough
	}
	first, second = q.entries[0], q.entries[1]
	rest := q.entries[2:]
	if q.requireDistinct && first.Identity == second.Identity {
		requeued := make([]Entry, 0, len(q.entries))
		requeued = append(requeued, first)
		requeued = append(requeued, rest...)
		requeued = append(requeued, second)
		q.entries = requeued
		return Entry{}, Entry{}, SameIdentity
	}
	q.entries = append([]Entry(nil), rest...)
	return first, second, Paired
}
