// Package errlog keeps an append-only record of send failures and hands them
// out to readers through advancing cursors.
package errlog

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entry is one captured failure.
type Entry struct {
	ID    string    `json:"id"`
	Time  time.Time `json:"time"`
	Sink  string    `json:"sink,omitempty"`
	Error string    `json:"error"`
}

// Log is an append-only, ordered sequence of failures. Entries are never
// removed for the lifetime of the process.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
}

func New() *Log {
	return &Log{
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Append records err against sink and returns the stored entry.
func (l *Log) Append(sink string, err error) Entry {
	msg := "<nil>"
	if err != nil {
		msg = err.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now()
	e := Entry{
		ID:    ulid.MustNew(ulid.Timestamp(ts), l.entropy).String(),
		Time:  ts,
		Sink:  sink,
		Error: msg,
	}
	l.entries = append(l.entries, e)
	return e
}

// Len returns the total number of entries ever appended.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Last returns up to n of the most recent entries, oldest first.
func (l *Log) Last(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || len(l.entries) == 0 {
		return []Entry{}
	}
	start := len(l.entries) - n
	if start < 0 {
		start = 0
	}
	return append([]Entry(nil), l.entries[start:]...)
}

// since copies entries from offset onward and returns the new end offset.
func (l *Log) since(offset int) ([]Entry, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if offset >= len(l.entries) {
		return []Entry{}, len(l.entries)
	}
	return append([]Entry(nil), l.entries[offset:]...), len(l.entries)
}

// Cursor is a read offset into a Log. Each call to Next returns only the
// entries appended since the previous call.
//
// A Cursor is meant for a single consumer: concurrent readers sharing one
// Cursor each get a disjoint slice of the new entries, never the same entry
// twice.
type Cursor struct {
	mu     sync.Mutex
	log    *Log
	offset int
}

// NewCursor returns a cursor positioned at the start of the log.
func (l *Log) NewCursor() *Cursor {
	return &Cursor{log: l}
}

// Next returns the entries appended since the last call and advances the cursor.
func (c *Cursor) Next() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, end := c.log.since(c.offset)
	c.offset = end
	return entries
}

