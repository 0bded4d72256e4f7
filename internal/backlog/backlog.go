// Package backlog keeps the last few messages a connection received.
//
// Capacity is read from a CapacitySource on every push, so a setting changed
// between rounds takes effect on the next message without rebuilding the
// backlog.
package backlog

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/eapache/queue"
)

// DefaultCapacity is used when the configured size is missing or invalid
const DefaultCapacity = 3

// CapacitySource supplies the raw configured backlog size
type CapacitySource interface {
	MessageBacklog() string
}

// StaticCapacity is a CapacitySource with a fixed value
type StaticCapacity string

// MessageBacklog implements CapacitySource
func (s StaticCapacity) MessageBacklog() string { return string(s) }

// Record is one received message with its sequence number
type Record struct {
	Seq  int
	Text string
}

// NewRecord builds a record for message seq
func NewRecord(seq int, text string) Record {
	return Record{Seq: seq, Text: text}
}

// String renders the record the way it appears in a result
func (r Record) String() string {
	return fmt.Sprintf("[Message %d]\n%s\n\n", r.Seq, r.Text)
}

// Backlog is a bounded FIFO of records. Safe for concurrent use.
type Backlog struct {
	mu       sync.Mutex
	q        *queue.Queue
	src      CapacitySource
	fallback int
}

// New returns an empty backlog. fallback <= 0 selects DefaultCapacity.
func New(src CapacitySource, fallback int) *Backlog {
	if fallback <= 0 {
		fallback = DefaultCapacity
	}
	return &Backlog{q: queue.New(), src: src, fallback: fallback}
}

// Capacity resolves the current capacity. note is non-empty when the
// configured value could not be used.
func (b *Backlog) Capacity() (capacity int, note string) {
	if b.src == nil {
		return b.fallback, fmt.Sprintf("Message backlog value not set; using default %d", b.fallback)
	}

	raw := strings.TrimSpace(b.src.MessageBacklog())
	if raw == "" {
		return b.fallback, fmt.Sprintf("Message backlog value not set; using default %d", b.fallback)
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return b.fallback, fmt.Sprintf("Message backlog value %q is not a positive integer; using default %d", raw, b.fallback)
	}
	return n, ""
}

// Push appends r, evicting the oldest records first so the size never
// exceeds the capacity resolved for this push.
func (b *Backlog) Push(r Record) (note string) {
	capacity, note := b.Capacity()

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.q.Length() >= capacity {
		b.q.Remove()
	}
	b.q.Add(r)

	return note
}

// Len returns the number of held records
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Length()
}

// Records returns a copy of the held records, oldest first
func (b *Backlog) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Record, b.q.Length())
	for i := range out {
		out[i] = b.q.Get(i).(Record)
	}
	return out
}

// Snapshot concatenates the rendered records, oldest first
func (b *Backlog) Snapshot() string {
	var sb strings.Builder
	for _, r := range b.Records() {
		sb.WriteString(r.String())
	}
	return sb.String()
}

// Reset drops every record
func (b *Backlog) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.q = queue.New()
}
