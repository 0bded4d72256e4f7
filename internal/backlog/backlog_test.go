package backlog

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(b *Backlog) string {
	var sb strings.Builder
	for _, r := range b.Records() {
		sb.WriteString(r.Text)
	}
	return sb.String()
}

func TestBacklog_EvictsOldest(t *testing.T) {
	b := New(StaticCapacity("2"), 0)

	for i, msg := range []string{"a", "b", "c"} {
		b.Push(NewRecord(i+1, msg))
	}

	require.Equal(t, 2, b.Len())
	require.Equal(t, "bc", texts(b))
}

func TestBacklog_SnapshotFormat(t *testing.T) {
	b := New(StaticCapacity("3"), 0)
	b.Push(NewRecord(1, "hello"))
	b.Push(NewRecord(2, "world"))

	want := "[Message 1]\nhello\n\n[Message 2]\nworld\n\n"
	require.Equal(t, want, b.Snapshot())
}

func TestBacklog_DefaultCapacity(t *testing.T) {
	cases := []struct {
		name string
		src  CapacitySource
	}{
		{"nil source", nil},
		{"empty", StaticCapacity("")},
		{"garbage", StaticCapacity("lots")},
		{"zero", StaticCapacity("0")},
		{"negative", StaticCapacity("-4")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := New(tc.src, 0)

			var note string
			for i := 1; i <= 5; i++ {
				note = b.Push(NewRecord(i, fmt.Sprint(i)))
			}

			require.Equal(t, DefaultCapacity, b.Len())
			require.Equal(t, "345", texts(b))
			require.Contains(t, note, "using default 3")
		})
	}
}

func TestBacklog_ValidCapacityHasNoNote(t *testing.T) {
	b := New(StaticCapacity(" 5 "), 0)
	require.Empty(t, b.Push(NewRecord(1, "x")))
}

type mutableCapacity struct {
	mu sync.Mutex
	v  string
}

func (m *mutableCapacity) MessageBacklog() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v
}

func (m *mutableCapacity) set(v string) {
	m.mu.Lock()
	m.v = v
	m.mu.Unlock()
}

func TestBacklog_CapacityResolvedAtPush(t *testing.T) {
	src := &mutableCapacity{v: "4"}
	b := New(src, 0)

	for i := 1; i <= 4; i++ {
		b.Push(NewRecord(i, fmt.Sprint(i)))
	}
	require.Equal(t, 4, b.Len())

	src.set("2")
	b.Push(NewRecord(5, "5"))

	require.Equal(t, 2, b.Len())
	require.Equal(t, "45", texts(b))
}

func TestBacklog_NeverExceedsCapacity(t *testing.T) {
	for capacity := 1; capacity <= 6; capacity++ {
		b := New(StaticCapacity(fmt.Sprint(capacity)), 0)
		for i := 1; i <= 20; i++ {
			b.Push(NewRecord(i, fmt.Sprint(i)))
			assert.LessOrEqual(t, b.Len(), capacity)
		}

		records := b.Records()
		require.Len(t, records, capacity)
		for i, r := range records {
			assert.Equal(t, 20-capacity+1+i, r.Seq)
		}
	}
}

func TestBacklog_ConcurrentPushAndSnapshot(t *testing.T) {
	b := New(StaticCapacity("3"), 0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 500; i++ {
			b.Push(NewRecord(i, "m"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = b.Snapshot()
		}
	}()
	wg.Wait()

	require.Equal(t, 3, b.Len())
}

func TestBacklog_Reset(t *testing.T) {
	b := New(StaticCapacity("3"), 0)
	b.Push(NewRecord(1, "x"))
	b.Reset()

	require.Zero(t, b.Len())
	require.Empty(t, b.Snapshot())
}
