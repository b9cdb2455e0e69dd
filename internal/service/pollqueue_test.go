package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollQueue_PopDueOrder(t *testing.T) {
	q := newPollQueue()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	q.Schedule("job-c", base.Add(30*time.Second))
	q.Schedule("job-a", base.Add(10*time.Second))
	q.Schedule("job-b", base.Add(20*time.Second))

	assert.Equal(t, 3, q.Len())

	due, ok := q.NextDue()
	require.True(t, ok)
	assert.Equal(t, base.Add(10*time.Second), due)

	// Nothing is due yet.
	assert.Empty(t, q.PopDue(base.Add(9*time.Second)))
	assert.Equal(t, 3, q.Len())

	// Due entries come out in due order, inclusive of the boundary.
	assert.Equal(t, []string{"job-a", "job-b"}, q.PopDue(base.Add(20*time.Second)))
	assert.Equal(t, 1, q.Len())
	assert.False(t, q.Contains("job-a"))
	assert.True(t, q.Contains("job-c"))

	assert.Equal(t, []string{"job-c"}, q.PopDue(base.Add(time.Minute)))
	assert.Equal(t, 0, q.Len())

	_, ok = q.NextDue()
	assert.False(t, ok)
}

func TestPollQueue_ScheduleReplacesExistingEntry(t *testing.T) {
	q := newPollQueue()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	q.Schedule("job-a", base.Add(10*time.Second))
	q.Schedule("job-b", base.Add(20*time.Second))

	// Rescheduling moves the entry instead of duplicating it.
	q.Schedule("job-a", base.Add(30*time.Second))
	assert.Equal(t, 2, q.Len())

	due, ok := q.NextDue()
	require.True(t, ok)
	assert.Equal(t, base.Add(20*time.Second), due)

	assert.Equal(t, []string{"job-b", "job-a"}, q.PopDue(base.Add(time.Minute)))
}

func TestPollQueue_Remove(t *testing.T) {
	q := newPollQueue()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	q.Schedule("job-a", base.Add(10*time.Second))
	q.Schedule("job-b", base.Add(20*time.Second))
	q.Schedule("job-c", base.Add(30*time.Second))

	q.Remove("job-b")
	assert.Equal(t, 2, q.Len())
	assert.False(t, q.Contains("job-b"))

	// Removing an absent id is a no-op.
	q.Remove("job-b")
	q.Remove("never-scheduled")
	assert.Equal(t, 2, q.Len())

	assert.Equal(t, []string{"job-a", "job-c"}, q.PopDue(base.Add(time.Minute)))
}

func TestPollQueue_WakeupsOnNewEarliest(t *testing.T) {
	q := newPollQueue()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	woke := func() bool {
		select {
		case <-q.Wakeups():
			return true
		default:
			return false
		}
	}

	// The first entry is always the new earliest.
	q.Schedule("job-a", base.Add(30*time.Second))
	assert.True(t, woke())

	// A poll behind the current head leaves a sleeping consumer alone.
	q.Schedule("job-b", base.Add(40*time.Second))
	assert.False(t, woke())

	// Scheduling ahead of the head must interrupt a wait pinned to the old
	// earliest time, or the new poll slips to the stale deadline.
	q.Schedule("job-c", base.Add(10*time.Second))
	assert.True(t, woke())

	// Moving an existing entry to the front signals too.
	q.Schedule("job-b", base.Add(5*time.Second))
	assert.True(t, woke())

	// The signal is buffered; an undrained wakeup never blocks Schedule.
	q.Schedule("job-d", base.Add(time.Second))
	q.Schedule("job-e", base.Add(time.Millisecond))
	assert.True(t, woke())
	assert.False(t, woke())
}

func TestPollQueue_PopDueEmptiesByID(t *testing.T) {
	q := newPollQueue()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	q.Schedule("job-a", base)
	require.Equal(t, []string{"job-a"}, q.PopDue(base))

	// A popped job can be scheduled again.
	assert.False(t, q.Contains("job-a"))
	q.Schedule("job-a", base.Add(time.Second))
	assert.True(t, q.Contains("job-a"))
	assert.Equal(t, 1, q.Len())
}
