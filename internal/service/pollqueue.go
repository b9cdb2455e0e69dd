package service

import (
	"container/heap"
	"sync"
	"time"
)

// pollQueue holds the next poll time per job as a min-heap keyed by job id.
// Scheduling an already-queued job moves it instead of adding a duplicate, so
// each running job has at most one pending poll. Safe for concurrent use.
type pollQueue struct {
	mu    sync.Mutex
	tasks taskHeap
	byID  map[string]*pollTask
	wake  chan struct{}
}

type pollTask struct {
	jobID string
	due   time.Time
	index int
}

func newPollQueue() *pollQueue {
	return &pollQueue{
		byID: make(map[string]*pollTask),
		wake: make(chan struct{}, 1),
	}
}

// Schedule sets the job's next poll time, replacing any existing entry.
// A schedule that becomes the new earliest poll signals Wakeups so a
// sleeping consumer can shorten its wait.
func (q *pollQueue) Schedule(jobID string, due time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.byID[jobID]
	if ok {
		task.due = due
		heap.Fix(&q.tasks, task.index)
	} else {
		task = &pollTask{jobID: jobID, due: due}
		q.byID[jobID] = task
		heap.Push(&q.tasks, task)
	}

	if task.index == 0 {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

// Wakeups signals when a Schedule call produced a new earliest poll time.
func (q *pollQueue) Wakeups() <-chan struct{} {
	return q.wake
}

// Remove drops the job's pending poll, if any.
func (q *pollQueue) Remove(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.byID[jobID]
	if !ok {
		return
	}
	heap.Remove(&q.tasks, task.index)
	delete(q.byID, jobID)
}

// Contains reports whether the job has a pending poll.
func (q *pollQueue) Contains(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[jobID]
	return ok
}

// NextDue returns the earliest pending poll time.
func (q *pollQueue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return time.Time{}, false
	}
	return q.tasks[0].due, true
}

// PopDue removes and returns the ids of all jobs due at or before now, in
// due order.
func (q *pollQueue) PopDue(now time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []string
	for len(q.tasks) > 0 && !q.tasks[0].due.After(now) {
		task := heap.Pop(&q.tasks).(*pollTask)
		delete(q.byID, task.jobID)
		due = append(due, task.jobID)
	}
	return due
}

// Len returns the number of pending polls.
func (q *pollQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// taskHeap implements heap.Interface ordered by due time.
type taskHeap []*pollTask

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	task := x.(*pollTask)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[:n-1]
	return task
}
