package coordinator

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/hivecore/swarmcore/internal/swarm/models"
)

// ErrQueueFull is returned when the work queue is at config.maxTasks capacity.
var ErrQueueFull = errors.New("coordinator: task queue is full")

// ErrTaskExists is returned when a task is already present in the queue.
var ErrTaskExists = errors.New("coordinator: task already queued")

// readyTask is one entry in the coordinator's priority queue. A task is
// "ready" for dispatch ordering purposes once its dependencies are all
// completed; readiness is checked ahead of priority in Less so a
// low-priority unblocked task is dequeued before a high-priority task that
// is still waiting on a dependency.
type readyTask struct {
	taskID    string
	priority  int
	ready     bool
	notBefore time.Time
	queuedAt  time.Time
	task      *models.Task
	index     int
}

type taskHeap []*readyTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].ready != h[j].ready {
		return h[i].ready
	}
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].queuedAt.Before(h[j].queuedAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	item := x.(*readyTask)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// workQueue is the coordinator's bounded, dependency-aware priority queue,
// sized at a swarm's config.maxTasks.
type workQueue struct {
	mu         sync.Mutex
	heap       taskHeap
	byID       map[string]*readyTask
	delayUntil map[string]time.Time
	maxSize    int
}

func newWorkQueue(maxSize int) *workQueue {
	q := &workQueue{
		heap:       make(taskHeap, 0),
		byID:       make(map[string]*readyTask),
		delayUntil: make(map[string]time.Time),
		maxSize:    maxSize,
	}
	heap.Init(&q.heap)
	return q
}

// enqueue adds a task to the queue with its current readiness computed by
// the caller (dependency state can change after enqueue, so readiness is
// refreshed via updateReadiness before each dequeue round). A task delayed
// via delay carries its not-before time over into the new readyTask so a
// failed task re-enqueued after backoff isn't immediately redispatched.
func (q *workQueue) enqueue(task *models.Task, ready bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[task.ID]; exists {
		return ErrTaskExists
	}
	if q.maxSize > 0 && len(q.heap) >= q.maxSize {
		return ErrQueueFull
	}

	notBefore := q.delayUntil[task.ID]
	delete(q.delayUntil, task.ID)

	rt := &readyTask{
		taskID:    task.ID,
		priority:  task.Priority,
		ready:     ready && (notBefore.IsZero() || !time.Now().Before(notBefore)),
		notBefore: notBefore,
		queuedAt:  time.Now(),
		task:      task,
	}
	heap.Push(&q.heap, rt)
	q.byID[task.ID] = rt
	return nil
}

// updateReadiness recomputes every queued task's readiness against the set
// of currently completed task IDs and re-establishes the heap invariant. A
// task whose retry backoff (set via delay) has not yet elapsed is held
// not-ready regardless of its dependency state.
func (q *workQueue) updateReadiness(completed map[string]bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for _, rt := range q.heap {
		rt.ready = !rt.task.HasUnmetDependency(completed) && (rt.notBefore.IsZero() || !now.Before(rt.notBefore))
	}
	heap.Init(&q.heap)
}

// delay gates taskID from dequeueReady until the given time, implementing
// the retry backoff a failed task must observe before its next dispatch.
// Safe to call whether or not the task is currently queued: a not-yet-
// requeued task's delay is recorded and applied when enqueue sees it next.
func (q *workQueue) delay(taskID string, until time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.delayUntil[taskID] = until
	if rt, ok := q.byID[taskID]; ok {
		rt.notBefore = until
		rt.ready = false
		heap.Init(&q.heap)
	}
}

// dequeueReady pops the highest-priority ready task, or nil if none of the
// queued tasks are currently ready (even if the queue is non-empty).
func (q *workQueue) dequeueReady() *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 || !q.heap[0].ready {
		return nil
	}
	rt := heap.Pop(&q.heap).(*readyTask)
	delete(q.byID, rt.taskID)
	return rt.task
}

func (q *workQueue) remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	rt, exists := q.byID[taskID]
	if !exists {
		return false
	}
	heap.Remove(&q.heap, rt.index)
	delete(q.byID, taskID)
	return true
}

func (q *workQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func (q *workQueue) isFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxSize > 0 && len(q.heap) >= q.maxSize
}
