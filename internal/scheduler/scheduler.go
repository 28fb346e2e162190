// Package scheduler admits work to shared backends under per-class
// concurrency limits. Each resource class has a fixed number of slots and
// a bounded priority queue; submissions beyond the queue bound are
// rejected immediately with ErrQueueFull.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Conventional class names. Callers may configure any set of classes;
// these are the ones the rest of the codebase uses.
const (
	ClassPrimary   = "primary"
	ClassLight     = "light"
	ClassEmbedding = "embedding"
)

var (
	// ErrQueueFull is returned synchronously when a class's waiting queue
	// is at capacity. Callers decide whether to retry; the scheduler never
	// does.
	ErrQueueFull = errors.New("scheduler: queue full")

	// ErrUnknownClass is returned for a class name that was not configured.
	ErrUnknownClass = errors.New("scheduler: unknown resource class")
)

// ClassConfig bounds one resource class.
type ClassConfig struct {
	Concurrency int `json:"concurrency" yaml:"concurrency"`
	MaxDepth    int `json:"maxDepth" yaml:"maxDepth"`
}

// Stats is a point-in-time snapshot of one class.
type Stats struct {
	Running   int
	Waiting   int
	Completed uint64
	Errors    uint64
}

type waiter struct {
	priority int
	seq      uint64
	ready    chan struct{}
	index    int
}

// waiterQueue orders by priority descending, then submission order.
type waiterQueue []*waiter

func (q waiterQueue) Len() int { return len(q) }

func (q waiterQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q waiterQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waiterQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waiterQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}

type classQueue struct {
	concurrency int
	maxDepth    int

	running   int
	completed uint64
	errors    uint64
	waiters   waiterQueue
	nextSeq   uint64
}

// Scheduler owns all class queues. Safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	classes map[string]*classQueue
}

// New builds a scheduler from per-class bounds.
func New(classes map[string]ClassConfig) *Scheduler {
	s := &Scheduler{classes: make(map[string]*classQueue, len(classes))}
	for name, cfg := range classes {
		concurrency := cfg.Concurrency
		if concurrency < 1 {
			concurrency = 1
		}
		s.classes[name] = &classQueue{concurrency: concurrency, maxDepth: cfg.MaxDepth}
	}
	return s
}

// Do runs fn under the class's concurrency limit, waiting in the class
// queue if all slots are busy. Higher priority waiters run first; equal
// priorities run in submission order. Returns ErrQueueFull without
// blocking when the queue is at maxDepth, and fn's own error otherwise.
func (s *Scheduler) Do(ctx context.Context, class string, priority int, fn func(context.Context) error) error {
	taskID := uuid.NewString()

	s.mu.Lock()
	q, ok := s.classes[class]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownClass
	}

	if q.running < q.concurrency {
		q.running++
		s.mu.Unlock()
		return s.run(ctx, q, fn)
	}

	if len(q.waiters) >= q.maxDepth {
		s.mu.Unlock()
		slog.Debug("scheduler: rejected, queue full", "class", class, "task", taskID)
		return ErrQueueFull
	}

	w := &waiter{priority: priority, seq: q.nextSeq, ready: make(chan struct{})}
	q.nextSeq++
	heap.Push(&q.waiters, w)
	s.mu.Unlock()
	slog.Debug("scheduler: queued", "class", class, "task", taskID, "priority", priority)

	select {
	case <-w.ready:
		return s.run(ctx, q, fn)
	case <-ctx.Done():
		s.mu.Lock()
		if w.index >= 0 {
			heap.Remove(&q.waiters, w.index)
			s.mu.Unlock()
			return ctx.Err()
		}
		s.mu.Unlock()
		// The slot was granted while ctx was expiring; hand it back
		// without running.
		<-w.ready
		s.releaseSlot(q)
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context, q *classQueue, fn func(context.Context) error) error {
	err := fn(ctx)

	s.mu.Lock()
	if err != nil {
		q.errors++
	} else {
		q.completed++
	}
	s.handoffLocked(q)
	s.mu.Unlock()
	return err
}

func (s *Scheduler) releaseSlot(q *classQueue) {
	s.mu.Lock()
	s.handoffLocked(q)
	s.mu.Unlock()
}

// handoffLocked passes the finished task's slot to the best waiter, or
// frees it when the queue is empty.
func (s *Scheduler) handoffLocked(q *classQueue) {
	if len(q.waiters) > 0 {
		w := heap.Pop(&q.waiters).(*waiter)
		close(w.ready)
		return
	}
	q.running--
}

// Stats reports the current counters for a class. ok is false for an
// unknown class.
func (s *Scheduler) Stats(class string) (Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.classes[class]
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Running:   q.running,
		Waiting:   len(q.waiters),
		Completed: q.completed,
		Errors:    q.errors,
	}, true
}

// Classes returns the configured class names.
func (s *Scheduler) Classes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.classes))
	for name := range s.classes {
		names = append(names, name)
	}
	return names
}
