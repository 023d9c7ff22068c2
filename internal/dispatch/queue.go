// Package dispatch marshals work from background goroutines onto the frame
// loop.
//
// Producers (file watchers, network callbacks, config reloads) Enqueue tasks
// from any goroutine; the frame loop calls Drain once per tick and runs them
// in enqueue order on its own goroutine, so session state is only ever touched
// by one goroutine.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
)

// DefaultCapacity is the queue bound used when none is configured.
const DefaultCapacity = 256

var (
	// ErrQueueFull is returned when the queue is at capacity.
	ErrQueueFull = errors.New("dispatch: queue full")

	// ErrNilTask is returned when a nil task is enqueued.
	ErrNilTask = errors.New("dispatch: nil task")
)

// Task is a unit of work run on the frame loop.
type Task func()

// Queue is a bounded multi-producer, single-consumer task queue.
type Queue struct {
	tasks  chan Task
	logger *slog.Logger
}

// New creates a queue holding at most capacity pending tasks.
func New(capacity int, logger *slog.Logger) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		tasks:  make(chan Task, capacity),
		logger: logger,
	}
}

// Enqueue schedules task for the next Drain. It never blocks.
func (q *Queue) Enqueue(task Task) error {
	if task == nil {
		return ErrNilTask
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Drain runs the tasks pending when it is called, in enqueue order, and
// returns how many ran. Tasks enqueued while draining wait for the next
// call. A panicking task is logged and does not stop the rest.
func (q *Queue) Drain() int {
	n := len(q.tasks)
	for i := 0; i < n; i++ {
		q.run(<-q.tasks)
	}
	return n
}

func (q *Queue) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("dispatched task panicked", "panic", fmt.Sprint(r))
		}
	}()
	task()
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Cap returns the queue bound.
func (q *Queue) Cap() int {
	return cap(q.tasks)
}
