// Package worker runs tasks one at a time on a dedicated goroutine.
package worker

import (
	"errors"
	"sync"
)

// Errors that may occur when sending tasks to a worker.
var (
	ErrWorkerClosed  = errors.New("worker is closed")
	ErrWorkerTooBusy = errors.New("worker is already overloaded")
)

// Config for the worker.
type Config[T any] struct {
	// The size of the bounded channel.
	ChannelSize int
	// A closure that is executed upon reception of a task.
	OnTask func(T)
	// Called once after the last task has been handled.
	OnStop func()
}

// Worker wraps the channel so that it can be closed from the outside and
// senders can tell whether it is closed.
type Worker[T any] struct {
	channel chan<- T
	mutex   sync.Mutex
	closed  bool
	done    chan struct{}
}

// Stop the worker unless already stopped. Tasks already queued are still handled.
func (w *Worker[T]) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.closed {
		close(w.channel)
		w.closed = true
	}
}

// Done is closed once the worker goroutine has returned.
func (w *Worker[T]) Done() <-chan struct{} {
	return w.done
}

// Send a task to the worker without blocking.
func (w *Worker[T]) Send(task T) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return ErrWorkerClosed
	}

	select {
	case w.channel <- task:
		return nil
	default:
		return ErrWorkerTooBusy
	}
}

// Start a worker that handles tasks in the order they were sent, one at a time.
// The worker stops once Stop is called and the queue is drained.
func Start[T any](c Config[T]) *Worker[T] {
	incoming := make(chan T, c.ChannelSize)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for task := range incoming {
			c.OnTask(task)
		}
		if c.OnStop != nil {
			c.OnStop()
		}
	}()

	return &Worker[T]{channel: incoming, done: done}
}
