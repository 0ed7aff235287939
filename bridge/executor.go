// Package bridge forwards JSON commands from request threads to the host
// application and serializes all host state access onto one goroutine.
package bridge

import "sync"

const taskQueueSize = 256

// Executor stands in for the host application's main thread: a single
// goroutine that owns all host state access. Closures scheduled here run in
// order, one at a time. HTTP handlers, WebSocket callbacks and timers never
// touch the host directly.
type Executor struct {
	tasks    chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewExecutor starts the loop and returns a ready executor.
func NewExecutor() *Executor {
	e := &Executor{
		tasks: make(chan func(), taskQueueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *Executor) loop() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			// Run what was queued before the stop so shutdown work completes.
			for {
				select {
				case task := <-e.tasks:
					task()
				default:
					return
				}
			}
		case task := <-e.tasks:
			task()
		}
	}
}

// Schedule queues fn to run on the executor goroutine. Once the executor is
// stopped, fn is dropped.
func (e *Executor) Schedule(fn func()) {
	select {
	case <-e.done:
		return
	default:
	}
	select {
	case e.tasks <- fn:
	case <-e.done:
	}
}

// Sync runs fn on the executor and waits for it to finish. Callers use it for
// consistent reads of host state. Returns without running fn when the
// executor is already stopped.
func (e *Executor) Sync(fn func()) {
	ran := make(chan struct{})
	e.Schedule(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
	case <-e.done:
	}
}

// Stop drains queued tasks and stops the loop.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() { close(e.quit) })
	<-e.done
}
