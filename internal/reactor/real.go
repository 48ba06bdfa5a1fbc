package reactor

import (
	"sync"
	"time"
)

// Real is the production Reactor: a single worker goroutine draining a task
// channel, so every scheduled task still runs on one logical task even
// though Schedule itself may be called from any goroutine (e.g. an HTTP
// response callback).
type Real struct {
	tasks chan func()
	once  sync.Once
	done  chan struct{}
}

// NewReal starts the worker goroutine and returns a ready-to-use Reactor.
// Call Stop to shut it down.
func NewReal() *Real {
	r := &Real{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}

	go r.run()

	return r
}

func (r *Real) run() {
	for {
		select {
		case task := <-r.tasks:
			task()
		case <-r.done:
			return
		}
	}
}

// Schedule implements Reactor.
func (r *Real) Schedule(delay time.Duration, task func()) {
	if delay <= 0 {
		r.tasks <- task

		return
	}

	time.AfterFunc(delay, func() {
		r.tasks <- task
	})
}

// Now implements Reactor.
func (r *Real) Now() time.Time {
	return time.Now()
}

// Stop shuts down the worker goroutine. Safe to call once.
func (r *Real) Stop() {
	r.once.Do(func() { close(r.done) })
}
