package script

import (
	"context"
	"time"

	"github.com/dop251/goja"
)

// loop is a minimal event loop for a single execution. Timer callbacks run
// on their own goroutines and hand resolution jobs back to the goroutine
// driving the runtime, since goja is not goroutine-safe.
type loop struct {
	vm      *goja.Runtime
	jobs    chan func() error
	done    chan struct{}
	pending int
	timers  []*time.Timer
}

func newLoop(vm *goja.Runtime) *loop {
	return &loop{
		vm:   vm,
		jobs: make(chan func() error),
		done: make(chan struct{}),
	}
}

// sleep implements the script-visible sleep(ms) returning a promise.
func (l *loop) sleep(call goja.FunctionCall) goja.Value {
	ms := call.Argument(0).ToInteger()
	if ms < 0 {
		ms = 0
	}
	promise, resolve, _ := l.vm.NewPromise()
	l.pending++

	t := time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		job := func() error {
			l.pending--
			return resolve(goja.Undefined())
		}
		select {
		case l.jobs <- job:
		case <-l.done:
		}
	})
	l.timers = append(l.timers, t)
	return l.vm.ToValue(promise)
}

// run processes timer jobs until p settles, ctx ends, or nothing is left
// that could settle p.
func (l *loop) run(ctx context.Context, p *goja.Promise) error {
	for p.State() == goja.PromiseStatePending {
		if l.pending == 0 {
			return ErrUnsettled
		}
		select {
		case job := <-l.jobs:
			if err := job(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ErrTimeout
		}
	}
	return nil
}

func (l *loop) close() {
	close(l.done)
	for _, t := range l.timers {
		t.Stop()
	}
}
