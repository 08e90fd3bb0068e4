package mirror

import (
	"fmt"
	"sync"
)

// executor runs every target call on one goroutine, in submission order.
//
// Same shape as the tracer thread that serializes ptrace requests: do hands a
// closure over and waits until it has run.
type executor struct {
	once   sync.Once
	reqCh  chan func()
	doneCh chan struct{}
	stopCh chan struct{}
	stop   sync.Once
}

func newExecutor() *executor {
	return &executor{
		reqCh:  make(chan func()),
		doneCh: make(chan struct{}),
		stopCh: make(chan struct{}),
	}
}

// do runs fn on the executor goroutine and returns its error, a panic in fn is
// turned into an error. After close, do returns errExecutorClosed without
// running fn.
func (e *executor) do(fn func() error) (err error) {
	select {
	case <-e.stopCh:
		return errExecutorClosed
	default:
	}
	e.once.Do(func() { go e.loop() })

	run := func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = fn()
	}

	select {
	case e.reqCh <- run:
	case <-e.stopCh:
		return errExecutorClosed
	}
	<-e.doneCh
	return err
}

func (e *executor) loop() {
	for {
		select {
		case fn := <-e.reqCh:
			fn()
			e.doneCh <- struct{}{}
		case <-e.stopCh:
			return
		}
	}
}

func (e *executor) close() {
	e.stop.Do(func() { close(e.stopCh) })
}
