package hlsdemux

import (
	"context"
	"sync"
)

type routinePoolRunnable interface {
	run(context.Context) error
}

// routine is a runnable started by a routinePool, that can be stopped individually.
type routine struct {
	ctxCancel func()
	done      chan struct{}
}

func (r *routine) cancel() {
	r.ctxCancel()
}

func (r *routine) wait() {
	<-r.done
}

type routinePool struct {
	ctx       context.Context
	ctxCancel func()
	wg        sync.WaitGroup

	mutex  sync.Mutex
	closed bool

	err chan error
}

func (rp *routinePool) initialize(parent context.Context) {
	rp.ctx, rp.ctxCancel = context.WithCancel(parent)
	rp.err = make(chan error)
}

func (rp *routinePool) close() {
	rp.mutex.Lock()
	rp.closed = true
	rp.mutex.Unlock()

	rp.ctxCancel()
	rp.wg.Wait()
}

func (rp *routinePool) errorChan() chan error {
	return rp.err
}

// add starts a runnable. Errors returned after the routine has been canceled are discarded.
// It returns nil if the pool is closed.
func (rp *routinePool) add(r routinePoolRunnable) *routine {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	if rp.closed {
		return nil
	}

	ctx, ctxCancel := context.WithCancel(rp.ctx)

	rt := &routine{
		ctxCancel: ctxCancel,
		done:      make(chan struct{}),
	}

	rp.wg.Go(func() {
		defer close(rt.done)
		defer ctxCancel()

		err := r.run(ctx)
		if err != nil && ctx.Err() == nil {
			select {
			case rp.err <- err:
			case <-rp.ctx.Done():
			}
		}
	})

	return rt
}
