// Package barrier contains a reusable rendezvous point for a fixed number of goroutines.
package barrier

import (
	"context"
	"sync"
)

// Barrier blocks callers of Wait until a fixed number of them has arrived,
// then releases all of them at once. After a release, the Barrier can be used again.
//
// Barrier does not know about any other lock held by callers: those must be
// released before Wait and acquired again after it.
type Barrier struct {
	parties int

	mutex   sync.Mutex
	count   int
	release chan struct{}
}

// New allocates a Barrier for the given number of parties.
func New(parties int) *Barrier {
	if parties < 1 {
		parties = 1
	}

	return &Barrier{
		parties: parties,
		release: make(chan struct{}),
	}
}

// Parties returns the number of parties.
func (b *Barrier) Parties() int {
	return b.parties
}

func (b *Barrier) arrive() (chan struct{}, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	release := b.release
	b.count++

	if b.count == b.parties {
		b.count = 0
		close(release)
		b.release = make(chan struct{})
		return release, true
	}

	return release, false
}

// Wait blocks until all parties have called Wait.
func (b *Barrier) Wait() {
	release, _ := b.arrive()
	<-release
}

// WaitContext is like Wait, but it can be canceled.
// A canceled caller is not counted anymore.
func (b *Barrier) WaitContext(ctx context.Context) error {
	release, last := b.arrive()
	if last {
		return nil
	}

	select {
	case <-release:
		return nil

	case <-ctx.Done():
		b.mutex.Lock()
		defer b.mutex.Unlock()

		// the round may have completed in the meantime
		select {
		case <-release:
			return nil
		default:
		}

		b.count--
		return ctx.Err()
	}
}
