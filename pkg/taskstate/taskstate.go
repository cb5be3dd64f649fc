/*
Package taskstate contains a worker that performs a control operation on a dedicated goroutine
and exposes its progress as a state machine.

The state moves from NotStarted to WaitingForSourceStateChange when the worker is launched,
and to Exiting when the operation returns or when an observer calls Advance.
Exiting is terminal.
*/
package taskstate

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAlreadyLaunched is returned by Launch when the task has already been launched.
var ErrAlreadyLaunched = errors.New("task already launched")

// State is the state of a Task.
type State int

// states.
const (
	NotStarted State = iota
	WaitingForSourceStateChange
	Exiting
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case WaitingForSourceStateChange:
		return "waiting-for-source-state-change"
	case Exiting:
		return "exiting"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Task is a control operation performed on a dedicated goroutine.
type Task struct {
	mutex   sync.Mutex
	state   State
	changed chan struct{}
	done    chan struct{}
}

// New allocates a Task.
func New() *Task {
	return &Task{
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// setState must be called with the mutex locked.
func (t *Task) setState(s State) {
	t.state = s
	close(t.changed)
	t.changed = make(chan struct{})
}

// State returns the current state.
func (t *Task) State() State {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.state
}

// Launched checks whether the task has been launched.
func (t *Task) Launched() bool {
	return t.State() != NotStarted
}

// Launch starts a goroutine that locks lock, runs op and unlocks lock.
// lock serializes control operations that share it.
func (t *Task) Launch(lock sync.Locker, op func()) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.state != NotStarted {
		return ErrAlreadyLaunched
	}

	t.setState(WaitingForSourceStateChange)

	go t.run(lock, op)

	return nil
}

func (t *Task) run(lock sync.Locker, op func()) {
	defer close(t.done)

	lock.Lock()
	op()
	lock.Unlock()

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.state != Exiting {
		t.setState(Exiting)
	}
}

// Advance moves the task to Exiting if it is waiting for a source state change.
// It is meant to be called by observers of the side effects of the operation.
func (t *Task) Advance() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.state != WaitingForSourceStateChange {
		return false
	}

	t.setState(Exiting)
	return true
}

// AwaitExiting waits until the task is Exiting.
// When timeout is greater than zero, it returns false if the timeout elapses first.
func (t *Task) AwaitExiting(timeout time.Duration) bool {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		t.mutex.Lock()
		if t.state == Exiting {
			t.mutex.Unlock()
			return true
		}
		changed := t.changed
		t.mutex.Unlock()

		select {
		case <-changed:
		case <-expired:
			return false
		}
	}
}

// Join waits for the goroutine of a launched task to return.
// It returns immediately if the task has never been launched.
func (t *Task) Join() {
	if !t.Launched() {
		return
	}
	<-t.done
}
