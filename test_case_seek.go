package demuxcheck

import (
	"time"

	"github.com/bluenviron/demuxcheck/pkg/barrier"
	"github.com/bluenviron/demuxcheck/pkg/media"
	"github.com/bluenviron/demuxcheck/pkg/taskstate"
	"github.com/bluenviron/demuxcheck/pkg/vsource"
)

const (
	taskPollPeriod = 100 * time.Millisecond

	// how long the second seek is given to complete while the first one is flushing.
	secondSeekWindow = 1 * time.Second
)

// SeekCallbacks returns callbacks of runs that perform SeekEvent once
// every stream has received ThresholdForSeek bytes.
func (tc *TestCase) SeekCallbacks() Callbacks {
	return Callbacks{
		PreTest:         tc.SeekPreTest,
		PostTest:        tc.SeekPostTest,
		OnDemuxSentData: tc.SeekSendsData,
		OnDataReceived:  tc.CheckReceivedData,
		OnEndOfStream:   tc.CheckSizeOfReceivedData,
		OnEvent:         tc.CheckSegment,
	}
}

// ParallelSeekCallbacks returns callbacks of runs that perform SecondSeekEvent
// while SeekEvent is flushing, and check that the two seeks are serialized.
func (tc *TestCase) ParallelSeekCallbacks() Callbacks {
	cbs := tc.SeekCallbacks()
	cbs.PostTest = tc.ParallelSeekPostTest
	cbs.OnEvent = tc.SecondSeekOnFlush
	return cbs
}

// SeekPreTest is an EngineCallback that prepares the barrier and
// advances Task1 when a download of the source is interrupted.
func (tc *TestCase) SeekPreTest(e *Engine) {
	tc.Barrier = barrier.New(len(tc.Outputs))

	e.Source.AddStateListener(func(sc vsource.StateChange) {
		if sc.From == vsource.StatePlaying && sc.To == vsource.StatePaused {
			tc.Task1.Advance()
		}
	})
}

// SeekSendsData is a DataCallback, to be used as OnDemuxSentData, that performs the seek.
//
// When a stream has received ThresholdForSeek bytes, its expected size is increased by
// the received size and it waits for the other streams. The first stream then launches
// Task1, which calls Engine.Seek, and every stream waits for Task1 to exit.
// The buffer is then rejected by the flushing sink.
func (tc *TestCase) SeekSendsData(e *Engine, s *OutputStream, _ *media.Buffer) bool {
	out, index := tc.outputIndex(s.Name())
	if out == nil {
		e.Fail("unexpected stream %s", s.Name())
		return false
	}

	received := s.Progress.Received()
	if received < tc.ThresholdForSeek {
		return true
	}

	// the seek is to the start of the stream, therefore everything is downloaded again.
	out.ExpectedSize += received

	e.Unlock()
	err := tc.Barrier.WaitContext(e.ctx)
	e.Lock()
	if err != nil {
		return false
	}

	if index == 0 {
		tc.ThresholdForSeek = NoSeek

		err := tc.Task1.Launch(&tc.task1Lock, func() {
			err := e.Seek(tc.SeekEvent)
			if err != nil {
				e.Fail("seek failed: %v", err)
			}
		})
		if err != nil {
			e.Fail("unable to launch seek: %v", err)
			return false
		}
	}

	e.Unlock()
	ok := tc.awaitTask(e, tc.Task1)
	e.Lock()

	return ok
}

// awaitTask waits for a task to exit or for the run to end.
// It must be called without the lock.
func (tc *TestCase) awaitTask(e *Engine, t *taskstate.Task) bool {
	for {
		if t.AwaitExiting(taskPollPeriod) {
			return true
		}

		select {
		case <-e.Done():
			return false
		default:
		}
	}
}

// SeekPostTest is an EngineCallback that checks that the seek has been performed.
func (tc *TestCase) SeekPostTest(e *Engine) {
	if !tc.Task1.Launched() {
		e.Fail("seek was not performed")
		return
	}

	e.Unlock()
	tc.Task1.Join()
	e.Lock()

	tc.checkSegmentsVerified(e)
}

// SecondSeekOnFlush is an EventCallback that, on the first flush start, launches Task2,
// which performs SecondSeekEvent. SecondSeekEvent must be rejected by the demuxer,
// but only after the first seek has been completed: Task2 must not exit within a second.
func (tc *TestCase) SecondSeekOnFlush(e *Engine, s *OutputStream, ev *media.Event) bool {
	if ev.Type != media.EventFlushStart || tc.Task2.Launched() {
		return tc.CheckSegment(e, s, ev)
	}

	err := tc.Task2.Launch(&tc.task2Lock, func() {
		err := e.Seek(tc.SecondSeekEvent)
		if err == nil {
			e.Fail("second seek succeeded")
		}
	})
	if err != nil {
		e.Fail("unable to launch second seek: %v", err)
		return false
	}

	e.Unlock()
	exited := tc.Task2.AwaitExiting(secondSeekWindow)
	e.Lock()

	if exited {
		e.Fail("second seek was not serialized")
		return false
	}

	return true
}

// ParallelSeekPostTest is an EngineCallback that checks that both seeks have been performed.
func (tc *TestCase) ParallelSeekPostTest(e *Engine) {
	if !tc.Task2.Launched() {
		e.Fail("second seek was not performed")
		return
	}

	e.Unlock()
	tc.Task2.Join()
	e.Lock()

	if st := tc.Task2.State(); st != taskstate.Exiting {
		e.Fail("second seek is in state %v", st)
		return
	}

	tc.SeekPostTest(e)
}
