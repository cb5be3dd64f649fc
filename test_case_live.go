package demuxcheck

import (
	"time"

	"github.com/bluenviron/demuxcheck/pkg/liveclock"
	"github.com/bluenviron/demuxcheck/pkg/media"
)

// LiveWindow is the availability time of the segment that is being delivered
// when a stream has completed TotalReceived bytes of previous segments.
type LiveWindow struct {
	TotalReceived uint64
	AvailableAt   time.Duration
}

// LiveExtension contains the timing model of live test cases.
type LiveExtension struct {
	Model   *liveclock.Model
	Windows []LiveWindow
}

// Kind implements Extension.
func (*LiveExtension) Kind() string {
	return "live"
}

func (ext *LiveExtension) window(totalReceived uint64) (time.Duration, bool) {
	for _, w := range ext.Windows {
		if w.TotalReceived == totalReceived {
			return w.AvailableAt, true
		}
	}
	return 0, false
}

// LiveCallbacks returns callbacks of live runs. Live streams never end,
// therefore runs are completed by the received size only.
func (tc *TestCase) LiveCallbacks() Callbacks {
	return Callbacks{
		OnDataReceived: tc.CheckLiveData,
		OnEndOfStream:  tc.UnexpectedEOS,
	}
}

// LiveSeekCallbacks returns callbacks of live runs that perform SeekEvent.
func (tc *TestCase) LiveSeekCallbacks() Callbacks {
	cbs := tc.SeekCallbacks()
	cbs.OnDataReceived = tc.CheckLiveData
	cbs.OnEndOfStream = tc.UnexpectedEOS
	return cbs
}

// CheckLiveData is a DataCallback that checks that the duration of a live stream
// is unknown and that its seek range matches the segment being delivered,
// then calls CheckReceivedData.
func (tc *TestCase) CheckLiveData(e *Engine, s *OutputStream, buf *media.Buffer) bool {
	ext := tc.live()
	if ext == nil {
		e.Fail("test case has no live extension")
		return false
	}

	if d, ok := e.QueryDuration(); ok {
		e.Fail("duration query of a live stream succeeded (%v)", d)
		return false
	}

	info, ok := e.QuerySeeking(media.FormatTime)
	if !ok {
		e.Fail("seeking query failed")
		return false
	}

	availableAt, ok := ext.window(s.Progress.TotalReceivedSize)
	if !ok {
		e.Fail("stream %s: unexpected total received size %d", s.Name(), s.Progress.TotalReceivedSize)
		return false
	}

	err := ext.Model.CheckSeekRange(info, availableAt)
	if err != nil {
		e.Fail("stream %s: %v", s.Name(), err)
		return false
	}

	return tc.CheckReceivedData(e, s, buf)
}

// CheckLiveQueries is a DataCallback that checks the latency and URI answers
// of a live stream, then calls CheckLiveData.
func (tc *TestCase) CheckLiveQueries(e *Engine, s *OutputStream, buf *media.Buffer) bool {
	if !tc.checkStaticQueries(e) {
		return false
	}
	return tc.CheckLiveData(e, s, buf)
}
