package demuxcheck

import (
	"bytes"

	"github.com/bluenviron/demuxcheck/pkg/media"
)

func (tc *TestCase) expectedOutput(e *Engine, s *OutputStream) *ExpectedOutput {
	out := tc.Output(s.Name())
	if out == nil {
		e.Fail("unexpected stream %s", s.Name())
	}
	return out
}

// CheckReceivedData is a DataCallback that checks that the received data
// does not exceed the expected size and, when ExpectedData is set, that it matches it.
// A stream whose received size reaches the expected size is marked finished.
func (tc *TestCase) CheckReceivedData(e *Engine, s *OutputStream, buf *media.Buffer) bool {
	out := tc.expectedOutput(e, s)
	if out == nil {
		return false
	}

	received := s.Progress.Received()
	end := received + buf.Size()

	if end > out.ExpectedSize {
		e.Fail("stream %s: received %d bytes, expected %d", s.Name(), end, out.ExpectedSize)
		return false
	}

	if out.ExpectedData != nil {
		if end > uint64(len(out.ExpectedData)) {
			e.Fail("stream %s: received %d bytes, expected data is %d bytes long",
				s.Name(), end, len(out.ExpectedData))
			return false
		}

		if !bytes.Equal(buf.Data, out.ExpectedData[received:end]) {
			e.Fail("stream %s: data mismatch in range %d-%d", s.Name(), received, end)
			return false
		}
	}

	if end == out.ExpectedSize {
		tc.finish(e, s.Name())
	}

	return true
}

// CheckSizeOfReceivedData is an EndOfStreamCallback that requires
// the received size to be equal to the expected size.
func (tc *TestCase) CheckSizeOfReceivedData(e *Engine, s *OutputStream) {
	out := tc.expectedOutput(e, s)
	if out == nil {
		return
	}

	if received := s.Progress.Received(); received != out.ExpectedSize {
		e.Fail("stream %s ended after %d bytes, expected %d", s.Name(), received, out.ExpectedSize)
		return
	}

	tc.finish(e, s.Name())
}

// DownloadErrorSizeOfReceivedData is an EndOfStreamCallback for runs that
// do not download entire files. It requires the received size to be greater than zero
// and less than the expected size.
func (tc *TestCase) DownloadErrorSizeOfReceivedData(e *Engine, s *OutputStream) {
	out := tc.expectedOutput(e, s)
	if out == nil {
		return
	}

	received := s.Progress.Received()
	if received == 0 || received >= out.ExpectedSize {
		e.Fail("stream %s ended after %d bytes, expected more than 0 and less than %d",
			s.Name(), received, out.ExpectedSize)
		return
	}

	tc.finish(e, s.Name())
}

// UnexpectedEOS is an EndOfStreamCallback for runs in which streams must not end.
func (tc *TestCase) UnexpectedEOS(e *Engine, s *OutputStream) {
	e.Fail("unexpected end of stream on %s", s.Name())
}

// CheckErrorMessage is an ErrorMessageCallback that requires the message to be posted
// by ExpectedErrorSource and every stream to have received exactly its expected size.
// It completes the run.
func (tc *TestCase) CheckErrorMessage(e *Engine, msg *media.ErrorMessage) {
	if msg.Source != tc.ExpectedErrorSource {
		e.Fail("error message posted by %q, expected %q: %v", msg.Source, tc.ExpectedErrorSource, msg)
		return
	}

	for _, out := range tc.Outputs {
		var received uint64
		if s := e.Stream(out.Name); s != nil {
			received = s.Progress.Received()
		}

		if received != out.ExpectedSize {
			e.Fail("stream %s received %d bytes before the error, expected %d",
				out.Name, received, out.ExpectedSize)
			return
		}
	}

	e.Log(LogLevelDebug, "expected error received: %v", msg)
	e.Quit()
}

// CheckSegment is an EventCallback that checks the first segment event
// received after a flush against PostSeekSegment.
func (tc *TestCase) CheckSegment(e *Engine, s *OutputStream, ev *media.Event) bool {
	if ev.Type != media.EventSegment || !s.FirstSegmentAfterFlush() {
		return true
	}

	out := tc.expectedOutput(e, s)
	if out == nil || !out.SegmentVerificationNeeded {
		return true
	}

	exp := out.PostSeekSegment
	seg := ev.Segment

	switch {
	case seg == nil:
		e.Fail("stream %s: segment event without segment", s.Name())
		return false

	case seg.Rate != exp.Rate:
		e.Fail("stream %s: segment rate is %v, expected %v", s.Name(), seg.Rate, exp.Rate)
		return false

	case seg.Start != exp.Start:
		e.Fail("stream %s: segment start is %v, expected %v", s.Name(), seg.Start, exp.Start)
		return false

	case seg.Stop != exp.Stop:
		e.Fail("stream %s: segment stop is %v, expected %v", s.Name(), seg.Stop, exp.Stop)
		return false
	}

	out.SegmentVerificationNeeded = false
	return true
}

// checkSegmentsVerified must be called with the lock held.
func (tc *TestCase) checkSegmentsVerified(e *Engine) {
	for _, out := range tc.Outputs {
		if out.SegmentVerificationNeeded {
			e.Fail("stream %s: no segment received after the seek", out.Name)
			return
		}
	}
}
