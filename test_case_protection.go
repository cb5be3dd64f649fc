package demuxcheck

import (
	"github.com/bluenviron/demuxcheck/pkg/media"
)

// ProtectionExtension contains the expected content protection events.
type ProtectionExtension struct {
	// expected number of events per stream.
	// Streams that are not listed must not receive events.
	Expected map[string]int
	// known protection systems, by system ID.
	// The function, if not nil, validates the event payload.
	Systems map[string]func(data []byte) error
}

// Kind implements Extension.
func (*ProtectionExtension) Kind() string {
	return "protection"
}

// ProtectionCallbacks returns callbacks of runs that count content protection events.
func (tc *TestCase) ProtectionCallbacks() Callbacks {
	return Callbacks{
		OnDataReceived: tc.CheckProtectionData,
		OnEndOfStream:  tc.CheckProtectionAndSize,
		OnEvent:        tc.CountProtectionEvents,
	}
}

// CountProtectionEvents is an EventCallback that validates and counts content protection events.
func (tc *TestCase) CountProtectionEvents(e *Engine, s *OutputStream, ev *media.Event) bool {
	if ev.Type != media.EventProtection {
		return true
	}

	ext := tc.protection()
	if ext == nil {
		e.Fail("test case has no protection extension")
		return false
	}

	if ev.Protection == nil {
		e.Fail("stream %s: protection event without payload", s.Name())
		return false
	}

	if ext.Systems != nil {
		check, ok := ext.Systems[ev.Protection.SystemID]
		if !ok {
			e.Fail("stream %s: unexpected protection system %s", s.Name(), ev.Protection.SystemID)
			return false
		}

		if check != nil {
			err := check(ev.Protection.Data)
			if err != nil {
				e.Fail("stream %s: invalid %s protection data: %v", s.Name(), ev.Protection.SystemID, err)
				return false
			}
		}
	}

	s.Progress.ContentProtectionEventCount++
	return true
}

// checkProtectionCount checks that the stream received the expected number
// of content protection events.
func (tc *TestCase) checkProtectionCount(e *Engine, s *OutputStream) bool {
	ext := tc.protection()
	if ext == nil {
		e.Fail("test case has no protection extension")
		return false
	}

	if count, exp := s.Progress.ContentProtectionEventCount, ext.Expected[s.Name()]; count != exp {
		e.Fail("stream %s received %d protection events, expected %d", s.Name(), count, exp)
		return false
	}

	return true
}

// CheckProtectionData is a DataCallback that calls CheckReceivedData and,
// when the buffer completes the stream, checks the number of content protection events first.
// Protection events precede the data they refer to, therefore the count is final at that point.
func (tc *TestCase) CheckProtectionData(e *Engine, s *OutputStream, buf *media.Buffer) bool {
	out := tc.expectedOutput(e, s)
	if out == nil {
		return false
	}

	if s.Progress.Received()+buf.Size() == out.ExpectedSize && !tc.checkProtectionCount(e, s) {
		return false
	}

	return tc.CheckReceivedData(e, s, buf)
}

// CheckProtectionAndSize is an EndOfStreamCallback that checks the number of
// content protection events, then calls CheckSizeOfReceivedData.
func (tc *TestCase) CheckProtectionAndSize(e *Engine, s *OutputStream) {
	if !tc.checkProtectionCount(e, s) {
		return
	}

	tc.CheckSizeOfReceivedData(e, s)
}
