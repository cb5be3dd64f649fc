package demuxcheck

import (
	"github.com/bluenviron/demuxcheck/pkg/media"
)

// StreamProgress counts the data received by an output stream.
type StreamProgress struct {
	// bytes of fragments that have been completed or abandoned.
	TotalReceivedSize uint64
	// bytes of the fragment being received.
	SegmentReceivedSize uint64
	// number of content protection events.
	ContentProtectionEventCount int
}

// Received returns the number of bytes received so far.
func (p StreamProgress) Received() uint64 {
	return p.TotalReceivedSize + p.SegmentReceivedSize
}

// OutputStream is the sink of an output stream of the demuxer.
// Its fields must be accessed with the engine lock held.
type OutputStream struct {
	Progress StreamProgress

	e     *Engine
	name  string
	index int

	flushing               bool
	flushed                bool
	firstSegmentAfterFlush bool
	eos                    bool
}

// Name implements media.Pad.
func (s *OutputStream) Name() string {
	return s.name
}

// Index returns the position of the stream in the order streams were added.
func (s *OutputStream) Index() int {
	return s.index
}

// Flushing checks whether the sink is flushing.
func (s *OutputStream) Flushing() bool {
	return s.flushing
}

// FirstSegmentAfterFlush checks whether the event being processed is the first
// segment event received after a flush.
func (s *OutputStream) FirstSegmentAfterFlush() bool {
	return s.firstSegmentAfterFlush
}

// Push implements media.Pad.
func (s *OutputStream) Push(buf *media.Buffer) error {
	e := s.e

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.quitting() {
		return media.ErrStopped
	}

	if cb := e.Callbacks.OnDemuxSentData; cb != nil {
		if !cb(e, s, buf) {
			return nil
		}
	}

	if s.flushing {
		return media.ErrFlushing
	}

	if e.quitting() {
		return media.ErrStopped
	}

	if buf.Discont {
		s.Progress.TotalReceivedSize += s.Progress.SegmentReceivedSize
		s.Progress.SegmentReceivedSize = 0
	}

	e.Metrics.IncBuffers(s.name)

	if cb := e.Callbacks.OnDataReceived; cb != nil {
		if !cb(e, s, buf) {
			e.Quit()
		}
	}

	s.Progress.SegmentReceivedSize += buf.Size()

	return nil
}

// PushEvent implements media.Pad.
func (s *OutputStream) PushEvent(ev *media.Event) bool {
	e := s.e

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.quitting() {
		return false
	}

	switch ev.Type {
	case media.EventFlushStart:
		s.flushing = true

	case media.EventFlushStop:
		s.flushing = false
		s.flushed = true

	case media.EventSegment:
		s.firstSegmentAfterFlush = s.flushed
		s.flushed = false
		defer func() {
			s.firstSegmentAfterFlush = false
		}()
	}

	if cb := e.Callbacks.OnEvent; cb != nil {
		return cb(e, s, ev)
	}
	return true
}

// EndOfStream implements media.Pad.
func (s *OutputStream) EndOfStream() {
	e := s.e

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.quitting() || s.eos {
		return
	}
	s.eos = true

	if cb := e.Callbacks.OnEndOfStream; cb != nil {
		cb(e, s)
	}

	e.onStreamEnded()
}
