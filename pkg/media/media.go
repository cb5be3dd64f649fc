// Package media contains the vocabulary shared by demuxers and the harness that drives them.
package media

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFlushing is returned by Pad.Push while the downstream sink is flushing.
	ErrFlushing = errors.New("flushing")

	// ErrStopped is returned by Pad.Push after the downstream sink stopped accepting data.
	ErrStopped = errors.New("stopped")
)

// None is used as stop position or maximum latency when the value is unbounded.
const None time.Duration = -1

// Buffer is a chunk of data delivered by a demuxer output stream.
type Buffer struct {
	// payload.
	Data []byte
	// URI the data was downloaded from.
	URI string
	// byte offset of Data inside the downloaded resource.
	Offset uint64
	// set on the first buffer of every fragment download attempt.
	Discont bool
	// set on buffers belonging to an initialization header.
	Header bool
	// start time of the fragment the buffer belongs to.
	PTS time.Duration
}

// Size returns the payload size.
func (b *Buffer) Size() uint64 {
	return uint64(len(b.Data))
}

// ErrorMessage is an error posted by a pipeline element.
type ErrorMessage struct {
	// name of the element that posted the message.
	Source string
	Err    error
	Debug  string
}

// Error implements error.
func (m *ErrorMessage) Error() string {
	if m.Debug != "" {
		return fmt.Sprintf("%s: %v (%s)", m.Source, m.Err, m.Debug)
	}
	return fmt.Sprintf("%s: %v", m.Source, m.Err)
}

// Unwrap returns the wrapped error.
func (m *ErrorMessage) Unwrap() error {
	return m.Err
}

// Pad is an output stream of a demuxer.
type Pad interface {
	Name() string
	Push(buf *Buffer) error
	PushEvent(ev *Event) bool
	EndOfStream()
}

// Output receives the streams and the error messages of a demuxer.
type Output interface {
	AddStream(name string) Pad
	PostError(msg *ErrorMessage)
}
