package demuxcheck

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/demuxcheck/pkg/liveclock"
	"github.com/bluenviron/demuxcheck/pkg/logger"
	"github.com/bluenviron/demuxcheck/pkg/media"
	"github.com/bluenviron/demuxcheck/pkg/metrics"
	"github.com/bluenviron/demuxcheck/pkg/vsource"
)

const (
	engineBusSize = 16
)

// ErrNotStarted is returned by queries performed before the demuxer has been created.
var ErrNotStarted = errors.New("demuxer not started")

// EngineCallback is the prototype of Callbacks.PreTest and Callbacks.PostTest.
type EngineCallback func(e *Engine)

// DataCallback is the prototype of Callbacks.OnDemuxSentData and Callbacks.OnDataReceived.
type DataCallback func(e *Engine, s *OutputStream, buf *media.Buffer) bool

// EventCallback is the prototype of Callbacks.OnEvent.
type EventCallback func(e *Engine, s *OutputStream, ev *media.Event) bool

// EndOfStreamCallback is the prototype of Callbacks.OnEndOfStream.
type EndOfStreamCallback func(e *Engine, s *OutputStream)

// ErrorMessageCallback is the prototype of Callbacks.OnErrorMessage.
type ErrorMessageCallback func(e *Engine, msg *media.ErrorMessage)

// Callbacks are the hooks of a run.
// All of them are called with the engine lock held.
type Callbacks struct {
	// called before the demuxer is started.
	PreTest EngineCallback
	// called after the demuxer has been closed.
	PostTest EngineCallback
	// called when the demuxer pushes a buffer, before it reaches the stream sink.
	// Returning false drops the buffer.
	OnDemuxSentData DataCallback
	// called when a buffer reaches the stream sink.
	// Returning false stops the run.
	OnDataReceived DataCallback
	// called when a stream ends.
	OnEndOfStream EndOfStreamCallback
	// called when the demuxer pushes an event.
	// Returning false drops the event.
	OnEvent EventCallback
	// called on the goroutine of Run when the demuxer posts an error.
	// It defaults to a callback that fails the run.
	OnErrorMessage ErrorMessageCallback
}

// Engine runs a demuxer against a virtual source and dispatches its output to callbacks.
type Engine struct {
	//
	// parameters (all optional except ManifestURI, Source and NewDemuxer)
	//
	// URI of the manifest.
	ManifestURI string
	// virtual source.
	Source *vsource.Source
	// function that creates the demuxer under test.
	NewDemuxer NewDemuxerFunc
	// callbacks.
	Callbacks Callbacks
	// clock passed to the demuxer.
	// It defaults to liveclock.Wall.
	Clock liveclock.Clock
	// metrics.
	Metrics *metrics.Metrics
	// log function.
	Log LogFunc

	//
	// private
	//

	mutex   sync.Mutex
	demuxer Demuxer
	streams []*OutputStream

	ctx       context.Context
	ctxCancel func()
	bus       chan *media.ErrorMessage

	errMutex sync.Mutex
	err      error
}

func defaultOnErrorMessage(e *Engine, msg *media.ErrorMessage) {
	e.Fail("unexpected error message: %v", msg)
}

// Run runs the demuxer until the run is completed, fails or ctx is canceled.
// It returns the first failure.
func (e *Engine) Run(ctx context.Context) error {
	if e.Source == nil {
		return fmt.Errorf("source not provided")
	}
	if e.NewDemuxer == nil {
		return fmt.Errorf("demuxer constructor not provided")
	}
	if e.Clock == nil {
		e.Clock = liveclock.Wall{}
	}
	if e.Log == nil {
		e.Log = logger.Discard
	}
	if e.Callbacks.OnErrorMessage == nil {
		e.Callbacks.OnErrorMessage = defaultOnErrorMessage
	}

	e.ctx, e.ctxCancel = context.WithCancel(ctx)
	defer e.ctxCancel()

	e.bus = make(chan *media.ErrorMessage, engineBusSize)

	demuxer := e.NewDemuxer(DemuxerParams{
		HTTPClient: e.Source.Client(),
		Clock:      e.Clock,
		Log:        e.Log,
	})

	e.mutex.Lock()
	e.demuxer = demuxer
	if e.Callbacks.PreTest != nil {
		e.Callbacks.PreTest(e)
	}
	e.mutex.Unlock()

	start := time.Now()

	if e.Err() == nil {
		err := demuxer.Start(e.ctx, e.ManifestURI, e)
		if err != nil {
			e.Fail("unable to start %s: %v", demuxer.Name(), err)
		}
	}

	e.runLoop(ctx)

	demuxer.Close()

	e.mutex.Lock()
	if e.Callbacks.PostTest != nil {
		e.Callbacks.PostTest(e)
	}
	e.mutex.Unlock()

	err := e.Err()
	if err != nil {
		e.Metrics.IncFailures()
		e.Log(logger.LevelError, "run failed after %v: %v", time.Since(start), err)
	} else {
		e.Log(logger.LevelInfo, "run completed in %v", time.Since(start))
	}

	return err
}

func (e *Engine) runLoop(parent context.Context) {
	for {
		select {
		case msg := <-e.bus:
			e.mutex.Lock()
			e.Callbacks.OnErrorMessage(e, msg)
			e.mutex.Unlock()

		case <-e.ctx.Done():
			if err := parent.Err(); err != nil {
				e.Fail("run did not complete: %v", err)
			}
			return
		}
	}
}

// Lock locks the engine lock.
// Callbacks are called with the lock held: they must unlock it before
// waiting for other goroutines and lock it again afterwards.
func (e *Engine) Lock() {
	e.mutex.Lock()
}

// Unlock unlocks the engine lock.
func (e *Engine) Unlock() {
	e.mutex.Unlock()
}

// Done returns a channel that is closed when the run is over.
func (e *Engine) Done() <-chan struct{} {
	return e.ctx.Done()
}

// Quit stops the run.
func (e *Engine) Quit() {
	e.ctxCancel()
}

func (e *Engine) quitting() bool {
	select {
	case <-e.ctx.Done():
		return true
	default:
		return false
	}
}

// Fail stops the run with an error. Only the first error is kept.
func (e *Engine) Fail(format string, args ...interface{}) {
	err := fmt.Errorf(format, args...)

	e.errMutex.Lock()
	if e.err == nil {
		e.err = err
	}
	e.errMutex.Unlock()

	e.Quit()
}

// Err returns the first failure.
func (e *Engine) Err() error {
	e.errMutex.Lock()
	defer e.errMutex.Unlock()
	return e.err
}

// Streams returns the output streams created so far.
// It must be called with the lock held.
func (e *Engine) Streams() []*OutputStream {
	return append([]*OutputStream(nil), e.streams...)
}

// Stream returns the output stream with the given name.
// It must be called with the lock held.
func (e *Engine) Stream(name string) *OutputStream {
	for _, s := range e.streams {
		if s.name == name {
			return s
		}
	}
	return nil
}

// Seek performs a seek on the demuxer.
// It must not be called with the lock held.
func (e *Engine) Seek(req *media.SeekRequest) error {
	if e.demuxer == nil {
		return ErrNotStarted
	}
	e.Log(logger.LevelDebug, "seek to %v (format %v, flags %d)", req.Start, req.Format, req.Flags)
	return e.demuxer.Seek(*req)
}

// Parameters returns the parameters of the demuxer, if it exposes them.
func (e *Engine) Parameters() (Configurable, bool) {
	c, ok := e.demuxer.(Configurable)
	return c, ok
}

// QueryDuration queries the duration.
func (e *Engine) QueryDuration() (time.Duration, bool) {
	if e.demuxer == nil {
		return 0, false
	}
	return e.demuxer.QueryDuration()
}

// QuerySeeking queries the seeking capabilities.
func (e *Engine) QuerySeeking(format media.Format) (media.SeekingInfo, bool) {
	if e.demuxer == nil {
		return media.SeekingInfo{}, false
	}
	return e.demuxer.QuerySeeking(format)
}

// QueryLatency queries the latency.
func (e *Engine) QueryLatency() (media.LatencyInfo, bool) {
	if e.demuxer == nil {
		return media.LatencyInfo{}, false
	}
	return e.demuxer.QueryLatency()
}

// QueryURI queries the URI.
func (e *Engine) QueryURI() (media.URIInfo, bool) {
	if e.demuxer == nil {
		return media.URIInfo{}, false
	}
	return e.demuxer.QueryURI()
}

// DemuxerName returns the name of the demuxer under test.
func (e *Engine) DemuxerName() string {
	if e.demuxer == nil {
		return ""
	}
	return e.demuxer.Name()
}

// AddStream implements media.Output.
func (e *Engine) AddStream(name string) media.Pad {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	s := &OutputStream{
		e:     e,
		name:  name,
		index: len(e.streams),
	}
	e.streams = append(e.streams, s)

	e.Log(logger.LevelDebug, "stream %s added", name)

	return s
}

// PostError implements media.Output.
func (e *Engine) PostError(msg *media.ErrorMessage) {
	e.Log(logger.LevelDebug, "error message: %v", msg)

	select {
	case e.bus <- msg:
	case <-e.ctx.Done():
	}
}

// onStreamEnded must be called with the lock held.
func (e *Engine) onStreamEnded() {
	for _, s := range e.streams {
		if !s.eos {
			return
		}
	}
	e.Log(logger.LevelDebug, "all streams ended")
	e.Quit()
}
