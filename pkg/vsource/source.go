/*
Package vsource contains a virtual HTTP origin that serves in-memory inputs.

Inputs are either literal payloads or a deterministic generated pattern,
reads can be split into chunks of configurable size, paced, and failed on purpose.
*/
package vsource

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/bluenviron/demuxcheck/pkg/logger"
	"github.com/bluenviron/demuxcheck/pkg/metrics"
)

// DefaultBlockSize is the default maximum size of each chunk.
const DefaultBlockSize = 4096

// ErrNotFound is returned when an URI is not part of the inputs.
var ErrNotFound = errors.New("resource not found")

// Input is a resource served by the source.
type Input struct {
	URI string
	// literal content. When nil, the counter pattern is served.
	Payload []byte
	// declared size. It defaults to the payload size.
	Size uint64
}

// DeclaredSize returns the size of the input.
func (in *Input) DeclaredSize() uint64 {
	if in.Size == 0 {
		return uint64(len(in.Payload))
	}
	return in.Size
}

// State is the state of a download served by the source.
type State int

// states.
const (
	StateNull State = iota
	StatePlaying
	StatePaused
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// StateChange describes a transition of a download.
type StateChange struct {
	URI  string
	From State
	To   State
}

// StateListener is the prototype of listeners passed to AddStateListener.
type StateListener func(StateChange)

// Config is the configuration of a Source.
type Config struct {
	Inputs []Input
	// maximum size of each chunk.
	// It defaults to DefaultBlockSize.
	BlockSize int
	// content creator.
	// It defaults to BaseCreator.
	Creator Creator
	// when set, Creator is wrapped with FaultAfter.
	Fault *FaultConfig
	// when greater than zero, delivery is paced to this rate.
	BytesPerSecond int
	Metrics        *metrics.Metrics
	Log            logger.Func
}

// Source is a virtual HTTP origin.
type Source struct {
	inputs  map[string]*Input
	creator Creator
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     logger.Func

	mutex     sync.Mutex
	blockSize int
	listeners []StateListener
}

// New allocates a Source.
func New(c Config) *Source {
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.Creator == nil {
		c.Creator = BaseCreator
	}
	if c.Fault != nil {
		c.Creator = FaultAfter(*c.Fault, c.Creator)
	}
	if c.Log == nil {
		c.Log = logger.Discard
	}

	s := &Source{
		inputs:    make(map[string]*Input),
		creator:   c.Creator,
		metrics:   c.Metrics,
		log:       c.Log,
		blockSize: c.BlockSize,
	}

	for i := range c.Inputs {
		in := c.Inputs[i]
		s.inputs[in.URI] = &in
	}

	if c.BytesPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(c.BytesPerSecond), max(c.BytesPerSecond, c.BlockSize))
	}

	return s
}

// Start looks up an input.
func (s *Source) Start(uri string) (*Input, bool) {
	in, ok := s.inputs[uri]
	return in, ok
}

// Create returns length bytes of an input starting at offset.
func (s *Source) Create(in *Input, offset uint64, length int) ([]byte, error) {
	byts, err := s.creator.Create(in, offset, length)
	if err != nil {
		if errors.Is(err, ErrInjectedFault) {
			s.metrics.IncFaults()
		}
		s.log(logger.LevelDebug, "read of %s at %d failed: %v", in.URI, offset, err)
		return nil, err
	}

	s.metrics.AddBytesServed(len(byts))
	return byts, nil
}

// BlockSize returns the maximum size of each chunk.
func (s *Source) BlockSize() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.blockSize
}

// SetBlockSize sets the maximum size of each chunk.
// It affects reads performed after the call, including reads of open downloads.
func (s *Source) SetBlockSize(n int) {
	if n <= 0 {
		n = DefaultBlockSize
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.blockSize = n
}

// AddStateListener adds a listener that is called synchronously, by the goroutine
// that caused it, every time a download changes state.
func (s *Source) AddStateListener(l StateListener) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Source) notify(sc StateChange) {
	s.mutex.Lock()
	listeners := append([]StateListener(nil), s.listeners...)
	s.mutex.Unlock()

	s.log(logger.LevelDebug, "%s: %v -> %v", sc.URI, sc.From, sc.To)

	for _, l := range listeners {
		l(sc)
	}
}
