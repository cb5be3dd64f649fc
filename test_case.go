package demuxcheck

import (
	"math"
	"sync"

	"github.com/bluenviron/demuxcheck/pkg/barrier"
	"github.com/bluenviron/demuxcheck/pkg/media"
	"github.com/bluenviron/demuxcheck/pkg/taskstate"
)

// NoSeek is the ThresholdForSeek of test cases that do not seek.
const NoSeek uint64 = math.MaxUint64

// ExpectedOutput is the expected output of a stream.
type ExpectedOutput struct {
	// name of the output stream.
	Name string
	// expected number of bytes.
	ExpectedSize uint64
	// expected content (optional).
	ExpectedData []byte
	// segment expected after a flushing seek.
	PostSeekSegment media.Segment
	// whether PostSeekSegment must be checked.
	// It is cleared once the check has been performed.
	SegmentVerificationNeeded bool
}

// Extension contains data used by checks that are specific to a family of test cases.
type Extension interface {
	Kind() string
}

// TestCase contains the expected outputs of a run and the state shared by its callbacks.
type TestCase struct {
	// one entry per output stream.
	// The first entry is the stream that performs seeks.
	Outputs []*ExpectedOutput

	// seek performed when ThresholdForSeek bytes have been received.
	SeekEvent *media.SeekRequest
	// seek performed while the first one is flushing.
	SecondSeekEvent *media.SeekRequest
	// number of bytes that trigger the seek.
	ThresholdForSeek uint64

	// element expected to post an error message.
	// When set, the run is not completed by CheckReceivedData.
	ExpectedErrorSource string

	// optional data of specialized checks.
	Extension Extension

	Barrier *barrier.Barrier
	Task1   *taskstate.Task
	Task2   *taskstate.Task

	task1Lock sync.Mutex
	task2Lock sync.Mutex

	mutex    sync.Mutex
	finished map[string]struct{}
}

// NewTestCase allocates a TestCase.
func NewTestCase(outputs ...*ExpectedOutput) *TestCase {
	return &TestCase{
		Outputs:          outputs,
		ThresholdForSeek: NoSeek,
		Task1:            taskstate.New(),
		Task2:            taskstate.New(),
		finished:         make(map[string]struct{}),
	}
}

// Output returns the expected output of a stream.
func (tc *TestCase) Output(name string) *ExpectedOutput {
	out, _ := tc.outputIndex(name)
	return out
}

func (tc *TestCase) outputIndex(name string) (*ExpectedOutput, int) {
	for i, out := range tc.Outputs {
		if out.Name == name {
			return out, i
		}
	}
	return nil, -1
}

// FinishedCount returns the number of streams that have been marked finished.
func (tc *TestCase) FinishedCount() int {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()
	return len(tc.finished)
}

// finish marks a stream as finished and completes the run when all streams are finished.
func (tc *TestCase) finish(e *Engine, name string) {
	tc.mutex.Lock()
	tc.finished[name] = struct{}{}
	done := len(tc.finished) == len(tc.Outputs)
	tc.mutex.Unlock()

	if done && tc.ExpectedErrorSource == "" {
		e.Quit()
	}
}

func (tc *TestCase) live() *LiveExtension {
	ext, _ := tc.Extension.(*LiveExtension)
	return ext
}

func (tc *TestCase) protection() *ProtectionExtension {
	ext, _ := tc.Extension.(*ProtectionExtension)
	return ext
}

func (tc *TestCase) parameters() *ParameterExtension {
	ext, _ := tc.Extension.(*ParameterExtension)
	return ext
}

func (tc *TestCase) query() *QueryExtension {
	ext, _ := tc.Extension.(*QueryExtension)
	return ext
}

// DefaultCallbacks returns callbacks that check the size and content of the received data
// and require every stream to end.
func (tc *TestCase) DefaultCallbacks() Callbacks {
	return Callbacks{
		OnDataReceived: tc.CheckReceivedData,
		OnEndOfStream:  tc.CheckSizeOfReceivedData,
	}
}

// ErrorCallbacks returns callbacks of runs that must end with an error message
// posted by ExpectedErrorSource.
func (tc *TestCase) ErrorCallbacks() Callbacks {
	return Callbacks{
		OnDataReceived: tc.CheckReceivedData,
		OnEndOfStream:  tc.UnexpectedEOS,
		OnErrorMessage: tc.CheckErrorMessage,
	}
}
