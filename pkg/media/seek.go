package media

import (
	"time"
)

// Format is the unit of a seek or query position.
type Format int

// formats.
const (
	FormatTime Format = iota
	FormatBytes
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FormatTime:
		return "time"
	case FormatBytes:
		return "bytes"
	}
	return "unknown"
}

// SeekFlags are flags of a seek request.
type SeekFlags int

// seek flags.
const (
	SeekFlagFlush SeekFlags = 1 << iota
	SeekFlagAccurate
	SeekFlagKeyUnit
)

// SeekType tells how a seek position is interpreted.
type SeekType int

// seek types.
const (
	SeekTypeNone SeekType = iota
	SeekTypeSet
	SeekTypeEnd
)

// SeekRequest is a request to move the playback position.
type SeekRequest struct {
	Rate      float64
	Format    Format
	Flags     SeekFlags
	StartType SeekType
	Start     time.Duration
	StopType  SeekType
	Stop      time.Duration
	Seqnum    uint32
}

// NewSeek allocates a SeekRequest.
func NewSeek(
	rate float64,
	format Format,
	flags SeekFlags,
	startType SeekType,
	start time.Duration,
	stopType SeekType,
	stop time.Duration,
) *SeekRequest {
	return &SeekRequest{
		Rate:      rate,
		Format:    format,
		Flags:     flags,
		StartType: startType,
		Start:     start,
		StopType:  stopType,
		Stop:      stop,
	}
}

// Has checks whether the request carries all the given flags.
func (r *SeekRequest) Has(flags SeekFlags) bool {
	return r.Flags&flags == flags
}

// SeekingInfo is the answer to a seeking query.
type SeekingInfo struct {
	Format   Format
	Seekable bool
	Start    time.Duration
	Stop     time.Duration
}

// LatencyInfo is the answer to a latency query.
type LatencyInfo struct {
	Live bool
	Min  time.Duration
	// None when unbounded.
	Max time.Duration
}

// URIInfo is the answer to a URI query.
type URIInfo struct {
	URI       string
	Redirect  string
	Permanent bool
}
