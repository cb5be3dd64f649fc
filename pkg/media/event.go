package media

import (
	"fmt"
	"time"
)

// EventType is the type of an Event.
type EventType int

// event types.
const (
	EventStreamStart EventType = iota
	EventSegment
	EventFlushStart
	EventFlushStop
	EventProtection
)

var eventTypeLabels = map[EventType]string{
	EventStreamStart: "stream-start",
	EventSegment:     "segment",
	EventFlushStart:  "flush-start",
	EventFlushStop:   "flush-stop",
	EventProtection:  "protection",
}

// String implements fmt.Stringer.
func (t EventType) String() string {
	if l, ok := eventTypeLabels[t]; ok {
		return l
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// Segment describes the time range that follows a segment event.
type Segment struct {
	Rate     float64
	Start    time.Duration
	Stop     time.Duration
	Time     time.Duration
	Position time.Duration
}

// NewSegment allocates an open-ended Segment starting at start.
func NewSegment(start time.Duration) *Segment {
	return &Segment{
		Rate:     1,
		Start:    start,
		Stop:     None,
		Time:     start,
		Position: start,
	}
}

// Protection carries content protection information of a stream.
type Protection struct {
	// lowercase UUID of the protection system.
	SystemID string
	Data     []byte
	Origin   string
}

// Event is an in-band event delivered by a demuxer output stream.
type Event struct {
	Type       EventType
	Seqnum     uint32
	Segment    *Segment
	Protection *Protection
}
