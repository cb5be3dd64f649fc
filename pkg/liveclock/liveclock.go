// Package liveclock contains clocks and the timing model of live streams.
package liveclock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/demuxcheck/pkg/media"
)

// Infinite is the timeshift buffer depth of streams that can be seeked back to their start.
const Infinite time.Duration = -1

// Clock is a source of time.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Wall is the system clock.
type Wall struct{}

// Now implements Clock.
func (Wall) Now() time.Time {
	return time.Now()
}

// Sleep implements Clock.
func (Wall) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Virtual is a deterministic clock. Time moves only when Advance or Sleep are called.
type Virtual struct {
	mutex sync.Mutex
	now   time.Time
}

// NewVirtual allocates a Virtual clock.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now implements Clock.
func (c *Virtual) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Virtual) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

// Sleep implements Clock. It advances the clock by d and returns immediately.
func (c *Virtual) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		c.Advance(d)
	}
	return nil
}

// Model is the timing model of a live stream.
type Model struct {
	Clock Clock
	// instant in which the first segment starts.
	AvailabilityStart time.Time
	// offset between the origin clock and Clock.
	ClockCompensation time.Duration
	// how far back from the live edge a client can seek, or Infinite.
	TimeShiftBufferDepth time.Duration
}

// PresentationTime returns the current position in the stream timeline.
func (m *Model) PresentationTime() time.Duration {
	return m.Clock.Now().Sub(m.AvailabilityStart) + m.ClockCompensation
}

// SegmentIndex returns the index of the segment that contains pt,
// in a stream made of segments of equal duration.
func SegmentIndex(pt time.Duration, segmentDuration time.Duration) int {
	if pt < 0 || segmentDuration <= 0 {
		return 0
	}
	return int(pt / segmentDuration)
}

// AvailabilityTime returns the position in the stream timeline in which
// the segment with the given index becomes available, that is, its end.
func AvailabilityTime(index int, segmentDuration time.Duration) time.Duration {
	return time.Duration(index+1) * segmentDuration
}

// FormatDateTime formats t in the form used by EXT-X-PROGRAM-DATE-TIME.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// CheckSeekRange checks the answer to a seeking query performed while
// a segment that became available at availableAt was being delivered.
//
// The upper bound must lie in [availableAt, PresentationTime()]. Demuxers may
// report the current instant as upper bound instead of the start of the last
// available segment, therefore both bounds are inclusive.
// The lower bound must be zero when the timeshift buffer depth is infinite,
// otherwise the upper bound minus the depth.
func (m *Model) CheckSeekRange(info media.SeekingInfo, availableAt time.Duration) error {
	if !info.Seekable {
		return fmt.Errorf("stream is not seekable")
	}

	if info.Format != media.FormatTime {
		return fmt.Errorf("unexpected seeking format %v", info.Format)
	}

	pt := m.PresentationTime()

	if info.Stop < availableAt {
		return fmt.Errorf("seek range end %v is before the segment availability time %v", info.Stop, availableAt)
	}

	if info.Stop > pt {
		return fmt.Errorf("seek range end %v is after the presentation time %v", info.Stop, pt)
	}

	if m.TimeShiftBufferDepth == Infinite {
		if info.Start != 0 {
			return fmt.Errorf("seek range start is %v, expected 0", info.Start)
		}
	} else if info.Start != info.Stop-m.TimeShiftBufferDepth {
		return fmt.Errorf("seek range start is %v, expected %v", info.Start, info.Stop-m.TimeShiftBufferDepth)
	}

	return nil
}
