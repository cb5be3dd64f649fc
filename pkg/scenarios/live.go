package scenarios

import (
	"fmt"
	"time"

	"github.com/bluenviron/demuxcheck"
	"github.com/bluenviron/demuxcheck/pkg/liveclock"
	"github.com/bluenviron/demuxcheck/pkg/media"
	"github.com/bluenviron/demuxcheck/pkg/vsource"
)

const (
	liveSegmentDuration = 3 * time.Second
	liveSegmentCount    = 4

	// distance between the start of the first segment and the start of the run.
	liveElapsed = 6 * time.Second
)

// liveStream is a live stream of 4 segments of 3 seconds, whose sizes are
// 1000, 2000, 3000 and 4000 bytes. When the run starts, 6 seconds have
// elapsed since the start of the first segment.
type liveStream struct {
	inputs []vsource.Input
	clock  *liveclock.Virtual
	model  *liveclock.Model
}

func newLiveStream(base string, depth time.Duration) *liveStream {
	// program date times have a millisecond precision
	clock := liveclock.NewVirtual(time.Now().Truncate(time.Millisecond))
	epoch := clock.Now().Add(-liveElapsed)

	pl := &mediaPlaylist{
		targetDuration: int(liveSegmentDuration / time.Second),
		dateTime:       epoch,
	}
	var inputs []vsource.Input

	for i := range liveSegmentCount {
		uri := fmt.Sprintf("seg%d.webm", i)
		pl.segments = append(pl.segments, segment{duration: liveSegmentDuration, uri: uri})
		inputs = append(inputs, vsource.Input{URI: base + uri, Size: uint64(1000 * (i + 1))})
	}

	inputs = append(inputs, manifestInput(base+"test.m3u8", pl.String()))

	return &liveStream{
		inputs: inputs,
		clock:  clock,
		model: &liveclock.Model{
			Clock:                clock,
			AvailabilityStart:    epoch,
			TimeShiftBufferDepth: depth,
		},
	}
}

// availableAt returns the availability time of the segment that contains pt.
func availableAt(pt time.Duration) time.Duration {
	return liveclock.AvailabilityTime(liveclock.SegmentIndex(pt, liveSegmentDuration), liveSegmentDuration)
}

func live() *Scenario {
	return &Scenario{
		Name:        "live",
		Description: "downloads a live stream from the live edge and checks its seek range",
		build: func(base string) (*setup, error) {
			ls := newLiveStream(base, liveclock.Infinite)

			// segments 2 and 3
			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{Name: "main_00", ExpectedSize: 7000},
			)
			tc.Extension = &demuxcheck.LiveExtension{
				Model: ls.model,
				Windows: []demuxcheck.LiveWindow{
					{TotalReceived: 0, AvailableAt: availableAt(6 * time.Second)},
					{TotalReceived: 3000, AvailableAt: availableAt(9 * time.Second)},
				},
			}

			return &setup{
				inputs:    ls.inputs,
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.LiveCallbacks(),
				clock:     ls.clock,
				live: LiveSettings{
					TimeShiftBufferDepth: liveclock.Infinite,
				},
			}, nil
		},
	}
}

func liveDelay() *Scenario {
	return &Scenario{
		Name:        "live-delay",
		Description: "starts a live stream behind the live edge and checks a finite seek range",
		build: func(base string) (*setup, error) {
			ls := newLiveStream(base, 5*time.Second)

			// segments 1, 2 and 3
			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{Name: "main_00", ExpectedSize: 9000},
			)
			tc.Extension = &demuxcheck.LiveExtension{
				Model: ls.model,
				Windows: []demuxcheck.LiveWindow{
					{TotalReceived: 0, AvailableAt: availableAt(3 * time.Second)},
					{TotalReceived: 2000, AvailableAt: availableAt(6 * time.Second)},
					{TotalReceived: 5000, AvailableAt: availableAt(9 * time.Second)},
				},
			}

			return &setup{
				inputs:    ls.inputs,
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.LiveCallbacks(),
				clock:     ls.clock,
				live: LiveSettings{
					PresentationDelay:    3 * time.Second,
					TimeShiftBufferDepth: 5 * time.Second,
				},
			}, nil
		},
	}
}

func liveQuery() *Scenario {
	return &Scenario{
		Name:        "live-query",
		Description: "checks the answers to queries of a live stream",
		build: func(base string) (*setup, error) {
			st, err := live().build(base)
			if err != nil {
				return nil, err
			}

			st.callbacks.OnDataReceived = st.tc.CheckLiveQueries
			return st, nil
		},
	}
}

func liveSeek() *Scenario {
	return &Scenario{
		Name:        "live-seek",
		Description: "seeks to the start of a live stream while a segment is being downloaded",
		build: func(base string) (*setup, error) {
			ls := newLiveStream(base, liveclock.Infinite)

			// 1024 bytes of segment 2, then segments 0 and 1
			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{Name: "main_00", ExpectedSize: 3000},
			)
			tc.ThresholdForSeek = 1
			tc.SeekEvent = media.NewSeek(1, media.FormatTime, media.SeekFlagFlush|media.SeekFlagKeyUnit,
				media.SeekTypeSet, 5*time.Millisecond, media.SeekTypeNone, 0)

			// the seek range does not move since segments 0 and 1 are already available
			tc.Extension = &demuxcheck.LiveExtension{
				Model: ls.model,
				Windows: []demuxcheck.LiveWindow{
					{TotalReceived: 0, AvailableAt: availableAt(6 * time.Second)},
					{TotalReceived: 1024, AvailableAt: availableAt(6 * time.Second)},
					{TotalReceived: 2024, AvailableAt: availableAt(6 * time.Second)},
				},
			}

			return &setup{
				inputs:    ls.inputs,
				blockSize: 1024,
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.LiveSeekCallbacks(),
				clock:     ls.clock,
				live: LiveSettings{
					TimeShiftBufferDepth: liveclock.Infinite,
				},
			}, nil
		},
	}
}
