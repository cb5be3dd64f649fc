package demuxcheck

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/demuxcheck/pkg/media"
	"github.com/bluenviron/demuxcheck/pkg/vsource"
)

// fakeDemuxer runs a function on its own goroutine in place of a real demuxer.
type fakeDemuxer struct {
	run      func(ctx context.Context, out media.Output)
	startErr error

	ctx       context.Context
	ctxCancel func()
	done      chan struct{}

	mutex sync.Mutex
	seeks []media.SeekRequest
}

func (d *fakeDemuxer) Name() string {
	return "fakedemux"
}

func (d *fakeDemuxer) Start(ctx context.Context, _ string, out media.Output) error {
	if d.startErr != nil {
		return d.startErr
	}

	d.ctx, d.ctxCancel = context.WithCancel(ctx)
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		d.run(d.ctx, out)
	}()

	return nil
}

func (d *fakeDemuxer) Seek(req media.SeekRequest) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.seeks = append(d.seeks, req)
	return nil
}

func (d *fakeDemuxer) QueryDuration() (time.Duration, bool) {
	return 10 * time.Second, true
}

func (d *fakeDemuxer) QuerySeeking(format media.Format) (media.SeekingInfo, bool) {
	return media.SeekingInfo{Format: format, Seekable: true, Start: 0, Stop: 10 * time.Second}, true
}

func (d *fakeDemuxer) QueryLatency() (media.LatencyInfo, bool) {
	return media.LatencyInfo{Max: media.None}, true
}

func (d *fakeDemuxer) QueryURI() (media.URIInfo, bool) {
	return media.URIInfo{URI: "http://unit.test/test.m3u8"}, true
}

func (d *fakeDemuxer) Close() {
	if d.ctxCancel == nil {
		return
	}
	d.ctxCancel()
	<-d.done
}

func pushFragment(pad media.Pad, uri string, data []byte, chunk int) error {
	for i := 0; i < len(data); i += chunk {
		end := min(i+chunk, len(data))
		err := pad.Push(&media.Buffer{
			Data:    data[i:end],
			URI:     uri,
			Offset:  uint64(i),
			Discont: i == 0,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func runFake(cbs Callbacks, d *fakeDemuxer) (*Engine, error) {
	e := &Engine{
		ManifestURI: "http://unit.test/test.m3u8",
		Source:      vsource.New(vsource.Config{}),
		NewDemuxer: func(_ DemuxerParams) Demuxer {
			return d
		},
		Callbacks: cbs,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := e.Run(ctx)
	return e, err
}

func TestEngineRunCompletes(t *testing.T) {
	tc := NewTestCase(
		&ExpectedOutput{Name: "audio_00", ExpectedSize: 300},
		&ExpectedOutput{Name: "video_00", ExpectedSize: 500},
	)

	d := &fakeDemuxer{
		run: func(_ context.Context, out media.Output) {
			audio := out.AddStream("audio_00")
			video := out.AddStream("video_00")

			pushFragment(audio, "a.ts", make([]byte, 100), 60) //nolint:errcheck
			pushFragment(audio, "b.ts", make([]byte, 200), 60) //nolint:errcheck
			audio.EndOfStream()

			pushFragment(video, "v.ts", make([]byte, 500), 60) //nolint:errcheck
			video.EndOfStream()
		},
	}

	e, err := runFake(tc.DefaultCallbacks(), d)
	require.NoError(t, err)
	require.Equal(t, 2, tc.FinishedCount())

	streams := e.Streams()
	require.Len(t, streams, 2)
	require.Equal(t, 0, streams[0].Index())
	require.Equal(t, StreamProgress{TotalReceivedSize: 100, SegmentReceivedSize: 200}, streams[0].Progress)
	require.Equal(t, "video_00", streams[1].Name())
}

func TestEngineSizeMismatch(t *testing.T) {
	tc := NewTestCase(&ExpectedOutput{Name: "main_00", ExpectedSize: 300})

	d := &fakeDemuxer{
		run: func(_ context.Context, out media.Output) {
			pad := out.AddStream("main_00")
			pushFragment(pad, "a.ts", make([]byte, 100), 100) //nolint:errcheck
			pad.EndOfStream()
		},
	}

	_, err := runFake(tc.DefaultCallbacks(), d)
	require.EqualError(t, err, "stream main_00 ended after 100 bytes, expected 300")
}

func TestEngineTooMuchData(t *testing.T) {
	tc := NewTestCase(&ExpectedOutput{Name: "main_00", ExpectedSize: 150})

	var pushErr error

	d := &fakeDemuxer{
		run: func(_ context.Context, out media.Output) {
			pad := out.AddStream("main_00")
			pushErr = pushFragment(pad, "a.ts", make([]byte, 300), 100)
		},
	}

	_, err := runFake(tc.DefaultCallbacks(), d)
	require.EqualError(t, err, "stream main_00: received 200 bytes, expected 150")
	require.ErrorIs(t, pushErr, media.ErrStopped)
}

func TestEngineDataMismatch(t *testing.T) {
	tc := NewTestCase(&ExpectedOutput{
		Name:         "main_00",
		ExpectedSize: 4,
		ExpectedData: []byte{1, 2, 3, 4},
	})

	d := &fakeDemuxer{
		run: func(_ context.Context, out media.Output) {
			pad := out.AddStream("main_00")
			pushFragment(pad, "a.ts", []byte{1, 2, 5, 4}, 2) //nolint:errcheck
		},
	}

	_, err := runFake(tc.DefaultCallbacks(), d)
	require.EqualError(t, err, "stream main_00: data mismatch in range 2-4")
}

func TestEngineUnexpectedStream(t *testing.T) {
	tc := NewTestCase(&ExpectedOutput{Name: "main_00", ExpectedSize: 4})

	d := &fakeDemuxer{
		run: func(_ context.Context, out media.Output) {
			pad := out.AddStream("other_00")
			pushFragment(pad, "a.ts", []byte{1, 2, 3, 4}, 4) //nolint:errcheck
		},
	}

	_, err := runFake(tc.DefaultCallbacks(), d)
	require.EqualError(t, err, "unexpected stream other_00")
}

func TestEngineStartError(t *testing.T) {
	tc := NewTestCase(&ExpectedOutput{Name: "main_00", ExpectedSize: 4})

	d := &fakeDemuxer{startErr: errors.New("invalid URI")}

	_, err := runFake(tc.DefaultCallbacks(), d)
	require.EqualError(t, err, "unable to start fakedemux: invalid URI")
}

func TestEngineUnexpectedErrorMessage(t *testing.T) {
	tc := NewTestCase(&ExpectedOutput{Name: "main_00", ExpectedSize: 4})

	d := &fakeDemuxer{
		run: func(_ context.Context, out media.Output) {
			out.AddStream("main_00")
			out.PostError(&media.ErrorMessage{Source: "fakedemux", Err: errors.New("broken")})
		},
	}

	_, err := runFake(tc.DefaultCallbacks(), d)
	require.EqualError(t, err, "unexpected error message: fakedemux: broken")
}

func TestEngineExpectedErrorMessage(t *testing.T) {
	for _, ca := range []struct {
		name   string
		source string
		size   int
		err    string
	}{
		{
			"expected",
			"fakedemux",
			20,
			"",
		},
		{
			"wrong source",
			"other",
			20,
			"error message posted by \"other\", expected \"fakedemux\": other: broken",
		},
		{
			"wrong size",
			"fakedemux",
			10,
			"stream main_00 received 10 bytes before the error, expected 20",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			tc := NewTestCase(&ExpectedOutput{Name: "main_00", ExpectedSize: 20})
			tc.ExpectedErrorSource = "fakedemux"

			d := &fakeDemuxer{
				run: func(_ context.Context, out media.Output) {
					pad := out.AddStream("main_00")
					pushFragment(pad, "a.ts", make([]byte, ca.size), 10) //nolint:errcheck
					out.PostError(&media.ErrorMessage{Source: ca.source, Err: errors.New("broken")})
				},
			}

			_, err := runFake(tc.ErrorCallbacks(), d)
			if ca.err == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, ca.err)
			}
		})
	}
}

func TestEngineTimeout(t *testing.T) {
	tc := NewTestCase(&ExpectedOutput{Name: "main_00", ExpectedSize: 4})

	d := &fakeDemuxer{
		run: func(ctx context.Context, out media.Output) {
			out.AddStream("main_00")
			<-ctx.Done()
		},
	}

	e := &Engine{
		ManifestURI: "http://unit.test/test.m3u8",
		Source:      vsource.New(vsource.Config{}),
		NewDemuxer: func(_ DemuxerParams) Demuxer {
			return d
		},
		Callbacks: tc.DefaultCallbacks(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := e.Run(ctx)
	require.EqualError(t, err, "run did not complete: context deadline exceeded")
}

func TestEngineFlushing(t *testing.T) {
	tc := NewTestCase(&ExpectedOutput{
		Name:                      "main_00",
		ExpectedSize:              20,
		PostSeekSegment:           media.Segment{Rate: 1, Start: 2 * time.Second, Stop: media.None},
		SegmentVerificationNeeded: true,
	})

	var flushErr error

	d := &fakeDemuxer{
		run: func(_ context.Context, out media.Output) {
			pad := out.AddStream("main_00")
			pad.PushEvent(&media.Event{Type: media.EventSegment, Segment: media.NewSegment(0)})
			pushFragment(pad, "a.ts", make([]byte, 10), 10) //nolint:errcheck

			pad.PushEvent(&media.Event{Type: media.EventFlushStart})
			flushErr = pad.Push(&media.Buffer{Data: make([]byte, 10)})
			pad.PushEvent(&media.Event{Type: media.EventFlushStop})

			pad.PushEvent(&media.Event{Type: media.EventSegment, Segment: media.NewSegment(2 * time.Second)})
			pushFragment(pad, "b.ts", make([]byte, 10), 10) //nolint:errcheck
			pad.EndOfStream()
		},
	}

	cbs := tc.DefaultCallbacks()
	cbs.OnEvent = tc.CheckSegment
	cbs.PostTest = tc.checkSegmentsVerified

	_, err := runFake(cbs, d)
	require.NoError(t, err)
	require.ErrorIs(t, flushErr, media.ErrFlushing)
	require.False(t, tc.Outputs[0].SegmentVerificationNeeded)
}

func TestEngineWrongSegmentAfterFlush(t *testing.T) {
	tc := NewTestCase(&ExpectedOutput{
		Name:                      "main_00",
		ExpectedSize:              10,
		PostSeekSegment:           media.Segment{Rate: 1, Start: 2 * time.Second, Stop: media.None},
		SegmentVerificationNeeded: true,
	})

	d := &fakeDemuxer{
		run: func(_ context.Context, out media.Output) {
			pad := out.AddStream("main_00")
			pad.PushEvent(&media.Event{Type: media.EventFlushStart})
			pad.PushEvent(&media.Event{Type: media.EventFlushStop})
			pad.PushEvent(&media.Event{Type: media.EventSegment, Segment: media.NewSegment(time.Second)})
		},
	}

	cbs := tc.DefaultCallbacks()
	cbs.OnEvent = tc.CheckSegment

	_, err := runFake(cbs, d)
	require.EqualError(t, err, "stream main_00: segment start is 1s, expected 2s")
}

func TestEngineDroppedData(t *testing.T) {
	tc := NewTestCase(&ExpectedOutput{Name: "main_00", ExpectedSize: 10})

	d := &fakeDemuxer{
		run: func(_ context.Context, out media.Output) {
			pad := out.AddStream("main_00")
			pushFragment(pad, "a.ts", bytes.Repeat([]byte{1}, 10), 5) //nolint:errcheck
			pad.EndOfStream()
		},
	}

	cbs := tc.DefaultCallbacks()
	cbs.OnDemuxSentData = func(_ *Engine, _ *OutputStream, buf *media.Buffer) bool {
		return buf.Offset == 0
	}

	_, err := runFake(cbs, d)
	require.EqualError(t, err, "stream main_00 ended after 5 bytes, expected 10")
}

func TestEngineQueriesBeforeStart(t *testing.T) {
	e := &Engine{}

	_, ok := e.QueryDuration()
	require.False(t, ok)
	_, ok = e.QueryURI()
	require.False(t, ok)
	require.Equal(t, "", e.DemuxerName())
	require.ErrorIs(t, e.Seek(&media.SeekRequest{}), ErrNotStarted)
}

func TestEngineMissingParameters(t *testing.T) {
	e := &Engine{}
	require.EqualError(t, e.Run(context.Background()), "source not provided")

	e = &Engine{Source: vsource.New(vsource.Config{})}
	require.EqualError(t, e.Run(context.Background()), "demuxer constructor not provided")
}

func TestEngineSeek(t *testing.T) {
	tc := NewTestCase(&ExpectedOutput{Name: "main_00", ExpectedSize: 10})

	d := &fakeDemuxer{
		run: func(_ context.Context, out media.Output) {
			pad := out.AddStream("main_00")
			pushFragment(pad, "a.ts", make([]byte, 10), 5) //nolint:errcheck
		},
	}

	req := media.NewSeek(1, media.FormatTime, media.SeekFlagFlush, media.SeekTypeSet, time.Second,
		media.SeekTypeNone, 0)

	cbs := tc.DefaultCallbacks()
	cbs.OnDataReceived = func(e *Engine, s *OutputStream, buf *media.Buffer) bool {
		if buf.Discont {
			e.Unlock()
			err := e.Seek(req)
			e.Lock()
			require.NoError(t, err)
		}
		return tc.CheckReceivedData(e, s, buf)
	}

	_, err := runFake(cbs, d)
	require.NoError(t, err)
	require.Equal(t, []media.SeekRequest{*req}, d.seeks)
}

func TestEnginePartialDownload(t *testing.T) {
	for _, ca := range []struct {
		name     string
		expected uint64
		pushed   int
		err      string
	}{
		{
			"partial",
			100,
			40,
			"",
		},
		{
			"nothing",
			100,
			0,
			"stream main_00 ended after 0 bytes, expected more than 0 and less than 100",
		},
		{
			"entire file",
			100,
			100,
			"stream main_00 ended after 100 bytes, expected more than 0 and less than 100",
		},
		{
			"empty expected output",
			0,
			0,
			"stream main_00 ended after 0 bytes, expected more than 0 and less than 0",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			tc := NewTestCase(&ExpectedOutput{Name: "main_00", ExpectedSize: ca.expected})

			d := &fakeDemuxer{
				run: func(_ context.Context, out media.Output) {
					pad := out.AddStream("main_00")
					if ca.pushed != 0 {
						pushFragment(pad, "a.ts", make([]byte, ca.pushed), ca.pushed) //nolint:errcheck
					}
					pad.EndOfStream()
				},
			}

			// the stream is finished only by the end of stream
			cbs := Callbacks{
				OnEndOfStream: tc.DownloadErrorSizeOfReceivedData,
			}

			_, err := runFake(cbs, d)
			if ca.err == "" {
				require.NoError(t, err)
				require.Equal(t, 1, tc.FinishedCount())
			} else {
				require.EqualError(t, err, ca.err)
			}
		})
	}
}
