package hlsdemux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/grafov/m3u8"

	"github.com/bluenviron/demuxcheck/pkg/logger"
	"github.com/bluenviron/demuxcheck/pkg/media"
)

const (
	readBufferSize = 64 * 1024
)

var (
	errEndOfPlaylist      = errors.New("end of playlist")
	errLastFragmentFailed = errors.New("download of the last fragment failed")
)

func fragmentAt(fragments []*fragment, pos time.Duration) int {
	ret := 0
	for i, f := range fragments {
		if f.start <= pos {
			ret = i
		}
	}
	return ret
}

// stream downloads the fragments of a media playlist and pushes them into a pad.
type stream struct {
	d           *Demuxer
	names       streamName
	playlistURL *url.URL
	protection  []*media.Protection

	// output stream of the current period
	padMutex sync.Mutex
	name     string
	pad      media.Pad
	period   int

	// live
	live           bool
	closed         bool
	targetDuration time.Duration
	// date and time of the first segment, if declared.
	dateTime time.Time

	header    *fragment
	fragments []*fragment

	// position
	next    int
	segment *media.Segment
	seqnum  uint32

	started bool
	routine *routine

	bodyMutex sync.Mutex
	body      io.ReadCloser
}

func newStream(
	d *Demuxer,
	names streamName,
	playlistURL *url.URL,
	pl *m3u8.MediaPlaylist,
	keys []map[string]string,
) (*stream, error) {
	header, err := headerOf(playlistURL, pl)
	if err != nil {
		return nil, err
	}

	fragments, err := fragmentsOf(playlistURL, pl, 0, 0, 0)
	if err != nil {
		return nil, err
	}

	if len(fragments) == 0 {
		return nil, fmt.Errorf("playlist %s has no segments", playlistURL)
	}

	dateTime, _ := epochOf(pl)

	return &stream{
		d:              d,
		names:          names,
		name:           names.of(0),
		playlistURL:    playlistURL,
		protection:     protectionOf(keys, playlistURL.String()),
		live:           !pl.Closed,
		closed:         pl.Closed,
		targetDuration: durationOf(pl.TargetDuration),
		dateTime:       dateTime,
		header:         header,
		fragments:      fragments,
	}, nil
}

func (s *stream) duration() time.Duration {
	return s.fragments[len(s.fragments)-1].end()
}

// setPeriod adds the output stream of a period, then ends the previous one.
// It must be called when the stream is not running or by the stream routine.
func (s *stream) setPeriod(period int) {
	name := s.names.of(period)
	pad := s.d.out.AddStream(name)

	s.padMutex.Lock()
	prev := s.pad
	s.name = name
	s.pad = pad
	s.period = period
	s.padMutex.Unlock()

	s.started = false

	if prev != nil {
		s.d.Log(logger.LevelDebug, "%s: new period %d", name, period)
		prev.EndOfStream()
	}
}

func (s *stream) currentPad() media.Pad {
	s.padMutex.Lock()
	defer s.padMutex.Unlock()
	return s.pad
}

// start must be called when the stream is not running.
func (s *stream) start() {
	s.routine = s.d.rp.add(s)
}

// stop interrupts the download in progress and waits for the stream to stop.
func (s *stream) stop() {
	if s.routine == nil {
		return
	}

	s.routine.cancel()

	s.bodyMutex.Lock()
	if s.body != nil {
		s.body.Close()
	}
	s.bodyMutex.Unlock()

	s.routine.wait()
	s.routine = nil
}

// seek must be called when the stream is not running.
func (s *stream) seek(req media.SeekRequest, duration time.Duration) {
	pos := req.Start
	switch req.StartType {
	case media.SeekTypeNone:
		if s.next < len(s.fragments) {
			pos = s.fragments[s.next].start
		} else {
			pos = duration
		}

	case media.SeekTypeEnd:
		pos = duration + req.Start
	}

	s.next = fragmentAt(s.fragments, pos)

	start := pos
	if req.Has(media.SeekFlagKeyUnit) {
		start = s.fragments[s.next].start
	}

	stop := media.None
	if req.StopType == media.SeekTypeSet {
		stop = req.Stop
	}

	rate := req.Rate
	if rate == 0 {
		rate = 1
	}

	s.segment = &media.Segment{
		Rate:     rate,
		Start:    start,
		Stop:     stop,
		Time:     start,
		Position: start,
	}
	s.seqnum = req.Seqnum
}

func (s *stream) run(ctx context.Context) error {
	err := s.runInner(ctx)

	switch {
	case err == nil:
		return nil

	case errors.Is(err, errEndOfPlaylist):
		s.d.Log(logger.LevelDebug, "%s: end of stream", s.name)
		s.pad.EndOfStream()
		return nil

	case errors.Is(err, errLastFragmentFailed):
		s.d.Log(logger.LevelWarn, "%s: %v, ending stream", s.name, err)
		s.pad.EndOfStream()
		return nil

	// downstream is flushing or stopped: wait for the routine to be canceled
	case errors.Is(err, media.ErrFlushing), errors.Is(err, media.ErrStopped):
		<-ctx.Done()
		return nil
	}

	return fmt.Errorf("%s: %w", s.name, err)
}

func (s *stream) runInner(ctx context.Context) error {
	err := s.startPeriod(ctx)
	if err != nil {
		return err
	}

	for {
		f, err := s.nextFragment(ctx)
		if err != nil {
			return err
		}

		if f.period != s.period {
			s.setPeriod(f.period)
			s.segment = media.NewSegment(f.start)

			err = s.startPeriod(ctx)
			if err != nil {
				return err
			}
		}

		last := s.closed && s.next == len(s.fragments)-1

		if s.live {
			err = s.waitAvailability(ctx, f)
			if err != nil {
				return err
			}
		}

		err = s.download(ctx, f, last)
		if err != nil {
			return err
		}

		s.next++
	}
}

// startPeriod pushes the initial events of the output stream and the initialization section.
func (s *stream) startPeriod(ctx context.Context) error {
	if !s.started {
		s.started = true

		s.pad.PushEvent(&media.Event{Type: media.EventStreamStart})

		for _, p := range s.protection {
			s.pad.PushEvent(&media.Event{
				Type:       media.EventProtection,
				Protection: p,
			})
		}
	}

	s.pad.PushEvent(&media.Event{
		Type:    media.EventSegment,
		Seqnum:  s.seqnum,
		Segment: s.segment,
	})

	if s.header != nil {
		return s.download(ctx, s.header, false)
	}

	return nil
}

func (s *stream) nextFragment(ctx context.Context) (*fragment, error) {
	for s.next >= len(s.fragments) {
		if s.closed {
			return nil, errEndOfPlaylist
		}

		err := s.d.Clock.Sleep(ctx, s.targetDuration)
		if err != nil {
			return nil, err
		}

		err = s.reload(ctx)
		if err != nil {
			return nil, err
		}
	}

	return s.fragments[s.next], nil
}

// reload downloads the playlist again and appends new segments.
func (s *stream) reload(ctx context.Context) error {
	s.d.Log(logger.LevelDebug, "%s: reloading %s", s.name, s.playlistURL)

	pl, _, err := downloadMediaPlaylist(ctx, s.d.HTTPClient, s.playlistURL)
	if err != nil {
		return err
	}

	last := s.fragments[len(s.fragments)-1]

	fragments, err := fragmentsOf(s.playlistURL, pl, last.seqNo+1, last.end(), last.period)
	if err != nil {
		return err
	}

	s.fragments = append(s.fragments, fragments...)
	s.closed = pl.Closed

	return nil
}

// waitAvailability waits until a live fragment is available, that is, until its end.
func (s *stream) waitAvailability(ctx context.Context, f *fragment) error {
	availableAt := s.d.epoch.Add(f.end() - s.d.ClockCompensation)

	wait := availableAt.Sub(s.d.Clock.Now())
	if wait <= 0 {
		return nil
	}

	s.d.Log(logger.LevelDebug, "%s: waiting %v for %s", s.name, wait, f.uri)
	return s.d.Clock.Sleep(ctx, wait)
}

func (s *stream) download(ctx context.Context, f *fragment, last bool) error {
	for attempt := 0; ; attempt++ {
		err := s.downloadAttempt(ctx, f)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil ||
			errors.Is(err, media.ErrFlushing) ||
			errors.Is(err, media.ErrStopped) ||
			isNotFound(err) {
			return err
		}

		if last {
			return fmt.Errorf("%w: %w", errLastFragmentFailed, err)
		}

		if attempt >= s.d.MaxDownloadRetries {
			return fmt.Errorf("unable to download %s after %d attempts: %w", f.uri, attempt+1, err)
		}

		s.d.Log(logger.LevelWarn, "%s: download of %s failed (%v), retrying", s.name, f.uri, err)
	}
}

func (s *stream) setBody(b io.ReadCloser) {
	s.bodyMutex.Lock()
	defer s.bodyMutex.Unlock()
	s.body = b
}

func (s *stream) closeBody() {
	s.bodyMutex.Lock()
	defer s.bodyMutex.Unlock()

	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
}

// downloadAttempt downloads a fragment and pushes it in chunks.
// The first chunk is marked as discontinuous.
func (s *stream) downloadAttempt(ctx context.Context, f *fragment) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.uri, nil)
	if err != nil {
		return err
	}

	if f.length != 0 {
		req.Header.Add("Range", "bytes="+strconv.FormatUint(f.offset, 10)+
			"-"+strconv.FormatUint(f.offset+f.length-1, 10))
	}

	res, err := s.d.HTTPClient.Do(req)
	if err != nil {
		return err
	}

	s.setBody(res.Body)
	defer s.closeBody()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusPartialContent {
		return &statusError{url: f.uri, code: res.StatusCode}
	}

	buf := make([]byte, readBufferSize)
	offset := f.offset
	discont := true

	for {
		n, err := res.Body.Read(buf)

		if n > 0 {
			perr := s.pad.Push(&media.Buffer{
				Data:    append([]byte(nil), buf[:n]...),
				URI:     f.uri,
				Offset:  offset,
				Discont: discont,
				Header:  f.header,
				PTS:     f.start,
			})
			if perr != nil {
				return perr
			}

			discont = false
			offset += uint64(n)
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
