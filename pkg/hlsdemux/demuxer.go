/*
Package hlsdemux contains a HLS demuxer that can be tested with the harness.

The demuxer downloads a multivariant or media playlist, creates an output stream
for each variant and pushes the raw bytes of initialization sections and segments
into it. It supports byte ranges, live playlists, time seeks and content protection events.
*/
package hlsdemux

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bluenviron/demuxcheck/pkg/liveclock"
	"github.com/bluenviron/demuxcheck/pkg/logger"
	"github.com/bluenviron/demuxcheck/pkg/media"
)

// ElementName is the source of error messages posted by the demuxer.
const ElementName = "hlsdemux"

const (
	defaultMaxDownloadRetries = 3
)

var (
	// ErrUnsupportedSeekFormat is returned by Seek when the format is not time.
	ErrUnsupportedSeekFormat = errors.New("only time seeks are supported")

	errNotStarted = errors.New("demuxer not started")
	errTerminated = errors.New("terminated")
)

// Demuxer is a HLS demuxer.
type Demuxer struct {
	//
	// parameters (all optional)
	//
	// HTTP client.
	// It defaults to http.DefaultClient.
	HTTPClient *http.Client
	// clock used to wait for live segments.
	// It defaults to the system clock.
	Clock liveclock.Clock
	// how many times a failed fragment download is repeated.
	// It defaults to 3. Set it to a negative value to disable retries.
	MaxDownloadRetries int
	// distance from the live edge of the initial position of live streams.
	PresentationDelay time.Duration
	// how far back from the live edge live streams can be seeked.
	// Zero means that they can be seeked back to their start.
	TimeShiftBufferDepth time.Duration
	// offset between the origin clock and Clock.
	ClockCompensation time.Duration
	// connection speed in kbit/s, used to select variants.
	// Zero means unknown.
	ConnectionSpeed uint
	// fraction of the connection speed that variants can use.
	// It defaults to 0.8.
	BitrateLimit float64
	// maximum bandwidth of variants in bit/s.
	// Zero means unlimited.
	MaxBitrate uint
	// function that receives log messages.
	// It defaults to logger.Default.
	Log logger.Func

	//
	// private
	//

	ctx         context.Context
	ctxCancel   func()
	manifestURL *url.URL
	out         media.Output
	rp          *routinePool
	seekMutex   sync.Mutex
	done        chan struct{}

	mutex    sync.Mutex
	streams  []*stream
	live     bool
	epoch    time.Time
	duration time.Duration
}

// Name returns the element name.
func (d *Demuxer) Name() string {
	return ElementName
}

// Start starts downloading the playlist at uri.
func (d *Demuxer) Start(ctx context.Context, uri string, out media.Output) error {
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	if d.Clock == nil {
		d.Clock = liveclock.Wall{}
	}
	if d.MaxDownloadRetries == 0 {
		d.MaxDownloadRetries = defaultMaxDownloadRetries
	} else if d.MaxDownloadRetries < 0 {
		d.MaxDownloadRetries = 0
	}
	if d.Log == nil {
		d.Log = logger.Default
	}

	err := d.checkParameters()
	if err != nil {
		return err
	}

	d.manifestURL, err = url.Parse(uri)
	if err != nil {
		return err
	}

	d.out = out
	d.ctx, d.ctxCancel = context.WithCancel(ctx)
	d.done = make(chan struct{})

	d.rp = &routinePool{}
	d.rp.initialize(d.ctx)

	d.rp.add(&primaryDownloader{d: d})

	go d.run()

	return nil
}

// Close stops the demuxer and waits for all its goroutines.
func (d *Demuxer) Close() {
	if d.ctxCancel == nil {
		return
	}

	d.ctxCancel()
	<-d.done
}

func (d *Demuxer) run() {
	defer close(d.done)

	for {
		select {
		case err := <-d.rp.errorChan():
			d.Log(logger.LevelError, "%v", err)
			d.out.PostError(&media.ErrorMessage{
				Source: ElementName,
				Err:    err,
			})

		case <-d.ctx.Done():
			d.rp.close()
			return
		}
	}
}

// setStreams is called by the primary downloader once every stream is ready.
func (d *Demuxer) setStreams(streams []*stream, live bool, epoch time.Time) {
	duration := time.Duration(0)
	for _, s := range streams {
		duration = max(duration, s.duration())
	}

	for _, s := range streams {
		if live {
			pt := d.Clock.Now().Sub(epoch) + d.ClockCompensation - d.PresentationDelay
			s.next = fragmentAt(s.fragments, max(pt, 0))
			s.segment = media.NewSegment(s.fragments[s.next].start)
		} else {
			s.segment = media.NewSegment(0)
		}

		s.setPeriod(s.fragments[s.next].period)
	}

	d.mutex.Lock()
	d.streams = streams
	d.live = live
	d.epoch = epoch
	d.duration = duration
	d.mutex.Unlock()

	d.seekMutex.Lock()
	defer d.seekMutex.Unlock()

	for _, s := range streams {
		s.start()
	}
}

// QueryDuration returns the duration of the presentation.
// It fails on live streams and before the playlist has been downloaded.
func (d *Demuxer) QueryDuration() (time.Duration, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.streams == nil || d.live {
		return 0, false
	}

	return d.duration, true
}

// QuerySeeking returns the seekable range.
func (d *Demuxer) QuerySeeking(format media.Format) (media.SeekingInfo, bool) {
	if format != media.FormatTime {
		return media.SeekingInfo{}, false
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.streams == nil {
		return media.SeekingInfo{}, false
	}

	if !d.live {
		return media.SeekingInfo{
			Format:   media.FormatTime,
			Seekable: true,
			Start:    0,
			Stop:     d.duration,
		}, true
	}

	stop := d.Clock.Now().Sub(d.epoch) + d.ClockCompensation

	start := time.Duration(0)
	if d.TimeShiftBufferDepth > 0 {
		start = stop - d.TimeShiftBufferDepth
	}

	return media.SeekingInfo{
		Format:   media.FormatTime,
		Seekable: true,
		Start:    start,
		Stop:     stop,
	}, true
}

// QueryLatency returns the latency introduced by the demuxer.
func (d *Demuxer) QueryLatency() (media.LatencyInfo, bool) {
	return media.LatencyInfo{
		Live: false,
		Min:  0,
		Max:  media.None,
	}, true
}

// QueryURI returns the URI of the playlist.
func (d *Demuxer) QueryURI() (media.URIInfo, bool) {
	if d.manifestURL == nil {
		return media.URIInfo{}, false
	}

	return media.URIInfo{
		URI: d.manifestURL.String(),
	}, true
}
