package hlsdemux

import (
	"github.com/bluenviron/demuxcheck/pkg/logger"
	"github.com/bluenviron/demuxcheck/pkg/media"
)

// Seek moves every stream to the requested position.
// Seeks are serialized: a seek that is requested while another one is
// in progress is performed when the first one has completed.
func (d *Demuxer) Seek(req media.SeekRequest) error {
	d.seekMutex.Lock()
	defer d.seekMutex.Unlock()

	if req.Format != media.FormatTime {
		return ErrUnsupportedSeekFormat
	}

	d.mutex.Lock()
	streams := d.streams
	duration := d.duration
	d.mutex.Unlock()

	if streams == nil {
		return errNotStarted
	}

	d.Log(logger.LevelDebug, "seeking to %v (flags %d)", req.Start, req.Flags)

	flush := req.Has(media.SeekFlagFlush)

	if flush {
		for _, s := range streams {
			s.currentPad().PushEvent(&media.Event{
				Type:   media.EventFlushStart,
				Seqnum: req.Seqnum,
			})
		}
	}

	for _, s := range streams {
		s.stop()
	}

	if flush {
		for _, s := range streams {
			s.currentPad().PushEvent(&media.Event{
				Type:   media.EventFlushStop,
				Seqnum: req.Seqnum,
			})
		}
	}

	if d.ctx.Err() != nil {
		return errTerminated
	}

	for _, s := range streams {
		s.seek(req, duration)
		s.start()
	}

	return nil
}
