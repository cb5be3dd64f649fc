/*
Package demuxcheck is a conformance test harness for adaptive streaming demuxers.

The harness serves manifests and segments from a virtual HTTP origin,
collects the output streams of the demuxer under test and validates them
against a table of expected outputs. Seeks can be injected while data is in flight
in order to verify that the demuxer serializes them.
*/
package demuxcheck

import (
	"context"
	"net/http"
	"time"

	"github.com/bluenviron/demuxcheck/pkg/liveclock"
	"github.com/bluenviron/demuxcheck/pkg/media"
)

// Demuxer is the demuxer under test.
type Demuxer interface {
	// name of the element, used as source of error messages.
	Name() string
	// Start starts downloading the manifest at uri and delivering streams to out.
	Start(ctx context.Context, uri string, out media.Output) error
	// Seek performs a seek. It must fail when the format is not time.
	Seek(req media.SeekRequest) error
	// QueryDuration returns the duration. It fails on live streams.
	QueryDuration() (time.Duration, bool)
	QuerySeeking(format media.Format) (media.SeekingInfo, bool)
	QueryLatency() (media.LatencyInfo, bool)
	QueryURI() (media.URIInfo, bool)
	// Close stops all goroutines of the demuxer.
	Close()
}

// Configurable is implemented by demuxers whose parameters can be changed by name.
type Configurable interface {
	// SetParameter changes a parameter.
	// Invalid values must be rejected and leave the parameter unchanged.
	SetParameter(name string, value float64) error
	// Parameter returns the current value of a parameter.
	Parameter(name string) (float64, bool)
}

// DemuxerParams are the parameters passed to a NewDemuxerFunc.
type DemuxerParams struct {
	// client that reads from the virtual source.
	HTTPClient *http.Client
	Clock      liveclock.Clock
	Log        LogFunc
}

// NewDemuxerFunc is the prototype of Engine.NewDemuxer.
type NewDemuxerFunc func(p DemuxerParams) Demuxer
