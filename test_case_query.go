package demuxcheck

import (
	"time"

	"github.com/bluenviron/demuxcheck/pkg/media"
)

// QueryExtension contains the expected answers to queries.
type QueryExtension struct {
	Duration time.Duration
	URI      string
}

// Kind implements Extension.
func (*QueryExtension) Kind() string {
	return "query"
}

// QueryCallbacks returns callbacks of runs that check queries while data flows.
func (tc *TestCase) QueryCallbacks() Callbacks {
	return Callbacks{
		OnDataReceived: tc.CheckQueries,
		OnEndOfStream:  tc.CheckSizeOfReceivedData,
	}
}

// CheckQueries is a DataCallback that checks the duration, seeking, latency and URI answers
// of an on-demand stream, then calls CheckReceivedData.
func (tc *TestCase) CheckQueries(e *Engine, s *OutputStream, buf *media.Buffer) bool {
	ext := tc.query()
	if ext == nil {
		e.Fail("test case has no query extension")
		return false
	}

	d, ok := e.QueryDuration()
	if !ok {
		e.Fail("duration query failed")
		return false
	}
	if d != ext.Duration {
		e.Fail("duration is %v, expected %v", d, ext.Duration)
		return false
	}

	info, ok := e.QuerySeeking(media.FormatTime)
	if !ok {
		e.Fail("seeking query failed")
		return false
	}
	if !info.Seekable || info.Format != media.FormatTime || info.Start != 0 || info.Stop != ext.Duration {
		e.Fail("seeking range is %+v, expected [0, %v]", info, ext.Duration)
		return false
	}

	if !tc.checkStaticQueries(e) {
		return false
	}

	if ext.URI != "" {
		if uri, _ := e.QueryURI(); uri.URI != ext.URI {
			e.Fail("URI is %q, expected %q", uri.URI, ext.URI)
			return false
		}
	}

	return tc.CheckReceivedData(e, s, buf)
}

// checkStaticQueries checks the answers that do not depend on the position.
func (tc *TestCase) checkStaticQueries(e *Engine) bool {
	lat, ok := e.QueryLatency()
	if !ok {
		e.Fail("latency query failed")
		return false
	}
	if lat != (media.LatencyInfo{Live: false, Min: 0, Max: media.None}) {
		e.Fail("unexpected latency %+v", lat)
		return false
	}

	uri, ok := e.QueryURI()
	if !ok {
		e.Fail("URI query failed")
		return false
	}
	if uri.URI != e.ManifestURI {
		e.Fail("URI is %q, expected %q", uri.URI, e.ManifestURI)
		return false
	}
	if uri.Redirect != "" {
		e.Fail("unexpected redirect to %q", uri.Redirect)
		return false
	}

	return true
}
