package hlsdemux

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grafov/m3u8"

	"github.com/bluenviron/demuxcheck/pkg/media"
)

const keyTagName = "#EXT-X-KEY:"

type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("bad status code from %s: %d", e.url, e.code)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

func absoluteURL(base *url.URL, relative string) (*url.URL, error) {
	u, err := url.Parse(relative)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(u), nil
}

// parseAttributes parses an attribute list like KEY=VALUE,KEY="VALUE".
func parseAttributes(s string) map[string]string {
	ret := make(map[string]string)

	for s != "" {
		key, rest, ok := strings.Cut(s, "=")
		if !ok {
			break
		}

		var val string
		if strings.HasPrefix(rest, "\"") {
			rest = rest[1:]
			i := strings.IndexByte(rest, '"')
			if i < 0 {
				val, rest = rest, ""
			} else {
				val, rest = rest[:i], rest[i+1:]
			}
			rest = strings.TrimPrefix(rest, ",")
		} else {
			val, rest, _ = strings.Cut(rest, ",")
		}

		ret[strings.ToUpper(strings.TrimSpace(key))] = val
		s = rest
	}

	return ret
}

type keyTag struct {
	line string
}

func (t *keyTag) TagName() string {
	return keyTagName
}

func (t *keyTag) Encode() *bytes.Buffer {
	return bytes.NewBufferString(t.line)
}

func (t *keyTag) String() string {
	return t.line
}

// keyDecoder collects every EXT-X-KEY tag of a playlist.
// The playlist decoder keeps only the last key that precedes a segment.
type keyDecoder struct {
	keys []map[string]string
}

func (d *keyDecoder) TagName() string {
	return keyTagName
}

func (d *keyDecoder) Decode(line string) (m3u8.CustomTag, error) {
	d.keys = append(d.keys, parseAttributes(strings.TrimPrefix(line, keyTagName)))
	return &keyTag{line: line}, nil
}

func (d *keyDecoder) SegmentTag() bool {
	return false
}

func keyData(uri string) []byte {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return []byte(uri)
	}

	params, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil
	}

	if strings.HasSuffix(params, ";base64") {
		byts, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil
		}
		return byts
	}

	return []byte(payload)
}

// protectionOf returns a protection entry for each distinct system
// declared with a KEYFORMAT in the urn:uuid namespace.
func protectionOf(keys []map[string]string, origin string) []*media.Protection {
	var ret []*media.Protection
	seen := make(map[string]struct{})

	for _, key := range keys {
		format := strings.ToLower(strings.TrimSpace(key["KEYFORMAT"]))

		systemID, ok := strings.CutPrefix(format, "urn:uuid:")
		if !ok || systemID == "" {
			continue
		}

		if _, ok := seen[systemID]; ok {
			continue
		}
		seen[systemID] = struct{}{}

		ret = append(ret, &media.Protection{
			SystemID: systemID,
			Data:     keyData(key["URI"]),
			Origin:   origin,
		})
	}

	return ret
}

func downloadPlaylist(
	ctx context.Context,
	httpClient *http.Client,
	ur *url.URL,
) (m3u8.Playlist, []map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ur.String(), nil)
	if err != nil {
		return nil, nil, err
	}

	res, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, nil, &statusError{url: ur.String(), code: res.StatusCode}
	}

	kd := &keyDecoder{}

	pl, _, err := m3u8.DecodeWith(res.Body, false, []m3u8.CustomDecoder{kd})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to decode %s: %w", ur, err)
	}

	return pl, kd.keys, nil
}

func downloadMediaPlaylist(
	ctx context.Context,
	httpClient *http.Client,
	ur *url.URL,
) (*m3u8.MediaPlaylist, []map[string]string, error) {
	pl, keys, err := downloadPlaylist(ctx, httpClient, ur)
	if err != nil {
		return nil, nil, err
	}

	plt, ok := pl.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, nil, fmt.Errorf("%s is not a media playlist", ur)
	}

	return plt, keys, nil
}

func durationOf(secs float64) time.Duration {
	return time.Duration(math.Round(secs * float64(time.Second)))
}

// fragment is a byte range of a resource.
type fragment struct {
	uri    string
	offset uint64
	// zero means the entire resource.
	length   uint64
	header   bool
	seqNo    uint64
	start    time.Duration
	duration time.Duration
	// number of discontinuities that precede the fragment.
	period int
}

func (f *fragment) end() time.Duration {
	return f.start + f.duration
}

func segmentsOf(pl *m3u8.MediaPlaylist) []*m3u8.MediaSegment {
	var ret []*m3u8.MediaSegment
	for _, seg := range pl.Segments {
		if seg != nil {
			ret = append(ret, seg)
		}
	}
	return ret
}

func headerOf(base *url.URL, pl *m3u8.MediaPlaylist) (*fragment, error) {
	m := pl.Map
	if m == nil {
		if segs := segmentsOf(pl); len(segs) != 0 {
			m = segs[0].Map
		}
	}
	if m == nil || m.URI == "" {
		return nil, nil
	}

	u, err := absoluteURL(base, m.URI)
	if err != nil {
		return nil, err
	}

	return &fragment{
		uri:    u.String(),
		offset: uint64(m.Offset),
		length: uint64(m.Limit),
		header: true,
	}, nil
}

// fragmentsOf returns the fragments of the segments of pl whose sequence number
// is at least firstSeqNo. The first returned fragment starts at start.
// period is the period of the fragment that precedes firstSeqNo.
// Every EXT-X-DISCONTINUITY starts a new period.
func fragmentsOf(
	base *url.URL,
	pl *m3u8.MediaPlaylist,
	firstSeqNo uint64,
	start time.Duration,
	period int,
) ([]*fragment, error) {
	var ret []*fragment

	for i, seg := range segmentsOf(pl) {
		seqNo := pl.SeqNo + uint64(i)
		if seqNo < firstSeqNo {
			continue
		}

		u, err := absoluteURL(base, seg.URI)
		if err != nil {
			return nil, err
		}

		// a discontinuity before the first segment of the presentation does not start a period
		if seg.Discontinuity && (len(ret) != 0 || firstSeqNo != 0) {
			period++
		}

		f := &fragment{
			uri:      u.String(),
			offset:   uint64(seg.Offset),
			length:   uint64(seg.Limit),
			seqNo:    seqNo,
			start:    start,
			duration: durationOf(seg.Duration),
			period:   period,
		}
		ret = append(ret, f)

		start = f.end()
	}

	return ret, nil
}

// epochOf returns the date and time of the first segment.
func epochOf(pl *m3u8.MediaPlaylist) (time.Time, bool) {
	segs := segmentsOf(pl)
	if len(segs) == 0 || segs[0].ProgramDateTime.IsZero() {
		return time.Time{}, false
	}
	return segs[0].ProgramDateTime, true
}

// kindOf returns "audio" when all codecs are audio codecs, otherwise "video".
func kindOf(codecs string) string {
	if codecs == "" {
		return "video"
	}

	for _, codec := range strings.Split(codecs, ",") {
		codec = strings.TrimSpace(codec)
		if !strings.HasPrefix(codec, "mp4a.") &&
			!strings.HasPrefix(codec, "ac-3") &&
			!strings.HasPrefix(codec, "ec-3") &&
			codec != "opus" &&
			codec != "vorbis" {
			return "video"
		}
	}

	return "audio"
}
