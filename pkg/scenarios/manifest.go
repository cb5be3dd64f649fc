package scenarios

import (
	"strconv"
	"strings"
	"time"

	"github.com/bluenviron/demuxcheck/pkg/liveclock"
)

type variant struct {
	uri       string
	codecs    string
	bandwidth int
}

func multivariantPlaylist(variants ...variant) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")

	for _, v := range variants {
		b.WriteString("#EXT-X-STREAM-INF:BANDWIDTH=" + strconv.Itoa(v.bandwidth) +
			",CODECS=\"" + v.codecs + "\"\n")
		b.WriteString(v.uri + "\n")
	}

	return b.String()
}

type byteRange struct {
	length uint64
	offset uint64
}

func (r *byteRange) String() string {
	return strconv.FormatUint(r.length, 10) + "@" + strconv.FormatUint(r.offset, 10)
}

type segment struct {
	duration time.Duration
	uri      string
	// optional
	byteRange     *byteRange
	discontinuity bool
}

type mediaPlaylist struct {
	targetDuration int
	mapURI         string
	mapRange       *byteRange
	// attribute lists of EXT-X-KEY tags.
	keys []string
	// date and time of the first segment. Its presence makes the playlist live.
	dateTime time.Time
	segments []segment
}

func (p *mediaPlaylist) live() bool {
	return !p.dateTime.IsZero()
}

func (p *mediaPlaylist) String() string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")
	b.WriteString("#EXT-X-TARGETDURATION:" + strconv.Itoa(p.targetDuration) + "\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")

	if !p.live() {
		b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	}

	for _, key := range p.keys {
		b.WriteString("#EXT-X-KEY:" + key + "\n")
	}

	if p.mapURI != "" {
		b.WriteString("#EXT-X-MAP:URI=\"" + p.mapURI + "\"")
		if p.mapRange != nil {
			b.WriteString(",BYTERANGE=\"" + p.mapRange.String() + "\"")
		}
		b.WriteString("\n")
	}

	for i, seg := range p.segments {
		if i == 0 && p.live() {
			b.WriteString("#EXT-X-PROGRAM-DATE-TIME:" + liveclock.FormatDateTime(p.dateTime) + "\n")
		}

		if seg.discontinuity {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}

		b.WriteString("#EXTINF:" + strconv.FormatFloat(seg.duration.Seconds(), 'f', 3, 64) + ",\n")

		if seg.byteRange != nil {
			b.WriteString("#EXT-X-BYTERANGE:" + seg.byteRange.String() + "\n")
		}

		b.WriteString(seg.uri + "\n")
	}

	if !p.live() {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}
