package hlsdemux

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/grafov/m3u8"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/demuxcheck/pkg/liveclock"
	"github.com/bluenviron/demuxcheck/pkg/logger"
	"github.com/bluenviron/demuxcheck/pkg/media"
	"github.com/bluenviron/demuxcheck/pkg/vsource"
)

type testPad struct {
	o    *testOutput
	name string

	buffers []*media.Buffer
	events  []*media.Event
	eos     int
}

func (p *testPad) Name() string {
	return p.name
}

func (p *testPad) Push(buf *media.Buffer) error {
	p.o.mutex.Lock()
	defer p.o.mutex.Unlock()
	p.buffers = append(p.buffers, buf)
	return nil
}

func (p *testPad) PushEvent(ev *media.Event) bool {
	p.o.mutex.Lock()
	defer p.o.mutex.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *testPad) EndOfStream() {
	p.o.mutex.Lock()
	p.eos++
	p.o.mutex.Unlock()
	p.o.changed <- struct{}{}
}

func (p *testPad) data() []byte {
	p.o.mutex.Lock()
	defer p.o.mutex.Unlock()

	var buf bytes.Buffer
	for _, b := range p.buffers {
		buf.Write(b.Data)
	}
	return buf.Bytes()
}

type testOutput struct {
	mutex   sync.Mutex
	pads    []*testPad
	errors  chan *media.ErrorMessage
	changed chan struct{}
}

func newTestOutput() *testOutput {
	return &testOutput{
		errors:  make(chan *media.ErrorMessage, 10),
		changed: make(chan struct{}, 100),
	}
}

func (o *testOutput) AddStream(name string) media.Pad {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	p := &testPad{o: o, name: name}
	o.pads = append(o.pads, p)
	return p
}

func (o *testOutput) PostError(msg *media.ErrorMessage) {
	o.errors <- msg
}

func (o *testOutput) pad(name string) *testPad {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	for _, p := range o.pads {
		if p.name == name {
			return p
		}
	}
	return nil
}

// waitEOS waits until every pad has received count end of streams.
func (o *testOutput) waitEOS(t *testing.T, count int) {
	for {
		o.mutex.Lock()
		done := len(o.pads) != 0
		for _, p := range o.pads {
			if p.eos < count {
				done = false
			}
		}
		o.mutex.Unlock()

		if done {
			return
		}

		select {
		case <-o.changed:
		case err := <-o.errors:
			t.Fatalf("unexpected error: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out")
		}
	}
}

func (o *testOutput) waitError(t *testing.T) *media.ErrorMessage {
	select {
	case err := <-o.errors:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	return nil
}

func startDemuxer(t *testing.T, s *vsource.Source, uri string, d *Demuxer) *testOutput {
	if d.HTTPClient == nil {
		d.HTTPClient = s.Client()
	}
	d.Log = logger.Discard

	o := newTestOutput()

	err := d.Start(context.Background(), uri, o)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	return o
}

const byteRangeMediaPlaylist = "#EXTM3U\n" +
	"#EXT-X-VERSION:7\n" +
	"#EXT-X-TARGETDURATION:1\n" +
	"#EXT-X-MAP:URI=\"video.mp4\",BYTERANGE=\"4687@0\"\n" +
	"#EXTINF:1.000,\n" +
	"#EXT-X-BYTERANGE:5313@4687\n" +
	"video.mp4\n" +
	"#EXT-X-ENDLIST\n"

func TestDemuxerByteRanges(t *testing.T) {
	s := vsource.New(vsource.Config{
		Inputs: []vsource.Input{
			{URI: "http://unit.test/video.m3u8", Payload: []byte(byteRangeMediaPlaylist)},
			{URI: "http://unit.test/video.mp4", Size: 10000},
		},
	})

	d := &Demuxer{}
	o := startDemuxer(t, s, "http://unit.test/video.m3u8", d)
	o.waitEOS(t, 1)

	p := o.pad("main_00")
	require.NotNil(t, p)
	require.Equal(t, vsource.Pattern(0, 10000), p.data())

	require.Equal(t, media.EventStreamStart, p.events[0].Type)
	require.Equal(t, media.EventSegment, p.events[1].Type)
	require.Equal(t, media.NewSegment(0), p.events[1].Segment)

	var headerSize uint64
	discont := 0
	for _, b := range p.buffers {
		if b.Header {
			headerSize += b.Size()
		}
		if b.Discont {
			discont++
		}
	}
	require.Equal(t, uint64(4687), headerSize)
	require.Equal(t, 2, discont)

	dur, ok := d.QueryDuration()
	require.True(t, ok)
	require.Equal(t, time.Second, dur)

	info, ok := d.QuerySeeking(media.FormatTime)
	require.True(t, ok)
	require.Equal(t, media.SeekingInfo{Format: media.FormatTime, Seekable: true, Stop: time.Second}, info)

	_, ok = d.QuerySeeking(media.FormatBytes)
	require.False(t, ok)

	uri, ok := d.QueryURI()
	require.True(t, ok)
	require.Equal(t, "http://unit.test/video.m3u8", uri.URI)

	lat, ok := d.QueryLatency()
	require.True(t, ok)
	require.Equal(t, media.LatencyInfo{Max: media.None}, lat)
}

const multivariantPlaylist = "#EXTM3U\n" +
	"#EXT-X-STREAM-INF:BANDWIDTH=128000,CODECS=\"mp4a.40.2\"\n" +
	"audio.m3u8\n" +
	"#EXT-X-STREAM-INF:BANDWIDTH=1280000,CODECS=\"avc1.64001f,mp4a.40.2\"\n" +
	"video.m3u8\n"

func mediaPlaylist(uri string, keys string) string {
	return "#EXTM3U\n" +
		"#EXT-X-TARGETDURATION:1\n" +
		keys +
		"#EXTINF:1.000,\n" +
		uri + "\n" +
		"#EXT-X-ENDLIST\n"
}

func TestDemuxerVariants(t *testing.T) {
	s := vsource.New(vsource.Config{
		Inputs: []vsource.Input{
			{URI: "http://unit.test/test.m3u8", Payload: []byte(multivariantPlaylist)},
			{URI: "http://unit.test/audio.m3u8", Payload: []byte(mediaPlaylist("audio.webm", ""))},
			{URI: "http://unit.test/video.m3u8", Payload: []byte(mediaPlaylist("video.webm",
				"#EXT-X-KEY:METHOD=SAMPLE-AES,URI=\"data:text/plain;base64,AAAA\","+
					"KEYFORMAT=\"urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed\"\n"+
					"#EXT-X-KEY:METHOD=SAMPLE-AES,URI=\"skd://key\",KEYFORMAT=\"com.apple.streamingkeydelivery\"\n"))},
			{URI: "http://unit.test/audio.webm", Size: 5000},
			{URI: "http://unit.test/video.webm", Size: 9000},
		},
	})

	o := startDemuxer(t, s, "http://unit.test/test.m3u8", &Demuxer{})
	o.waitEOS(t, 1)

	audio := o.pad("audio_00")
	require.NotNil(t, audio)
	require.Equal(t, vsource.Pattern(0, 5000), audio.data())

	video := o.pad("video_00")
	require.NotNil(t, video)
	require.Equal(t, vsource.Pattern(0, 9000), video.data())

	var protection []*media.Protection
	for _, ev := range video.events {
		if ev.Type == media.EventProtection {
			protection = append(protection, ev.Protection)
		}
	}
	require.Equal(t, []*media.Protection{{
		SystemID: "edef8ba9-79d6-4ace-a3c8-27dcd51d21ed",
		Data:     []byte{0, 0, 0},
		Origin:   "http://unit.test/video.m3u8",
	}}, protection)

	for _, ev := range audio.events {
		require.NotEqual(t, media.EventProtection, ev.Type)
	}
}

func TestDemuxerNotFound(t *testing.T) {
	s := vsource.New(vsource.Config{
		Inputs: []vsource.Input{
			{URI: "http://unit.test/video.m3u8", Payload: []byte(mediaPlaylist("missing.webm", ""))},
		},
	})

	o := startDemuxer(t, s, "http://unit.test/video.m3u8", &Demuxer{})

	msg := o.waitError(t)
	require.Equal(t, ElementName, msg.Source)
	require.True(t, isNotFound(msg.Err))

	// no retries
	require.Empty(t, o.pad("main_00").data())
}

func TestDemuxerRetries(t *testing.T) {
	s := vsource.New(vsource.Config{
		Inputs: []vsource.Input{
			{URI: "http://unit.test/a.m3u8", Payload: []byte("#EXTM3U\n" +
				"#EXT-X-TARGETDURATION:1\n" +
				"#EXTINF:1.000,\n" +
				"#EXT-X-BYTERANGE:20@11\n" +
				"a.webm\n" +
				"#EXTINF:1.000,\n" +
				"#EXT-X-BYTERANGE:40@61\n" +
				"a.webm\n" +
				"#EXTINF:1.000,\n" +
				"#EXT-X-BYTERANGE:60@151\n" +
				"a.webm\n" +
				"#EXT-X-ENDLIST\n")},
			{URI: "http://unit.test/a.webm", Size: 1000},
		},
		Fault: &vsource.FaultConfig{Threshold: 31},
	})

	o := startDemuxer(t, s, "http://unit.test/a.m3u8", &Demuxer{MaxDownloadRetries: 2})

	msg := o.waitError(t)
	require.Equal(t, ElementName, msg.Source)
	require.ErrorIs(t, msg.Err, vsource.ErrInjectedFault)

	p := o.pad("main_00")
	require.Equal(t, vsource.Pattern(11, 20), p.data())
}

func TestDemuxerLastFragmentFailure(t *testing.T) {
	s := vsource.New(vsource.Config{
		Inputs: []vsource.Input{
			{URI: "http://unit.test/video.m3u8", Payload: []byte(byteRangeMediaPlaylist)},
			{URI: "http://unit.test/video.mp4", Size: 10000},
		},
		Fault: &vsource.FaultConfig{Threshold: 4687},
	})

	o := startDemuxer(t, s, "http://unit.test/video.m3u8", &Demuxer{})
	o.waitEOS(t, 1)

	require.Equal(t, vsource.Pattern(0, 4687), o.pad("main_00").data())
}

const fourSegmentsPlaylist = "#EXTM3U\n" +
	"#EXT-X-TARGETDURATION:1\n" +
	"#EXT-X-MAP:URI=\"init.mp4\"\n" +
	"#EXTINF:1.000,\n" +
	"seg0.mp4\n" +
	"#EXTINF:1.000,\n" +
	"seg1.mp4\n" +
	"#EXTINF:1.000,\n" +
	"seg2.mp4\n" +
	"#EXTINF:1.000,\n" +
	"seg3.mp4\n" +
	"#EXT-X-ENDLIST\n"

func fourSegmentsSource() *vsource.Source {
	inputs := []vsource.Input{
		{URI: "http://unit.test/video.m3u8", Payload: []byte(fourSegmentsPlaylist)},
		{URI: "http://unit.test/init.mp4", Size: 100},
	}
	for _, name := range []string{"seg0", "seg1", "seg2", "seg3"} {
		inputs = append(inputs, vsource.Input{URI: "http://unit.test/" + name + ".mp4", Size: 1000})
	}
	return vsource.New(vsource.Config{Inputs: inputs})
}

func TestDemuxerSeek(t *testing.T) {
	for _, ca := range []struct {
		name  string
		flags media.SeekFlags
		start time.Duration
	}{
		{
			"key unit",
			media.SeekFlagFlush | media.SeekFlagKeyUnit,
			time.Second,
		},
		{
			"accurate",
			media.SeekFlagFlush,
			1500 * time.Millisecond,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			d := &Demuxer{}
			o := startDemuxer(t, fourSegmentsSource(), "http://unit.test/video.m3u8", d)
			o.waitEOS(t, 1)

			p := o.pad("main_00")
			require.Len(t, p.data(), 4100)

			req := media.NewSeek(1, media.FormatTime, ca.flags,
				media.SeekTypeSet, 1500*time.Millisecond, media.SeekTypeNone, 0)
			req.Seqnum = 7

			err := d.Seek(*req)
			require.NoError(t, err)
			o.waitEOS(t, 2)

			// header, then segments 1 to 3
			require.Len(t, p.data(), 4100+100+3000)

			o.mutex.Lock()
			defer o.mutex.Unlock()

			var types []media.EventType
			var segment *media.Event
			for _, ev := range p.events {
				types = append(types, ev.Type)
				if ev.Type == media.EventSegment {
					segment = ev
				}
			}
			require.Equal(t, []media.EventType{
				media.EventStreamStart,
				media.EventSegment,
				media.EventFlushStart,
				media.EventFlushStop,
				media.EventSegment,
			}, types)
			require.Equal(t, uint32(7), segment.Seqnum)
			require.Equal(t, &media.Segment{
				Rate:     1,
				Start:    ca.start,
				Stop:     media.None,
				Time:     ca.start,
				Position: ca.start,
			}, segment.Segment)
		})
	}
}

func TestDemuxerSeekUnsupportedFormat(t *testing.T) {
	d := &Demuxer{}
	o := startDemuxer(t, fourSegmentsSource(), "http://unit.test/video.m3u8", d)
	o.waitEOS(t, 1)

	req := media.NewSeek(1, media.FormatBytes, media.SeekFlagFlush,
		media.SeekTypeSet, 0, media.SeekTypeNone, 0)
	err := d.Seek(*req)
	require.ErrorIs(t, err, ErrUnsupportedSeekFormat)
}

func TestDemuxerLive(t *testing.T) {
	clock := liveclock.NewVirtual(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	epoch := clock.Now().Add(-6 * time.Second)

	pl := "#EXTM3U\n" +
		"#EXT-X-TARGETDURATION:3\n" +
		"#EXT-X-PROGRAM-DATE-TIME:" + liveclock.FormatDateTime(epoch) + "\n"
	inputs := []vsource.Input{}
	for i := range 4 {
		uri := fmt.Sprintf("seg%d.webm", i)
		pl += "#EXTINF:3.000,\n" + uri + "\n"
		inputs = append(inputs, vsource.Input{URI: "http://unit.test/" + uri, Size: uint64(1000 * (i + 1))})
	}
	inputs = append(inputs, vsource.Input{URI: "http://unit.test/live.m3u8", Payload: []byte(pl)})

	s := vsource.New(vsource.Config{Inputs: inputs})

	d := &Demuxer{
		Clock:                clock,
		TimeShiftBufferDepth: 5 * time.Second,
	}
	o := startDemuxer(t, s, "http://unit.test/live.m3u8", d)

	// segments 2 and 3
	require.Eventually(t, func() bool {
		p := o.pad("main_00")
		return p != nil && len(p.data()) == 7000
	}, 5*time.Second, 10*time.Millisecond)

	_, ok := d.QueryDuration()
	require.False(t, ok)

	info, ok := d.QuerySeeking(media.FormatTime)
	require.True(t, ok)
	require.True(t, info.Seekable)
	require.GreaterOrEqual(t, info.Stop, 12*time.Second)
	require.Equal(t, info.Stop-5*time.Second, info.Start)

	p := o.pad("main_00")
	o.mutex.Lock()
	defer o.mutex.Unlock()
	require.Equal(t, "http://unit.test/seg2.webm", p.buffers[0].URI)
	require.Equal(t, 6*time.Second, p.buffers[0].PTS)
	require.Equal(t, media.NewSegment(6*time.Second), p.events[1].Segment)
}

func TestParseAttributes(t *testing.T) {
	require.Equal(t, map[string]string{
		"METHOD":    "SAMPLE-AES",
		"URI":       "data:text/plain;base64,AAAA",
		"KEYFORMAT": " URN:UUID:9A04F079-9840-4286-AB92-E65BE0885F95 ",
		"IV":        "0x1",
	}, parseAttributes("METHOD=SAMPLE-AES,URI=\"data:text/plain;base64,AAAA\","+
		"KEYFORMAT=\" URN:UUID:9A04F079-9840-4286-AB92-E65BE0885F95 \",iv=0x1"))
}

func TestProtectionOf(t *testing.T) {
	keys := []map[string]string{
		{"KEYFORMAT": "urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed", "URI": "data:text/plain,abc"},
		{"KEYFORMAT": " URN:UUID:9A04F079-9840-4286-AB92-E65BE0885F95 ", "URI": "skd://x"},
		{"KEYFORMAT": "com.apple.streamingkeydelivery", "URI": "skd://y"},
		{"KEYFORMAT": "urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed", "URI": "data:text/plain,def"},
	}

	require.Equal(t, []*media.Protection{
		{
			SystemID: "edef8ba9-79d6-4ace-a3c8-27dcd51d21ed",
			Data:     []byte("abc"),
			Origin:   "http://unit.test/video.m3u8",
		},
		{
			SystemID: "9a04f079-9840-4286-ab92-e65be0885f95",
			Data:     []byte("skd://x"),
			Origin:   "http://unit.test/video.m3u8",
		},
	}, protectionOf(keys, "http://unit.test/video.m3u8"))
}

func TestKindOf(t *testing.T) {
	require.Equal(t, "audio", kindOf("mp4a.40.2"))
	require.Equal(t, "audio", kindOf("opus, ec-3"))
	require.Equal(t, "video", kindOf("avc1.64001f,mp4a.40.2"))
	require.Equal(t, "video", kindOf(""))
}

func TestDemuxerPeriods(t *testing.T) {
	twoPeriods := func(first string, second string) string {
		return "#EXTM3U\n" +
			"#EXT-X-TARGETDURATION:1\n" +
			"#EXTINF:1.000,\n" +
			first + "\n" +
			"#EXT-X-DISCONTINUITY\n" +
			"#EXTINF:1.000,\n" +
			second + "\n" +
			"#EXT-X-ENDLIST\n"
	}

	s := vsource.New(vsource.Config{
		Inputs: []vsource.Input{
			{URI: "http://unit.test/test.m3u8", Payload: []byte(multivariantPlaylist)},
			{URI: "http://unit.test/audio.m3u8", Payload: []byte(twoPeriods("audio1.webm", "audio2.webm"))},
			{URI: "http://unit.test/video.m3u8", Payload: []byte(twoPeriods("video1.webm", "video2.webm"))},
			{URI: "http://unit.test/audio1.webm", Size: 5000},
			{URI: "http://unit.test/audio2.webm", Size: 6000},
			{URI: "http://unit.test/video1.webm", Size: 9000},
			{URI: "http://unit.test/video2.webm", Size: 10000},
		},
	})

	o := startDemuxer(t, s, "http://unit.test/test.m3u8", &Demuxer{})
	o.waitEOS(t, 1)

	for _, ca := range []struct {
		name string
		size uint64
	}{
		{"audio_00", 5000},
		{"video_00", 9000},
		{"audio_01", 6000},
		{"video_01", 10000},
	} {
		p := o.pad(ca.name)
		require.NotNil(t, p, ca.name)
		require.Equal(t, vsource.Pattern(0, int(ca.size)), p.data(), ca.name)
	}

	p := o.pad("audio_01")

	o.mutex.Lock()
	defer o.mutex.Unlock()

	require.Len(t, o.pads, 4)

	// the second period starts where the first one ends
	require.Equal(t, media.EventStreamStart, p.events[0].Type)
	require.Equal(t, media.EventSegment, p.events[1].Type)
	require.Equal(t, time.Second, p.events[1].Segment.Start)
	require.Equal(t, 1, p.eos)
}

func TestFragmentsPeriods(t *testing.T) {
	base, err := url.Parse("http://unit.test/live.m3u8")
	require.NoError(t, err)

	mpl, err := m3u8.NewMediaPlaylist(4, 4)
	require.NoError(t, err)
	require.NoError(t, mpl.Append("seg0.ts", 1, ""))
	require.NoError(t, mpl.Append("seg1.ts", 1, ""))
	require.NoError(t, mpl.SetDiscontinuity())
	require.NoError(t, mpl.Append("seg2.ts", 1, ""))
	require.NoError(t, mpl.SetDiscontinuity())

	fragments, err := fragmentsOf(base, mpl, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, fragments, 3)
	require.Equal(t, 0, fragments[0].period)
	require.Equal(t, 1, fragments[1].period)
	require.Equal(t, 2, fragments[2].period)

	// after a reload, counting continues from the last known fragment
	fragments, err = fragmentsOf(base, mpl, 2, 2*time.Second, 1)
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	require.Equal(t, 2, fragments[0].period)
	require.Equal(t, 2*time.Second, fragments[0].start)
}
