package hlsdemux

import (
	"context"
	"testing"

	"github.com/grafov/m3u8"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/demuxcheck/pkg/vsource"
)

func TestSetParameter(t *testing.T) {
	for _, ca := range []struct {
		name    string
		valid   float64
		invalid float64
	}{
		{ParamConnectionSpeed, 1000, 4294967 + 1},
		{ParamBitrateLimit, 1, 2.1},
		{ParamMaxBitrate, 1000, 10},
	} {
		t.Run(ca.name, func(t *testing.T) {
			d := &Demuxer{}

			err := d.SetParameter(ca.name, ca.valid)
			require.NoError(t, err)

			v, ok := d.Parameter(ca.name)
			require.True(t, ok)
			require.Equal(t, ca.valid, v)

			err = d.SetParameter(ca.name, ca.invalid)
			require.ErrorIs(t, err, ErrInvalidParameter)

			v, ok = d.Parameter(ca.name)
			require.True(t, ok)
			require.Equal(t, ca.valid, v)
		})
	}
}

func TestSetParameterUnknown(t *testing.T) {
	d := &Demuxer{}

	err := d.SetParameter("max-buffering-time", 15)
	require.EqualError(t, err, "unknown parameter 'max-buffering-time'")

	_, ok := d.Parameter("max-buffering-time")
	require.False(t, ok)
}

func TestBandwidthLimit(t *testing.T) {
	for _, ca := range []struct {
		name  string
		d     *Demuxer
		limit uint64
	}{
		{
			"unlimited",
			&Demuxer{BitrateLimit: defaultBitrateLimit},
			0,
		},
		{
			"connection speed",
			&Demuxer{ConnectionSpeed: 1000, BitrateLimit: 0.5},
			500000,
		},
		{
			"max bitrate",
			&Demuxer{ConnectionSpeed: 1000, BitrateLimit: 1, MaxBitrate: 300000},
			300000,
		},
		{
			"max bitrate only",
			&Demuxer{BitrateLimit: 1, MaxBitrate: 300000},
			300000,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.limit, ca.d.bandwidthLimit())
		})
	}
}

func TestSelectVariants(t *testing.T) {
	audio := &m3u8.Variant{URI: "audio.m3u8", VariantParams: m3u8.VariantParams{Bandwidth: 128000, Codecs: "mp4a.40.2"}}
	videoHi := &m3u8.Variant{URI: "hi.m3u8", VariantParams: m3u8.VariantParams{Bandwidth: 1500000, Codecs: "avc1.64001f"}}
	videoLo := &m3u8.Variant{URI: "lo.m3u8", VariantParams: m3u8.VariantParams{Bandwidth: 500000, Codecs: "avc1.64001f"}}
	variants := []*m3u8.Variant{videoHi, videoLo, audio}

	require.Equal(t, variants, selectVariants(variants, 0))
	require.Equal(t, []*m3u8.Variant{videoLo, audio}, selectVariants(variants, 800000))

	// the lowest variant of each kind is kept
	require.Equal(t, []*m3u8.Variant{videoLo, audio}, selectVariants(variants, 1000))
}

func TestDemuxerInvalidParameters(t *testing.T) {
	d := &Demuxer{BitrateLimit: 3}
	err := d.Start(context.Background(), "http://unit.test/test.m3u8", newTestOutput())
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestDemuxerVariantSelection(t *testing.T) {
	s := vsource.New(vsource.Config{
		Inputs: []vsource.Input{
			{URI: "http://unit.test/test.m3u8", Payload: []byte("#EXTM3U\n" +
				"#EXT-X-STREAM-INF:BANDWIDTH=1500000,CODECS=\"avc1.64001f\"\n" +
				"hi.m3u8\n" +
				"#EXT-X-STREAM-INF:BANDWIDTH=500000,CODECS=\"avc1.64001f\"\n" +
				"lo.m3u8\n")},
			{URI: "http://unit.test/hi.m3u8", Payload: []byte(mediaPlaylist("hi.webm", ""))},
			{URI: "http://unit.test/lo.m3u8", Payload: []byte(mediaPlaylist("lo.webm", ""))},
			{URI: "http://unit.test/hi.webm", Size: 9000},
			{URI: "http://unit.test/lo.webm", Size: 7000},
		},
	})

	d := &Demuxer{}
	require.NoError(t, d.SetParameter(ParamConnectionSpeed, 1000))

	o := startDemuxer(t, s, "http://unit.test/test.m3u8", d)
	o.waitEOS(t, 1)

	require.Nil(t, o.pad("video_01"))
	require.Equal(t, vsource.Pattern(0, 7000), o.pad("video_00").data())
}
