package scenarios

import (
	"fmt"
	"time"

	"github.com/bluenviron/demuxcheck"
	"github.com/bluenviron/demuxcheck/pkg/hlsdemux"
	"github.com/bluenviron/demuxcheck/pkg/media"
	"github.com/bluenviron/demuxcheck/pkg/vsource"
)

const (
	audioCodecs = "mp4a.40.2"
	videoCodecs = "avc1.64001f,mp4a.40.2"
)

func manifestInput(uri string, content string) vsource.Input {
	return vsource.Input{URI: uri, Payload: []byte(content)}
}

// singleSegment returns the media playlist of a single segment that spans an entire file.
func singleSegment(uri string) *mediaPlaylist {
	return &mediaPlaylist{
		targetDuration: 1,
		segments: []segment{{
			duration: time.Second,
			uri:      uri,
		}},
	}
}

// audioVideo returns the inputs of a multivariant playlist with an audio and a video variant,
// each made of a single file.
func audioVideo(base string, audioSize uint64, videoSize uint64) []vsource.Input {
	return []vsource.Input{
		manifestInput(base+"test.m3u8", multivariantPlaylist(
			variant{uri: "audio.m3u8", codecs: audioCodecs, bandwidth: 128000},
			variant{uri: "video.m3u8", codecs: videoCodecs, bandwidth: 1280000},
		)),
		manifestInput(base+"audio.m3u8", singleSegment("audio.webm").String()),
		manifestInput(base+"video.m3u8", singleSegment("video.webm").String()),
		{URI: base + "audio.webm", Size: audioSize},
		{URI: base + "video.webm", Size: videoSize},
	}
}

func simple() *Scenario {
	return &Scenario{
		Name:        "simple",
		Description: "downloads an audio and a video variant until their end",
		build: func(base string) (*setup, error) {
			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{Name: "audio_00", ExpectedSize: 5000},
				&demuxcheck.ExpectedOutput{Name: "video_00", ExpectedSize: 9000},
			)

			return &setup{
				inputs:    audioVideo(base, 5000, 9000),
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.DefaultCallbacks(),
			}, nil
		},
	}
}

// byteRangeFile returns the inputs of a media playlist with an initialization section
// and a segment that are byte ranges of the same 10000-byte file.
func byteRangeFile(base string) []vsource.Input {
	pl := &mediaPlaylist{
		targetDuration: 1,
		mapURI:         "video.mp4",
		mapRange:       &byteRange{length: 4687, offset: 0},
		segments: []segment{{
			duration:  time.Second,
			uri:       "video.mp4",
			byteRange: &byteRange{length: 5313, offset: 4687},
		}},
	}

	return []vsource.Input{
		manifestInput(base+"test.m3u8", pl.String()),
		{URI: base + "video.mp4", Size: 10000},
	}
}

func flushingSeek(flags media.SeekFlags, start time.Duration) *media.SeekRequest {
	return media.NewSeek(1, media.FormatTime, media.SeekFlagFlush|flags,
		media.SeekTypeSet, start, media.SeekTypeNone, 0)
}

func seek() *Scenario {
	return &Scenario{
		Name:        "seek",
		Description: "seeks to the start while the segment is being downloaded",
		build: func(base string) (*setup, error) {
			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{Name: "main_00", ExpectedSize: 10000},
			)
			tc.ThresholdForSeek = 4688
			tc.SeekEvent = flushingSeek(media.SeekFlagKeyUnit, 5*time.Millisecond)

			return &setup{
				inputs:    byteRangeFile(base),
				blockSize: 4096,
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.SeekCallbacks(),
			}, nil
		},
	}
}

func seekPosition(name string, keyUnit bool) *Scenario {
	description := "seeks into the second segment and checks the segment that follows the seek"
	if keyUnit {
		description += ", snapping to the segment start"
	}

	return &Scenario{
		Name:        name,
		Description: description,
		build: func(base string) (*setup, error) {
			pl := &mediaPlaylist{
				targetDuration: 1,
				mapURI:         "init.mp4",
			}
			inputs := []vsource.Input{
				{URI: base + "init.mp4", Size: 10000},
			}

			for i := range 4 {
				uri := fmt.Sprintf("seg%d.mp4", i)
				pl.segments = append(pl.segments, segment{duration: time.Second, uri: uri})
				inputs = append(inputs, vsource.Input{URI: base + uri, Size: 10000})
			}

			inputs = append(inputs, manifestInput(base+"test.m3u8", pl.String()))

			flags := media.SeekFlags(0)
			start := 1500 * time.Millisecond
			if keyUnit {
				flags = media.SeekFlagKeyUnit
				start = time.Second
			}

			// the initialization section and the last three segments are downloaded again.
			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{
					Name:         "main_00",
					ExpectedSize: 40000,
					PostSeekSegment: media.Segment{
						Rate:  1,
						Start: start,
						Stop:  media.None,
					},
					SegmentVerificationNeeded: true,
				},
			)
			tc.ThresholdForSeek = 10000
			tc.SeekEvent = flushingSeek(flags, 1500*time.Millisecond)

			return &setup{
				inputs:    inputs,
				blockSize: 4096,
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.SeekCallbacks(),
			}, nil
		},
	}
}

func parallelSeek() *Scenario {
	return &Scenario{
		Name:        "parallel-seek",
		Description: "performs a second seek while the first one is flushing and checks that they are serialized",
		build: func(base string) (*setup, error) {
			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{Name: "audio_00", ExpectedSize: 10000},
				&demuxcheck.ExpectedOutput{Name: "video_00", ExpectedSize: 10000},
			)
			tc.ThresholdForSeek = 4096
			tc.SeekEvent = flushingSeek(media.SeekFlagKeyUnit, 5*time.Millisecond)

			// byte seeks are not supported
			tc.SecondSeekEvent = media.NewSeek(1, media.FormatBytes, media.SeekFlagFlush,
				media.SeekTypeSet, 0, media.SeekTypeNone, 0)

			return &setup{
				inputs:    audioVideo(base, 10000, 10000),
				blockSize: 4096,
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.ParallelSeekCallbacks(),
			}, nil
		},
	}
}

func downloadError() *Scenario {
	return &Scenario{
		Name:        "download-error",
		Description: "posts an error when a segment does not exist",
		build: func(base string) (*setup, error) {
			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{Name: "main_00", ExpectedSize: 0},
			)
			tc.ExpectedErrorSource = hlsdemux.ElementName

			return &setup{
				inputs: []vsource.Input{
					manifestInput(base+"test.m3u8", singleSegment("missing.webm").String()),
				},
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.ErrorCallbacks(),
			}, nil
		},
	}
}

func headerDownloadError() *Scenario {
	return &Scenario{
		Name:        "header-download-error",
		Description: "retries the download of an initialization section that always fails, then posts an error",
		build: func(base string) (*setup, error) {
			pl := singleSegment("seg0.mp4")
			pl.mapURI = "init.mp4"

			// 4 attempts of 2000 bytes each
			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{Name: "main_00", ExpectedSize: 8000},
			)
			tc.ExpectedErrorSource = hlsdemux.ElementName

			return &setup{
				inputs: []vsource.Input{
					manifestInput(base+"test.m3u8", pl.String()),
					{URI: base + "init.mp4", Size: 5000},
					{URI: base + "seg0.mp4", Size: 5000},
				},
				blockSize: 2000,
				fault:     &vsource.FaultConfig{Threshold: 2000},
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.ErrorCallbacks(),
			}, nil
		},
	}
}

func lastFragmentDownloadError() *Scenario {
	return &Scenario{
		Name:        "last-fragment-download-error",
		Description: "ends the stream when the download of the last segment fails",
		build: func(base string) (*setup, error) {
			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{Name: "main_00", ExpectedSize: 4687},
			)

			return &setup{
				inputs:    byteRangeFile(base),
				fault:     &vsource.FaultConfig{Threshold: 4687},
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.DefaultCallbacks(),
			}, nil
		},
	}
}

func middleFragmentDownloadError() *Scenario {
	return &Scenario{
		Name:        "middle-fragment-download-error",
		Description: "posts an error when the download of a segment that is not the last one fails",
		build: func(base string) (*setup, error) {
			pl := &mediaPlaylist{targetDuration: 1}
			for _, r := range []*byteRange{
				{length: 20, offset: 11},
				{length: 40, offset: 61},
				{length: 60, offset: 151},
			} {
				pl.segments = append(pl.segments, segment{
					duration:  time.Second,
					uri:       "video.mp4",
					byteRange: r,
				})
			}

			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{Name: "main_00", ExpectedSize: 20},
			)
			tc.ExpectedErrorSource = hlsdemux.ElementName

			return &setup{
				inputs: []vsource.Input{
					manifestInput(base+"test.m3u8", pl.String()),
					{URI: base + "video.mp4", Size: 1000},
				},
				fault:     &vsource.FaultConfig{Threshold: 31},
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.ErrorCallbacks(),
			}, nil
		},
	}
}

func query() *Scenario {
	return &Scenario{
		Name:        "query",
		Description: "checks the answers to queries while data flows",
		build: func(base string) (*setup, error) {
			pl := &mediaPlaylist{targetDuration: 10}
			var inputs []vsource.Input

			// 13 segments of 10s and one of 5.743s
			for i := range 14 {
				d := 10 * time.Second
				if i == 13 {
					d = 5743 * time.Millisecond
				}

				uri := fmt.Sprintf("seg%d.ts", i)
				pl.segments = append(pl.segments, segment{duration: d, uri: uri})
				inputs = append(inputs, vsource.Input{URI: base + uri, Size: 1000})
			}

			inputs = append(inputs, manifestInput(base+"test.m3u8", pl.String()))

			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{Name: "main_00", ExpectedSize: 14000},
			)
			tc.Extension = &demuxcheck.QueryExtension{
				Duration: 135743 * time.Millisecond,
				URI:      base + "test.m3u8",
			}

			return &setup{
				inputs:    inputs,
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.QueryCallbacks(),
			}, nil
		},
	}
}

func contentProtection() *Scenario {
	return &Scenario{
		Name:        "content-protection",
		Description: "emits one protection event per protection system declared by a variant",
		build: func(base string) (*setup, error) {
			inputs := audioVideo(base, 5000, 9000)

			video := singleSegment("video.webm")
			video.keys = []string{
				"METHOD=SAMPLE-AES,URI=\"data:text/plain;base64,AAAAMnBzc2gAAAAA\"," +
					"KEYFORMAT=\"urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed\",KEYFORMATVERSIONS=\"1\"",
				"METHOD=SAMPLE-AES,URI=\"data:text/plain;charset=UTF-16;base64,AAAA\"," +
					"KEYFORMAT=\" URN:UUID:9A04F079-9840-4286-AB92-E65BE0885F95 \",KEYFORMATVERSIONS=\"1\"",
				"METHOD=SAMPLE-AES,URI=\"skd://key\",KEYFORMAT=\"com.apple.streamingkeydelivery\"," +
					"KEYFORMATVERSIONS=\"1\"",
			}
			inputs[2] = manifestInput(base+"video.m3u8", video.String())

			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{Name: "audio_00", ExpectedSize: 5000},
				&demuxcheck.ExpectedOutput{Name: "video_00", ExpectedSize: 9000},
			)
			tc.Extension = &demuxcheck.ProtectionExtension{
				Expected: map[string]int{"video_00": 2},
			}

			return &setup{
				inputs:    inputs,
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.ProtectionCallbacks(),
			}, nil
		},
	}
}

func twoPeriods() *Scenario {
	return &Scenario{
		Name:        "two-periods",
		Description: "exposes a new set of output streams after a discontinuity",
		build: func(base string) (*setup, error) {
			twoSegments := func(first string, second string) string {
				return (&mediaPlaylist{
					targetDuration: 1,
					segments: []segment{
						{duration: time.Second, uri: first},
						{duration: time.Second, uri: second, discontinuity: true},
					},
				}).String()
			}

			inputs := []vsource.Input{
				manifestInput(base+"test.m3u8", multivariantPlaylist(
					variant{uri: "audio.m3u8", codecs: audioCodecs, bandwidth: 128000},
					variant{uri: "video.m3u8", codecs: videoCodecs, bandwidth: 1280000},
				)),
				manifestInput(base+"audio.m3u8", twoSegments("audio1.webm", "audio2.webm")),
				manifestInput(base+"video.m3u8", twoSegments("video1.webm", "video2.webm")),
				{URI: base + "audio1.webm", Size: 5000},
				{URI: base + "video1.webm", Size: 9000},
				{URI: base + "audio2.webm", Size: 6000},
				{URI: base + "video2.webm", Size: 10000},
			}

			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{Name: "audio_00", ExpectedSize: 5000},
				&demuxcheck.ExpectedOutput{Name: "video_00", ExpectedSize: 9000},
				&demuxcheck.ExpectedOutput{Name: "audio_01", ExpectedSize: 6000},
				&demuxcheck.ExpectedOutput{Name: "video_01", ExpectedSize: 10000},
			)

			return &setup{
				inputs:    inputs,
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.DefaultCallbacks(),
			}, nil
		},
	}
}

func parameters() *Scenario {
	return &Scenario{
		Name:        "parameters",
		Description: "sets demuxer parameters, rejects invalid values and selects variants within the bandwidth limit",
		build: func(base string) (*setup, error) {
			inputs := []vsource.Input{
				manifestInput(base+"test.m3u8", multivariantPlaylist(
					variant{uri: "video_hi.m3u8", codecs: videoCodecs, bandwidth: 1500000},
					variant{uri: "video_lo.m3u8", codecs: videoCodecs, bandwidth: 500000},
					variant{uri: "audio.m3u8", codecs: audioCodecs, bandwidth: 128000},
				)),
				manifestInput(base+"video_hi.m3u8", singleSegment("video_hi.webm").String()),
				manifestInput(base+"video_lo.m3u8", singleSegment("video_lo.webm").String()),
				manifestInput(base+"audio.m3u8", singleSegment("audio.webm").String()),
				{URI: base + "video_hi.webm", Size: 9000},
				{URI: base + "video_lo.webm", Size: 7000},
				{URI: base + "audio.webm", Size: 5000},
			}

			// 1000 kbit/s * 0.8 leaves only the 500 kbit/s video variant
			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{Name: "video_00", ExpectedSize: 7000},
				&demuxcheck.ExpectedOutput{Name: "audio_00", ExpectedSize: 5000},
			)
			tc.Extension = &demuxcheck.ParameterExtension{
				Valid: []demuxcheck.Parameter{
					{Name: hlsdemux.ParamConnectionSpeed, Value: 1000},
					{Name: hlsdemux.ParamBitrateLimit, Value: 0.8},
					{Name: hlsdemux.ParamMaxBitrate, Value: 1000000},
				},
				Invalid: []demuxcheck.Parameter{
					{Name: hlsdemux.ParamConnectionSpeed, Value: 4294967 + 1},
					{Name: hlsdemux.ParamBitrateLimit, Value: 2.1},
					{Name: hlsdemux.ParamMaxBitrate, Value: 10},
				},
			}

			return &setup{
				inputs:    inputs,
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.ParameterCallbacks(),
			}, nil
		},
	}
}
