package scenarios

import (
	"bytes"
	"time"

	"github.com/bluenviron/demuxcheck"
	"github.com/bluenviron/demuxcheck/pkg/fixtures"
	"github.com/bluenviron/demuxcheck/pkg/vsource"
)

// zero bytes appended by the source to the audio segment.
const literalPadding = 2 * 188

func literalVideo() ([]byte, []byte, error) {
	header, err := fixtures.FMP4Init([]*fixtures.FMP4Track{{
		ID:        1,
		TimeScale: 90000,
	}})
	if err != nil {
		return nil, nil, err
	}

	var samples []*fixtures.FMP4Sample
	for i := range 3 {
		samples = append(samples, &fixtures.FMP4Sample{
			Duration: 3000,
			Payload:  bytes.Repeat([]byte{byte(i + 1)}, 1000*(i+1)),
		})
	}

	part, err := fixtures.FMP4Part(1, 1, 0, samples)
	if err != nil {
		return nil, nil, err
	}

	return header, part, nil
}

func literalAudio() ([]byte, error) {
	var samples []*fixtures.MPEGTSSample
	for i := range 5 {
		samples = append(samples, &fixtures.MPEGTSSample{
			Audio: true,
			PTS:   time.Duration(i) * 20 * time.Millisecond,
			AU:    bytes.Repeat([]byte{0xF0 | byte(i)}, 300),
		})
	}

	return fixtures.MPEGTSSegment(samples)
}

func literalData() *Scenario {
	return &Scenario{
		Name:        "literal-data",
		Description: "checks the content of fragmented MP4 and MPEG-TS segments byte by byte",
		build: func(base string) (*setup, error) {
			header, part, err := literalVideo()
			if err != nil {
				return nil, err
			}

			ts, err := literalAudio()
			if err != nil {
				return nil, err
			}

			video := &mediaPlaylist{
				targetDuration: 1,
				mapURI:         "init.mp4",
				segments: []segment{{
					duration: 100 * time.Millisecond,
					uri:      "part0.mp4",
				}},
			}

			audio := &mediaPlaylist{
				targetDuration: 1,
				segments: []segment{{
					duration: 100 * time.Millisecond,
					uri:      "seg0.ts",
				}},
			}

			inputs := []vsource.Input{
				manifestInput(base+"test.m3u8", multivariantPlaylist(
					variant{uri: "audio.m3u8", codecs: audioCodecs, bandwidth: 128000},
					variant{uri: "video.m3u8", codecs: videoCodecs, bandwidth: 1280000},
				)),
				manifestInput(base+"audio.m3u8", audio.String()),
				manifestInput(base+"video.m3u8", video.String()),
				{URI: base + "init.mp4", Payload: header},
				{URI: base + "part0.mp4", Payload: part},
				// the declared size is greater than the payload
				{URI: base + "seg0.ts", Payload: ts, Size: uint64(len(ts) + literalPadding)},
			}

			expectedVideo := append(append([]byte(nil), header...), part...)
			expectedAudio := append(append([]byte(nil), ts...), make([]byte, literalPadding)...)

			tc := demuxcheck.NewTestCase(
				&demuxcheck.ExpectedOutput{
					Name:         "audio_00",
					ExpectedSize: uint64(len(expectedAudio)),
					ExpectedData: expectedAudio,
				},
				&demuxcheck.ExpectedOutput{
					Name:         "video_00",
					ExpectedSize: uint64(len(expectedVideo)),
					ExpectedData: expectedVideo,
				},
			)

			return &setup{
				inputs:    inputs,
				blockSize: 512,
				manifest:  base + "test.m3u8",
				tc:        tc,
				callbacks: tc.DefaultCallbacks(),
			}, nil
		},
	}
}
