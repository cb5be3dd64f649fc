package fixtures

import (
	"bytes"
	"context"
	"time"

	"github.com/aler9/gortsplib/v2/pkg/codecs/h264"
	"github.com/aler9/gortsplib/v2/pkg/codecs/mpeg4audio"
	"github.com/asticode/go-astits"
)

const (
	videoPID = 256
	audioPID = 257

	pcrOffset = 400 * time.Millisecond
)

func clockReference(d time.Duration) *astits.ClockReference {
	return &astits.ClockReference{Base: int64(d.Seconds() * 90000)}
}

// AudioConfig is the configuration of the AAC track of MPEG-TS segments.
var AudioConfig = mpeg4audio.Config{
	Type:         mpeg4audio.ObjectTypeAACLC,
	SampleRate:   48000,
	ChannelCount: 2,
}

// MPEGTSSample is an access unit of a MPEG-TS segment.
type MPEGTSSample struct {
	Audio        bool
	PTS          time.Duration
	DTS          time.Duration
	RandomAccess bool

	// H264 NALUs, used when Audio is false.
	NALUs [][]byte
	// AAC access unit, used when Audio is true.
	AU []byte
}

// Encode returns the PES payload of the sample.
// H264 access units are prefixed with an AUD and written in Annex-B format,
// AAC access units are wrapped into ADTS.
func (s *MPEGTSSample) Encode() ([]byte, error) {
	if s.Audio {
		pkts := mpeg4audio.ADTSPackets{
			{
				Type:         AudioConfig.Type,
				SampleRate:   AudioConfig.SampleRate,
				ChannelCount: AudioConfig.ChannelCount,
				AU:           s.AU,
			},
		}
		return pkts.Marshal()
	}

	// prepend an AUD. This is required by video.js and iOS
	nalus := append([][]byte{{byte(h264.NALUTypeAccessUnitDelimiter), 240}}, s.NALUs...)

	return h264.AnnexBMarshal(nalus)
}

// mpegtsWriter writes access units into a MPEG-TS stream.
type mpegtsWriter struct {
	hasVideo bool

	buf        bytes.Buffer
	tsw        *astits.Muxer
	pcrCounter int
}

func newMPEGTSWriter(hasVideo bool, hasAudio bool) (*mpegtsWriter, error) {
	w := &mpegtsWriter{
		hasVideo: hasVideo,
	}

	w.tsw = astits.NewMuxer(context.Background(), &w.buf)

	if hasVideo {
		err := w.tsw.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: videoPID,
			StreamType:    astits.StreamTypeH264Video,
		})
		if err != nil {
			return nil, err
		}
	}

	if hasAudio {
		err := w.tsw.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: audioPID,
			StreamType:    astits.StreamTypeAACAudio,
		})
		if err != nil {
			return nil, err
		}
	}

	if hasVideo {
		w.tsw.SetPCRPID(videoPID)
	} else {
		w.tsw.SetPCRPID(audioPID)
	}

	// every segment starts with PAT and PMT
	_, err := w.tsw.WriteTables()
	if err != nil {
		return nil, err
	}

	return w, nil
}

// pcrField returns an adaptation field with a PCR once every 3 calls.
func (w *mpegtsWriter) pcrField(af *astits.PacketAdaptationField, pcr time.Duration) *astits.PacketAdaptationField {
	if w.pcrCounter == 0 {
		if af == nil {
			af = &astits.PacketAdaptationField{}
		}
		af.HasPCR = true
		af.PCR = clockReference(pcr)
		w.pcrCounter = 3
	}
	w.pcrCounter--
	return af
}

func (w *mpegtsWriter) writeVideo(s *MPEGTSSample) error {
	enc, err := s.Encode()
	if err != nil {
		return err
	}

	var af *astits.PacketAdaptationField

	if s.RandomAccess {
		af = &astits.PacketAdaptationField{
			RandomAccessIndicator: true,
		}
	}

	af = w.pcrField(af, s.DTS)

	oh := &astits.PESOptionalHeader{
		MarkerBits: 2,
	}

	if s.DTS == s.PTS {
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorOnlyPTS
		oh.PTS = clockReference(s.PTS + pcrOffset)
	} else {
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorBothPresent
		oh.DTS = clockReference(s.DTS + pcrOffset)
		oh.PTS = clockReference(s.PTS + pcrOffset)
	}

	_, err = w.tsw.WriteData(&astits.MuxerData{
		PID:             videoPID,
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: oh,
				StreamID:       224, // video
			},
			Data: enc,
		},
	})
	return err
}

func (w *mpegtsWriter) writeAudio(s *MPEGTSSample) error {
	enc, err := s.Encode()
	if err != nil {
		return err
	}

	af := &astits.PacketAdaptationField{
		RandomAccessIndicator: true,
	}

	if !w.hasVideo {
		af = w.pcrField(af, s.PTS)
	}

	_, err = w.tsw.WriteData(&astits.MuxerData{
		PID:             audioPID,
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             clockReference(s.PTS + pcrOffset),
				},
				PacketLength: uint16(len(enc) + 8),
				StreamID:     192, // audio
			},
			Data: enc,
		},
	})
	return err
}

// MPEGTSSegment returns a MPEG-TS segment that contains the given samples.
func MPEGTSSegment(samples []*MPEGTSSample) ([]byte, error) {
	hasVideo := false
	hasAudio := false
	for _, s := range samples {
		if s.Audio {
			hasAudio = true
		} else {
			hasVideo = true
		}
	}

	w, err := newMPEGTSWriter(hasVideo, hasAudio)
	if err != nil {
		return nil, err
	}

	for _, s := range samples {
		if s.Audio {
			err = w.writeAudio(s)
		} else {
			err = w.writeVideo(s)
		}
		if err != nil {
			return nil, err
		}
	}

	return w.buf.Bytes(), nil
}
