package fixtures

import (
	gomp4 "github.com/abema/go-mp4"
)

// FMP4Track is a track of a fragmented MP4 file.
type FMP4Track struct {
	ID        int
	TimeScale uint32
	Audio     bool
}

func (track *FMP4Track) marshal(w *boxWriter) error {
	/*
	   trak
	   - tkhd
	   - mdia
	     - mdhd
	     - hdlr
	     - minf
	       - vmhd (video)
	       - smhd (audio)
	       - dinf
	         - dref
	           - url
	       - stbl
	         - stsd
	         - stts
	         - stsc
	         - stsz
	         - stco
	*/

	_, err := w.start(&gomp4.Trak{}) // <trak>
	if err != nil {
		return err
	}

	tkhd := &gomp4.Tkhd{
		FullBox: gomp4.FullBox{
			Flags: [3]byte{0, 0, 3},
		},
		TrackID: uint32(track.ID),
		Matrix:  [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000},
	}
	if track.Audio {
		tkhd.AlternateGroup = 1
		tkhd.Volume = 256
	}

	_, err = w.box(tkhd) // <tkhd/>
	if err != nil {
		return err
	}

	_, err = w.start(&gomp4.Mdia{}) // <mdia>
	if err != nil {
		return err
	}

	_, err = w.box(&gomp4.Mdhd{ // <mdhd/>
		Timescale: track.TimeScale,
		Language:  [3]byte{'u', 'n', 'd'},
	})
	if err != nil {
		return err
	}

	hdlr := &gomp4.Hdlr{
		HandlerType: [4]byte{'v', 'i', 'd', 'e'},
		Name:        "VideoHandler",
	}
	if track.Audio {
		hdlr.HandlerType = [4]byte{'s', 'o', 'u', 'n'}
		hdlr.Name = "SoundHandler"
	}

	_, err = w.box(hdlr) // <hdlr/>
	if err != nil {
		return err
	}

	_, err = w.start(&gomp4.Minf{}) // <minf>
	if err != nil {
		return err
	}

	if track.Audio {
		_, err = w.box(&gomp4.Smhd{}) // <smhd/>
	} else {
		_, err = w.box(&gomp4.Vmhd{ // <vmhd/>
			FullBox: gomp4.FullBox{
				Flags: [3]byte{0, 0, 1},
			},
		})
	}
	if err != nil {
		return err
	}

	_, err = w.start(&gomp4.Dinf{}) // <dinf>
	if err != nil {
		return err
	}

	_, err = w.start(&gomp4.Dref{ // <dref>
		EntryCount: 1,
	})
	if err != nil {
		return err
	}

	_, err = w.box(&gomp4.Url{ // <url/>
		FullBox: gomp4.FullBox{
			Flags: [3]byte{0, 0, 1},
		},
	})
	if err != nil {
		return err
	}

	err = w.end() // </dref>
	if err != nil {
		return err
	}

	err = w.end() // </dinf>
	if err != nil {
		return err
	}

	_, err = w.start(&gomp4.Stbl{}) // <stbl>
	if err != nil {
		return err
	}

	for _, box := range []gomp4.IImmutableBox{
		&gomp4.Stsd{}, // <stsd/>
		&gomp4.Stts{}, // <stts/>
		&gomp4.Stsc{}, // <stsc/>
		&gomp4.Stsz{}, // <stsz/>
		&gomp4.Stco{}, // <stco/>
	} {
		_, err = w.box(box)
		if err != nil {
			return err
		}
	}

	for range 4 {
		err = w.end() // </stbl></minf></mdia></trak>
		if err != nil {
			return err
		}
	}

	return nil
}

// FMP4Init returns the initialization section of a fragmented MP4 file.
func FMP4Init(tracks []*FMP4Track) ([]byte, error) {
	/*
	   - ftyp
	   - moov
	     - mvhd
	     - trak (one or more)
	     - mvex
	       - trex (one or more)
	*/

	w := newBoxWriter()

	_, err := w.box(&gomp4.Ftyp{ // <ftyp/>
		MajorBrand:   [4]byte{'m', 'p', '4', '2'},
		MinorVersion: 1,
		CompatibleBrands: []gomp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '2'}},
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'h', 'l', 's', 'f'}},
		},
	})
	if err != nil {
		return nil, err
	}

	_, err = w.start(&gomp4.Moov{}) // <moov>
	if err != nil {
		return nil, err
	}

	_, err = w.box(&gomp4.Mvhd{ // <mvhd/>
		Timescale:   1000,
		Rate:        65536,
		Volume:      256,
		Matrix:      [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000},
		NextTrackID: uint32(len(tracks) + 1),
	})
	if err != nil {
		return nil, err
	}

	for _, track := range tracks {
		err = track.marshal(w)
		if err != nil {
			return nil, err
		}
	}

	_, err = w.start(&gomp4.Mvex{}) // <mvex>
	if err != nil {
		return nil, err
	}

	for _, track := range tracks {
		_, err = w.box(&gomp4.Trex{ // <trex/>
			TrackID:                       uint32(track.ID),
			DefaultSampleDescriptionIndex: 1,
		})
		if err != nil {
			return nil, err
		}
	}

	err = w.end() // </mvex>
	if err != nil {
		return nil, err
	}

	err = w.end() // </moov>
	if err != nil {
		return nil, err
	}

	return w.bytes()
}

// FMP4Sample is a sample of a fragmented MP4 part.
type FMP4Sample struct {
	Duration uint32
	Payload  []byte
}

// FMP4Part returns a fragment that contains samples of a single track.
func FMP4Part(
	sequenceNumber uint32,
	trackID int,
	baseTime uint64,
	samples []*FMP4Sample,
) ([]byte, error) {
	/*
	   - moof
	     - mfhd
	     - traf
	       - tfhd
	       - tfdt
	       - trun
	   - mdat
	*/

	w := newBoxWriter()

	moofOffset, err := w.start(&gomp4.Moof{}) // <moof>
	if err != nil {
		return nil, err
	}

	_, err = w.box(&gomp4.Mfhd{ // <mfhd/>
		SequenceNumber: sequenceNumber,
	})
	if err != nil {
		return nil, err
	}

	_, err = w.start(&gomp4.Traf{}) // <traf>
	if err != nil {
		return nil, err
	}

	_, err = w.box(&gomp4.Tfhd{ // <tfhd/>
		FullBox: gomp4.FullBox{
			Flags: [3]byte{2, 0, 0},
		},
		TrackID: uint32(trackID),
	})
	if err != nil {
		return nil, err
	}

	_, err = w.box(&gomp4.Tfdt{ // <tfdt/>
		FullBox: gomp4.FullBox{
			Version: 1,
		},
		BaseMediaDecodeTimeV1: baseTime,
	})
	if err != nil {
		return nil, err
	}

	trun := &gomp4.Trun{
		FullBox: gomp4.FullBox{
			// data offset, sample duration, sample size
			Flags: [3]byte{0, 3, 1},
		},
		SampleCount: uint32(len(samples)),
	}

	var mdatSize int
	for _, s := range samples {
		trun.Entries = append(trun.Entries, gomp4.TrunEntry{
			SampleDuration: s.Duration,
			SampleSize:     uint32(len(s.Payload)),
		})
		mdatSize += len(s.Payload)
	}

	trunOffset, err := w.box(trun) // <trun/>
	if err != nil {
		return nil, err
	}

	err = w.end() // </traf>
	if err != nil {
		return nil, err
	}

	err = w.end() // </moof>
	if err != nil {
		return nil, err
	}

	mdat := &gomp4.Mdat{
		Data: make([]byte, 0, mdatSize),
	}
	for _, s := range samples {
		mdat.Data = append(mdat.Data, s.Payload...)
	}

	mdatOffset, err := w.box(mdat) // <mdat/>
	if err != nil {
		return nil, err
	}

	// samples start after the header of mdat
	trun.DataOffset = int32(mdatOffset - moofOffset + 8)
	err = w.rewrite(trunOffset, trun)
	if err != nil {
		return nil, err
	}

	return w.bytes()
}
