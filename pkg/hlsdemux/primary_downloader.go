package hlsdemux

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/grafov/m3u8"

	"github.com/bluenviron/demuxcheck/pkg/logger"
)

// streamName names the output streams of a variant.
// Each period of the presentation gets a new set of output streams.
type streamName struct {
	kind  string
	index int
	// number of variants of the same kind.
	count int
}

func (n streamName) of(period int) string {
	return fmt.Sprintf("%s_%02d", n.kind, period*n.count+n.index)
}

type variantEntry struct {
	name streamName
	url  *url.URL
}

// variantsOf selects the variants of a multivariant playlist whose bandwidth
// does not exceed limit and names them by kind, in order of appearance.
func variantsOf(base *url.URL, pl *m3u8.MasterPlaylist, limit uint64) ([]variantEntry, error) {
	counters := make(map[string]int)
	var ret []variantEntry

	for _, v := range selectVariants(pl.Variants, limit) {
		if v == nil || v.URI == "" {
			continue
		}

		u, err := absoluteURL(base, v.URI)
		if err != nil {
			return nil, err
		}

		kind := kindOf(v.Codecs)
		ret = append(ret, variantEntry{
			name: streamName{kind: kind, index: counters[kind]},
			url:  u,
		})
		counters[kind]++
	}

	for i := range ret {
		ret[i].name.count = counters[ret[i].name.kind]
	}

	return ret, nil
}

type primaryDownloader struct {
	d *Demuxer
}

func (pd *primaryDownloader) run(ctx context.Context) error {
	d := pd.d

	d.Log(logger.LevelDebug, "downloading primary playlist %v", d.manifestURL)

	pl, keys, err := downloadPlaylist(ctx, d.HTTPClient, d.manifestURL)
	if err != nil {
		return err
	}

	var streams []*stream

	switch plt := pl.(type) {
	case *m3u8.MediaPlaylist:
		s, err := newStream(d, streamName{kind: "main", count: 1}, d.manifestURL, plt, keys)
		if err != nil {
			return err
		}
		streams = append(streams, s)

	case *m3u8.MasterPlaylist:
		variants, err := variantsOf(d.manifestURL, plt, d.bandwidthLimit())
		if err != nil {
			return err
		}

		if len(variants) == 0 {
			return fmt.Errorf("no variants found")
		}

		for _, v := range variants {
			d.Log(logger.LevelDebug, "downloading stream playlist %v", v.url)

			mpl, mkeys, err := downloadMediaPlaylist(ctx, d.HTTPClient, v.url)
			if err != nil {
				return err
			}

			s, err := newStream(d, v.name, v.url, mpl, mkeys)
			if err != nil {
				return err
			}
			streams = append(streams, s)
		}

	default:
		return fmt.Errorf("unsupported playlist type %T", pl)
	}

	live := streams[0].live

	var epoch time.Time
	if live {
		epoch = streams[0].dateTime
		if epoch.IsZero() {
			epoch = d.Clock.Now()
		}
	}

	d.setStreams(streams, live, epoch)

	return nil
}
