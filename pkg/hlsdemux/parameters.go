package hlsdemux

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/grafov/m3u8"
)

// Names of the parameters that can be changed with SetParameter.
const (
	// ParamConnectionSpeed is the connection speed in kbit/s. Zero means unknown.
	ParamConnectionSpeed = "connection-speed"
	// ParamBitrateLimit is the fraction of the connection speed that variants can use.
	ParamBitrateLimit = "bitrate-limit"
	// ParamMaxBitrate is the maximum bandwidth of variants in bit/s. Zero means unlimited.
	ParamMaxBitrate = "max-bitrate"
)

const (
	defaultBitrateLimit = 0.8
	maxConnectionSpeed  = 4294967
	minMaxBitrate       = 1000
)

// ErrInvalidParameter is returned when a parameter value is out of range.
var ErrInvalidParameter = errors.New("invalid parameter value")

type parameterRange struct {
	min float64
	max float64
}

var parameterRanges = map[string]parameterRange{
	ParamConnectionSpeed: {0, maxConnectionSpeed},
	ParamBitrateLimit:    {0, 1},
	ParamMaxBitrate:      {minMaxBitrate, math.MaxUint32},
}

func checkParameter(name string, value float64) error {
	r, ok := parameterRanges[name]
	if !ok {
		return fmt.Errorf("unknown parameter '%s'", name)
	}

	if math.IsNaN(value) || value < r.min || value > r.max {
		return fmt.Errorf("%w: %s must be between %v and %v, got %v",
			ErrInvalidParameter, name, r.min, r.max, value)
	}

	return nil
}

// SetParameter changes a parameter. Invalid values are rejected and leave the parameter unchanged.
// Parameters that affect variant selection are applied when the playlist is downloaded.
func (d *Demuxer) SetParameter(name string, value float64) error {
	err := checkParameter(name, value)
	if err != nil {
		return err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	switch name {
	case ParamConnectionSpeed:
		d.ConnectionSpeed = uint(value)

	case ParamBitrateLimit:
		d.BitrateLimit = value

	case ParamMaxBitrate:
		d.MaxBitrate = uint(value)
	}

	return nil
}

// Parameter returns the current value of a parameter.
func (d *Demuxer) Parameter(name string) (float64, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	switch name {
	case ParamConnectionSpeed:
		return float64(d.ConnectionSpeed), true

	case ParamBitrateLimit:
		return d.BitrateLimit, true

	case ParamMaxBitrate:
		return float64(d.MaxBitrate), true
	}

	return 0, false
}

// checkParameters validates the parameters that have been set as fields.
func (d *Demuxer) checkParameters() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.BitrateLimit == 0 {
		d.BitrateLimit = defaultBitrateLimit
	}

	err := checkParameter(ParamConnectionSpeed, float64(d.ConnectionSpeed))
	if err != nil {
		return err
	}

	err = checkParameter(ParamBitrateLimit, d.BitrateLimit)
	if err != nil {
		return err
	}

	if d.MaxBitrate != 0 {
		return checkParameter(ParamMaxBitrate, float64(d.MaxBitrate))
	}

	return nil
}

// bandwidthLimit returns the maximum bandwidth of selected variants, in bit/s, or zero.
func (d *Demuxer) bandwidthLimit() uint64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var limit uint64

	if d.ConnectionSpeed != 0 {
		limit = max(uint64(float64(d.ConnectionSpeed)*1000*d.BitrateLimit), 1)
	}

	if d.MaxBitrate != 0 && (limit == 0 || uint64(d.MaxBitrate) < limit) {
		limit = uint64(d.MaxBitrate)
	}

	return limit
}

// selectVariants drops variants whose bandwidth exceeds limit.
// When every variant of a kind exceeds it, the one with the lowest bandwidth is kept.
func selectVariants(variants []*m3u8.Variant, limit uint64) []*m3u8.Variant {
	if limit == 0 {
		return variants
	}

	byKind := make(map[string][]*m3u8.Variant)
	for _, v := range variants {
		if v != nil {
			kind := kindOf(v.Codecs)
			byKind[kind] = append(byKind[kind], v)
		}
	}

	keep := make(map[*m3u8.Variant]struct{})

	for _, vs := range byKind {
		found := false
		for _, v := range vs {
			if uint64(v.Bandwidth) <= limit {
				keep[v] = struct{}{}
				found = true
			}
		}

		if !found {
			lowest := append([]*m3u8.Variant(nil), vs...)
			sort.SliceStable(lowest, func(i, j int) bool {
				return lowest[i].Bandwidth < lowest[j].Bandwidth
			})
			keep[lowest[0]] = struct{}{}
		}
	}

	var ret []*m3u8.Variant
	for _, v := range variants {
		if _, ok := keep[v]; ok {
			ret = append(ret, v)
		}
	}

	return ret
}
