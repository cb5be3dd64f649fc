/*
Package scenarios contains the conformance scenarios of adaptive streaming demuxers.

Each scenario describes the content of a virtual source, the expected outputs
and the callbacks that validate a run. Scenarios are run against the
reference HLS demuxer unless a different Factory is provided.
*/
package scenarios

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bluenviron/demuxcheck"
	"github.com/bluenviron/demuxcheck/pkg/hlsdemux"
	"github.com/bluenviron/demuxcheck/pkg/liveclock"
	"github.com/bluenviron/demuxcheck/pkg/logger"
	"github.com/bluenviron/demuxcheck/pkg/metrics"
	"github.com/bluenviron/demuxcheck/pkg/vsource"
)

// DefaultBaseURL is the default base URL of virtual sources.
const DefaultBaseURL = "http://unit.test"

const (
	defaultTimeout = 30 * time.Second
)

// LiveSettings are the timing parameters of a live scenario.
type LiveSettings struct {
	PresentationDelay time.Duration
	// liveclock.Infinite when the stream can be seeked back to its start.
	TimeShiftBufferDepth time.Duration
}

// Factory creates the demuxer under test.
type Factory func(p demuxcheck.DemuxerParams, live LiveSettings) demuxcheck.Demuxer

// NewHLSDemuxer is a Factory that creates the reference HLS demuxer.
func NewHLSDemuxer(p demuxcheck.DemuxerParams, live LiveSettings) demuxcheck.Demuxer {
	depth := live.TimeShiftBufferDepth
	if depth == liveclock.Infinite {
		depth = 0
	}

	return &hlsdemux.Demuxer{
		HTTPClient:           p.HTTPClient,
		Clock:                p.Clock,
		Log:                  p.Log,
		PresentationDelay:    live.PresentationDelay,
		TimeShiftBufferDepth: depth,
	}
}

// Options are the options of a run.
type Options struct {
	// base URL of the virtual source.
	// It defaults to DefaultBaseURL.
	BaseURL string
	// when greater than zero, delivery is paced to this rate.
	BytesPerSecond int
	// maximum duration of each scenario.
	// It defaults to 30 seconds.
	Timeout time.Duration
	// demuxer under test.
	// It defaults to NewHLSDemuxer.
	NewDemuxer Factory
	Metrics    *metrics.Metrics
	Log        logger.Func
}

func (o *Options) fillDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	o.BaseURL = strings.TrimSuffix(o.BaseURL, "/")
	if o.Timeout == 0 {
		o.Timeout = defaultTimeout
	}
	if o.NewDemuxer == nil {
		o.NewDemuxer = NewHLSDemuxer
	}
	if o.Log == nil {
		o.Log = logger.Discard
	}
}

// setup is the result of building a scenario.
type setup struct {
	inputs    []vsource.Input
	blockSize int
	fault     *vsource.FaultConfig
	manifest  string
	tc        *demuxcheck.TestCase
	callbacks demuxcheck.Callbacks
	// virtual clock of live scenarios.
	clock liveclock.Clock
	live  LiveSettings
}

// Scenario is a conformance scenario.
type Scenario struct {
	Name        string
	Description string

	build func(base string) (*setup, error)
}

func (sc *Scenario) setup(o Options) (*setup, error) {
	st, err := sc.build(o.BaseURL + "/" + sc.Name + "/")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sc.Name, err)
	}
	return st, nil
}

func (st *setup) source(o Options) *vsource.Source {
	return vsource.New(vsource.Config{
		Inputs:         st.inputs,
		BlockSize:      st.blockSize,
		Fault:          st.fault,
		BytesPerSecond: o.BytesPerSecond,
		Metrics:        o.Metrics,
		Log:            o.Log,
	})
}

// Source returns the virtual source of the scenario and the URI of its manifest.
func (sc *Scenario) Source(o Options) (*vsource.Source, string, error) {
	o.fillDefaults()

	st, err := sc.setup(o)
	if err != nil {
		return nil, "", err
	}

	return st.source(o), st.manifest, nil
}

// Run runs the scenario.
func (sc *Scenario) Run(ctx context.Context, o Options) error {
	o.fillDefaults()

	st, err := sc.setup(o)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	e := &demuxcheck.Engine{
		ManifestURI: st.manifest,
		Source:      st.source(o),
		NewDemuxer: func(p demuxcheck.DemuxerParams) demuxcheck.Demuxer {
			return o.NewDemuxer(p, st.live)
		},
		Callbacks: st.callbacks,
		Clock:     st.clock,
		Metrics:   o.Metrics,
		Log: func(level logger.Level, format string, args ...interface{}) {
			o.Log(level, "["+sc.Name+"] "+format, args...)
		},
	}

	return e.Run(ctx)
}

// Result is the outcome of a scenario.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// RunAll runs scenarios, at most parallelism at a time, and returns their results
// in the same order.
func RunAll(ctx context.Context, scenarios []*Scenario, o Options, parallelism int) []*Result {
	results := make([]*Result, len(scenarios))

	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}

	for i, sc := range scenarios {
		g.Go(func() error {
			start := time.Now()
			err := sc.Run(ctx, o)
			results[i] = &Result{
				Name:     sc.Name,
				Err:      err,
				Duration: time.Since(start),
			}
			return nil
		})
	}

	g.Wait() //nolint:errcheck

	return results
}

// All returns every scenario.
func All() []*Scenario {
	return []*Scenario{
		simple(),
		twoPeriods(),
		parameters(),
		seek(),
		seekPosition("seek-key-unit", true),
		seekPosition("seek-accurate", false),
		parallelSeek(),
		downloadError(),
		headerDownloadError(),
		lastFragmentDownloadError(),
		middleFragmentDownloadError(),
		query(),
		contentProtection(),
		live(),
		liveDelay(),
		liveQuery(),
		liveSeek(),
		literalData(),
	}
}

// Select returns the scenarios whose names are in a comma-separated list.
// An empty list selects every scenario.
func Select(names string) ([]*Scenario, error) {
	all := All()

	if strings.TrimSpace(names) == "" {
		return all, nil
	}

	var ret []*Scenario

	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		found := false
		for _, sc := range all {
			if sc.Name == name {
				ret = append(ret, sc)
				found = true
				break
			}
		}

		if !found {
			return nil, fmt.Errorf("unknown scenario: %s", name)
		}
	}

	return ret, nil
}
