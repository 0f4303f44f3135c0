package processing

import (
	"context"
	"fmt"
	"log"

	"github.com/kacperjurak/goftircore"
	"github.com/kacperjurak/goftircore/pkg/config"
	"github.com/kacperjurak/goftircore/pkg/refdata"
)

// BandTolerance widens reference bands when assigning a peak, in cm-1.
const BandTolerance = 10.0

// Pipeline runs the configured fit, peak and correlation steps. It is
// shared by the CLI and the server.
type Pipeline struct {
	config *config.Config
}

func NewPipeline(cfg *config.Config) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Pipeline{config: cfg}
}

func (p *Pipeline) Config() *config.Config {
	return p.config
}

// ParamsFor picks the ALS parameters for s: the ones it was last fitted
// with, else the configured ones.
func (p *Pipeline) ParamsFor(s *goftircore.Spectrum) goftircore.Params {
	if s.Params != nil {
		return *s.Params
	}
	return p.config.Params()
}

// Fit computes the baseline of s with params and commits it to s.
func (p *Pipeline) Fit(ctx context.Context, s *goftircore.Spectrum, params goftircore.Params) (*goftircore.Result, error) {
	solver := p.config.Solver(s)
	solver.Params = params
	res, err := solver.Solve(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Commit(res); err != nil {
		return nil, err
	}
	if !p.config.Quiet {
		log.Printf("Baseline %s: lambda=%g p=%g anchors=%d iterations=%d converged=%v in %v",
			s.Name, params.Lambda, params.P, len(res.Anchors), res.Iters, res.Converged, res.Runtime)
	}
	return res, nil
}

// PeakReport is one detected peak, its Gaussian refinement when the fit
// succeeded, and the reference bands it falls into.
type PeakReport struct {
	goftircore.Peak
	Fit   *goftircore.GaussianFit
	Bands []refdata.Band
}

// Position is the refined center when available, else the sample position.
func (r PeakReport) Position() float64 {
	if r.Fit != nil {
		return r.Fit.Center
	}
	return r.X
}

// Peaks detects peaks on the corrected series of s, or on the raw series
// when s has no baseline, and reports whether the corrected series was used.
func (p *Pipeline) Peaks(s *goftircore.Spectrum, minProminence float64) ([]PeakReport, bool, error) {
	y := s.Y
	corrected := s.HasBaseline()
	if corrected {
		c, err := s.Corrected()
		if err != nil {
			return nil, false, err
		}
		y = c
	}
	peaks, err := goftircore.FindPeaks(s.X, y, minProminence)
	if err != nil {
		return nil, false, err
	}

	reports := make([]PeakReport, 0, len(peaks))
	for _, pk := range peaks {
		r := PeakReport{Peak: pk}
		if fit, err := goftircore.FitPeak(s.X, y, pk, p.config.PeakHalfWidth); err == nil {
			r.Fit = &fit
		} else if !p.config.Quiet {
			log.Printf("⚠️  Peak at %g left unrefined: %v", pk.X, err)
		}
		bands, err := refdata.Assign(r.Position(), BandTolerance)
		if err != nil {
			return nil, false, fmt.Errorf("assign bands: %w", err)
		}
		r.Bands = bands
		reports = append(reports, r)
	}
	return reports, corrected, nil
}

// Correlate runs the configured correlation over set.
func (p *Pipeline) Correlate(set goftircore.AnalysisSet, useCorrected bool) (*goftircore.CorrelationMatrix, error) {
	return goftircore.Correlator{Step: p.config.GridStep}.Correlate(set, useCorrected)
}

// ProcessorFunc adapts Fit to the worker pool.
func (p *Pipeline) ProcessorFunc() func(ctx context.Context, s *goftircore.Spectrum, params goftircore.Params) (*goftircore.Result, error) {
	return p.Fit
}
