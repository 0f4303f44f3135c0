package processing

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kacperjurak/goftircore"
	"github.com/kacperjurak/goftircore/internal/testutil"
	"github.com/kacperjurak/goftircore/pkg/config"
)

func carbonylSpectrum(t *testing.T) *goftircore.Spectrum {
	t.Helper()
	x := testutil.Grid(1500, 2000, 501)
	y := testutil.Add(
		testutil.Ramp(x, -0.4, 3e-4),
		testutil.Gaussian(x, 1740, 0.8, 6),
		testutil.Gaussian(x, 1600, 0.3, 8),
	)
	s, err := goftircore.NewSpectrum("ester", x, y, goftircore.Range{Min: 1500, Max: 2000})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func quietConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Quiet = true
	return cfg
}

func TestPipelineFitCommits(t *testing.T) {
	p := NewPipeline(quietConfig())
	s := carbonylSpectrum(t)
	params := p.ParamsFor(s)
	if params != p.Config().Params() {
		t.Fatalf("ParamsFor unfitted = %+v", params)
	}
	res, err := p.Fit(context.Background(), s, params)
	if err != nil {
		t.Fatal(err)
	}
	if !s.HasBaseline() || res.Iters < 1 {
		t.Fatalf("baseline=%v iters=%d", s.HasBaseline(), res.Iters)
	}
	if got := p.ParamsFor(s); got != params {
		t.Fatalf("ParamsFor fitted = %+v", got)
	}

	bad := params
	bad.P = 1.5
	if _, err := p.Fit(context.Background(), carbonylSpectrum(t), bad); !errors.Is(err, goftircore.ErrInvalidParameter) {
		t.Fatalf("Fit with p=1.5 error = %v", err)
	}
}

func TestPipelinePeaksAssignsBands(t *testing.T) {
	p := NewPipeline(quietConfig())
	s := carbonylSpectrum(t)
	if _, err := p.Fit(context.Background(), s, p.ParamsFor(s)); err != nil {
		t.Fatal(err)
	}
	reports, corrected, err := p.Peaks(s, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if !corrected {
		t.Fatal("fitted spectrum analysed uncorrected")
	}
	var carbonyl *PeakReport
	for i := range reports {
		if math.Abs(reports[i].Position()-1740) < 5 {
			carbonyl = &reports[i]
		}
	}
	if carbonyl == nil {
		t.Fatalf("no peak near 1740 in %+v", reports)
	}
	if carbonyl.Fit == nil {
		t.Fatal("carbonyl peak not refined")
	}
	found := false
	for _, b := range carbonyl.Bands {
		if b.Class == "ester" {
			found = true
		}
	}
	if !found {
		t.Fatalf("bands at 1740 = %+v", carbonyl.Bands)
	}
}

func TestPipelinePeaksOnRawSeries(t *testing.T) {
	p := NewPipeline(quietConfig())
	_, corrected, err := p.Peaks(carbonylSpectrum(t), 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if corrected {
		t.Fatal("unfitted spectrum reported as corrected")
	}
}

func TestPipelineCorrelateUsesGridStep(t *testing.T) {
	cfg := quietConfig()
	cfg.GridStep = 5
	p := NewPipeline(cfg)
	a, b := carbonylSpectrum(t), carbonylSpectrum(t)
	b.Name = "copy"
	m, err := p.Correlate(goftircore.AnalysisSet{a, b}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Grid) != 101 {
		t.Fatalf("grid has %d points, want 101", len(m.Grid))
	}
}
