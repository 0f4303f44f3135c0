package goftircore

import (
	"errors"
	"math"
	"testing"

	"github.com/kacperjurak/goftircore/internal/testutil"
)

func mustSpectrum(t *testing.T, name string, x, y []float64) *Spectrum {
	t.Helper()
	lo, hi := math.Min(x[0], x[len(x)-1]), math.Max(x[0], x[len(x)-1])
	s, err := NewSpectrum(name, x, y, Range{Min: lo, Max: hi})
	if err != nil {
		t.Fatalf("NewSpectrum(%q): %v", name, err)
	}
	return s
}

func TestCorrelateSelfIsOne(t *testing.T) {
	x := testutil.Grid(4000, 400, 200)
	s := mustSpectrum(t, "a", x, testutil.Gaussian(x, 1700, 1, 80))
	m, err := Correlate(AnalysisSet{s, s}, false)
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			r, ok := m.At(i, j)
			if !ok {
				t.Fatalf("cell (%d,%d) undefined", i, j)
			}
			testutil.RequireNear(t, "r", r, 1, 1e-12)
		}
	}
}

func TestCorrelateSingle(t *testing.T) {
	x := testutil.Grid(0, 10, 11)
	s := mustSpectrum(t, "only", x, testutil.Ramp(x, 0, 1))
	m, err := Correlate(AnalysisSet{s}, false)
	if err != nil {
		t.Fatal(err)
	}
	if m.Size() != 1 {
		t.Fatalf("Size = %d, want 1", m.Size())
	}
	if r, ok := m.At(0, 0); !ok || r != 1 {
		t.Fatalf("At(0,0) = %v, %v", r, ok)
	}
}

func TestCorrelateSymmetric(t *testing.T) {
	x1 := testutil.Grid(4000, 400, 300)
	x2 := testutil.Grid(3800, 600, 170)
	x3 := testutil.Grid(450, 3990, 500)
	set := AnalysisSet{
		mustSpectrum(t, "a", x1, testutil.Add(testutil.Gaussian(x1, 1700, 1, 50), testutil.DeterministicNoise(1, 0.05, len(x1)))),
		mustSpectrum(t, "b", x2, testutil.Gaussian(x2, 1710, 0.7, 60)),
		mustSpectrum(t, "c", x3, testutil.Gaussian(x3, 2900, 1, 40)),
	}
	m, err := Correlate(set, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Labels; got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("Labels = %v", got)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a, _ := m.At(i, j)
			b, _ := m.At(j, i)
			if a != b {
				t.Fatalf("m[%d][%d]=%v != m[%d][%d]=%v", i, j, a, j, i, b)
			}
			if a < -1-1e-12 || a > 1+1e-12 {
				t.Fatalf("m[%d][%d]=%v outside [-1,1]", i, j, a)
			}
		}
	}
	if ab, _ := m.At(0, 1); ab < 0.8 {
		t.Fatalf("similar spectra correlate at %v", ab)
	}
	testutil.RequireNear(t, "grid start", m.Grid[0], 600, 1e-9)
	if last := m.Grid[len(m.Grid)-1]; last > 3800+1e-9 {
		t.Fatalf("grid ends at %v beyond overlap", last)
	}
}

func TestCorrelateDisjointRanges(t *testing.T) {
	x1 := testutil.Grid(400, 1000, 50)
	x2 := testutil.Grid(2000, 4000, 50)
	set := AnalysisSet{
		mustSpectrum(t, "low", x1, testutil.Ramp(x1, 0, 1)),
		mustSpectrum(t, "high", x2, testutil.Ramp(x2, 0, 1)),
	}
	m, err := Correlate(set, false)
	if !errors.Is(err, ErrAlignment) {
		t.Fatalf("Correlate error = %v, want ErrAlignment", err)
	}
	if m != nil {
		t.Fatal("Correlate returned a matrix for disjoint spectra")
	}
}

func TestCorrelateTinyOverlap(t *testing.T) {
	x1 := testutil.Grid(0, 10, 11)
	x2 := testutil.Grid(9.5, 20, 11)
	set := AnalysisSet{
		mustSpectrum(t, "a", x1, testutil.Ramp(x1, 0, 1)),
		mustSpectrum(t, "b", x2, testutil.Ramp(x2, 0, 1)),
	}
	if _, err := Correlate(set, false); !errors.Is(err, ErrAlignment) {
		t.Fatalf("Correlate error = %v, want ErrAlignment", err)
	}
}

func TestCorrelateFlatSeriesUndefined(t *testing.T) {
	x := testutil.Grid(0, 10, 21)
	set := AnalysisSet{
		mustSpectrum(t, "flat", x, testutil.DC(0.3, len(x))),
		mustSpectrum(t, "ramp", x, testutil.Ramp(x, 0, 1)),
	}
	m, err := Correlate(set, false)
	if err != nil {
		t.Fatal(err)
	}
	if r, ok := m.At(0, 1); ok || !math.IsNaN(r) {
		t.Fatalf("At(0,1) = %v, %v; want NaN, undefined", r, ok)
	}
	if r, ok := m.At(0, 0); !ok || r != 1 {
		t.Fatalf("diagonal = %v, %v; want 1", r, ok)
	}
}

func TestCorrelateCorrectedNeedsBaseline(t *testing.T) {
	x := testutil.Grid(0, 10, 11)
	s := mustSpectrum(t, "a", x, testutil.Ramp(x, 0, 1))
	if _, err := Correlate(AnalysisSet{s}, true); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Correlate error = %v, want ErrInvalidInput", err)
	}
}

func TestCorrelateEmptySet(t *testing.T) {
	if _, err := Correlate(nil, false); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Correlate error = %v, want ErrInsufficientData", err)
	}
}

func TestCorrelateDoesNotModifyInputs(t *testing.T) {
	x := testutil.Grid(4000, 400, 100)
	s := mustSpectrum(t, "a", x, testutil.Gaussian(x, 2000, 1, 100))
	s.Baseline = testutil.DC(0.1, len(x))
	before := s.Clone()
	if _, err := (Correlator{Step: 10}).Correlate(AnalysisSet{s, s}, true); err != nil {
		t.Fatal(err)
	}
	testutil.RequireSliceNearlyEqual(t, s.X, before.X, 0)
	testutil.RequireSliceNearlyEqual(t, s.Y, before.Y, 0)
	testutil.RequireSliceNearlyEqual(t, s.Baseline, before.Baseline, 0)
}
