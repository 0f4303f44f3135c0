package goftircore

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/kacperjurak/goftircore/internal/testutil"
	"gonum.org/v1/gonum/floats"
)

func TestSavitzkyGolayPreservesCubic(t *testing.T) {
	n := 40
	y := make([]float64, n)
	for i := range y {
		v := float64(i) / 10
		y[i] = 0.5 - 0.3*v + 0.2*v*v - 0.04*v*v*v
	}
	out, err := SavitzkyGolay{Window: 7, Order: 3}.Apply(y)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	testutil.RequireSliceNearlyEqual(t, out, y, 1e-9)
}

func TestSavitzkyGolayReducesNoise(t *testing.T) {
	x := testutil.Grid(0, 1, 200)
	clean := testutil.Gaussian(x, 0.5, 1, 0.1)
	noisy := testutil.Add(clean, testutil.DeterministicNoise(11, 0.05, len(x)))

	out, err := AutoSavitzkyGolay(len(x)).Apply(noisy)
	if err != nil {
		t.Fatal(err)
	}
	before := floats.Distance(noisy, clean, 2)
	after := floats.Distance(out, clean, 2)
	if after >= before {
		t.Fatalf("smoothing did not reduce error: %v -> %v", before, after)
	}
}

func TestSavitzkyGolayDoesNotMutateInput(t *testing.T) {
	y := testutil.DeterministicNoise(1, 1, 30)
	orig := slices.Clone(y)
	if _, err := (SavitzkyGolay{Window: 5, Order: 2}).Apply(y); err != nil {
		t.Fatal(err)
	}
	testutil.RequireSliceNearlyEqual(t, y, orig, 0)
}

func TestSavitzkyGolayValidation(t *testing.T) {
	tests := []struct {
		name string
		sg   SavitzkyGolay
		n    int
		want error
	}{
		{"even window", SavitzkyGolay{Window: 6, Order: 2}, 20, ErrInvalidParameter},
		{"window not above order", SavitzkyGolay{Window: 3, Order: 3}, 20, ErrInvalidParameter},
		{"negative order", SavitzkyGolay{Window: 5, Order: -1}, 20, ErrInvalidParameter},
		{"too short", SavitzkyGolay{Window: 11, Order: 3}, 7, ErrInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.sg.Apply(make([]float64, tt.n)); !errors.Is(err, tt.want) {
				t.Fatalf("Apply error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAutoSavitzkyGolay(t *testing.T) {
	tests := []struct {
		n      int
		window int
	}{
		{10, 5},
		{50, 5},
		{120, 13},
		{200, 21},
		{3000, 51},
	}
	for _, tt := range tests {
		sg := AutoSavitzkyGolay(tt.n)
		if sg.Window != tt.window || sg.Order != 3 {
			t.Fatalf("AutoSavitzkyGolay(%d) = %+v, want window %d order 3", tt.n, sg, tt.window)
		}
	}
}

func TestNormalize(t *testing.T) {
	out, err := Normalize([]float64{2, 4, 3, 6})
	if err != nil {
		t.Fatal(err)
	}
	testutil.RequireSliceNearlyEqual(t, out, []float64{0, 0.5, 0.25, 1}, 1e-15)

	if _, err := Normalize([]float64{3, 3, 3}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("flat series error = %v, want ErrInvalidInput", err)
	}
	if _, err := Normalize(nil); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("empty series error = %v, want ErrInsufficientData", err)
	}
}

func TestRenderLeavesSpectrumUntouched(t *testing.T) {
	x, _, y := rampWithBump()
	s, err := NewSpectrum("s", x, y, Range{Min: 0, Max: 99})
	if err != nil {
		t.Fatal(err)
	}
	s.Baseline = testutil.Ramp(x, 0, 1.0/99)
	before := s.Clone()

	_, out, err := s.Render(View{Corrected: true, Smoothing: &SavitzkyGolay{Window: 5, Order: 2}, Normalized: true})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(floats.Max(out)-1) > 1e-12 || math.Abs(floats.Min(out)) > 1e-12 {
		t.Fatalf("normalised view spans [%v, %v]", floats.Min(out), floats.Max(out))
	}
	testutil.RequireSliceNearlyEqual(t, s.Y, before.Y, 0)
	testutil.RequireSliceNearlyEqual(t, s.Baseline, before.Baseline, 0)
}

func TestRenderCorrectedNeedsBaseline(t *testing.T) {
	s, err := NewSpectrum("s", []float64{1, 2, 3}, []float64{1, 1, 2}, Range{Min: 0, Max: 10})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Render(View{Corrected: true}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Render error = %v, want ErrInvalidInput", err)
	}
}
