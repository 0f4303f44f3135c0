package goftircore

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kacperjurak/goftircore/internal/testutil"
	"gonum.org/v1/gonum/floats"
)

// rampWithBump is 100 points ramping 0→1 plus a Gaussian of height 0.5 at
// the midpoint.
func rampWithBump() (x, ramp, y []float64) {
	x = testutil.Grid(0, 99, 100)
	ramp = testutil.Ramp(x, 0, 1.0/99)
	y = testutil.Add(ramp, testutil.Gaussian(x, 50, 0.5, 4))
	return x, ramp, y
}

func TestSolveRecoversRampUnderBump(t *testing.T) {
	x, ramp, y := rampWithBump()
	res, err := NewSolver(x, y, Params{Lambda: 1e5, P: 0.01}).Solve(context.Background())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	testutil.RequireFinite(t, res.Baseline)

	dev, err := testutil.MaxAbsDiff(res.Baseline, ramp)
	if err != nil {
		t.Fatal(err)
	}
	if dev >= 0.05 {
		t.Fatalf("baseline deviates from ramp by %v, want < 0.05", dev)
	}

	corrected := make([]float64, len(y))
	floats.SubTo(corrected, y, res.Baseline)
	if h := floats.Max(corrected); math.Abs(h-0.5) > 0.05 {
		t.Fatalf("corrected bump height = %v, want 0.5 ± 10%%", h)
	}
}

func TestSolveBoundedness(t *testing.T) {
	x := testutil.Grid(4000, 400, 300)
	y := testutil.Add(
		testutil.Ramp(x, 0.2, 0.0001),
		testutil.Gaussian(x, 2900, 0.8, 40),
		testutil.Gaussian(x, 1700, 1.2, 25),
		testutil.DeterministicNoise(7, 0.01, len(x)),
	)
	for _, p := range []Params{{Lambda: 1e2, P: 0.001}, {Lambda: 1e5, P: 0.01}, {Lambda: 1e8, P: 0.5}} {
		res, err := NewSolver(x, y, p).Solve(context.Background())
		if err != nil {
			t.Fatalf("Solve(%+v): %v", p, err)
		}
		if floats.Min(res.Baseline) > floats.Max(y) {
			t.Fatalf("Solve(%+v): baseline entirely above signal", p)
		}
		if floats.Max(res.Baseline) < floats.Min(y) {
			t.Fatalf("Solve(%+v): baseline entirely below signal", p)
		}
	}
}

func TestSolveIdempotent(t *testing.T) {
	x, _, y := rampWithBump()
	a, err := NewSolver(x, y, DefaultParams()).Solve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSolver(x, y, DefaultParams()).Solve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	testutil.RequireSliceNearlyEqual(t, a.Baseline, b.Baseline, 0)
}

func TestSolveIterationCap(t *testing.T) {
	x, _, y := rampWithBump()
	s := NewSolver(x, y, DefaultParams())
	s.MaxIterations = 1
	res, err := s.Solve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Iters != 1 {
		t.Fatalf("Iters = %d, want 1", res.Iters)
	}
}

func TestSolveRejectsBeforeSolving(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{1, 2, 3, 4}
	tests := []struct {
		name string
		s    *Solver
		want error
	}{
		{"zero lambda", NewSolver(x, y, Params{Lambda: 0, P: 0.01}), ErrInvalidParameter},
		{"negative lambda", NewSolver(x, y, Params{Lambda: -1, P: 0.01}), ErrInvalidParameter},
		{"p zero", NewSolver(x, y, Params{Lambda: 1e5, P: 0}), ErrInvalidParameter},
		{"p one", NewSolver(x, y, Params{Lambda: 1e5, P: 1}), ErrInvalidParameter},
		{"two samples", NewSolver(x[:2], y[:2], DefaultParams()), ErrInsufficientData},
		{"nan sample", NewSolver(x, []float64{1, math.NaN(), 3, 4}, DefaultParams()), ErrInvalidInput},
		{"inf sample", NewSolver(x, []float64{1, 2, math.Inf(1), 4}, DefaultParams()), ErrInvalidInput},
		{"length mismatch", NewSolver(x, y[:3], DefaultParams()), ErrInvalidInput},
		{"unsorted x", NewSolver([]float64{1, 3, 2, 4}, y, DefaultParams()), ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.s.Solve(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Solve error = %v, want %v", err, tt.want)
			}
			if res != nil {
				t.Fatalf("Solve returned a result alongside %v", err)
			}
		})
	}
}

func TestSolveHonoursCancellation(t *testing.T) {
	x, _, y := rampWithBump()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSolver(x, y, DefaultParams()).Solve(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Solve error = %v, want context.Canceled", err)
	}
}

func TestSolveSmoothing(t *testing.T) {
	x, ramp, y := rampWithBump()
	y = testutil.Add(y, testutil.DeterministicNoise(3, 0.02, len(y)))
	p := Params{Lambda: 1e5, P: 0.01, Smooth: true}
	res, err := NewSolver(x, y, p).Solve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Params.Smooth {
		t.Fatal("Smooth flag lost from result params")
	}
	dev, _ := testutil.MaxAbsDiff(res.Baseline, ramp)
	if dev >= 0.05 {
		t.Fatalf("smoothed baseline deviates from ramp by %v", dev)
	}
}

func TestFitBaselineMatchesSolver(t *testing.T) {
	x, _, y := rampWithBump()
	z, err := FitBaseline(context.Background(), y, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	res, err := NewSolver(x, y, DefaultParams()).Solve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	testutil.RequireSliceNearlyEqual(t, z, res.Baseline, 0)

	if _, err := FitBaseline(context.Background(), y, Params{Lambda: math.NaN(), P: 0.1}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("FitBaseline error = %v, want ErrInvalidParameter", err)
	}
}

func TestSecondDifferencePenalty(t *testing.T) {
	d0, d1, d2 := secondDifferencePenalty(5)
	testutil.RequireSliceNearlyEqual(t, d0, []float64{1, 5, 6, 5, 1}, 0)
	testutil.RequireSliceNearlyEqual(t, d1, []float64{-2, -4, -4, -2, 0}, 0)
	testutil.RequireSliceNearlyEqual(t, d2, []float64{1, 1, 1, 0, 0}, 0)
}
