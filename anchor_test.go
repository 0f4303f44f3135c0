package goftircore

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kacperjurak/goftircore/internal/testutil"
)

func fitWith(t *testing.T, x, y []float64, anchors []Anchor) *Result {
	t.Helper()
	s := NewSolver(x, y, DefaultParams())
	s.Anchors = anchors
	res, err := s.Solve(context.Background())
	if err != nil {
		t.Fatalf("Solve with %d anchors: %v", len(anchors), err)
	}
	return res
}

func TestAnchorPassThroughOnGrid(t *testing.T) {
	x, ramp, y := rampWithBump()
	want := ramp[30] + 0.2
	res := fitWith(t, x, y, []Anchor{{X: x[30], Y: want}})
	testutil.RequireNear(t, "baseline at anchor", res.Baseline[30], want, 1e-6)
	testutil.RequireNear(t, "At(anchor)", res.At(x[30]), want, 1e-6)
	testutil.RequireFinite(t, res.Baseline)
}

func TestAnchorPassThroughOffGrid(t *testing.T) {
	x, _, y := rampWithBump()
	anchors := []Anchor{{X: 20.5, Y: 0.1}, {X: 70.25, Y: 0.9}}
	res := fitWith(t, x, y, anchors)
	for _, a := range anchors {
		testutil.RequireNear(t, "At(anchor)", res.At(a.X), a.Y, 1e-6)
	}
}

func TestAnchorPassThroughDescendingGrid(t *testing.T) {
	x := testutil.Grid(4000, 400, 400)
	y := testutil.Add(testutil.Ramp(x, 0.1, 0.00005), testutil.Gaussian(x, 1650, 0.6, 30))
	anchors := []Anchor{{X: x[100], Y: 0.5}, {X: x[300], Y: 0.05}}
	res := fitWith(t, x, y, anchors)
	testutil.RequireNear(t, "first anchor", res.Baseline[100], 0.5, 1e-6)
	testutil.RequireNear(t, "second anchor", res.Baseline[300], 0.05, 1e-6)
}

func TestAnchorBlendRevertsAwayFromAnchor(t *testing.T) {
	x, _, y := rampWithBump()
	res := fitWith(t, x, y, []Anchor{{X: 50, Y: 0.8}})
	// radius is 6% of a 99-wide span
	for i, xi := range x {
		if math.Abs(xi-50) >= 6 {
			if math.Abs(res.Baseline[i]-res.ALS[i]) > 1e-12 {
				t.Fatalf("x=%v: blended %v differs from ALS %v outside the blend radius", xi, res.Baseline[i], res.ALS[i])
			}
		}
	}
}

func TestAnchorBlendIsContinuous(t *testing.T) {
	x, ramp, y := rampWithBump()
	res := fitWith(t, x, y, []Anchor{{X: 40, Y: ramp[40] + 0.3}})
	const h = 1e-4
	for at := 30.0; at <= 50; at += 0.37 {
		left, right := res.At(at-h), res.At(at+h)
		if math.Abs(right-left) > 1e-2 {
			t.Fatalf("jump of %v around x=%v", right-left, at)
		}
	}
}

func TestAnchorRemovalReproducesUnanchoredFit(t *testing.T) {
	x, _, y := rampWithBump()
	plain := fitWith(t, x, y, nil)

	s, err := NewSpectrum("sample", x, y, Range{Min: 0, Max: 100})
	if err != nil {
		t.Fatal(err)
	}
	anchored, err := s.WithAnchors([]Anchor{{X: 25, Y: 0.4}, {X: 60, Y: 0.2}})
	if err != nil {
		t.Fatal(err)
	}
	res, err := NewSpectrumSolver(anchored, DefaultParams()).Solve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := anchored.Commit(res); err != nil {
		t.Fatal(err)
	}
	testutil.RequireSliceNearlyEqual(t, res.ALS, plain.Baseline, 0)

	cleared, err := anchored.WithAnchors(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cleared.HasBaseline() {
		t.Fatal("clearing anchors kept a stale baseline")
	}
	again, err := NewSpectrumSolver(cleared, DefaultParams()).Solve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	testutil.RequireSliceNearlyEqual(t, again.Baseline, plain.Baseline, 0)
}

func TestAnchorValidation(t *testing.T) {
	x, _, y := rampWithBump()
	tests := []struct {
		name    string
		anchors []Anchor
		want    error
	}{
		{"outside range", []Anchor{{X: 150, Y: 0}}, ErrInvalidParameter},
		{"duplicate x", []Anchor{{X: 10, Y: 0}, {X: 10, Y: 1}}, ErrInvalidParameter},
		{"nan y", []Anchor{{X: 10, Y: math.NaN()}}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSolver(x, y, DefaultParams())
			s.Anchors = tt.anchors
			if _, err := s.Solve(context.Background()); !errors.Is(err, tt.want) {
				t.Fatalf("Solve error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUnsortedAnchorsAreOrdered(t *testing.T) {
	x, _, y := rampWithBump()
	res := fitWith(t, x, y, []Anchor{{X: 80, Y: 0.8}, {X: 20, Y: 0.2}})
	if res.Anchors[0].X != 20 || res.Anchors[1].X != 80 {
		t.Fatalf("anchors not sorted: %+v", res.Anchors)
	}
}

func TestCommitRejectsStaleAnchors(t *testing.T) {
	x, _, y := rampWithBump()
	s, err := NewSpectrum("sample", x, y, Range{Min: 0, Max: 99})
	if err != nil {
		t.Fatal(err)
	}
	res, err := NewSpectrumSolver(s, DefaultParams()).Solve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s.Anchors = []Anchor{{X: 40, Y: 0.3}}
	if err := s.Commit(res); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Commit error = %v, want ErrInvalidInput", err)
	}
	if s.HasBaseline() {
		t.Fatal("stale fit was committed")
	}
}
