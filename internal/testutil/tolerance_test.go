package testutil

import (
	"math"
	"testing"
)

func TestMaxAbsDiff(t *testing.T) {
	a := []float64{1.0, 2.0, 3.0}
	b := []float64{1.0, 2.1, 3.0}

	d, err := MaxAbsDiff(a, b)
	if err != nil {
		t.Fatalf("MaxAbsDiff error: %v", err)
	}

	if math.Abs(d-0.1) > 1e-15 {
		t.Fatalf("MaxAbsDiff = %v, want 0.1", d)
	}
}

func TestMaxAbsDiffLengthMismatch(t *testing.T) {
	_, err := MaxAbsDiff([]float64{1}, []float64{1, 2})
	if err == nil {
		t.Fatal("expected error for length mismatch")
	}
}

func TestGridDescending(t *testing.T) {
	g := Grid(4000, 400, 10)
	if g[0] != 4000 || math.Abs(g[9]-400) > 1e-9 {
		t.Fatalf("Grid endpoints = %v, %v", g[0], g[9])
	}
	for i := 1; i < len(g); i++ {
		if g[i] >= g[i-1] {
			t.Fatalf("Grid not descending at %d", i)
		}
	}
}

func TestGaussianPeak(t *testing.T) {
	x := Grid(0, 10, 11)
	y := Gaussian(x, 5, 2, 1)
	if y[5] != 2 {
		t.Fatalf("peak = %v, want 2", y[5])
	}
	if math.Abs(y[4]-y[6]) > 1e-15 {
		t.Fatalf("Gaussian not symmetric: %v vs %v", y[4], y[6])
	}
}
