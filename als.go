package goftircore

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultMaxIterations = 10
	// DefaultBlendFraction is the anchor blend radius as a fraction of the x-span.
	DefaultBlendFraction = 0.06
)

// Result is the outcome of one baseline fit.
type Result struct {
	// Baseline is the final baseline on the solver's x grid, anchors applied.
	Baseline []float64
	// ALS is the unconstrained ALS baseline the anchors were blended into.
	ALS       []float64
	Params    Params
	Anchors   []Anchor
	Iters     int
	Converged bool
	Runtime   time.Duration

	x     []float64
	blend *AnchorBlend
}

// At evaluates the continuous baseline at x. Between grid points it is the
// linear interpolation of the ALS fit plus the anchor offset, so At(a.X)
// equals a.Y for every anchor a.
func (r *Result) At(x float64) float64 {
	if r.blend != nil {
		return r.blend.At(x)
	}
	return linearAt(r.x, r.Baseline, x)
}

// Solver fits an ALS baseline to one spectrum.
type Solver struct {
	X       []float64
	Y       []float64
	Range   Range
	Params  Params
	Anchors []Anchor
	// MaxIterations bounds the reweighting loop; the loop also stops as soon
	// as no weight changes.
	MaxIterations int
	// BlendFraction sets the anchor blend radius relative to the x-span.
	BlendFraction float64
	// Smoothing overrides the automatic Savitzky-Golay filter used when
	// Params.Smooth is set.
	Smoothing *SavitzkyGolay
}

// NewSolver creates a solver for y sampled on x with default settings.
func NewSolver(x, y []float64, params Params) *Solver {
	return &Solver{
		X:             x,
		Y:             y,
		Params:        params,
		MaxIterations: DefaultMaxIterations,
		BlendFraction: DefaultBlendFraction,
	}
}

// NewSpectrumSolver prepares a solver over the raw samples and anchors of s.
func NewSpectrumSolver(s *Spectrum, params Params) *Solver {
	solver := NewSolver(s.X, s.Y, params)
	solver.Range = s.Range
	solver.Anchors = s.Anchors
	return solver
}

// Solve validates the inputs, runs ALS and blends in the anchors. Parameter
// and data errors are returned before any linear solve. ctx is checked
// between reweighting iterations.
func (s *Solver) Solve(ctx context.Context) (*Result, error) {
	start := time.Now()
	if err := s.validate(); err != nil {
		return nil, err
	}
	r := s.Range
	if !r.Valid() {
		r = Range{Min: floats.Min(s.X), Max: floats.Max(s.X)}
	}
	anchors, err := validateAnchors(r, s.Anchors)
	if err != nil {
		return nil, err
	}

	y := s.Y
	if s.Params.Smooth {
		sg := s.Smoothing
		if sg == nil {
			auto := AutoSavitzkyGolay(len(y))
			sg = &auto
		}
		if len(y) >= sg.Window {
			if y, err = sg.Apply(y); err != nil {
				return nil, err
			}
		}
	}

	maxIter := s.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	z, iters, converged, err := als(ctx, y, s.Params.Lambda, s.Params.P, maxIter)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ALS:       z,
		Baseline:  z,
		Params:    s.Params,
		Anchors:   anchors,
		Iters:     iters,
		Converged: converged,
		x:         s.X,
	}
	if len(anchors) > 0 {
		frac := s.BlendFraction
		if frac <= 0 {
			frac = DefaultBlendFraction
		}
		radius := frac * (floats.Max(s.X) - floats.Min(s.X))
		blend, err := NewAnchorBlend(s.X, z, anchors, radius)
		if err != nil {
			return nil, err
		}
		res.blend = blend
		res.Baseline = blend.Apply(s.X)
	}
	res.Runtime = time.Since(start)
	return res, nil
}

func (s *Solver) validate() error {
	if err := s.Params.Validate(); err != nil {
		return err
	}
	if len(s.X) != len(s.Y) {
		return fmt.Errorf("%w: x has %d samples, y has %d", ErrInvalidInput, len(s.X), len(s.Y))
	}
	if len(s.Y) < 3 {
		return fmt.Errorf("%w: ALS needs at least 3 samples, got %d", ErrInsufficientData, len(s.Y))
	}
	if err := checkFinite(s.X); err != nil {
		return err
	}
	if err := checkFinite(s.Y); err != nil {
		return err
	}
	if !strictlyMonotonic(s.X) {
		return fmt.Errorf("%w: x is not strictly monotonic", ErrInvalidInput)
	}
	return nil
}

// FitBaseline is a convenience wrapper running an anchor-free fit of y.
func FitBaseline(ctx context.Context, y []float64, params Params) ([]float64, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(y) < 3 {
		return nil, fmt.Errorf("%w: ALS needs at least 3 samples, got %d", ErrInsufficientData, len(y))
	}
	if err := checkFinite(y); err != nil {
		return nil, err
	}
	z, _, _, err := als(ctx, y, params.Lambda, params.P, DefaultMaxIterations)
	return z, err
}

// als solves (W + lambda*D'D) z = W y repeatedly, reweighting points above
// z with p and the rest with 1-p. D is the second-order difference
// operator; the system is pentadiagonal and solved by banded Cholesky.
func als(ctx context.Context, y []float64, lambda, p float64, maxIter int) ([]float64, int, bool, error) {
	n := len(y)
	d0, d1, d2 := secondDifferencePenalty(n)

	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	wy := make([]float64, n)
	z := make([]float64, n)

	var (
		chol mat.BandCholesky
		zv   mat.VecDense
	)
	a := mat.NewSymBandDense(n, 2, nil)
	iters := 0
	converged := false
	for iters < maxIter {
		if err := ctx.Err(); err != nil {
			return nil, iters, false, err
		}
		for i := 0; i < n; i++ {
			a.SetSymBand(i, i, w[i]+lambda*d0[i])
			if i+1 < n {
				a.SetSymBand(i, i+1, lambda*d1[i])
			}
			if i+2 < n {
				a.SetSymBand(i, i+2, lambda*d2[i])
			}
		}
		if ok := chol.Factorize(a); !ok {
			return nil, iters, false, fmt.Errorf("%w: penalised system is not positive definite", ErrInvalidInput)
		}
		floats.MulTo(wy, w, y)
		if err := chol.SolveVecTo(&zv, mat.NewVecDense(n, wy)); err != nil {
			return nil, iters, false, fmt.Errorf("%w: baseline solve failed: %v", ErrInvalidInput, err)
		}
		for i := 0; i < n; i++ {
			z[i] = zv.AtVec(i)
		}
		iters++

		changed := 0
		for i := 0; i < n; i++ {
			next := 1 - p
			if y[i] > z[i] {
				next = p
			}
			if next != w[i] {
				changed++
				w[i] = next
			}
		}
		if changed == 0 {
			converged = true
			break
		}
	}
	return z, iters, converged, nil
}

// secondDifferencePenalty returns the main, first and second diagonals of
// D'D for the (n-2)×n second-difference operator D.
func secondDifferencePenalty(n int) (d0, d1, d2 []float64) {
	d0 = make([]float64, n)
	d1 = make([]float64, n)
	d2 = make([]float64, n)
	c := [3]float64{1, -2, 1}
	for r := 0; r+2 < n; r++ {
		for a := 0; a < 3; a++ {
			for b := a; b < 3; b++ {
				v := c[a] * c[b]
				switch b - a {
				case 0:
					d0[r+a] += v
				case 1:
					d1[r+a] += v
				case 2:
					d2[r+a] += v
				}
			}
		}
	}
	return d0, d1, d2
}
