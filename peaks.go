package goftircore

import (
	"fmt"
	"math"

	"github.com/maorshutman/lm"
)

// Peak is a local maximum of a (usually baseline-corrected) series.
type Peak struct {
	Index      int
	X          float64
	Height     float64
	Prominence float64
}

// FindPeaks returns the local maxima of y whose prominence is at least
// minProminence, in sample order. Plateaus report their first sample.
func FindPeaks(x, y []float64, minProminence float64) ([]Peak, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: x has %d samples, y has %d", ErrInvalidInput, len(x), len(y))
	}
	if len(y) < 3 {
		return nil, fmt.Errorf("%w: peak search needs at least 3 samples, got %d", ErrInsufficientData, len(y))
	}
	if err := checkFinite(y); err != nil {
		return nil, err
	}
	if minProminence < 0 || math.IsNaN(minProminence) {
		return nil, fmt.Errorf("%w: prominence must be >= 0, got %g", ErrInvalidParameter, minProminence)
	}

	var peaks []Peak
	n := len(y)
	for i := 1; i < n-1; i++ {
		if !(y[i] > y[i-1]) {
			continue
		}
		j := i
		for j+1 < n && y[j+1] == y[i] {
			j++
		}
		if j+1 >= n || !(y[j+1] < y[i]) {
			i = j
			continue
		}
		prom := prominence(y, i, j)
		if prom >= minProminence {
			peaks = append(peaks, Peak{Index: i, X: x[i], Height: y[i], Prominence: prom})
		}
		i = j
	}
	return peaks, nil
}

// prominence of the plateau y[lo..hi]: height above the higher of the two
// minima reached before the signal climbs above the peak on either side.
func prominence(y []float64, lo, hi int) float64 {
	top := y[lo]
	left := top
	for k := lo - 1; k >= 0 && y[k] <= top; k-- {
		left = math.Min(left, y[k])
	}
	right := top
	for k := hi + 1; k < len(y) && y[k] <= top; k++ {
		right = math.Min(right, y[k])
	}
	return top - math.Max(left, right)
}

// GaussianFit describes a Gaussian band h*exp(-(x-c)²/(2σ²)).
type GaussianFit struct {
	Center float64
	Height float64
	Sigma  float64
	FWHM   float64
	// RMS is the root-mean-square residual over the fitted window.
	RMS float64
}

// FitPeak refines p with a Levenberg-Marquardt Gaussian fit over the
// samples within halfWidth indices of the peak.
func FitPeak(x, y []float64, p Peak, halfWidth int) (fit GaussianFit, err error) {
	if len(x) != len(y) || p.Index < 0 || p.Index >= len(x) {
		return GaussianFit{}, fmt.Errorf("%w: peak index %d outside series", ErrInvalidInput, p.Index)
	}
	if halfWidth < 1 {
		return GaussianFit{}, fmt.Errorf("%w: half width must be >= 1, got %d", ErrInvalidParameter, halfWidth)
	}
	lo, hi := max(0, p.Index-halfWidth), min(len(x)-1, p.Index+halfWidth)
	xs, ys := x[lo:hi+1], y[lo:hi+1]
	if len(xs) < 4 {
		return GaussianFit{}, fmt.Errorf("%w: %d samples around peak, need 4", ErrInsufficientData, len(xs))
	}

	sigma := math.Abs(xs[len(xs)-1]-xs[0]) / 6
	f := func(dst, params []float64) {
		h, c, s := params[0], params[1], params[2]
		for k := range xs {
			d := xs[k] - c
			dst[k] = h*math.Exp(-d*d/(2*s*s)) - ys[k]
		}
	}
	jac := lm.NumJac{Func: f}
	problem := lm.LMProblem{
		Dim:        3,
		Size:       len(xs),
		Func:       f,
		Jac:        jac.Jac,
		InitParams: []float64{p.Height, p.X, sigma},
		Tau:        1e-6,
		Eps1:       1e-8,
		Eps2:       1e-8,
	}

	// lm panics on singular normal equations
	defer func() {
		if r := recover(); r != nil {
			fit = GaussianFit{}
			err = fmt.Errorf("%w: peak fit at x=%g diverged: %v", ErrInvalidInput, p.X, r)
		}
	}()
	res, err := lm.LM(problem, &lm.Settings{Iterations: 100, ObjectiveTol: 1e-16})
	if err != nil {
		return GaussianFit{}, fmt.Errorf("%w: peak fit at x=%g: %v", ErrInvalidInput, p.X, err)
	}

	h, c, s := res.X[0], res.X[1], math.Abs(res.X[2])
	if math.IsNaN(h) || math.IsNaN(c) || math.IsNaN(s) || s == 0 {
		return GaussianFit{}, fmt.Errorf("%w: peak fit at x=%g did not converge", ErrInvalidInput, p.X)
	}
	resid := make([]float64, len(xs))
	f(resid, []float64{h, c, s})
	ss := 0.0
	for _, r := range resid {
		ss += r * r
	}
	return GaussianFit{
		Center: c,
		Height: h,
		Sigma:  s,
		FWHM:   2 * math.Sqrt(2*math.Ln2) * s,
		RMS:    math.Sqrt(ss / float64(len(resid))),
	}, nil
}
