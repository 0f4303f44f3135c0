package goftircore

import (
	"fmt"
	"slices"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// AnchorBlend overlays operator anchors on a smooth baseline.
//
// At each anchor the residual between the anchor and the baseline is
// recorded. A Fritsch-Butland cubic (C¹, no overshoot) runs through those
// residuals and through zero-valued tether knots placed one radius outside
// each group of anchors. The interpolant has zero slope at every tether, so
// the offset joins the untouched baseline with a continuous derivative and
// is exactly zero further away.
type AnchorBlend struct {
	base   interp.PiecewiseLinear
	offset interp.FritschButland
	lo, hi float64
}

// NewAnchorBlend prepares the blend of anchors into baseline z sampled on x.
// anchors must be sorted by x without duplicates; radius must be positive.
func NewAnchorBlend(x, z []float64, anchors []Anchor, radius float64) (*AnchorBlend, error) {
	if len(anchors) == 0 {
		return nil, fmt.Errorf("%w: no anchors to blend", ErrInvalidParameter)
	}
	if !(radius > 0) {
		return nil, fmt.Errorf("%w: blend radius must be positive, got %g", ErrInvalidParameter, radius)
	}
	xs, zs := ascending(x, z)
	b := &AnchorBlend{}
	if err := b.base.Fit(xs, zs); err != nil {
		return nil, fmt.Errorf("%w: baseline grid: %v", ErrInvalidInput, err)
	}

	knots := make([]float64, 0, 4*len(anchors)+4)
	values := make([]float64, 0, cap(knots))
	tether := func(at float64) {
		knots = append(knots, at)
		values = append(values, 0)
	}

	first, last := anchors[0].X, anchors[len(anchors)-1].X
	tether(first - 2*radius)
	tether(first - radius)
	for i, a := range anchors {
		knots = append(knots, a.X)
		values = append(values, a.Y-b.base.Predict(a.X))
		if i+1 < len(anchors) && anchors[i+1].X-a.X > 2*radius {
			tether(a.X + radius)
			tether(anchors[i+1].X - radius)
		}
	}
	tether(last + radius)
	tether(last + 2*radius)

	if !sort.Float64sAreSorted(knots) {
		return nil, fmt.Errorf("%w: anchors are not sorted", ErrInvalidParameter)
	}
	if err := b.offset.Fit(knots, values); err != nil {
		return nil, fmt.Errorf("%w: anchor interpolation: %v", ErrInvalidParameter, err)
	}
	b.lo, b.hi = first-radius, last+radius
	return b, nil
}

// Offset is the correction added to the baseline at x.
func (b *AnchorBlend) Offset(x float64) float64 {
	if x <= b.lo || x >= b.hi {
		return 0
	}
	return b.offset.Predict(x)
}

// At evaluates the blended baseline at any x.
func (b *AnchorBlend) At(x float64) float64 {
	return b.base.Predict(x) + b.Offset(x)
}

// Apply samples the blended baseline on grid x.
func (b *AnchorBlend) Apply(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, xi := range x {
		out[i] = b.At(xi)
	}
	return out
}

// ascending returns copies of x and y ordered by increasing x. x must be
// strictly monotonic.
func ascending(x, y []float64) ([]float64, []float64) {
	xs, ys := slices.Clone(x), slices.Clone(y)
	if len(xs) > 1 && xs[1] < xs[0] {
		slices.Reverse(xs)
		slices.Reverse(ys)
	}
	return xs, ys
}

// linearAt interpolates y over monotonic x, holding end values outside.
func linearAt(x, y []float64, at float64) float64 {
	var pl interp.PiecewiseLinear
	xs, ys := ascending(x, y)
	if err := pl.Fit(xs, ys); err != nil {
		return 0
	}
	return pl.Predict(at)
}
