package goftircore

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// AnalysisSet is an ordered selection of spectra. It references, never
// copies, its members.
type AnalysisSet []*Spectrum

// Names lists the spectrum names in set order.
func (a AnalysisSet) Names() []string {
	names := make([]string, len(a))
	for i, s := range a {
		names[i] = s.Name
	}
	return names
}

// Coefficient is one cell of a correlation matrix. Defined is false when
// either aligned series has zero variance; R is then NaN.
type Coefficient struct {
	R       float64
	Defined bool
}

// CorrelationMatrix is a symmetric N×N Pearson matrix labelled by spectrum
// name. The diagonal is exactly 1.
type CorrelationMatrix struct {
	Labels []string
	// Grid is the common x grid the series were aligned onto.
	Grid []float64

	values  *mat.SymDense
	defined []bool
}

// Size returns the number of spectra.
func (m *CorrelationMatrix) Size() int {
	return len(m.Labels)
}

// At returns cell (i,j) and whether it is defined.
func (m *CorrelationMatrix) At(i, j int) (float64, bool) {
	c := m.Cell(i, j)
	return c.R, c.Defined
}

// Cell returns cell (i,j) as a Coefficient.
func (m *CorrelationMatrix) Cell(i, j int) Coefficient {
	return Coefficient{R: m.values.At(i, j), Defined: m.defined[i*len(m.Labels)+j]}
}

// Index returns the row of label, or -1.
func (m *CorrelationMatrix) Index(label string) int {
	for i, l := range m.Labels {
		if l == label {
			return i
		}
	}
	return -1
}

// Rows returns the matrix as a 2-D grid; undefined cells hold NaN.
func (m *CorrelationMatrix) Rows() [][]float64 {
	n := m.Size()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = m.values.At(i, j)
		}
	}
	return rows
}

// Dense exposes the values as a gonum symmetric matrix (NaN where undefined).
func (m *CorrelationMatrix) Dense() *mat.SymDense {
	d := mat.NewSymDense(m.Size(), nil)
	d.CopySym(m.values)
	return d
}

// Correlator aligns spectra onto a common grid and correlates them.
type Correlator struct {
	// Step is the common grid spacing; zero selects the finest mean
	// resolution among the inputs.
	Step float64
}

// Correlate runs the default Correlator.
func Correlate(set AnalysisSet, useCorrected bool) (*CorrelationMatrix, error) {
	return Correlator{}.Correlate(set, useCorrected)
}

// Correlate computes the Pearson matrix over the corrected (or raw) series of
// set. The common grid spans the intersection of the sample extents, not of
// the declared ranges, so no series is ever extrapolated. It fails as a whole
// with ErrAlignment when the spectra share no usable grid. Inputs are only
// read.
func (c Correlator) Correlate(set AnalysisSet, useCorrected bool) (*CorrelationMatrix, error) {
	grid, series, err := c.Align(set, useCorrected)
	if err != nil {
		return nil, err
	}

	n := len(set)
	m := &CorrelationMatrix{
		Labels:  set.Names(),
		Grid:    grid,
		values:  mat.NewSymDense(n, nil),
		defined: make([]bool, n*n),
	}
	flat := make([]bool, n)
	for i, s := range series {
		flat[i] = floats.Max(s) == floats.Min(s)
	}
	for i := 0; i < n; i++ {
		m.values.SetSym(i, i, 1)
		m.defined[i*n+i] = true
		for j := i + 1; j < n; j++ {
			r, ok := math.NaN(), false
			if !flat[i] && !flat[j] {
				r = stat.Correlation(series[i], series[j], nil)
				ok = !math.IsNaN(r)
			}
			m.values.SetSym(i, j, r)
			m.defined[i*n+j] = ok
			m.defined[j*n+i] = ok
		}
	}
	return m, nil
}

// Align interpolates the chosen series of every spectrum onto the grid
// spanning the intersection of their sample extents.
func (c Correlator) Align(set AnalysisSet, useCorrected bool) ([]float64, [][]float64, error) {
	if len(set) == 0 {
		return nil, nil, fmt.Errorf("%w: no spectra to correlate", ErrInsufficientData)
	}
	if c.Step < 0 || math.IsNaN(c.Step) || math.IsInf(c.Step, 0) {
		return nil, nil, fmt.Errorf("%w: grid step must be positive, got %g", ErrInvalidParameter, c.Step)
	}

	common := Range{Min: math.Inf(-1), Max: math.Inf(1)}
	step := c.Step
	for _, s := range set {
		if s == nil || len(s.X) < 2 {
			return nil, nil, fmt.Errorf("%w: spectrum has fewer than 2 samples", ErrInsufficientData)
		}
		extent := Range{Min: floats.Min(s.X), Max: floats.Max(s.X)}
		var ok bool
		if common, ok = common.Intersect(extent); !ok {
			return nil, nil, fmt.Errorf("%w: %q does not overlap the other spectra", ErrAlignment, s.Name)
		}
		if c.Step == 0 {
			if res := resolution(s.X); step == 0 || res < step {
				step = res
			}
		}
	}

	count := int(math.Floor(common.Span()/step+1e-9)) + 1
	if count < 2 {
		return nil, nil, fmt.Errorf("%w: only %d grid point(s) in overlap [%g, %g]", ErrAlignment, count, common.Min, common.Max)
	}
	grid := make([]float64, count)
	floats.Span(grid, common.Min, common.Min+float64(count-1)*step)

	series := make([][]float64, len(set))
	for i, s := range set {
		y := s.Y
		if useCorrected {
			corrected, err := s.Corrected()
			if err != nil {
				return nil, nil, err
			}
			y = corrected
		}
		xs, ys := ascending(s.X, y)
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err != nil {
			return nil, nil, fmt.Errorf("%w: %q: %v", ErrAlignment, s.Name, err)
		}
		aligned := make([]float64, count)
		for k, g := range grid {
			aligned[k] = pl.Predict(g)
		}
		series[i] = aligned
	}
	return grid, series, nil
}
