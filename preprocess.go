package goftircore

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SavitzkyGolay is a least-squares polynomial smoothing filter. Window is
// the odd number of samples per fit and Order the polynomial degree.
// Edges are handled by evaluating the polynomial fitted to the first and
// last full window.
type SavitzkyGolay struct {
	Window int
	Order  int
}

// AutoSavitzkyGolay picks the filter used when smoothing is requested with
// no explicit window: one tenth of the series capped at 51, at least 5,
// always odd, cubic.
func AutoSavitzkyGolay(n int) SavitzkyGolay {
	window := 5
	if n > 50 {
		window = min(51, n/10)
	}
	if window%2 == 0 {
		window++
	}
	if window < 5 {
		window = 5
	}
	return SavitzkyGolay{Window: window, Order: 3}
}

func (sg SavitzkyGolay) Validate() error {
	if sg.Order < 0 {
		return fmt.Errorf("%w: polynomial order must be >= 0, got %d", ErrInvalidParameter, sg.Order)
	}
	if sg.Window%2 == 0 || sg.Window <= 0 {
		return fmt.Errorf("%w: window must be odd and positive, got %d", ErrInvalidParameter, sg.Window)
	}
	if sg.Window <= sg.Order {
		return fmt.Errorf("%w: window %d must exceed order %d", ErrInvalidParameter, sg.Window, sg.Order)
	}
	return nil
}

// Apply returns the smoothed copy of y.
func (sg SavitzkyGolay) Apply(y []float64) ([]float64, error) {
	if err := sg.Validate(); err != nil {
		return nil, err
	}
	if len(y) < sg.Window {
		return nil, fmt.Errorf("%w: %d samples shorter than window %d", ErrInsufficientData, len(y), sg.Window)
	}
	if err := checkFinite(y); err != nil {
		return nil, err
	}

	half := sg.Window / 2
	vander := sg.vandermonde()
	coeffs, err := centerCoefficients(vander)
	if err != nil {
		return nil, err
	}

	n := len(y)
	out := make([]float64, n)
	for i := half; i < n-half; i++ {
		out[i] = floats.Dot(coeffs, y[i-half:i+half+1])
	}

	head, err := polyFit(vander, y[:sg.Window])
	if err != nil {
		return nil, err
	}
	tail, err := polyFit(vander, y[n-sg.Window:])
	if err != nil {
		return nil, err
	}
	for i := 0; i < half; i++ {
		out[i] = polyEval(head, float64(i-half))
		out[n-half+i] = polyEval(tail, float64(i+1))
	}
	return out, nil
}

// vandermonde builds the Window×(Order+1) design matrix over offsets
// -half..half.
func (sg SavitzkyGolay) vandermonde() *mat.Dense {
	half := sg.Window / 2
	a := mat.NewDense(sg.Window, sg.Order+1, nil)
	for i := 0; i < sg.Window; i++ {
		t := float64(i - half)
		v := 1.0
		for j := 0; j <= sg.Order; j++ {
			a.Set(i, j, v)
			v *= t
		}
	}
	return a
}

// centerCoefficients returns the convolution weights giving the fitted
// value at offset zero: row 0 of (A'A)^-1 A'.
func centerCoefficients(a *mat.Dense) ([]float64, error) {
	_, cols := a.Dims()
	var ata mat.Dense
	ata.Mul(a.T(), a)
	e0 := mat.NewVecDense(cols, nil)
	e0.SetVec(0, 1)
	var v mat.VecDense
	if err := v.SolveVec(&ata, e0); err != nil {
		return nil, fmt.Errorf("%w: Savitzky-Golay design: %v", ErrInvalidParameter, err)
	}
	var c mat.VecDense
	c.MulVec(a, &v)
	return slices.Clone(c.RawVector().Data), nil
}

// polyFit returns least-squares polynomial coefficients of y over the
// design matrix a.
func polyFit(a *mat.Dense, y []float64) ([]float64, error) {
	rows, _ := a.Dims()
	var beta mat.VecDense
	if err := beta.SolveVec(a, mat.NewVecDense(rows, slices.Clone(y))); err != nil {
		return nil, fmt.Errorf("%w: Savitzky-Golay edge fit: %v", ErrInvalidInput, err)
	}
	return slices.Clone(beta.RawVector().Data), nil
}

func polyEval(c []float64, t float64) float64 {
	v := 0.0
	for j := len(c) - 1; j >= 0; j-- {
		v = v*t + c[j]
	}
	return v
}

// Normalize rescales y linearly onto [0,1] using its own min and max.
func Normalize(y []float64) ([]float64, error) {
	if len(y) == 0 {
		return nil, fmt.Errorf("%w: nothing to normalise", ErrInsufficientData)
	}
	if err := checkFinite(y); err != nil {
		return nil, err
	}
	lo, hi := floats.Min(y), floats.Max(y)
	span := hi - lo
	if span == 0 || math.IsInf(span, 0) {
		return nil, fmt.Errorf("%w: flat series cannot be normalised", ErrInvalidInput)
	}
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = (v - lo) / span
	}
	return out, nil
}

// View selects how a spectrum is displayed. Rendering never changes the
// spectrum.
type View struct {
	// Corrected shows raw minus baseline instead of raw.
	Corrected bool
	// Smoothing, when set, is applied to the selected series.
	Smoothing *SavitzkyGolay
	// Normalized rescales the displayed series onto [0,1].
	Normalized bool
}

// Render returns copies of the x grid and the displayed series of s.
func (s *Spectrum) Render(v View) ([]float64, []float64, error) {
	y := slices.Clone(s.Y)
	if v.Corrected {
		c, err := s.Corrected()
		if err != nil {
			return nil, nil, err
		}
		y = c
	}
	var err error
	if v.Smoothing != nil {
		if y, err = v.Smoothing.Apply(y); err != nil {
			return nil, nil, err
		}
	}
	if v.Normalized {
		if y, err = Normalize(y); err != nil {
			return nil, nil, err
		}
	}
	return slices.Clone(s.X), y, nil
}
