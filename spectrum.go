package goftircore

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
)

const (
	DefaultLambda = 1e5
	DefaultP      = 0.01
)

// Range is the wavenumber interval a spectrum is defined over.
type Range struct {
	Min float64
	Max float64
}

// Valid reports whether both bounds are finite and Min < Max.
func (r Range) Valid() bool {
	return !math.IsNaN(r.Min) && !math.IsNaN(r.Max) && !math.IsInf(r.Min, 0) && !math.IsInf(r.Max, 0) && r.Min < r.Max
}

// Contains reports whether x lies in [Min, Max].
func (r Range) Contains(x float64) bool {
	return x >= r.Min && x <= r.Max
}

// Span returns Max - Min.
func (r Range) Span() float64 {
	return r.Max - r.Min
}

// Intersect returns the common part of r and o. ok is false when the
// intersection is empty or a single point.
func (r Range) Intersect(o Range) (Range, bool) {
	res := Range{Min: math.Max(r.Min, o.Min), Max: math.Min(r.Max, o.Max)}
	return res, res.Min < res.Max
}

// Overlaps reports whether r and o share at least one point.
func (r Range) Overlaps(o Range) bool {
	return r.Min <= o.Max && r.Max >= o.Min
}

// Similar reports whether both endpoints lie within tol of o's, or the two
// ranges overlap at all.
func (r Range) Similar(o Range, tol float64) bool {
	if math.Abs(r.Min-o.Min) <= tol && math.Abs(r.Max-o.Max) <= tol {
		return true
	}
	return r.Overlaps(o)
}

// Anchor is an operator-placed point the baseline must pass through.
type Anchor struct {
	X float64
	Y float64
}

// Params are the ALS parameters last used to fit a baseline.
type Params struct {
	Lambda float64
	P      float64
	// Smooth runs the Savitzky-Golay preprocessor on the raw signal before fitting.
	Smooth bool
}

// DefaultParams returns lambda 1e5, p 0.01, no smoothing.
func DefaultParams() Params {
	return Params{Lambda: DefaultLambda, P: DefaultP}
}

// Validate checks lambda > 0 and p in (0,1).
func (p Params) Validate() error {
	if math.IsNaN(p.Lambda) || math.IsInf(p.Lambda, 0) || p.Lambda <= 0 {
		return fmt.Errorf("%w: lambda must be positive, got %g", ErrInvalidParameter, p.Lambda)
	}
	if math.IsNaN(p.P) || p.P <= 0 || p.P >= 1 {
		return fmt.Errorf("%w: p must be in (0,1), got %g", ErrInvalidParameter, p.P)
	}
	return nil
}

// Timestamp is a metadata time that re-emits the exact text it was parsed
// from, so files written by other tools survive a load/save unchanged.
type Timestamp struct {
	time.Time
	text string
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NewTimestamp wraps t; it is written as RFC 3339.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp accepts RFC 3339 and ISO-8601 local times and keeps s for
// re-emission.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t, text: s}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("%w: %q is not an ISO-8601 timestamp", ErrFormat, s)
}

// String returns the parsed text, or RFC 3339 for new timestamps.
func (t Timestamp) String() string {
	if t.text != "" {
		return t.text
	}
	return t.Time.Format(time.RFC3339Nano)
}

// Metadata carries provenance plus any fields this package does not know
// about, kept verbatim.
type Metadata struct {
	Created    Timestamp
	SourceFile string
	Modified   Timestamp
	Extra      map[string]json.RawMessage
}

// Spectrum is one absorbance-vs-wavenumber series together with its fitted
// baseline. Baseline, when present, is sampled on exactly X.
type Spectrum struct {
	Name     string
	Range    Range
	X        []float64
	Y        []float64
	Baseline []float64
	Anchors  []Anchor
	// Params is nil until a baseline has been fitted or loaded.
	Params   *Params
	Metadata Metadata
	// Extra holds unknown top-level keys of the persisted document.
	Extra map[string]json.RawMessage

	paramsExtra   map[string]json.RawMessage
	rawExtra      map[string]json.RawMessage
	baselineExtra map[string]json.RawMessage
	shape         docShape
}

// docShape remembers optional parts of a decoded document so Encode can
// reproduce them even when they carry no information.
type docShape struct {
	emptyBaseline bool
	metadata      bool
	sourceFile    bool
	params        bool
	smooth        bool
	anchors       bool
	emptyCreated  bool
	emptyModified bool
	// nulls holds the paths of optional keys that were explicitly null,
	// e.g. "baseline" or "metadata.created". Never mutated after decode.
	nulls map[string]bool
}

// NewSpectrum validates raw samples and returns a spectrum with no baseline
// and no anchors. Inputs are copied.
func NewSpectrum(name string, x, y []float64, r Range) (*Spectrum, error) {
	s := &Spectrum{
		Name:  name,
		Range: r,
		X:     slices.Clone(x),
		Y:     slices.Clone(y),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks every data-model invariant of s.
func (s *Spectrum) Validate() error {
	if len(s.X) != len(s.Y) {
		return fmt.Errorf("%w: x has %d samples, y has %d", ErrInvalidInput, len(s.X), len(s.Y))
	}
	if len(s.X) < 2 {
		return fmt.Errorf("%w: spectrum %q needs at least 2 samples, got %d", ErrInsufficientData, s.Name, len(s.X))
	}
	if err := checkFinite(s.X); err != nil {
		return err
	}
	if err := checkFinite(s.Y); err != nil {
		return err
	}
	if !strictlyMonotonic(s.X) {
		return fmt.Errorf("%w: x of %q is not strictly monotonic", ErrInvalidInput, s.Name)
	}
	if !s.Range.Valid() {
		return fmt.Errorf("%w: range [%g, %g] is not an ordered interval", ErrInvalidInput, s.Range.Min, s.Range.Max)
	}
	lo, hi := floats.Min(s.X), floats.Max(s.X)
	if !s.Range.Contains(lo) || !s.Range.Contains(hi) {
		return fmt.Errorf("%w: range [%g, %g] does not bound samples [%g, %g]", ErrInvalidInput, s.Range.Min, s.Range.Max, lo, hi)
	}
	if s.Baseline != nil {
		if len(s.Baseline) != len(s.X) {
			return fmt.Errorf("%w: baseline has %d samples, raw has %d", ErrInvalidInput, len(s.Baseline), len(s.X))
		}
		if err := checkFinite(s.Baseline); err != nil {
			return err
		}
	}
	if _, err := validateAnchors(s.Range, s.Anchors); err != nil {
		return err
	}
	if s.Params != nil {
		if err := s.Params.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// EmitEmptyBaseline makes Encode write a missing baseline as empty x and y
// arrays, the form instrument converters produce, instead of omitting it.
func (s *Spectrum) EmitEmptyBaseline() {
	s.shape.emptyBaseline = true
}

// Len returns the number of samples.
func (s *Spectrum) Len() int {
	return len(s.X)
}

// Descending reports whether X runs from high to low wavenumber.
func (s *Spectrum) Descending() bool {
	return len(s.X) > 1 && s.X[1] < s.X[0]
}

// HasBaseline reports whether a fitted baseline is attached.
func (s *Spectrum) HasBaseline() bool {
	return s.Baseline != nil
}

// Corrected returns raw minus baseline. It is never stored.
func (s *Spectrum) Corrected() ([]float64, error) {
	if s.Baseline == nil {
		return nil, fmt.Errorf("%w: spectrum %q has no fitted baseline", ErrInvalidInput, s.Name)
	}
	out := make([]float64, len(s.Y))
	floats.SubTo(out, s.Y, s.Baseline)
	return out, nil
}

// Clone returns a deep copy of s.
func (s *Spectrum) Clone() *Spectrum {
	c := *s
	c.X = slices.Clone(s.X)
	c.Y = slices.Clone(s.Y)
	c.Baseline = slices.Clone(s.Baseline)
	c.Anchors = slices.Clone(s.Anchors)
	if s.Params != nil {
		p := *s.Params
		c.Params = &p
	}
	c.Metadata.Extra = cloneRaw(s.Metadata.Extra)
	c.Extra = cloneRaw(s.Extra)
	c.paramsExtra = cloneRaw(s.paramsExtra)
	c.rawExtra = cloneRaw(s.rawExtra)
	c.baselineExtra = cloneRaw(s.baselineExtra)
	return &c
}

// WithAnchors returns a copy of s carrying anchors (sorted by x) and no
// baseline. The copy must be refit before Corrected is trusted.
func (s *Spectrum) WithAnchors(anchors []Anchor) (*Spectrum, error) {
	sorted, err := validateAnchors(s.Range, anchors)
	if err != nil {
		return nil, err
	}
	c := s.Clone()
	c.Anchors = sorted
	c.Baseline = nil
	c.shape.emptyBaseline = false
	return c, nil
}

// WithParams returns a copy of s with new ALS parameters and no baseline.
func (s *Spectrum) WithParams(p Params) (*Spectrum, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c := s.Clone()
	c.Params = &p
	c.Baseline = nil
	c.shape.emptyBaseline = false
	return c, nil
}

// Commit stores a fit result as the baseline of s. The result must have
// been computed for the current anchor set and sample grid of s.
func (s *Spectrum) Commit(res *Result) error {
	if res == nil {
		return fmt.Errorf("%w: nil fit result", ErrInvalidInput)
	}
	if len(res.Baseline) != len(s.X) {
		return fmt.Errorf("%w: fit has %d samples, spectrum %q has %d", ErrInvalidInput, len(res.Baseline), s.Name, len(s.X))
	}
	current, err := validateAnchors(s.Range, s.Anchors)
	if err != nil {
		return err
	}
	if !slices.Equal(res.Anchors, current) {
		return fmt.Errorf("%w: fit for %q was computed with a stale anchor set", ErrInvalidInput, s.Name)
	}
	p := res.Params
	s.Baseline = slices.Clone(res.Baseline)
	s.Params = &p
	s.shape.emptyBaseline = false
	return nil
}

// SpectralInfo summarises a spectrum.
type SpectralInfo struct {
	Points         int
	Wavenumbers    Range
	Absorbance     Range
	MeanResolution float64
	BaselineFitted bool
	AnchorCount    int
}

// Info summarises s.
func (s *Spectrum) Info() SpectralInfo {
	return SpectralInfo{
		Points:         len(s.X),
		Wavenumbers:    Range{Min: floats.Min(s.X), Max: floats.Max(s.X)},
		Absorbance:     Range{Min: floats.Min(s.Y), Max: floats.Max(s.Y)},
		MeanResolution: resolution(s.X),
		BaselineFitted: s.Baseline != nil,
		AnchorCount:    len(s.Anchors),
	}
}

// resolution is the mean absolute spacing of a monotonic grid.
func resolution(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return math.Abs(x[len(x)-1]-x[0]) / float64(len(x)-1)
}

func validateAnchors(r Range, anchors []Anchor) ([]Anchor, error) {
	if len(anchors) == 0 {
		return nil, nil
	}
	out := slices.Clone(anchors)
	for _, a := range out {
		if math.IsNaN(a.X) || math.IsInf(a.X, 0) || math.IsNaN(a.Y) || math.IsInf(a.Y, 0) {
			return nil, fmt.Errorf("%w: anchor (%g, %g) is not finite", ErrInvalidInput, a.X, a.Y)
		}
		if !r.Contains(a.X) {
			return nil, fmt.Errorf("%w: anchor x=%g outside range [%g, %g]", ErrInvalidParameter, a.X, r.Min, r.Max)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].X < out[j].X })
	for i := 1; i < len(out); i++ {
		if out[i].X == out[i-1].X {
			return nil, fmt.Errorf("%w: duplicate anchor at x=%g", ErrInvalidParameter, out[i].X)
		}
	}
	return out, nil
}

func checkFinite(v []float64) error {
	for i, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite value %v at index %d", ErrInvalidInput, f, i)
		}
	}
	return nil
}

func strictlyMonotonic(x []float64) bool {
	if len(x) < 2 {
		return true
	}
	asc := x[1] > x[0]
	for i := 1; i < len(x); i++ {
		if asc && !(x[i] > x[i-1]) {
			return false
		}
		if !asc && !(x[i] < x[i-1]) {
			return false
		}
	}
	return true
}

func cloneRaw(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}
