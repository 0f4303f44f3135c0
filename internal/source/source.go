// Package source converts instrument exports into spectra.
package source

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kacperjurak/goftircore"
)

// Converter parses one instrument file. Every failure wraps
// goftircore.ErrSourceConversion.
type Converter interface {
	Convert(path string) (*goftircore.Spectrum, error)
	// Extensions lists the lower-case file extensions handled, with the dot.
	Extensions() []string
}

// Default returns the shipped converters.
func Default() []Converter {
	return []Converter{NewTextConverter(), NewJWSConverter()}
}

// ForPath picks the converter handling the extension of path.
func ForPath(path string, converters ...Converter) (Converter, error) {
	if len(converters) == 0 {
		converters = Default()
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, c := range converters {
		for _, e := range c.Extensions() {
			if e == ext {
				return c, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no converter for %q files", goftircore.ErrSourceConversion, ext)
}

// Handles reports whether any converter accepts path.
func Handles(path string, converters ...Converter) bool {
	_, err := ForPath(path, converters...)
	return err == nil
}

// builder assembles a converted spectrum the way every converter emits it:
// name from the file, range rounded outward to 10 cm⁻¹, unfitted baseline
// kept as empty arrays, provenance in metadata.
type builder struct {
	now func() time.Time
}

func (b builder) build(path string, x, y []float64, channels int) (*goftircore.Spectrum, error) {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: %s: no data points", goftircore.ErrSourceConversion, base)
	}
	lo, hi := x[0], x[0]
	for _, v := range x {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	r := goftircore.Range{Min: math.Floor(lo/10) * 10, Max: math.Ceil(hi/10) * 10}

	s, err := goftircore.NewSpectrum(name, x, y, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", goftircore.ErrSourceConversion, base, err)
	}
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	s.EmitEmptyBaseline()
	s.Metadata.Created = goftircore.NewTimestamp(now())
	s.Metadata.SourceFile = base
	s.Metadata.Extra = map[string]json.RawMessage{
		"channels": json.RawMessage(strconv.Itoa(channels)),
		"points":   json.RawMessage(strconv.Itoa(len(x))),
	}
	return s, nil
}
