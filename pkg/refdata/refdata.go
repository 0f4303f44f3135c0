// Package refdata holds the infrared absorption reference table used to
// suggest functional groups for detected peaks.
package refdata

import (
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed absorption.yaml
var absorptionYAML []byte

// Band is one row of the absorption table. Single-position bands have
// Min == Max.
type Band struct {
	Min     float64
	Max     float64
	Group   string
	Class   string
	Details string
}

func (b Band) Width() float64 {
	return b.Max - b.Min
}

// Position renders the band location the way the table prints it.
func (b Band) Position() string {
	if b.Min == b.Max {
		return strconv.FormatFloat(b.Min, 'f', -1, 64)
	}
	return fmt.Sprintf("%s - %s", strconv.FormatFloat(b.Min, 'f', -1, 64), strconv.FormatFloat(b.Max, 'f', -1, 64))
}

type bandDoc struct {
	At      string `yaml:"at"`
	Group   string `yaml:"group"`
	Class   string `yaml:"class"`
	Details string `yaml:"details"`
}

var (
	loadOnce sync.Once
	table    []Band
	loadErr  error
)

// Bands returns the whole table in source order. The slice is shared; do
// not modify it.
func Bands() ([]Band, error) {
	loadOnce.Do(func() {
		table, loadErr = Parse(absorptionYAML)
	})
	return table, loadErr
}

// Parse decodes a table document of the form {bands: [{at, group, class,
// details}]}, where at is "1700" or "1650-1750".
func Parse(data []byte) ([]Band, error) {
	var doc struct {
		Bands []bandDoc `yaml:"bands"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse absorption table: %w", err)
	}
	out := make([]Band, 0, len(doc.Bands))
	for i, d := range doc.Bands {
		lo, hi, err := parsePosition(d.At)
		if err != nil {
			return nil, fmt.Errorf("absorption table row %d: %w", i+1, err)
		}
		out = append(out, Band{Min: lo, Max: hi, Group: d.Group, Class: d.Class, Details: d.Details})
	}
	return out, nil
}

func parsePosition(s string) (float64, float64, error) {
	parts := strings.Split(s, "-")
	if len(parts) > 2 {
		return 0, 0, fmt.Errorf("bad position %q", s)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad position %q: %w", s, err)
	}
	hi := lo
	if len(parts) == 2 {
		if hi, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err != nil {
			return 0, 0, fmt.Errorf("bad position %q: %w", s, err)
		}
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo, hi, nil
}

// Assign lists the bands within tol of wavenumber x, narrowest first so the
// most specific assignment leads.
func Assign(x, tol float64) ([]Band, error) {
	bands, err := Bands()
	if err != nil {
		return nil, err
	}
	var out []Band
	for _, b := range bands {
		if x >= b.Min-tol && x <= b.Max+tol {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Width() < out[j].Width() })
	return out, nil
}
