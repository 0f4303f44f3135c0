package goftircore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Keys of the persisted spectrum document.
const (
	keyName     = "name"
	keyRange    = "range"
	keyRawData  = "raw_data"
	keyBaseline = "baseline"
	keyMetadata = "metadata"

	keyCreated        = "created"
	keySourceFile     = "source_file"
	keyModified       = "modified"
	keyBaselineParams = "baseline_params"

	keyLambda  = "lambda"
	keyP       = "p"
	keySmooth  = "smooth"
	keyAnchors = "anchors"
)

type series struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// Decode parses one persisted spectrum document. Any structural problem,
// type mismatch or broken invariant is reported as ErrFormat; nothing is
// coerced. Unknown keys at every level and explicit nulls of optional keys
// are kept for Encode.
func Decode(data []byte) (*Spectrum, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if top == nil {
		return nil, fmt.Errorf("%w: document is not an object", ErrFormat)
	}

	s := &Spectrum{}
	if err := decodeField(top, keyName, &s.Name, true); err != nil {
		return nil, err
	}

	var r []float64
	if err := decodeField(top, keyRange, &r, true); err != nil {
		return nil, err
	}
	if len(r) != 2 || !(r[0] < r[1]) {
		return nil, fmt.Errorf("%w: range must be an ordered pair [min, max], got %v", ErrFormat, r)
	}
	s.Range = Range{Min: r[0], Max: r[1]}

	raw, rawExtra, err := decodeSeries(top, keyRawData, true)
	if err != nil {
		return nil, err
	}
	s.X, s.Y, s.rawExtra = raw.X, raw.Y, rawExtra

	if v, ok := top[keyBaseline]; ok && isNull(v) {
		s.shape.markNull(keyBaseline)
	} else if ok {
		b, extra, err := decodeSeries(top, keyBaseline, false)
		if err != nil {
			return nil, err
		}
		s.baselineExtra = extra
		switch {
		case len(b.X) == 0 && len(b.Y) == 0:
			s.shape.emptyBaseline = true
		case !slices.Equal(b.X, s.X):
			return nil, fmt.Errorf("%w: baseline x grid differs from raw_data x", ErrFormat)
		default:
			s.Baseline = b.Y
		}
	}

	if err := decodeMetadata(top, s); err != nil {
		return nil, err
	}

	for k, v := range top {
		switch k {
		case keyName, keyRange, keyRawData, keyBaseline, keyMetadata:
		default:
			if s.Extra == nil {
				s.Extra = map[string]json.RawMessage{}
			}
			s.Extra[k] = v
		}
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return s, nil
}

func decodeMetadata(top map[string]json.RawMessage, s *Spectrum) error {
	raw, ok := top[keyMetadata]
	if !ok {
		return nil
	}
	if isNull(raw) {
		s.shape.markNull(keyMetadata)
		return nil
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fmt.Errorf("%w: metadata: %v", ErrFormat, err)
	}
	s.shape.metadata = true

	var err error
	if s.Metadata.Created, s.shape.emptyCreated, err = decodeTimestamp(meta, keyCreated, &s.shape); err != nil {
		return err
	}
	if s.Metadata.Modified, s.shape.emptyModified, err = decodeTimestamp(meta, keyModified, &s.shape); err != nil {
		return err
	}
	if _, ok := meta[keySourceFile]; ok {
		if err := decodeField(meta, keySourceFile, &s.Metadata.SourceFile, true); err != nil {
			return err
		}
		s.shape.sourceFile = true
	}

	if bp, ok := meta[keyBaselineParams]; ok && isNull(bp) {
		s.shape.markNull(keyMetadata + "." + keyBaselineParams)
	} else if ok {
		if err := decodeParams(bp, s); err != nil {
			return err
		}
	}

	for k, v := range meta {
		switch k {
		case keyCreated, keyModified, keySourceFile, keyBaselineParams:
		default:
			if s.Metadata.Extra == nil {
				s.Metadata.Extra = map[string]json.RawMessage{}
			}
			s.Metadata.Extra[k] = v
		}
	}
	return nil
}

// decodeTimestamp reads an optional timestamp. An empty string is kept as
// such; a null is remembered in shape.
func decodeTimestamp(meta map[string]json.RawMessage, key string, shape *docShape) (Timestamp, bool, error) {
	raw, ok := meta[key]
	if !ok {
		return Timestamp{}, false, nil
	}
	if isNull(raw) {
		shape.markNull(keyMetadata + "." + key)
		return Timestamp{}, false, nil
	}
	var text string
	if err := decodeField(meta, key, &text, true); err != nil {
		return Timestamp{}, false, err
	}
	if text == "" {
		return Timestamp{}, true, nil
	}
	ts, err := ParseTimestamp(text)
	return ts, false, err
}

func decodeParams(raw json.RawMessage, s *Spectrum) error {
	var bp map[string]json.RawMessage
	if err := json.Unmarshal(raw, &bp); err != nil {
		return fmt.Errorf("%w: baseline_params: %v", ErrFormat, err)
	}
	if bp == nil {
		return fmt.Errorf("%w: baseline_params is not an object", ErrFormat)
	}
	s.shape.params = true
	_, hasLambda := bp[keyLambda]
	_, hasP := bp[keyP]
	// smooth without lambda and p describes no fit; it is kept verbatim
	fitted := hasLambda || hasP
	if v, ok := bp[keySmooth]; ok && fitted {
		if isNull(v) {
			s.shape.markNull(keyBaselineParams + "." + keySmooth)
		} else {
			s.shape.smooth = true
		}
	}
	if v, ok := bp[keyAnchors]; ok {
		if isNull(v) {
			s.shape.markNull(keyBaselineParams + "." + keyAnchors)
		} else {
			s.shape.anchors = true
		}
	}
	if fitted {
		var p Params
		if err := decodeField(bp, keyLambda, &p.Lambda, true); err != nil {
			return err
		}
		if err := decodeField(bp, keyP, &p.P, true); err != nil {
			return err
		}
		if err := decodeField(bp, keySmooth, &p.Smooth, false); err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: baseline_params: %v", ErrFormat, err)
		}
		s.Params = &p
	}

	var pairs [][]float64
	if err := decodeField(bp, keyAnchors, &pairs, false); err != nil {
		return err
	}
	for _, pair := range pairs {
		if len(pair) != 2 {
			return fmt.Errorf("%w: anchor must be an [x, y] pair, got %v", ErrFormat, pair)
		}
		s.Anchors = append(s.Anchors, Anchor{X: pair[0], Y: pair[1]})
	}

	for k, v := range bp {
		switch {
		case k == keyLambda, k == keyP, k == keyAnchors:
		case k == keySmooth && fitted:
		default:
			if s.paramsExtra == nil {
				s.paramsExtra = map[string]json.RawMessage{}
			}
			s.paramsExtra[k] = v
		}
	}
	return nil
}

// decodeSeries reads an {x, y} object and returns its other keys verbatim.
func decodeSeries(obj map[string]json.RawMessage, key string, required bool) (series, map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := decodeField(obj, key, &fields, required); err != nil {
		return series{}, nil, err
	}
	var out series
	if err := decodeField(fields, "x", &out.X, true); err != nil {
		return series{}, nil, fmt.Errorf("%s: %w", key, err)
	}
	if err := decodeField(fields, "y", &out.Y, true); err != nil {
		return series{}, nil, fmt.Errorf("%s: %w", key, err)
	}
	if len(out.X) != len(out.Y) {
		return series{}, nil, fmt.Errorf("%w: %s has %d x and %d y values", ErrFormat, key, len(out.X), len(out.Y))
	}
	var extra map[string]json.RawMessage
	for k, v := range fields {
		if k == "x" || k == "y" {
			continue
		}
		if extra == nil {
			extra = map[string]json.RawMessage{}
		}
		extra[k] = v
	}
	return out, extra, nil
}

// seriesDoc renders x and y together with preserved keys.
func seriesDoc(x, y []float64, extra map[string]json.RawMessage) any {
	if len(extra) == 0 {
		return series{X: x, Y: y}
	}
	doc := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		doc[k] = v
	}
	doc["x"] = x
	doc["y"] = y
	return doc
}

func (d *docShape) markNull(path string) {
	if d.nulls == nil {
		d.nulls = map[string]bool{}
	}
	d.nulls[path] = true
}

// decodeField unmarshals obj[key] into dst. A missing required key or a
// value of the wrong JSON type is an ErrFormat.
func decodeField(obj map[string]json.RawMessage, key string, dst any, required bool) error {
	raw, ok := obj[key]
	if !ok {
		if required {
			return fmt.Errorf("%w: missing %q", ErrFormat, key)
		}
		return nil
	}
	if isNull(raw) {
		if required {
			return fmt.Errorf("%w: %q is null", ErrFormat, key)
		}
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrFormat, key, err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Encode renders s as an indented persisted document, re-emitting every
// preserved unknown key. Encode(Decode(f)) is JSON-equal to f.
func Encode(s *Spectrum) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	doc := make(map[string]any, len(s.Extra)+5)
	for k, v := range s.Extra {
		doc[k] = v
	}
	doc[keyName] = s.Name
	doc[keyRange] = [2]float64{s.Range.Min, s.Range.Max}
	doc[keyRawData] = seriesDoc(s.X, s.Y, s.rawExtra)
	switch {
	case s.Baseline != nil:
		doc[keyBaseline] = seriesDoc(s.X, s.Baseline, s.baselineExtra)
	case s.shape.emptyBaseline:
		doc[keyBaseline] = seriesDoc([]float64{}, []float64{}, s.baselineExtra)
	case s.shape.nulls[keyBaseline]:
		doc[keyBaseline] = nil
	}

	meta := make(map[string]any, len(s.Metadata.Extra)+4)
	for k, v := range s.Metadata.Extra {
		meta[k] = v
	}
	s.shape.encodeTimestamp(meta, keyCreated, s.Metadata.Created, s.shape.emptyCreated)
	s.shape.encodeTimestamp(meta, keyModified, s.Metadata.Modified, s.shape.emptyModified)
	if s.Metadata.SourceFile != "" || s.shape.sourceFile {
		meta[keySourceFile] = s.Metadata.SourceFile
	}
	if s.Params != nil || len(s.Anchors) > 0 || len(s.paramsExtra) > 0 || s.shape.params {
		bp := make(map[string]any, len(s.paramsExtra)+4)
		for k, v := range s.paramsExtra {
			bp[k] = v
		}
		if s.Params != nil {
			bp[keyLambda] = s.Params.Lambda
			bp[keyP] = s.Params.P
			switch {
			case s.Params.Smooth || s.shape.smooth:
				bp[keySmooth] = s.Params.Smooth
			case s.shape.nulls[keyBaselineParams+"."+keySmooth]:
				bp[keySmooth] = nil
			default:
				delete(bp, keySmooth)
			}
		}
		if len(s.Anchors) > 0 || s.shape.anchors {
			pairs := make([][2]float64, len(s.Anchors))
			for i, a := range s.Anchors {
				pairs[i] = [2]float64{a.X, a.Y}
			}
			bp[keyAnchors] = pairs
		} else if s.shape.nulls[keyBaselineParams+"."+keyAnchors] {
			bp[keyAnchors] = nil
		}
		meta[keyBaselineParams] = bp
	} else if s.shape.nulls[keyMetadata+"."+keyBaselineParams] {
		meta[keyBaselineParams] = nil
	}
	switch {
	case len(meta) > 0 || s.shape.metadata:
		doc[keyMetadata] = meta
	case s.shape.nulls[keyMetadata]:
		doc[keyMetadata] = nil
	}

	return json.MarshalIndent(doc, "", "  ")
}

func (d docShape) encodeTimestamp(meta map[string]any, key string, ts Timestamp, empty bool) {
	switch {
	case ts.text != "" || !ts.IsZero():
		meta[key] = ts.String()
	case empty:
		meta[key] = ""
	case d.nulls[keyMetadata+"."+key]:
		meta[key] = nil
	}
}
