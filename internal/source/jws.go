package source

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/kacperjurak/goftircore"
	"github.com/richardlehane/mscfb"
)

const (
	jwsInfoStream = "DataInfo"
	jwsDataStream = "Y-Data"
	jwsHeaderSize = 48
)

// JWSConverter reads JASCO .jws files: an OLE compound document whose
// DataInfo stream describes an evenly spaced x axis and whose Y-Data stream
// holds float32 samples per channel. Only the first channel is imported.
type JWSConverter struct {
	Now func() time.Time
}

func NewJWSConverter() *JWSConverter {
	return &JWSConverter{}
}

func (c *JWSConverter) Extensions() []string {
	return []string{".jws"}
}

func (c *JWSConverter) Convert(path string) (*goftircore.Spectrum, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", goftircore.ErrSourceConversion, err)
	}
	defer f.Close()

	doc, err := mscfb.New(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: not a compound document: %v", goftircore.ErrSourceConversion, filepath.Base(path), err)
	}
	var info, data []byte
	for entry, nerr := doc.Next(); nerr == nil; entry, nerr = doc.Next() {
		switch entry.Name {
		case jwsInfoStream:
			info, err = io.ReadAll(entry)
		case jwsDataStream:
			data, err = io.ReadAll(entry)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: read %s: %v", goftircore.ErrSourceConversion, filepath.Base(path), entry.Name, err)
		}
	}
	if info == nil || data == nil {
		return nil, fmt.Errorf("%w: %s: missing %s or %s stream", goftircore.ErrSourceConversion, filepath.Base(path), jwsInfoStream, jwsDataStream)
	}

	h, err := parseJWSHeader(info)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", goftircore.ErrSourceConversion, filepath.Base(path), err)
	}
	x, y, err := h.samples(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", goftircore.ErrSourceConversion, filepath.Base(path), err)
	}
	return builder{now: c.Now}.build(path, x, y, h.channels)
}

type jwsHeader struct {
	channels  int
	points    int
	first     float64
	last      float64
	increment float64
}

func parseJWSHeader(b []byte) (jwsHeader, error) {
	if len(b) < jwsHeaderSize {
		return jwsHeader{}, fmt.Errorf("DataInfo has %d bytes, need %d", len(b), jwsHeaderSize)
	}
	le := binary.LittleEndian
	h := jwsHeader{
		channels:  int(le.Uint32(b[12:])),
		points:    int(le.Uint32(b[20:])),
		first:     math.Float64frombits(le.Uint64(b[24:])),
		last:      math.Float64frombits(le.Uint64(b[32:])),
		increment: math.Float64frombits(le.Uint64(b[40:])),
	}
	if h.channels < 1 || h.points < 2 {
		return jwsHeader{}, fmt.Errorf("header declares %d channel(s) of %d point(s)", h.channels, h.points)
	}
	if h.increment == 0 || math.IsNaN(h.increment) || math.IsInf(h.increment, 0) {
		return jwsHeader{}, fmt.Errorf("invalid x increment %g", h.increment)
	}
	return h, nil
}

// samples rebuilds the x axis and decodes channel 0 of the float32 data.
func (h jwsHeader) samples(data []byte) ([]float64, []float64, error) {
	if len(data) < 4*h.points {
		return nil, nil, fmt.Errorf("Y-Data has %d bytes, need %d", len(data), 4*h.points)
	}
	x := make([]float64, h.points)
	y := make([]float64, h.points)
	for i := range x {
		x[i] = roundTo(h.first+float64(i)*h.increment, 6)
		y[i] = roundTo(float64(math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))), 8)
	}
	return x, y, nil
}

func roundTo(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
