package source

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kacperjurak/goftircore"
)

// TextConverter reads two-column wavenumber/absorbance exports separated by
// whitespace, commas, semicolons or tabs. Comment lines (#) and a header
// before the first data row are skipped; extra columns are ignored.
type TextConverter struct {
	// Now stamps metadata.created; nil means time.Now.
	Now func() time.Time
}

func NewTextConverter() *TextConverter {
	return &TextConverter{}
}

func (c *TextConverter) Extensions() []string {
	return []string{".txt", ".csv", ".dpt", ".dat", ".prn"}
}

func (c *TextConverter) Convert(path string) (*goftircore.Spectrum, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", goftircore.ErrSourceConversion, err)
	}
	defer f.Close()

	var x, y []float64
	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ';' || r == '\t' || r == ' '
		})
		xv, yv, ok := parsePair(fields)
		if !ok {
			if len(x) == 0 {
				// header
				continue
			}
			return nil, fmt.Errorf("%w: %s line %d: expected two numbers, got %q",
				goftircore.ErrSourceConversion, filepath.Base(path), lineNo, line)
		}
		x = append(x, xv)
		y = append(y, yv)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", goftircore.ErrSourceConversion, filepath.Base(path), err)
	}
	return builder{now: c.Now}.build(path, x, y, 1)
}

func parsePair(fields []string) (float64, float64, bool) {
	if len(fields) < 2 {
		return 0, 0, false
	}
	x, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}
