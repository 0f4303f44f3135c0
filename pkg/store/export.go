package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kacperjurak/goftircore"
)

var columnCleaner = strings.NewReplacer(" ", "_", ".", "_", "-", "_")

// ExportCSV writes set side by side, three columns per spectrum:
// wavenumber_<name>, <name>_raw and <name>_corrected. Spectra without a
// baseline export their raw values as corrected. Shorter spectra leave
// their trailing cells empty.
func ExportCSV(w io.Writer, set goftircore.AnalysisSet) error {
	if len(set) == 0 {
		return fmt.Errorf("%w: nothing to export", goftircore.ErrInsufficientData)
	}
	cw := csv.NewWriter(w)

	header := make([]string, 0, 3*len(set))
	columns := make([][3][]float64, len(set))
	rows := 0
	for i, s := range set {
		name := columnCleaner.Replace(s.Name)
		header = append(header, "wavenumber_"+name, name+"_raw", name+"_corrected")
		corrected := s.Y
		if s.HasBaseline() {
			c, err := s.Corrected()
			if err != nil {
				return err
			}
			corrected = c
		}
		columns[i] = [3][]float64{s.X, s.Y, corrected}
		rows = max(rows, s.Len())
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for r := 0; r < rows; r++ {
		for i, cols := range columns {
			for j, col := range cols {
				cell := ""
				if r < len(col) {
					cell = strconv.FormatFloat(col[r], 'g', -1, 64)
				}
				record[3*i+j] = cell
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
