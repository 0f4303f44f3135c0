package handlers

import (
	"fmt"
	"net/http"

	"github.com/kacperjurak/goftircore"
	"github.com/kacperjurak/goftircore/internal/processing"
	"github.com/kacperjurak/goftircore/pkg/models"
)

// CorrelateHandler correlates the documents of one request.
type CorrelateHandler struct {
	pipeline *processing.Pipeline
	maxBody  int64
}

func NewCorrelateHandler(pipeline *processing.Pipeline, maxBody int64) *CorrelateHandler {
	return &CorrelateHandler{pipeline: pipeline, maxBody: maxBody}
}

func (h *CorrelateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r) {
		return
	}

	var req models.CorrelateRequest
	if !decodeBody(w, r, h.maxBody, &req) {
		return
	}

	set := make(goftircore.AnalysisSet, 0, len(req.Documents))
	for i, doc := range req.Documents {
		s, err := goftircore.Decode(doc)
		if err != nil {
			writeFailure(w, fmt.Errorf("document %d: %w", i, err))
			return
		}
		set = append(set, s)
	}

	c := goftircore.Correlator{Step: h.pipeline.Config().GridStep}
	if req.GridStep != 0 {
		c.Step = req.GridStep
	}
	m, err := c.Correlate(set, req.UseCorrected)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, correlateResponse(m))
}

func correlateResponse(m *goftircore.CorrelationMatrix) models.CorrelateResponse {
	n := m.Size()
	rows := make([][]*float64, n)
	for i := range rows {
		rows[i] = make([]*float64, n)
		for j := range rows[i] {
			if v, ok := m.At(i, j); ok {
				rows[i][j] = &v
			}
		}
	}
	resp := models.CorrelateResponse{Labels: m.Labels, Matrix: rows}
	if len(m.Grid) > 0 {
		first, last := m.Grid[0], m.Grid[len(m.Grid)-1]
		resp.Grid = models.GridPayload{Min: min(first, last), Max: max(first, last), Points: len(m.Grid)}
	}
	return resp
}
