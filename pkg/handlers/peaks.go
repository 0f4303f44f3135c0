package handlers

import (
	"net/http"

	"github.com/kacperjurak/goftircore"
	"github.com/kacperjurak/goftircore/internal/processing"
	"github.com/kacperjurak/goftircore/pkg/models"
)

// PeaksHandler detects and assigns the peaks of one document.
type PeaksHandler struct {
	pipeline *processing.Pipeline
	maxBody  int64
}

func NewPeaksHandler(pipeline *processing.Pipeline, maxBody int64) *PeaksHandler {
	return &PeaksHandler{pipeline: pipeline, maxBody: maxBody}
}

func (h *PeaksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r) {
		return
	}

	var req models.PeaksRequest
	if !decodeBody(w, r, h.maxBody, &req) {
		return
	}
	s, err := goftircore.Decode(req.Document)
	if err != nil {
		writeFailure(w, err)
		return
	}
	minProminence := h.pipeline.Config().MinProminence
	if req.MinProminence != nil {
		minProminence = *req.MinProminence
	}

	reports, corrected, err := h.pipeline.Peaks(s, minProminence)
	if err != nil {
		writeFailure(w, err)
		return
	}
	resp := models.PeaksResponse{Name: s.Name, Corrected: corrected, Peaks: make([]models.PeakPayload, len(reports))}
	for i, rep := range reports {
		p := models.PeakPayload{X: rep.X, Height: rep.Height, Prominence: rep.Prominence}
		if rep.Fit != nil {
			center, fwhm := rep.Fit.Center, rep.Fit.FWHM
			p.Center, p.FWHM = &center, &fwhm
		}
		for _, b := range rep.Bands {
			p.Bands = append(p.Bands, models.BandPayload{Position: b.Position(), Group: b.Group, Class: b.Class, Details: b.Details})
		}
		resp.Peaks[i] = p
	}
	writeJSON(w, http.StatusOK, resp)
}
