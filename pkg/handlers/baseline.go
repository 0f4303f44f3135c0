package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/kacperjurak/goftircore"
	"github.com/kacperjurak/goftircore/internal/processing"
	"github.com/kacperjurak/goftircore/internal/utils"
	"github.com/kacperjurak/goftircore/pkg/models"
)

// BaselineHandler fits the baseline of a single document
type BaselineHandler struct {
	pipeline *processing.Pipeline
	maxBody  int64
}

func NewBaselineHandler(pipeline *processing.Pipeline, maxBody int64) *BaselineHandler {
	return &BaselineHandler{pipeline: pipeline, maxBody: maxBody}
}

// ServeHTTP implements the http.Handler interface
func (h *BaselineHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r) {
		return
	}

	var req models.BaselineRequest
	if !decodeBody(w, r, h.maxBody, &req) {
		return
	}

	requestID := utils.GenerateID()
	s, params, err := prepare(h.pipeline, req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if !h.pipeline.Config().Quiet {
		log.Printf("HTTP Request received - ID: %s, Spectrum: %s, Data points: %d", requestID, s.Name, s.Len())
	}

	res, err := h.pipeline.Fit(r.Context(), s, params)
	if err != nil {
		writeFailure(w, err)
		return
	}
	resp, err := baselineResponse(requestID, s, res)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// prepare decodes the document of req and applies its overrides.
func prepare(p *processing.Pipeline, req models.BaselineRequest) (*goftircore.Spectrum, goftircore.Params, error) {
	s, err := goftircore.Decode(req.Document)
	if err != nil {
		return nil, goftircore.Params{}, err
	}
	if req.Anchors != nil {
		anchors := make([]goftircore.Anchor, len(*req.Anchors))
		for i, a := range *req.Anchors {
			anchors[i] = goftircore.Anchor{X: a[0], Y: a[1]}
		}
		if s, err = s.WithAnchors(anchors); err != nil {
			return nil, goftircore.Params{}, err
		}
	}

	params := p.ParamsFor(s)
	if req.Lambda != nil {
		params.Lambda = *req.Lambda
	}
	if req.P != nil {
		params.P = *req.P
	}
	if req.Smooth != nil {
		params.Smooth = *req.Smooth
	}
	if err := params.Validate(); err != nil {
		return nil, goftircore.Params{}, err
	}
	return s, params, nil
}

func baselineResponse(requestID string, s *goftircore.Spectrum, res *goftircore.Result) (models.BaselineResponse, error) {
	corrected, err := s.Corrected()
	if err != nil {
		return models.BaselineResponse{}, err
	}
	doc, err := goftircore.Encode(s)
	if err != nil {
		return models.BaselineResponse{}, err
	}
	anchors := make([][2]float64, len(res.Anchors))
	for i, a := range res.Anchors {
		anchors[i] = [2]float64{a.X, a.Y}
	}
	return models.BaselineResponse{
		RequestID:  requestID,
		Name:       s.Name,
		X:          s.X,
		Baseline:   s.Baseline,
		Corrected:  corrected,
		Params:     models.ParamsPayload{Lambda: res.Params.Lambda, P: res.Params.P, Smooth: res.Params.Smooth},
		Anchors:    anchors,
		Iterations: res.Iters,
		Converged:  res.Converged,
		RuntimeMs:  float64(res.Runtime.Nanoseconds()) / float64(time.Millisecond),
		Document:   doc,
	}, nil
}
