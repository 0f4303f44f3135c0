package models

import (
	"encoding/json"
	"time"

	"github.com/kacperjurak/goftircore"
)

// BaselineRequest asks for one baseline fit. Document is a persisted
// spectrum document; nil parameter fields keep the document's own fit
// parameters, or the server defaults when it has none.
type BaselineRequest struct {
	Document json.RawMessage `json:"document"`
	Lambda   *float64        `json:"lambda,omitempty"`
	P        *float64        `json:"p,omitempty"`
	Smooth   *bool           `json:"smooth,omitempty"`
	// Anchors replaces the document's anchors when present, even if empty.
	Anchors *[][2]float64 `json:"anchors,omitempty"`
}

// BaselineResponse carries the fitted baseline and the updated document.
type BaselineResponse struct {
	RequestID  string          `json:"request_id"`
	Name       string          `json:"name"`
	X          []float64       `json:"x"`
	Baseline   []float64       `json:"baseline"`
	Corrected  []float64       `json:"corrected"`
	Params     ParamsPayload   `json:"params"`
	Anchors    [][2]float64    `json:"anchors"`
	Iterations int             `json:"iterations"`
	Converged  bool            `json:"converged"`
	RuntimeMs  float64         `json:"runtime_ms"`
	Document   json.RawMessage `json:"document"`
}

type ParamsPayload struct {
	Lambda float64 `json:"lambda"`
	P      float64 `json:"p"`
	Smooth bool    `json:"smooth"`
}

// BatchRequest fits many documents on the worker pool. With a CallbackURL
// the request is answered with 202 and the BatchResponse is posted there
// once every item has finished.
type BatchRequest struct {
	BatchID     string            `json:"batch_id"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Items       []BaselineRequest `json:"items"`
}

// BatchAccepted acknowledges a batch delivered by callback.
type BatchAccepted struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
	Total   int    `json:"total"`
}

// BatchItemResult reports one item of a batch, in request order.
type BatchItemResult struct {
	Index   int               `json:"index"`
	Name    string            `json:"name,omitempty"`
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Result  *BaselineResponse `json:"result,omitempty"`
}

type BatchResponse struct {
	BatchID   string            `json:"batch_id"`
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	ElapsedMs float64           `json:"elapsed_ms"`
	Results   []BatchItemResult `json:"results"`
}

// CorrelateRequest correlates the given documents in order.
type CorrelateRequest struct {
	Documents    []json.RawMessage `json:"documents"`
	UseCorrected bool              `json:"use_corrected"`
	// GridStep 0 uses the finest resolution among the documents.
	GridStep float64 `json:"grid_step,omitempty"`
}

// CorrelateResponse holds the labelled matrix. Undefined cells are null.
type CorrelateResponse struct {
	Labels []string     `json:"labels"`
	Matrix [][]*float64 `json:"matrix"`
	Grid   GridPayload  `json:"grid"`
}

type GridPayload struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Points int     `json:"points"`
}

// PeaksRequest detects peaks on a document's corrected series, or its raw
// series when it has no baseline.
type PeaksRequest struct {
	Document      json.RawMessage `json:"document"`
	MinProminence *float64        `json:"min_prominence,omitempty"`
}

type PeaksResponse struct {
	Name      string        `json:"name"`
	Corrected bool          `json:"corrected"`
	Peaks     []PeakPayload `json:"peaks"`
}

type PeakPayload struct {
	X          float64       `json:"x"`
	Height     float64       `json:"height"`
	Prominence float64       `json:"prominence"`
	Center     *float64      `json:"center,omitempty"`
	FWHM       *float64      `json:"fwhm,omitempty"`
	Bands      []BandPayload `json:"bands,omitempty"`
}

type BandPayload struct {
	Position string `json:"position"`
	Group    string `json:"group"`
	Class    string `json:"class"`
	Details  string `json:"details"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// WorkItem is one baseline fit queued on the worker pool. Reply, when set,
// receives the result instead of the pool's shared results channel.
type WorkItem struct {
	ID        int
	RequestID string
	BatchID   string
	Spectrum  *goftircore.Spectrum
	Params    goftircore.Params
	StartTime time.Time
	Reply     chan<- WorkResult
}

// WorkResult contains the outcome of a WorkItem. On success Spectrum holds
// the committed baseline.
type WorkResult struct {
	ID             int
	RequestID      string
	BatchID        string
	Spectrum       *goftircore.Spectrum
	Result         *goftircore.Result
	Err            error
	ProcessingTime time.Duration
}

func (r WorkResult) Success() bool {
	return r.Err == nil && r.Result != nil
}
