package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kacperjurak/goftircore"
	"github.com/kacperjurak/goftircore/internal/processing"
	"github.com/kacperjurak/goftircore/internal/testutil"
	"github.com/kacperjurak/goftircore/pkg/config"
	"github.com/kacperjurak/goftircore/pkg/models"
	"github.com/kacperjurak/goftircore/pkg/webhook"
	"github.com/kacperjurak/goftircore/pkg/worker"
)

func testPipeline() *processing.Pipeline {
	cfg := config.DefaultConfig()
	cfg.Quiet = true
	return processing.NewPipeline(cfg)
}

func document(t *testing.T, name string, lo, hi float64, n int) json.RawMessage {
	t.Helper()
	x := testutil.Grid(lo, hi, n)
	y := testutil.Add(testutil.Ramp(x, 0.1, 2e-4), testutil.Gaussian(x, (lo+hi)/2, 0.6, (hi-lo)/40))
	s, err := goftircore.NewSpectrum(name, x, y, goftircore.Range{Min: lo, Max: hi})
	if err != nil {
		t.Fatal(err)
	}
	data, err := goftircore.Encode(s)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func post(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", &buf))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("%w: bad", goftircore.ErrFormat), http.StatusBadRequest, "format"},
		{fmt.Errorf("%w: bad", goftircore.ErrInvalidParameter), http.StatusUnprocessableEntity, "invalid_parameter"},
		{fmt.Errorf("%w: bad", goftircore.ErrAlignment), http.StatusUnprocessableEntity, "alignment"},
		{fmt.Errorf("wrapped: %w", goftircore.ErrInsufficientData), http.StatusUnprocessableEntity, "insufficient_data"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, kind := classify(tt.err)
		if status != tt.status || kind != tt.kind {
			t.Errorf("classify(%v) = %d %q, want %d %q", tt.err, status, kind, tt.status, tt.kind)
		}
	}
}

func TestBaselineHandler(t *testing.T) {
	h := NewBaselineHandler(testPipeline(), 0)
	anchors := [][2]float64{{1200, 0.4}}
	rec := post(t, h, models.BaselineRequest{Document: document(t, "film", 400, 2000, 161), Anchors: &anchors})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	resp := decode[models.BaselineResponse](t, rec)
	if resp.Name != "film" || len(resp.Baseline) != 161 || len(resp.Corrected) != 161 || resp.RequestID == "" {
		t.Fatalf("response = %+v", resp)
	}
	if len(resp.Anchors) != 1 || resp.Params.Lambda != 1e5 {
		t.Fatalf("anchors=%v params=%+v", resp.Anchors, resp.Params)
	}
	// 1200 lies on the grid (step 10)
	idx := int(math.Round((1200 - 400) / 10))
	testutil.RequireNear(t, "baseline at anchor", resp.Baseline[idx], 0.4, 1e-6)

	s, err := goftircore.Decode(resp.Document)
	if err != nil {
		t.Fatalf("returned document does not decode: %v", err)
	}
	if !s.HasBaseline() || len(s.Anchors) != 1 {
		t.Fatalf("returned document baseline=%v anchors=%v", s.HasBaseline(), s.Anchors)
	}
}

func TestBaselineHandlerErrors(t *testing.T) {
	h := NewBaselineHandler(testPipeline(), 0)
	badP := 2.0
	tests := map[string]struct {
		body   any
		status int
	}{
		"invalid json":    {"{not json", http.StatusBadRequest},
		"missing doc":     {models.BaselineRequest{}, http.StatusBadRequest},
		"bad p":           {models.BaselineRequest{Document: document(t, "a", 400, 2000, 50), P: &badP}, http.StatusUnprocessableEntity},
		"anchor outside":  {models.BaselineRequest{Document: document(t, "a", 400, 2000, 50), Anchors: &[][2]float64{{5000, 1}}}, http.StatusUnprocessableEntity},
		"broken document": {models.BaselineRequest{Document: json.RawMessage(`{"name": "x", "range": [1, 0]}`)}, http.StatusBadRequest},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := post(t, h, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
			if resp := decode[models.ErrorResponse](t, rec); resp.Error == "" {
				t.Fatal("empty error message")
			}
		})
	}
}

func TestMethodsAndBodyLimit(t *testing.T) {
	h := NewBaselineHandler(testPipeline(), 64)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("OPTIONS status = %d headers = %v", rec.Code, rec.Header())
	}
	rec = post(t, h, models.BaselineRequest{Document: document(t, "a", 400, 2000, 50)})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized status = %d", rec.Code)
	}
}

func TestBatchHandler(t *testing.T) {
	pool := worker.New(worker.Options{Workers: 2, Quiet: true})
	defer pool.Shutdown()
	h := NewBatchHandler(testPipeline(), pool, nil, 0)
	defer h.Shutdown()

	badLambda := -1.0
	req := models.BatchRequest{
		BatchID: "run-7",
		Items: []models.BaselineRequest{
			{Document: document(t, "a", 400, 2000, 80)},
			{Document: document(t, "b", 400, 2000, 80), Lambda: &badLambda},
			{Document: document(t, "c", 600, 1800, 60)},
		},
	}
	rec := post(t, h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	resp := decode[models.BatchResponse](t, rec)
	if resp.BatchID != "run-7" || resp.Total != 3 || resp.Succeeded != 2 || resp.Failed != 1 {
		t.Fatalf("response = %+v", resp)
	}
	for i, item := range resp.Results {
		if item.Index != i {
			t.Fatalf("result %d has index %d", i, item.Index)
		}
	}
	if resp.Results[1].Success || resp.Results[1].Error == "" {
		t.Fatalf("bad item = %+v", resp.Results[1])
	}
	if r := resp.Results[2].Result; r == nil || r.Name != "c" || len(r.Baseline) != 60 {
		t.Fatalf("item c = %+v", resp.Results[2])
	}

	rec = post(t, h, models.BatchRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty batch status = %d", rec.Code)
	}

	// callbacks need a webhook client
	rec = post(t, h, models.BatchRequest{
		CallbackURL: "http://localhost/hook",
		Items:       []models.BaselineRequest{{Document: document(t, "a", 400, 2000, 80)}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("callback without client status = %d", rec.Code)
	}
}

func TestBatchHandlerCallback(t *testing.T) {
	delivered := make(chan models.BatchResponse, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var report models.BatchResponse
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			t.Errorf("callback body: %v", err)
		}
		if got := r.Header.Get("X-Batch-Id"); got != report.BatchID {
			t.Errorf("X-Batch-Id = %q, body has %q", got, report.BatchID)
		}
		delivered <- report
	}))
	defer hook.Close()

	pool := worker.New(worker.Options{Workers: 2, Quiet: true})
	defer pool.Shutdown()
	h := NewBatchHandler(testPipeline(), pool, webhook.NewClient(true), 0)
	defer h.Shutdown()

	rec := post(t, h, models.BatchRequest{CallbackURL: "ftp://example.com", Items: []models.BaselineRequest{{}}})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad callback status = %d", rec.Code)
	}

	rec = post(t, h, models.BatchRequest{
		BatchID:     "cb-1",
		CallbackURL: hook.URL,
		Items: []models.BaselineRequest{
			{Document: document(t, "a", 400, 2000, 80)},
			{Document: json.RawMessage(`{"broken": true}`)},
		},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	ack := decode[models.BatchAccepted](t, rec)
	if ack.BatchID != "cb-1" || ack.Total != 2 || ack.Status != "accepted" {
		t.Fatalf("ack = %+v", ack)
	}

	select {
	case report := <-delivered:
		if report.BatchID != "cb-1" || report.Succeeded != 1 || report.Failed != 1 {
			t.Fatalf("report = %+v", report)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("callback never delivered")
	}
}

func TestCorrelateHandler(t *testing.T) {
	h := NewCorrelateHandler(testPipeline(), 0)
	docs := []json.RawMessage{
		document(t, "a", 400, 2000, 161),
		document(t, "b", 400, 2000, 161),
	}
	rec := post(t, h, models.CorrelateRequest{Documents: docs})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	resp := decode[models.CorrelateResponse](t, rec)
	if len(resp.Labels) != 2 || resp.Labels[1] != "b" || resp.Grid.Points != 161 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Matrix[0][1] == nil {
		t.Fatal("identical spectra have an undefined coefficient")
	}
	testutil.RequireNear(t, "r(a,b)", *resp.Matrix[0][1], 1, 1e-9)

	disjoint := []json.RawMessage{document(t, "a", 400, 1000, 61), document(t, "b", 2000, 3000, 101)}
	rec = post(t, h, models.CorrelateRequest{Documents: disjoint})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("disjoint status = %d", rec.Code)
	}
	if resp := decode[models.ErrorResponse](t, rec); resp.Kind != "alignment" {
		t.Fatalf("disjoint kind = %q", resp.Kind)
	}

	rec = post(t, h, models.CorrelateRequest{Documents: docs, UseCorrected: true})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("corrected without baselines status = %d", rec.Code)
	}
}

func TestPeaksHandler(t *testing.T) {
	h := NewPeaksHandler(testPipeline(), 0)
	minProm := 0.2
	rec := post(t, h, models.PeaksRequest{Document: document(t, "film", 400, 2000, 161), MinProminence: &minProm})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	resp := decode[models.PeaksResponse](t, rec)
	if resp.Corrected || len(resp.Peaks) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if p := resp.Peaks[0]; math.Abs(p.X-1200) > 10 || p.Center == nil {
		t.Fatalf("peak = %+v", p)
	}
}
