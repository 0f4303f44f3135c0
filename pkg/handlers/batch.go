package handlers

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kacperjurak/goftircore/internal/processing"
	"github.com/kacperjurak/goftircore/internal/utils"
	"github.com/kacperjurak/goftircore/pkg/models"
	"github.com/kacperjurak/goftircore/pkg/webhook"
	"github.com/kacperjurak/goftircore/pkg/worker"
)

// BatchHandler fits many documents on the worker pool. It answers once
// every item has finished, or with 202 when the request names a callback.
type BatchHandler struct {
	pipeline   *processing.Pipeline
	workerPool *worker.Pool
	webhook    *webhook.Client
	maxBody    int64

	// ctx bounds callback deliveries; Shutdown waits for them.
	ctx       context.Context
	cancel    context.CancelFunc
	callbacks sync.WaitGroup
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(pipeline *processing.Pipeline, pool *worker.Pool, client *webhook.Client, maxBody int64) *BatchHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchHandler{
		pipeline:   pipeline,
		workerPool: pool,
		webhook:    client,
		maxBody:    maxBody,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Shutdown abandons pending callback batches and waits for their goroutines.
func (h *BatchHandler) Shutdown() {
	h.cancel()
	h.callbacks.Wait()
}

// ServeHTTP implements the http.Handler interface
func (h *BatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r) {
		return
	}

	var batch models.BatchRequest
	if !decodeBody(w, r, h.maxBody, &batch) {
		return
	}
	if len(batch.Items) == 0 {
		writeError(w, "No spectra provided in batch", "insufficient_data", http.StatusBadRequest)
		return
	}
	if batch.CallbackURL != "" {
		if u, err := url.Parse(batch.CallbackURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			writeError(w, "callback_url must be an absolute http(s) URL", "invalid_parameter", http.StatusUnprocessableEntity)
			return
		}
		if h.webhook == nil {
			writeError(w, "Callbacks are not enabled", "invalid_parameter", http.StatusUnprocessableEntity)
			return
		}
	}
	if batch.BatchID == "" {
		batch.BatchID = utils.GenerateBatchID()
	}
	quiet := h.pipeline.Config().Quiet

	if !quiet {
		log.Printf("🔄 Batch processing started - ID: %s, Spectra: %d", batch.BatchID, len(batch.Items))
	}
	run := h.submit(batch)

	if batch.CallbackURL == "" {
		resp, err := run.collect(r.Context())
		if err != nil {
			writeFailure(w, err)
			return
		}
		h.logCompleted(resp)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	h.callbacks.Add(1)
	go func() {
		defer h.callbacks.Done()
		resp, err := run.collect(h.ctx)
		if err != nil {
			log.Printf("❌ Batch %s abandoned: %v", batch.BatchID, err)
			return
		}
		h.logCompleted(resp)
		if err := h.webhook.Send(h.ctx, batch.CallbackURL, resp); err != nil {
			log.Printf("❌ Batch %s callback failed: %v", batch.BatchID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, models.BatchAccepted{
		BatchID: batch.BatchID,
		Status:  "accepted",
		Total:   len(batch.Items),
	})
}

// batchRun tracks the submitted items of one batch.
type batchRun struct {
	id      string
	started time.Time
	results []models.BatchItemResult
	reply   chan models.WorkResult
	pending int
}

// submit prepares every item and queues the valid ones. Invalid items are
// recorded as failures straight away.
func (h *BatchHandler) submit(batch models.BatchRequest) *batchRun {
	run := &batchRun{
		id:      batch.BatchID,
		started: time.Now(),
		results: make([]models.BatchItemResult, len(batch.Items)),
		reply:   make(chan models.WorkResult, len(batch.Items)),
	}
	for i, item := range batch.Items {
		run.results[i].Index = i
		s, params, err := prepare(h.pipeline, item)
		if err != nil {
			run.results[i].Error = err.Error()
			continue
		}
		run.results[i].Name = s.Name
		job := models.WorkItem{
			ID:        i,
			RequestID: utils.GenerateID(),
			BatchID:   batch.BatchID,
			Spectrum:  s,
			Params:    params,
			StartTime: time.Now(),
			Reply:     run.reply,
		}
		if err := h.workerPool.SubmitJob(job); err != nil {
			run.results[i].Error = err.Error()
			continue
		}
		run.pending++
	}
	return run
}

// collect waits for every queued item, or for ctx.
func (run *batchRun) collect(ctx context.Context) (models.BatchResponse, error) {
	for ; run.pending > 0; run.pending-- {
		select {
		case res := <-run.reply:
			processResult(res, run.results)
		case <-ctx.Done():
			return models.BatchResponse{}, ctx.Err()
		}
	}

	resp := models.BatchResponse{
		BatchID:   run.id,
		Total:     len(run.results),
		ElapsedMs: float64(time.Since(run.started).Nanoseconds()) / float64(time.Millisecond),
		Results:   run.results,
	}
	for _, res := range run.results {
		if res.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	return resp, nil
}

func (h *BatchHandler) logCompleted(resp models.BatchResponse) {
	if !h.pipeline.Config().Quiet {
		log.Printf("🎉 Batch processing completed - ID: %s, %d/%d fitted, Total time: %.2f ms",
			resp.BatchID, resp.Succeeded, resp.Total, resp.ElapsedMs)
	}
}

// processResult stores a worker result at its item index.
func processResult(res models.WorkResult, results []models.BatchItemResult) {
	item := &results[res.ID]
	if !res.Success() {
		item.Error = "fit produced no result"
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		return
	}
	body, err := baselineResponse(res.RequestID, res.Spectrum, res.Result)
	if err != nil {
		item.Error = err.Error()
		return
	}
	item.Success = true
	item.Result = &body
}
