package goftircore

import (
	"context"
	"sync"
)

// Refitter serialises baseline recomputation per spectrum name. Starting a
// new fit cancels the one still running for the same name, and only the
// newest fit is allowed to write the baseline.
type Refitter struct {
	MaxIterations int
	BlendFraction float64
	Smoothing     *SavitzkyGolay
	// OnCommit runs after a fit is committed, while s is still owned by the
	// refitter.
	OnCommit func(s *Spectrum)

	mu       sync.Mutex
	seq      uint64
	inflight map[string]inflightFit
}

type inflightFit struct {
	id     uint64
	cancel context.CancelFunc
}

// NewRefitter creates a refitter with the default iteration and blend settings.
func NewRefitter() *Refitter {
	return &Refitter{
		MaxIterations: DefaultMaxIterations,
		BlendFraction: DefaultBlendFraction,
		inflight:      make(map[string]inflightFit),
	}
}

// CommitFunc applies a finished fit. It runs under the refitter lock, so
// commits never interleave.
type CommitFunc func(res *Result) error

// Refit recomputes the baseline of s with params and the current anchors of
// s, then commits it to s. A fit superseded by a later call for the same
// name returns context.Canceled and leaves s untouched.
func (r *Refitter) Refit(ctx context.Context, s *Spectrum, params Params) (*Result, error) {
	return r.RefitWith(ctx, s, params, func(res *Result) error {
		if err := s.Commit(res); err != nil {
			return err
		}
		if r.OnCommit != nil {
			r.OnCommit(s)
		}
		return nil
	})
}

// RefitWith fits a snapshot of s like Refit but hands the newest result to
// commit instead of writing s. s itself is only read.
func (r *Refitter) RefitWith(ctx context.Context, s *Spectrum, params Params, commit CommitFunc) (*Result, error) {
	// fail fast, without disturbing a running fit
	if err := params.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.inflight == nil {
		r.inflight = make(map[string]inflightFit)
	}
	if prev, ok := r.inflight[s.Name]; ok {
		prev.cancel()
	}
	r.seq++
	id := r.seq
	r.inflight[s.Name] = inflightFit{id: id, cancel: cancel}
	snapshot := s.Clone()
	r.mu.Unlock()

	solver := NewSpectrumSolver(snapshot, params)
	if r.MaxIterations > 0 {
		solver.MaxIterations = r.MaxIterations
	}
	if r.BlendFraction > 0 {
		solver.BlendFraction = r.BlendFraction
	}
	solver.Smoothing = r.Smoothing
	res, err := solver.Solve(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	latest := r.inflight[s.Name].id == id
	if latest {
		delete(r.inflight, s.Name)
	}
	if err != nil {
		return nil, err
	}
	if !latest {
		return nil, context.Canceled
	}
	if err := commit(res); err != nil {
		return nil, err
	}
	return res, nil
}

// Pending reports whether a fit for name is running.
func (r *Refitter) Pending(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[name]
	return ok
}
