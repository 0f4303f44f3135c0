package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kacperjurak/goftircore"
	"github.com/kacperjurak/goftircore/internal/source"
)

// Recorder is told about every file a session opens or writes.
type Recorder interface {
	Record(path string, s *goftircore.Spectrum) error
}

// Options configures a Session.
type Options struct {
	// Refitter runs baseline fits; nil uses goftircore.NewRefitter().
	Refitter *goftircore.Refitter
	Recorder Recorder
	// Now stamps metadata.modified on committed fits; nil means time.Now.
	Now func() time.Time
}

type entry struct {
	spectrum *goftircore.Spectrum
	path     string
	// rev counts anchor edits; a fit started before an edit is not committed.
	rev uint64
}

// Session holds the spectra open for analysis, keyed by unique name, in the
// order they were opened. It is safe for concurrent use. Stored spectra are
// never modified in place: edits and committed fits replace them, so a
// spectrum returned by Get or AnalysisSet stays a consistent snapshot.
type Session struct {
	mu       sync.RWMutex
	order    []string
	entries  map[string]*entry
	refitter *goftircore.Refitter
	recorder Recorder
	now      func() time.Time
}

// NewSession creates an empty session.
func NewSession(opts Options) *Session {
	r := opts.Refitter
	if r == nil {
		r = goftircore.NewRefitter()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		entries:  make(map[string]*entry),
		refitter: r,
		recorder: opts.Recorder,
		now:      now,
	}
}

// Open loads path into the session. A file that fails to load, or whose name
// is already open, leaves the session unchanged.
func (s *Session) Open(path string) (*goftircore.Spectrum, error) {
	sp, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := s.Add(sp, path); err != nil {
		return nil, err
	}
	s.record(path, sp)
	return sp, nil
}

// Import converts an instrument export and adds the result; it is not
// written to disk until Save.
func (s *Session) Import(conv source.Converter, path string) (*goftircore.Spectrum, error) {
	sp, err := conv.Convert(path)
	if err != nil {
		return nil, err
	}
	if err := s.Add(sp, ""); err != nil {
		return nil, err
	}
	return sp, nil
}

// Add puts sp into the session under its name. path may be empty for
// spectra that have never been saved.
func (s *Session) Add(sp *goftircore.Spectrum, path string) error {
	if err := sp.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[sp.Name]; ok {
		return fmt.Errorf("%w: a spectrum named %q is already open", goftircore.ErrInvalidInput, sp.Name)
	}
	s.entries[sp.Name] = &entry{spectrum: sp, path: path}
	s.order = append(s.order, sp.Name)
	return nil
}

// Unload removes name from the session and reports whether it was open.
func (s *Session) Unload(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return false
	}
	delete(s.entries, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	return true
}

// Get returns the current snapshot of name. Treat it as read-only.
func (s *Session) Get(name string) (*goftircore.Spectrum, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	return e.spectrum, true
}

// Path returns where name was loaded from or last saved to.
func (s *Session) Path(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[name]; ok {
		return e.path
	}
	return ""
}

// Names lists open spectra in opening order.
func (s *Session) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Len returns the number of open spectra.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// AnalysisSet selects names, in the given order, or every open spectrum
// when names is empty.
func (s *Session) AnalysisSet(names ...string) (goftircore.AnalysisSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(names) == 0 {
		names = s.order
	}
	set := make(goftircore.AnalysisSet, 0, len(names))
	for _, n := range names {
		e, ok := s.entries[n]
		if !ok {
			return nil, fmt.Errorf("%w: no open spectrum named %q", goftircore.ErrInvalidInput, n)
		}
		set = append(set, e.spectrum)
	}
	return set, nil
}

// SetAnchors replaces the anchors of name. The stored spectrum becomes a
// copy without a baseline; a fit still running for the previous copy can no
// longer reach the session.
func (s *Session) SetAnchors(name string, anchors []goftircore.Anchor) (*goftircore.Spectrum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: no open spectrum named %q", goftircore.ErrInvalidInput, name)
	}
	next, err := e.spectrum.WithAnchors(anchors)
	if err != nil {
		return nil, err
	}
	e.spectrum = next
	e.rev++
	return next, nil
}

// Refit recomputes and commits the baseline of name and stamps
// metadata.modified. A newer Refit of the same spectrum, an anchor edit or
// an Unload supersedes this one, which then returns context.Canceled.
func (s *Session) Refit(ctx context.Context, name string, params goftircore.Params) (*goftircore.Result, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	var base *goftircore.Spectrum
	var rev uint64
	if ok {
		base, rev = e.spectrum, e.rev
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no open spectrum named %q", goftircore.ErrInvalidInput, name)
	}

	return s.refitter.RefitWith(ctx, base, params, func(res *goftircore.Result) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.entries[name] != e || e.rev != rev {
			return fmt.Errorf("%w: %q changed while it was being fitted", context.Canceled, name)
		}
		next := e.spectrum.Clone()
		if err := next.Commit(res); err != nil {
			return err
		}
		next.Metadata.Modified = goftircore.NewTimestamp(s.now())
		e.spectrum = next
		return nil
	})
}

// Correlate runs c over the selected spectra.
func (s *Session) Correlate(c goftircore.Correlator, useCorrected bool, names ...string) (*goftircore.CorrelationMatrix, error) {
	set, err := s.AnalysisSet(names...)
	if err != nil {
		return nil, err
	}
	return c.Correlate(set, useCorrected)
}

// Save writes name back to the file it came from.
func (s *Session) Save(name string) error {
	path := s.Path(name)
	if path == "" {
		return fmt.Errorf("%w: %q has no file yet", goftircore.ErrInvalidInput, name)
	}
	return s.SaveAs(name, path)
}

// SaveAs writes name to path and remembers path for later saves.
func (s *Session) SaveAs(name, path string) error {
	if s.refitter.Pending(name) {
		return fmt.Errorf("%w: a fit of %q is still running", goftircore.ErrInvalidInput, name)
	}
	s.mu.RLock()
	e, ok := s.entries[name]
	var sp *goftircore.Spectrum
	if ok {
		sp = e.spectrum
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no open spectrum named %q", goftircore.ErrInvalidInput, name)
	}
	if err := Save(sp, path); err != nil {
		return err
	}
	s.mu.Lock()
	e.path = path
	s.mu.Unlock()
	s.record(path, sp)
	return nil
}

func (s *Session) record(path string, sp *goftircore.Spectrum) {
	if s.recorder == nil {
		return
	}
	// the catalog is advisory; a failed insert never fails the file operation
	_ = s.recorder.Record(path, sp)
}
