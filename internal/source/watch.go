package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kacperjurak/goftircore"
	"github.com/robfig/cron/v3"
)

// SaveFunc persists a converted spectrum at path.
type SaveFunc func(s *goftircore.Spectrum, path string) error

// Watcher converts instrument exports dropped into Inbox into .ylk files in
// Outbox on a cron schedule. A file is converted once: an existing output
// with the same name is never overwritten.
type Watcher struct {
	Inbox      string
	Outbox     string
	Converters []Converter
	Save       SaveFunc
	// OnConvert, when set, sees every spectrum written by a scan.
	OnConvert func(s *goftircore.Spectrum, path string)
}

// ScanReport summarises one pass over the inbox.
type ScanReport struct {
	Converted []string
	Skipped   int
	Failed    map[string]error
}

// Scan converts every pending inbox file once. Conversion failures are
// collected per file and do not stop the scan.
func (w *Watcher) Scan() (ScanReport, error) {
	report := ScanReport{Failed: map[string]error{}}
	if w.Save == nil {
		return report, errors.New("watcher has no save function")
	}
	entries, err := os.ReadDir(w.Inbox)
	if err != nil {
		return report, fmt.Errorf("read inbox: %w", err)
	}
	if err := os.MkdirAll(w.Outbox, 0o755); err != nil {
		return report, fmt.Errorf("create outbox: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		in := filepath.Join(w.Inbox, e.Name())
		conv, err := ForPath(in, w.Converters...)
		if err != nil {
			report.Skipped++
			continue
		}
		out := filepath.Join(w.Outbox, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))+".ylk")
		if _, err := os.Stat(out); err == nil {
			report.Skipped++
			continue
		}
		s, err := conv.Convert(in)
		if err != nil {
			report.Failed[e.Name()] = err
			continue
		}
		if err := w.Save(s, out); err != nil {
			report.Failed[e.Name()] = err
			continue
		}
		report.Converted = append(report.Converted, out)
		if w.OnConvert != nil {
			w.OnConvert(s, out)
		}
	}
	return report, nil
}

// Run scans on every tick of schedule (standard 5-field cron) until ctx is
// done.
func (w *Watcher) Run(ctx context.Context, schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("%w: watch schedule %q: %v", goftircore.ErrInvalidParameter, schedule, err)
	}
	log.Printf("👀 Watching %s (cron: %s) -> %s", w.Inbox, schedule, w.Outbox)

	for {
		now := time.Now()
		next := sched.Next(now)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		report, err := w.Scan()
		if err != nil {
			log.Printf("❌ Inbox scan failed: %v", err)
			continue
		}
		for name, ferr := range report.Failed {
			log.Printf("⚠️  Could not convert %s: %v", name, ferr)
		}
		if len(report.Converted) > 0 {
			log.Printf("✅ Converted %d file(s), skipped %d", len(report.Converted), report.Skipped)
		}
	}
}
