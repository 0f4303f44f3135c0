package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/kacperjurak/goftircore"
	"github.com/kacperjurak/goftircore/internal/processing"
	"github.com/kacperjurak/goftircore/internal/source"
	"github.com/kacperjurak/goftircore/pkg/catalog"
	"github.com/kacperjurak/goftircore/pkg/config"
	"github.com/kacperjurak/goftircore/pkg/store"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runFit(args []string) error {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	set := addSettings(fs)
	var anchors config.AnchorFlags
	fs.Var(&anchors, "anchor", "anchor point x:y (repeatable); replaces the file's anchors")
	clearAnchors := fs.Bool("clear-anchors", false, "remove every anchor before fitting")
	outDir := fs.String("o", "", "output directory (default: next to each input)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, srv, err := set.load(fs)
	if err != nil {
		return err
	}
	sess, closeSession, err := openSession(cfg, srv)
	if err != nil {
		return err
	}
	defer closeSession()
	if err := openAll(sess, fs.Args()); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	pipeline := processing.NewPipeline(cfg)
	for i, name := range sess.Names() {
		if len(anchors) > 0 || *clearAnchors {
			if _, err := sess.SetAnchors(name, anchors); err != nil {
				return err
			}
		}
		s, _ := sess.Get(name)
		params := pipeline.ParamsFor(s)
		// explicit flags win over the parameters stored in the file
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "lambda":
				params.Lambda = cfg.Lambda
			case "p":
				params.P = cfg.P
			case "smooth":
				params.Smooth = cfg.Smooth
			}
		})
		res, err := sess.Refit(ctx, name, params)
		if err != nil {
			return fmt.Errorf("fit %s: %w", name, err)
		}
		out := sess.Path(name)
		if out == "" || *outDir != "" {
			out = outputPath(fs.Arg(i), *outDir)
		}
		if err := sess.SaveAs(name, out); err != nil {
			return err
		}
		if !cfg.Quiet {
			log.Printf("✅ %s: %d iterations (converged: %v), %d anchors -> %s", name, res.Iters, res.Converged, len(res.Anchors), out)
		}
	}
	return nil
}

func runCorrelate(args []string) error {
	fs := flag.NewFlagSet("correlate", flag.ContinueOnError)
	set := addSettings(fs)
	corrected := fs.Bool("corrected", false, "correlate baseline-corrected values (every file must have a baseline)")
	step := fs.Float64("step", 0, "grid step in cm-1 (default: finest input resolution)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, srv, err := set.load(fs)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "corrected":
			cfg.UseCorrected = *corrected
		case "step":
			cfg.GridStep = *step
		}
	})
	sess, closeSession, err := openSession(cfg, srv)
	if err != nil {
		return err
	}
	defer closeSession()
	if err := openAll(sess, fs.Args()); err != nil {
		return err
	}
	analysis, err := sess.AnalysisSet()
	if err != nil {
		return err
	}
	m, err := processing.NewPipeline(cfg).Correlate(analysis, cfg.UseCorrected)
	if err != nil {
		return err
	}
	return printMatrix(os.Stdout, m)
}

func printMatrix(w io.Writer, m *goftircore.CorrelationMatrix) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "\t")
	for _, l := range m.Labels {
		fmt.Fprintf(tw, "%s\t", l)
	}
	fmt.Fprintln(tw)
	for i, l := range m.Labels {
		fmt.Fprintf(tw, "%s\t", l)
		for j := range m.Labels {
			if v, ok := m.At(i, j); ok {
				fmt.Fprintf(tw, "%.4f\t", v)
			} else {
				fmt.Fprint(tw, "n/a\t")
			}
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	outDir := fs.String("o", "", "output directory (default: next to each input)")
	force := fs.Bool("f", false, "overwrite existing documents")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: no files given", goftircore.ErrInsufficientData)
	}
	var failed []error
	for _, path := range fs.Args() {
		conv, err := source.ForPath(path)
		if err != nil {
			failed = append(failed, err)
			continue
		}
		s, err := conv.Convert(path)
		if err != nil {
			failed = append(failed, err)
			continue
		}
		out := outputPath(path, *outDir)
		if _, err := os.Stat(out); err == nil && !*force {
			failed = append(failed, fmt.Errorf("%s exists, use -f to overwrite", out))
			continue
		}
		if err := store.Save(s, out); err != nil {
			failed = append(failed, err)
			continue
		}
		fmt.Printf("%s -> %s (%d points, %g-%g cm-1)\n", path, out, s.Len(), s.Range.Min, s.Range.Max)
	}
	return errors.Join(failed...)
}

func runPeaks(args []string) error {
	fs := flag.NewFlagSet("peaks", flag.ContinueOnError)
	set := addSettings(fs)
	minProm := fs.Float64("prominence", config.DefaultConfig().MinProminence, "minimum peak prominence")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, srv, err := set.load(fs)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "prominence" {
			cfg.MinProminence = *minProm
		}
	})
	sess, closeSession, err := openSession(cfg, srv)
	if err != nil {
		return err
	}
	defer closeSession()
	if err := openAll(sess, fs.Args()); err != nil {
		return err
	}

	pipeline := processing.NewPipeline(cfg)
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, name := range sess.Names() {
		s, _ := sess.Get(name)
		reports, corrected, err := pipeline.Peaks(s, cfg.MinProminence)
		if err != nil {
			return fmt.Errorf("peaks %s: %w", name, err)
		}
		series := "raw"
		if corrected {
			series = "corrected"
		}
		fmt.Fprintf(tw, "# %s (%s, %d peaks)\n", name, series, len(reports))
		fmt.Fprintln(tw, "position\theight\tprominence\tfwhm\tassignment")
		for _, r := range reports {
			fwhm := "-"
			if r.Fit != nil {
				fwhm = strconv.FormatFloat(r.Fit.FWHM, 'f', 1, 64)
			}
			assignment := "-"
			if len(r.Bands) > 0 {
				b := r.Bands[0]
				assignment = fmt.Sprintf("%s, %s (%s)", b.Group, b.Class, b.Position())
			}
			fmt.Fprintf(tw, "%.1f\t%.4f\t%.4f\t%s\t%s\n", r.Position(), r.Height, r.Prominence, fwhm, assignment)
		}
	}
	return tw.Flush()
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("o", "", "CSV file to write (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sess := store.NewSession(store.Options{})
	if err := openAll(sess, fs.Args()); err != nil {
		return err
	}
	set, err := sess.AnalysisSet()
	if err != nil {
		return err
	}
	if *out == "" {
		return store.ExportCSV(os.Stdout, set)
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := store.ExportCSV(f, set); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runCatalog(args []string) error {
	fs := flag.NewFlagSet("catalog", flag.ContinueOnError)
	path := fs.String("db", "", "catalog database (default: catalog from the configuration)")
	limit := fs.Int("n", 20, "number of recent entries to list")
	similar := fs.String("similar", "", "list entries with a range similar to min:max")
	tol := fs.Float64("tol", 50, "endpoint tolerance for -similar, in cm-1")
	forget := fs.String("forget", "", "remove a file from the catalog")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		_, srv, err := config.Load("")
		if err != nil {
			return err
		}
		*path = srv.CatalogPath
	}
	if *path == "" {
		return fmt.Errorf("%w: no catalog configured, use -db", goftircore.ErrInvalidParameter)
	}
	c, err := catalog.Open(*path)
	if err != nil {
		return err
	}
	defer c.Close()

	var entries []catalog.Entry
	switch {
	case *forget != "":
		ok, err := c.Forget(*forget)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s is not catalogued", goftircore.ErrInvalidInput, *forget)
		}
		return nil
	case *similar != "":
		r, err := parseRange(*similar)
		if err != nil {
			return err
		}
		entries, err = c.Similar(r, *tol)
		if err != nil {
			return err
		}
	default:
		entries, err = c.Recent(*limit)
		if err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "name\trange\tpoints\tbaseline\tseen\tpath")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%g-%g\t%d\t%v\t%s\t%s\n", e.Name, e.Range.Min, e.Range.Max, e.Points, e.BaselineFitted, e.SeenAt.Local().Format("2006-01-02 15:04"), e.Path)
	}
	return tw.Flush()
}

func parseRange(s string) (goftircore.Range, error) {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return goftircore.Range{}, fmt.Errorf("%w: range %q, want min:max", goftircore.ErrInvalidParameter, s)
	}
	minV, err1 := strconv.ParseFloat(lo, 64)
	maxV, err2 := strconv.ParseFloat(hi, 64)
	r := goftircore.Range{Min: minV, Max: maxV}
	if err1 != nil || err2 != nil || !r.Valid() {
		return goftircore.Range{}, fmt.Errorf("%w: range %q, want min:max", goftircore.ErrInvalidParameter, s)
	}
	return r, nil
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	set := addSettings(fs)
	inbox := fs.String("inbox", "", "directory to watch (default: watch_inbox from the configuration)")
	outbox := fs.String("outbox", "", "directory for converted documents")
	schedule := fs.String("schedule", "", "cron schedule (default: watch_schedule from the configuration)")
	once := fs.Bool("once", false, "scan once and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, srv, err := set.load(fs)
	if err != nil {
		return err
	}
	if *inbox != "" {
		srv.WatchInbox = *inbox
	}
	if *outbox != "" {
		srv.WatchOutbox = *outbox
	}
	if *schedule != "" {
		srv.WatchSchedule = *schedule
	}
	if srv.WatchInbox == "" || srv.WatchOutbox == "" {
		return fmt.Errorf("%w: watch needs an inbox and an outbox", goftircore.ErrInvalidParameter)
	}

	w := &source.Watcher{Inbox: srv.WatchInbox, Outbox: srv.WatchOutbox, Save: store.Save}
	if srv.CatalogPath != "" {
		c, err := catalog.Open(srv.CatalogPath)
		if err != nil {
			return err
		}
		defer c.Close()
		w.OnConvert = func(s *goftircore.Spectrum, path string) {
			if err := c.Record(path, s); err != nil {
				log.Printf("⚠️  Catalog update for %s failed: %v", path, err)
			}
		}
	}

	if *once {
		report, err := w.Scan()
		if err != nil {
			return err
		}
		for _, out := range report.Converted {
			fmt.Println(out)
		}
		var failed []error
		for name, ferr := range report.Failed {
			failed = append(failed, fmt.Errorf("%s: %w", filepath.Base(name), ferr))
		}
		return errors.Join(failed...)
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := w.Run(ctx, srv.WatchSchedule); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
