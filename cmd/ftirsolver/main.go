package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"github.com/kacperjurak/goftircore"
	"github.com/kacperjurak/goftircore/internal/source"
	"github.com/kacperjurak/goftircore/pkg/catalog"
	"github.com/kacperjurak/goftircore/pkg/config"
	"github.com/kacperjurak/goftircore/pkg/store"
)

const usage = `usage: ftirsolver <command> [flags] [files]

commands:
  fit        fit (or refit) the baseline of spectrum files and save them
  correlate  print the correlation matrix of spectrum files
  convert    convert instrument exports to .ylk documents
  peaks      list peaks with reference band assignments
  export     write spectra side by side as CSV
  catalog    list, search or prune the file catalog
  watch      convert files dropped into an inbox on a schedule
  serve      start the HTTP server`

var commands = map[string]func(args []string) error{
	"fit":       runFit,
	"correlate": runCorrelate,
	"convert":   runConvert,
	"peaks":     runPeaks,
	"export":    runExport,
	"catalog":   runCatalog,
	"watch":     runWatch,
	"serve":     runServe,
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	name := os.Args[1]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", name, usage)
		os.Exit(2)
	}

	if err := cmd(os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		code := exitCode(err)
		err := xerrors.New(err)
		logger.ErrorContext(context.Background(), "command failed", slog.String("command", name), slog.Any("error", err))
		os.Exit(code)
	}
}

// exitCode is 2 for rejected input and 1 for everything else.
func exitCode(err error) int {
	for _, target := range []error{
		goftircore.ErrFormat,
		goftircore.ErrInvalidParameter,
		goftircore.ErrInvalidInput,
		goftircore.ErrInsufficientData,
		goftircore.ErrAlignment,
		goftircore.ErrSourceConversion,
	} {
		if errors.Is(err, target) {
			return 2
		}
	}
	return 1
}

// settings are the flags every processing command understands. Flags that
// were set on the command line override the configuration file.
type settings struct {
	configPath string
	lambda     float64
	p          float64
	smooth     bool
	quiet      bool
	catalog    string
}

func addSettings(fs *flag.FlagSet) *settings {
	s := &settings{}
	defaults := config.DefaultConfig()
	fs.StringVar(&s.configPath, "config", "", "configuration file (default $FTIR_CONFIG or "+config.DefaultPath+")")
	fs.Float64Var(&s.lambda, "lambda", defaults.Lambda, "ALS smoothness")
	fs.Float64Var(&s.p, "p", defaults.P, "ALS asymmetry, in (0, 1)")
	fs.BoolVar(&s.smooth, "smooth", defaults.Smooth, "Savitzky-Golay smooth the raw signal before fitting")
	fs.BoolVar(&s.quiet, "q", defaults.Quiet, "quiet mode")
	fs.StringVar(&s.catalog, "catalog", "", "catalog database recording opened and saved files")
	return s
}

func (s *settings) load(fs *flag.FlagSet) (*config.Config, *config.ServerConfig, error) {
	cfg, srv, err := config.Load(s.configPath)
	if err != nil {
		return nil, nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "lambda":
			cfg.Lambda = s.lambda
		case "p":
			cfg.P = s.p
		case "smooth":
			cfg.Smooth = s.smooth
		case "q":
			cfg.Quiet = s.quiet
		case "catalog":
			srv.CatalogPath = s.catalog
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, srv, nil
}

// openSession builds a session for cfg, recording into the catalog when one
// is configured. The returned func releases the catalog.
func openSession(cfg *config.Config, srv *config.ServerConfig) (*store.Session, func(), error) {
	opts := store.Options{Refitter: cfg.Refitter()}
	closer := func() {}
	if srv.CatalogPath != "" {
		c, err := catalog.Open(srv.CatalogPath)
		if err != nil {
			return nil, nil, err
		}
		opts.Recorder = c
		closer = func() { c.Close() }
	}
	return store.NewSession(opts), closer, nil
}

// openFile adds path to sess, converting instrument exports on the way.
func openFile(sess *store.Session, path string) (*goftircore.Spectrum, error) {
	if strings.EqualFold(filepath.Ext(path), store.Extension) {
		return sess.Open(path)
	}
	conv, err := source.ForPath(path)
	if err != nil {
		return nil, err
	}
	return sess.Import(conv, path)
}

func openAll(sess *store.Session, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: no files given", goftircore.ErrInsufficientData)
	}
	for _, p := range paths {
		if _, err := openFile(sess, p); err != nil {
			return err
		}
	}
	return nil
}

// outputPath is where a spectrum opened from path is saved: the file itself
// for documents, a sibling .ylk for instrument exports.
func outputPath(path, dir string) string {
	base := filepath.Base(path)
	if !strings.EqualFold(filepath.Ext(base), store.Extension) {
		base = strings.TrimSuffix(base, filepath.Ext(base)) + store.Extension
	}
	if dir == "" {
		dir = filepath.Dir(path)
	}
	return filepath.Join(dir, base)
}
