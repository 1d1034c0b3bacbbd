package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"bizdash/internal/config"
	"bizdash/internal/ingest"
	"bizdash/internal/logging"
	"bizdash/internal/model"
	"bizdash/internal/refresh"
	"bizdash/internal/source"
	"bizdash/internal/state"
	"bizdash/internal/summary"
)

// Options holds CLI flags for the one-shot report.
type Options struct {
	File   string
	Recent int
	Pretty bool
}

type output struct {
	Source       string               `json:"source"`
	FetchError   string               `json:"fetchError,omitempty"`
	Summary      model.MetricsSummary `json:"summary"`
	Report       ingest.Report        `json:"report"`
	RecentOrders []model.OrderRecord  `json:"recentOrders"`
}

func main() {
	var opts Options
	flag.StringVar(&opts.File, "file", "", "read the export from a local CSV instead of the configured source")
	flag.IntVar(&opts.Recent, "recent", 10, "number of recent orders to include")
	flag.BoolVar(&opts.Pretty, "pretty", false, "indent the JSON output")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: "console", Output: os.Stderr})

	if err := run(context.Background(), cfg, opts, os.Stdout); err != nil {
		logging.Fatal().Err(err).Msg("report failed")
	}
}

func run(ctx context.Context, cfg *config.Config, opts Options, w io.Writer) error {
	var src source.Source
	if opts.File != "" {
		src = source.NewFileSource(opts.File, cfg.Source.MaxBytes)
	} else {
		var err error
		if src, err = source.FromConfig(cfg, nil); err != nil {
			return err
		}
	}

	st := state.NewInMemoryStore()
	r := refresh.New(refresh.Config{
		Dataset:      cfg.Refresh.Dataset,
		FetchTimeout: cfg.Source.Timeout,
	}, src, ingest.NewParser(ingest.WithLocation(cfg.Location())), st)

	res, err := r.RunOnce(ctx)
	if err != nil {
		return err
	}
	snap := res.Snapshot
	out := output{
		Source:       snap.Source,
		FetchError:   snap.FetchError,
		Summary:      snap.Summary,
		Report:       snap.Report,
		RecentOrders: summary.RecentOrders(snap.Records, opts.Recent),
	}

	enc := json.NewEncoder(w)
	if opts.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
