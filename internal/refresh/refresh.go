// Package refresh runs the dashboard's refresh cycle: fetch the export,
// parse it, aggregate it, store the snapshot and announce it.
package refresh

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"bizdash/internal/ingest"
	"bizdash/internal/logging"
	"bizdash/internal/metrics"
	"bizdash/internal/publish"
	"bizdash/internal/source"
	"bizdash/internal/state"
	"bizdash/internal/summary"
)

type Config struct {
	Dataset string
	// Interval between scheduled refreshes.
	Interval time.Duration
	// FetchTimeout bounds a single fetch attempt.
	FetchTimeout time.Duration
	// OnStart runs one refresh as soon as the service starts.
	OnStart bool
}

// Result describes one refresh cycle.
type Result struct {
	Seq     int64
	Applied bool
	// Snapshot is what the store holds for the dataset after the cycle,
	// which is not this cycle's snapshot when Applied is false.
	Snapshot state.Snapshot
	// FetchErr is set when the export could not be fetched; the cycle then
	// stored an empty summary.
	FetchErr error
}

// Refresher owns the sequence counter shared by scheduled and manual
// refreshes. A cycle that finishes after a newer one is discarded by the
// store.
type Refresher struct {
	cfg    Config
	src    source.Source
	parser *ingest.Parser
	store  state.Store
	pub    publish.Publisher
	reg    *metrics.Registry
	log    zerolog.Logger
	now    func() time.Time

	seq atomic.Int64
}

type Option func(*Refresher)

// WithPublisher announces applied snapshots.
func WithPublisher(p publish.Publisher) Option {
	return func(r *Refresher) { r.pub = p }
}

func WithMetrics(reg *metrics.Registry) Option {
	return func(r *Refresher) { r.reg = reg }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) { r.now = now }
}

func New(cfg Config, src source.Source, parser *ingest.Parser, store state.Store, opts ...Option) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if parser == nil {
		parser = ingest.NewParser()
	}
	r := &Refresher{
		cfg:    cfg,
		src:    src,
		parser: parser,
		store:  store,
		log:    logging.With().Str("component", "refresh").Str("dataset", cfg.Dataset).Logger(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Dataset is the state key this refresher writes.
func (r *Refresher) Dataset() string { return r.cfg.Dataset }

// RunOnce performs one refresh cycle. A failed fetch is not an error: the
// cycle proceeds with empty input and reports the failure in Result.FetchErr.
// If ctx ends while fetching, the cycle is abandoned without touching the
// store and ctx's error is returned; otherwise only a store failure is.
func (r *Refresher) RunOnce(ctx context.Context) (Result, error) {
	seq := r.seq.Add(1)
	start := r.now()

	raw, fetchErr := r.fetch(ctx)
	if err := ctx.Err(); err != nil {
		r.observe("canceled", start)
		r.log.Info().Int64("seq", seq).Msg("refresh abandoned")
		return Result{Seq: seq}, fmt.Errorf("refresh abandoned: %w", err)
	}
	if fetchErr != nil {
		r.log.Warn().Err(fetchErr).Int64("seq", seq).Str("source", r.src.Name()).Msg("fetch failed, using empty export")
		if r.reg != nil {
			r.reg.FetchFailures.Inc()
		}
		raw = ""
	}

	records, report := r.parser.ParseReport(raw)
	snap := state.Snapshot{
		Seq:       seq,
		UpdatedAt: r.now().UnixMilli(),
		Source:    r.src.Name(),
		Records:   records,
		Summary:   summary.Compute(records),
		Report:    report,
	}
	if fetchErr != nil {
		snap.FetchError = fetchErr.Error()
	}

	applied, cur, err := r.store.Apply(r.cfg.Dataset, snap)
	if err != nil {
		r.observe("error", start)
		return Result{Seq: seq, FetchErr: fetchErr}, fmt.Errorf("apply snapshot: %w", err)
	}
	res := Result{Seq: seq, Applied: applied, Snapshot: cur, FetchErr: fetchErr}
	if !applied {
		r.observe("superseded", start)
		r.log.Info().Int64("seq", seq).Int64("current_seq", cur.Seq).Msg("refresh superseded by a newer one")
		return res, nil
	}

	r.observe("applied", start)
	r.record(snap)
	r.log.Info().
		Int64("seq", seq).
		Int("rows", report.Rows).
		Int("orders", snap.Summary.TotalOrders).
		Int("stray_quotes", report.StrayQuotes).
		Float64("revenue", snap.Summary.TotalRevenue).
		Dur("took", r.now().Sub(start)).
		Msg("refresh applied")

	r.announce(ctx, snap)
	return res, nil
}

func (r *Refresher) fetch(ctx context.Context) (string, error) {
	if r.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.FetchTimeout)
		defer cancel()
	}
	return r.src.Fetch(ctx)
}

func (r *Refresher) announce(ctx context.Context, snap state.Snapshot) {
	if r.pub == nil {
		return
	}
	ev := publish.NewEvent(r.cfg.Dataset, snap.Seq, snap.Summary, r.now())
	if err := r.pub.Publish(ctx, ev); err != nil {
		r.log.Error().Err(err).Int64("seq", snap.Seq).Msg("publish summary failed")
		if r.reg != nil {
			r.reg.PublishFailed.Inc()
		}
		return
	}
	if r.reg != nil {
		r.reg.Published.Inc()
	}
}

func (r *Refresher) observe(outcome string, start time.Time) {
	if r.reg == nil {
		return
	}
	r.reg.Refreshes.WithLabelValues(outcome).Inc()
	r.reg.RefreshLatency.Observe(r.now().Sub(start).Seconds())
}

func (r *Refresher) record(snap state.Snapshot) {
	if r.reg == nil {
		return
	}
	rep := snap.Report
	r.reg.RowsParsed.Add(float64(rep.Parsed))
	r.reg.StrayQuotes.Add(float64(rep.StrayQuotes))
	r.reg.InvalidDates.Add(float64(rep.InvalidDates))
	r.reg.CoercedNumbers.Add(float64(rep.CoercedNumbers))
	r.reg.Orders.Set(float64(snap.Summary.TotalOrders))
	r.reg.Revenue.Set(snap.Summary.TotalRevenue)
	r.reg.ConversionRate.Set(snap.Summary.ConversionRate)
	r.reg.LastRefreshUnix.Set(float64(snap.UpdatedAt) / 1000)
}

// Serve runs scheduled refreshes until ctx ends. It implements suture.Service.
func (r *Refresher) Serve(ctx context.Context) error {
	if r.cfg.OnStart {
		r.tick(ctx)
	}
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.tick(ctx)
		}
	}
}

func (r *Refresher) tick(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.log.Error().Err(err).Msg("scheduled refresh failed")
	}
}

func (r *Refresher) String() string { return "refresh-" + r.cfg.Dataset }
