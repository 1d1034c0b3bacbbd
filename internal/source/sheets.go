package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gobreaker "github.com/sony/gobreaker/v2"

	"bizdash/internal/logging"
)

// BreakerSettings controls when the export endpoint is considered down.
type BreakerSettings struct {
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
}

type SheetsConfig struct {
	URL      string
	Timeout  time.Duration
	MaxBytes int64
	Breaker  BreakerSettings
}

// SheetsSource downloads a spreadsheet CSV export over HTTP. Calls go
// through a circuit breaker so an unreachable sheet fails fast instead of
// holding every refresh for the full timeout.
type SheetsSource struct {
	url      string
	maxBytes int64
	client   *http.Client
	cb       *gobreaker.CircuitBreaker[string]
	gauge    prometheus.Gauge
}

type SheetsOption func(*SheetsSource)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) SheetsOption {
	return func(s *SheetsSource) { s.client = c }
}

// WithStateGauge reports breaker state as 0 closed, 1 half-open, 2 open.
func WithStateGauge(g prometheus.Gauge) SheetsOption {
	return func(s *SheetsSource) { s.gauge = g }
}

func NewSheetsSource(cfg SheetsConfig, opts ...SheetsOption) *SheetsSource {
	s := &SheetsSource{
		url:      cfg.URL,
		maxBytes: cfg.MaxBytes,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
	for _, o := range opts {
		o(s)
	}
	if s.gauge != nil {
		s.gauge.Set(stateToFloat(gobreaker.StateClosed))
	}

	minReq := cfg.Breaker.MinRequests
	if minReq == 0 {
		minReq = 1
	}
	ratio := cfg.Breaker.FailureRatio
	s.cb = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "sheets-export",
		MaxRequests: 1,
		Interval:    time.Hour,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minReq {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= ratio {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("opening sheets circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit state change")
			if s.gauge != nil {
				s.gauge.Set(stateToFloat(to))
			}
		},
		// a refresh abandoned by its caller says nothing about the sheet
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	})
	return s
}

func (s *SheetsSource) Name() string { return "sheets" }

// State is the breaker state; /health reports it.
func (s *SheetsSource) State() gobreaker.State { return s.cb.State() }

func (s *SheetsSource) Fetch(ctx context.Context) (string, error) {
	return s.cb.Execute(func() (string, error) {
		return s.download(ctx)
	})
}

func (s *SheetsSource) download(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Accept", "text/csv")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: %s", ErrUpstream, resp.Status)
	}
	return readLimited(resp.Body, s.maxBytes)
}

func readLimited(r io.Reader, limit int64) (string, error) {
	if limit <= 0 {
		b, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read export: %w", err)
		}
		return string(b), nil
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", fmt.Errorf("read export: %w", err)
	}
	if int64(len(b)) > limit {
		return "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return string(b), nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
