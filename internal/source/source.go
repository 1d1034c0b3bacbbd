// Package source fetches the raw order export that a refresh parses.
package source

import (
	"context"
	"errors"
	"fmt"

	"bizdash/internal/config"
	"bizdash/internal/metrics"
)

var (
	// ErrUpstream wraps a non-2xx answer from the export endpoint.
	ErrUpstream = errors.New("upstream returned an error status")
	// ErrTooLarge is returned when an export exceeds the configured size cap.
	ErrTooLarge = errors.New("export exceeds size limit")
	// ErrNoExport is returned when the Kafka topic holds no export for the key.
	ErrNoExport = errors.New("no export found for key")
)

// Source returns the raw CSV text of the current export. One call is one
// attempt; callers bound it with ctx.
type Source interface {
	Fetch(ctx context.Context) (string, error)
	Name() string
}

// FromConfig builds the source selected by cfg.Source.Kind. reg may be nil.
func FromConfig(cfg *config.Config, reg *metrics.Registry) (Source, error) {
	sc := cfg.Source
	switch sc.Kind {
	case "sheets":
		var opts []SheetsOption
		if reg != nil {
			opts = append(opts, WithStateGauge(reg.BreakerState))
		}
		return NewSheetsSource(SheetsConfig{
			URL:      sc.URL,
			Timeout:  sc.Timeout,
			MaxBytes: sc.MaxBytes,
			Breaker: BreakerSettings{
				MinRequests:  sc.Breaker.MinRequests,
				FailureRatio: sc.Breaker.FailureRatio,
				OpenTimeout:  sc.Breaker.OpenTimeout,
			},
		}, opts...), nil
	case "file":
		return NewFileSource(sc.Path, sc.MaxBytes), nil
	case "kafka":
		return NewKafkaSource(sc.Kafka.Brokers, sc.Kafka.Topic, sc.Kafka.Key, sc.Kafka.Window), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", sc.Kind)
	}
}
