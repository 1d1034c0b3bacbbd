// Package publish emits a summary event after each applied refresh.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bizdash/internal/config"
	"bizdash/internal/logging"
	"bizdash/internal/model"
)

// Event is the message written for every applied snapshot, keyed by Dataset.
type Event struct {
	EventID      string               `json:"eventId"`
	Dataset      string               `json:"dataset"`
	Seq          int64                `json:"seq"`
	GeneratedAt  string               `json:"generatedAt"`
	TotalOrders  int                  `json:"totalOrders"`
	TotalRevenue float64              `json:"totalRevenue"`
	Summary      model.MetricsSummary `json:"summary"`
}

func NewEvent(dataset string, seq int64, s model.MetricsSummary, at time.Time) Event {
	return Event{
		EventID:      uuid.NewString(),
		Dataset:      dataset,
		Seq:          seq,
		GeneratedAt:  at.UTC().Format(model.TimestampLayout),
		TotalOrders:  s.TotalOrders,
		TotalRevenue: s.TotalRevenue,
		Summary:      s,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Multi fans an event out to every publisher. A failing sink does not stop
// the others; their errors are joined.
type Multi struct {
	pubs []Publisher
}

func NewMulti(pubs ...Publisher) *Multi {
	return &Multi{pubs: pubs}
}

func (m *Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m.pubs {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.pubs {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// LogPublisher writes events to the structured log.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, ev Event) error {
	logging.Info().
		Str("event_id", ev.EventID).
		Str("dataset", ev.Dataset).
		Int64("seq", ev.Seq).
		Int("orders", ev.TotalOrders).
		Float64("revenue", ev.TotalRevenue).
		Float64("conversion_rate", ev.Summary.ConversionRate).
		Msg("summary published")
	return nil
}

func (LogPublisher) Close() error { return nil }

// FromConfig builds the sinks listed in cfg.Publish.Sinks.
func FromConfig(ctx context.Context, cfg config.PublishConfig) (Publisher, error) {
	var pubs []Publisher
	for _, sink := range cfg.Sinks {
		switch sink {
		case "log":
			pubs = append(pubs, LogPublisher{})
		case "kafka":
			pubs = append(pubs, NewKafkaPublisher(strings.Join(cfg.Brokers, ","), cfg.Topic))
		case "kafka-tx":
			tp, err := NewTxPublisher(ctx, cfg.Brokers, cfg.Topic, cfg.TransactionID)
			if err != nil {
				_ = NewMulti(pubs...).Close()
				return nil, fmt.Errorf("transactional publisher: %w", err)
			}
			pubs = append(pubs, tp)
		default:
			_ = NewMulti(pubs...).Close()
			return nil, fmt.Errorf("unknown publish sink %q", sink)
		}
	}
	return NewMulti(pubs...), nil
}
