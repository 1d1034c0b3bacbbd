package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the pipeline's collectors on a private prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	Refreshes       *prometheus.CounterVec // by outcome: applied|superseded|canceled|error
	RefreshLatency  prometheus.Histogram
	FetchFailures   prometheus.Counter
	RowsParsed      prometheus.Counter
	StrayQuotes     prometheus.Counter
	InvalidDates    prometheus.Counter
	CoercedNumbers  prometheus.Counter
	Orders          prometheus.Gauge
	Revenue         prometheus.Gauge
	ConversionRate  prometheus.Gauge
	LastRefreshUnix prometheus.Gauge

	Published     prometheus.Counter
	PublishFailed prometheus.Counter
	BreakerState  prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bizdash_refresh_total"}, []string{"outcome"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bizdash_refresh_duration_seconds",
		Buckets: prometheus.DefBuckets,
	})
	fetchFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "bizdash_fetch_failures_total"})
	rowsParsed := prometheus.NewCounter(prometheus.CounterOpts{Name: "bizdash_rows_parsed_total"})
	strayQuotes := prometheus.NewCounter(prometheus.CounterOpts{Name: "bizdash_stray_quotes_total"})
	invalidDates := prometheus.NewCounter(prometheus.CounterOpts{Name: "bizdash_invalid_dates_total"})
	coerced := prometheus.NewCounter(prometheus.CounterOpts{Name: "bizdash_coerced_numbers_total"})
	orders := prometheus.NewGauge(prometheus.GaugeOpts{Name: "bizdash_orders"})
	revenue := prometheus.NewGauge(prometheus.GaugeOpts{Name: "bizdash_revenue"})
	conversion := prometheus.NewGauge(prometheus.GaugeOpts{Name: "bizdash_conversion_rate_percent"})
	lastRefresh := prometheus.NewGauge(prometheus.GaugeOpts{Name: "bizdash_last_refresh_unix_seconds"})
	published := prometheus.NewCounter(prometheus.CounterOpts{Name: "bizdash_events_published_total"})
	publishFailed := prometheus.NewCounter(prometheus.CounterOpts{Name: "bizdash_events_publish_failed_total"})
	breaker := prometheus.NewGauge(prometheus.GaugeOpts{Name: "bizdash_source_breaker_state"})

	r.MustRegister(refreshes, latency, fetchFailures, rowsParsed, strayQuotes, invalidDates, coerced,
		orders, revenue, conversion, lastRefresh, published, publishFailed, breaker)
	return &Registry{
		reg:             r,
		Refreshes:       refreshes,
		RefreshLatency:  latency,
		FetchFailures:   fetchFailures,
		RowsParsed:      rowsParsed,
		StrayQuotes:     strayQuotes,
		InvalidDates:    invalidDates,
		CoercedNumbers:  coerced,
		Orders:          orders,
		Revenue:         revenue,
		ConversionRate:  conversion,
		LastRefreshUnix: lastRefresh,
		Published:       published,
		PublishFailed:   publishFailed,
		BreakerState:    breaker,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
