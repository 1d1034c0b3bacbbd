// Package summary derives dashboard metrics from parsed order records.
//
// Compute is a pure function: the same records always give a deep-equal
// MetricsSummary, so results can be cached or compared freely.
package summary

import (
	"slices"
	"time"

	"bizdash/internal/model"
)

// TopCategoryLimit caps MetricsSummary.TopCategories.
const TopCategoryLimit = 5

// Compute aggregates records. An empty input yields zero totals and empty,
// non-nil breakdowns.
func Compute(records []model.OrderRecord) model.MetricsSummary {
	var totalRevenue float64
	converted := 0
	for _, r := range records {
		totalRevenue += r.FinalAmount
		if model.IsConverted(r.OrderStatus) {
			converted++
		}
	}

	totalOrders := len(records)
	var avg, conversion float64
	if totalOrders > 0 {
		avg = totalRevenue / float64(totalOrders)
		conversion = float64(converted) / float64(totalOrders) * 100
	}

	return model.MetricsSummary{
		TotalRevenue:              totalRevenue,
		TotalOrders:               totalOrders,
		AverageOrderValue:         avg,
		ConversionRate:            conversion,
		TopCategories:             topCategories(records, TopCategoryLimit),
		RevenueByDate:             revenueByDate(records),
		OrderStatusDistribution:   statusDistribution(records),
		PaymentMethodDistribution: paymentDistribution(records),
	}
}

// groups accumulates per-key values in first-occurrence order.
type groups[V any] struct {
	index map[string]int
	keys  []string
	vals  []V
}

func newGroups[V any]() *groups[V] {
	return &groups[V]{index: make(map[string]int)}
}

func (g *groups[V]) at(key string) *V {
	i, ok := g.index[key]
	if !ok {
		i = len(g.keys)
		g.index[key] = i
		g.keys = append(g.keys, key)
		var zero V
		g.vals = append(g.vals, zero)
	}
	return &g.vals[i]
}

type categoryAcc struct {
	count   int
	revenue float64
}

func topCategories(records []model.OrderRecord, limit int) []model.CategoryStat {
	g := newGroups[categoryAcc]()
	for _, r := range records {
		acc := g.at(r.Category)
		acc.count++
		acc.revenue += r.FinalAmount
	}
	out := make([]model.CategoryStat, 0, len(g.keys))
	for i, k := range g.keys {
		out = append(out, model.CategoryStat{Category: k, Count: g.vals[i].count, Revenue: g.vals[i].revenue})
	}
	slices.SortStableFunc(out, func(a, b model.CategoryStat) int {
		switch {
		case a.Revenue > b.Revenue:
			return -1
		case a.Revenue < b.Revenue:
			return 1
		}
		return 0
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func revenueByDate(records []model.OrderRecord) []model.DateRevenue {
	g := newGroups[float64]()
	for _, r := range records {
		*g.at(r.Date) += r.FinalAmount
	}

	type keyed struct {
		model.DateRevenue
		at time.Time
		ok bool
	}
	rows := make([]keyed, 0, len(g.keys))
	for i, k := range g.keys {
		at, ok := parseDateKey(k)
		rows = append(rows, keyed{DateRevenue: model.DateRevenue{Date: k, Revenue: g.vals[i]}, at: at, ok: ok})
	}
	// Unparsable keys sort after every parsable one.
	slices.SortStableFunc(rows, func(a, b keyed) int {
		switch {
		case a.ok && b.ok:
			return a.at.Compare(b.at)
		case a.ok:
			return -1
		case b.ok:
			return 1
		}
		return 0
	})

	out := make([]model.DateRevenue, len(rows))
	for i, r := range rows {
		out[i] = r.DateRevenue
	}
	return out
}

func statusDistribution(records []model.OrderRecord) []model.StatusCount {
	g := newGroups[int]()
	for _, r := range records {
		*g.at(r.OrderStatus)++
	}
	out := make([]model.StatusCount, len(g.keys))
	for i, k := range g.keys {
		out[i] = model.StatusCount{Status: k, Count: g.vals[i]}
	}
	return out
}

func paymentDistribution(records []model.OrderRecord) []model.MethodCount {
	g := newGroups[int]()
	for _, r := range records {
		*g.at(r.PaymentMethod)++
	}
	out := make([]model.MethodCount, len(g.keys))
	for i, k := range g.keys {
		out[i] = model.MethodCount{Method: k, Count: g.vals[i]}
	}
	return out
}

var dateKeyLayouts = []string{
	model.TimestampLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// parseDateKey reinterprets a stored date value as a point in time.
func parseDateKey(s string) (time.Time, bool) {
	if s == "" || s == model.InvalidDate {
		return time.Time{}, false
	}
	for _, layout := range dateKeyLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// RecentOrders returns up to n records from the end of the input, newest
// row first. The input is not modified.
func RecentOrders(records []model.OrderRecord, n int) []model.OrderRecord {
	if n <= 0 {
		return []model.OrderRecord{}
	}
	start := len(records) - n
	if start < 0 {
		start = 0
	}
	out := slices.Clone(records[start:])
	if out == nil {
		out = []model.OrderRecord{}
	}
	slices.Reverse(out)
	return out
}
