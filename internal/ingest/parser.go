// Package ingest turns the spreadsheet CSV export into order records.
//
// Parsing is best effort: it never returns an error for bad data. Unparsable
// dates become model.InvalidDate, unparsable numbers become 0, and a quote
// that never closes is read as a literal character. Every non-blank row
// yields one record. Report exposes how much of the input was degraded.
package ingest

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bizdash/internal/logging"
	"bizdash/internal/model"
)

// Column positions of the export. The header row is never consulted.
const (
	colDate = iota
	colOrderID
	colCustomerName
	colCustomerPhone
	colCustomerEmail
	colItemName
	colCategory
	colQuantity
	colPricePerItem
	colTotalAmount
	colDiscountPercent
	colFinalAmount
	colPaymentMethod
	colOrderStatus
	colDeliveryType
	colDeliveryStatus
	colNotes

	ColumnCount
)

// Report describes one parse run.
type Report struct {
	Header         []string `json:"header"`
	Rows           int      `json:"rows"`
	Parsed         int      `json:"parsed"`
	StrayQuotes    int      `json:"strayQuotes"`
	InvalidDates   int      `json:"invalidDates"`
	CoercedNumbers int      `json:"coercedNumbers"`
}

// Parser is safe for concurrent use; it holds configuration only.
type Parser struct {
	loc *time.Location
	log zerolog.Logger
}

type Option func(*Parser)

// WithLocation sets the zone day/month/year values are read in. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		if loc != nil {
			p.loc = loc
		}
	}
}

//nolint:gocritic // zerolog.Logger is passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(p *Parser) { p.log = l }
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{
		loc: time.UTC,
		log: logging.With().Str("component", "ingest").Logger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse parses raw with a default Parser.
func Parse(raw string) []model.OrderRecord {
	return NewParser().Parse(raw)
}

func (p *Parser) Parse(raw string) []model.OrderRecord {
	recs, _ := p.ParseReport(raw)
	return recs
}

// ParseReport parses raw and reports what was degraded on the way. The
// returned slice is never nil and keeps input row order.
func (p *Parser) ParseReport(raw string) ([]model.OrderRecord, Report) {
	out := []model.OrderRecord{}
	var rep Report

	records := splitRecords(raw)
	if len(records) < 2 {
		p.log.Debug().Int("lines", len(records)).Msg("not enough lines in export")
		return out, rep
	}

	rep.Header, _ = tokenize(records[0])
	p.log.Debug().Strs("header", rep.Header).Msg("export header")

	for i, line := range records[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rep.Rows++
		out = append(out, p.parseRow(i+1, line, &rep))
	}
	rep.Parsed = len(out)
	return out, rep
}

func (p *Parser) parseRow(n int, line string, rep *Report) model.OrderRecord {
	fields, stray := tokenize(line)
	if stray {
		rep.StrayQuotes++
		p.log.Debug().Int("row", n).Msg("unmatched quote read literally")
	}
	col := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	date, outcome := normalizeDate(col(colDate), p.loc)
	if outcome == dateInvalid {
		rep.InvalidDates++
		p.log.Warn().Str("date", col(colDate)).Msg("invalid date format")
	}

	quantity := parseIntField(col(colQuantity))
	price := parseFloatField(col(colPricePerItem))
	total := parseFloatField(col(colTotalAmount))
	discount := parseFloatField(col(colDiscountPercent))
	final := parseFloatField(col(colFinalAmount))
	for _, n := range []numField{quantity, price, total, discount, final} {
		if n.coerced() {
			rep.CoercedNumbers++
		}
	}
	if price.coerced() {
		p.log.Debug().Str("value", col(colPricePerItem)).Msg("coerced price per item")
	}
	if final.coerced() {
		p.log.Debug().Str("value", col(colFinalAmount)).Msg("coerced final amount")
	}

	return model.OrderRecord{
		Date:            date,
		OrderID:         col(colOrderID),
		CustomerName:    col(colCustomerName),
		CustomerPhone:   col(colCustomerPhone),
		CustomerEmail:   col(colCustomerEmail),
		ItemName:        col(colItemName),
		Category:        col(colCategory),
		Quantity:        int(quantity.orZero()),
		PricePerItem:    price.orZero(),
		TotalAmount:     total.orZero(),
		DiscountPercent: discount.orZero(),
		FinalAmount:     final.orZero(),
		PaymentMethod:   col(colPaymentMethod),
		OrderStatus:     col(colOrderStatus),
		DeliveryType:    col(colDeliveryType),
		DeliveryStatus:  col(colDeliveryStatus),
		Notes:           col(colNotes),
	}
}
