package ingest

import (
	"strconv"
	"strings"
	"time"

	"bizdash/internal/model"
)

// numField keeps "missing" apart from "zero" until the record is built.
type numField struct {
	value   float64
	present bool // source text was non-empty
	exact   bool // the whole text was numeric
}

func (n numField) orZero() float64 {
	if !n.present {
		return 0
	}
	return n.value
}

// coerced reports non-empty text that was not entirely numeric.
func (n numField) coerced() bool { return n.present && !n.exact }

// parseFloatField reads the longest numeric prefix of s: sign, digits,
// optional fraction and exponent. No prefix yields zero.
func parseFloatField(s string) numField {
	s = strings.TrimSpace(s)
	if s == "" {
		return numField{}
	}
	end := floatPrefixLen(s)
	if end == 0 {
		return numField{present: true}
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return numField{present: true}
	}
	return numField{value: v, present: true, exact: end == len(s)}
}

// parseIntField reads the longest integer prefix of s. Negative values are
// treated as unparsable since quantities cannot be negative.
func parseIntField(s string) numField {
	s = strings.TrimSpace(s)
	if s == "" {
		return numField{}
	}
	end := intPrefixLen(s)
	if end == 0 {
		return numField{present: true}
	}
	v, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil || v < 0 {
		return numField{present: true}
	}
	return numField{value: float64(v), present: true, exact: end == len(s)}
}

func intPrefixLen(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	start := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	if i == start {
		return 0
	}
	return i
}

func floatPrefixLen(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		frac := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			frac++
		}
		if digits+frac > 0 {
			i = j
			digits += frac
		}
	}
	if digits == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		expStart := j
		for j < len(s) && isDigit(s[j]) {
			j++
		}
		if j > expStart {
			i = j
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

type dateOutcome int

const (
	dateVerbatim dateOutcome = iota
	dateParsed
	dateInvalid
)

// normalizeDate reads a day/month/year value and returns it as a normalized
// UTC timestamp. Values that are not three slash-separated parts are returned
// unchanged; three parts that do not form a date yield model.InvalidDate.
func normalizeDate(raw string, loc *time.Location) (string, dateOutcome) {
	parts := strings.Split(raw, "/")
	if raw == "" || len(parts) != 3 {
		return raw, dateVerbatim
	}
	t, ok := dayMonthYear(parts[0], parts[1], parts[2], loc)
	if !ok {
		return model.InvalidDate, dateInvalid
	}
	return t.UTC().Format(model.TimestampLayout), dateParsed
}

func dayMonthYear(dayStr, monthStr, yearStr string, loc *time.Location) (time.Time, bool) {
	day, ok := smallNumber(strings.TrimSpace(dayStr), 2)
	if !ok || day < 1 || day > 31 {
		return time.Time{}, false
	}
	month, ok := smallNumber(strings.TrimSpace(monthStr), 2)
	if !ok || month < 1 || month > 12 {
		return time.Time{}, false
	}

	yearStr = strings.TrimSpace(yearStr)
	n := 0
	for n < len(yearStr) && isDigit(yearStr[n]) {
		n++
	}
	year, ok := smallNumber(yearStr[:n], 4)
	if !ok {
		return time.Time{}, false
	}
	if n <= 2 {
		if year < 50 {
			year += 2000
		} else {
			year += 1900
		}
	}

	var hour, minute, sec int
	if clock := strings.TrimSpace(yearStr[n:]); clock != "" {
		if n == len(yearStr) || (yearStr[n] != ' ' && yearStr[n] != 'T') {
			return time.Time{}, false
		}
		ct, err := parseClock(clock)
		if err != nil {
			return time.Time{}, false
		}
		hour, minute, sec = ct.Hour(), ct.Minute(), ct.Second()
	}

	// time.Date rolls 31/02 forward into March, matching calendar overflow.
	return time.Date(year, time.Month(month), day, hour, minute, sec, 0, loc), true
}

func parseClock(s string) (time.Time, error) {
	t, err := time.Parse("15:04:05", s)
	if err == nil {
		return t, nil
	}
	return time.Parse("15:04", s)
}

// smallNumber parses 1..maxDigits ASCII digits.
func smallNumber(s string, maxDigits int) (int, bool) {
	if s == "" || len(s) > maxDigits {
		return 0, false
	}
	v := 0
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, false
		}
		v = v*10 + int(s[i]-'0')
	}
	return v, true
}
