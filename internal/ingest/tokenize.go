package ingest

import "strings"

// maxRecordLines bounds how many physical lines one quoted field may span.
const maxRecordLines = 8

// splitRecords cuts raw text into logical records. A line that ends inside a
// field which began with a quote is joined with the following lines until the
// quote closes, as long as none of those lines reads as a data row of its own.
// Otherwise every line stands alone.
func splitRecords(raw string) []string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		rec := strings.TrimSuffix(lines[i], "\r")
		if _, openAt, atStart := scan(rec, -1); openAt >= 0 && atStart {
			if joined, extra, ok := continueRecord(rec, lines[i+1:]); ok {
				out = append(out, joined)
				i += extra
				continue
			}
		}
		out = append(out, rec)
	}
	return out
}

func continueRecord(first string, rest []string) (string, int, bool) {
	var b strings.Builder
	b.WriteString(first)
	for k := 0; k < len(rest) && k < maxRecordLines-1; k++ {
		next := strings.TrimSuffix(rest[k], "\r")
		if strings.TrimSpace(next) == "" || looksLikeRow(next) {
			return "", 0, false
		}
		b.WriteByte('\n')
		b.WriteString(next)
		if _, openAt, _ := scan(b.String(), -1); openAt < 0 {
			return b.String(), k + 1, true
		}
	}
	return "", 0, false
}

// minRowCommas is how many unquoted commas make a line read as a row.
const minRowCommas = 3

// looksLikeRow reports whether the text before a line's first quote already
// has the shape of an export row: a day/month/year date in the first column,
// or at least minRowCommas separators.
func looksLikeRow(line string) bool {
	head, _, _ := strings.Cut(line, `"`)
	if strings.Count(head, ",") >= minRowCommas {
		return true
	}
	first, _, found := strings.Cut(head, ",")
	return found && strings.Count(strings.TrimSpace(first), "/") == 2
}

// tokenize splits one record on commas outside quotes. A quote toggles quoted
// mode and is dropped from the value; every field is trimmed. A quote that
// is never closed, like the inch mark in 27" Monitor, is kept as a literal
// character instead, and stray reports that it happened.
func tokenize(line string) (fields []string, stray bool) {
	fields, openAt, _ := scan(line, -1)
	if openAt < 0 {
		return fields, false
	}
	fields, _, _ = scan(line, openAt)
	return fields, true
}

// scan does the splitting for tokenize. The quote at byte index literal, if
// any, is copied into the field instead of toggling. openAt is the index of
// the quote left open at the end of line or -1; atStart reports whether that
// quote began its field.
func scan(line string, literal int) (fields []string, openAt int, atStart bool) {
	var cur strings.Builder
	open := false
	openAt = -1
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"' && i != literal:
			if !open {
				openAt = i
				atStart = strings.TrimSpace(cur.String()) == ""
			}
			open = !open
		case c == ',' && !open:
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, strings.TrimSpace(cur.String()))
	if !open {
		return fields, -1, false
	}
	return fields, openAt, atStart
}
