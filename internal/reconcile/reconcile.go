// Package reconcile parses bulk verification results and merges verified
// addresses back onto the originating source rows by correlation line number.
package reconcile

import (
	"strconv"
	"strings"

	"github.com/shpitdev/mailprospect/internal/rows"
)

// VerifiedColumn is the header of the column appended to merged output.
const VerifiedColumn = "Verified Emails"

// OutcomeOK is the only verification outcome that survives parsing.
const OutcomeOK = "ok"

// SkippedLine records one discarded result line and why it was discarded.
type SkippedLine struct {
	Number int
	Line   string
	Reason string
}

// Diagnostics collects what parsing dropped, so callers and tests can assert
// on skipped input without scraping logs.
type Diagnostics struct {
	Skipped []SkippedLine
}

func (d *Diagnostics) note(n int, line, reason string) {
	if d == nil {
		return
	}
	d.Skipped = append(d.Skipped, SkippedLine{Number: n, Line: line, Reason: reason})
}

// Grouping maps a 1-based correlation line number to the verified emails for
// that source row, in result-arrival order.
type Grouping map[int][]string

// ParseResults parses the raw newline-delimited result payload. Each record
// is "outcome,lineNumber,email[,...]". Blank lines and one leading header
// line are skipped; lines with fewer than three fields or a non-integer line
// number are discarded into diag; only outcome "ok" is retained. Parsing is a
// pure function of the payload, so reruns group identically.
func ParseResults(payload []byte, diag *Diagnostics) Grouping {
	grouping := make(Grouping)

	sawRecord := false
	for i, raw := range strings.Split(string(payload), "\n") {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			diag.note(i+1, line, "fewer than 3 fields")
			continue
		}
		lineNo, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || lineNo < 1 {
			// The service may prepend a column-name header; the first
			// non-numeric record is that header, anything later is malformed.
			if !sawRecord {
				sawRecord = true
				continue
			}
			diag.note(i+1, line, "non-integer line number")
			continue
		}
		sawRecord = true

		if !strings.EqualFold(strings.TrimSpace(fields[0]), OutcomeOK) {
			continue
		}
		grouping[lineNo] = append(grouping[lineNo], strings.TrimSpace(fields[2]))
	}
	return grouping
}

// Merge appends the VerifiedColumn to header and every row: row i (1-based)
// receives grouping[i] joined with newlines, or the empty string when that
// row has no verified entries. Original fields and order are untouched; the
// inputs are fully materialized because correlation is positional.
func Merge(header []string, all []rows.Row, grouping Grouping) ([]string, []rows.Row) {
	outHeader := append(append([]string(nil), header...), VerifiedColumn)

	out := make([]rows.Row, len(all))
	for i, row := range all {
		verified := strings.Join(grouping[i+1], "\n")
		out[i] = rows.Row{Values: append(append([]string(nil), row.Values...), verified)}
	}
	return outHeader, out
}
