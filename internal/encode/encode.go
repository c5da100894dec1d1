// Package encode turns a stream of source rows into line-numbered candidate
// records for bulk submission.
package encode

import (
	"fmt"
	"io"

	"github.com/shpitdev/mailprospect/internal/rows"
	"github.com/shpitdev/mailprospect/internal/variant"
)

// Stats summarizes one encoding pass.
type Stats struct {
	Rows       int
	Candidates int
}

// File encodes one source file in a single forward pass: column roles are
// resolved from the header, then each data row is assigned a 1-based line
// number and its generated candidates are written to w as "line,email"
// records. The counter increments for every row, including rows producing no
// candidates; reconciliation depends on this exact numbering.
func File(r io.Reader, w io.Writer, names rows.ColumnNames, templates []string) (rows.Roles, Stats, error) {
	rr, err := rows.NewReader(r)
	if err != nil {
		return rows.Roles{}, Stats{}, err
	}
	roles, err := rows.ResolveRoles(rr.Header, names)
	if err != nil {
		return rows.Roles{}, Stats{}, err
	}

	var stats Stats
	for {
		row, ok, err := rr.Next()
		if err != nil {
			return roles, stats, err
		}
		if !ok {
			return roles, stats, nil
		}
		stats.Rows++
		for _, email := range variant.Generate(row.Contact(roles), templates) {
			if _, err := fmt.Fprintf(w, "%d,%s\n", stats.Rows, email); err != nil {
				return roles, stats, err
			}
			stats.Candidates++
		}
	}
}
