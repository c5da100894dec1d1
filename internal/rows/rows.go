// Package rows models source CSV files as an ordered header plus ordered
// per-row values, with contact column roles resolved once per file.
package rows

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/shpitdev/mailprospect/internal/variant"
)

// Row is the ordered field values of one source row, positionally aligned
// with the file's header.
type Row struct {
	Values []string
}

// Roles holds the resolved column index for each contact role. -1 means the
// role is not mapped for this file.
type Roles struct {
	FirstName int
	LastName  int
	Domain    int
}

// ColumnNames is the configured header names for each contact role. Empty
// names skip the role.
type ColumnNames struct {
	FirstName string
	LastName  string
	Domain    string
}

// ResolveRoles matches configured column names against a file header.
// Matching is case-insensitive and whitespace-trimmed. A configured name that
// is missing from the header is an error; an empty name resolves to -1.
func ResolveRoles(header []string, names ColumnNames) (Roles, error) {
	roles := Roles{FirstName: -1, LastName: -1, Domain: -1}

	find := func(name string) (int, error) {
		if strings.TrimSpace(name) == "" {
			return -1, nil
		}
		for i, col := range header {
			if strings.EqualFold(strings.TrimSpace(col), strings.TrimSpace(name)) {
				return i, nil
			}
		}
		return -1, fmt.Errorf("missing required column %q", name)
	}

	var err error
	if roles.FirstName, err = find(names.FirstName); err != nil {
		return Roles{}, err
	}
	if roles.LastName, err = find(names.LastName); err != nil {
		return Roles{}, err
	}
	if roles.Domain, err = find(names.Domain); err != nil {
		return Roles{}, err
	}
	return roles, nil
}

// Contact extracts the contact fields of r per the resolved roles. Absent
// columns and short rows yield empty fields.
func (r Row) Contact(roles Roles) variant.Contact {
	get := func(i int) string {
		if i < 0 || i >= len(r.Values) {
			return ""
		}
		return strings.TrimSpace(r.Values[i])
	}
	return variant.Contact{
		FirstName: get(roles.FirstName),
		LastName:  get(roles.LastName),
		Domain:    get(roles.Domain),
	}
}

// Reader streams data rows from a CSV source. The header is consumed at
// construction so callers can resolve column roles before the first row.
type Reader struct {
	// Header is the file's header record, in column order.
	Header []string

	cr *csv.Reader
}

// NewReader wraps r and reads the header record.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return &Reader{Header: header, cr: cr}, nil
}

// Next returns the next data row in file order. ok is false at end of input.
func (r *Reader) Next() (Row, bool, error) {
	rec, err := r.cr.Read()
	if err == io.EOF {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("read row: %w", err)
	}
	return Row{Values: rec}, true, nil
}

// ReadAll buffers every data row of a CSV file. Used by reconciliation, which
// must correlate results against positional row order.
func ReadAll(r io.Reader) ([]string, []Row, error) {
	rr, err := NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	var all []Row
	for {
		row, ok, err := rr.Next()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return rr.Header, all, nil
		}
		all = append(all, row)
	}
}

// WriteAll writes a header and rows as CSV.
func WriteAll(w io.Writer, header []string, all []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range all {
		if err := cw.Write(row.Values); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
