// Package csv reads cost records from CSV exports and writes allocated costs.
//
// Readers accept three column layouts: cost allocation keys, FOCUS
// cloud costs and the allocated cost output of a previous run. Columns are
// addressed by header name; unknown columns are ignored.
package csv

import (
	encsv "encoding/csv"
	"io"
	"strconv"
	"strings"

	"cloud-cost-allocation/internal/errors"
)

const bom = "\uFEFF"

// row is a CSV line addressed by header name
type row struct {
	line    int
	columns map[string]int
	values  []string
}

// get returns the value of a column and whether the column exists
func (r row) get(column string) (string, bool) {
	i, ok := r.columns[column]
	if !ok || i >= len(r.values) {
		return "", ok
	}
	return r.values[i], true
}

// value returns the value of a column, empty when the column is missing
func (r row) value(column string) string {
	v, _ := r.get(column)
	return v
}

// float parses a numeric column; an empty or missing column is zero
func (r row) float(column string) (float64, error) {
	v := strings.TrimSpace(r.value(column))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.TypeParsing, err, "line %d: column %s is not a number: %q", r.line, column, v)
	}
	return f, nil
}

// eachRow calls fn for every line of a CSV stream with a header line
func eachRow(r io.Reader, fn func(row) error) error {
	reader := encsv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return errors.Parsing("failed to read CSV header", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, bom)
		}
		columns[strings.TrimSpace(name)] = i
	}

	for line := 2; ; line++ {
		values, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(errors.TypeParsing, err, "failed to read CSV line %d", line)
		}
		if err := fn(row{line: line, columns: columns, values: values}); err != nil {
			return err
		}
	}
}
