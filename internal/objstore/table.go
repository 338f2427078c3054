package objstore

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// Table is a decoded tabular object. Every row has len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Column returns the values of the named column.
func (t *Table) Column(name string) ([]string, bool) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	values := make([]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		values = append(values, row[idx])
	}
	return values, true
}

var tableDecoders = map[string]func(io.Reader) (*Table, error){
	".parquet": decodeParquet,
	".csv":     decodeCSV,
}

func decodeCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Table{}, nil
		}
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := &Table{Columns: header}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}
		t.Rows = append(t.Rows, record)
	}
	return t, nil
}

// decodeParquet reads the whole object into memory since parquet needs
// random access to the footer.
func decodeParquet(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading parquet object: %w", err)
	}
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening parquet file: %w", err)
	}

	paths := f.Schema().Columns()
	t := &Table{Columns: make([]string, len(paths))}
	for i, p := range paths {
		t.Columns[i] = strings.Join(p, ".")
	}

	buf := make([]parquet.Row, 128)
	for _, rg := range f.RowGroups() {
		if err := readRowGroup(rg, buf, t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func readRowGroup(rg parquet.RowGroup, buf []parquet.Row, t *Table) error {
	rows := rg.Rows()
	defer rows.Close()

	for {
		n, err := rows.ReadRows(buf)
		for _, row := range buf[:n] {
			cells := make([]string, len(t.Columns))
			for _, v := range row {
				col := v.Column()
				if col < 0 || col >= len(cells) || v.IsNull() {
					continue
				}
				cells[col] = v.String()
			}
			t.Rows = append(t.Rows, cells)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading parquet rows: %w", err)
		}
	}
}
