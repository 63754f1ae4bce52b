package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/formforge/platform/pkg/common/models"
	"github.com/formforge/platform/pkg/schema"
)

// csvEncoder streams rows into an RFC-4180 writer. The header is the
// snapshot's leaf field paths in definition order and is emitted before
// the first data row, so the encoder never has to hold more than one
// record in memory. Flattened values whose path is not a schema column
// are dropped with a warning rather than aborting the export.
type csvEncoder struct {
	buf      bytes.Buffer
	writer   *csv.Writer
	columns  []string
	colIndex map[string]int
	started  bool
	warnings []string
	warned   map[string]struct{}
}

func newCSVEncoder(doc schema.Document) *csvEncoder {
	columns := doc.KeyPaths()
	colIndex := make(map[string]int, len(columns))
	for i, c := range columns {
		colIndex[c] = i
	}
	e := &csvEncoder{
		columns:  columns,
		colIndex: colIndex,
		warned:   map[string]struct{}{},
	}
	e.writer = csv.NewWriter(&e.buf)
	return e
}

func (e *csvEncoder) WriteRecord(sub models.Submission) error {
	if !e.started {
		if err := e.writer.Write(e.columns); err != nil {
			return err
		}
		e.started = true
	}

	row := make([]string, len(e.columns))
	for _, pair := range schema.FlattenValues(sub.Fields) {
		col, ok := e.colIndex[collapseIndexes(pair.Path)]
		if !ok {
			e.warnOnce(fmt.Sprintf("field path %q is not a column of the snapshot schema; value omitted", pair.Path))
			continue
		}
		cell, representable := renderCell(pair.Value)
		if !representable {
			e.warnOnce(fmt.Sprintf("value at %q has no CSV representation; placeholder substituted", pair.Path))
		}
		if row[col] == "" {
			row[col] = cell
		} else if cell != "" {
			// Repeating-group values share a column.
			row[col] = row[col] + "; " + cell
		}
	}
	return e.writer.Write(row)
}

func (e *csvEncoder) Finish() ([]byte, error) {
	if !e.started {
		if err := e.writer.Write(e.columns); err != nil {
			return nil, err
		}
	}
	e.writer.Flush()
	if err := e.writer.Error(); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

func (e *csvEncoder) Warnings() []string { return e.warnings }

func (e *csvEncoder) ContentType() string { return "text/csv; charset=utf-8" }

func (e *csvEncoder) FileExtension() string { return "csv" }

func (e *csvEncoder) warnOnce(message string) {
	if _, seen := e.warned[message]; seen {
		return
	}
	e.warned[message] = struct{}{}
	e.warnings = append(e.warnings, message)
}
