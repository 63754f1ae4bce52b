package export

import (
	"fmt"

	"github.com/formforge/platform/pkg/common/models"
	"github.com/formforge/platform/pkg/schema"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Submissions"

// xlsxEncoder builds a single-sheet workbook. Unlike CSV and JSON the
// column set is finalized only after the stream is drained, so rows are
// buffered; callers cap the row count for this format.
type xlsxEncoder struct {
	columns  []string
	colIndex map[string]int
	rows     []map[string]interface{}
	warnings []string
	warned   map[string]struct{}
}

func newXLSXEncoder(doc schema.Document) *xlsxEncoder {
	columns := doc.KeyPaths()
	colIndex := make(map[string]int, len(columns))
	for i, c := range columns {
		colIndex[c] = i
	}
	return &xlsxEncoder{
		columns:  columns,
		colIndex: colIndex,
		warned:   map[string]struct{}{},
	}
}

func (e *xlsxEncoder) WriteRecord(sub models.Submission) error {
	row := make(map[string]interface{})
	for _, pair := range schema.FlattenValues(sub.Fields) {
		col := collapseIndexes(pair.Path)
		if _, known := e.colIndex[col]; !known {
			// Columns beyond the snapshot schema are appended in
			// first-seen order.
			e.colIndex[col] = len(e.columns)
			e.columns = append(e.columns, col)
		}
		cell, representable := renderCell(pair.Value)
		if !representable {
			e.warnOnce(fmt.Sprintf("value at %q has no spreadsheet representation; placeholder substituted", pair.Path))
		}
		if existing, ok := row[col]; ok {
			row[col] = fmt.Sprintf("%v; %s", existing, cell)
		} else {
			row[col] = cell
		}
	}
	e.rows = append(e.rows, row)
	return nil
}

func (e *xlsxEncoder) Finish() ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	index, err := file.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	file.SetActiveSheet(index)
	if err := file.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	for col, name := range e.columns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := file.SetCellValue(sheetName, cell, name); err != nil {
			return nil, err
		}
	}

	for i, row := range e.rows {
		for col, name := range e.columns {
			value, ok := row[name]
			if !ok {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			if err := file.SetCellValue(sheetName, cell, value); err != nil {
				return nil, err
			}
		}
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *xlsxEncoder) Warnings() []string { return e.warnings }

func (e *xlsxEncoder) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (e *xlsxEncoder) FileExtension() string { return "xlsx" }

func (e *xlsxEncoder) warnOnce(message string) {
	if _, seen := e.warned[message]; seen {
		return
	}
	e.warned[message] = struct{}{}
	e.warnings = append(e.warnings, message)
}
