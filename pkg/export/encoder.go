package export

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/formforge/platform/pkg/common/errs"
	"github.com/formforge/platform/pkg/common/models"
	"github.com/formforge/platform/pkg/schema"
)

// placeholder substitutes field values the target format cannot
// represent. The export continues; a warning records the substitution.
const placeholder = "[unsupported]"

// Encoder serializes a stream of submissions into one output format.
// Records are fed one at a time in stream order; Finish returns the
// final artifact bytes. Encoders are single-use.
type Encoder interface {
	WriteRecord(sub models.Submission) error
	Finish() ([]byte, error)
	Warnings() []string
	ContentType() string
	FileExtension() string
}

// NewEncoder returns the encoder for format, bound to the snapshot's
// field definitions so tabular outputs carry schema-ordered columns.
func NewEncoder(format string, doc schema.Document) (Encoder, error) {
	switch format {
	case models.FormatCSV:
		return newCSVEncoder(doc), nil
	case models.FormatJSON:
		return newJSONEncoder(), nil
	case models.FormatXLSX:
		return newXLSXEncoder(doc), nil
	default:
		return nil, errs.UnsupportedFormat("format %q is not one of csv, json, xlsx", format)
	}
}

var indexSegment = regexp.MustCompile(`\.\d+(\.|$)`)

// collapseIndexes folds repeating-group indices out of a flattened
// path, so contacts.0.phone and contacts.1.phone both land in the
// contacts.phone column.
func collapseIndexes(path string) string {
	for indexSegment.MatchString(path) {
		path = indexSegment.ReplaceAllString(path, "$1")
	}
	return path
}

// renderCell converts a flattened JSON value into tabular cell text.
// The second return is false when the value has no sensible textual
// form and the placeholder policy applies.
func renderCell(value interface{}) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", true
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return placeholder, false
	}
}
