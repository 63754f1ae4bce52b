package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/formforge/platform/pkg/common/models"
)

// jsonEncoder emits a single UTF-8 array of submission objects,
// streaming one object at a time so the full result set is never held
// in memory.
type jsonEncoder struct {
	buf      bytes.Buffer
	count    int64
	warnings []string
}

func newJSONEncoder() *jsonEncoder {
	e := &jsonEncoder{}
	e.buf.WriteByte('[')
	return e
}

func (e *jsonEncoder) WriteRecord(sub models.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		// Substitute rather than abort; the payload map contained
		// something encoding/json cannot express.
		e.warnings = append(e.warnings, fmt.Sprintf("submission %s is not JSON-serializable; placeholder substituted", sub.ID))
		stub := sub
		stub.Fields = map[string]interface{}{"_error": placeholder}
		data, err = json.Marshal(stub)
		if err != nil {
			return err
		}
	}
	if e.count > 0 {
		e.buf.WriteByte(',')
	}
	e.buf.WriteByte('\n')
	e.buf.Write(data)
	e.count++
	return nil
}

func (e *jsonEncoder) Finish() ([]byte, error) {
	if e.count > 0 {
		e.buf.WriteByte('\n')
	}
	e.buf.WriteByte(']')
	e.buf.WriteByte('\n')
	return e.buf.Bytes(), nil
}

func (e *jsonEncoder) Warnings() []string { return e.warnings }

func (e *jsonEncoder) ContentType() string { return "application/json" }

func (e *jsonEncoder) FileExtension() string { return "json" }
