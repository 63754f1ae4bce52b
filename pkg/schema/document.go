// Package schema models form field definitions as a typed tree and
// validates raw schema documents before they are published as snapshots.
package schema

import (
	"encoding/json"
	"fmt"
)

type FieldKind string

const (
	KindText      FieldKind = "text"
	KindNumber    FieldKind = "number"
	KindCheckbox  FieldKind = "checkbox"
	KindSelect    FieldKind = "select"
	KindDate      FieldKind = "date"
	KindFile      FieldKind = "file"
	KindContainer FieldKind = "container"
	KindDatagrid  FieldKind = "datagrid"
)

// Field is one node in the definition tree. Children is populated only
// for container and datagrid kinds.
type Field struct {
	Key      string    `json:"key"`
	Label    string    `json:"label,omitempty"`
	Kind     FieldKind `json:"type"`
	Required bool      `json:"required,omitempty"`
	Options  []string  `json:"options,omitempty"`
	Children []Field   `json:"fields,omitempty"`
}

type Document struct {
	Fields []Field `json:"fields"`
}

// Parse converts a raw schema document, as stored in a snapshot's JSONB
// column, into the typed tree. Structural problems (wrong shapes, not
// unknown kinds) are reported here; semantic rules belong to Validate.
func Parse(raw map[string]interface{}) (Document, error) {
	if raw == nil {
		return Document{}, fmt.Errorf("schema document is empty")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Document{}, fmt.Errorf("schema document is not serializable: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("schema document is malformed: %w", err)
	}
	if len(doc.Fields) == 0 {
		return Document{}, fmt.Errorf("schema document defines no fields")
	}
	return doc, nil
}

// KeyPaths returns every leaf field path in definition order, using
// dotted parent.child notation for nested groups.
func (d Document) KeyPaths() []string {
	var paths []string
	var walk func(prefix string, fields []Field)
	walk = func(prefix string, fields []Field) {
		for _, f := range fields {
			path := f.Key
			if prefix != "" {
				path = prefix + "." + f.Key
			}
			if len(f.Children) > 0 {
				walk(path, f.Children)
				continue
			}
			paths = append(paths, path)
		}
	}
	walk("", d.Fields)
	return paths
}

// TopLevelKeys returns only the root field keys, the set submission
// payload keys are checked against at intake.
func (d Document) TopLevelKeys() map[string]struct{} {
	keys := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		keys[f.Key] = struct{}{}
	}
	return keys
}
