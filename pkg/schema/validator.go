package schema

import (
	"fmt"
	"regexp"
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// Issue is one validation finding. An empty issue list means the
// document is publishable.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

type Validator struct {
	catalog  Catalog
	maxDepth int
}

func NewValidator(catalog Catalog, maxDepth int) *Validator {
	if maxDepth <= 0 {
		maxDepth = 8
	}
	return &Validator{catalog: catalog, maxDepth: maxDepth}
}

func (v *Validator) Validate(doc Document) []Issue {
	var issues []Issue
	v.walk("", doc.Fields, 1, &issues)
	return issues
}

func (v *Validator) walk(prefix string, fields []Field, depth int, issues *[]Issue) {
	if depth > v.maxDepth {
		*issues = append(*issues, Issue{Path: prefix, Message: fmt.Sprintf("nesting exceeds maximum depth of %d", v.maxDepth)})
		return
	}

	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		path := f.Key
		if prefix != "" {
			path = prefix + "." + f.Key
		}

		if f.Key == "" {
			*issues = append(*issues, Issue{Path: prefix, Message: "field key must not be empty"})
			continue
		}
		if !keyPattern.MatchString(f.Key) {
			*issues = append(*issues, Issue{Path: path, Message: "field key must start with a letter and contain only letters, digits, underscores or dashes"})
		}
		if _, dup := seen[f.Key]; dup {
			*issues = append(*issues, Issue{Path: path, Message: "duplicate field key in the same group"})
		}
		seen[f.Key] = struct{}{}

		spec, known := v.catalog.Lookup(f.Kind)
		if !known {
			*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("unknown field kind %q", f.Kind)})
			continue
		}
		if spec.NeedsOptions && len(f.Options) == 0 {
			*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("%s fields require at least one option", f.Kind)})
		}
		if len(f.Children) > 0 && !spec.AllowChildren {
			*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("%s fields cannot contain nested fields", f.Kind)})
		}
		if spec.Container && len(f.Children) == 0 {
			*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("%s fields require at least one nested field", f.Kind)})
		}
		if len(f.Children) > 0 && spec.AllowChildren {
			v.walk(path, f.Children, depth+1, issues)
		}
	}
}
