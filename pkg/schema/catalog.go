package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// KindSpec describes the constraints a field kind carries. The catalog
// of kinds ships with compiled-in defaults and can be overridden from a
// YAML file for deployments that restrict or extend the field palette.
type KindSpec struct {
	Name          string `yaml:"name" json:"name"`
	Container     bool   `yaml:"container" json:"container"`
	NeedsOptions  bool   `yaml:"needs_options" json:"needs_options"`
	AllowChildren bool   `yaml:"allow_children" json:"allow_children"`
}

type Catalog struct {
	Kinds map[FieldKind]KindSpec `yaml:"kinds" json:"kinds"`
}

func DefaultCatalog() Catalog {
	return Catalog{Kinds: map[FieldKind]KindSpec{
		KindText:      {Name: "Text"},
		KindNumber:    {Name: "Number"},
		KindCheckbox:  {Name: "Checkbox"},
		KindSelect:    {Name: "Select", NeedsOptions: true},
		KindDate:      {Name: "Date"},
		KindFile:      {Name: "File upload"},
		KindContainer: {Name: "Group", Container: true, AllowChildren: true},
		KindDatagrid:  {Name: "Repeating group", Container: true, AllowChildren: true},
	}}
}

func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read field catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse field catalog: %w", err)
	}
	if len(cat.Kinds) == 0 {
		return Catalog{}, fmt.Errorf("field catalog defines no kinds")
	}
	return cat, nil
}

func (c Catalog) Lookup(kind FieldKind) (KindSpec, bool) {
	spec, ok := c.Kinds[kind]
	return spec, ok
}
