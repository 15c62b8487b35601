package actions

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk form of an action table.
type File struct {
	Groups []Group `yaml:"groups"`
}

// UnmarshalYAML accepts both the short scalar form of an option, where the
// value doubles as its label, and the mapping form.
//
//	options: [10, 12, {value: "14", label: Large}]
func (o *Option) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		o.Value = value.Value
		o.Label = value.Value
		return nil
	}

	type rawOption Option
	var raw rawOption
	if err := value.Decode(&raw); err != nil {
		return err
	}
	o.Value = raw.Value
	o.Label = raw.Label
	if o.Label == "" {
		o.Label = o.Value
	}
	return nil
}

// LoadYAML decodes an action table. Unknown keys are rejected.
func LoadYAML(r io.Reader) (*Table, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse action table: %w", err)
	}
	return NewTable(f.Groups)
}

// LoadYAMLFile reads an action table from path.
func LoadYAMLFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read action table: %w", err)
	}
	return LoadYAML(bytes.NewReader(data))
}

// MarshalYAML renders the full table, hidden groups included.
func (t *Table) MarshalYAML() (any, error) {
	return File{Groups: t.groups}, nil
}
