// schema/schema.go
package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Unique is the value of a `unique` declaration. In a schema file it is
// written either as a boolean or as a message string; a non-empty message
// implies the flag.
type Unique struct {
	Enabled bool
	Message string
}

// UniqueFlag returns a plain unique declaration without a message.
func UniqueFlag() Unique { return Unique{Enabled: true} }

// UniqueMessage returns a unique declaration carrying a custom message.
func UniqueMessage(msg string) Unique {
	return Unique{Enabled: msg != "", Message: msg}
}

// Normalized drops the message and keeps only the flag.
func (u Unique) Normalized() Unique {
	return Unique{Enabled: u.Enabled}
}

// UnmarshalYAML accepts `unique: true|false` and `unique: "message"`.
func (u *Unique) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: unique must be a boolean or a message string", n.Line)
	}
	if n.Tag == "!!bool" {
		var b bool
		if err := n.Decode(&b); err != nil {
			return err
		}
		*u = Unique{Enabled: b}
		return nil
	}
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	*u = UniqueMessage(s)
	return nil
}

// MarshalYAML writes the message when present, the flag otherwise.
func (u Unique) MarshalYAML() (any, error) {
	if u.Message != "" {
		return u.Message, nil
	}
	return u.Enabled, nil
}

// IsZero lets `omitempty` skip undeclared uniqueness.
func (u Unique) IsZero() bool { return !u.Enabled && u.Message == "" }

// Field is one node of a collection's field tree. Fields with children
// describe sub-documents.
type Field struct {
	Type   string            `yaml:"type,omitempty"`
	Unique Unique            `yaml:"unique,omitempty"`
	Fields map[string]*Field `yaml:"fields,omitempty"`
}

// Index is an explicitly declared (possibly compound) index. Fields keep
// declaration order, which is the key order the index is built with.
type Index struct {
	Name   string   `yaml:"name,omitempty"`
	Fields []string `yaml:"fields"`
	Unique Unique   `yaml:"unique,omitempty"`
	Sparse bool     `yaml:"sparse,omitempty"`
}

// Schema is the declaration for a single collection.
type Schema struct {
	Fields  map[string]*Field `yaml:"fields"`
	Indexes []Index           `yaml:"indexes,omitempty"`
}

// File is the on-disk schema document covering several collections.
type File struct {
	DefaultMessage string             `yaml:"default_message,omitempty"`
	Collections    map[string]*Schema `yaml:"collections"`
}

// Load reads and parses a schema file.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	f, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a schema document and validates its shape.
func Parse(b []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate reports structural problems: empty names and indexes without fields.
func (f *File) Validate() error {
	var problems []string
	for _, name := range f.CollectionNames() {
		s := f.Collections[name]
		if strings.TrimSpace(name) == "" {
			problems = append(problems, "collection with empty name")
			continue
		}
		if s == nil {
			continue
		}
		s.Walk(func(path string, _ *Field) {
			if strings.HasSuffix(path, ".") || strings.HasPrefix(path, ".") || strings.Contains(path, "..") || path == "" {
				problems = append(problems, fmt.Sprintf("%s: field with empty name under %q", name, path))
			}
		})
		for i, idx := range s.Indexes {
			if len(idx.Fields) == 0 {
				problems = append(problems, fmt.Sprintf("%s: index #%d has no fields", name, i))
			}
			for _, fld := range idx.Fields {
				if fld == "" {
					problems = append(problems, fmt.Sprintf("%s: index #%d has an empty field name", name, i))
				}
			}
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid schema: %s", strings.Join(problems, "; "))
}

// CollectionNames returns the declared collection names in sorted order.
func (f *File) CollectionNames() []string {
	names := make([]string, 0, len(f.Collections))
	for name := range f.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Collection returns the schema for name, or nil.
func (f *File) Collection(name string) *Schema {
	if f == nil {
		return nil
	}
	return f.Collections[name]
}

// Walk visits every field of the tree depth-first in sorted key order,
// passing the dotted path of each field.
func (s *Schema) Walk(fn func(path string, f *Field)) {
	if s == nil {
		return
	}
	walk("", s.Fields, fn)
}

func walk(prefix string, fields map[string]*Field, fn func(string, *Field)) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		f := fields[k]
		if f == nil {
			continue
		}
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		fn(path, f)
		if len(f.Fields) > 0 {
			walk(path, f.Fields, fn)
		}
	}
}

// IndexSpecs returns every index the collection needs: one single-field
// index per field flagged unique in the tree, followed by the explicitly
// declared indexes.
func (s *Schema) IndexSpecs() []Index {
	if s == nil {
		return nil
	}
	var out []Index
	s.Walk(func(path string, f *Field) {
		if f.Unique.Enabled {
			out = append(out, Index{Fields: []string{path}, Unique: f.Unique})
		}
	})
	return append(out, s.Indexes...)
}
