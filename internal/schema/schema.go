// Package schema declares the field types a collection understands and the
// document shape accepted by the index writer.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
)

// FieldType selects how a field is analysed and queried.
type FieldType int

const (
	Keyword FieldType = iota
	Text
	Date
	Numeric
)

func (t FieldType) String() string {
	switch t {
	case Keyword:
		return "keyword"
	case Text:
		return "text"
	case Date:
		return "date"
	case Numeric:
		return "numeric"
	default:
		return "unknown"
	}
}

// ParseFieldType accepts the mapping names used in YAML/JSON schemas.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keyword":
		return Keyword, nil
	case "text":
		return Text, nil
	case "date":
		return Date, nil
	case "numeric", "long", "integer", "double", "float":
		return Numeric, nil
	}
	return 0, fmt.Errorf("%w: unknown field type %q", apperrors.ErrInvalidInput, s)
}

func (t FieldType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *FieldType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t *FieldType) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Comparable reports whether range queries are allowed on the type.
func (t FieldType) Comparable() bool {
	return t == Date || t == Numeric
}

// Field is a single declared field. Nested object members use dotted names.
type Field struct {
	Name string    `json:"name" yaml:"name"`
	Type FieldType `json:"type" yaml:"type"`
}

// Schema is the immutable set of fields declared for a collection.
type Schema struct {
	fields []Field
	byName map[string]FieldType
}

// New validates the field list and builds a Schema. Field order is preserved.
func New(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, 0, len(fields)),
		byName: make(map[string]FieldType, len(fields)),
	}
	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty field name", apperrors.ErrInvalidInput)
		}
		if _, dup := s.byName[name]; dup {
			return nil, fmt.Errorf("%w: field %q declared twice", apperrors.ErrInvalidInput, name)
		}
		s.fields = append(s.fields, Field{Name: name, Type: f.Type})
		s.byName[name] = f.Type
	}
	if len(s.fields) == 0 {
		return nil, fmt.Errorf("%w: schema declares no fields", apperrors.ErrInvalidInput)
	}
	return s, nil
}

// MustNew is New for statically known schemas.
func MustNew(fields ...Field) *Schema {
	s, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Lookup returns the declared type of a field.
func (s *Schema) Lookup(name string) (FieldType, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// Expand resolves a field pattern to declared field names. Patterns are an
// exact name, an object prefix ("author" covers "author.first_name") or a
// trailing wildcard ("author.*", "*").
func (s *Schema) Expand(pattern string) []string {
	if _, ok := s.byName[pattern]; ok {
		return []string{pattern}
	}
	var prefix string
	switch {
	case pattern == "*":
		prefix = ""
	case strings.HasSuffix(pattern, "*"):
		prefix = strings.TrimSuffix(pattern, "*")
	default:
		prefix = pattern + "."
	}
	var out []string
	for _, f := range s.fields {
		if strings.HasPrefix(f.Name, prefix) {
			out = append(out, f.Name)
		}
	}
	return out
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.fields)
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	var fields []Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	parsed, err := New(fields...)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// FromMapping builds a Schema from a name->type map, sorted by name.
func FromMapping(mapping map[string]string) (*Schema, error) {
	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]Field, 0, len(names))
	for _, name := range names {
		t, err := ParseFieldType(mapping[name])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields = append(fields, Field{Name: name, Type: t})
	}
	return New(fields...)
}
