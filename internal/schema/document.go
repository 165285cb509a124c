package schema

import (
	"strconv"
	"strings"
)

// Document is the unit accepted by the index writer. Fields may hold nested
// maps; they are flattened to dotted names before analysis.
type Document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// NewDocument flattens fields and returns a Document with the given id.
func NewDocument(id string, fields map[string]any) Document {
	return Document{ID: strings.TrimSpace(id), Fields: Flatten(fields)}
}

// Clone copies the field map and any list values, so the copy can be kept
// while the caller goes on mutating d. Scalar values are shared.
func (d Document) Clone() Document {
	fields := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		if list, ok := v.([]any); ok {
			v = append([]any(nil), list...)
		}
		fields[k] = v
	}
	return Document{ID: d.ID, Fields: fields}
}

// IntID renders an integer primary key the way the host stores it.
func IntID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Flatten turns {"author": {"last_name": "x"}} into {"author.last_name": "x"}.
func Flatten(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	flattenInto(out, "", fields)
	return out
}

func flattenInto(out map[string]any, prefix string, fields map[string]any) {
	for k, v := range fields {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, name, nested)
			continue
		}
		out[name] = v
	}
}

// Source expands dotted names back into nested objects, producing the payload
// returned with a hit.
func (d Document) Source() map[string]any {
	out := make(map[string]any, len(d.Fields))
	for name, v := range d.Fields {
		parts := strings.Split(name, ".")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = v
	}
	return out
}

// CompareIDs orders document ids: numerically when both are integers,
// byte-wise otherwise, with integers sorting first.
func CompareIDs(a, b string) int {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}
