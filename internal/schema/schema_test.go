package schema

import (
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
)

func bookSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := New(
		Field{Name: "id", Type: Numeric},
		Field{Name: "title", Type: Text},
		Field{Name: "isbn", Type: Keyword},
		Field{Name: "author.first_name", Type: Keyword},
		Field{Name: "author.last_name", Type: Keyword},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New(Field{Name: "a", Type: Text}, Field{Name: "a", Type: Keyword})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExpand(t *testing.T) {
	s := bookSchema(t)
	tests := []struct {
		pattern string
		want    []string
	}{
		{"title", []string{"title"}},
		{"author", []string{"author.first_name", "author.last_name"}},
		{"author.*", []string{"author.first_name", "author.last_name"}},
		{"missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got := s.Expand(tt.pattern)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expand(%q) = %v, want %v", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestSchemaJSONRoundTrip(t *testing.T) {
	s := bookSchema(t)
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Schema
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if typ, ok := back.Lookup("isbn"); !ok || typ != Keyword {
		t.Errorf("isbn lookup = %v,%v", typ, ok)
	}
}

func TestFlattenAndSource(t *testing.T) {
	doc := NewDocument(" 7 ", map[string]any{
		"title":  "cats in space",
		"author": map[string]any{"first_name": "Tiglath", "last_name": "Pilesers"},
	})
	if doc.ID != "7" {
		t.Errorf("id not trimmed: %q", doc.ID)
	}
	if doc.Fields["author.last_name"] != "Pilesers" {
		t.Errorf("flatten failed: %v", doc.Fields)
	}
	src := doc.Source()
	author, ok := src["author"].(map[string]any)
	if !ok || author["first_name"] != "Tiglath" {
		t.Errorf("source not nested: %v", src)
	}
}

func TestCompareIDs(t *testing.T) {
	ids := []string{"10", "b", "2", "a", "1"}
	sort.Slice(ids, func(i, j int) bool { return CompareIDs(ids[i], ids[j]) < 0 })
	want := []string{"1", "2", "10", "a", "b"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("got %v, want %v", ids, want)
	}
}
