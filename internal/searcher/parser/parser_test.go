package parser

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
)

func TestParseShapes(t *testing.T) {
	tests := []struct {
		name string
		dsl  string
		want query.Query
	}{
		{"term object", `{"term":{"title":{"value":"cats"}}}`, query.Term{Field: "title", Value: "cats"}},
		{"term shorthand", `{"term":{"isbn":"1234"}}`, query.Term{Field: "isbn", Value: "1234"}},
		{"term number", `{"term":{"id":{"value":2,"boost":1.5}}}`, query.Term{Field: "id", Value: json.Number("2"), Boost: query.Weight(1.5)}},
		{"terms", `{"terms":{"isbn":["1234","wrong"]}}`, query.Terms{Field: "isbn", Values: []any{"1234", "wrong"}}},
		{"match shorthand", `{"match":{"title":"wrong zorro"}}`, query.Match{Field: "title", Text: "wrong zorro"}},
		{"match options", `{"match":{"title":{"query":"cat","operator":"AND","fuzziness":"AUTO"}}}`,
			query.Match{Field: "title", Text: "cat", Operator: query.OperatorAnd, Fuzziness: query.Fuzziness{Auto: true}}},
		{"phrase shorthand", `{"match_phrase":{"title":"cats in"}}`, query.MatchPhrase{Field: "title", Text: "cats in"}},
		{"phrase slop", `{"match_phrase":{"title":{"query":"space cat","slop":2}}}`, query.MatchPhrase{Field: "title", Text: "space cat", Slop: 2}},
		{"multi_match", `{"multi_match":{"query":"Pilesers","fields":["title^2","author"],"fuzziness":1}}`,
			query.MultiMatch{
				Fields:    []query.FieldRef{{Pattern: "title", Boost: query.Weight(2)}, {Pattern: "author"}},
				Text:      "Pilesers",
				Fuzziness: query.Fuzziness{Distance: 1},
			}},
		{"multi_match default fields", `{"multi_match":{"query":"x"}}`,
			query.MultiMatch{Fields: []query.FieldRef{{Pattern: "*"}}, Text: "x"}},
		{"range", `{"range":{"id":{"gte":1,"lt":"5"}}}`, query.Range{Field: "id", GTE: json.Number("1"), LT: "5"}},
		{"bool", `{"bool":{"must":[{"term":{"title":"cat"}}],"should":{"term":{"author":"Hastings"}},"minimum_should_match":1}}`,
			query.Bool{
				Must:               []query.Query{query.Term{Field: "title", Value: "cat"}},
				Should:             []query.Query{query.Term{Field: "author", Value: "Hastings"}},
				MinimumShouldMatch: 1,
			}},
		{"match_all", `{"match_all":{}}`, query.MatchAll{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.dsl))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%s) = %#v, want %#v", tt.dsl, got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, dsl := range []string{
		`not json`,
		`{}`,
		`{"term":{"a":"x"},"match":{"b":"y"}}`,
		`{"fuzzy":{"title":"cat"}}`,
		`{"term":{"title":null}}`,
		`{"term":{"title":"a","isbn":"b"}}`,
		`{"terms":{"isbn":"1234"}}`,
		`{"match":{"title":{"query":"x","operator":"xor"}}}`,
		`{"match":{"title":{"query":"x","fuzziness":3}}}`,
		`{"match_phrase":{"title":{"query":"x","slop":"far"}}}`,
		`{"multi_match":{"query":"x","fields":["title^high"]}}`,
		`{"range":{"id":{"between":1}}}`,
		`{"range":{"id":5}}`,
		`{"bool":{"must":[{"nope":{}}]}}`,
		`{"bool":{"maybe":[]}}`,
		`{"match_all":{"boost":-1}}`,
	} {
		_, err := Parse([]byte(dsl))
		if !errors.Is(err, apperrors.ErrInvalidQuery) {
			t.Errorf("Parse(%s) err = %v, want ErrInvalidQuery", dsl, err)
		}
	}
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(`{"query":{"match":{"title":"cats"}},"from":5,"size":10}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.From != 5 || req.Size != 10 || req.Query.Kind() != query.KindMatch {
		t.Errorf("request = %+v", req)
	}

	req, err = ParseRequest(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := req.Query.(query.MatchAll); !ok {
		t.Errorf("empty body query = %#v, want match_all", req.Query)
	}

	if _, err := ParseRequest([]byte(`{"size":-1}`)); !errors.Is(err, apperrors.ErrInvalidQuery) {
		t.Errorf("negative size err = %v", err)
	}
}

func TestParseFuzziness(t *testing.T) {
	for in, want := range map[string]query.Fuzziness{
		"":         {},
		"0":        {},
		"2":        {Distance: 2},
		"AUTO":     {Auto: true},
		"auto:3,6": {Auto: true},
	} {
		got, err := ParseFuzziness(in)
		if err != nil || got != want {
			t.Errorf("ParseFuzziness(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFuzziness("3"); err == nil {
		t.Error("fuzziness 3 accepted")
	}
}
