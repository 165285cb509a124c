package query

import (
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
)

func testSchema() *schema.Schema {
	return schema.MustNew(
		schema.Field{Name: "id", Type: schema.Numeric},
		schema.Field{Name: "title", Type: schema.Text},
		schema.Field{Name: "isbn", Type: schema.Keyword},
		schema.Field{Name: "published_at", Type: schema.Date},
		schema.Field{Name: "author.first_name", Type: schema.Keyword},
		schema.Field{Name: "author.last_name", Type: schema.Keyword},
	)
}

func TestValidateAccepts(t *testing.T) {
	s := testSchema()
	for _, q := range []Query{
		Term{Field: "title", Value: "cats"},
		Term{Field: "author", Value: "Hastings"},
		Term{Field: "id", Value: "2"},
		Terms{Field: "isbn", Values: []any{"1234", "wrong"}},
		Match{Field: "title", Text: "cats in space", Fuzziness: Fuzziness{Auto: true}},
		Match{Field: "author.*", Text: "Faith"},
		MatchPhrase{Field: "title", Text: "space cat", Slop: 2},
		MultiMatch{Fields: []FieldRef{{Pattern: "title", Boost: Weight(2)}, {Pattern: "author"}}, Text: "x"},
		Range{Field: "id", GTE: 1},
		Range{Field: "published_at", LT: "2022-01-01"},
		Range{Field: "id"},
		Bool{Must: []Query{Term{Field: "title", Value: "cat"}}, Should: []Query{MatchAll{}}},
		MatchAll{},
	} {
		if err := Validate(q, s); err != nil {
			t.Errorf("Validate(%#v) = %v", q, err)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	s := testSchema()
	for _, q := range []Query{
		nil,
		Term{Field: "", Value: "x"},
		Term{Field: "publisher", Value: "x"},
		Term{Field: "id", Value: "two"},
		Term{Field: "title", Value: nil},
		Term{Field: "title", Value: "x", Boost: Weight(-1)},
		Terms{Field: "isbn"},
		Match{Field: "nope", Text: "x"},
		Match{Field: "title", Text: "x", Fuzziness: Fuzziness{Distance: 3}},
		MatchPhrase{Field: "title", Text: "x", Slop: -1},
		MultiMatch{Fields: []FieldRef{{Pattern: "nope"}}, Text: "x"},
		MultiMatch{Fields: []FieldRef{{Pattern: "title", Boost: Weight(-2)}}, Text: "x"},
		Range{Field: "title", GTE: "a"},
		Range{Field: "author", GTE: 1},
		Range{Field: "id", LT: "soon"},
		Range{Field: "published_at", GT: "yesterday"},
		Bool{MinimumShouldMatch: -1},
		Bool{Should: []Query{Bool{MustNot: []Query{Term{Field: "x", Value: 1}}}}},
	} {
		err := Validate(q, s)
		if !errors.Is(err, apperrors.ErrInvalidQuery) {
			t.Errorf("Validate(%#v) = %v, want ErrInvalidQuery", q, err)
			continue
		}
		var qe *apperrors.QueryError
		if !errors.As(err, &qe) {
			t.Errorf("Validate(%#v) error %T is not a QueryError", q, err)
		}
	}
}

func TestFuzzinessAuto(t *testing.T) {
	auto := Fuzziness{Auto: true}
	for term, want := range map[string]int{
		"in":       0,
		"cat":      1,
		"space":    1,
		"zorro":    1,
		"pilesers": 2,
		"añoñ":     1,
	} {
		if got := auto.MaxEdits(term); got != want {
			t.Errorf("MaxEdits(%q) = %d, want %d", term, got, want)
		}
	}
	if got := (Fuzziness{Distance: 2}).MaxEdits("a"); got != 2 {
		t.Errorf("fixed distance = %d", got)
	}
}

func TestParseOperator(t *testing.T) {
	for in, want := range map[string]Operator{"": OperatorOr, "or": OperatorOr, "AND": OperatorAnd, " and ": OperatorAnd} {
		got, err := ParseOperator(in)
		if err != nil || got != want {
			t.Errorf("ParseOperator(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseOperator("xor"); err == nil {
		t.Error("xor accepted")
	}
}
