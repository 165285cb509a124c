// Package query defines the closed set of query expressions the search
// engine evaluates, and validates them against a collection schema.
package query

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer/analyzer"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
)

// Kind names a query shape. The values match the DSL keys.
type Kind string

const (
	KindTerm        Kind = "term"
	KindTerms       Kind = "terms"
	KindMatch       Kind = "match"
	KindMatchPhrase Kind = "match_phrase"
	KindMultiMatch  Kind = "multi_match"
	KindRange       Kind = "range"
	KindBool        Kind = "bool"
	KindMatchAll    Kind = "match_all"
)

// Query is implemented only by the types in this package.
type Query interface {
	Kind() Kind
	isQuery()
}

type Operator int

const (
	OperatorOr Operator = iota
	OperatorAnd
)

func (o Operator) String() string {
	if o == OperatorAnd {
		return "and"
	}
	return "or"
}

// ParseOperator accepts "and" / "or" in any case; empty means or.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "or":
		return OperatorOr, nil
	case "and":
		return OperatorAnd, nil
	}
	return OperatorOr, fmt.Errorf("unknown operator %q", s)
}

// Fuzziness is the maximum edit distance between a query token and an
// indexed token. Auto derives it from the token length.
type Fuzziness struct {
	Auto     bool
	Distance int
}

// MaxEdits returns the allowed distance for term.
func (f Fuzziness) MaxEdits(term string) int {
	if !f.Auto {
		return f.Distance
	}
	switch n := utf8.RuneCountInString(term); {
	case n <= 2:
		return 0
	case n <= 5:
		return 1
	}
	return 2
}

func (f Fuzziness) String() string {
	if f.Auto {
		return "AUTO"
	}
	return fmt.Sprint(f.Distance)
}

type Term struct {
	Field string
	Value any
	Boost *float64
}

type Terms struct {
	Field  string
	Values []any
	Boost  *float64
}

type Match struct {
	Field     string
	Text      string
	Operator  Operator
	Fuzziness Fuzziness
	Boost     *float64
}

type MatchPhrase struct {
	Field string
	Text  string
	Slop  int
	Boost *float64
}

// FieldRef is a multi_match field pattern with an optional boost, written
// "title^3" in the DSL.
type FieldRef struct {
	Pattern string
	Boost   *float64
}

type MultiMatch struct {
	Fields    []FieldRef
	Text      string
	Operator  Operator
	Fuzziness Fuzziness
	Boost     *float64
}

// Range bounds are inclusive (GTE, LTE) or exclusive (GT, LT). A nil bound is
// unbounded. Every set bound applies, so GT and GTE together keep the
// stricter of the two.
type Range struct {
	Field string
	GTE   any
	GT    any
	LTE   any
	LT    any
	Boost *float64
}

type Bool struct {
	Must               []Query
	Should             []Query
	Filter             []Query
	MustNot            []Query
	MinimumShouldMatch int
	Boost              *float64
}

type MatchAll struct {
	Boost *float64
}

func (Term) Kind() Kind        { return KindTerm }
func (Terms) Kind() Kind       { return KindTerms }
func (Match) Kind() Kind       { return KindMatch }
func (MatchPhrase) Kind() Kind { return KindMatchPhrase }
func (MultiMatch) Kind() Kind  { return KindMultiMatch }
func (Range) Kind() Kind       { return KindRange }
func (Bool) Kind() Kind        { return KindBool }
func (MatchAll) Kind() Kind    { return KindMatchAll }

func (Term) isQuery()        {}
func (Terms) isQuery()       {}
func (Match) isQuery()       {}
func (MatchPhrase) isQuery() {}
func (MultiMatch) isQuery()  {}
func (Range) isQuery()       {}
func (Bool) isQuery()        {}
func (MatchAll) isQuery()    {}

// Weight returns b as an explicit boost. An explicit zero weighs a match at
// zero while still matching.
func Weight(b float64) *float64 { return &b }

// BoostOf treats an unset boost as 1.
func BoostOf(b *float64) float64 {
	if b == nil {
		return 1
	}
	return *b
}

func negative(b *float64) bool { return b != nil && *b < 0 }

// Validate checks q against the declared fields of s. Every failure is a
// *apperrors.QueryError wrapping ErrInvalidQuery.
func Validate(q Query, s *schema.Schema) error {
	switch q := q.(type) {
	case nil:
		return apperrors.InvalidQuery("query", "", nil, "empty query")
	case Term:
		types, err := resolve(s, KindTerm, q.Field, q.Boost)
		if err != nil {
			return err
		}
		return validateValue(KindTerm, q.Field, types, q.Value)
	case Terms:
		types, err := resolve(s, KindTerms, q.Field, q.Boost)
		if err != nil {
			return err
		}
		if len(q.Values) == 0 {
			return apperrors.InvalidQuery(string(KindTerms), q.Field, nil, "at least one value is required")
		}
		for _, v := range q.Values {
			if err := validateValue(KindTerms, q.Field, types, v); err != nil {
				return err
			}
		}
		return nil
	case Match:
		if _, err := resolve(s, KindMatch, q.Field, q.Boost); err != nil {
			return err
		}
		return validateFuzziness(KindMatch, q.Field, q.Fuzziness)
	case MatchPhrase:
		if _, err := resolve(s, KindMatchPhrase, q.Field, q.Boost); err != nil {
			return err
		}
		if q.Slop < 0 {
			return apperrors.InvalidQuery(string(KindMatchPhrase), q.Field, q.Slop, "slop must not be negative")
		}
		return nil
	case MultiMatch:
		if negative(q.Boost) {
			return apperrors.InvalidQuery(string(KindMultiMatch), "", *q.Boost, "boost must not be negative")
		}
		for _, ref := range q.Fields {
			if len(s.Expand(ref.Pattern)) == 0 {
				return apperrors.InvalidQuery(string(KindMultiMatch), ref.Pattern, nil, "no declared field matches")
			}
			if negative(ref.Boost) {
				return apperrors.InvalidQuery(string(KindMultiMatch), ref.Pattern, *ref.Boost, "boost must not be negative")
			}
		}
		return validateFuzziness(KindMultiMatch, "", q.Fuzziness)
	case Range:
		if q.Field == "" {
			return apperrors.InvalidQuery(string(KindRange), q.Field, nil, "field is required")
		}
		t, ok := s.Lookup(q.Field)
		if !ok {
			return apperrors.InvalidQuery(string(KindRange), q.Field, nil, "unknown field")
		}
		if negative(q.Boost) {
			return apperrors.InvalidQuery(string(KindRange), q.Field, *q.Boost, "boost must not be negative")
		}
		if !t.Comparable() {
			return apperrors.InvalidQuery(string(KindRange), q.Field, nil,
				fmt.Sprintf("range requires a numeric or date field, %s is %s", q.Field, t))
		}
		for _, bound := range []any{q.GTE, q.GT, q.LTE, q.LT} {
			if bound == nil {
				continue
			}
			if _, err := analyzer.Normalize(bound, t); err != nil {
				return apperrors.InvalidQuery(string(KindRange), q.Field, bound, err.Error())
			}
		}
		return nil
	case Bool:
		if q.MinimumShouldMatch < 0 {
			return apperrors.InvalidQuery(string(KindBool), "", q.MinimumShouldMatch, "minimum_should_match must not be negative")
		}
		if negative(q.Boost) {
			return apperrors.InvalidQuery(string(KindBool), "", *q.Boost, "boost must not be negative")
		}
		for _, group := range [][]Query{q.Must, q.Should, q.Filter, q.MustNot} {
			for _, clause := range group {
				if err := Validate(clause, s); err != nil {
					return err
				}
			}
		}
		return nil
	case MatchAll:
		return nil
	}
	return apperrors.InvalidQuery("query", "", nil, fmt.Sprintf("unsupported query type %T", q))
}

// resolve maps a field name or object prefix to the declared types it
// covers.
func resolve(s *schema.Schema, kind Kind, field string, boost *float64) (map[string]schema.FieldType, error) {
	if field == "" {
		return nil, apperrors.InvalidQuery(string(kind), field, nil, "field is required")
	}
	if negative(boost) {
		return nil, apperrors.InvalidQuery(string(kind), field, *boost, "boost must not be negative")
	}
	if t, ok := s.Lookup(field); ok {
		return map[string]schema.FieldType{field: t}, nil
	}
	names := s.Expand(field)
	if len(names) == 0 {
		return nil, apperrors.InvalidQuery(string(kind), field, nil, "unknown field")
	}
	types := make(map[string]schema.FieldType, len(names))
	for _, name := range names {
		types[name], _ = s.Lookup(name)
	}
	return types, nil
}

// validateValue requires v to be usable on at least one of the fields.
func validateValue(kind Kind, field string, types map[string]schema.FieldType, v any) error {
	if v == nil {
		return apperrors.InvalidQuery(string(kind), field, nil, "value is required")
	}
	var lastErr error
	for _, t := range types {
		if _, err := analyzer.Canonical(v, t); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return apperrors.InvalidQuery(string(kind), field, v, lastErr.Error())
}

func validateFuzziness(kind Kind, field string, f Fuzziness) error {
	if f.Distance < 0 || f.Distance > 2 {
		return apperrors.InvalidQuery(string(kind), field, f.Distance, "fuzziness must be 0, 1, 2 or AUTO")
	}
	return nil
}
