// Package analyzer turns raw field values into ordered token streams. Text is
// NFKC-folded, lower-cased and split on non-alphanumeric boundaries; no
// stemming or stop-word removal is applied, so "cat" and "cats" stay distinct.
// Keyword, numeric and date values become a single verbatim token.
package analyzer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	"golang.org/x/text/unicode/norm"
)

// positionGap separates the values of a multi-valued field so that phrases
// never match across two array elements.
const positionGap = 100

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Token represents a single normalised term and its position in the
// original value.
type Token struct {
	Term     string
	Position int
}

// Tokenize runs the text analyzer over s.
func Tokenize(s string) []Token {
	return appendText(nil, s, 0)
}

func appendText(tokens []Token, s string, pos int) []Token {
	s = strings.ToLower(norm.NFKC.String(s))
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		tokens = append(tokens, Token{Term: word, Position: pos})
		pos++
	}
	return tokens
}

// Terms returns just the token strings of Tokenize(s), preserving order.
func Terms(s string) []string {
	tokens := Tokenize(s)
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Term
	}
	return out
}

// Analyze produces the token stream for a field value of the given type. A nil
// value yields no tokens. Slices are analysed element by element.
func Analyze(value any, t schema.FieldType) ([]Token, error) {
	if value == nil {
		return nil, nil
	}
	values, ok := asSlice(value)
	if !ok {
		values = []any{value}
	}
	var tokens []Token
	pos := 0
	for i, v := range values {
		if v == nil {
			continue
		}
		if i > 0 && len(tokens) > 0 {
			pos = tokens[len(tokens)-1].Position + positionGap
		}
		switch t {
		case schema.Text:
			s, err := stringValue(v)
			if err != nil {
				return nil, err
			}
			tokens = appendText(tokens, s, pos)
		default:
			term, err := Canonical(v, t)
			if err != nil {
				return nil, err
			}
			if term == "" {
				continue
			}
			tokens = append(tokens, Token{Term: term, Position: pos})
		}
	}
	return tokens, nil
}

// Canonical renders a single value to the token stored for keyword, numeric
// and date fields. Term queries use it to normalise their lookup value; text
// lookups are not analysed, so the value is returned as given.
func Canonical(v any, t schema.FieldType) (string, error) {
	switch t {
	case schema.Keyword, schema.Text:
		return stringValue(v)
	case schema.Numeric:
		f, err := toFloat(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case schema.Date:
		ts, err := toTime(v)
		if err != nil {
			return "", err
		}
		return ts.UTC().Format(time.RFC3339Nano), nil
	}
	return "", fmt.Errorf("unsupported field type %v", t)
}

// Comparable is a value that range queries can order: a float64 for numeric
// fields or a time.Time for dates.
type Comparable struct {
	Number float64
	Time   time.Time
	IsTime bool
}

// Compare returns -1, 0 or 1.
func (c Comparable) Compare(o Comparable) int {
	if c.IsTime {
		return c.Time.Compare(o.Time)
	}
	switch {
	case c.Number < o.Number:
		return -1
	case c.Number > o.Number:
		return 1
	}
	return 0
}

// Normalize converts v to its Comparable form for numeric and date fields.
func Normalize(v any, t schema.FieldType) (Comparable, error) {
	switch t {
	case schema.Numeric:
		f, err := toFloat(v)
		if err != nil {
			return Comparable{}, err
		}
		return Comparable{Number: f}, nil
	case schema.Date:
		ts, err := toTime(v)
		if err != nil {
			return Comparable{}, err
		}
		return Comparable{Time: ts, IsTime: true}, nil
	}
	return Comparable{}, fmt.Errorf("field type %v is not comparable", t)
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	}
	return nil, false
}

func stringValue(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		f, err := toFloat(x)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return "", fmt.Errorf("cannot use %T as a string", v)
}

func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case float32:
		f = float64(x)
	case float64:
		f = x
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x.String())
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("cannot use %T as a number", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %v", f)
	}
	return f, nil
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case *time.Time:
		if x == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return *x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("not a date: %q", x)
	}
	return time.Time{}, fmt.Errorf("cannot use %T as a date", v)
}
