// Package parser decodes the JSON query DSL (term, terms, match,
// match_phrase, multi_match, range, bool, match_all) into query values.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
)

type searchBody struct {
	Query json.RawMessage `json:"query"`
	From  int             `json:"from"`
	Size  int             `json:"size"`
}

// ParseRequest decodes a search body {"query": ..., "from": n, "size": n}.
// A missing query means match_all.
func ParseRequest(data []byte) (query.Request, error) {
	var body searchBody
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			return query.Request{}, invalid("request", "", err.Error())
		}
	}
	if body.From < 0 || body.Size < 0 {
		return query.Request{}, invalid("request", "", "from and size must not be negative")
	}
	req := query.Request{Query: query.MatchAll{}, From: body.From, Size: body.Size}
	if len(body.Query) > 0 && string(body.Query) != "null" {
		q, err := Parse(body.Query)
		if err != nil {
			return query.Request{}, err
		}
		req.Query = q
	}
	return req, nil
}

// Parse decodes a single query object such as {"term": {"title": "cats"}}.
func Parse(data []byte) (query.Query, error) {
	obj, err := object("query", data)
	if err != nil {
		return nil, err
	}
	if len(obj) != 1 {
		return nil, invalid("query", "", fmt.Sprintf("expected exactly one query type, got %d", len(obj)))
	}
	for kind, body := range obj {
		switch query.Kind(kind) {
		case query.KindTerm:
			return parseTerm(body)
		case query.KindTerms:
			return parseTerms(body)
		case query.KindMatch:
			return parseMatch(body)
		case query.KindMatchPhrase:
			return parseMatchPhrase(body)
		case query.KindMultiMatch:
			return parseMultiMatch(body)
		case query.KindRange:
			return parseRange(body)
		case query.KindBool:
			return parseBool(body)
		case query.KindMatchAll:
			return parseMatchAll(body)
		default:
			return nil, invalid(kind, "", "unsupported query type")
		}
	}
	return nil, nil
}

func parseTerm(data []byte) (query.Query, error) {
	field, body, err := singleField(query.KindTerm, data)
	if err != nil {
		return nil, err
	}
	q := query.Term{Field: field}
	if opts, ok := asObject(body); ok {
		if q.Value, err = value(opts["value"]); err != nil {
			return nil, invalid(string(query.KindTerm), field, err.Error())
		}
		if q.Boost, err = boost(opts); err != nil {
			return nil, invalid(string(query.KindTerm), field, err.Error())
		}
		return q, nil
	}
	if q.Value, err = value(body); err != nil {
		return nil, invalid(string(query.KindTerm), field, err.Error())
	}
	return q, nil
}

func parseTerms(data []byte) (query.Query, error) {
	obj, err := object(string(query.KindTerms), data)
	if err != nil {
		return nil, err
	}
	q := query.Terms{}
	if q.Boost, err = boost(obj); err != nil {
		return nil, invalid(string(query.KindTerms), "", err.Error())
	}
	delete(obj, "boost")
	if len(obj) != 1 {
		return nil, invalid(string(query.KindTerms), "", "expected exactly one field")
	}
	for field, raw := range obj {
		q.Field = field
		var values []any
		if err := decode(raw, &values); err != nil {
			return nil, invalid(string(query.KindTerms), field, "values must be an array")
		}
		q.Values = values
	}
	return q, nil
}

func parseMatch(data []byte) (query.Query, error) {
	field, body, err := singleField(query.KindMatch, data)
	if err != nil {
		return nil, err
	}
	q := query.Match{Field: field}
	opts, ok := asObject(body)
	if !ok {
		q.Text, err = text(body)
		if err != nil {
			return nil, invalid(string(query.KindMatch), field, err.Error())
		}
		return q, nil
	}
	if q.Text, err = text(opts["query"]); err != nil {
		return nil, invalid(string(query.KindMatch), field, err.Error())
	}
	if q.Operator, err = operator(opts); err != nil {
		return nil, invalid(string(query.KindMatch), field, err.Error())
	}
	if q.Fuzziness, err = fuzziness(opts); err != nil {
		return nil, invalid(string(query.KindMatch), field, err.Error())
	}
	if q.Boost, err = boost(opts); err != nil {
		return nil, invalid(string(query.KindMatch), field, err.Error())
	}
	return q, nil
}

func parseMatchPhrase(data []byte) (query.Query, error) {
	field, body, err := singleField(query.KindMatchPhrase, data)
	if err != nil {
		return nil, err
	}
	q := query.MatchPhrase{Field: field}
	opts, ok := asObject(body)
	if !ok {
		if q.Text, err = text(body); err != nil {
			return nil, invalid(string(query.KindMatchPhrase), field, err.Error())
		}
		return q, nil
	}
	if q.Text, err = text(opts["query"]); err != nil {
		return nil, invalid(string(query.KindMatchPhrase), field, err.Error())
	}
	if raw, ok := opts["slop"]; ok {
		if q.Slop, err = integer(raw); err != nil {
			return nil, invalid(string(query.KindMatchPhrase), field, "slop: "+err.Error())
		}
	}
	if q.Boost, err = boost(opts); err != nil {
		return nil, invalid(string(query.KindMatchPhrase), field, err.Error())
	}
	return q, nil
}

func parseMultiMatch(data []byte) (query.Query, error) {
	opts, err := object(string(query.KindMultiMatch), data)
	if err != nil {
		return nil, err
	}
	q := query.MultiMatch{}
	if q.Text, err = text(opts["query"]); err != nil {
		return nil, invalid(string(query.KindMultiMatch), "", err.Error())
	}
	var fields []string
	if raw, ok := opts["fields"]; ok {
		if err := decode(raw, &fields); err != nil {
			return nil, invalid(string(query.KindMultiMatch), "", "fields must be an array of strings")
		}
	}
	if len(fields) == 0 {
		fields = []string{"*"}
	}
	for _, f := range fields {
		ref, err := ParseFieldRef(f)
		if err != nil {
			return nil, invalid(string(query.KindMultiMatch), f, err.Error())
		}
		q.Fields = append(q.Fields, ref)
	}
	if q.Operator, err = operator(opts); err != nil {
		return nil, invalid(string(query.KindMultiMatch), "", err.Error())
	}
	if q.Fuzziness, err = fuzziness(opts); err != nil {
		return nil, invalid(string(query.KindMultiMatch), "", err.Error())
	}
	if q.Boost, err = boost(opts); err != nil {
		return nil, invalid(string(query.KindMultiMatch), "", err.Error())
	}
	return q, nil
}

// ParseFieldRef splits "title^3" into its pattern and boost.
func ParseFieldRef(s string) (query.FieldRef, error) {
	s = strings.TrimSpace(s)
	pattern, boostStr, found := strings.Cut(s, "^")
	if pattern == "" {
		return query.FieldRef{}, fmt.Errorf("empty field")
	}
	ref := query.FieldRef{Pattern: pattern}
	if found {
		b, err := strconv.ParseFloat(boostStr, 64)
		if err != nil {
			return query.FieldRef{}, fmt.Errorf("invalid boost %q", boostStr)
		}
		ref.Boost = &b
	}
	return ref, nil
}

func parseRange(data []byte) (query.Query, error) {
	field, body, err := singleField(query.KindRange, data)
	if err != nil {
		return nil, err
	}
	opts, ok := asObject(body)
	if !ok {
		return nil, invalid(string(query.KindRange), field, "bounds must be an object")
	}
	q := query.Range{Field: field}
	for key, raw := range opts {
		var dst *any
		switch key {
		case "gte":
			dst = &q.GTE
		case "gt":
			dst = &q.GT
		case "lte":
			dst = &q.LTE
		case "lt":
			dst = &q.LT
		case "boost":
			if q.Boost, err = boost(opts); err != nil {
				return nil, invalid(string(query.KindRange), field, err.Error())
			}
			continue
		case "format", "time_zone":
			continue
		default:
			return nil, invalid(string(query.KindRange), field, fmt.Sprintf("unknown bound %q", key))
		}
		if *dst, err = value(raw); err != nil {
			return nil, invalid(string(query.KindRange), field, key+": "+err.Error())
		}
	}
	return q, nil
}

func parseBool(data []byte) (query.Query, error) {
	opts, err := object(string(query.KindBool), data)
	if err != nil {
		return nil, err
	}
	q := query.Bool{}
	for key, raw := range opts {
		switch key {
		case "must":
			q.Must, err = clauses(raw)
		case "should":
			q.Should, err = clauses(raw)
		case "filter":
			q.Filter, err = clauses(raw)
		case "must_not":
			q.MustNot, err = clauses(raw)
		case "minimum_should_match":
			q.MinimumShouldMatch, err = integer(raw)
			if err != nil {
				err = invalid(string(query.KindBool), "", "minimum_should_match: "+err.Error())
			}
		case "boost":
			q.Boost, err = boost(opts)
			if err != nil {
				err = invalid(string(query.KindBool), "", err.Error())
			}
		default:
			err = invalid(string(query.KindBool), "", fmt.Sprintf("unknown clause %q", key))
		}
		if err != nil {
			return nil, err
		}
	}
	return q, nil
}

func parseMatchAll(data []byte) (query.Query, error) {
	opts, err := object(string(query.KindMatchAll), data)
	if err != nil {
		return nil, err
	}
	q := query.MatchAll{}
	if q.Boost, err = boost(opts); err != nil {
		return nil, invalid(string(query.KindMatchAll), "", err.Error())
	}
	return q, nil
}

// clauses accepts a single query object or an array of them.
func clauses(raw json.RawMessage) ([]query.Query, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		q, err := Parse(trimmed)
		if err != nil {
			return nil, err
		}
		return []query.Query{q}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, invalid(string(query.KindBool), "", "clauses must be an object or an array")
	}
	out := make([]query.Query, 0, len(items))
	for _, item := range items {
		q, err := Parse(item)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func singleField(kind query.Kind, data []byte) (string, json.RawMessage, error) {
	obj, err := object(string(kind), data)
	if err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, invalid(string(kind), "", "expected exactly one field")
	}
	for field, body := range obj {
		return field, body, nil
	}
	return "", nil, nil
}

func object(kind string, data []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return nil, invalid(kind, "", "expected a JSON object")
	}
	return obj, nil
}

func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func decode(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dst)
}

func value(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("value is required")
	}
	var v any
	if err := decode(raw, &v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case string, json.Number, bool:
		return v, nil
	case nil:
		return nil, fmt.Errorf("value is required")
	}
	return nil, fmt.Errorf("value must be a string, number or boolean")
}

func text(raw json.RawMessage) (string, error) {
	v, err := value(raw)
	if err != nil {
		return "", err
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	}
	return fmt.Sprint(v), nil
}

func integer(raw json.RawMessage) (int, error) {
	v, err := value(raw)
	if err != nil {
		return 0, err
	}
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
	default:
		return 0, fmt.Errorf("expected an integer")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("expected an integer, got %q", s)
	}
	return n, nil
}

// boost returns nil when opts has no boost, so only an absent boost defaults
// to 1.
func boost(opts map[string]json.RawMessage) (*float64, error) {
	raw, ok := opts["boost"]
	if !ok {
		return nil, nil
	}
	var n json.Number
	if err := decode(raw, &n); err != nil {
		return nil, fmt.Errorf("boost must be a number")
	}
	b, err := n.Float64()
	if err != nil || b < 0 {
		return nil, fmt.Errorf("boost must be a non-negative number")
	}
	return &b, nil
}

func operator(opts map[string]json.RawMessage) (query.Operator, error) {
	raw, ok := opts["operator"]
	if !ok {
		return query.OperatorOr, nil
	}
	s, err := text(raw)
	if err != nil {
		return query.OperatorOr, err
	}
	return query.ParseOperator(s)
}

func fuzziness(opts map[string]json.RawMessage) (query.Fuzziness, error) {
	raw, ok := opts["fuzziness"]
	if !ok {
		return query.Fuzziness{}, nil
	}
	s, err := text(raw)
	if err != nil {
		return query.Fuzziness{}, err
	}
	return ParseFuzziness(s)
}

// ParseFuzziness accepts "AUTO" (optionally "AUTO:low,high") or an edit
// distance of 0, 1 or 2.
func ParseFuzziness(s string) (query.Fuzziness, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return query.Fuzziness{}, nil
	}
	if strings.HasPrefix(strings.ToUpper(s), "AUTO") {
		return query.Fuzziness{Auto: true}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 2 {
		return query.Fuzziness{}, fmt.Errorf("fuzziness must be 0, 1, 2 or AUTO, got %q", s)
	}
	return query.Fuzziness{Distance: n}, nil
}

func invalid(kind, field, reason string) error {
	return apperrors.InvalidQuery(kind, field, nil, reason)
}
