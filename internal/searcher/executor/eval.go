package executor

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer/analyzer"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/ranker"
	"golang.org/x/sync/errgroup"
)

// matchSet maps a matching document id to its score.
type matchSet map[string]float64

// evaluator runs one validated query against one snapshot.
type evaluator struct {
	ctx    context.Context
	schema *schema.Schema
	snap   *index.Snapshot
}

func (e *evaluator) eval(q query.Query) (matchSet, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	switch q := q.(type) {
	case query.Term:
		return e.term(q.Field, q.Value, query.BoostOf(q.Boost)), nil
	case query.Terms:
		out := matchSet{}
		for _, v := range q.Values {
			out.add(e.term(q.Field, v, query.BoostOf(q.Boost)))
		}
		return out, nil
	case query.Match:
		fields := []query.FieldRef{{Pattern: q.Field}}
		return e.match(fields, q.Text, q.Operator, q.Fuzziness, query.BoostOf(q.Boost))
	case query.MultiMatch:
		return e.match(q.Fields, q.Text, q.Operator, q.Fuzziness, query.BoostOf(q.Boost))
	case query.MatchPhrase:
		return e.phrase(q)
	case query.Range:
		return e.rangeQuery(q)
	case query.Bool:
		return e.boolQuery(q)
	case query.MatchAll:
		return e.all(query.BoostOf(q.Boost)), nil
	}
	return matchSet{}, nil
}

func (m matchSet) add(o matchSet) {
	for id, s := range o {
		m[id] += s
	}
}

func (e *evaluator) all(score float64) matchSet {
	out := make(matchSet, e.snap.DocCount())
	for _, id := range e.snap.DocIDs() {
		out[id] = score
	}
	return out
}

// term looks value up verbatim after type canonicalisation. Fields whose type
// cannot represent the value are skipped.
func (e *evaluator) term(pattern string, value any, boost float64) matchSet {
	out := matchSet{}
	for _, field := range e.schema.Expand(pattern) {
		t, _ := e.schema.Lookup(field)
		tok, err := analyzer.Canonical(value, t)
		if err != nil {
			continue
		}
		for _, p := range e.snap.Postings(field, tok) {
			out[p.DocID] += ranker.TermScore(p.Frequency) * boost
		}
	}
	return out
}

// fieldMatch is what one field contributes to a match: per document score
// and which query tokens it covered.
type fieldMatch struct {
	scores  matchSet
	covered map[string][]bool
}

// match evaluates text against every field the patterns expand to. Fields
// are searched concurrently over the same snapshot and combined by sum. With
// OperatorAnd a document must cover every query token in at least one field.
func (e *evaluator) match(refs []query.FieldRef, text string, op query.Operator, fuzz query.Fuzziness, boost float64) (matchSet, error) {
	tokens := unique(analyzer.Terms(text))

	type target struct {
		field string
		boost float64
	}
	var targets []target
	seen := map[string]int{}
	for _, ref := range refs {
		for _, field := range e.schema.Expand(ref.Pattern) {
			if i, ok := seen[field]; ok {
				targets[i].boost *= query.BoostOf(ref.Boost)
				continue
			}
			seen[field] = len(targets)
			targets = append(targets, target{field: field, boost: query.BoostOf(ref.Boost)})
		}
	}

	results := make([]fieldMatch, len(targets))
	g, ctx := errgroup.WithContext(e.ctx)
	for i, tg := range targets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = e.matchField(tg.field, text, tokens, fuzz, tg.boost*boost)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := matchSet{}
	covered := map[string][]bool{}
	for _, r := range results {
		out.add(r.scores)
		if op != query.OperatorAnd {
			continue
		}
		for id, bits := range r.covered {
			acc, ok := covered[id]
			if !ok {
				acc = make([]bool, len(tokens))
				covered[id] = acc
			}
			for i, b := range bits {
				acc[i] = acc[i] || b
			}
		}
	}
	if op == query.OperatorAnd {
		for id := range out {
			for _, b := range covered[id] {
				if !b {
					delete(out, id)
					break
				}
			}
		}
	}
	return out, nil
}

// matchField analyses text the way field is indexed. Text fields look up each
// query token; other fields look up the whole text as one token, which covers
// every query token when it matches.
func (e *evaluator) matchField(field, text string, tokens []string, fuzz query.Fuzziness, boost float64) fieldMatch {
	fm := fieldMatch{scores: matchSet{}, covered: map[string][]bool{}}
	t, _ := e.schema.Lookup(field)
	fuzzy := t == schema.Text || t == schema.Keyword

	if t != schema.Text {
		tok, err := analyzer.Canonical(text, t)
		if err != nil || tok == "" {
			return fm
		}
		edits := 0
		if fuzzy {
			edits = fuzz.MaxEdits(tok)
		}
		for id, s := range e.tokenHits(field, tok, edits) {
			fm.scores[id] += s * boost
			bits := make([]bool, len(tokens))
			for i := range bits {
				bits[i] = true
			}
			fm.covered[id] = bits
		}
		return fm
	}

	for i, tok := range tokens {
		for id, s := range e.tokenHits(field, tok, fuzz.MaxEdits(tok)) {
			fm.scores[id] += s * boost
			bits, ok := fm.covered[id]
			if !ok {
				bits = make([]bool, len(tokens))
				fm.covered[id] = bits
			}
			bits[i] = true
		}
	}
	return fm
}

// tokenHits scores documents containing tok in field, or any indexed term
// within edits of it. A document matched by several variants keeps the best.
func (e *evaluator) tokenHits(field, tok string, edits int) matchSet {
	out := matchSet{}
	if edits <= 0 {
		for _, p := range e.snap.Postings(field, tok) {
			out[p.DocID] = ranker.TermScore(p.Frequency)
		}
		return out
	}
	want := []rune(tok)
	for _, candidate := range e.snap.Terms(field) {
		d := withinDistance(want, []rune(candidate), edits)
		if d < 0 {
			continue
		}
		for _, p := range e.snap.Postings(field, candidate) {
			if s := ranker.FuzzyScore(p.Frequency, d); s > out[p.DocID] {
				out[p.DocID] = s
			}
		}
	}
	return out
}

// phrase requires the query tokens in order, each within slop positions of
// the previous one. On non-text fields it is an exact whole-value match.
func (e *evaluator) phrase(q query.MatchPhrase) (matchSet, error) {
	boost := query.BoostOf(q.Boost)
	out := matchSet{}
	for _, field := range e.schema.Expand(q.Field) {
		t, _ := e.schema.Lookup(field)
		if t != schema.Text {
			out.add(e.term(field, q.Text, boost))
			continue
		}
		tokens := analyzer.Terms(q.Text)
		if len(tokens) == 0 {
			continue
		}
		lists := make([]map[string]index.Posting, len(tokens))
		for i, tok := range tokens {
			pl := e.snap.Postings(field, tok)
			if len(pl) == 0 {
				lists = nil
				break
			}
			byDoc := make(map[string]index.Posting, len(pl))
			for _, p := range pl {
				byDoc[p.DocID] = p
			}
			lists[i] = byDoc
		}
		if lists == nil {
			continue
		}
		positions := make([][]int, len(tokens))
		checked := 0
	docs:
		for id := range lists[0] {
			if checked++; checked%1024 == 0 {
				if err := e.ctx.Err(); err != nil {
					return nil, err
				}
			}
			score := 0.0
			for i, byDoc := range lists {
				p, ok := byDoc[id]
				if !ok {
					continue docs
				}
				positions[i] = p.Positions
				score += ranker.TermScore(p.Frequency)
			}
			if chain(positions, q.Slop) {
				out[id] += score * boost
			}
		}
	}
	return out, nil
}

// chain reports whether one position per token can be picked in strictly
// increasing order with at most slop skipped positions between neighbours.
// Position lists are sorted. For each token it keeps the positions reachable
// from the previous token; the nearest reachable predecessor of a position
// decides it, so each step is a single merge.
func chain(positions [][]int, slop int) bool {
	reach := positions[0]
	for _, next := range positions[1:] {
		var found []int
		j := -1
		for _, pos := range next {
			for j+1 < len(reach) && reach[j+1] < pos {
				j++
			}
			if j >= 0 && pos-reach[j]-1 <= slop {
				found = append(found, pos)
			}
		}
		if len(found) == 0 {
			return false
		}
		reach = found
	}
	return true
}

// rangeQuery reads stored values, so it sees exactly what was indexed. A
// multi-valued field matches when any element is in range.
func (e *evaluator) rangeQuery(q query.Range) (matchSet, error) {
	t, _ := e.schema.Lookup(q.Field)
	boost := query.BoostOf(q.Boost)
	type bound struct {
		v         analyzer.Comparable
		inclusive bool
		set       bool
	}
	norm := func(v any, inclusive bool) (bound, error) {
		if v == nil {
			return bound{}, nil
		}
		c, err := analyzer.Normalize(v, t)
		if err != nil {
			return bound{}, err
		}
		return bound{v: c, inclusive: inclusive, set: true}, nil
	}
	var lower, upper []bound
	for _, b := range []struct {
		v         any
		inclusive bool
		upper     bool
	}{{q.GTE, true, false}, {q.GT, false, false}, {q.LTE, true, true}, {q.LT, false, true}} {
		nb, err := norm(b.v, b.inclusive)
		if err != nil {
			return nil, err
		}
		switch {
		case !nb.set:
		case b.upper:
			upper = append(upper, nb)
		default:
			lower = append(lower, nb)
		}
	}
	if len(lower) == 0 && len(upper) == 0 {
		return e.all(boost), nil
	}

	in := func(c analyzer.Comparable) bool {
		for _, l := range lower {
			cmp := c.Compare(l.v)
			if cmp < 0 || (cmp == 0 && !l.inclusive) {
				return false
			}
		}
		for _, u := range upper {
			cmp := c.Compare(u.v)
			if cmp > 0 || (cmp == 0 && !u.inclusive) {
				return false
			}
		}
		return true
	}

	out := matchSet{}
	for i, id := range e.snap.DocIDs() {
		if i%1024 == 0 {
			if err := e.ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw, ok := e.snap.FieldValue(id, q.Field)
		if !ok || raw == nil {
			continue
		}
		values, isList := raw.([]any)
		if !isList {
			values = []any{raw}
		}
		for _, v := range values {
			c, err := analyzer.Normalize(v, t)
			if err == nil && in(c) {
				out[id] = boost
				break
			}
		}
	}
	return out, nil
}

func (e *evaluator) boolQuery(q query.Bool) (matchSet, error) {
	boost := query.BoostOf(q.Boost)
	if len(q.Must)+len(q.Filter)+len(q.Should) == 0 {
		out := e.all(boost)
		if err := e.exclude(out, q.MustNot); err != nil {
			return nil, err
		}
		return out, nil
	}

	var out matchSet
	required := len(q.Must)+len(q.Filter) > 0
	intersect := func(m matchSet, scored bool) {
		if out == nil {
			out = matchSet{}
			for id, s := range m {
				if scored {
					out[id] = s
				} else {
					out[id] = 0
				}
			}
			return
		}
		for id := range out {
			s, ok := m[id]
			if !ok {
				delete(out, id)
				continue
			}
			if scored {
				out[id] += s
			}
		}
	}
	for _, clause := range q.Must {
		m, err := e.eval(clause)
		if err != nil {
			return nil, err
		}
		intersect(m, true)
	}
	for _, clause := range q.Filter {
		m, err := e.eval(clause)
		if err != nil {
			return nil, err
		}
		intersect(m, false)
	}

	minShould := q.MinimumShouldMatch
	if minShould == 0 && !required {
		minShould = 1
	}
	if len(q.Should) > 0 {
		shouldScore := matchSet{}
		shouldCount := map[string]int{}
		for _, clause := range q.Should {
			m, err := e.eval(clause)
			if err != nil {
				return nil, err
			}
			for id, s := range m {
				shouldScore[id] += s
				shouldCount[id]++
			}
		}
		if !required {
			out = matchSet{}
			for id, s := range shouldScore {
				out[id] = s
			}
		} else {
			for id := range out {
				out[id] += shouldScore[id]
			}
		}
		for id := range out {
			if shouldCount[id] < minShould {
				delete(out, id)
			}
		}
	} else if minShould > 0 {
		out = matchSet{}
	}

	if err := e.exclude(out, q.MustNot); err != nil {
		return nil, err
	}
	for id := range out {
		out[id] *= boost
	}
	return out, nil
}

func (e *evaluator) exclude(out matchSet, clauses []query.Query) error {
	for _, clause := range clauses {
		m, err := e.eval(clause)
		if err != nil {
			return err
		}
		for id := range m {
			delete(out, id)
		}
	}
	return nil
}

func unique(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
