package executor

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func bookSchema() *schema.Schema {
	return schema.MustNew(
		schema.Field{Name: "id", Type: schema.Numeric},
		schema.Field{Name: "title", Type: schema.Text},
		schema.Field{Name: "isbn", Type: schema.Keyword},
		schema.Field{Name: "published_at", Type: schema.Date},
		schema.Field{Name: "pages", Type: schema.Numeric},
		schema.Field{Name: "author.first_name", Type: schema.Keyword},
		schema.Field{Name: "author.last_name", Type: schema.Keyword},
	)
}

func bookDoc(id int64, title, isbn, first, last string) schema.Document {
	return schema.NewDocument(schema.IntID(id), map[string]any{
		"id":           id,
		"title":        title,
		"isbn":         isbn,
		"published_at": "2021-09-16",
		"pages":        1,
		"author":       map[string]any{"first_name": first, "last_name": last},
	})
}

func newEngine(t testing.TB) *indexer.Engine {
	t.Helper()
	cfg := config.Default().Index
	cfg.RefreshInterval = 0
	e, err := indexer.Open("books", bookSchema(), store.New(store.NewMemory()), "", cfg)
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	return e
}

// twoBooks is the fixture the query contract is written against.
func twoBooks(t *testing.T) *indexer.Engine {
	t.Helper()
	e := newEngine(t)
	for _, doc := range []schema.Document{
		bookDoc(1, "cats in space", "1234", "Tiglath", "Pilesers"),
		bookDoc(2, "Walking in space with a cat named Zorro", "44356", "Faith", "Hastings"),
	} {
		if err := e.Index(doc); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.Refresh(); err != nil {
		t.Fatal(err)
	}
	return e
}

func search(t *testing.T, e *indexer.Engine, dsl string) []string {
	t.Helper()
	q, err := parser.Parse([]byte(dsl))
	if err != nil {
		t.Fatalf("parse %s: %v", dsl, err)
	}
	res, err := New(nil).Run(context.Background(), e.Schema(), e.Snapshot(), query.Request{Query: q})
	if err != nil {
		t.Fatalf("run %s: %v", dsl, err)
	}
	ids := make([]string, len(res.Hits))
	for i, h := range res.Hits {
		ids[i] = h.ID
	}
	return ids
}

func TestBookQueries(t *testing.T) {
	e := twoBooks(t)
	tests := []struct {
		name string
		dsl  string
		want []string
	}{
		{"term full title is not a token", `{"term":{"title":{"value":"cats in space"}}}`, []string{}},
		{"term one word of title", `{"term":{"title":{"value":"cats"}}}`, []string{"1"}},
		{"term singular only hits singular", `{"term":{"title":{"value":"cat"}}}`, []string{"2"}},
		{"term exact keyword", `{"term":{"isbn":{"value":"1234"}}}`, []string{"1"}},
		{"term partial keyword", `{"term":{"isbn":{"value":"123"}}}`, []string{}},
		{"terms full title", `{"terms":{"title":["cats in space"]}}`, []string{}},
		{"terms one word", `{"terms":{"title":["cats","wrong"]}}`, []string{"1"}},
		{"terms keyword", `{"terms":{"isbn":["1234","wrong"]}}`, []string{"1"}},
		{"terms partial keyword", `{"terms":{"isbn":["123","wrong"]}}`, []string{}},
		{"match exact title", `{"match":{"title":"cats in space"}}`, []string{"1", "2"}},
		{"match one known word", `{"match":{"title":"wrong zorro"}}`, []string{"2"}},
		{"match singular", `{"match":{"title":"cat"}}`, []string{"2"}},
		{"phrase adjacent", `{"match_phrase":{"title":"cats in"}}`, []string{"1"}},
		{"phrase wrong order", `{"match_phrase":{"title":"zorro named"}}`, []string{}},
		{"phrase plural", `{"match_phrase":{"title":"cats named"}}`, []string{}},
		{"phrase with slop", `{"match_phrase":{"title":{"query":"space cat","slop":2}}}`, []string{"2"}},
		{"phrase singular", `{"match_phrase":{"title":"cat in"}}`, []string{}},
		{"multi_match exact title", `{"multi_match":{"query":"cats in space","fields":["title"]}}`, []string{"1", "2"}},
		{"multi_match word", `{"multi_match":{"query":"cats","fields":["title"]}}`, []string{"1"}},
		{"multi_match singular", `{"multi_match":{"query":"cat","fields":["title"]}}`, []string{"2"}},
		{"multi_match author name", `{"multi_match":{"query":"Pilesers","fields":["title","author"]}}`, []string{"1"}},
		{"multi_match part of author name", `{"multi_match":{"query":"Pileser","fields":["title","author"]}}`, []string{}},
		{"range gte", `{"range":{"id":{"gte":1}}}`, []string{"1", "2"}},
		{"range gt", `{"range":{"id":{"gt":1}}}`, []string{"2"}},
		{"bool must and should", `{"bool":{"must":[{"term":{"title":"cat"}}],"should":[{"term":{"author":"Hastings"}}]}}`, []string{"2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := search(t, e, tt.dsl)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("%s = %v, want %v", tt.dsl, got, tt.want)
			}
		})
	}
}

func TestMatchScoresMoreOverlapHigher(t *testing.T) {
	e := twoBooks(t)
	q := query.Match{Field: "title", Text: "cats in space"}
	res, err := New(nil).Run(context.Background(), e.Schema(), e.Snapshot(), query.Request{Query: q})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 || res.Hits[0].Score <= res.Hits[1].Score {
		t.Fatalf("hits = %+v", res.Hits)
	}
	if res.Hits[0].Score != 3 {
		t.Errorf("score = %v, want 3", res.Hits[0].Score)
	}
	author, ok := res.Hits[0].Source["author"].(map[string]any)
	if !ok || author["last_name"] != "Pilesers" {
		t.Errorf("source not hydrated: %v", res.Hits[0].Source)
	}
}

func TestMatchOperatorAndFuzziness(t *testing.T) {
	e := twoBooks(t)
	tests := []struct {
		name string
		q    query.Query
		want []string
	}{
		{"and needs every token", query.Match{Field: "title", Text: "cat zorro", Operator: query.OperatorAnd}, []string{"2"}},
		{"and rejects partial", query.Match{Field: "title", Text: "cats zorro", Operator: query.OperatorAnd}, []string{}},
		{"fuzzy reaches plural", query.Match{Field: "title", Text: "cat", Fuzziness: query.Fuzziness{Distance: 1}}, []string{"2", "1"}},
		{"auto keeps short words exact", query.Match{Field: "title", Text: "in", Fuzziness: query.Fuzziness{Auto: true}}, []string{"1", "2"}},
		{"fuzzy keyword", query.MultiMatch{
			Fields:    []query.FieldRef{{Pattern: "author"}},
			Text:      "Pileser",
			Fuzziness: query.Fuzziness{Distance: 1},
		}, []string{"1"}},
		{"and across fields", query.MultiMatch{
			Fields:   []query.FieldRef{{Pattern: "title"}, {Pattern: "author.last_name"}},
			Text:     "zorro",
			Operator: query.OperatorAnd,
		}, []string{"2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(nil).Run(context.Background(), e.Schema(), e.Snapshot(), query.Request{Query: tt.q})
			if err != nil {
				t.Fatal(err)
			}
			got := make([]string, len(res.Hits))
			for i, h := range res.Hits {
				got[i] = h.ID
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMultiMatchFieldBoost(t *testing.T) {
	e := twoBooks(t)
	fields := []query.FieldRef{{Pattern: "title", Boost: query.Weight(3)}, {Pattern: "author", Boost: query.Weight(2)}}
	ex := New(nil)
	tests := []struct {
		text  string
		ids   []string
		score float64
	}{
		{"space", []string{"1", "2"}, 3},
		{"Hastings", []string{"2"}, 2},
	}
	for _, tt := range tests {
		q := query.MultiMatch{Fields: fields, Text: tt.text}
		res, err := ex.Run(context.Background(), e.Schema(), e.Snapshot(), query.Request{Query: q})
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Hits) != len(tt.ids) {
			t.Fatalf("%q: hits = %+v", tt.text, res.Hits)
		}
		for i, h := range res.Hits {
			if h.ID != tt.ids[i] || h.Score != tt.score {
				t.Errorf("%q: hit %d = %+v, want id %s score %v", tt.text, i, h, tt.ids[i], tt.score)
			}
		}
	}
}

func TestBoolClauses(t *testing.T) {
	e := twoBooks(t)
	tests := []struct {
		name string
		dsl  string
		want []string
	}{
		{"should only needs one", `{"bool":{"should":[{"term":{"title":"zorro"}},{"term":{"title":"cats"}}]}}`, []string{"1", "2"}},
		{"must_not removes", `{"bool":{"must":[{"match":{"title":"space"}}],"must_not":[{"term":{"isbn":"1234"}}]}}`, []string{"2"}},
		{"filter does not score", `{"bool":{"filter":[{"range":{"id":{"lte":2}}}],"should":[{"term":{"title":"zorro"}}]}}`, []string{"2", "1"}},
		{"minimum should match", `{"bool":{"should":[{"term":{"title":"space"}},{"term":{"title":"cat"}}],"minimum_should_match":2}}`, []string{"2"}},
		{"empty bool matches all", `{"bool":{}}`, []string{"1", "2"}},
		{"match all", `{"match_all":{}}`, []string{"1", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := search(t, e, tt.dsl)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("%s = %v, want %v", tt.dsl, got, tt.want)
			}
		})
	}
}

func TestRangeDatesAndBounds(t *testing.T) {
	e := newEngine(t)
	for i, date := range []string{"2020-01-01", "2021-06-30", "2022-12-31"} {
		doc := bookDoc(int64(i+1), "t", "i", "f", "l")
		doc.Fields["published_at"] = date
		if err := e.Index(doc); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.Refresh(); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		dsl  string
		want []string
	}{
		{`{"range":{"published_at":{"gte":"2021-01-01"}}}`, []string{"2", "3"}},
		{`{"range":{"published_at":{"gt":"2020-01-01","lt":"2022-12-31"}}}`, []string{"2"}},
		{`{"range":{"published_at":{"lte":"2021-06-30T00:00:00Z"}}}`, []string{"1", "2"}},
		{`{"range":{"id":{}}}`, []string{"1", "2", "3"}},
		{`{"range":{"published_at":{"gt":"2020-01-01","gte":"2019-01-01"}}}`, []string{"2", "3"}},
		{`{"range":{"published_at":{"gte":"2021-06-30","gt":"2021-06-30"}}}`, []string{"3"}},
		{`{"range":{"published_at":{"lte":"2022-12-31","lt":"2022-12-31"}}}`, []string{"1", "2"}},
	}
	for _, tt := range tests {
		if got := search(t, e, tt.dsl); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s = %v, want %v", tt.dsl, got, tt.want)
		}
	}
}

func TestPhraseOnLongRepetitiveField(t *testing.T) {
	e := newEngine(t)
	title := "b" + strings.Repeat(" a", 200)
	if err := e.Index(bookDoc(1, title, "1", "f", "l")); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Refresh(); err != nil {
		t.Fatal(err)
	}
	ex := New(nil)
	tests := []struct {
		text string
		slop int
		hits int
	}{
		{"a a a a a b", 1000, 0},
		{"a a a a a a a a a a a a b", 1000, 0},
		{"b a a a a a a a a a a a a", 0, 1},
		{"a a a", 0, 1},
	}
	for _, tt := range tests {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		q := query.MatchPhrase{Field: "title", Text: tt.text, Slop: tt.slop}
		start := time.Now()
		res, err := ex.Run(ctx, e.Schema(), e.Snapshot(), query.Request{Query: q})
		cancel()
		if err != nil {
			t.Fatalf("%q: %v", tt.text, err)
		}
		if res.Total != tt.hits {
			t.Errorf("%q slop %d: total = %d, want %d", tt.text, tt.slop, res.Total, tt.hits)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("%q slop %d took %s", tt.text, tt.slop, elapsed)
		}
	}
}

func TestZeroBoost(t *testing.T) {
	e := twoBooks(t)
	ex := New(nil)
	q, err := parser.Parse([]byte(`{"bool":{
		"must":[{"match":{"title":"zorro"}}],
		"should":[{"match":{"title":{"query":"space","boost":0}}}]}}`))
	if err != nil {
		t.Fatal(err)
	}
	withZero, err := ex.Run(context.Background(), e.Schema(), e.Snapshot(), query.Request{Query: q})
	if err != nil {
		t.Fatal(err)
	}
	plain, err := ex.Run(context.Background(), e.Schema(), e.Snapshot(),
		query.Request{Query: query.Match{Field: "title", Text: "zorro"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(withZero.Hits) != 1 || len(plain.Hits) != 1 {
		t.Fatalf("hits = %+v / %+v", withZero.Hits, plain.Hits)
	}
	if withZero.Hits[0].Score != plain.Hits[0].Score {
		t.Errorf("zero-boost clause changed score: %v vs %v", withZero.Hits[0].Score, plain.Hits[0].Score)
	}

	title := query.FieldRef{Pattern: "title", Boost: query.Weight(0)}
	res, err := ex.Run(context.Background(), e.Schema(), e.Snapshot(),
		query.Request{Query: query.MultiMatch{Fields: []query.FieldRef{title}, Text: "space"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 {
		t.Fatalf("total = %d, want 2", res.Total)
	}
	for _, h := range res.Hits {
		if h.Score != 0 {
			t.Errorf("hit %s score = %v, want 0", h.ID, h.Score)
		}
	}
}

func TestInvalidQueries(t *testing.T) {
	e := twoBooks(t)
	for _, q := range []query.Query{
		query.Term{Field: "publisher", Value: "x"},
		query.Terms{Field: "isbn"},
		query.Range{Field: "title", GTE: 1},
		query.Range{Field: "id", GTE: "not a number"},
		query.MatchPhrase{Field: "title", Text: "a b", Slop: -1},
		query.MultiMatch{Fields: []query.FieldRef{{Pattern: "nope"}}, Text: "x"},
		query.Bool{Must: []query.Query{query.Term{Field: "missing", Value: 1}}},
	} {
		_, err := New(nil).Run(context.Background(), e.Schema(), e.Snapshot(), query.Request{Query: q})
		if !errors.Is(err, apperrors.ErrInvalidQuery) {
			t.Errorf("%#v: err = %v, want ErrInvalidQuery", q, err)
		}
	}
}

func TestPagination(t *testing.T) {
	e := newEngine(t)
	for i := int64(1); i <= 10; i++ {
		if err := e.Index(bookDoc(i, "space", "x", "f", "l")); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.Refresh(); err != nil {
		t.Fatal(err)
	}
	req := query.Request{Query: query.Term{Field: "title", Value: "space"}, From: 3, Size: 4}
	res, err := New(nil).Run(context.Background(), e.Schema(), e.Snapshot(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 10 || len(res.Hits) != 4 || res.Hits[0].ID != "4" || res.Hits[3].ID != "7" {
		t.Errorf("page = total %d hits %+v", res.Total, res.Hits)
	}
}

func TestIdempotentIndexAndDelete(t *testing.T) {
	e := twoBooks(t)
	doc := bookDoc(1, "cats in space", "1234", "Tiglath", "Pilesers")
	if err := e.Index(doc); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Refresh(); err != nil {
		t.Fatal(err)
	}
	if got := search(t, e, `{"match":{"title":"cats"}}`); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("after reindex = %v", got)
	}
	if err := e.Delete("1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Refresh(); err != nil {
		t.Fatal(err)
	}
	for _, dsl := range []string{
		`{"match":{"title":"cats in space"}}`,
		`{"range":{"id":{"gte":0}}}`,
		`{"match_all":{}}`,
	} {
		for _, id := range search(t, e, dsl) {
			if id == "1" {
				t.Errorf("%s returned deleted document", dsl)
			}
		}
	}
}

func TestSnapshotIsolation(t *testing.T) {
	e := twoBooks(t)
	snap := e.Snapshot()
	if err := e.Index(bookDoc(3, "cats again", "3234", "Joe", "Doe")); err != nil {
		t.Fatal(err)
	}
	if err := e.Delete("1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Refresh(); err != nil {
		t.Fatal(err)
	}

	ex := New(nil)
	req := query.Request{Query: query.Term{Field: "title", Value: "cats"}}
	old, err := ex.Run(context.Background(), e.Schema(), snap, req)
	if err != nil {
		t.Fatal(err)
	}
	if old.Total != 1 || old.Hits[0].ID != "1" {
		t.Errorf("old snapshot = %+v", old.Hits)
	}
	cur, err := ex.Run(context.Background(), e.Schema(), e.Snapshot(), req)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Total != 1 || cur.Hits[0].ID != "3" || cur.Generation <= old.Generation {
		t.Errorf("current snapshot = gen %d %+v", cur.Generation, cur.Hits)
	}
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	e := twoBooks(t)
	ex := New(nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				res, err := ex.Run(ctx, e.Schema(), e.Snapshot(), query.Request{Query: query.Match{Field: "title", Text: "space"}})
				if err != nil {
					t.Error(err)
					return
				}
				if res.Total < 2 {
					t.Errorf("generation %d lost documents: %d", res.Generation, res.Total)
					return
				}
			}
		}()
	}
	for i := int64(3); i < 40; i++ {
		if err := e.Index(bookDoc(i, "space", "x", "f", "l")); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Refresh(); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
}

func TestCancelledContext(t *testing.T) {
	e := twoBooks(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Run(ctx, e.Schema(), e.Snapshot(), query.Request{Query: query.MatchAll{}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestQueryMetrics(t *testing.T) {
	e := twoBooks(t)
	reg := prometheus.NewRegistry()
	ex := New(metrics.New(reg))
	ctx := context.Background()
	_, _ = ex.Run(ctx, e.Schema(), e.Snapshot(), query.Request{Query: query.Term{Field: "title", Value: "cats"}})
	_, _ = ex.Run(ctx, e.Schema(), e.Snapshot(), query.Request{Query: query.Term{Field: "nope", Value: "cats"}})

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	outcomes := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "search_queries_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" {
					outcomes[l.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	if outcomes["hit"] != 1 || outcomes["invalid"] != 1 {
		t.Errorf("outcomes = %v", outcomes)
	}
}
