package books

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/kafka"
)

var now = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

func TestToDocumentSanitizes(t *testing.T) {
	doc := ToDocument(Book{
		ID:     9,
		Title:  "<b>HTML &amp; CSS</b> for Dummies",
		ISBN:   " 4234 ",
		Author: Author{FirstName: "Joe<script>x</script>", LastName: "Doe"},
	})
	if doc.ID != "9" {
		t.Errorf("id = %q", doc.ID)
	}
	src := doc.Source()
	if got := src["title"]; got != "HTML & CSS for Dummies" {
		t.Errorf("title = %q", got)
	}
	if got := src["isbn"]; got != "4234" {
		t.Errorf("isbn = %q", got)
	}
	if _, ok := src["published_at"]; ok {
		t.Error("zero published_at should be omitted")
	}
	author := src["author"].(map[string]any)
	if author["first_name"] != "Joe" {
		t.Errorf("first_name = %q", author["first_name"])
	}
}

func TestSeedsAreValid(t *testing.T) {
	sch := Schema()
	seen := map[int64]bool{}
	for _, b := range Seeds(now) {
		if seen[b.ID] {
			t.Fatalf("duplicate id %d", b.ID)
		}
		seen[b.ID] = true
		if b.PublishedAt.After(now) {
			t.Errorf("book %d published in the future: %s", b.ID, b.PublishedAt)
		}
		doc := ToDocument(b)
		for field := range schema.Flatten(doc.Fields) {
			if _, ok := sch.Lookup(field); !ok {
				t.Errorf("book %d: undeclared field %s", b.ID, field)
			}
		}
	}
	if len(seen) != 8 {
		t.Errorf("seeds = %d, want 8", len(seen))
	}
}

type fakeTarget struct {
	docs      map[string]schema.Document
	refreshes int
	failIndex error
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{docs: map[string]schema.Document{}}
}

func (f *fakeTarget) Index(doc schema.Document) error {
	if f.failIndex != nil {
		return f.failIndex
	}
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeTarget) Delete(id string) error {
	delete(f.docs, id)
	return nil
}

func (f *fakeTarget) Refresh() (uint64, error) {
	f.refreshes++
	return uint64(f.refreshes), nil
}

func encode(t *testing.T, ev ChangeEvent) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestSyncerHandleMessage(t *testing.T) {
	target := newFakeTarget()
	s := NewSyncer(target, nil)
	ctx := context.Background()
	book := Seeds(now)[0]

	if err := s.HandleMessage(ctx, []byte("1"), encode(t, ChangeEvent{Op: OpUpsert, ID: 1, Book: &book})); err != nil {
		t.Fatal(err)
	}
	if _, ok := target.docs["1"]; !ok {
		t.Fatal("upsert did not index the book")
	}
	if err := s.HandleMessage(ctx, []byte("1"), encode(t, ChangeEvent{Op: OpDelete, ID: 1})); err != nil {
		t.Fatal(err)
	}
	if len(target.docs) != 0 {
		t.Fatalf("delete left %d docs", len(target.docs))
	}

	skipped := map[string][]byte{
		"garbage":      []byte("{not json"),
		"unknown op":   encode(t, ChangeEvent{Op: "rename", ID: 1}),
		"missing body": encode(t, ChangeEvent{Op: OpUpsert, ID: 2}),
	}
	for name, value := range skipped {
		if err := s.HandleMessage(ctx, nil, value); !errors.Is(err, kafka.ErrSkip) {
			t.Errorf("%s: err = %v, want ErrSkip", name, err)
		}
	}
}

func TestSyncerRetriesEngineFailures(t *testing.T) {
	target := newFakeTarget()
	target.failIndex = apperrors.ErrIndexClosed
	s := NewSyncer(target, nil)
	book := Seeds(now)[0]
	err := s.HandleMessage(context.Background(), nil, encode(t, ChangeEvent{Op: OpUpsert, ID: 1, Book: &book}))
	if err == nil || errors.Is(err, kafka.ErrSkip) {
		t.Fatalf("err = %v, want a retryable error", err)
	}
}

func TestReindex(t *testing.T) {
	target := newFakeTarget()
	gen, err := NewSyncer(target, nil).Reindex(context.Background(), StaticSource(Seeds(now)))
	if err != nil {
		t.Fatal(err)
	}
	if gen != 1 || target.refreshes != 1 {
		t.Errorf("generation = %d, refreshes = %d", gen, target.refreshes)
	}
	if len(target.docs) != 8 {
		t.Errorf("indexed %d books", len(target.docs))
	}
}

type recordingPublisher struct {
	events []kafka.Event
}

func (r *recordingPublisher) PublishBatch(ctx context.Context, events []kafka.Event) error {
	r.events = append(r.events, events...)
	return nil
}

func TestChangePublisher(t *testing.T) {
	rec := &recordingPublisher{}
	p := NewChangePublisher(rec)
	p.now = func() time.Time { return now }
	seeds := Seeds(now)
	if err := p.PublishUpsert(context.Background(), seeds[0], seeds[1]); err != nil {
		t.Fatal(err)
	}
	if err := p.PublishDelete(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if len(rec.events) != 3 {
		t.Fatalf("events = %d", len(rec.events))
	}
	first := rec.events[0].Value.(ChangeEvent)
	second := rec.events[1].Value.(ChangeEvent)
	if rec.events[0].Key != "1" || first.Book.ID != 1 || second.Book.ID != 2 {
		t.Errorf("upserts = %+v %+v", first, second)
	}
	del := rec.events[2].Value.(ChangeEvent)
	if rec.events[2].Key != "7" || del.Op != OpDelete || del.Book != nil || !del.Timestamp.Equal(now) {
		t.Errorf("delete = %+v", del)
	}
}

func TestBuildRequest(t *testing.T) {
	tests := []struct {
		name      string
		typ       string
		field     string
		text      string
		wantKind  query.Kind
		wantError bool
	}{
		{name: "empty lists all", wantKind: query.KindMatchAll},
		{name: "default multi_match", text: "ruby", wantKind: query.KindMultiMatch},
		{name: "term", typ: "term", field: "isbn", text: "1234", wantKind: query.KindTerm},
		{name: "match_phrase", typ: "match_phrase", field: "title", text: "good parts", wantKind: query.KindMatchPhrase},
		{name: "term needs field", typ: "term", text: "1234", wantError: true},
		{name: "unsupported type", typ: "fuzzy", field: "title", text: "x", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _, err := BuildRequest(tt.typ, tt.field, tt.text)
			if tt.wantError {
				if !errors.Is(err, apperrors.ErrInvalidQuery) {
					t.Fatalf("err = %v, want ErrInvalidQuery", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if req.Query.Kind() != tt.wantKind {
				t.Errorf("kind = %s, want %s", req.Query.Kind(), tt.wantKind)
			}
		})
	}

	req, _, _ := BuildRequest("", "", "ruby")
	mm := req.Query.(query.MultiMatch)
	if len(mm.Fields) != len(DefaultFields) || mm.Fuzziness.Distance != 1 {
		t.Errorf("multi_match = %+v", mm)
	}
}

func newBooksServer(t *testing.T) *httptest.Server {
	t.Helper()
	idx := config.Default().Index
	idx.RefreshInterval = 0
	reg := indexer.NewRegistry(config.StorageConfig{Engine: "memory"}, idx)
	t.Cleanup(func() { reg.Close() })
	engine, err := EnsureIndex(reg)
	if err != nil {
		t.Fatal(err)
	}
	if again, err := EnsureIndex(reg); err != nil || again != engine {
		t.Fatalf("second EnsureIndex = %v, %v", again, err)
	}
	if _, err := NewSyncer(engine, nil).Reindex(context.Background(), StaticSource(Seeds(now))); err != nil {
		t.Fatal(err)
	}
	search := handler.New(reg, executor.New(nil), config.SearchConfig{MaxResults: 100, Timeout: time.Second})
	mux := http.NewServeMux()
	NewHandler(search).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestListBooks(t *testing.T) {
	srv := newBooksServer(t)
	tests := []struct {
		name   string
		params string
		want   []int
	}{
		{name: "all", params: "", want: []int{1, 2, 3, 4, 5, 6, 7, 8}},
		{name: "title word", params: "query=Ruby", want: []int{1, 2, 3, 4}},
		{name: "ampersand", params: "query=HTML+%26+CSS", want: []int{7, 8}},
		{name: "fuzzy", params: "query=javascrip", want: []int{5, 6}},
		{name: "author keyword", params: "query_type=term&query_field=author.last_name&query=Doe", want: []int{2, 5, 6, 7, 8}},
		{name: "phrase", params: "query_type=match_phrase&query_field=title&query=the+good+parts", want: []int{5}},
		{name: "isbn field", params: "query_field=isbn&query=88793", want: []int{6}},
		{name: "no match", params: "query=haskell", want: []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/books?" + tt.params)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			var body struct {
				Results []map[string]any `json:"results"`
				Total   int              `json:"total"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			got := make([]int, 0, len(body.Results))
			for _, r := range body.Results {
				if _, ok := r["score"]; !ok {
					t.Errorf("result without score: %v", r)
				}
				got = append(got, int(r["id"].(float64)))
			}
			sort.Ints(got)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) || body.Total != len(tt.want) {
				t.Errorf("ids = %v total = %d, want %v", got, body.Total, tt.want)
			}
		})
	}
}

func TestListBooksErrors(t *testing.T) {
	srv := newBooksServer(t)
	for _, params := range []string{
		"query_type=fuzzy&query_field=title&query=x",
		"query_type=term&query=Doe",
		"query_type=term&query_field=nope&query=x",
		"query=ruby&size=-1",
	} {
		resp, err := http.Get(srv.URL + "/books?" + params)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", params, resp.StatusCode)
		}
	}
}
