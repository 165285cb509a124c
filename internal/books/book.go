// Package books is the catalogue host around the search engine: the Book
// model, its indexed representation, the Postgres repository, the change
// feed and the GET /books endpoint.
package books

import (
	"html"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	"github.com/microcosm-cc/bluemonday"
)

// IndexName is the collection books are indexed into.
const IndexName = "books"

type Author struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type Book struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	ISBN        string    `json:"isbn"`
	PublishedAt time.Time `json:"published_at"`
	Pages       int       `json:"pages"`
	Author      Author    `json:"author"`
}

// Schema declares the indexed book fields. Author names are keywords so they
// match whole and case-sensitively.
func Schema() *schema.Schema {
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

var strict = bluemonday.StrictPolicy()

// sanitize strips markup from catalogue text. The strict policy escapes
// entities, which are decoded again so "HTML & CSS" is indexed as typed.
func sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

// ToDocument maps b to the indexed document. A zero PublishedAt is left out.
func ToDocument(b Book) schema.Document {
	fields := map[string]any{
		"id":    b.ID,
		"title": sanitize(b.Title),
		"isbn":  strings.TrimSpace(b.ISBN),
		"pages": b.Pages,
		"author": map[string]any{
			"first_name": sanitize(b.Author.FirstName),
			"last_name":  sanitize(b.Author.LastName),
		},
	}
	if !b.PublishedAt.IsZero() {
		fields["published_at"] = b.PublishedAt.UTC().Format("2006-01-02")
	}
	return schema.NewDocument(schema.IntID(b.ID), fields)
}
