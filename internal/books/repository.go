package books

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/postgres"
)

// Migration creates the catalogue tables when missing.
const Migration = `
CREATE TABLE IF NOT EXISTS authors (
	id         BIGSERIAL PRIMARY KEY,
	first_name TEXT NOT NULL,
	last_name  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS books (
	id           BIGSERIAL PRIMARY KEY,
	title        TEXT NOT NULL,
	isbn         TEXT NOT NULL,
	author_id    BIGINT NOT NULL REFERENCES authors(id),
	published_at DATE,
	pages        INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const selectBooks = `
SELECT b.id, b.title, b.isbn, b.published_at, b.pages, a.id, a.first_name, a.last_name
FROM books b JOIN authors a ON a.id = b.author_id`

// Repository reads and writes the catalogue in Postgres.
type Repository struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewRepository(db *postgres.Client) *Repository {
	return &Repository{
		db:     db,
		logger: slog.Default().With("component", "book-repository"),
	}
}

func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.DB.ExecContext(ctx, Migration); err != nil {
		return fmt.Errorf("migrating book tables: %w", err)
	}
	return nil
}

// All returns every book with its author, ordered by id.
func (r *Repository) All(ctx context.Context) ([]Book, error) {
	rows, err := r.db.DB.QueryContext(ctx, selectBooks+` ORDER BY b.id`)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	defer rows.Close()
	var out []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id int64) (Book, error) {
	b, err := scanBook(r.db.DB.QueryRowContext(ctx, selectBooks+` WHERE b.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Book{}, fmt.Errorf("book %d: %w", id, apperrors.ErrNotFound)
	}
	return b, err
}

// Save upserts b and its author in one transaction. Zero ids are assigned
// by the database and written back into the returned book.
func (r *Repository) Save(ctx context.Context, b Book) (Book, error) {
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		if b.Author.ID == 0 {
			if err := tx.QueryRowContext(ctx,
				`INSERT INTO authors (first_name, last_name) VALUES ($1, $2) RETURNING id`,
				b.Author.FirstName, b.Author.LastName,
			).Scan(&b.Author.ID); err != nil {
				return fmt.Errorf("inserting author: %w", err)
			}
		} else if _, err := tx.ExecContext(ctx,
			`INSERT INTO authors (id, first_name, last_name) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name`,
			b.Author.ID, b.Author.FirstName, b.Author.LastName,
		); err != nil {
			return fmt.Errorf("upserting author %d: %w", b.Author.ID, err)
		}

		var published any
		if !b.PublishedAt.IsZero() {
			published = b.PublishedAt
		}
		if b.ID == 0 {
			return tx.QueryRowContext(ctx,
				`INSERT INTO books (title, isbn, author_id, published_at, pages)
				 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
				b.Title, b.ISBN, b.Author.ID, published, b.Pages,
			).Scan(&b.ID)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO books (id, title, isbn, author_id, published_at, pages)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, isbn = EXCLUDED.isbn,
			   author_id = EXCLUDED.author_id, published_at = EXCLUDED.published_at,
			   pages = EXCLUDED.pages, updated_at = NOW()`,
			b.ID, b.Title, b.ISBN, b.Author.ID, published, b.Pages,
		)
		return err
	})
	if err != nil {
		return Book{}, fmt.Errorf("saving book: %w", err)
	}
	r.logger.Debug("book saved", "id", b.ID, "isbn", b.ISBN)
	return b, nil
}

// Delete removes a book. Deleting a missing id is not an error.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.DB.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting book %d: %w", id, err)
	}
	return nil
}

// ResetSequences moves the id sequences past explicitly inserted ids.
func (r *Repository) ResetSequences(ctx context.Context) error {
	for _, table := range []string{"authors", "books"} {
		q := fmt.Sprintf(`SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE(MAX(id), 0) + 1, false) FROM %s`, table, table)
		if _, err := r.db.DB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("resetting %s sequence: %w", table, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (Book, error) {
	var (
		b         Book
		published sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.Title, &b.ISBN, &published, &b.Pages,
		&b.Author.ID, &b.Author.FirstName, &b.Author.LastName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Book{}, err
		}
		return Book{}, fmt.Errorf("scanning book row: %w", err)
	}
	if published.Valid {
		b.PublishedAt = published.Time.UTC()
	}
	return b, nil
}
