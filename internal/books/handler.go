package books

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/logger"
)

// DefaultFields are searched by multi_match when no query_field is given.
var DefaultFields = []string{"title", "author.first_name", "author.last_name", "isbn"}

// Searcher runs a query against a collection. *handler.Handler satisfies it.
type Searcher interface {
	Search(ctx context.Context, index string, req query.Request, raw string) (*executor.Result, error)
}

// Handler serves GET /books.
type Handler struct {
	searcher Searcher
	logger   *slog.Logger
}

func NewHandler(s Searcher) *Handler {
	return &Handler{
		searcher: s,
		logger:   slog.Default().With("component", "books-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /books", h.List)
}

type listResponse struct {
	Results []map[string]any `json:"results"`
	Total   int              `json:"total"`
}

// List searches the catalogue with query, query_type and query_field. An
// empty query lists every book.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	req, raw, err := BuildRequest(params.Get("query_type"), params.Get("query_field"), params.Get("query"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.From, err = intParam(params.Get("from")); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Size, err = intParam(params.Get("size")); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.searcher.Search(r.Context(), IndexName, req, raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := listResponse{Results: make([]map[string]any, 0, len(result.Hits)), Total: result.Total}
	for _, hit := range result.Hits {
		row := make(map[string]any, len(hit.Source)+1)
		for k, v := range hit.Source {
			row[k] = v
		}
		row["score"] = hit.Score
		resp.Results = append(resp.Results, row)
	}
	writeJSON(w, http.StatusOK, resp)
}

// BuildRequest turns the GET /books parameters into a query. multi_match
// (the default) searches field, or DefaultFields, with fuzziness 1. Other
// types use the single-field form {type: {field: text}}. It also returns
// the DSL text for analytics.
func BuildRequest(queryType, field, text string) (query.Request, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return query.Request{Query: query.MatchAll{}}, "", nil
	}
	if queryType == "" {
		queryType = string(query.KindMultiMatch)
	}

	var body map[string]any
	switch query.Kind(queryType) {
	case query.KindMultiMatch:
		fields := DefaultFields
		if field != "" {
			fields = []string{field}
		}
		body = map[string]any{queryType: map[string]any{
			"query":     text,
			"fields":    fields,
			"fuzziness": 1,
		}}
	case query.KindTerm, query.KindMatch, query.KindMatchPhrase:
		if field == "" {
			return query.Request{}, "", apperrors.InvalidQuery(queryType, "", nil, "query_field is required")
		}
		body = map[string]any{queryType: map[string]any{field: text}}
	default:
		return query.Request{}, "", apperrors.InvalidQuery(queryType, field, nil, "unsupported query_type")
	}

	data, err := json.Marshal(body)
	if err != nil {
		return query.Request{}, "", fmt.Errorf("encoding query: %w", err)
	}
	q, err := parser.Parse(data)
	if err != nil {
		return query.Request{}, "", err
	}
	return query.Request{Query: q}, string(data), nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid paging parameter %q", s)
	}
	return n, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("books search failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
