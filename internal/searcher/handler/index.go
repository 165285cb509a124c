package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
	"github.com/hashicorp/go-multierror"
)

// createIndexBody accepts either a name->type mapping or an ordered field
// list.
type createIndexBody struct {
	Mappings map[string]string `json:"mappings"`
	Fields   []schema.Field    `json:"fields"`
}

// IndexInfo describes a collection.
type IndexInfo struct {
	Name       string         `json:"name"`
	Fields     []schema.Field `json:"fields"`
	Generation uint64         `json:"generation"`
	Documents  int            `json:"documents"`
	Searchable int            `json:"searchable"`
	Terms      int            `json:"terms"`
	Tombstones uint64         `json:"tombstones"`
}

func (h *Handler) ListIndexes(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string][]string{"indexes": nonNil(h.registry.Names())})
}

// CreateIndex handles PUT /api/v1/indexes/{name}.
func (h *Handler) CreateIndex(w http.ResponseWriter, r *http.Request) {
	var body createIndexBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	var (
		sch *schema.Schema
		err error
	)
	switch {
	case len(body.Fields) > 0:
		sch, err = schema.New(body.Fields...)
	default:
		sch, err = schema.FromMapping(body.Mappings)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	name := r.PathValue("name")
	if _, err := h.registry.CreateIndex(name, sch); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"acknowledged": true, "index": name})
}

func (h *Handler) GetIndex(w http.ResponseWriter, r *http.Request) {
	engine, err := h.registry.Get(r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	snap := engine.Snapshot()
	h.writeJSON(w, http.StatusOK, IndexInfo{
		Name:       engine.Name(),
		Fields:     engine.Schema().Fields(),
		Generation: snap.Generation(),
		Documents:  engine.DocCount(),
		Searchable: snap.DocCount(),
		Terms:      snap.TermCount(),
		Tombstones: snap.TombstoneCount(),
	})
}

// IndexExists answers HEAD with 200 or 404 and no body.
func (h *Handler) IndexExists(w http.ResponseWriter, r *http.Request) {
	if h.registry.IndexExists(r.PathValue("name")) {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

// DeleteIndex removes the collection and its cached results.
func (h *Handler) DeleteIndex(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.registry.DeleteIndex(name); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.cache.Invalidate(r.Context(), name); err != nil {
		h.logger.Warn("cache invalidation after delete failed", "index", name, "error", err)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	gen, err := h.registry.RefreshIndex(r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]uint64{"generation": gen})
}

// PutDocument indexes the request body as document {id}. Fields that fail
// analysis are reported with 200 and a "warnings" list because the document
// itself was stored. ?refresh=true publishes it before responding.
func (h *Handler) PutDocument(w http.ResponseWriter, r *http.Request) {
	engine, err := h.registry.Get(r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var source map[string]any
	if err := decodeBody(r, &source); err != nil {
		h.writeError(w, r, err)
		return
	}
	doc := schema.NewDocument(r.PathValue("id"), source)
	resp := map[string]any{"id": doc.ID, "result": "indexed"}

	err = engine.Index(doc)
	var merr *multierror.Error
	switch {
	case errors.As(err, &merr):
		warnings := make([]string, 0, len(merr.Errors))
		for _, e := range merr.Errors {
			warnings = append(warnings, e.Error())
		}
		resp["warnings"] = warnings
	case err != nil:
		h.writeError(w, r, err)
		return
	}
	if refresh(r) {
		gen, err := engine.Refresh()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp["generation"] = gen
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	engine, err := h.registry.Get(r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	doc, err := engine.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": doc.ID, "source": doc.Source()})
}

// DeleteDocument is idempotent: deleting an unknown id still answers 200.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	engine, err := h.registry.Get(r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if err := engine.Delete(id); err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := map[string]any{"id": id, "result": "deleted"}
	if refresh(r) {
		gen, err := engine.Refresh()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp["generation"] = gen
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func refresh(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	return v
}

// decodeBody reads JSON keeping numbers as json.Number so integer values
// survive unchanged.
func decodeBody(r *http.Request, dst any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", apperrors.ErrInvalidInput, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", apperrors.ErrInvalidInput, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
