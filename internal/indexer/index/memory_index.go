// Package index implements the inverted index: a mutable term table owned by
// the index writer and immutable snapshots that readers query without locks.
package index

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer/analyzer"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/huandu/skiplist"
)

// MemoryIndex maps (field, term) to a skip list of postings keyed by document
// ordinal. It is not safe for concurrent use; the engine's writer lock guards
// it. Readers never touch it directly, they query a frozen Snapshot.
type MemoryIndex struct {
	terms      map[string]*skiplist.SkipList
	fieldTerms map[string]map[string]struct{}
	dirty      map[string]struct{}
	size       int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		terms:      make(map[string]*skiplist.SkipList),
		fieldTerms: make(map[string]map[string]struct{}),
		dirty:      make(map[string]struct{}),
	}
}

// AddField records the tokens of one field of one document version.
func (m *MemoryIndex) AddField(field string, tokens []analyzer.Token, docID string, ord uint32) {
	termData := make(map[string]*Posting)
	order := make([]string, 0, len(tokens))
	for _, token := range tokens {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{
				DocID:     docID,
				Ord:       ord,
				Positions: make([]int, 0, 4),
			}
			termData[token.Term] = p
			order = append(order, token.Term)
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}
	for _, term := range order {
		m.AddPosting(field, term, *termData[term])
	}
}

// AddPosting inserts a single posting, replacing any posting for the same
// ordinal.
func (m *MemoryIndex) AddPosting(field, term string, p Posting) {
	key := Key(field, term)
	list, exists := m.terms[key]
	if !exists {
		list = skiplist.New(skiplist.Uint32)
		m.terms[key] = list
		terms, ok := m.fieldTerms[field]
		if !ok {
			terms = make(map[string]struct{})
			m.fieldTerms[field] = terms
		}
		terms[term] = struct{}{}
	}
	list.Set(p.Ord, p)
	m.dirty[key] = struct{}{}
	m.size += int64(len(key) + len(p.DocID) + len(p.Positions)*8 + 64)
}

// Postings returns the current, unfrozen postings for a key ordered by
// document id.
func (m *MemoryIndex) Postings(field, term string) PostingList {
	list, ok := m.terms[Key(field, term)]
	if !ok {
		return nil
	}
	return materialize(list)
}

// Purge drops every posting whose ordinal is in tombstones and returns how
// many were removed.
func (m *MemoryIndex) Purge(tombstones *roaring.Bitmap) int {
	if tombstones.IsEmpty() {
		return 0
	}
	removed := 0
	for key, list := range m.terms {
		var dead []uint32
		for el := list.Front(); el != nil; el = el.Next() {
			ord := el.Key().(uint32)
			if tombstones.Contains(ord) {
				dead = append(dead, ord)
			}
		}
		if len(dead) == 0 {
			continue
		}
		for _, ord := range dead {
			if el := list.Remove(ord); el != nil {
				p := el.Value.(Posting)
				m.size -= int64(len(key) + len(p.DocID) + len(p.Positions)*8 + 64)
			}
		}
		removed += len(dead)
		m.dirty[key] = struct{}{}
		if list.Len() == 0 {
			delete(m.terms, key)
			field, term := SplitKey(key)
			delete(m.fieldTerms[field], term)
			if len(m.fieldTerms[field]) == 0 {
				delete(m.fieldTerms, field)
			}
		}
	}
	return removed
}

// Freeze builds the postings of the next snapshot. Keys untouched since the
// previous freeze share their slices with prev.
func (m *MemoryIndex) Freeze(prev *Snapshot) (map[string]PostingList, map[string][]string) {
	postings := make(map[string]PostingList, len(m.terms))
	for key, pl := range prev.postings {
		postings[key] = pl
	}
	fieldTerms := make(map[string][]string, len(m.fieldTerms))
	for field, terms := range prev.fieldTerms {
		fieldTerms[field] = terms
	}
	dirtyFields := make(map[string]struct{})
	for key := range m.dirty {
		field, _ := SplitKey(key)
		dirtyFields[field] = struct{}{}
		list, ok := m.terms[key]
		if !ok || list.Len() == 0 {
			delete(postings, key)
			continue
		}
		postings[key] = materialize(list)
	}
	for field := range dirtyFields {
		terms, ok := m.fieldTerms[field]
		if !ok {
			delete(fieldTerms, field)
			continue
		}
		sorted := make([]string, 0, len(terms))
		for term := range terms {
			sorted = append(sorted, term)
		}
		sort.Strings(sorted)
		fieldTerms[field] = sorted
	}
	m.dirty = make(map[string]struct{})
	return postings, fieldTerms
}

// Snapshot returns every entry sorted by field then term, for segment
// flushes.
func (m *MemoryIndex) Snapshot() []TermEntry {
	entries := make([]TermEntry, 0, len(m.terms))
	for key, list := range m.terms {
		field, term := SplitKey(key)
		entries = append(entries, TermEntry{
			Field:    field,
			Term:     term,
			Postings: materialize(list),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Field != entries[j].Field {
			return entries[i].Field < entries[j].Field
		}
		return entries[i].Term < entries[j].Term
	})
	return entries
}

// Load replaces the contents with entries read from a segment.
func (m *MemoryIndex) Load(entries []TermEntry) {
	m.Reset()
	for _, entry := range entries {
		for _, p := range entry.Postings {
			m.AddPosting(entry.Field, entry.Term, p)
		}
	}
}

func (m *MemoryIndex) Size() int64 {
	return m.size
}

func (m *MemoryIndex) TermCount() int {
	return len(m.terms)
}

func (m *MemoryIndex) Reset() {
	for key := range m.terms {
		m.dirty[key] = struct{}{}
	}
	m.terms = make(map[string]*skiplist.SkipList)
	m.fieldTerms = make(map[string]map[string]struct{})
	m.size = 0
}

func materialize(list *skiplist.SkipList) PostingList {
	result := make(PostingList, 0, list.Len())
	for el := list.Front(); el != nil; el = el.Next() {
		result = append(result, el.Value.(Posting))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return schema.CompareIDs(result[i].DocID, result[j].DocID) < 0
	})
	return result
}
