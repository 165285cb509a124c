package index

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	"github.com/RoaringBitmap/roaring/v2"
)

// StoredDoc is a live document version visible in a snapshot.
type StoredDoc struct {
	Ord uint32
	Doc schema.Document
}

// Snapshot is an immutable, consistent view of a collection as of one
// generation. All methods are safe for concurrent use.
type Snapshot struct {
	generation uint64
	postings   map[string]PostingList
	fieldTerms map[string][]string
	docs       map[string]StoredDoc
	ids        []string
	tombstones *roaring.Bitmap
}

// EmptySnapshot is generation zero: nothing visible.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		postings:   map[string]PostingList{},
		fieldTerms: map[string][]string{},
		docs:       map[string]StoredDoc{},
		tombstones: roaring.New(),
	}
}

// NewSnapshot assembles a snapshot. The caller hands over ownership of every
// argument.
func NewSnapshot(
	generation uint64,
	postings map[string]PostingList,
	fieldTerms map[string][]string,
	docs map[string]StoredDoc,
	tombstones *roaring.Bitmap,
) *Snapshot {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return schema.CompareIDs(ids[i], ids[j]) < 0
	})
	return &Snapshot{
		generation: generation,
		postings:   postings,
		fieldTerms: fieldTerms,
		docs:       docs,
		ids:        ids,
		tombstones: tombstones,
	}
}

func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// Postings returns the live postings for (field, term) ordered by document id.
// The returned slice must not be modified.
func (s *Snapshot) Postings(field, term string) PostingList {
	pl := s.postings[Key(field, term)]
	if len(pl) == 0 || s.tombstones.IsEmpty() {
		return pl
	}
	live := pl
	for i, p := range pl {
		if !s.tombstones.Contains(p.Ord) {
			continue
		}
		// copy on first dead posting only
		live = make(PostingList, i, len(pl))
		copy(live, pl[:i])
		for _, rest := range pl[i+1:] {
			if !s.tombstones.Contains(rest.Ord) {
				live = append(live, rest)
			}
		}
		break
	}
	return live
}

// Terms returns the sorted term dictionary of a field, including terms whose
// only postings are tombstoned.
func (s *Snapshot) Terms(field string) []string {
	return s.fieldTerms[field]
}

// Document returns the live version of id.
func (s *Snapshot) Document(id string) (schema.Document, bool) {
	sd, ok := s.docs[id]
	return sd.Doc, ok
}

// FieldValue returns the stored value of a field of a live document.
func (s *Snapshot) FieldValue(id, field string) (any, bool) {
	sd, ok := s.docs[id]
	if !ok {
		return nil, false
	}
	v, ok := sd.Doc.Fields[field]
	return v, ok
}

// DocIDs returns every live id in ascending order.
func (s *Snapshot) DocIDs() []string {
	return s.ids
}

func (s *Snapshot) DocCount() int {
	return len(s.docs)
}

func (s *Snapshot) TermCount() int {
	return len(s.postings)
}

// Deleted reports whether the ordinal belongs to a tombstoned version.
func (s *Snapshot) Deleted(ord uint32) bool {
	return s.tombstones.Contains(ord)
}

// TombstoneCount is the number of dead versions not yet compacted away.
func (s *Snapshot) TombstoneCount() uint64 {
	return s.tombstones.GetCardinality()
}
