package index

import (
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer/analyzer"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	"github.com/RoaringBitmap/roaring/v2"
)

func freeze(m *MemoryIndex, prev *Snapshot, gen uint64, tombstones *roaring.Bitmap) *Snapshot {
	postings, fieldTerms := m.Freeze(prev)
	return NewSnapshot(gen, postings, fieldTerms, map[string]StoredDoc{}, tombstones.Clone())
}

func TestAddFieldFrequenciesAndPositions(t *testing.T) {
	m := NewMemoryIndex()
	m.AddField("title", analyzer.Tokenize("cat and cat and dog"), "1", 1)

	pl := m.Postings("title", "cat")
	if len(pl) != 1 {
		t.Fatalf("expected 1 posting, got %d", len(pl))
	}
	if pl[0].Frequency != 2 || pl[0].Positions[0] != 0 || pl[0].Positions[1] != 2 {
		t.Errorf("unexpected posting %+v", pl[0])
	}
	if m.Postings("title", "bird") != nil {
		t.Error("unknown term should have no postings")
	}
	if m.Postings("body", "cat") != nil {
		t.Error("postings are per field")
	}
}

func TestPostingsOrderedByDocID(t *testing.T) {
	m := NewMemoryIndex()
	m.AddField("title", analyzer.Tokenize("cat"), "10", 1)
	m.AddField("title", analyzer.Tokenize("cat"), "2", 2)
	m.AddField("title", analyzer.Tokenize("cat"), "1", 3)

	pl := m.Postings("title", "cat")
	got := []string{pl[0].DocID, pl[1].DocID, pl[2].DocID}
	if got[0] != "1" || got[1] != "2" || got[2] != "10" {
		t.Errorf("order = %v", got)
	}
}

func TestSnapshotFiltersTombstones(t *testing.T) {
	m := NewMemoryIndex()
	m.AddField("title", analyzer.Tokenize("cats in space"), "1", 1)
	m.AddField("title", analyzer.Tokenize("space cat"), "2", 2)

	tombstones := roaring.New()
	tombstones.Add(1)
	snap := freeze(m, EmptySnapshot(), 1, tombstones)

	pl := snap.Postings("title", "space")
	if len(pl) != 1 || pl[0].DocID != "2" {
		t.Fatalf("tombstoned posting visible: %+v", pl)
	}
	if len(snap.Postings("title", "cats")) != 0 {
		t.Error("expected no live postings for cats")
	}
	if !snap.Deleted(1) || snap.Deleted(2) {
		t.Error("Deleted is wrong")
	}
}

func TestPurgeAndFreezeDropEmptyTerms(t *testing.T) {
	m := NewMemoryIndex()
	m.AddField("title", analyzer.Tokenize("cats in space"), "1", 1)
	m.AddField("title", analyzer.Tokenize("space"), "2", 2)
	first := freeze(m, EmptySnapshot(), 1, roaring.New())

	tombstones := roaring.BitmapOf(1)
	if removed := m.Purge(tombstones); removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	second := freeze(m, first, 2, roaring.New())

	if len(second.Postings("title", "cats")) != 0 {
		t.Error("purged term still visible")
	}
	if terms := second.Terms("title"); len(terms) != 1 || terms[0] != "space" {
		t.Errorf("term dictionary = %v", terms)
	}
	if len(first.Postings("title", "cats")) != 1 {
		t.Error("older snapshot must not change")
	}
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	m := NewMemoryIndex()
	m.AddField("isbn", []analyzer.Token{{Term: "1234", Position: 0}}, "1", 1)
	m.AddField("title", analyzer.Tokenize("cats in space"), "1", 1)
	entries := m.Snapshot()
	if len(entries) != 4 || entries[0].Field != "isbn" {
		t.Fatalf("entries = %+v", entries)
	}

	loaded := NewMemoryIndex()
	loaded.Load(entries)
	if loaded.TermCount() != 4 {
		t.Errorf("term count = %d", loaded.TermCount())
	}
	if pl := loaded.Postings("title", "space"); len(pl) != 1 || pl[0].Positions[0] != 2 {
		t.Errorf("loaded postings = %+v", pl)
	}
}

func TestSnapshotDocs(t *testing.T) {
	docs := map[string]StoredDoc{
		"2":  {Ord: 2, Doc: schema.NewDocument("2", map[string]any{"title": "b"})},
		"10": {Ord: 3, Doc: schema.NewDocument("10", map[string]any{"title": "c"})},
		"1":  {Ord: 1, Doc: schema.NewDocument("1", map[string]any{"title": "a"})},
	}
	snap := NewSnapshot(4, map[string]PostingList{}, map[string][]string{}, docs, roaring.New())
	ids := snap.DocIDs()
	if ids[0] != "1" || ids[1] != "2" || ids[2] != "10" {
		t.Errorf("ids = %v", ids)
	}
	if v, ok := snap.FieldValue("2", "title"); !ok || v != "b" {
		t.Errorf("FieldValue = %v %v", v, ok)
	}
	if snap.Generation() != 4 || snap.DocCount() != 3 {
		t.Error("generation or count wrong")
	}
}
