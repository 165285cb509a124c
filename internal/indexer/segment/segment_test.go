package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer/analyzer"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer/index"
)

func sampleEntries() []index.TermEntry {
	m := index.NewMemoryIndex()
	m.AddField("title", analyzer.Tokenize("cats in space"), "1", 1)
	m.AddField("title", analyzer.Tokenize("Walking in space with a cat named Zorro"), "2", 2)
	m.AddField("isbn", []analyzer.Token{{Term: "1234"}}, "1", 1)
	return m.Snapshot()
}

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	name, err := w.Write(7, sampleEntries())
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if name != Name(7) {
		t.Errorf("name = %s", name)
	}

	r, err := OpenReader(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	if r.Generation() != 7 || r.DocCount() != 2 {
		t.Errorf("generation=%d docs=%d", r.Generation(), r.DocCount())
	}
	pl, err := r.Search("title", "space")
	if err != nil {
		t.Fatal(err)
	}
	if len(pl) != 2 || pl[0].DocID != "1" || pl[1].Positions[0] != 2 {
		t.Errorf("postings = %+v", pl)
	}
	if pl, _ := r.Search("isbn", "123"); pl != nil {
		t.Error("partial keyword must not be found")
	}
	if pl, _ := r.Search("isbn", "1234"); len(pl) != 1 {
		t.Error("keyword lookup failed")
	}

	entries, err := r.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != r.Terms() {
		t.Errorf("entries=%d terms=%d", len(entries), r.Terms())
	}
}

func TestCorruptDictionaryRejected(t *testing.T) {
	dir := t.TempDir()
	name, err := NewWriter(dir).Write(1, sampleEntries())
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	r, err := OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	dictOffset := r.header.DictOffset
	r.Close()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte("X"), dictOffset+2); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := OpenReader(path); err == nil {
		t.Fatal("expected checksum error")
	}
}

func TestCorruptHeaderRejected(t *testing.T) {
	dir := t.TempDir()
	name, err := NewWriter(dir).Write(1, sampleEntries())
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	r, err := OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	good := r.header
	r.Close()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(h *SegmentHeader)
	}{
		{"negative dictionary size", func(h *SegmentHeader) { h.DictSize = -1 }},
		{"huge dictionary size", func(h *SegmentHeader) { h.DictSize = 1 << 62 }},
		{"dictionary past end", func(h *SegmentHeader) { h.DictOffset = info.Size() }},
		{"dictionary inside header", func(h *SegmentHeader) { h.DictOffset = 3 }},
		{"negative postings size", func(h *SegmentHeader) { h.PostSize = -5 }},
		{"postings overlap dictionary", func(h *SegmentHeader) { h.PostSize = h.DictOffset }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := good
			tt.mutate(&h)
			b := make([]byte, HeaderSize)
			encodeHeader(b, h)
			f, err := os.OpenFile(path, os.O_RDWR, 0)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := f.WriteAt(b, 0); err != nil {
				t.Fatal(err)
			}
			f.Close()

			if r, err := OpenReader(path); err == nil {
				r.Close()
				t.Fatal("expected header error")
			}
		})
	}
}

func TestPostingsOutsideRegionRejected(t *testing.T) {
	dir := t.TempDir()
	name, err := NewWriter(dir).Write(1, sampleEntries())
	if err != nil {
		t.Fatal(err)
	}
	r, err := OpenReader(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	for _, entry := range []DictEntry{
		{Field: "title", Term: "x", PostOffset: 0, PostLen: -1},
		{Field: "title", Term: "x", PostOffset: -8, PostLen: 4},
		{Field: "title", Term: "x", PostOffset: r.header.PostSize, PostLen: 1},
	} {
		if _, err := r.readPostings(entry); err == nil {
			t.Errorf("readPostings(%+v) succeeded", entry)
		}
	}
}

func TestLatestAndPrune(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	for _, gen := range []uint64{3, 12, 5} {
		if _, err := w.Write(gen, sampleEntries()); err != nil {
			t.Fatal(err)
		}
	}
	latest, err := Latest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(latest) != Name(12) {
		t.Errorf("latest = %s", latest)
	}
	removed, err := Prune(dir, Name(12))
	if err != nil || removed != 2 {
		t.Errorf("removed=%d err=%v", removed, err)
	}
	if empty, _ := Latest(t.TempDir()); empty != "" {
		t.Errorf("empty dir latest = %q", empty)
	}
}
