package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer/index"
)

type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []DictEntry
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		f.Close()
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if err := header.check(info.Size()); err != nil {
		f.Close()
		return nil, fmt.Errorf("segment %s: %w", filepath.Base(path), err)
	}
	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DictOffset+header.DictSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	if want := binary.LittleEndian.Uint32(footer[0:4]); crc32.ChecksumIEEE(dictBytes) != want {
		f.Close()
		return nil, fmt.Errorf("segment %s: dictionary checksum mismatch", filepath.Base(path))
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		f.Close()
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
	}, nil
}

// Search returns the postings stored for (field, term), or nil.
func (r *Reader) Search(field, term string) (index.PostingList, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		if r.dict[i].Field != field {
			return r.dict[i].Field >= field
		}
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Field != field || r.dict[idx].Term != term {
		return nil, nil
	}
	return r.readPostings(r.dict[idx])
}

// Entries reads every term entry in dictionary order.
func (r *Reader) Entries() ([]index.TermEntry, error) {
	entries := make([]index.TermEntry, 0, len(r.dict))
	for _, d := range r.dict {
		postings, err := r.readPostings(d)
		if err != nil {
			return nil, err
		}
		entries = append(entries, index.TermEntry{
			Field:    d.Field,
			Term:     d.Term,
			Postings: postings,
		})
	}
	return entries, nil
}

// check bounds the header's regions by the file size. The header is not
// covered by the checksum, so nothing is allocated from it unchecked.
func (h SegmentHeader) check(size int64) error {
	headerSize, footerSize := int64(HeaderSize), int64(FooterSize)
	if h.DictOffset < headerSize || h.DictSize < 0 || h.DictSize > size ||
		h.DictOffset > size-footerSize-h.DictSize {
		return fmt.Errorf("dictionary region %d+%d outside file of %d bytes", h.DictOffset, h.DictSize, size)
	}
	if h.PostOffset < headerSize || h.PostSize < 0 || h.PostSize > h.DictOffset-h.PostOffset {
		return fmt.Errorf("postings region %d+%d overlaps dictionary at %d", h.PostOffset, h.PostSize, h.DictOffset)
	}
	return nil
}

func (r *Reader) readPostings(entry DictEntry) (index.PostingList, error) {
	if entry.PostOffset < 0 || entry.PostLen < 0 || int64(entry.PostLen) > r.header.PostSize-entry.PostOffset {
		return nil, fmt.Errorf("postings for %s:%s outside postings region", entry.Field, entry.Term)
	}
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings: %w", err)
	}
	return postings, nil
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Generation() uint64 {
	return r.header.Generation
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// Latest returns the path of the newest segment in dir, or "" when there is
// none.
func Latest(dir string) (string, error) {
	names, err := list(dir)
	if err != nil || len(names) == 0 {
		return "", err
	}
	return filepath.Join(dir, names[len(names)-1]), nil
}

// Prune removes every segment in dir except keep.
func Prune(dir, keep string) (int, error) {
	names, err := list(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range names {
		if name == keep {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, fmt.Errorf("removing segment %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

func list(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading segment directory: %w", err)
	}
	names := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), Extension) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
