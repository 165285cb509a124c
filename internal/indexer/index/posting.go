package index

import "strings"

// Posting records one document version's occurrences of a term in a field.
type Posting struct {
	DocID     string `json:"id"`
	Ord       uint32 `json:"o"`
	Frequency int    `json:"f"`
	Positions []int  `json:"p"`
}

type PostingList []Posting

// TermEntry is one (field, term) key with its postings, as written to a
// segment file.
type TermEntry struct {
	Field    string      `json:"field"`
	Term     string      `json:"term"`
	Postings PostingList `json:"postings"`
}

const keySep = "\x00"

// Key joins field and term into the map key used by the term table.
func Key(field, term string) string {
	return field + keySep + term
}

// SplitKey reverses Key.
func SplitKey(key string) (field, term string) {
	field, term, _ = strings.Cut(key, keySep)
	return field, term
}
