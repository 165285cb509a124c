package query

// Request is one search against a collection. Size 0 returns every hit.
type Request struct {
	Query Query
	From  int
	Size  int
}
