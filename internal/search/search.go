// Package search finds a user's products, customers and invoices.
// Meilisearch is used when reachable; Postgres full-text search over the
// documents table is the fallback.
package search

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"tillbook/api/internal/store"
)

// ResultType identifies the kind of record in a search result.
type ResultType string

const (
	ResultProduct  ResultType = "product"
	ResultCustomer ResultType = "customer"
	ResultInvoice  ResultType = "invoice"
)

var resultCollections = map[ResultType]store.Collection{
	ResultProduct:  store.Products,
	ResultCustomer: store.Customers,
	ResultInvoice:  store.Invoices,
}

// ParseResultType accepts a singular type or its collection name.
func ParseResultType(s string) (ResultType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for rt, c := range resultCollections {
		if s == string(rt) || s == string(c) {
			return rt, true
		}
	}
	return "", false
}

func resultTypeOf(c store.Collection) (ResultType, bool) {
	for rt, rc := range resultCollections {
		if rc == c {
			return rt, true
		}
	}
	return "", false
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// Query describes a search request. UserID is required.
type Query struct {
	UserID     string
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	if q.Limit > 100 {
		return 100
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push records into a search index.
type Indexer interface {
	Searcher
	IndexRecords(records []Record) error
	DeleteRecords(keys []string) error
}

// Record is the data we index for one product, customer or invoice.
type Record struct {
	Key    string     `json:"key"`
	UserID string     `json:"userId"`
	Type   ResultType `json:"type"`
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Body   string     `json:"body"`
}

// RecordKey is the index primary key for a user's record. Index keys only
// allow a narrow alphabet, so it is derived rather than concatenated.
func RecordKey(userID string, c store.Collection, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(userID+"/"+string(c)+"/"+id)).String()
}

// RecordFromDocument builds the index record for doc. ok is false for
// collections that are not searched.
func RecordFromDocument(userID string, c store.Collection, doc store.Document) (Record, bool) {
	rt, ok := resultTypeOf(c)
	if !ok || doc.ID() == "" {
		return Record{}, false
	}
	r := Record{
		Key:    RecordKey(userID, c, doc.ID()),
		UserID: userID,
		Type:   rt,
		ID:     doc.ID(),
	}
	switch rt {
	case ResultProduct:
		r.Title = doc.String("name")
		r.Body = doc.String("description")
	case ResultCustomer:
		r.Title = doc.String("name")
		r.Body = joinNonBlank(doc.String("email"), doc.String("phone"))
	case ResultInvoice:
		r.Title = doc.String("invoiceNumber")
		r.Body = joinNonBlank(doc.String("customerName"), doc.String("description"))
	}
	return r, true
}

func joinNonBlank(values ...string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " - ")
}
