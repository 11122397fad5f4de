package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Collection names one of the six per-user record sets.
type Collection string

const (
	Stores     Collection = "stores"
	Categories Collection = "categories"
	Products   Collection = "products"
	Customers  Collection = "customers"
	Invoices   Collection = "invoices"
	Units      Collection = "units"
)

// AllCollections lists every collection in dependency order: referenced
// collections come before the ones that reference them.
var AllCollections = []Collection{Stores, Units, Categories, Products, Customers, Invoices}

func ParseCollection(name string) (Collection, bool) {
	candidate := Collection(strings.ToLower(strings.TrimSpace(name)))
	for _, c := range AllCollections {
		if c == candidate {
			return c, true
		}
	}
	return "", false
}

// Singular names one record of the collection, for messages.
func (c Collection) Singular() string {
	switch c {
	case Categories:
		return "category"
	case Units:
		return "unit"
	default:
		return strings.TrimSuffix(string(c), "s")
	}
}

// Document is a single record as it travels through the local slot, the
// remote document store and backup payloads.
type Document map[string]any

func (d Document) ID() string {
	return d.String("id")
}

func (d Document) String(key string) string {
	value, _ := d[key].(string)
	return value
}

// Has reports whether key is present with a non-null, non-empty value.
func (d Document) Has(key string) bool {
	value, ok := d[key]
	if !ok || value == nil {
		return false
	}
	if s, isString := value.(string); isString {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Clone returns a shallow copy.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge returns a copy of d with the keys of partial applied on top. The id
// field is never overwritten.
func (d Document) Merge(partial Document) Document {
	out := d.Clone()
	for k, v := range partial {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

// Keys returns the field names in sorted order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot is the full state of all collections for one user.
type Snapshot map[Collection][]Document

// NewSnapshot returns a snapshot with every collection present and empty.
func NewSnapshot() Snapshot {
	s := make(Snapshot, len(AllCollections))
	for _, c := range AllCollections {
		s[c] = []Document{}
	}
	return s
}

// Normalize fills in missing collections and drops unknown ones.
func (s Snapshot) Normalize() Snapshot {
	out := NewSnapshot()
	for _, c := range AllCollections {
		if docs := s[c]; docs != nil {
			out[c] = docs
		}
	}
	return out
}

// Clone copies the collection slices and every document in them.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for c, docs := range s {
		copied := make([]Document, len(docs))
		for i, doc := range docs {
			copied[i] = doc.Clone()
		}
		out[c] = copied
	}
	return out
}

func (s Snapshot) Count() int {
	total := 0
	for _, docs := range s {
		total += len(docs)
	}
	return total
}

type Store struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Logo    string `json:"logo,omitempty"`
}

type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
	StoreID  string `json:"storeId,omitempty"`
}

type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Image       string  `json:"image"`
	CategoryID  string  `json:"categoryId"`
	StoreID     string  `json:"storeId,omitempty"`
	UnitID      string  `json:"unitId,omitempty"`
}

type Customer struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Address         string `json:"address"`
	PurchaseHistory string `json:"purchaseHistory"`
}

type Unit struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Decode converts a document into its typed form.
func Decode[T any](doc Document) (T, error) {
	var out T
	raw, err := json.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

// ToDocument converts a typed record into a document.
func ToDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return doc, nil
}

func (p Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: product name is required", ErrInvalidRecord)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: product price must be non-negative", ErrInvalidRecord)
	}
	return nil
}
