// Package backup reads and writes backup payloads: one JSON object with an
// optional array per collection. Older payloads kept store metadata inside
// category records; Parse tells the two shapes apart and Migrate rewrites
// the old one.
package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"tillbook/api/internal/store"
)

var ErrInvalidPayload = errors.New("invalid backup payload")

// legacyStoreFields are the category keys that carried store metadata.
var legacyStoreFields = []string{"storeName", "storeAddress", "storePhone", "storeLogo"}

// Payload is either Normalized or Legacy.
type Payload interface {
	Normalize() Normalized
}

// Normalized is the current backup shape. Every collection is present after
// Normalize, possibly empty.
type Normalized struct {
	Stores     []store.Document `json:"stores"`
	Categories []store.Document `json:"categories"`
	Products   []store.Document `json:"products"`
	Customers  []store.Document `json:"customers"`
	Invoices   []store.Document `json:"invoices"`
	Units      []store.Document `json:"units"`
}

// Legacy is a payload where some categories are store placeholders. The
// embedded Normalized holds every record as read, placeholders included.
type Legacy struct {
	Normalized
	Placeholders []Placeholder
}

// Placeholder is a category that stood in for a store.
type Placeholder struct {
	CategoryID string
	Store      store.Store
}

func (n Normalized) Normalize() Normalized {
	return Normalized{
		Stores:     orEmpty(n.Stores),
		Categories: orEmpty(n.Categories),
		Products:   orEmpty(n.Products),
		Customers:  orEmpty(n.Customers),
		Invoices:   orEmpty(n.Invoices),
		Units:      orEmpty(n.Units),
	}
}

func orEmpty(docs []store.Document) []store.Document {
	if docs == nil {
		return []store.Document{}
	}
	return docs
}

func (n Normalized) collection(c store.Collection) []store.Document {
	switch c {
	case store.Stores:
		return n.Stores
	case store.Categories:
		return n.Categories
	case store.Products:
		return n.Products
	case store.Customers:
		return n.Customers
	case store.Invoices:
		return n.Invoices
	case store.Units:
		return n.Units
	}
	return nil
}

// Snapshot converts the payload into a store snapshot.
func (n Normalized) Snapshot() store.Snapshot {
	s := store.NewSnapshot()
	for _, c := range store.AllCollections {
		if docs := n.collection(c); docs != nil {
			s[c] = docs
		}
	}
	return s
}

// FromSnapshot builds an export payload from a snapshot.
func FromSnapshot(s store.Snapshot) Normalized {
	s = s.Normalize()
	return Normalized{
		Stores:     s[store.Stores],
		Categories: s[store.Categories],
		Products:   s[store.Products],
		Customers:  s[store.Customers],
		Invoices:   s[store.Invoices],
		Units:      s[store.Units],
	}
}

func (n Normalized) Marshal() ([]byte, error) {
	raw, err := json.MarshalIndent(n.Normalize(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	return raw, nil
}

type rawPayload struct {
	Stores     []json.RawMessage `json:"stores"`
	Categories []json.RawMessage `json:"categories"`
	Products   []json.RawMessage `json:"products"`
	Customers  []json.RawMessage `json:"customers"`
	Invoices   []json.RawMessage `json:"invoices"`
	Units      []json.RawMessage `json:"units"`
}

// Parse decodes raw into its shape. Categories are read against the current
// shape first; if any of them carries store metadata the payload is re-read
// as Legacy.
func Parse(raw []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidPayload)
	}
	var in rawPayload
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var (
		out Normalized
		err error
	)
	for _, part := range []struct {
		collection store.Collection
		raw        []json.RawMessage
		dst        *[]store.Document
	}{
		{store.Stores, in.Stores, &out.Stores},
		{store.Products, in.Products, &out.Products},
		{store.Customers, in.Customers, &out.Customers},
		{store.Invoices, in.Invoices, &out.Invoices},
		{store.Units, in.Units, &out.Units},
	} {
		if *part.dst, err = decodeRecords(part.collection, part.raw); err != nil {
			return nil, err
		}
	}

	categories, strictErr := parseCategories(in.Categories)
	if strictErr == nil {
		out.Categories = categories
		return out.Normalize(), nil
	}
	if !errors.Is(strictErr, errLegacyCategory) {
		return nil, strictErr
	}
	return parseLegacy(out, in.Categories)
}

var errLegacyCategory = errors.New("category carries store metadata")

// parseCategories accepts only categories in the current shape.
func parseCategories(raw []json.RawMessage) ([]store.Document, error) {
	docs, err := decodeRecords(store.Categories, raw)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if isPlaceholder(doc) {
			return nil, fmt.Errorf("category %s: %w", doc.ID(), errLegacyCategory)
		}
	}
	return docs, nil
}

func parseLegacy(out Normalized, raw []json.RawMessage) (Payload, error) {
	docs, err := decodeRecords(store.Categories, raw)
	if err != nil {
		return nil, err
	}
	legacy := Legacy{Normalized: out}
	legacy.Categories = docs
	for _, doc := range docs {
		if !isPlaceholder(doc) {
			continue
		}
		legacy.Placeholders = append(legacy.Placeholders, Placeholder{
			CategoryID: doc.ID(),
			Store: store.Store{
				Name:    doc.String("storeName"),
				Address: doc.String("storeAddress"),
				Phone:   doc.String("storePhone"),
				Logo:    doc.String("storeLogo"),
			},
		})
	}
	legacy.Normalized = legacy.Normalized.Normalize()
	return legacy, nil
}

func isPlaceholder(doc store.Document) bool {
	for _, field := range legacyStoreFields {
		if value, ok := doc[field]; ok && value != nil {
			return true
		}
	}
	return false
}

func decodeRecords(c store.Collection, raw []json.RawMessage) ([]store.Document, error) {
	docs := make([]store.Document, 0, len(raw))
	for i, item := range raw {
		var doc store.Document
		if err := json.Unmarshal(item, &doc); err != nil || doc == nil {
			return nil, fmt.Errorf("%w: %s[%d] is not an object", ErrInvalidPayload, c, i)
		}
		if doc.ID() == "" {
			return nil, fmt.Errorf("%w: %s[%d] has no id", ErrInvalidPayload, c, i)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
