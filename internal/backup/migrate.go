package backup

import (
	"fmt"

	"tillbook/api/internal/store"
	"tillbook/api/internal/util"
)

// Migrate parses raw and returns it in the current shape. Running it on its
// own output changes nothing.
func Migrate(raw []byte) (Normalized, error) {
	payload, err := Parse(raw)
	if err != nil {
		return Normalized{}, err
	}
	return payload.Normalize(), nil
}

// StoreID is the id given to the store that replaces a placeholder category.
func StoreID(categoryID string) string {
	return util.Prefix(string(store.Stores)) + "-" + util.Suffix(categoryID)
}

// Normalize moves placeholder store metadata into real stores and rewrites
// every reference to a placeholder. A placeholder that some product uses as
// its category stays as a category of the new store; the others are dropped.
func (l Legacy) Normalize() Normalized {
	base := l.Normalized.Normalize()

	storeFor := make(map[string]string, len(l.Placeholders))
	existing := make(map[string]struct{}, len(base.Stores))
	for _, doc := range base.Stores {
		existing[doc.ID()] = struct{}{}
	}
	// store id -> placeholder category that produced it
	claimed := make(map[string]string, len(l.Placeholders))
	stores := cloneAll(base.Stores)
	for _, p := range l.Placeholders {
		if _, done := storeFor[p.CategoryID]; done {
			continue
		}
		id := placeholderStoreID(p.CategoryID, claimed)
		claimed[id] = p.CategoryID
		storeFor[p.CategoryID] = id
		if _, ok := existing[id]; ok {
			continue
		}
		existing[id] = struct{}{}
		doc := store.Document{
			"id":      id,
			"name":    p.Store.Name,
			"address": p.Store.Address,
			"phone":   p.Store.Phone,
		}
		if p.Store.Logo != "" {
			doc["logo"] = p.Store.Logo
		}
		stores = append(stores, doc)
	}

	usedAsCategory := make(map[string]struct{})
	for _, doc := range base.Products {
		if id := doc.String("categoryId"); id != "" {
			usedAsCategory[id] = struct{}{}
		}
	}
	dropped := func(categoryID string) bool {
		if _, placeholder := storeFor[categoryID]; !placeholder {
			return false
		}
		_, used := usedAsCategory[categoryID]
		return !used
	}

	categories := make([]store.Document, 0, len(base.Categories))
	for _, doc := range base.Categories {
		id := doc.ID()
		if dropped(id) {
			continue
		}
		out := doc.Clone()
		storeName := out.String("storeName")
		for _, field := range legacyStoreFields {
			delete(out, field)
		}
		if mapped, placeholder := storeFor[id]; placeholder {
			out["storeId"] = mapped
			if !out.Has("name") {
				out["name"] = storeName
			}
		}
		rewriteStoreRef(out, storeFor)
		if parent := out.String("parentId"); parent != "" && dropped(parent) {
			delete(out, "parentId")
			if !out.Has("storeId") {
				out["storeId"] = storeFor[parent]
			}
		}
		categories = append(categories, out)
	}

	products := make([]store.Document, 0, len(base.Products))
	for _, doc := range base.Products {
		out := doc.Clone()
		rewriteStoreRef(out, storeFor)
		if mapped, placeholder := storeFor[out.String("categoryId")]; placeholder && !out.Has("storeId") {
			out["storeId"] = mapped
		}
		products = append(products, out)
	}

	return Normalized{
		Stores:     stores,
		Categories: categories,
		Products:   products,
		Customers:  base.Customers,
		Invoices:   base.Invoices,
		Units:      base.Units,
	}
}

// placeholderStoreID is StoreID unless another placeholder already took that
// id (cat-7 and legacy-7 share a suffix); then the whole category id is used.
func placeholderStoreID(categoryID string, claimed map[string]string) string {
	id := StoreID(categoryID)
	if _, taken := claimed[id]; !taken {
		return id
	}
	base := util.Prefix(string(store.Stores)) + "-" + categoryID
	id = base
	for n := 2; ; n++ {
		if _, taken := claimed[id]; !taken {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

func rewriteStoreRef(doc store.Document, storeFor map[string]string) {
	if mapped, ok := storeFor[doc.String("storeId")]; ok {
		doc["storeId"] = mapped
	}
}

func cloneAll(docs []store.Document) []store.Document {
	out := make([]store.Document, len(docs))
	for i, doc := range docs {
		out[i] = doc.Clone()
	}
	return out
}
