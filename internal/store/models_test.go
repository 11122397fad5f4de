package store

import (
	"reflect"
	"testing"
)

func TestParseCollection(t *testing.T) {
	if c, ok := ParseCollection(" Products "); !ok || c != Products {
		t.Fatalf("expected products, got %q %v", c, ok)
	}
	if _, ok := ParseCollection("orders"); ok {
		t.Fatal("expected unknown collection to be rejected")
	}
	if Categories.Singular() != "category" || Invoices.Singular() != "invoice" {
		t.Fatalf("unexpected singular names %q %q", Categories.Singular(), Invoices.Singular())
	}
}

func TestDocumentMergeKeepsID(t *testing.T) {
	doc := Document{"id": "pro-1", "name": "Tea", "price": 2.0}
	merged := doc.Merge(Document{"id": "pro-2", "price": 3.0})

	if merged.ID() != "pro-1" {
		t.Fatalf("expected id to stay pro-1, got %q", merged.ID())
	}
	if merged["price"] != 3.0 || merged["name"] != "Tea" {
		t.Fatalf("unexpected merge result %v", merged)
	}
	if doc["price"] != 2.0 {
		t.Fatal("merge must not modify the receiver")
	}
}

func TestSnapshotNormalizeAndClone(t *testing.T) {
	s := Snapshot{Products: {{"id": "pro-1"}}, Collection("orders"): {{"id": "ord-1"}}}
	normalized := s.Normalize()

	if len(normalized) != len(AllCollections) {
		t.Fatalf("expected %d collections, got %d", len(AllCollections), len(normalized))
	}
	if _, ok := normalized[Collection("orders")]; ok {
		t.Fatal("unknown collections must be dropped")
	}
	if normalized[Stores] == nil || len(normalized[Stores]) != 0 {
		t.Fatal("missing collections must be empty, not nil")
	}

	clone := normalized.Clone()
	clone[Products][0]["name"] = "changed"
	if _, changed := normalized[Products][0]["name"]; changed {
		t.Fatal("clone must not share documents")
	}
	if normalized.Count() != 1 {
		t.Fatalf("expected count 1, got %d", normalized.Count())
	}
}

func TestDecodeAndToDocument(t *testing.T) {
	doc := Document{"id": "pro-1", "name": "Tea", "price": 2.5, "categoryId": "cat-1", "image": ""}
	product, err := Decode[Product](doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if product.CategoryID != "cat-1" || product.Price != 2.5 {
		t.Fatalf("unexpected product %+v", product)
	}

	back, err := ToDocument(product)
	if err != nil {
		t.Fatalf("to document: %v", err)
	}
	want := Document{"id": "pro-1", "name": "Tea", "description": "", "price": 2.5, "image": "", "categoryId": "cat-1"}
	if !reflect.DeepEqual(back, want) {
		t.Fatalf("expected %v, got %v", want, back)
	}
}
