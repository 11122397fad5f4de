package store

import (
	"errors"
	"testing"
)

func TestCheckReferences(t *testing.T) {
	s := NewSnapshot()
	s[Stores] = []Document{{"id": "sto-1", "name": "Main"}}
	s[Units] = []Document{{"id": "uni-1", "name": "kg"}}
	s[Categories] = []Document{
		{"id": "cat-1", "name": "Drinks", "storeId": "sto-1"},
		{"id": "cat-2", "name": "Tea", "parentId": "cat-1", "storeId": "sto-1"},
	}
	s[Products] = []Document{{"id": "pro-1", "name": "Green", "categoryId": "cat-2", "storeId": "sto-1", "unitId": "uni-1"}}

	if errs := CheckReferences(s); len(errs) != 0 {
		t.Fatalf("expected no reference errors, got %v", errs)
	}

	s[Products] = append(s[Products], Document{"id": "pro-2", "name": "Lost", "categoryId": "cat-9", "unitId": "uni-9"})
	errs := CheckReferences(s)
	if len(errs) != 2 {
		t.Fatalf("expected 2 reference errors, got %v", errs)
	}
	for _, refErr := range errs {
		if refErr.ID != "pro-2" {
			t.Fatalf("unexpected reference error %v", refErr)
		}
	}
}

func TestCheckReferencesRequiresProductCategory(t *testing.T) {
	s := NewSnapshot()
	s[Products] = []Document{{"id": "pro-1", "name": "Loose"}}

	errs := CheckReferences(s)
	if len(errs) != 1 || errs[0].Field != "categoryId" {
		t.Fatalf("expected missing categoryId error, got %v", errs)
	}
}

func TestCheckWrite(t *testing.T) {
	s := NewSnapshot()
	s[Stores] = []Document{{"id": "sto-1", "name": "Main"}}
	s[Categories] = []Document{{"id": "cat-1", "name": "Drinks", "storeId": "sto-1"}}

	tests := []struct {
		name       string
		collection Collection
		doc        Document
		fields     []string
		wantErr    bool
	}{
		{name: "resolved product", collection: Products, doc: Document{"name": "Tea", "categoryId": "cat-1", "storeId": "sto-1"}},
		{name: "unknown category", collection: Products, doc: Document{"name": "Tea", "categoryId": "cat-9"}, wantErr: true},
		{name: "missing category", collection: Products, doc: Document{"name": "Tea"}, wantErr: true},
		{name: "unknown store", collection: Categories, doc: Document{"name": "Tools", "storeId": "sto-9"}, wantErr: true},
		{name: "own parent", collection: Categories, doc: Document{"id": "cat-1", "name": "Drinks", "parentId": "cat-1"}, wantErr: true},
		{name: "untouched stale key", collection: Products, doc: Document{"id": "pro-1", "categoryId": "cat-9", "price": 2.0}, fields: []string{"price"}},
		{name: "touched stale key", collection: Products, doc: Document{"id": "pro-1", "categoryId": "cat-9"}, fields: []string{"categoryId"}, wantErr: true},
		{name: "invoice customer not checked", collection: Invoices, doc: Document{"customerId": "cus-gone"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckWrite(s, tc.collection, tc.doc, tc.fields...)
			if tc.wantErr && !errors.Is(err, ErrInvalidRecord) {
				t.Fatalf("expected ErrInvalidRecord, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}
