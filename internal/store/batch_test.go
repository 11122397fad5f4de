package store

import "testing"

func TestBatchApplyToSnapshot(t *testing.T) {
	start := NewSnapshot()
	start[Products] = []Document{
		{"id": "pro-1", "name": "Tea", "price": 2.0},
		{"id": "pro-2", "name": "Coffee", "price": 3.0},
	}
	start[Units] = []Document{{"id": "uni-1", "name": "kg"}}

	var b Batch
	b.Merge(Products, "pro-1", Document{"price": 2.5})
	b.Delete(Products, "pro-2")
	b.Set(Customers, Document{"id": "cus-1", "name": "Ada"})
	b.DeleteCollection(Units)

	out, err := b.ApplyToSnapshot(start)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(out[Products]) != 1 || out[Products][0]["price"] != 2.5 || out[Products][0]["name"] != "Tea" {
		t.Fatalf("unexpected products %v", out[Products])
	}
	if len(out[Customers]) != 1 || out[Customers][0].ID() != "cus-1" {
		t.Fatalf("unexpected customers %v", out[Customers])
	}
	if len(out[Units]) != 0 {
		t.Fatalf("expected units to be cleared, got %v", out[Units])
	}
	if len(start[Products]) != 2 || start[Products][0]["price"] != 2.0 {
		t.Fatal("input snapshot must not change")
	}
}

func TestBatchValidate(t *testing.T) {
	tests := []struct {
		name  string
		build func(*Batch)
	}{
		{name: "unknown collection", build: func(b *Batch) { b.DeleteCollection(Collection("orders")) }},
		{name: "set without id", build: func(b *Batch) { b.Set(Products, Document{"name": "Tea"}) }},
		{name: "delete without id", build: func(b *Batch) { b.Delete(Products, "") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var b Batch
			b.Set(Stores, Document{"id": "sto-1", "name": "Main"})
			tc.build(&b)
			if err := b.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
			if _, err := b.ApplyToSnapshot(NewSnapshot()); err == nil {
				t.Fatal("expected apply to refuse an invalid batch")
			}
		})
	}
}

func TestBatchOpsReturnsCopy(t *testing.T) {
	var b Batch
	b.Delete(Products, "pro-1")
	ops := b.Ops()
	ops[0].ID = "changed"
	if b.Ops()[0].ID != "pro-1" {
		t.Fatal("Ops must return a copy")
	}
	if b.Len() != 1 {
		t.Fatalf("expected 1 op, got %d", b.Len())
	}
}
