package store

import (
	"errors"
	"testing"
)

func TestInvoiceRecalculate(t *testing.T) {
	inv := Invoice{
		Status:   InvoicePending,
		Discount: 5,
		Tax:      2.5,
		Items: []LineItem{
			{ProductID: "pro-a", Quantity: 3, UnitPrice: 19.99},
			{ProductID: "pro-b", Quantity: 0.5, UnitPrice: 4},
		},
	}
	inv.Recalculate()

	if inv.Items[0].TotalPrice != 59.97 {
		t.Fatalf("expected first line 59.97, got %v", inv.Items[0].TotalPrice)
	}
	if inv.Items[1].TotalPrice != 2 {
		t.Fatalf("expected second line 2, got %v", inv.Items[1].TotalPrice)
	}
	if inv.Subtotal != 61.97 {
		t.Fatalf("expected subtotal 61.97, got %v", inv.Subtotal)
	}
	if inv.Total != 59.47 {
		t.Fatalf("expected total 59.47, got %v", inv.Total)
	}
	if err := inv.Validate(); err != nil {
		t.Fatalf("recalculated invoice should validate: %v", err)
	}
}

func TestInvoiceValidate(t *testing.T) {
	valid := func() Invoice {
		return Invoice{
			Status:   InvoicePaid,
			Date:     "2023-10-26",
			DueDate:  "2023-11-26T00:00:00Z",
			Items:    []LineItem{{Quantity: 2, UnitPrice: 10, TotalPrice: 20}},
			Subtotal: 20,
			Discount: 1,
			Tax:      0.5,
			Total:    19.5,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Invoice)
		ok     bool
	}{
		{name: "valid", mutate: func(*Invoice) {}, ok: true},
		{name: "within tolerance", mutate: func(inv *Invoice) { inv.Total = 19.505 }, ok: true},
		{name: "unknown status", mutate: func(inv *Invoice) { inv.Status = "Draft" }},
		{name: "zero quantity", mutate: func(inv *Invoice) { inv.Items[0].Quantity = 0 }},
		{name: "negative unit price", mutate: func(inv *Invoice) { inv.Items[0].UnitPrice = -1 }},
		{name: "line total mismatch", mutate: func(inv *Invoice) { inv.Items[0].TotalPrice = 21 }},
		{name: "subtotal mismatch", mutate: func(inv *Invoice) { inv.Subtotal = 25 }},
		{name: "total mismatch", mutate: func(inv *Invoice) { inv.Total = 20 }},
		{name: "negative discount", mutate: func(inv *Invoice) { inv.Discount = -1; inv.Total = 21.5 }},
		{name: "bad date", mutate: func(inv *Invoice) { inv.Date = "26/10/2023" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inv := valid()
			tc.mutate(&inv)
			err := inv.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid invoice, got %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrInvalidRecord) {
					t.Fatalf("expected ErrInvalidRecord, got %v", err)
				}
			}
		})
	}
}

func TestPrepareDocumentDerivesInvoiceAmounts(t *testing.T) {
	doc := Document{
		"customerId":   "cus-1",
		"customerName": "Ada",
		"date":         "2023-10-26",
		"items": []any{
			map[string]any{"productId": "pro-1", "productName": "Tea", "quantity": 2, "unitPrice": 3.25},
		},
		"tax":   0.5,
		"notes": "kept as is",
	}

	out, err := PrepareDocument(Invoices, doc)
	if err != nil {
		t.Fatalf("prepare invoice: %v", err)
	}
	if out["status"] != string(InvoicePending) {
		t.Fatalf("expected default status Pending, got %v", out["status"])
	}
	if out["subtotal"] != 6.5 || out["total"] != 7.0 {
		t.Fatalf("unexpected amounts subtotal=%v total=%v", out["subtotal"], out["total"])
	}
	if out["notes"] != "kept as is" {
		t.Fatalf("expected unknown fields to be kept, got %v", out["notes"])
	}
	if _, hasID := out["id"]; hasID {
		t.Fatal("prepare must not invent an id")
	}
}

func TestPrepareDocumentRejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name       string
		collection Collection
		doc        Document
	}{
		{name: "product without name", collection: Products, doc: Document{"price": 1}},
		{name: "negative product price", collection: Products, doc: Document{"name": "Tea", "price": -2}},
		{name: "product price of wrong type", collection: Products, doc: Document{"name": "Tea", "price": "free"}},
		{name: "category without name", collection: Categories, doc: Document{"storeId": "sto-1"}},
		{name: "blank customer name", collection: Customers, doc: Document{"name": "  "}},
		{name: "invoice with bad status", collection: Invoices, doc: Document{"status": "Lost"}},
		{name: "unknown collection", collection: Collection("orders"), doc: Document{"name": "x"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := PrepareDocument(tc.collection, tc.doc); !errors.Is(err, ErrInvalidRecord) {
				t.Fatalf("expected ErrInvalidRecord, got %v", err)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	for _, value := range []string{"2023-10-26", "2023-10-26T10:00:00", "2023-10-26T10:00:00Z", "2023-10-26T10:00:00.123+02:00"} {
		if _, err := ParseDate(value); err != nil {
			t.Fatalf("expected %q to parse: %v", value, err)
		}
	}
	if _, err := ParseDate("yesterday"); err == nil {
		t.Fatal("expected error for non-date")
	}
}
