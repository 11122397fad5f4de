package export

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tillbook/api/internal/store"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"INV 2024-001", "INV-2024-001"},
		{"Invoice #42/b", "Invoice-42b"},
		{"", "invoice"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderInvoiceHTML(t *testing.T) {
	html, err := RenderInvoiceHTML(InvoiceData{
		Invoice: sampleInvoice(),
		Store:   &store.Store{Name: "Corner Shop", Address: "1 High St", Logo: "javascript:alert(1)"},
		Locale:  "en-US",
	})
	if err != nil {
		t.Fatalf("RenderInvoiceHTML() error = %v", err)
	}

	for _, want := range []string{
		"Invoice INV-2024-007",
		"Corner Shop",
		"3/5/2024",
		"4/4/2024",
		"Coffee Beans",
		"25.00",
		"4.20",
		"29.20",
		"-1.00",
		"30.66",
		"Pending",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "<Lovelace>") {
		t.Error("customer name should be escaped")
	}
	if strings.Contains(html, "javascript:") {
		t.Error("unsafe logo url should be dropped")
	}
}

func TestRenderInvoiceHTMLWithoutStore(t *testing.T) {
	html, err := RenderInvoiceHTML(InvoiceData{Invoice: sampleInvoice(), Locale: "de-DE"})
	if err != nil {
		t.Fatalf("RenderInvoiceHTML() error = %v", err)
	}
	if !strings.Contains(html, "5.3.2024") {
		t.Error("date should use the de-DE layout")
	}
}

func TestInvoicePDF(t *testing.T) {
	var rendered string
	svc := NewService("", nil, WithPDFRenderer(func(_ context.Context, html string) ([]byte, error) {
		rendered = html
		return []byte("%PDF-1.7"), nil
	}))

	res, err := svc.InvoicePDF(context.Background(), sampleInvoice(), nil)
	if err != nil {
		t.Fatalf("InvoicePDF() error = %v", err)
	}
	if res.Filename != "invoice-INV-2024-007.pdf" {
		t.Errorf("Filename = %q", res.Filename)
	}
	if res.MimeType != "application/pdf" || string(res.Data) != "%PDF-1.7" {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.Contains(rendered, "INV-2024-007") {
		t.Error("renderer did not receive invoice html")
	}
}

func TestInvoicePDFMissingChrome(t *testing.T) {
	svc := NewService("en-US", nil)
	svc.pdf = func(context.Context, string) ([]byte, error) {
		return nil, ErrPDFDependencyMissing
	}

	_, err := svc.InvoicePDF(context.Background(), sampleInvoice(), nil)
	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}

func TestDateLayoutFallsBack(t *testing.T) {
	if got := DateLayout("xx-XX"); got != "1/2/2006" {
		t.Errorf("DateLayout(unknown) = %q", got)
	}
	if got := DateLayout("en-GB"); got != "02/01/2006" {
		t.Errorf("DateLayout(en-GB) = %q", got)
	}
}

func sampleInvoice() store.Invoice {
	return store.Invoice{
		ID:            "inv-a1b2c3d4e",
		InvoiceNumber: "INV-2024-007",
		CustomerID:    "cus-k2m4n6p8q",
		CustomerName:  "Ada <Lovelace>",
		CustomerEmail: "ada@example.com",
		Date:          "2024-03-05",
		DueDate:       "2024-04-04",
		Status:        store.InvoicePending,
		Items: []store.LineItem{
			{ProductID: "pro-c0ffee001", ProductName: "Coffee Beans", Quantity: 2, UnitPrice: 12.5, TotalPrice: 25},
			{ProductID: "pro-m1lk00002", ProductName: "Oat Milk", Quantity: 1, UnitPrice: 4.2, TotalPrice: 4.2},
		},
		Subtotal: 29.2,
		Discount: 1,
		Tax:      2.46,
		Total:    30.66,
	}
}
