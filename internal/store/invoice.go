package store

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidRecord = errors.New("invalid record")

// AmountTolerance is the largest difference accepted between a stored amount
// and its recomputed value.
const AmountTolerance = 0.01

type InvoiceStatus string

const (
	InvoicePaid    InvoiceStatus = "Paid"
	InvoicePending InvoiceStatus = "Pending"
	InvoiceOverdue InvoiceStatus = "Overdue"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoicePaid, InvoicePending, InvoiceOverdue:
		return true
	default:
		return false
	}
}

// LineItem is owned by its invoice. ProductName is captured when the line is
// written and is not refreshed from the product afterwards.
type LineItem struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	TotalPrice  float64 `json:"totalPrice"`
}

// Invoice keeps a snapshot of the customer's name and email as they were when
// the invoice was created.
type Invoice struct {
	ID            string        `json:"id"`
	InvoiceNumber string        `json:"invoiceNumber"`
	CustomerID    string        `json:"customerId"`
	CustomerName  string        `json:"customerName"`
	CustomerEmail string        `json:"customerEmail"`
	Date          string        `json:"date"`
	DueDate       string        `json:"dueDate"`
	Status        InvoiceStatus `json:"status"`
	Items         []LineItem    `json:"items"`
	Subtotal      float64       `json:"subtotal"`
	Discount      float64       `json:"discount"`
	Tax           float64       `json:"tax"`
	Total         float64       `json:"total"`
	Description   string        `json:"description,omitempty"`
}

// Recalculate derives every line total, the subtotal and the total from
// quantities, unit prices, discount and tax. Amounts are rounded to cents.
func (inv *Invoice) Recalculate() {
	subtotal := decimal.Zero
	for i := range inv.Items {
		line := decimal.NewFromFloat(inv.Items[i].Quantity).
			Mul(decimal.NewFromFloat(inv.Items[i].UnitPrice)).
			Round(2)
		inv.Items[i].TotalPrice = line.InexactFloat64()
		subtotal = subtotal.Add(line)
	}
	total := subtotal.
		Sub(decimal.NewFromFloat(inv.Discount)).
		Add(decimal.NewFromFloat(inv.Tax)).
		Round(2)
	inv.Subtotal = subtotal.Round(2).InexactFloat64()
	inv.Total = total.InexactFloat64()
}

func (inv Invoice) Validate() error {
	if !inv.Status.Valid() {
		return fmt.Errorf("%w: invoice status %q must be Paid, Pending or Overdue", ErrInvalidRecord, inv.Status)
	}
	if inv.Discount < 0 || inv.Tax < 0 {
		return fmt.Errorf("%w: discount and tax must be non-negative", ErrInvalidRecord)
	}
	for _, field := range []struct {
		name  string
		value string
	}{{"date", inv.Date}, {"dueDate", inv.DueDate}} {
		if field.value == "" {
			continue
		}
		if _, err := ParseDate(field.value); err != nil {
			return fmt.Errorf("%w: invoice %s %q is not a date", ErrInvalidRecord, field.name, field.value)
		}
	}

	var subtotal float64
	for i, item := range inv.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: line %d quantity must be greater than zero", ErrInvalidRecord, i+1)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: line %d unit price must be non-negative", ErrInvalidRecord, i+1)
		}
		if !withinTolerance(item.TotalPrice, item.Quantity*item.UnitPrice) {
			return fmt.Errorf("%w: line %d total %.2f does not equal quantity x unit price", ErrInvalidRecord, i+1, item.TotalPrice)
		}
		subtotal += item.TotalPrice
	}
	if !withinTolerance(inv.Subtotal, subtotal) {
		return fmt.Errorf("%w: subtotal %.2f does not equal the sum of line totals %.2f", ErrInvalidRecord, inv.Subtotal, subtotal)
	}
	if !withinTolerance(inv.Total, inv.Subtotal-inv.Discount+inv.Tax) {
		return fmt.Errorf("%w: total %.2f does not equal subtotal - discount + tax", ErrInvalidRecord, inv.Total)
	}
	return nil
}

func withinTolerance(got, want float64) bool {
	return math.Abs(got-want) <= AmountTolerance+1e-9
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ParseDate accepts the ISO forms used by invoices and backups.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	var lastErr error
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// PrepareDocument validates a record before it is written. Invoices are
// recalculated first so callers may omit derived amounts; the returned
// document carries them.
func PrepareDocument(c Collection, doc Document) (Document, error) {
	switch c {
	case Products:
		product, err := Decode[Product](doc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		if err := product.Validate(); err != nil {
			return nil, err
		}
		return doc, nil
	case Invoices:
		invoice, err := Decode[Invoice](doc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		if invoice.Status == "" {
			invoice.Status = InvoicePending
		}
		invoice.Recalculate()
		if err := invoice.Validate(); err != nil {
			return nil, err
		}
		derived, err := ToDocument(invoice)
		if err != nil {
			return nil, err
		}
		return doc.Merge(derived), nil
	case Stores, Categories, Customers, Units:
		if strings.TrimSpace(doc.String("name")) == "" {
			return nil, fmt.Errorf("%w: %s name is required", ErrInvalidRecord, c.Singular())
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("%w: unknown collection %q", ErrInvalidRecord, c)
	}
}
