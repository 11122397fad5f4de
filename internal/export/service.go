package export

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tillbook/api/internal/store"
)

// displayHeaders are the column titles used for each collection's CSV.
var displayHeaders = map[store.Collection]map[string]string{
	store.Invoices: {
		"invoiceNumber": "Invoice Number",
		"customerName":  "Customer",
		"customerEmail": "Customer Email",
		"date":          "Date",
		"dueDate":       "Due Date",
		"status":        "Status",
		"subtotal":      "Subtotal",
		"discount":      "Discount",
		"tax":           "Tax",
		"total":         "Total",
		"description":   "Description",
	},
	store.Products: {
		"name":        "Name",
		"description": "Description",
		"price":       "Price",
		"image":       "Image",
	},
	store.Customers: {
		"name":            "Name",
		"email":           "Email",
		"phone":           "Phone",
		"address":         "Address",
		"purchaseHistory": "Purchase History",
	},
	store.Stores: {
		"name":    "Name",
		"address": "Address",
		"phone":   "Phone",
		"logo":    "Logo",
	},
	store.Categories: {"name": "Name"},
	store.Units:      {"name": "Name"},
}

// Service turns a user's records into downloadable files.
type Service struct {
	locale string
	logger *zap.Logger
	pdf    func(ctx context.Context, html string) ([]byte, error)
}

// Option configures a Service.
type Option func(*Service)

// WithPDFRenderer replaces headless Chrome as the HTML to PDF renderer.
func WithPDFRenderer(render func(ctx context.Context, html string) ([]byte, error)) Option {
	return func(s *Service) { s.pdf = render }
}

func NewService(locale string, logger *zap.Logger, opts ...Option) *Service {
	if locale == "" {
		locale = DefaultLocale
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{locale: locale, logger: logger, pdf: printPDF}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CollectionCSV exports one collection with its display headers.
func (s *Service) CollectionCSV(c store.Collection, records []store.Document) (*Result, error) {
	data, err := CSV(records, CSVOptions{Headers: displayHeaders[c], Locale: s.locale})
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", c, err)
	}
	return &Result{
		Data:     data,
		Filename: string(c) + ".csv",
		MimeType: "text/csv; charset=utf-8",
	}, nil
}

// InvoiceHTML renders the printable invoice page. st may be nil.
func (s *Service) InvoiceHTML(invoice store.Invoice, st *store.Store) (string, error) {
	html, err := RenderInvoiceHTML(InvoiceData{Invoice: invoice, Store: st, Locale: s.locale})
	if err != nil {
		return "", fmt.Errorf("render invoice template: %w", err)
	}
	return html, nil
}

// InvoicePDF renders an invoice through headless Chrome. st may be nil.
func (s *Service) InvoicePDF(ctx context.Context, invoice store.Invoice, st *store.Store) (*Result, error) {
	html, err := s.InvoiceHTML(invoice, st)
	if err != nil {
		return nil, err
	}

	data, err := s.pdf(ctx, html)
	if err != nil {
		s.logger.Warn("invoice pdf failed", zap.String("invoice_id", invoice.ID), zap.Error(err))
		return nil, err
	}

	name := invoice.InvoiceNumber
	if name == "" {
		name = invoice.ID
	}
	return &Result{
		Data:     data,
		Filename: "invoice-" + sanitizeFilename(name) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}
