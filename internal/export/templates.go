package export

import (
	"bytes"
	"embed"
	"html/template"
	"strconv"
	"strings"

	"tillbook/api/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// InvoiceData holds data for invoice template rendering. Store is nil when
// the invoice has no resolvable store.
type InvoiceData struct {
	Invoice store.Invoice
	Store   *store.Store
	Locale  string
}

// safeURL only lets image data URIs and http(s) links through.
func safeURL(s string) template.URL {
	if strings.HasPrefix(s, "data:image/") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://") {
		return template.URL(s)
	}
	return ""
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func quantity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseInvoiceTemplate(locale string) (*template.Template, error) {
	layout := DateLayout(locale)
	funcMap := template.FuncMap{
		"safeURL": safeURL,
		"money":   money,
		"qty":     quantity,
		"date": func(value string) string {
			parsed, err := store.ParseDate(value)
			if err != nil {
				return value
			}
			return parsed.UTC().Format(layout)
		},
	}
	return template.New("invoice.html").Funcs(funcMap).ParseFS(templateFS, "templates/invoice.html")
}

// RenderInvoiceHTML renders the invoice template with provided data
func RenderInvoiceHTML(data InvoiceData) (string, error) {
	tmpl, err := parseInvoiceTemplate(data.Locale)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
