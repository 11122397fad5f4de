// Package export renders records as CSV and invoices as PDF.
package export

import (
	"errors"
)

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrInvalidCSV indicates text that is not a CSV export.
	ErrInvalidCSV = errors.New("invalid csv")
)

// dateLayouts maps a locale to the layout used for calendar dates.
var dateLayouts = map[string]string{
	"en-US": "1/2/2006",
	"en-GB": "02/01/2006",
	"en-AU": "2/01/2006",
	"fr-FR": "02/01/2006",
	"de-DE": "2.1.2006",
	"es-ES": "2/1/2006",
	"ja-JP": "2006/1/2",
	"iso":   "2006-01-02",
}

const DefaultLocale = "en-US"

// DateLayout returns the layout for locale, falling back to en-US.
func DateLayout(locale string) string {
	if layout, ok := dateLayouts[locale]; ok {
		return layout
	}
	return dateLayouts[DefaultLocale]
}
