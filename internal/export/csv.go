package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tillbook/api/internal/store"
)

const bom = "\ufeff"

type CSVOptions struct {
	// Headers maps a field name to the column title. Unmapped fields keep
	// their name.
	Headers map[string]string
	Locale  string
}

// CSV writes records as comma separated text with a UTF-8 byte order mark.
// Identifiers, foreign keys and nested values are left out. Date fields are
// written in the locale's calendar format, in UTC.
func CSV(records []store.Document, opts CSVOptions) ([]byte, error) {
	columns := exportColumns(records)
	layout := DateLayout(opts.Locale)

	var buf bytes.Buffer
	buf.WriteString(bom)
	w := csv.NewWriter(&buf)

	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = col
		if title, ok := opts.Headers[col]; ok && title != "" {
			header[i] = title
		}
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	row := make([]string, len(columns))
	for _, record := range records {
		for i, col := range columns {
			row[i] = formatCell(col, record[col], layout)
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseCSV reads text produced by CSV back into one map per row, keyed by
// the header titles.
func ParseCSV(data []byte) ([]map[string]string, error) {
	body, hasBOM := bytes.CutPrefix(data, []byte(bom))
	r := csv.NewReader(bytes.NewReader(body))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}
	if len(rows) == 0 {
		// An export of no records has an empty header line.
		if hasBOM {
			return []map[string]string{}, nil
		}
		return nil, fmt.Errorf("%w: missing header", ErrInvalidCSV)
	}

	header := rows[0]
	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(map[string]string, len(header))
		for i, title := range header {
			record[title] = row[i]
		}
		out = append(out, record)
	}
	return out, nil
}

func exportColumns(records []store.Document) []string {
	seen := map[string]struct{}{}
	for _, record := range records {
		for key, value := range record {
			if excluded(key, value) {
				continue
			}
			seen[key] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for key := range seen {
		columns = append(columns, key)
	}
	sort.Strings(columns)
	return columns
}

func excluded(key string, value any) bool {
	if key == "id" || strings.HasSuffix(key, "Id") {
		return true
	}
	switch value.(type) {
	case []any, map[string]any, []store.Document, store.Document, []map[string]any:
		return true
	}
	return false
}

func isDateField(key string) bool {
	switch key {
	case "date", "issueDate", "dueDate", "createdAt":
		return true
	}
	return strings.HasSuffix(key, "Date") || strings.HasSuffix(key, "At")
}

func formatCell(key string, value any, layout string) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		if isDateField(key) {
			if parsed, err := store.ParseDate(v); err == nil {
				return parsed.UTC().Format(layout)
			}
		}
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
