package export

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"tillbook/api/internal/store"
)

func TestCSVExcludesInternalFields(t *testing.T) {
	records := []store.Document{{
		"id":    "x",
		"date":  "2023-10-26T00:00:00.000Z",
		"items": []any{map[string]any{"productId": "pro-1", "quantity": 1.0}},
		"total": 100.0,
	}}

	data, err := CSV(records, CSVOptions{})
	if err != nil {
		t.Fatalf("CSV() error = %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\xEF\xBB\xBF")) {
		t.Fatal("missing UTF-8 byte order mark")
	}
	text := string(data)
	if strings.Contains(text, "items") || strings.Contains(text, "pro-1") {
		t.Error("nested items should be excluded")
	}
	if strings.Contains(text, "id") {
		t.Error("id should be excluded")
	}

	rows, err := ParseCSV(data)
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	want := []map[string]string{{"date": "10/26/2023", "total": "100"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("ParseCSV() = %v, want %v", rows, want)
	}
}

func TestCSVColumnsAndHeaders(t *testing.T) {
	records := []store.Document{
		{"id": "cus-1", "name": "Smith, Jane", "email": "jane@example.com"},
		{"id": "cus-2", "name": "Bob \"The\" Baker", "phone": "555-0100", "customerId": "cus-9"},
	}

	data, err := CSV(records, CSVOptions{Headers: map[string]string{"name": "Name", "email": "Email"}})
	if err != nil {
		t.Fatalf("CSV() error = %v", err)
	}

	lines := strings.Split(strings.TrimPrefix(string(data), "\ufeff"), "\n")
	if lines[0] != "Email,Name,phone" {
		t.Errorf("header = %q", lines[0])
	}

	rows, err := ParseCSV(data)
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["Name"] != "Smith, Jane" || rows[0]["phone"] != "" {
		t.Errorf("row 0 = %v", rows[0])
	}
	if rows[1]["Name"] != `Bob "The" Baker` || rows[1]["Email"] != "" {
		t.Errorf("row 1 = %v", rows[1])
	}
}

func TestCSVDateFields(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  any
		locale string
		want   string
	}{
		{name: "due date", key: "dueDate", value: "2024-01-31", want: "1/31/2024"},
		{name: "created at", key: "createdAt", value: "2024-02-01T23:30:00-05:00", want: "2/2/2024"},
		{name: "suffix", key: "paidDate", value: "2024-07-04", locale: "en-GB", want: "04/07/2024"},
		{name: "not a date", key: "date", value: "soon", want: "soon"},
		{name: "plain field", key: "note", value: "2024-01-31", want: "2024-01-31"},
		{name: "bool", key: "active", value: true, want: "true"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := CSV([]store.Document{{tc.key: tc.value}}, CSVOptions{Locale: tc.locale})
			if err != nil {
				t.Fatalf("CSV() error = %v", err)
			}
			rows, err := ParseCSV(data)
			if err != nil {
				t.Fatalf("ParseCSV() error = %v", err)
			}
			if got := rows[0][tc.key]; got != tc.want {
				t.Errorf("%s = %q, want %q", tc.key, got, tc.want)
			}
		})
	}
}

func TestCSVEmpty(t *testing.T) {
	data, err := CSV(nil, CSVOptions{})
	if err != nil {
		t.Fatalf("CSV() error = %v", err)
	}
	rows, err := ParseCSV(data)
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %v", rows)
	}
}

func TestParseCSVRejectsGarbage(t *testing.T) {
	if _, err := ParseCSV(nil); !errors.Is(err, ErrInvalidCSV) {
		t.Errorf("empty input: expected ErrInvalidCSV, got %v", err)
	}
	if _, err := ParseCSV([]byte("a,b\n1,2,3\n")); !errors.Is(err, ErrInvalidCSV) {
		t.Errorf("ragged rows: expected ErrInvalidCSV, got %v", err)
	}
}

func TestCollectionCSVUsesDisplayHeaders(t *testing.T) {
	svc := NewService("en-US", nil)
	res, err := svc.CollectionCSV(store.Invoices, []store.Document{{"id": "inv-1", "invoiceNumber": "INV-1", "customerId": "cus-1", "total": 5.5}})
	if err != nil {
		t.Fatalf("CollectionCSV() error = %v", err)
	}
	if res.Filename != "invoices.csv" {
		t.Errorf("Filename = %q", res.Filename)
	}
	rows, err := ParseCSV(res.Data)
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	want := []map[string]string{{"Invoice Number": "INV-1", "Total": "5.5"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}
