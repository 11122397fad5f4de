package store

import (
	"fmt"
	"slices"
)

// ReferenceError describes a foreign key that does not resolve.
type ReferenceError struct {
	Collection Collection `json:"collection"`
	ID         string     `json:"id"`
	Field      string     `json:"field"`
	Target     Collection `json:"target"`
	Value      string     `json:"value"`
}

func (e ReferenceError) Error() string {
	return fmt.Sprintf("%s %s: %s %q does not resolve to any %s", e.Collection.Singular(), e.ID, e.Field, e.Value, e.Target.Singular())
}

type referenceRule struct {
	from     Collection
	field    string
	to       Collection
	required bool
	// checked on every local write; invoices keep their customer snapshot
	// after the customer is gone, so their rule is report-only
	onWrite bool
}

var referenceRules = []referenceRule{
	{from: Categories, field: "storeId", to: Stores, onWrite: true},
	{from: Categories, field: "parentId", to: Categories, onWrite: true},
	{from: Products, field: "categoryId", to: Categories, required: true, onWrite: true},
	{from: Products, field: "storeId", to: Stores, onWrite: true},
	{from: Products, field: "unitId", to: Units, onWrite: true},
	{from: Invoices, field: "customerId", to: Customers},
}

// CheckReferences lists every dangling foreign key in the snapshot. Empty
// optional references are fine; an empty required one is reported.
func CheckReferences(s Snapshot) []ReferenceError {
	ids := make(map[Collection]map[string]struct{}, len(AllCollections))
	for _, c := range AllCollections {
		set := make(map[string]struct{}, len(s[c]))
		for _, doc := range s[c] {
			set[doc.ID()] = struct{}{}
		}
		ids[c] = set
	}

	var problems []ReferenceError
	for _, rule := range referenceRules {
		for _, doc := range s[rule.from] {
			value := doc.String(rule.field)
			if value == "" && !rule.required {
				continue
			}
			if _, ok := ids[rule.to][value]; ok {
				continue
			}
			problems = append(problems, ReferenceError{
				Collection: rule.from,
				ID:         doc.ID(),
				Field:      rule.field,
				Target:     rule.to,
				Value:      value,
			})
		}
	}
	return problems
}

// CheckWrite validates the references of a single record about to be written
// into s. With no fields every write rule of c is checked; otherwise only the
// rules for the named fields, so a partial update is not blocked by a stale
// key it does not touch. The error wraps ErrInvalidRecord.
func CheckWrite(s Snapshot, c Collection, doc Document, fields ...string) error {
	for _, rule := range referenceRules {
		if rule.from != c || !rule.onWrite {
			continue
		}
		if len(fields) > 0 && !slices.Contains(fields, rule.field) {
			continue
		}
		value := doc.String(rule.field)
		if value == "" && !rule.required {
			continue
		}
		if rule.to == c && value == doc.ID() {
			return fmt.Errorf("%w: %s cannot reference itself", ErrInvalidRecord, rule.field)
		}
		if containsID(s[rule.to], value) {
			continue
		}
		refErr := ReferenceError{Collection: c, ID: doc.ID(), Field: rule.field, Target: rule.to, Value: value}
		if value == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidRecord, rule.field)
		}
		return fmt.Errorf("%w: %s", ErrInvalidRecord, refErr.Error())
	}
	return nil
}

func containsID(docs []Document, id string) bool {
	for _, doc := range docs {
		if doc.ID() == id {
			return true
		}
	}
	return false
}
