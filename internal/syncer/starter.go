package syncer

import (
	"time"

	"tillbook/api/internal/store"
)

const (
	starterStoreID = "sto-starter01"

	unitPiece    = "uni-starter01"
	unitKilogram = "uni-starter02"
	unitLitre    = "uni-starter03"

	categoryBeverages = "cat-starter01"
	categoryBakery    = "cat-starter02"
	categoryProduce   = "cat-starter03"

	starterCustomerID = "cus-starter01"
)

// StarterSnapshot is the dataset written for a brand-new user. Ids are fixed
// so seeding twice can never produce two starter sets.
func StarterSnapshot(now time.Time) store.Snapshot {
	s := store.NewSnapshot()
	s[store.Stores] = []store.Document{
		{"id": starterStoreID, "name": "My Store", "address": "1 Market Street", "phone": "555-0100"},
	}
	s[store.Units] = []store.Document{
		{"id": unitPiece, "name": "Piece"},
		{"id": unitKilogram, "name": "Kilogram"},
		{"id": unitLitre, "name": "Litre"},
	}
	s[store.Categories] = []store.Document{
		{"id": categoryBeverages, "name": "Beverages", "storeId": starterStoreID},
		{"id": categoryBakery, "name": "Bakery", "storeId": starterStoreID},
		{"id": categoryProduce, "name": "Produce", "storeId": starterStoreID},
	}
	s[store.Products] = []store.Document{
		product("pro-starter01", "Coffee Beans", "Medium roast whole beans", 12.5, categoryBeverages, unitKilogram),
		product("pro-starter02", "Orange Juice", "Freshly squeezed", 3.99, categoryBeverages, unitLitre),
		product("pro-starter03", "Sourdough Bread", "Baked every morning", 5.5, categoryBakery, unitPiece),
		product("pro-starter04", "Apples", "Crisp seasonal apples", 2.8, categoryProduce, unitKilogram),
	}
	s[store.Customers] = []store.Document{
		{"id": starterCustomerID, "name": "Jane Cooper", "email": "jane.cooper@example.com", "phone": "555-0101", "address": "12 Oak Avenue", "purchaseHistory": ""},
		{"id": "cus-starter02", "name": "Wade Warren", "email": "wade.warren@example.com", "phone": "555-0102", "address": "48 Pine Road", "purchaseHistory": ""},
	}

	invoice := store.Invoice{
		ID:            "inv-starter01",
		InvoiceNumber: "INV-0001",
		CustomerID:    starterCustomerID,
		CustomerName:  "Jane Cooper",
		CustomerEmail: "jane.cooper@example.com",
		Date:          now.UTC().Format(time.RFC3339),
		DueDate:       now.UTC().AddDate(0, 0, 30).Format(time.RFC3339),
		Status:        store.InvoicePending,
		Items: []store.LineItem{
			{ProductID: "pro-starter01", ProductName: "Coffee Beans", Quantity: 2, UnitPrice: 12.5},
			{ProductID: "pro-starter03", ProductName: "Sourdough Bread", Quantity: 1, UnitPrice: 5.5},
		},
		Tax:         2.46,
		Description: "Welcome order",
	}
	invoice.Recalculate()
	doc, err := store.ToDocument(invoice)
	if err != nil {
		// Invoice only holds plain values, so encoding cannot fail.
		panic(err)
	}
	s[store.Invoices] = []store.Document{doc}
	return s
}

func product(id, name, description string, price float64, categoryID, unitID string) store.Document {
	return store.Document{
		"id":          id,
		"name":        name,
		"description": description,
		"price":       price,
		"image":       "",
		"categoryId":  categoryID,
		"storeId":     starterStoreID,
		"unitId":      unitID,
	}
}
