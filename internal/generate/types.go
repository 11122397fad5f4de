package generate

type StoreBrief struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type CategoryIdea struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ProductBrief struct {
	Name      string `json:"name"`
	Category  string `json:"category"`
	StoreName string `json:"storeName"`
	Notes     string `json:"notes"`
}

type ProductDraft struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Image       string  `json:"image"`
}

type Logo struct {
	DataURI     string `json:"dataUri"`
	Placeholder bool   `json:"placeholder"`
}

// Ref names an existing record the generator may match against.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type MaterialsRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	// Data is sent base64 encoded by encoding/json.
	Data       []byte `json:"data"`
	Products   []Ref  `json:"products"`
	Units      []Ref  `json:"units"`
	Categories []Ref  `json:"categories"`
}

type Material struct {
	Name       string  `json:"name"`
	Quantity   float64 `json:"quantity"`
	UnitPrice  float64 `json:"unitPrice"`
	ProductID  string  `json:"productId,omitempty"`
	UnitID     string  `json:"unitId,omitempty"`
	CategoryID string  `json:"categoryId,omitempty"`
}

type MaterialsResult struct {
	Materials []Material `json:"materials"`
}

type DiscountRequest struct {
	CustomerName    string  `json:"customerName"`
	PurchaseHistory string  `json:"purchaseHistory"`
	Subtotal        float64 `json:"subtotal"`
}

type DiscountSuggestion struct {
	Percent float64 `json:"percent"`
	Amount  float64 `json:"amount"`
	Reason  string  `json:"reason"`
}
