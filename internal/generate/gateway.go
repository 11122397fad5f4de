// Package generate fronts the external content generator. Every operation
// returns a usable result: when the generator fails, times out or answers
// with junk, the caller gets an empty or placeholder value instead.
package generate

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"tillbook/api/internal/metrics"
)

const (
	OpCategories = "categories"
	OpProduct    = "product"
	OpLogo       = "logo"
	OpMaterials  = "materials"
	OpDiscount   = "discount"
)

const maxDiscountPercent = 100

type Gateway struct {
	backend Backend
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewGateway(backend Backend, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Gateway{backend: backend, timeout: timeout, logger: logger, metrics: m}
}

func (g *Gateway) call(ctx context.Context, op string, req, resp any) bool {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := g.backend.Call(ctx, op, req, resp)
	if err != nil {
		g.fallback(op, err)
		return false
	}
	return true
}

func (g *Gateway) fallback(op string, err error) {
	g.logger.Warn("generation failed, using fallback", zap.String("operation", op), zap.Error(err))
	g.metrics.RecordFallback(op)
}

// Categories suggests categories for a store. Nameless or repeated ideas
// are dropped.
func (g *Gateway) Categories(ctx context.Context, brief StoreBrief) []CategoryIdea {
	var resp struct {
		Categories []CategoryIdea `json:"categories"`
	}
	if !g.call(ctx, OpCategories, brief, &resp) {
		return []CategoryIdea{}
	}

	seen := make(map[string]struct{}, len(resp.Categories))
	ideas := make([]CategoryIdea, 0, len(resp.Categories))
	for _, idea := range resp.Categories {
		idea.Name = strings.TrimSpace(idea.Name)
		key := strings.ToLower(idea.Name)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ideas = append(ideas, idea)
	}
	return ideas
}

// Product drafts a product. The fallback keeps the requested name with an
// empty description and no price.
func (g *Gateway) Product(ctx context.Context, brief ProductBrief) ProductDraft {
	fallback := ProductDraft{Name: strings.TrimSpace(brief.Name)}
	var draft ProductDraft
	if !g.call(ctx, OpProduct, brief, &draft) {
		return fallback
	}
	if strings.TrimSpace(draft.Name) == "" {
		draft.Name = fallback.Name
	}
	if draft.Price < 0 || math.IsNaN(draft.Price) || math.IsInf(draft.Price, 0) {
		draft.Price = 0
	}
	return draft
}

func (g *Gateway) Logo(ctx context.Context, brief StoreBrief) Logo {
	var logo Logo
	if !g.call(ctx, OpLogo, brief, &logo) {
		return PlaceholderLogo(brief.Name)
	}
	if !strings.HasPrefix(logo.DataURI, "data:image/") {
		g.fallback(OpLogo, fmt.Errorf("logo is not an image data uri"))
		return PlaceholderLogo(brief.Name)
	}
	logo.Placeholder = false
	return logo
}

// ExtractMaterials reads materials out of an uploaded file. Matches that
// point at records not in the request are cleared.
func (g *Gateway) ExtractMaterials(ctx context.Context, req MaterialsRequest) MaterialsResult {
	var resp MaterialsResult
	if !g.call(ctx, OpMaterials, req, &resp) {
		return MaterialsResult{Materials: []Material{}}
	}

	products := refSet(req.Products)
	units := refSet(req.Units)
	categories := refSet(req.Categories)

	materials := make([]Material, 0, len(resp.Materials))
	for _, m := range resp.Materials {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			continue
		}
		if _, ok := products[m.ProductID]; !ok {
			m.ProductID = ""
		}
		if _, ok := units[m.UnitID]; !ok {
			m.UnitID = ""
		}
		if _, ok := categories[m.CategoryID]; !ok {
			m.CategoryID = ""
		}
		if m.Quantity <= 0 {
			m.Quantity = 1
		}
		if m.UnitPrice < 0 {
			m.UnitPrice = 0
		}
		materials = append(materials, m)
	}
	return MaterialsResult{Materials: materials}
}

// SuggestDiscount proposes a discount for an invoice. The percentage is
// capped and the amount is derived from it.
func (g *Gateway) SuggestDiscount(ctx context.Context, req DiscountRequest) DiscountSuggestion {
	var suggestion DiscountSuggestion
	if !g.call(ctx, OpDiscount, req, &suggestion) {
		return DiscountSuggestion{}
	}
	percent := suggestion.Percent
	if percent < 0 || math.IsNaN(percent) {
		percent = 0
	}
	if percent > maxDiscountPercent {
		percent = maxDiscountPercent
	}
	subtotal := math.Max(req.Subtotal, 0)
	return DiscountSuggestion{
		Percent: percent,
		Amount:  math.Round(subtotal*percent) / 100,
		Reason:  strings.TrimSpace(suggestion.Reason),
	}
}

func refSet(refs []Ref) map[string]struct{} {
	set := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if ref.ID != "" {
			set[ref.ID] = struct{}{}
		}
	}
	return set
}

// PlaceholderLogo is a plain SVG badge with the store's initials.
func PlaceholderLogo(storeName string) Logo {
	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="128" height="128"><rect width="128" height="128" rx="24" fill="#4f46e5"/><text x="64" y="78" font-family="sans-serif" font-size="44" fill="#ffffff" text-anchor="middle">%s</text></svg>`,
		initials(storeName),
	)
	return Logo{
		DataURI:     "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg)),
		Placeholder: true,
	}
}

func initials(name string) string {
	var out []rune
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				out = append(out, unicode.ToUpper(r))
				break
			}
		}
		if len(out) == 2 {
			break
		}
	}
	if len(out) == 0 {
		return "?"
	}
	return string(out)
}
