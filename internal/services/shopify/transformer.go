package shopify

import (
	"regexp"
	"strings"

	"catalogsync/internal/models"

	"github.com/shopspring/decimal"
)

// MaxImages is the number of media Shopify accepts per product.
const MaxImages = 250

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// ToShopify converts a catalog product to the outbound payload. Connection
// flags decide whether price, stock and images are included.
func ToShopify(p *models.Product, cfg models.ConnectionConfig) ProductPayload {
	payload := ProductPayload{
		Title:  p.Title,
		Tags:   strings.Join(p.Tags, ", "),
		Status: StatusToShopify(p.Status),
	}
	if p.Description != nil {
		payload.DescriptionHTML = *p.Description
	}
	if p.Brand != nil {
		payload.Vendor = *p.Brand
	}
	if p.Category != nil {
		payload.ProductType = *p.Category
	}
	if p.Weight != nil {
		w := *p.Weight
		payload.WeightKg = &w
	}
	if cfg.SyncPrices {
		price := p.Price.StringFixed(2)
		payload.Price = &price
	}
	if cfg.SyncInventory {
		qty := p.Inventory
		payload.Inventory = &qty
	}
	if cfg.SyncImages && len(p.Images) > 0 {
		images := p.Images
		if len(images) > MaxImages {
			images = images[:MaxImages]
		}
		payload.Images = append([]string(nil), images...)
	}
	return payload
}

// FromBulkProduct converts an exported product to a catalog product. The
// first variant by position carries price, stock and weight.
func FromBulkProduct(bp *BulkProduct) *models.Product {
	p := &models.Product{
		Title:     bp.Title,
		Tags:      cleanTags(bp.Tags),
		Status:    StatusFromShopify(bp.Status),
		UpdatedAt: bp.UpdatedAt,
	}
	p.Description = optional(StripHTML(bp.DescriptionHTML))
	p.Brand = optional(bp.Vendor)
	p.Category = optional(bp.ProductType)

	if len(bp.Variants) > 0 {
		v := bp.Variants[0]
		p.Price = parsePrice(v.Price)
		p.Inventory = nonNegative(v.InventoryQuantity)
		if v.Weight != nil {
			kg := WeightToKg(*v.Weight, v.WeightUnit)
			p.Weight = &kg
		}
	}

	for _, img := range bp.Images {
		if len(p.Images) == MaxImages {
			break
		}
		p.Images = append(p.Images, img.URL)
	}
	return p
}

// FromRESTProduct converts a webhook payload to a catalog product.
func FromRESTProduct(sp *Product) *models.Product {
	p := &models.Product{
		Title:     sp.Title,
		Tags:      SplitTags(sp.Tags),
		Status:    StatusFromShopify(sp.Status),
		UpdatedAt: sp.UpdatedAt,
	}
	p.Description = optional(StripHTML(sp.BodyHTML))
	p.Brand = optional(sp.Vendor)
	p.Category = optional(sp.ProductType)

	if v := primaryVariant(sp.Variants); v != nil {
		p.Price = parsePrice(v.Price)
		p.Inventory = nonNegative(v.InventoryQuantity)
		switch {
		case v.WeightUnit != "":
			kg := WeightToKg(v.Weight, v.WeightUnit)
			p.Weight = &kg
		case v.Grams > 0:
			kg := float64(v.Grams) / 1000
			p.Weight = &kg
		}
	}

	for _, img := range sp.Images {
		if len(p.Images) == MaxImages {
			break
		}
		if img.Src != "" {
			p.Images = append(p.Images, img.Src)
		}
	}
	return p
}

// ProductGIDFromREST returns the global id of a webhook product.
func ProductGIDFromREST(sp *Product) string {
	if sp.AdminGraphQLAPIID != "" {
		return sp.AdminGraphQLAPIID
	}
	return ProductGID(sp.ID)
}

func StatusToShopify(s models.ProductStatus) string {
	switch s {
	case models.ProductStatusActive:
		return "ACTIVE"
	case models.ProductStatusInactive:
		return "ARCHIVED"
	default:
		return "DRAFT"
	}
}

// StatusFromShopify maps a Shopify status case-insensitively, falling back to
// draft.
func StatusFromShopify(s string) models.ProductStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACTIVE":
		return models.ProductStatusActive
	case "ARCHIVED":
		return models.ProductStatusInactive
	default:
		return models.ProductStatusDraft
	}
}

func StripHTML(s string) string {
	return strings.TrimSpace(htmlTag.ReplaceAllString(s, ""))
}

// SplitTags splits a comma separated tag string, trimming blanks.
func SplitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return cleanTags(strings.Split(s, ","))
}

// WeightToKg converts a weight in any Shopify unit to kilograms. Unknown
// units are taken as kilograms.
func WeightToKg(value float64, unit string) float64 {
	switch strings.ToUpper(strings.TrimSpace(unit)) {
	case "G", "GRAMS":
		return value / 1000
	case "LB", "POUNDS":
		return value * 0.45359237
	case "OZ", "OUNCES":
		return value * 0.028349523125
	default:
		return value
	}
}

// NormalizeShopDomain turns "shop", "shop.myshopify.com" or
// "https://shop.myshopify.com/" into "shop.myshopify.com".
func NormalizeShopDomain(shop string) string {
	shop = strings.ToLower(strings.TrimSpace(shop))
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimPrefix(shop, "http://")
	shop = strings.TrimSuffix(shop, "/")
	if shop != "" && !strings.Contains(shop, ".") {
		shop += ".myshopify.com"
	}
	return shop
}

func primaryVariant(variants []Variant) *Variant {
	for i := range variants {
		if variants[i].Position == 1 {
			return &variants[i]
		}
	}
	if len(variants) > 0 {
		return &variants[0]
	}
	return nil
}

func cleanTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parsePrice(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
