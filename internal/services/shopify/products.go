package shopify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const productCreateMutation = `mutation productCreate($product: ProductCreateInput!, $media: [CreateMediaInput!]) {
  productCreate(product: $product, media: $media) {
    product {
      id
      variants(first: 1) { edges { node { id inventoryItem { id } } } }
    }
    userErrors { field message }
  }
}`

const productUpdateMutation = `mutation productUpdate($product: ProductUpdateInput!) {
  productUpdate(product: $product) {
    product {
      id
      variants(first: 1) { edges { node { id inventoryItem { id } } } }
    }
    userErrors { field message }
  }
}`

const productDeleteMutation = `mutation productDelete($input: ProductDeleteInput!) {
  productDelete(input: $input) {
    deletedProductId
    userErrors { field message }
  }
}`

const variantsBulkUpdateMutation = `mutation productVariantsBulkUpdate($productId: ID!, $variants: [ProductVariantsBulkInput!]!) {
  productVariantsBulkUpdate(productId: $productId, variants: $variants) {
    productVariants { id }
    userErrors { field message }
  }
}`

const inventorySetMutation = `mutation inventorySetQuantities($input: InventorySetQuantitiesInput!) {
  inventorySetQuantities(input: $input) {
    userErrors { field message }
  }
}`

const primaryLocationQuery = `query primaryLocation {
  locations(first: 1) { edges { node { id } } }
}`

const metafieldsSetMutation = `mutation metafieldsSet($metafields: [MetafieldsSetInput!]!) {
  metafieldsSet(metafields: $metafields) {
    metafields { id }
    userErrors { field message }
  }
}`

const productQuery = `query product($id: ID!) {
  product(id: $id) {
    id
    title
    descriptionHtml
    vendor
    productType
    handle
    status
    tags
    createdAt
    updatedAt
    variants(first: 100) {
      edges {
        node {
          id
          title
          price
          sku
          position
          inventoryQuantity
          inventoryItem { measurement { weight { unit value } } }
        }
      }
    }
    media(first: 250) {
      edges { node { ... on MediaImage { id image { url altText } } } }
    }
    metafields(first: 50) {
      edges { node { id namespace key value type } }
    }
  }
}`

type productMutationResult struct {
	Product *struct {
		ID       string `json:"id"`
		Variants struct {
			Edges []struct {
				Node struct {
					ID            string `json:"id"`
					InventoryItem struct {
						ID string `json:"id"`
					} `json:"inventoryItem"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"variants"`
	} `json:"product"`
	UserErrors []UserError `json:"userErrors"`
}

func (r productMutationResult) ref() *ProductRef {
	ref := &ProductRef{ID: r.Product.ID}
	if edges := r.Product.Variants.Edges; len(edges) > 0 {
		ref.VariantID = edges[0].Node.ID
		ref.InventoryItemID = edges[0].Node.InventoryItem.ID
	}
	return ref
}

// CreateProduct creates a product with a single default variant, then sets
// the variant's price, weight and stock.
func (c *Client) CreateProduct(ctx context.Context, p ProductPayload) (*ProductRef, error) {
	vars := map[string]interface{}{"product": productInput("", p)}
	if media := mediaInput(p.Images); len(media) > 0 {
		vars["media"] = media
	}

	var out struct {
		ProductCreate productMutationResult `json:"productCreate"`
	}
	if err := c.DoWithRetry(ctx, productCreateMutation, vars, &out); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	res := out.ProductCreate
	if len(res.UserErrors) > 0 {
		return nil, &UserErrorsError{Operation: "productCreate", Errors: res.UserErrors}
	}
	if res.Product == nil {
		return nil, errors.New("productCreate returned no product")
	}

	ref := res.ref()
	if err := c.applyVariantFields(ctx, ref, p); err != nil {
		return ref, err
	}
	return ref, nil
}

// UpdateProduct overwrites the product fields of an existing product. Media is
// only sent on create so repeated syncs do not duplicate images.
func (c *Client) UpdateProduct(ctx context.Context, productID string, p ProductPayload) (*ProductRef, error) {
	var out struct {
		ProductUpdate productMutationResult `json:"productUpdate"`
	}
	vars := map[string]interface{}{"product": productInput(productID, p)}
	if err := c.DoWithRetry(ctx, productUpdateMutation, vars, &out); err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	res := out.ProductUpdate
	if len(res.UserErrors) > 0 {
		return nil, &UserErrorsError{Operation: "productUpdate", Errors: res.UserErrors}
	}
	if res.Product == nil {
		return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}

	ref := res.ref()
	if err := c.applyVariantFields(ctx, ref, p); err != nil {
		return ref, err
	}
	return ref, nil
}

// DeleteProduct deletes a product. A product that no longer exists yields an
// error matching ErrNotFound.
func (c *Client) DeleteProduct(ctx context.Context, productID string) error {
	var out struct {
		ProductDelete struct {
			DeletedProductID *string     `json:"deletedProductId"`
			UserErrors       []UserError `json:"userErrors"`
		} `json:"productDelete"`
	}
	vars := map[string]interface{}{"input": map[string]interface{}{"id": productID}}
	if err := c.DoWithRetry(ctx, productDeleteMutation, vars, &out); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if len(out.ProductDelete.UserErrors) > 0 {
		return &UserErrorsError{Operation: "productDelete", Errors: out.ProductDelete.UserErrors}
	}
	if out.ProductDelete.DeletedProductID == nil {
		return fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return nil
}

type connection[T any] struct {
	Edges []struct {
		Node T `json:"node"`
	} `json:"edges"`
}

type productNode struct {
	ID string `json:"id"`
	rawProduct
	Variants connection[struct {
		ID string `json:"id"`
		rawVariant
	}] `json:"variants"`
	Media connection[struct {
		ID string `json:"id"`
		rawImage
	}] `json:"media"`
	Metafields connection[struct {
		ID string `json:"id"`
		rawMetafield
	}] `json:"metafields"`
}

// GetProduct fetches one product in the same shape a bulk export produces.
func (c *Client) GetProduct(ctx context.Context, productID string) (*BulkProduct, error) {
	var out struct {
		Product *productNode `json:"product"`
	}
	if err := c.DoWithRetry(ctx, productQuery, map[string]interface{}{"id": productID}, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch product: %w", err)
	}
	if out.Product == nil {
		return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}

	n := out.Product
	p := n.rawProduct.toProduct(n.ID)
	for _, e := range n.Variants.Edges {
		p.Variants = append(p.Variants, e.Node.rawVariant.toVariant(bulkHeader{ID: e.Node.ID, ParentID: n.ID}))
	}
	for _, e := range n.Media.Edges {
		if e.Node.ID == "" {
			continue
		}
		if img := e.Node.rawImage.toImage(bulkHeader{ID: e.Node.ID, ParentID: n.ID}); img.URL != "" {
			p.Images = append(p.Images, img)
		}
	}
	for _, e := range n.Metafields.Edges {
		m := e.Node.rawMetafield
		p.Metafields = append(p.Metafields, BulkMetafield{
			ID: e.Node.ID, ParentID: n.ID, Namespace: m.Namespace, Key: m.Key, Value: m.Value, Type: m.Type,
		})
	}
	return p, nil
}

// SetMetafields writes metafields in one call.
func (c *Client) SetMetafields(ctx context.Context, fields []MetafieldInput) error {
	if len(fields) == 0 {
		return nil
	}
	var out struct {
		MetafieldsSet struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"metafieldsSet"`
	}
	if err := c.DoWithRetry(ctx, metafieldsSetMutation, map[string]interface{}{"metafields": fields}, &out); err != nil {
		return fmt.Errorf("failed to set metafields: %w", err)
	}
	if len(out.MetafieldsSet.UserErrors) > 0 {
		return &UserErrorsError{Operation: "metafieldsSet", Errors: out.MetafieldsSet.UserErrors}
	}
	return nil
}

// SyncMetafields are the app-owned metafields stamped on every product we
// write.
func SyncMetafields(productGID, localID string, at time.Time) []MetafieldInput {
	return []MetafieldInput{
		{OwnerID: productGID, Namespace: MetafieldNamespace, Key: "sync_source", Value: "catalogsync", Type: "single_line_text_field"},
		{OwnerID: productGID, Namespace: MetafieldNamespace, Key: "original_id", Value: localID, Type: "single_line_text_field"},
		{OwnerID: productGID, Namespace: MetafieldNamespace, Key: "last_sync", Value: at.UTC().Format(time.RFC3339), Type: "date_time"},
	}
}

const MetafieldNamespace = "catalog_sync"

// SetInventory sets the available quantity of an inventory item at the shop's
// primary location.
func (c *Client) SetInventory(ctx context.Context, inventoryItemID string, quantity int) error {
	locationID, err := c.primaryLocation(ctx)
	if err != nil {
		return err
	}

	input := map[string]interface{}{
		"name":                  "available",
		"reason":                "correction",
		"ignoreCompareQuantity": true,
		"quantities": []map[string]interface{}{{
			"inventoryItemId": inventoryItemID,
			"locationId":      locationID,
			"quantity":        quantity,
		}},
	}
	var out struct {
		InventorySetQuantities struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"inventorySetQuantities"`
	}
	if err := c.DoWithRetry(ctx, inventorySetMutation, map[string]interface{}{"input": input}, &out); err != nil {
		return fmt.Errorf("failed to set inventory: %w", err)
	}
	if len(out.InventorySetQuantities.UserErrors) > 0 {
		return &UserErrorsError{Operation: "inventorySetQuantities", Errors: out.InventorySetQuantities.UserErrors}
	}
	return nil
}

// primaryLocation returns the shop's first location, loading it once per
// client.
func (c *Client) primaryLocation(ctx context.Context) (string, error) {
	c.locationMu.Lock()
	defer c.locationMu.Unlock()
	if c.locationID != "" {
		return c.locationID, nil
	}
	var out struct {
		Locations connection[struct {
			ID string `json:"id"`
		}] `json:"locations"`
	}
	if err := c.DoWithRetry(ctx, primaryLocationQuery, nil, &out); err != nil {
		return "", fmt.Errorf("failed to load locations: %w", err)
	}
	if len(out.Locations.Edges) == 0 {
		return "", errors.New("shop has no locations")
	}
	c.locationID = out.Locations.Edges[0].Node.ID
	return c.locationID, nil
}

func (c *Client) applyVariantFields(ctx context.Context, ref *ProductRef, p ProductPayload) error {
	if ref.VariantID == "" {
		return nil
	}

	variant := map[string]interface{}{"id": ref.VariantID}
	if p.Price != nil {
		variant["price"] = *p.Price
	}
	if p.WeightKg != nil {
		variant["inventoryItem"] = map[string]interface{}{
			"tracked": true,
			"measurement": map[string]interface{}{
				"weight": map[string]interface{}{"unit": "KILOGRAMS", "value": *p.WeightKg},
			},
		}
	}
	if len(variant) > 1 {
		var out struct {
			ProductVariantsBulkUpdate struct {
				UserErrors []UserError `json:"userErrors"`
			} `json:"productVariantsBulkUpdate"`
		}
		vars := map[string]interface{}{
			"productId": ref.ID,
			"variants":  []map[string]interface{}{variant},
		}
		if err := c.DoWithRetry(ctx, variantsBulkUpdateMutation, vars, &out); err != nil {
			return fmt.Errorf("failed to update variant: %w", err)
		}
		if ue := out.ProductVariantsBulkUpdate.UserErrors; len(ue) > 0 {
			return &UserErrorsError{Operation: "productVariantsBulkUpdate", Errors: ue}
		}
	}

	if p.Inventory != nil && ref.InventoryItemID != "" {
		return c.SetInventory(ctx, ref.InventoryItemID, *p.Inventory)
	}
	return nil
}

func productInput(id string, p ProductPayload) map[string]interface{} {
	input := map[string]interface{}{
		"title":           p.Title,
		"descriptionHtml": p.DescriptionHTML,
		"vendor":          p.Vendor,
		"productType":     p.ProductType,
		"tags":            p.Tags,
		"status":          p.Status,
	}
	if id != "" {
		input["id"] = id
	}
	return input
}

func mediaInput(images []string) []map[string]interface{} {
	media := make([]map[string]interface{}, 0, len(images))
	for _, src := range images {
		media = append(media, map[string]interface{}{
			"originalSource":   src,
			"mediaContentType": "IMAGE",
		})
	}
	return media
}

// ProductGID formats a numeric product id as a global id.
func ProductGID(id int64) string {
	return "gid://shopify/Product/" + strconv.FormatInt(id, 10)
}
