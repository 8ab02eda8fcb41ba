package shopify

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// REST payloads, as delivered by product webhooks.

// Product represents a Shopify product in the REST/webhook format
type Product struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	BodyHTML    string     `json:"body_html"`
	Vendor      string     `json:"vendor"`
	ProductType string     `json:"product_type"`
	Handle      string     `json:"handle"`
	Status      string     `json:"status"`
	Tags        string     `json:"tags"`
	Variants    []Variant  `json:"variants"`
	Images      []Image    `json:"images"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PublishedAt *time.Time `json:"published_at"`

	AdminGraphQLAPIID string `json:"admin_graphql_api_id"`
}

// Variant represents a product variant
type Variant struct {
	ID                int64   `json:"id"`
	ProductID         int64   `json:"product_id"`
	Title             string  `json:"title"`
	Price             string  `json:"price"`
	Sku               string  `json:"sku"`
	Position          int     `json:"position"`
	Grams             int     `json:"grams"`
	Weight            float64 `json:"weight"`
	WeightUnit        string  `json:"weight_unit"`
	InventoryItemID   int64   `json:"inventory_item_id"`
	InventoryQuantity int     `json:"inventory_quantity"`
}

// Image represents a product image
type Image struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Position  int     `json:"position"`
	Alt       *string `json:"alt"`
	Src       string  `json:"src"`
}

// DeletePayload is the body of products/delete.
type DeletePayload struct {
	ID int64 `json:"id"`
}

// InventoryLevelPayload is the body of inventory_levels/update.
type InventoryLevelPayload struct {
	InventoryItemID int64     `json:"inventory_item_id"`
	LocationID      int64     `json:"location_id"`
	Available       *int      `json:"available"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// GraphQL shapes.

type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

type ThrottleStatus struct {
	MaximumAvailable   float64 `json:"maximumAvailable"`
	CurrentlyAvailable float64 `json:"currentlyAvailable"`
	RestoreRate        float64 `json:"restoreRate"`
}

type QueryCost struct {
	RequestedQueryCost float64         `json:"requestedQueryCost"`
	ActualQueryCost    *float64        `json:"actualQueryCost"`
	ThrottleStatus     *ThrottleStatus `json:"throttleStatus"`
}

// Shop represents shop information
type Shop struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	MyshopifyDomain string `json:"myshopifyDomain"`
	CurrencyCode    string `json:"currencyCode"`
	WeightUnit      string `json:"weightUnit"`
	Plan            struct {
		DisplayName string `json:"displayName"`
		ShopifyPlus bool   `json:"shopifyPlus"`
	} `json:"plan"`
}

// BulkOperationResult is the state of a bulk operation as last polled.
type BulkOperationResult struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ErrorCode   string `json:"errorCode"`
	ObjectCount Count  `json:"objectCount"`
	FileSize    Count  `json:"fileSize"`
	URL         string `json:"url"`
}

// Bulk operation statuses.
const (
	BulkStatusCreated   = "CREATED"
	BulkStatusRunning   = "RUNNING"
	BulkStatusCompleted = "COMPLETED"
	BulkStatusFailed    = "FAILED"
	BulkStatusCanceled  = "CANCELED"
	BulkStatusCanceling = "CANCELING"
	BulkStatusExpired   = "EXPIRED"
)

// Count decodes UnsignedInt64 values, which Shopify serializes as strings.
type Count int64

func (c *Count) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*c = Count(n)
	return nil
}

// BulkProduct is a product rebuilt from a bulk export or a single product
// query.
type BulkProduct struct {
	ID              string
	Title           string
	DescriptionHTML string
	Vendor          string
	ProductType     string
	Handle          string
	Status          string
	Tags            []string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Variants   []BulkVariant
	Images     []BulkImage
	Metafields []BulkMetafield
}

type BulkVariant struct {
	ID                string
	ParentID          string
	Title             string
	Price             string
	SKU               string
	Position          int
	InventoryQuantity int
	Weight            *float64
	WeightUnit        string
}

type BulkImage struct {
	ID       string
	ParentID string
	URL      string
	AltText  string
}

type BulkMetafield struct {
	ID        string
	ParentID  string
	Namespace string
	Key       string
	Value     string
	Type      string
}

// Outbound payloads.

// ProductPayload is the platform-neutral form of a product about to be
// written to Shopify. Nil fields are left untouched.
type ProductPayload struct {
	Title           string
	DescriptionHTML string
	Vendor          string
	ProductType     string
	Tags            string
	Status          string
	Price           *string
	Inventory       *int
	WeightKg        *float64
	Images          []string
}

// ProductRef identifies a product written to Shopify.
type ProductRef struct {
	ID              string
	VariantID       string
	InventoryItemID string
}

type MetafieldInput struct {
	OwnerID   string `json:"ownerId"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type"`
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

// tagList accepts either a JSON array of tags or a comma separated string.
type tagList []string

func (t *tagList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*t = nil
		return nil
	}
	if data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*t = tagList(list)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = tagList(SplitTags(s))
	return nil
}
