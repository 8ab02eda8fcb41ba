package shopify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"catalogsync/internal/logger"
)

const bulkRunMutation = `mutation bulkOperationRunQuery($query: String!) {
  bulkOperationRunQuery(query: $query) {
    bulkOperation { id status }
    userErrors { field message }
  }
}`

const bulkStatusQuery = `query bulkOperationStatus($id: ID!) {
  node(id: $id) {
    ... on BulkOperation {
      id
      status
      errorCode
      objectCount
      fileSize
      url
    }
  }
}`

// ProductsBulkQuery builds the export query for products with their variants,
// images and metafields. A non-nil since restricts it to products updated at
// or after that instant.
func ProductsBulkQuery(since *time.Time) string {
	filter := ""
	if since != nil {
		filter = fmt.Sprintf(`(query: "updated_at:>='%s'")`, since.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf(`{
  products%s {
    edges {
      node {
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
        variants {
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
        media {
          edges {
            node {
              ... on MediaImage { id alt image { url altText } }
            }
          }
        }
        metafields {
          edges {
            node { id namespace key value type }
          }
        }
      }
    }
  }
}`, filter)
}

// ExecuteBulkOperation submits query as a bulk operation and polls it until
// it reaches a terminal state. Polling stops only when ctx is done.
func (c *Client) ExecuteBulkOperation(ctx context.Context, query string) (*BulkOperationResult, error) {
	var submitted struct {
		BulkOperationRunQuery struct {
			BulkOperation *BulkOperationResult `json:"bulkOperation"`
			UserErrors    []UserError          `json:"userErrors"`
		} `json:"bulkOperationRunQuery"`
	}
	if err := c.DoWithRetry(ctx, bulkRunMutation, map[string]interface{}{"query": query}, &submitted); err != nil {
		return nil, fmt.Errorf("failed to submit bulk operation: %w", err)
	}
	run := submitted.BulkOperationRunQuery
	if len(run.UserErrors) > 0 {
		return nil, &UserErrorsError{Operation: "bulkOperationRunQuery", Errors: run.UserErrors}
	}
	if run.BulkOperation == nil || run.BulkOperation.ID == "" {
		return nil, errors.New("bulk operation submission returned no operation")
	}

	id := run.BulkOperation.ID
	c.logger.Info("Bulk operation %s submitted on %s", id, c.shopDomain)

	for {
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}

		op, err := c.BulkOperationStatus(ctx, id)
		if err != nil {
			return nil, err
		}

		switch op.Status {
		case BulkStatusCompleted:
			c.logger.Info("Bulk operation %s completed: %d objects, %d bytes", id, op.ObjectCount, op.FileSize)
			return op, nil
		case BulkStatusFailed, BulkStatusCanceled, BulkStatusExpired:
			return op, &BulkOperationError{ID: id, Status: op.Status, ErrorCode: op.ErrorCode}
		default:
			c.logger.Debug("Bulk operation %s is %s (%d objects so far)", id, op.Status, op.ObjectCount)
		}
	}
}

// BulkOperationStatus polls one bulk operation.
func (c *Client) BulkOperationStatus(ctx context.Context, id string) (*BulkOperationResult, error) {
	var out struct {
		Node *BulkOperationResult `json:"node"`
	}
	if err := c.DoWithRetry(ctx, bulkStatusQuery, map[string]interface{}{"id": id}, &out); err != nil {
		return nil, fmt.Errorf("failed to poll bulk operation %s: %w", id, err)
	}
	if out.Node == nil {
		return nil, fmt.Errorf("bulk operation %s: %w", id, ErrNotFound)
	}
	return out.Node, nil
}

// DownloadBulkResults streams the JSONL export at url and rebuilds products
// from it.
func (c *Client) DownloadBulkResults(ctx context.Context, url string) (*BulkParseResult, error) {
	if url == "" {
		return &BulkParseResult{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download bulk results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return ParseBulkJSONL(resp.Body, c.logger)
}

// BulkParseResult is the outcome of reading one export.
type BulkParseResult struct {
	Products []BulkProduct
	Lines    int
	// Skipped counts lines that were not valid JSON objects.
	Skipped int
	// Unknown counts lines whose id does not name a known type.
	Unknown int
	// Orphans counts children whose parent product never appeared.
	Orphans int
}

type bulkHeader struct {
	ID       string `json:"id"`
	ParentID string `json:"__parentId"`
}

type rawProduct struct {
	Title           string     `json:"title"`
	DescriptionHTML string     `json:"descriptionHtml"`
	BodyHTML        string     `json:"bodyHtml"`
	Vendor          string     `json:"vendor"`
	ProductType     string     `json:"productType"`
	Handle          string     `json:"handle"`
	Status          string     `json:"status"`
	Tags            tagList    `json:"tags"`
	CreatedAt       *time.Time `json:"createdAt"`
	UpdatedAt       *time.Time `json:"updatedAt"`
}

type rawWeight struct {
	Unit  string  `json:"unit"`
	Value float64 `json:"value"`
}

type rawVariant struct {
	Title             string     `json:"title"`
	Price             flexString `json:"price"`
	SKU               string     `json:"sku"`
	Position          int        `json:"position"`
	InventoryQuantity *int       `json:"inventoryQuantity"`
	Weight            *float64   `json:"weight"`
	WeightUnit        string     `json:"weightUnit"`
	InventoryItem     *struct {
		Measurement *struct {
			Weight *rawWeight `json:"weight"`
		} `json:"measurement"`
	} `json:"inventoryItem"`
}

type rawImage struct {
	URL         string `json:"url"`
	Src         string `json:"src"`
	OriginalSrc string `json:"originalSrc"`
	Alt         string `json:"alt"`
	AltText     string `json:"altText"`
	Image       *struct {
		URL         string `json:"url"`
		OriginalSrc string `json:"originalSrc"`
		AltText     string `json:"altText"`
	} `json:"image"`
}

type rawMetafield struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type"`
}

// ParseBulkJSONL rebuilds products from a bulk export. Each line is classified
// by the type segment of its GID; children are attached through __parentId
// once the whole stream has been read. Products, images and metafields are
// ordered by GID and variants by position, so line order does not matter.
// Malformed lines are logged and skipped.
func ParseBulkJSONL(r io.Reader, log *logger.Logger) (*BulkParseResult, error) {
	result := &BulkParseResult{}
	products := make(map[string]*BulkProduct)
	var order []string
	var variants []BulkVariant
	var images []BulkImage
	var metafields []BulkMetafield

	reader := bufio.NewReader(r)
	for {
		line, readErr := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			result.Lines++
			var header bulkHeader
			if err := json.Unmarshal(line, &header); err != nil {
				result.Skipped++
				log.Warn("Skipping malformed bulk line %d: %v", result.Lines, err)
			} else {
				switch GIDType(header.ID) {
				case "Product":
					var raw rawProduct
					if err := json.Unmarshal(line, &raw); err != nil {
						result.Skipped++
						log.Warn("Skipping malformed product line %d: %v", result.Lines, err)
						break
					}
					if _, seen := products[header.ID]; !seen {
						order = append(order, header.ID)
					}
					products[header.ID] = raw.toProduct(header.ID)
				case "ProductVariant":
					var raw rawVariant
					if err := json.Unmarshal(line, &raw); err != nil {
						result.Skipped++
						log.Warn("Skipping malformed variant line %d: %v", result.Lines, err)
						break
					}
					variants = append(variants, raw.toVariant(header))
				case "MediaImage", "ProductImage", "ImageSource", "Image":
					var raw rawImage
					if err := json.Unmarshal(line, &raw); err != nil {
						result.Skipped++
						log.Warn("Skipping malformed image line %d: %v", result.Lines, err)
						break
					}
					images = append(images, raw.toImage(header))
				case "Metafield":
					var raw rawMetafield
					if err := json.Unmarshal(line, &raw); err != nil {
						result.Skipped++
						log.Warn("Skipping malformed metafield line %d: %v", result.Lines, err)
						break
					}
					metafields = append(metafields, BulkMetafield{
						ID:        header.ID,
						ParentID:  header.ParentID,
						Namespace: raw.Namespace,
						Key:       raw.Key,
						Value:     raw.Value,
						Type:      raw.Type,
					})
				default:
					result.Unknown++
					log.Debug("Ignoring bulk line %d with unknown id %q", result.Lines, header.ID)
				}
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read bulk results: %w", readErr)
		}
	}

	for _, v := range variants {
		if p, ok := products[v.ParentID]; ok {
			p.Variants = append(p.Variants, v)
		} else {
			result.Orphans++
		}
	}
	for _, img := range images {
		if img.URL == "" {
			continue
		}
		if p, ok := products[img.ParentID]; ok {
			p.Images = append(p.Images, img)
		} else {
			result.Orphans++
		}
	}
	for _, mf := range metafields {
		if p, ok := products[mf.ParentID]; ok {
			p.Metafields = append(p.Metafields, mf)
		} else {
			result.Orphans++
		}
	}

	sort.Slice(order, func(i, j int) bool { return gidLess(order[i], order[j]) })
	result.Products = make([]BulkProduct, 0, len(order))
	for _, id := range order {
		p := products[id]
		sort.Slice(p.Variants, func(i, j int) bool {
			if p.Variants[i].Position != p.Variants[j].Position {
				return p.Variants[i].Position < p.Variants[j].Position
			}
			return gidLess(p.Variants[i].ID, p.Variants[j].ID)
		})
		sort.Slice(p.Images, func(i, j int) bool { return gidLess(p.Images[i].ID, p.Images[j].ID) })
		sort.Slice(p.Metafields, func(i, j int) bool { return gidLess(p.Metafields[i].ID, p.Metafields[j].ID) })
		result.Products = append(result.Products, *p)
	}

	if result.Orphans > 0 {
		log.Warn("Bulk export had %d children without a parent product", result.Orphans)
	}
	return result, nil
}

func (raw rawProduct) toProduct(id string) *BulkProduct {
	p := &BulkProduct{
		ID:              id,
		Title:           raw.Title,
		DescriptionHTML: raw.DescriptionHTML,
		Vendor:          raw.Vendor,
		ProductType:     raw.ProductType,
		Handle:          raw.Handle,
		Status:          raw.Status,
		Tags:            []string(raw.Tags),
	}
	if p.DescriptionHTML == "" {
		p.DescriptionHTML = raw.BodyHTML
	}
	if raw.CreatedAt != nil {
		p.CreatedAt = *raw.CreatedAt
	}
	if raw.UpdatedAt != nil {
		p.UpdatedAt = *raw.UpdatedAt
	}
	return p
}

func (raw rawVariant) toVariant(h bulkHeader) BulkVariant {
	v := BulkVariant{
		ID:         h.ID,
		ParentID:   h.ParentID,
		Title:      raw.Title,
		Price:      string(raw.Price),
		SKU:        raw.SKU,
		Position:   raw.Position,
		Weight:     raw.Weight,
		WeightUnit: raw.WeightUnit,
	}
	if raw.InventoryQuantity != nil {
		v.InventoryQuantity = *raw.InventoryQuantity
	}
	if raw.InventoryItem != nil && raw.InventoryItem.Measurement != nil && raw.InventoryItem.Measurement.Weight != nil {
		w := raw.InventoryItem.Measurement.Weight
		value := w.Value
		v.Weight = &value
		v.WeightUnit = w.Unit
	}
	return v
}

func (raw rawImage) toImage(h bulkHeader) BulkImage {
	img := BulkImage{ID: h.ID, ParentID: h.ParentID}
	if raw.Image != nil {
		img.URL = firstNonEmpty(raw.Image.URL, raw.Image.OriginalSrc)
		img.AltText = raw.Image.AltText
	}
	if img.URL == "" {
		img.URL = firstNonEmpty(raw.URL, raw.Src, raw.OriginalSrc)
	}
	if img.AltText == "" {
		img.AltText = firstNonEmpty(raw.AltText, raw.Alt)
	}
	return img
}

// GIDType returns the type segment of a Shopify global id, for example
// "ProductVariant" for gid://shopify/ProductVariant/1. It returns "" for
// anything else.
func GIDType(gid string) string {
	rest, ok := strings.CutPrefix(gid, "gid://shopify/")
	if !ok {
		return ""
	}
	typ, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return typ
}

// gidLess orders GIDs of one type by their numeric id, which Shopify assigns
// in creation order.
func gidLess(a, b string) bool {
	na, errA := strconv.ParseInt(a[strings.LastIndexByte(a, '/')+1:], 10, 64)
	nb, errB := strconv.ParseInt(b[strings.LastIndexByte(b, '/')+1:], 10, 64)
	if errA == nil && errB == nil && na != nb {
		return na < nb
	}
	return a < b
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
