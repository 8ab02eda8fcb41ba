package shopify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCalls struct {
	mu    sync.Mutex
	calls []graphQLRequest
}

func (r *recordedCalls) add(req graphQLRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
}

func (r *recordedCalls) find(op string) *graphQLRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.calls {
		if strings.Contains(r.calls[i].Query, op) {
			return &r.calls[i]
		}
	}
	return nil
}

const createdProduct = `{"id":"gid://shopify/Product/77","variants":{"edges":[{"node":{"id":"gid://shopify/ProductVariant/770","inventoryItem":{"id":"gid://shopify/InventoryItem/7700"}}}]}}`

func productMutationServer(t *testing.T, rec *recordedCalls) *Client {
	t.Helper()
	srv := graphqlServer(t, func(req graphQLRequest) (int, string) {
		rec.add(req)
		switch {
		case strings.Contains(req.Query, "productCreate("):
			return 200, `{"data":{"productCreate":{"product":` + createdProduct + `,"userErrors":[]}}}`
		case strings.Contains(req.Query, "productUpdate("):
			return 200, `{"data":{"productUpdate":{"product":` + createdProduct + `,"userErrors":[]}}}`
		case strings.Contains(req.Query, "productVariantsBulkUpdate("):
			return 200, `{"data":{"productVariantsBulkUpdate":{"productVariants":[{"id":"gid://shopify/ProductVariant/770"}],"userErrors":[]}}}`
		case strings.Contains(req.Query, "locations("):
			return 200, `{"data":{"locations":{"edges":[{"node":{"id":"gid://shopify/Location/1"}}]}}}`
		case strings.Contains(req.Query, "inventorySetQuantities("):
			return 200, `{"data":{"inventorySetQuantities":{"userErrors":[]}}}`
		case strings.Contains(req.Query, "metafieldsSet("):
			return 200, `{"data":{"metafieldsSet":{"metafields":[{"id":"gid://shopify/Metafield/1"}],"userErrors":[]}}}`
		}
		return 400, `unexpected query`
	})
	c, _ := newTestClient(t, srv)
	return c
}

func TestCreateProductSetsVariantAndStock(t *testing.T) {
	rec := &recordedCalls{}
	c := productMutationServer(t, rec)

	price := "12.00"
	qty := 5
	kg := 0.3
	ref, err := c.CreateProduct(context.Background(), ProductPayload{
		Title:     "Cup",
		Status:    "ACTIVE",
		Price:     &price,
		Inventory: &qty,
		WeightKg:  &kg,
		Images:    []string{"https://cdn.example.com/cup.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/Product/77", ref.ID)
	assert.Equal(t, "gid://shopify/ProductVariant/770", ref.VariantID)

	create := rec.find("productCreate(")
	require.NotNil(t, create)
	assert.Contains(t, create.Variables, "media")

	variants := rec.find("productVariantsBulkUpdate(")
	require.NotNil(t, variants)
	assert.Equal(t, "gid://shopify/Product/77", variants.Variables["productId"])

	inv := rec.find("inventorySetQuantities(")
	require.NotNil(t, inv)
	assert.Contains(t, toJSON(t, inv.Variables), `"locationId":"gid://shopify/Location/1"`)
	assert.Contains(t, toJSON(t, inv.Variables), `"quantity":5`)
}

func TestUpdateProductSkipsMediaAndUnsetFields(t *testing.T) {
	rec := &recordedCalls{}
	c := productMutationServer(t, rec)

	_, err := c.UpdateProduct(context.Background(), "gid://shopify/Product/77", ProductPayload{
		Title:  "Cup v2",
		Images: []string{"https://cdn.example.com/cup.jpg"},
	})
	require.NoError(t, err)

	update := rec.find("productUpdate(")
	require.NotNil(t, update)
	assert.NotContains(t, update.Variables, "media")
	assert.Contains(t, toJSON(t, update.Variables), `"id":"gid://shopify/Product/77"`)
	assert.Nil(t, rec.find("productVariantsBulkUpdate("), "no price or weight to write")
	assert.Nil(t, rec.find("inventorySetQuantities("))
}

func TestCreateProductUserErrors(t *testing.T) {
	srv := graphqlServer(t, func(graphQLRequest) (int, string) {
		return 200, `{"data":{"productCreate":{"product":null,"userErrors":[{"field":["title"],"message":"Title can't be blank"}]}}}`
	})
	c, _ := newTestClient(t, srv)

	_, err := c.CreateProduct(context.Background(), ProductPayload{})
	var ue *UserErrorsError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "productCreate failed: title: Title can't be blank", ue.Error())
}

func TestDeleteProductNotFound(t *testing.T) {
	srv := graphqlServer(t, func(graphQLRequest) (int, string) {
		return 200, `{"data":{"productDelete":{"deletedProductId":null,"userErrors":[{"field":["id"],"message":"Product does not exist"}]}}}`
	})
	c, _ := newTestClient(t, srv)

	err := c.DeleteProduct(context.Background(), "gid://shopify/Product/1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteProduct(t *testing.T) {
	srv := graphqlServer(t, func(graphQLRequest) (int, string) {
		return 200, `{"data":{"productDelete":{"deletedProductId":"gid://shopify/Product/1","userErrors":[]}}}`
	})
	c, _ := newTestClient(t, srv)
	assert.NoError(t, c.DeleteProduct(context.Background(), "gid://shopify/Product/1"))
}

func TestGetProduct(t *testing.T) {
	srv := graphqlServer(t, func(req graphQLRequest) (int, string) {
		assert.Equal(t, "gid://shopify/Product/5", req.Variables["id"])
		return 200, `{"data":{"product":{
			"id":"gid://shopify/Product/5","title":"Lamp","descriptionHtml":"<b>Bright</b>","vendor":"Lux","status":"ACTIVE","tags":["home"],
			"updatedAt":"2024-04-01T00:00:00Z",
			"variants":{"edges":[{"node":{"id":"gid://shopify/ProductVariant/50","price":"40.00","position":1,"inventoryQuantity":2,
				"inventoryItem":{"measurement":{"weight":{"unit":"POUNDS","value":2}}}}}]},
			"media":{"edges":[{"node":{"id":"gid://shopify/MediaImage/9","image":{"url":"https://cdn.example.com/l.jpg"}}},{"node":{}}]},
			"metafields":{"edges":[{"node":{"id":"gid://shopify/Metafield/3","namespace":"catalog_sync","key":"original_id","value":"p-1","type":"single_line_text_field"}}]}
		}}}`
	})
	c, _ := newTestClient(t, srv)

	bp, err := c.GetProduct(context.Background(), "gid://shopify/Product/5")
	require.NoError(t, err)
	assert.Equal(t, "Lamp", bp.Title)
	require.Len(t, bp.Variants, 1)
	assert.Equal(t, "POUNDS", bp.Variants[0].WeightUnit)
	require.Len(t, bp.Images, 1)
	require.Len(t, bp.Metafields, 1)
	assert.True(t, bp.UpdatedAt.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))

	local := FromBulkProduct(bp)
	assert.InDelta(t, 0.90718474, *local.Weight, 1e-9)
}

func TestGetProductMissing(t *testing.T) {
	srv := graphqlServer(t, func(graphQLRequest) (int, string) {
		return 200, `{"data":{"product":null}}`
	})
	c, _ := newTestClient(t, srv)

	_, err := c.GetProduct(context.Background(), "gid://shopify/Product/404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetMetafields(t *testing.T) {
	rec := &recordedCalls{}
	c := productMutationServer(t, rec)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	fields := SyncMetafields("gid://shopify/Product/77", "local-1", at)
	require.NoError(t, c.SetMetafields(context.Background(), fields))

	call := rec.find("metafieldsSet(")
	require.NotNil(t, call)
	body := toJSON(t, call.Variables)
	assert.Contains(t, body, `"key":"sync_source"`)
	assert.Contains(t, body, `"value":"local-1"`)
	assert.Contains(t, body, `"value":"2024-01-02T03:04:05Z"`)

	assert.NoError(t, c.SetMetafields(context.Background(), nil))
}

func TestSetInventoryConcurrentLoadsLocationOnce(t *testing.T) {
	rec := &recordedCalls{}
	c := productMutationServer(t, rec)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			errs <- c.SetInventory(context.Background(), "gid://shopify/InventoryItem/7700", qty)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var lookups, writes int
	for _, call := range rec.calls {
		switch {
		case strings.Contains(call.Query, "locations("):
			lookups++
		case strings.Contains(call.Query, "inventorySetQuantities("):
			writes++
		}
	}
	assert.Equal(t, 1, lookups)
	assert.Equal(t, 5, writes)
}
