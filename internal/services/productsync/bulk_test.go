package productsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"catalogsync/internal/database"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/services/shopify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hikingBoot = strings.Join([]string{
	`{"id":"gid://shopify/Product/1","title":"Hiking Boot","descriptionHtml":"<p>Waterproof</p>","vendor":"Peak","productType":"Boots","status":"ACTIVE","tags":["outdoor"],"updatedAt":"2024-05-01T10:00:00Z"}`,
	`{"id":"gid://shopify/ProductVariant/12","price":"139.00","position":2,"inventoryQuantity":1,"__parentId":"gid://shopify/Product/1"}`,
	`{"id":"gid://shopify/ProductVariant/11","price":"129.00","position":1,"inventoryQuantity":6,"inventoryItem":{"measurement":{"weight":{"unit":"GRAMS","value":900}}},"__parentId":"gid://shopify/Product/1"}`,
	`{"id":"gid://shopify/MediaImage/21","image":{"url":"https://cdn.example.com/1.jpg"},"__parentId":"gid://shopify/Product/1"}`,
	`{"id":"gid://shopify/MediaImage/22","image":{"url":"https://cdn.example.com/2.jpg"},"__parentId":"gid://shopify/Product/1"}`,
	`{"id":"gid://shopify/MediaImage/23","image":{"url":"https://cdn.example.com/3.jpg"},"__parentId":"gid://shopify/Product/1"}`,
	`{"id":"gid://shopify/Metafield/31","namespace":"custom","key":"material","value":"leather","type":"single_line_text_field","__parentId":"gid://shopify/Product/1"}`,
}, "\n")

func newImporter(f *fixture, batchSize int) *BulkImporter {
	return NewBulkImporter(f.api, f.catalog, f.conn, batchSize, logger.NewNop())
}

func TestFullImportEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.export = hikingBoot

	res, err := newImporter(f, 10).FullImport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalProducts)
	assert.Equal(t, 1, res.SuccessfulImports)
	assert.Zero(t, res.FailedImports)
	assert.NotContains(t, f.api.queries[0], "updated_at")

	m, err := f.catalog.FindMappingByExternalID(ctx, f.conn.OwnerID, models.PlatformShopify, "gid://shopify/Product/1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, m.SyncStatus)
	require.NotNil(t, m.ExternalVariantID)
	assert.Equal(t, "gid://shopify/ProductVariant/11", *m.ExternalVariantID)

	p, err := f.catalog.GetProduct(ctx, f.conn.OwnerID, m.ProductID)
	require.NoError(t, err)
	assert.Equal(t, "Hiking Boot", p.Title)
	assert.Equal(t, "Waterproof", *p.Description)
	assert.Equal(t, "129", p.Price.String())
	assert.Equal(t, 6, p.Inventory)
	assert.InDelta(t, 0.9, *p.Weight, 1e-9)
	assert.Len(t, p.Images, 3)

	logs := f.logs(t, database.LogFilter{Operation: models.OperationBulkImport})
	require.Len(t, logs, 1, "the in-flight row is completed in place")
	assert.Equal(t, models.LogStatusSuccess, logs[0].Status)
	assert.Equal(t, models.LogSubjectBulkImport, logs[0].ProductID)
	assert.Contains(t, logs[0].Message, "imported 1 of 1")
}

func TestFullImportSkipsLinkedProducts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.export = hikingBoot
	imp := newImporter(f, 10)

	_, err := imp.FullImport(ctx)
	require.NoError(t, err)

	f.api.export = strings.Replace(hikingBoot, `"title":"Hiking Boot"`, `"title":"Renamed"`, 1)
	res, err := imp.FullImport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.SuccessfulImports)

	m, err := f.catalog.FindMappingByExternalID(ctx, f.conn.OwnerID, models.PlatformShopify, "gid://shopify/Product/1")
	require.NoError(t, err)
	p, err := f.catalog.GetProduct(ctx, f.conn.OwnerID, m.ProductID)
	require.NoError(t, err)
	assert.Equal(t, "Hiking Boot", p.Title)
}

func TestIncrementalSyncOverwrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.export = hikingBoot
	imp := newImporter(f, 10)

	_, err := imp.FullImport(ctx)
	require.NoError(t, err)

	f.api.export = strings.Replace(hikingBoot, `"title":"Hiking Boot"`, `"title":"Hiking Boot II"`, 1)
	since := imp.now().Add(-24 * time.Hour)
	res, err := imp.IncrementalSync(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessfulImports)
	assert.Contains(t, f.api.queries[1], "updated_at:>=")

	m, err := f.catalog.FindMappingByExternalID(ctx, f.conn.OwnerID, models.PlatformShopify, "gid://shopify/Product/1")
	require.NoError(t, err)
	p, err := f.catalog.GetProduct(ctx, f.conn.OwnerID, m.ProductID)
	require.NoError(t, err)
	assert.Equal(t, "Hiking Boot II", p.Title)
}

func TestApplyBatchesSettleIndependently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var products []shopify.BulkProduct
	for i := 0; i < 23; i++ {
		title := fmt.Sprintf("Item %d", i)
		if i == 7 || i == 15 {
			title = ""
		}
		products = append(products, shopify.BulkProduct{ID: fmt.Sprintf("gid://shopify/Product/%d", i+1), Title: title})
	}

	res := newImporter(f, 10).Apply(ctx, products, false)
	assert.Equal(t, 23, res.TotalProducts)
	assert.Equal(t, 21, res.SuccessfulImports)
	assert.Equal(t, 2, res.FailedImports)
	assert.Len(t, res.Errors, 2)

	stats, err := f.catalog.SyncStats(ctx, f.conn.OwnerID, models.PlatformShopify)
	require.NoError(t, err)
	assert.EqualValues(t, 21, stats.SyncedProducts)
}

func TestBulkImportFailureCompletesLog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.bulkErr = &shopify.BulkOperationError{ID: "gid://shopify/BulkOperation/1", Status: "FAILED", ErrorCode: "INTERNAL_SERVER_ERROR"}

	_, err := newImporter(f, 10).FullImport(ctx)
	var be *shopify.BulkOperationError
	require.True(t, errors.As(err, &be))

	logs := f.logs(t, database.LogFilter{Operation: models.OperationBulkImport})
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogStatusError, logs[0].Status)
	assert.Contains(t, logs[0].Message, "INTERNAL_SERVER_ERROR")
}
