package productsync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"catalogsync/internal/database"
	"catalogsync/internal/database/dbtest"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/services/shopify"
	"catalogsync/internal/validation"

	"github.com/stretchr/testify/require"
)

// fakeShopify records calls and answers from canned data.
type fakeShopify struct {
	mu sync.Mutex

	nextID     int
	created    []shopify.ProductPayload
	updated    map[string]shopify.ProductPayload
	deleted    []string
	metafields [][]shopify.MetafieldInput
	products   map[string]*shopify.BulkProduct

	createErr error
	// stockErr is returned alongside the ref of a product that was created.
	stockErr  error
	updateErr error
	deleteErr error

	queries []string
	bulkErr error
	export  string
}

func newFake() *fakeShopify {
	return &fakeShopify{
		updated:  map[string]shopify.ProductPayload{},
		products: map[string]*shopify.BulkProduct{},
	}
}

func (f *fakeShopify) CreateProduct(_ context.Context, p shopify.ProductPayload) (*shopify.ProductRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	f.created = append(f.created, p)
	return &shopify.ProductRef{
		ID:              fmt.Sprintf("gid://shopify/Product/%d", f.nextID),
		VariantID:       fmt.Sprintf("gid://shopify/ProductVariant/%d0", f.nextID),
		InventoryItemID: fmt.Sprintf("gid://shopify/InventoryItem/%d00", f.nextID),
	}, f.stockErr
}

func (f *fakeShopify) UpdateProduct(_ context.Context, id string, p shopify.ProductPayload) (*shopify.ProductRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updated[id] = p
	return &shopify.ProductRef{ID: id}, nil
}

func (f *fakeShopify) DeleteProduct(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func (f *fakeShopify) GetProduct(_ context.Context, id string) (*shopify.BulkProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bp, ok := f.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, shopify.ErrNotFound)
	}
	return bp, nil
}

func (f *fakeShopify) SetMetafields(_ context.Context, fields []shopify.MetafieldInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metafields = append(f.metafields, fields)
	return nil
}

func (f *fakeShopify) ExecuteBulkOperation(_ context.Context, query string) (*shopify.BulkOperationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	return &shopify.BulkOperationResult{
		ID:     "gid://shopify/BulkOperation/1",
		Status: shopify.BulkStatusCompleted,
		URL:    "https://storage.example.com/export.jsonl",
	}, nil
}

func (f *fakeShopify) DownloadBulkResults(_ context.Context, url string) (*shopify.BulkParseResult, error) {
	f.mu.Lock()
	export := f.export
	f.mu.Unlock()
	return shopify.ParseBulkJSONL(strings.NewReader(export), logger.NewNop())
}

type fixture struct {
	catalog *database.Catalog
	api     *fakeShopify
	svc     *Service
	conn    *models.PlatformConnection
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog := database.NewCatalog(dbtest.New(t))
	api := newFake()
	conn := &models.PlatformConnection{
		ID:            "conn-1",
		OwnerID:       "owner-1",
		Platform:      models.PlatformShopify,
		Configuration: models.DefaultConnectionConfig(),
	}
	log := logger.NewNop()
	return &fixture{
		catalog: catalog,
		api:     api,
		conn:    conn,
		svc:     NewService(api, catalog, validation.New(log), conn, log),
	}
}

func (f *fixture) logs(t *testing.T, filter database.LogFilter) []models.SyncLog {
	t.Helper()
	logs, err := f.catalog.ListSyncLogs(context.Background(), f.conn.OwnerID, filter)
	require.NoError(t, err)
	return logs
}
