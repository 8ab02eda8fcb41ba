package syncmanager

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/connectors"
	"catalogsync/internal/connectors/amazon"
	"catalogsync/internal/database"
	"catalogsync/internal/database/dbtest"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/secrets"
	"catalogsync/internal/services/shopify"
	"catalogsync/internal/validation"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu      sync.Mutex
	next    int
	creates int
	updates int
	queries []string
}

func (f *fakeAPI) CreateProduct(context.Context, shopify.ProductPayload) (*shopify.ProductRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.creates++
	return &shopify.ProductRef{ID: fmt.Sprintf("gid://shopify/Product/%d", f.next)}, nil
}

func (f *fakeAPI) UpdateProduct(_ context.Context, id string, _ shopify.ProductPayload) (*shopify.ProductRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return &shopify.ProductRef{ID: id}, nil
}

func (f *fakeAPI) DeleteProduct(context.Context, string) error { return nil }

func (f *fakeAPI) GetProduct(_ context.Context, id string) (*shopify.BulkProduct, error) {
	return nil, fmt.Errorf("product %s: %w", id, shopify.ErrNotFound)
}

func (f *fakeAPI) SetMetafields(context.Context, []shopify.MetafieldInput) error { return nil }

func (f *fakeAPI) ExecuteBulkOperation(_ context.Context, query string) (*shopify.BulkOperationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return &shopify.BulkOperationResult{ID: "gid://shopify/BulkOperation/1", Status: shopify.BulkStatusCompleted}, nil
}

func (f *fakeAPI) DownloadBulkResults(context.Context, string) (*shopify.BulkParseResult, error) {
	return &shopify.BulkParseResult{}, nil
}

type harness struct {
	mgr     *Manager
	api     *fakeAPI
	catalog *database.Catalog
	conns   *database.Connections
	delays  []time.Duration
}

func syncConfig() config.SyncConfig {
	return config.SyncConfig{
		BulkBatchSize:     10,
		MultiBatchSize:    5,
		MultiBatchDelay:   time.Second,
		MaxErrorCount:     3,
		IncrementalWindow: 24 * time.Hour,
		WarningRatio:      0.05,
		ErrorRatio:        0.10,
	}
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	db := dbtest.New(t)
	box, err := secrets.NewBox("k")
	require.NoError(t, err)
	log := logger.NewNop()

	h := &harness{
		api:     &fakeAPI{},
		catalog: database.NewCatalog(db),
		conns:   database.NewConnections(db, box),
	}
	h.mgr = New(Deps{
		Config:      cfg,
		Catalog:     h.catalog,
		Connections: h.conns,
		Validator:   validation.New(log),
		Registry:    connectors.Registry{models.PlatformAmazon: amazon.Builder(log)},
		NewClient:   func(*models.PlatformConnection) (ShopifyAPI, error) { return h.api, nil },
		Logger:      log,
	})
	h.mgr.sleep = func(ctx context.Context, d time.Duration) error {
		h.delays = append(h.delays, d)
		return ctx.Err()
	}
	return h
}

func (h *harness) connect(t *testing.T, owner string) *models.PlatformConnection {
	t.Helper()
	conn := &models.PlatformConnection{
		OwnerID:        owner,
		Platform:       models.PlatformShopify,
		ConnectionName: "main",
		Configuration:  models.DefaultConnectionConfig(),
		IsActive:       true,
		Secrets:        &models.Credentials{ShopDomain: owner + ".myshopify.com", AccessToken: "shpat"},
	}
	require.NoError(t, h.conns.Create(context.Background(), conn))
	return conn
}

func (h *harness) products(t *testing.T, owner string, n int) []string {
	t.Helper()
	var ids []string
	for i := 0; i < n; i++ {
		p := &models.Product{OwnerID: owner, Title: fmt.Sprintf("P%d", i), Price: decimal.NewFromInt(int64(i + 1))}
		require.NoError(t, h.catalog.CreateProduct(context.Background(), p))
		ids = append(ids, p.ID)
	}
	return ids
}

// mapping stores a mapping for productID with the given status and error count.
func (h *harness) mapping(t *testing.T, owner, productID string, status models.SyncStatus, errorCount int) {
	t.Helper()
	require.NoError(t, h.catalog.SaveMapping(context.Background(), &models.ChannelMapping{
		ProductID:  productID,
		OwnerID:    owner,
		Platform:   models.PlatformShopify,
		ExternalID: "gid://shopify/Product/" + productID,
		SyncStatus: status,
		ErrorCount: errorCount,
	}))
}

func TestSandboxImportsAreMarked(t *testing.T) {
	h := newHarness(t, &config.Config{SandboxMode: true, Sync: syncConfig()})

	res, err := h.mgr.PerformFullImport(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.True(t, res.Sandbox)
	assert.Zero(t, res.TotalProducts)
	assert.Empty(t, h.api.queries)
}

func TestWithoutConnection(t *testing.T) {
	h := newHarness(t, &config.Config{Sync: syncConfig()})
	_, err := h.mgr.PerformFullImport(context.Background(), "owner-1")
	assert.ErrorIs(t, err, ErrNoConnection)
}

func TestSyncMultipleProductsBatches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &config.Config{Sync: syncConfig()})
	h.connect(t, "owner-1")
	ids := h.products(t, "owner-1", 7)

	res, err := h.mgr.SyncMultipleProductsToShopify(ctx, "owner-1", ids)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Total)
	assert.Equal(t, 7, res.Successful)
	assert.Equal(t, []time.Duration{time.Second}, h.delays, "one pause between two batches")
	assert.Equal(t, 7, h.api.creates)

	_, err = h.mgr.SyncMultipleProductsToShopify(ctx, "owner-1", ids[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, h.api.updates, "linked products are updated")

	res, err = h.mgr.SyncMultipleProductsToShopify(ctx, "owner-1", []string{"missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
}

func TestSyncPendingRespectsErrorCeiling(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &config.Config{Sync: syncConfig()})
	h.connect(t, "owner-1")
	ids := h.products(t, "owner-1", 4)

	h.mapping(t, "owner-1", ids[0], models.SyncStatusPending, 0)
	h.mapping(t, "owner-1", ids[1], models.SyncStatusError, 2)
	h.mapping(t, "owner-1", ids[2], models.SyncStatusError, 3)
	h.mapping(t, "owner-1", ids[3], models.SyncStatusSuccess, 0)

	res, err := h.mgr.SyncPendingProducts(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	var synced []string
	for _, r := range res.Results {
		synced = append(synced, r.ProductID)
	}
	assert.ElementsMatch(t, []string{ids[0], ids[1]}, synced)
}

func TestSyncHealthThresholds(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		errors int
		want   string
	}{
		{0, HealthHealthy},
		{1, HealthHealthy},
		{2, HealthWarning},
		{3, HealthError},
	}
	for _, tt := range tests {
		h := newHarness(t, &config.Config{Sync: syncConfig()})
		ids := h.products(t, "owner-1", 20)
		for i := 0; i < tt.errors; i++ {
			h.mapping(t, "owner-1", ids[i], models.SyncStatusError, 1)
		}

		health, err := h.mgr.GetSyncHealth(ctx, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, tt.want, health.Status, "%d errors out of 20", tt.errors)
		assert.EqualValues(t, 20, health.Stats.TotalProducts)
	}
}

func TestConnectionCheckUsesRegistry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &config.Config{Sync: syncConfig()})
	conn := &models.PlatformConnection{
		OwnerID:        "owner-1",
		Platform:       models.PlatformAmazon,
		ConnectionName: "eu",
		IsActive:       true,
		Secrets:        &models.Credentials{SellerID: "S", MarketplaceID: "M", RefreshToken: "R"},
	}
	require.NoError(t, h.conns.Create(ctx, conn))

	res, err := h.mgr.TestConnection(ctx, "owner-1", conn.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	stored, err := h.conns.Get(ctx, "owner-1", conn.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastConnected)

	_, err = h.mgr.TestConnection(ctx, "owner-2", conn.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestScheduledSyncRunsIncrementalImports(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &config.Config{Sync: syncConfig()})
	h.connect(t, "owner-1")
	off := h.connect(t, "owner-2")
	off.Configuration.AutoSync = false
	require.NoError(t, h.conns.Update(ctx, off))

	require.NoError(t, h.mgr.RunScheduledSync(ctx))
	require.Len(t, h.api.queries, 1)
	assert.Contains(t, h.api.queries[0], "updated_at:>=")
}

func TestStartStop(t *testing.T) {
	cfg := syncConfig()
	cfg.ScheduleInterval = time.Millisecond
	h := newHarness(t, &config.Config{Sync: cfg})
	h.connect(t, "owner-1")

	h.mgr.Start(context.Background())
	require.Eventually(t, func() bool {
		h.api.mu.Lock()
		defer h.api.mu.Unlock()
		return len(h.api.queries) > 0
	}, 2*time.Second, 5*time.Millisecond)
	h.mgr.Stop()
}

// dropSessionHook evicts the owner's cached session as soon as the manager
// logs that it built one, the way a concurrent Initialize for a deactivated
// connection would.
type dropSessionHook struct {
	mgr   *Manager
	owner string
}

func (h dropSessionHook) Levels() []logrus.Level { return []logrus.Level{logrus.InfoLevel} }

func (h dropSessionHook) Fire(e *logrus.Entry) error {
	if strings.HasPrefix(e.Message, "Sync initialized") {
		h.mgr.mu.Lock()
		delete(h.mgr.sessions, h.owner)
		h.mgr.mu.Unlock()
	}
	return nil
}

func TestSessionSurvivesConcurrentEviction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &config.Config{Sync: syncConfig()})
	h.connect(t, "owner-1")
	ids := h.products(t, "owner-1", 1)

	base := logrus.New()
	base.SetOutput(io.Discard)
	base.AddHook(dropSessionHook{mgr: h.mgr, owner: "owner-1"})
	h.mgr.logger = logger.Wrap(base)

	res, err := h.mgr.SyncProduct(ctx, "owner-1", ids[0])
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, 1, h.api.creates)
}
