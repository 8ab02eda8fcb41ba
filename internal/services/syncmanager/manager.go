package syncmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/connectors"
	"catalogsync/internal/database"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/services/productsync"
	"catalogsync/internal/services/shopify"
	"catalogsync/internal/validation"

	"golang.org/x/sync/errgroup"
)

var ErrNoConnection = errors.New("no active shopify connection")

// ShopifyAPI is everything the manager needs from a Shopify client.
type ShopifyAPI interface {
	productsync.ProductAPI
	productsync.BulkAPI
}

// ClientFactory builds the Shopify client for a stored connection.
type ClientFactory func(conn *models.PlatformConnection) (ShopifyAPI, error)

// Health levels.
const (
	HealthHealthy = "healthy"
	HealthWarning = "warning"
	HealthError   = "error"
)

type SyncHealth struct {
	Status     string                     `json:"status"`
	ErrorRatio float64                    `json:"error_ratio"`
	Stats      *database.SyncStats        `json:"stats"`
	LastImport *models.SyncLog            `json:"last_import,omitempty"`
	Connection *models.PlatformConnection `json:"connection,omitempty"`
}

// BatchResult tallies a multi-product push.
type BatchResult struct {
	Total      int                       `json:"total"`
	Successful int                       `json:"successful"`
	Failed     int                       `json:"failed"`
	Results    []*productsync.SyncResult `json:"results"`
}

type session struct {
	conn     *models.PlatformConnection
	service  *productsync.Service
	importer *productsync.BulkImporter
}

// Manager ties the catalog to each owner's Shopify connection.
type Manager struct {
	cfg         config.SyncConfig
	sandbox     bool
	catalog     *database.Catalog
	connections *database.Connections
	validator   *validation.Validator
	registry    connectors.Registry
	newClient   ClientFactory
	logger      *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	cancel context.CancelFunc
	done   chan struct{}

	now   func() time.Time
	sleep shopify.Sleeper
}

type Deps struct {
	Config      *config.Config
	Catalog     *database.Catalog
	Connections *database.Connections
	Validator   *validation.Validator
	Registry    connectors.Registry
	NewClient   ClientFactory
	Logger      *logger.Logger
}

func New(d Deps) *Manager {
	return &Manager{
		cfg:         d.Config.Sync,
		sandbox:     d.Config.SandboxMode,
		catalog:     d.Catalog,
		connections: d.Connections,
		validator:   d.Validator,
		registry:    d.Registry,
		newClient:   d.NewClient,
		logger:      d.Logger,
		sessions:    map[string]*session{},
		now:         time.Now,
		sleep: func(ctx context.Context, dur time.Duration) error {
			t := time.NewTimer(dur)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// Initialize loads the owner's first active Shopify connection. Call it again
// to pick up connection changes.
func (m *Manager) Initialize(ctx context.Context, ownerID string) error {
	_, err := m.initialize(ctx, ownerID)
	return err
}

func (m *Manager) initialize(ctx context.Context, ownerID string) (*session, error) {
	conns, err := m.connections.ActiveConnections(ctx, ownerID, models.PlatformShopify)
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		m.mu.Lock()
		delete(m.sessions, ownerID)
		m.mu.Unlock()
		return nil, ErrNoConnection
	}

	conn := &conns[0]
	client, err := m.newClient(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create shopify client: %w", err)
	}

	s := &session{
		conn:     conn,
		service:  productsync.NewService(client, m.catalog, m.validator, conn, m.logger),
		importer: productsync.NewBulkImporter(client, m.catalog, conn, m.cfg.BulkBatchSize, m.logger),
	}

	m.mu.Lock()
	m.sessions[ownerID] = s
	m.mu.Unlock()

	m.logger.Info("Sync initialized for owner %s on %s", ownerID, conn.ShopDomain)
	return s, nil
}

// session returns the cached session, building one on first use.
func (m *Manager) session(ctx context.Context, ownerID string) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[ownerID]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	return m.initialize(ctx, ownerID)
}

func (m *Manager) GetSyncStats(ctx context.Context, ownerID string) (*database.SyncStats, error) {
	return m.catalog.SyncStats(ctx, ownerID, models.PlatformShopify)
}

func (m *Manager) PerformFullImport(ctx context.Context, ownerID string) (*productsync.ImportResult, error) {
	if m.sandbox {
		return sandboxResult(), nil
	}
	s, err := m.session(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	res, err := s.importer.FullImport(ctx)
	if err == nil {
		m.touch(ctx, s.conn)
	}
	return res, err
}

// PerformIncrementalSync imports products changed since the given time, or
// within the configured window when since is nil.
func (m *Manager) PerformIncrementalSync(ctx context.Context, ownerID string, since *time.Time) (*productsync.ImportResult, error) {
	if m.sandbox {
		return sandboxResult(), nil
	}
	s, err := m.session(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	from := m.now().Add(-m.cfg.IncrementalWindow)
	if since != nil {
		from = *since
	}
	res, err := s.importer.IncrementalSync(ctx, from)
	if err == nil {
		m.touch(ctx, s.conn)
	}
	return res, err
}

// SyncProduct pushes one product, creating it on Shopify unless it is
// already linked.
func (m *Manager) SyncProduct(ctx context.Context, ownerID, productID string) (*productsync.SyncResult, error) {
	s, err := m.session(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	p, err := m.catalog.GetProduct(ctx, ownerID, productID)
	if err != nil {
		return nil, err
	}

	mapping, err := m.catalog.GetMapping(ctx, productID, models.PlatformShopify)
	switch {
	case err == nil && mapping.ExternalID != "" && mapping.SyncStatus != models.SyncStatusDeleted:
		return s.service.UpdateProduct(ctx, p), nil
	case err == nil || errors.Is(err, database.ErrNotFound):
		return s.service.CreateProduct(ctx, p), nil
	default:
		return nil, err
	}
}

func (m *Manager) ImportProduct(ctx context.Context, ownerID, externalID string) (*productsync.SyncResult, error) {
	s, err := m.session(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.service.ImportProduct(ctx, externalID), nil
}

func (m *Manager) DeleteProduct(ctx context.Context, ownerID, productID string) (*productsync.SyncResult, error) {
	s, err := m.session(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.service.DeleteProduct(ctx, productID), nil
}

// SyncMultipleProductsToShopify pushes products in batches. Members of a
// batch run concurrently and batches are separated by the configured delay.
func (m *Manager) SyncMultipleProductsToShopify(ctx context.Context, ownerID string, productIDs []string) (*BatchResult, error) {
	if _, err := m.session(ctx, ownerID); err != nil {
		return nil, err
	}

	size := m.cfg.MultiBatchSize
	if size <= 0 {
		size = 5
	}
	out := &BatchResult{Total: len(productIDs), Results: make([]*productsync.SyncResult, len(productIDs))}

	for start := 0; start < len(productIDs); start += size {
		if start > 0 && m.cfg.MultiBatchDelay > 0 {
			if err := m.sleep(ctx, m.cfg.MultiBatchDelay); err != nil {
				return nil, err
			}
		}
		end := start + size
		if end > len(productIDs) {
			end = len(productIDs)
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				res, err := m.SyncProduct(ctx, ownerID, productIDs[i])
				if err != nil {
					res = &productsync.SyncResult{ProductID: productIDs[i], Error: err.Error()}
				}
				out.Results[i] = res
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, r := range out.Results {
		if r.Success {
			out.Successful++
		} else {
			out.Failed++
		}
	}
	return out, nil
}

// PendingProducts lists the mappings SyncPendingProducts would retry.
func (m *Manager) PendingProducts(ctx context.Context, ownerID string) ([]models.ChannelMapping, error) {
	return m.catalog.PendingMappings(ctx, ownerID, models.PlatformShopify, m.cfg.MaxErrorCount)
}

// SyncPendingProducts retries pending mappings and failed ones still under
// the error ceiling.
func (m *Manager) SyncPendingProducts(ctx context.Context, ownerID string) (*BatchResult, error) {
	pending, err := m.PendingProducts(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ProductID)
	}
	return m.SyncMultipleProductsToShopify(ctx, ownerID, ids)
}

// GetSyncHealth grades the error ratio of the owner's catalog.
func (m *Manager) GetSyncHealth(ctx context.Context, ownerID string) (*SyncHealth, error) {
	stats, err := m.GetSyncStats(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	h := &SyncHealth{Status: HealthHealthy, Stats: stats}
	if stats.TotalProducts > 0 {
		h.ErrorRatio = float64(stats.ErrorProducts) / float64(stats.TotalProducts)
	}
	switch {
	case h.ErrorRatio > m.cfg.ErrorRatio:
		h.Status = HealthError
	case h.ErrorRatio > m.cfg.WarningRatio:
		h.Status = HealthWarning
	}

	if last, err := m.catalog.LatestSyncLog(ctx, ownerID, models.PlatformShopify, models.OperationBulkImport); err == nil {
		h.LastImport = last
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	m.mu.RLock()
	if s, ok := m.sessions[ownerID]; ok {
		h.Connection = s.conn
	}
	m.mu.RUnlock()
	return h, nil
}

// TestConnection checks a stored connection's credentials against its
// platform and records the contact on success.
func (m *Manager) TestConnection(ctx context.Context, ownerID, connectionID string) (*connectors.TestResult, error) {
	conn, err := m.connections.Get(ctx, ownerID, connectionID)
	if err != nil {
		return nil, err
	}
	c, err := m.registry.For(conn)
	if err != nil {
		return &connectors.TestResult{Success: false, Message: err.Error()}, nil
	}
	res, err := c.TestConnection(ctx)
	if err != nil {
		return &connectors.TestResult{Success: false, Message: err.Error()}, nil
	}
	if res.Success {
		m.touch(ctx, conn)
	}
	return res, nil
}

// RunScheduledSync runs an incremental sync for every active connection with
// auto sync enabled. Failures are logged and do not stop other owners.
func (m *Manager) RunScheduledSync(ctx context.Context) error {
	conns, err := m.connections.AllActive(ctx, models.PlatformShopify)
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, conn := range conns {
		if !conn.Configuration.AutoSync || seen[conn.OwnerID] {
			continue
		}
		seen[conn.OwnerID] = true

		if err := m.Initialize(ctx, conn.OwnerID); err != nil {
			m.logger.Error("Scheduled sync: failed to initialize owner %s: %v", conn.OwnerID, err)
			continue
		}
		res, err := m.PerformIncrementalSync(ctx, conn.OwnerID, nil)
		if err != nil {
			m.logger.Error("Scheduled sync failed for owner %s: %v", conn.OwnerID, err)
			continue
		}
		m.logger.Info("Scheduled sync for owner %s: %d imported, %d failed",
			conn.OwnerID, res.SuccessfulImports, res.FailedImports)
	}
	return ctx.Err()
}

// Start runs the scheduler until Stop is called or ctx ends.
func (m *Manager) Start(ctx context.Context) {
	if m.cfg.ScheduleInterval <= 0 {
		m.logger.Info("Scheduled sync disabled")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.ScheduleInterval)
		defer ticker.Stop()

		m.logger.Info("Scheduled sync every %s", m.cfg.ScheduleInterval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RunScheduledSync(ctx); err != nil && ctx.Err() == nil {
					m.logger.Error("Scheduled sync run failed: %v", err)
				}
			}
		}
	}()
}

func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.logger.Info("Scheduler stopped")
}

func (m *Manager) touch(ctx context.Context, conn *models.PlatformConnection) {
	if err := m.connections.Touch(ctx, conn.ID, m.now()); err != nil {
		m.logger.Warn("Failed to record contact for connection %s: %v", conn.ID, err)
	}
}

func sandboxResult() *productsync.ImportResult {
	return &productsync.ImportResult{Errors: []string{}, Sandbox: true}
}
