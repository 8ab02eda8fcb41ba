package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogsync/internal/models"

	"gorm.io/gorm"
)

// productColumns are the columns a sync is allowed to write.
var productColumns = []string{
	"title", "description", "price", "inventory", "brand", "category",
	"weight", "tags", "images", "status", "updated_at",
}

func remoteColumns(cfg models.ConnectionConfig) []string {
	skip := map[string]bool{
		"price":     !cfg.SyncPrices,
		"inventory": !cfg.SyncInventory,
		"images":    !cfg.SyncImages,
	}
	cols := make([]string, 0, len(productColumns))
	for _, col := range productColumns {
		if !skip[col] {
			cols = append(cols, col)
		}
	}
	return cols
}

// Catalog persists products, channel mappings and sync logs.
type Catalog struct {
	db *gorm.DB
}

func NewCatalog(d *Database) *Catalog {
	return &Catalog{db: d.DB}
}

type ProductFilter struct {
	Status models.ProductStatus
	Search string
	Limit  int
	Offset int
}

type LogFilter struct {
	Platform  models.Platform
	Operation models.SyncOperation
	Status    models.LogStatus
	ProductID string
	Limit     int
}

// SyncStats summarises the sync state of an owner's catalog on one platform.
type SyncStats struct {
	TotalProducts   int64      `json:"total_products"`
	SyncedProducts  int64      `json:"synced_products"`
	PendingProducts int64      `json:"pending_products"`
	ErrorProducts   int64      `json:"error_products"`
	DeletedProducts int64      `json:"deleted_products"`
	LastSync        *time.Time `json:"last_sync"`
}

// Products

func (c *Catalog) CreateProduct(ctx context.Context, p *models.Product) error {
	if err := c.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

func (c *Catalog) GetProduct(ctx context.Context, ownerID, id string) (*models.Product, error) {
	var p models.Product
	err := c.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (c *Catalog) ListProducts(ctx context.Context, ownerID string, f ProductFilter) ([]models.Product, int64, error) {
	q := c.db.WithContext(ctx).Model(&models.Product{}).Where("owner_id = ?", ownerID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Search != "" {
		q = q.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(f.Search)+"%")
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	var products []models.Product
	err := q.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&products).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	return products, total, nil
}

// UpdateProduct writes the syncable columns of p and stamps updated_at with now.
func (c *Catalog) UpdateProduct(ctx context.Context, p *models.Product) error {
	res := c.db.WithContext(ctx).Model(p).Where("owner_id = ?", p.OwnerID).Select(productColumns).Updates(p)
	if res.Error != nil {
		return fmt.Errorf("failed to update product: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyRemoteUpdate writes the syncable columns of p keeping p.UpdatedAt as
// given, so the stored timestamp is the remote platform's. Price, inventory
// and images are only written when cfg syncs them.
func (c *Catalog) ApplyRemoteUpdate(ctx context.Context, p *models.Product, cfg models.ConnectionConfig) error {
	res := c.db.WithContext(ctx).Model(p).Select(remoteColumns(cfg)).UpdateColumns(p)
	if res.Error != nil {
		return fmt.Errorf("failed to apply remote update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Catalog) DeleteProduct(ctx context.Context, ownerID, id string) error {
	res := c.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&models.Product{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete product: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Channel mappings

func (c *Catalog) GetMapping(ctx context.Context, productID string, platform models.Platform) (*models.ChannelMapping, error) {
	var m models.ChannelMapping
	err := c.db.WithContext(ctx).Where("product_id = ? AND platform = ?", productID, platform).First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (c *Catalog) FindMappingByExternalID(ctx context.Context, ownerID string, platform models.Platform, externalID string) (*models.ChannelMapping, error) {
	var m models.ChannelMapping
	err := c.db.WithContext(ctx).
		Where("owner_id = ? AND platform = ? AND external_id = ?", ownerID, platform, externalID).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// SaveMapping upserts on (product_id, platform). A concurrent insert of the
// same pair is retried once as an update.
func (c *Catalog) SaveMapping(ctx context.Context, m *models.ChannelMapping) error {
	db := c.db.WithContext(ctx)

	for attempt := 0; attempt < 2; attempt++ {
		var existing models.ChannelMapping
		err := db.Where("product_id = ? AND platform = ?", m.ProductID, m.Platform).First(&existing).Error
		switch {
		case err == nil:
			m.ID = existing.ID
			m.CreatedAt = existing.CreatedAt
			if err := db.Save(m).Error; err != nil {
				return fmt.Errorf("failed to update channel mapping: %w", err)
			}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			err = db.Create(m).Error
			if err == nil {
				return nil
			}
			if !isUniqueViolation(err) {
				return fmt.Errorf("failed to create channel mapping: %w", err)
			}
			m.ID = ""
		default:
			return fmt.Errorf("failed to load channel mapping: %w", err)
		}
	}
	return fmt.Errorf("failed to save channel mapping for product %s", m.ProductID)
}

// PendingMappings returns mappings due for a retry: pending ones, and failed
// ones that have not yet reached maxErrors.
func (c *Catalog) PendingMappings(ctx context.Context, ownerID string, platform models.Platform, maxErrors int) ([]models.ChannelMapping, error) {
	var mappings []models.ChannelMapping
	err := c.db.WithContext(ctx).
		Where("owner_id = ? AND platform = ?", ownerID, platform).
		Where("sync_status = ? OR (sync_status = ? AND error_count < ?)",
			models.SyncStatusPending, models.SyncStatusError, maxErrors).
		Order("updated_at ASC").
		Find(&mappings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending mappings: %w", err)
	}
	return mappings, nil
}

func (c *Catalog) ListMappings(ctx context.Context, ownerID string, platform models.Platform) ([]models.ChannelMapping, error) {
	var mappings []models.ChannelMapping
	q := c.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if platform != "" {
		q = q.Where("platform = ?", platform)
	}
	if err := q.Order("updated_at DESC").Find(&mappings).Error; err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	return mappings, nil
}

// Sync logs

func (c *Catalog) AppendSyncLog(ctx context.Context, l *models.SyncLog) error {
	if err := c.db.WithContext(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

// UpdateSyncLog completes an in-flight row.
func (c *Catalog) UpdateSyncLog(ctx context.Context, l *models.SyncLog) error {
	res := c.db.WithContext(ctx).Model(l).
		Select("product_id", "status", "message", "request_data", "response_data", "execution_time").
		Updates(l)
	if res.Error != nil {
		return fmt.Errorf("failed to update sync log: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimWebhook inserts l, whose WebhookID must be set. It reports false when
// another row already holds the same webhook id.
func (c *Catalog) ClaimWebhook(ctx context.Context, l *models.SyncLog) (bool, error) {
	if l.WebhookID == nil || *l.WebhookID == "" {
		return false, errors.New("webhook id is required")
	}
	err := c.db.WithContext(ctx).Create(l).Error
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to claim webhook: %w", err)
}

func (c *Catalog) FindSyncLogByWebhookID(ctx context.Context, webhookID string) (*models.SyncLog, error) {
	var l models.SyncLog
	if err := c.db.WithContext(ctx).Where("webhook_id = ?", webhookID).First(&l).Error; err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// LatestSyncLog returns the newest log of the given operation for the owner.
func (c *Catalog) LatestSyncLog(ctx context.Context, ownerID string, platform models.Platform, op models.SyncOperation) (*models.SyncLog, error) {
	var l models.SyncLog
	err := c.db.WithContext(ctx).
		Where("owner_id = ? AND platform = ? AND operation = ?", ownerID, platform, op).
		Order("created_at DESC").
		First(&l).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (c *Catalog) ListSyncLogs(ctx context.Context, ownerID string, f LogFilter) ([]models.SyncLog, error) {
	q := c.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if f.Platform != "" {
		q = q.Where("platform = ?", f.Platform)
	}
	if f.Operation != "" {
		q = q.Where("operation = ?", f.Operation)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ProductID != "" {
		q = q.Where("product_id = ?", f.ProductID)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}

	var logs []models.SyncLog
	if err := q.Order("created_at DESC").Limit(f.Limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	return logs, nil
}

// SyncStats aggregates product counts per mapping status in the database.
// Products without a mapping on the platform count as pending.
func (c *Catalog) SyncStats(ctx context.Context, ownerID string, platform models.Platform) (*SyncStats, error) {
	var rows []struct {
		SyncState string
		Count     int64
	}
	err := c.db.WithContext(ctx).
		Table("products AS p").
		Select("COALESCE(m.sync_status, 'pending') AS sync_state, COUNT(*) AS count").
		Joins("LEFT JOIN channel_mappings m ON m.product_id = p.id AND m.platform = ?", platform).
		Where("p.owner_id = ?", ownerID).
		Group("sync_state").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sync stats: %w", err)
	}

	stats := &SyncStats{}
	for _, r := range rows {
		stats.TotalProducts += r.Count
		switch models.SyncStatus(r.SyncState) {
		case models.SyncStatusSuccess:
			stats.SyncedProducts += r.Count
		case models.SyncStatusError:
			stats.ErrorProducts += r.Count
		case models.SyncStatusDeleted:
			stats.DeletedProducts += r.Count
		default:
			stats.PendingProducts += r.Count
		}
	}

	var latest models.ChannelMapping
	err = c.db.WithContext(ctx).
		Where("owner_id = ? AND platform = ? AND last_synced IS NOT NULL", ownerID, platform).
		Order("last_synced DESC").
		Limit(1).
		Find(&latest).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load last sync time: %w", err)
	}
	stats.LastSync = latest.LastSynced

	return stats, nil
}
