package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/models"
	"catalogsync/internal/secrets"

	"gorm.io/gorm"
)

var ErrDuplicate = errors.New("record already exists")

// Connections persists platform connections. Credentials are sealed on write
// and opened into PlatformConnection.Secrets on read.
type Connections struct {
	db  *gorm.DB
	box *secrets.Box
}

func NewConnections(d *Database, box *secrets.Box) *Connections {
	return &Connections{db: d.DB, box: box}
}

func (s *Connections) Create(ctx context.Context, c *models.PlatformConnection) error {
	if err := s.seal(c); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: connection %q", ErrDuplicate, c.ConnectionName)
		}
		return fmt.Errorf("failed to create platform connection: %w", err)
	}
	return nil
}

func (s *Connections) Update(ctx context.Context, c *models.PlatformConnection) error {
	if err := s.seal(c); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(c).
		Where("owner_id = ?", c.OwnerID).
		Select("connection_name", "shop_domain", "credentials", "configuration", "is_active", "last_connected", "updated_at").
		Updates(c)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return fmt.Errorf("%w: connection %q", ErrDuplicate, c.ConnectionName)
		}
		return fmt.Errorf("failed to update platform connection: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Connections) Delete(ctx context.Context, ownerID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&models.PlatformConnection{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete platform connection: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Connections) Get(ctx context.Context, ownerID, id string) (*models.PlatformConnection, error) {
	var c models.PlatformConnection
	if err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	if err := s.open(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Connections) List(ctx context.Context, ownerID string, platform models.Platform) ([]models.PlatformConnection, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if platform != "" {
		q = q.Where("platform = ?", platform)
	}
	return s.find(q)
}

// ActiveConnections lists the owner's active connections, oldest first.
func (s *Connections) ActiveConnections(ctx context.Context, ownerID string, platform models.Platform) ([]models.PlatformConnection, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ? AND platform = ? AND is_active = ?", ownerID, platform, true)
	return s.find(q)
}

// AllActive lists active connections across owners. Used by the scheduler.
func (s *Connections) AllActive(ctx context.Context, platform models.Platform) ([]models.PlatformConnection, error) {
	q := s.db.WithContext(ctx).Where("platform = ? AND is_active = ?", platform, true)
	return s.find(q)
}

// FindByShopDomain resolves the active Shopify connection for a shop. Webhooks
// are routed with it.
func (s *Connections) FindByShopDomain(ctx context.Context, shopDomain string) (*models.PlatformConnection, error) {
	var c models.PlatformConnection
	err := s.db.WithContext(ctx).
		Where("platform = ? AND shop_domain = ? AND is_active = ?", models.PlatformShopify, shopDomain, true).
		Order("created_at ASC").
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	if err := s.open(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Touch records a successful contact with the platform.
func (s *Connections) Touch(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.PlatformConnection{}).
		Where("id = ?", id).
		UpdateColumn("last_connected", at).Error
	if err != nil {
		return fmt.Errorf("failed to touch platform connection: %w", err)
	}
	return nil
}

func (s *Connections) find(q *gorm.DB) ([]models.PlatformConnection, error) {
	var conns []models.PlatformConnection
	if err := q.Order("created_at ASC").Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("failed to list platform connections: %w", err)
	}
	for i := range conns {
		if err := s.open(&conns[i]); err != nil {
			return nil, err
		}
	}
	return conns, nil
}

func (s *Connections) seal(c *models.PlatformConnection) error {
	if c.Secrets == nil {
		return nil
	}
	if c.ShopDomain == "" {
		c.ShopDomain = c.Secrets.ShopDomain
	}
	raw, err := json.Marshal(c.Secrets)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	sealed, err := s.box.Seal(raw)
	if err != nil {
		return fmt.Errorf("failed to seal credentials: %w", err)
	}
	c.Credentials = sealed
	return nil
}

func (s *Connections) open(c *models.PlatformConnection) error {
	if c.Credentials == "" {
		c.Secrets = &models.Credentials{ShopDomain: c.ShopDomain}
		return nil
	}
	raw, err := s.box.Open(c.Credentials)
	if err != nil {
		return fmt.Errorf("failed to open credentials for connection %s: %w", c.ID, err)
	}
	var creds models.Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return fmt.Errorf("failed to decode credentials for connection %s: %w", c.ID, err)
	}
	c.Secrets = &creds
	return nil
}
