package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PlatformConnection holds one set of external platform credentials for an
// owner. Credentials is the sealed blob as stored; Secrets is the opened form
// and is never persisted or serialized.
type PlatformConnection struct {
	ID             string           `json:"id" gorm:"type:uuid;primary_key"`
	OwnerID        string           `json:"owner_id" gorm:"not null;uniqueIndex:idx_connection_owner_platform_name"`
	Platform       Platform         `json:"platform" gorm:"not null;uniqueIndex:idx_connection_owner_platform_name"`
	ConnectionName string           `json:"connection_name" gorm:"not null;uniqueIndex:idx_connection_owner_platform_name"`
	ShopDomain     string           `json:"shop_domain" gorm:"index"`
	Credentials    string           `json:"-" gorm:"type:text"`
	Configuration  ConnectionConfig `json:"configuration" gorm:"type:text;serializer:json"`
	IsActive       bool             `json:"is_active"`
	LastConnected  *time.Time       `json:"last_connected"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`

	Secrets *Credentials `json:"-" gorm:"-"`
}

type Platform string

const (
	PlatformShopify Platform = "shopify"
	PlatformAmazon  Platform = "amazon"
)

func (p Platform) Valid() bool {
	return p == PlatformShopify || p == PlatformAmazon
}

// Credentials is the union of the per-platform secret fields.
type Credentials struct {
	ShopDomain  string `json:"shop_domain,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	Scope       string `json:"scope,omitempty"`

	SellerID      string `json:"seller_id,omitempty"`
	MarketplaceID string `json:"marketplace_id,omitempty"`
	RefreshToken  string `json:"refresh_token,omitempty"`
}

type ConnectionConfig struct {
	AutoSync      bool `json:"auto_sync"`
	SyncInventory bool `json:"sync_inventory"`
	SyncPrices    bool `json:"sync_prices"`
	SyncImages    bool `json:"sync_images"`
}

// DefaultConnectionConfig enables every sync flag.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		AutoSync:      true,
		SyncInventory: true,
		SyncPrices:    true,
		SyncImages:    true,
	}
}

func (c *PlatformConnection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}
