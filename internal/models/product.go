package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID          string          `json:"id" gorm:"type:uuid;primary_key"`
	OwnerID     string          `json:"owner_id" gorm:"index;not null"`
	Title       string          `json:"title" gorm:"not null" binding:"required"`
	Description *string         `json:"description"`
	Price       decimal.Decimal `json:"price" gorm:"type:decimal(10,2);not null;default:0"`
	Inventory   int             `json:"inventory" gorm:"not null;default:0" binding:"gte=0"`
	Brand       *string         `json:"brand"`
	Category    *string         `json:"category"`
	// Weight is always kilograms.
	Weight    *float64      `json:"weight"`
	Tags      []string      `json:"tags" gorm:"type:text;serializer:json"`
	Images    []string      `json:"images" gorm:"type:text;serializer:json"`
	Status    ProductStatus `json:"status" gorm:"not null;default:draft"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
	ProductStatusDraft    ProductStatus = "draft"
)

// Valid reports whether s is one of the known product statuses.
func (s ProductStatus) Valid() bool {
	switch s {
	case ProductStatusActive, ProductStatusInactive, ProductStatusDraft:
		return true
	}
	return false
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = ProductStatusDraft
	}
	return nil
}
