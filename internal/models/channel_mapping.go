package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChannelMapping links a catalog product to its identifier on one external
// platform. Rows are soft-deleted through SyncStatusDeleted.
type ChannelMapping struct {
	ID                string         `json:"id" gorm:"type:uuid;primary_key"`
	ProductID         string         `json:"product_id" gorm:"type:uuid;not null;uniqueIndex:idx_mapping_product_platform"`
	Platform          Platform       `json:"platform" gorm:"not null;uniqueIndex:idx_mapping_product_platform;index:idx_mapping_external"`
	OwnerID           string         `json:"owner_id" gorm:"index;not null"`
	ExternalID        string         `json:"external_id" gorm:"index:idx_mapping_external"`
	ExternalVariantID *string        `json:"external_variant_id"`
	SyncStatus        SyncStatus     `json:"sync_status" gorm:"not null;default:pending;index"`
	LastSynced        *time.Time     `json:"last_synced"`
	ErrorMessage      *string        `json:"error_message"`
	ErrorCount        int            `json:"error_count" gorm:"not null;default:0"`
	SyncData          datatypes.JSON `json:"sync_data"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
	SyncStatusDeleted SyncStatus = "deleted"
)

var ErrIllegalTransition = errors.New("illegal sync status transition")

// syncTransitions lists the legal targets of each state. Self transitions are
// always legal and handled in CanTransition.
var syncTransitions = map[SyncStatus][]SyncStatus{
	SyncStatusPending: {SyncStatusSyncing, SyncStatusSuccess, SyncStatusError, SyncStatusDeleted},
	SyncStatusSyncing: {SyncStatusSuccess, SyncStatusError, SyncStatusDeleted},
	SyncStatusSuccess: {SyncStatusPending, SyncStatusSyncing, SyncStatusError, SyncStatusDeleted},
	SyncStatusError:   {SyncStatusPending, SyncStatusSyncing, SyncStatusSuccess, SyncStatusDeleted},
	SyncStatusDeleted: {},
}

func (s SyncStatus) Valid() bool {
	_, ok := syncTransitions[s]
	return ok
}

func (s SyncStatus) CanTransition(to SyncStatus) bool {
	if !to.Valid() {
		return false
	}
	if s == "" || s == to {
		return true
	}
	for _, next := range syncTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the mapping to the given state, keeping error bookkeeping
// consistent: entering error bumps ErrorCount, entering success resets it.
func (m *ChannelMapping) Transition(to SyncStatus, message string, now time.Time) error {
	if !m.SyncStatus.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.SyncStatus, to)
	}

	switch to {
	case SyncStatusSuccess:
		m.ErrorCount = 0
		m.ErrorMessage = nil
		m.LastSynced = &now
	case SyncStatusError:
		m.ErrorCount++
		m.ErrorMessage = &message
	case SyncStatusDeleted:
		m.ErrorMessage = &message
		m.LastSynced = &now
	default:
		if message != "" {
			m.ErrorMessage = &message
		}
	}

	m.SyncStatus = to
	return nil
}

func (m *ChannelMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.SyncStatus == "" {
		m.SyncStatus = SyncStatusPending
	}
	return nil
}
