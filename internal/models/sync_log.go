package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SyncLog is the audit record of one sync attempt. Rows are append-only; the
// only rows updated after insert are in-flight bulk imports and webhook claims.
type SyncLog struct {
	ID            string         `json:"id" gorm:"type:uuid;primary_key"`
	OwnerID       string         `json:"owner_id" gorm:"index"`
	ProductID     string         `json:"product_id" gorm:"index;not null"`
	Platform      Platform       `json:"platform" gorm:"not null"`
	Operation     SyncOperation  `json:"operation" gorm:"not null;index"`
	Status        LogStatus      `json:"status" gorm:"not null"`
	Message       string         `json:"message"`
	RequestData   datatypes.JSON `json:"request_data"`
	ResponseData  datatypes.JSON `json:"response_data"`
	ExecutionTime int64          `json:"execution_time"`
	WebhookID     *string        `json:"webhook_id" gorm:"uniqueIndex"`
	CreatedAt     time.Time      `json:"created_at" gorm:"index"`
}

type SyncOperation string

const (
	OperationCreate     SyncOperation = "create"
	OperationUpdate     SyncOperation = "update"
	OperationDelete     SyncOperation = "delete"
	OperationBulkImport SyncOperation = "bulk_import"
	OperationWebhook    SyncOperation = "webhook"
)

type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusError   LogStatus = "error"
	LogStatusWarning LogStatus = "warning"
	LogStatusPending LogStatus = "pending"
)

// Sentinel product references for logs that are not scoped to one product.
const (
	LogSubjectBulkImport = "bulk-import"
	LogSubjectWebhook    = "webhook"
	LogSubjectExternal   = "external"
	LogSubjectInventory  = "inventory"
)

func (l *SyncLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}
