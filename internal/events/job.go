// Package events carries sync jobs from the API to the worker over Kafka.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobFullImport      JobType = "full_import"
	JobIncrementalSync JobType = "incremental_sync"
	JobSyncProducts    JobType = "sync_products"
	JobSyncPending     JobType = "sync_pending"
	JobImportProduct   JobType = "import_product"
	JobDeleteProduct   JobType = "delete_product"
)

func (t JobType) Valid() bool {
	switch t {
	case JobFullImport, JobIncrementalSync, JobSyncProducts, JobSyncPending, JobImportProduct, JobDeleteProduct:
		return true
	}
	return false
}

// Job is one unit of sync work for an owner.
type Job struct {
	ID         string     `json:"id"`
	Type       JobType    `json:"type"`
	OwnerID    string     `json:"owner_id"`
	ProductIDs []string   `json:"product_ids,omitempty"`
	ExternalID string     `json:"external_id,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func NewJob(t JobType, ownerID string) Job {
	return Job{
		ID:        uuid.NewString(),
		Type:      t,
		OwnerID:   ownerID,
		CreatedAt: time.Now().UTC(),
	}
}

func (j Job) Validate() error {
	if !j.Type.Valid() {
		return fmt.Errorf("unknown job type %q", j.Type)
	}
	if j.OwnerID == "" {
		return errors.New("job has no owner")
	}
	switch j.Type {
	case JobSyncProducts, JobDeleteProduct:
		if len(j.ProductIDs) == 0 {
			return fmt.Errorf("%s job needs product ids", j.Type)
		}
	case JobImportProduct:
		if j.ExternalID == "" {
			return errors.New("import_product job needs an external id")
		}
	}
	return nil
}

func Encode(j Job) ([]byte, error) {
	return json.Marshal(j)
}

// Decode parses and validates a job message.
func Decode(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("failed to parse job: %w", err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}
