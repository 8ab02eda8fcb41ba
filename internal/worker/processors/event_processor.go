package processors

import (
	"context"
	"fmt"
	"time"

	"catalogsync/internal/events"
	"catalogsync/internal/logger"
	"catalogsync/internal/services/productsync"
	"catalogsync/internal/services/syncmanager"
)

// SyncRunner is the sync manager as seen by the worker.
type SyncRunner interface {
	PerformFullImport(ctx context.Context, ownerID string) (*productsync.ImportResult, error)
	PerformIncrementalSync(ctx context.Context, ownerID string, since *time.Time) (*productsync.ImportResult, error)
	SyncMultipleProductsToShopify(ctx context.Context, ownerID string, productIDs []string) (*syncmanager.BatchResult, error)
	SyncPendingProducts(ctx context.Context, ownerID string) (*syncmanager.BatchResult, error)
	ImportProduct(ctx context.Context, ownerID, externalID string) (*productsync.SyncResult, error)
	DeleteProduct(ctx context.Context, ownerID, productID string) (*productsync.SyncResult, error)
}

type EventProcessor struct {
	runner SyncRunner
	logger *logger.Logger
}

func NewEventProcessor(runner SyncRunner, logger *logger.Logger) *EventProcessor {
	return &EventProcessor{runner: runner, logger: logger}
}

// Process runs one job to completion. Partial failures inside a job are
// logged; only failures of the job as a whole are returned.
func (ep *EventProcessor) Process(ctx context.Context, job events.Job) error {
	log := ep.logger.With("job", job.ID).With("owner", job.OwnerID)
	log.Info("Processing %s job", job.Type)

	switch job.Type {
	case events.JobFullImport:
		res, err := ep.runner.PerformFullImport(ctx, job.OwnerID)
		if err != nil {
			return err
		}
		log.Info("Full import: %d imported, %d skipped, %d failed", res.SuccessfulImports, res.Skipped, res.FailedImports)

	case events.JobIncrementalSync:
		res, err := ep.runner.PerformIncrementalSync(ctx, job.OwnerID, job.Since)
		if err != nil {
			return err
		}
		log.Info("Incremental sync: %d imported, %d failed", res.SuccessfulImports, res.FailedImports)

	case events.JobSyncProducts:
		res, err := ep.runner.SyncMultipleProductsToShopify(ctx, job.OwnerID, job.ProductIDs)
		if err != nil {
			return err
		}
		log.Info("Pushed %d products: %d ok, %d failed", res.Total, res.Successful, res.Failed)

	case events.JobSyncPending:
		res, err := ep.runner.SyncPendingProducts(ctx, job.OwnerID)
		if err != nil {
			return err
		}
		log.Info("Retried %d pending products: %d ok, %d failed", res.Total, res.Successful, res.Failed)

	case events.JobImportProduct:
		res, err := ep.runner.ImportProduct(ctx, job.OwnerID, job.ExternalID)
		if err != nil {
			return err
		}
		if !res.Success {
			log.Warn("Import of %s failed: %s", job.ExternalID, res.Error)
		}

	case events.JobDeleteProduct:
		for _, id := range job.ProductIDs {
			res, err := ep.runner.DeleteProduct(ctx, job.OwnerID, id)
			if err != nil {
				return err
			}
			if !res.Success {
				log.Warn("Delete of %s failed: %s", id, res.Error)
			}
		}

	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
	return nil
}
