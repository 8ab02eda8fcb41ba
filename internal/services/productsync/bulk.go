package productsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"catalogsync/internal/database"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/services/shopify"

	"golang.org/x/sync/errgroup"
)

const DefaultBatchSize = 10

// BulkAPI is the slice of the Shopify client used by bulk imports.
type BulkAPI interface {
	ExecuteBulkOperation(ctx context.Context, query string) (*shopify.BulkOperationResult, error)
	DownloadBulkResults(ctx context.Context, url string) (*shopify.BulkParseResult, error)
}

// ImportResult tallies a bulk import.
type ImportResult struct {
	TotalProducts     int           `json:"total_products"`
	SuccessfulImports int           `json:"successful_imports"`
	FailedImports     int           `json:"failed_imports"`
	Skipped           int           `json:"skipped"`
	Errors            []string      `json:"errors"`
	ProcessingTime    time.Duration `json:"-"`
	ProcessingTimeMs  int64         `json:"processing_time"`
	BulkOperationID   string        `json:"bulk_operation_id,omitempty"`
	ObjectCount       int64         `json:"object_count"`
	MalformedLines    int           `json:"malformed_lines"`
	Sandbox           bool          `json:"sandbox,omitempty"`
}

type outcome int

const (
	outcomeImported outcome = iota
	outcomeSkipped
	outcomeFailed
)

// BulkImporter runs bulk exports and applies the products they return to the
// catalog.
type BulkImporter struct {
	api       BulkAPI
	catalog   *database.Catalog
	logger    *logger.Logger
	ownerID   string
	config    models.ConnectionConfig
	batchSize int
	now       func() time.Time
}

func NewBulkImporter(api BulkAPI, catalog *database.Catalog, conn *models.PlatformConnection, batchSize int, logger *logger.Logger) *BulkImporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BulkImporter{
		api:       api,
		catalog:   catalog,
		logger:    logger.With("owner", conn.OwnerID),
		ownerID:   conn.OwnerID,
		config:    conn.Configuration,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// FullImport imports every product. Products that are already linked are
// left untouched.
func (b *BulkImporter) FullImport(ctx context.Context) (*ImportResult, error) {
	return b.run(ctx, nil, false)
}

// IncrementalSync imports products updated at or after since, overwriting
// linked products.
func (b *BulkImporter) IncrementalSync(ctx context.Context, since time.Time) (*ImportResult, error) {
	return b.run(ctx, &since, true)
}

func (b *BulkImporter) run(ctx context.Context, since *time.Time, allowUpdates bool) (*ImportResult, error) {
	start := b.now()

	request := map[string]interface{}{"mode": "full"}
	if since != nil {
		request = map[string]interface{}{"mode": "incremental", "since": since.UTC().Format(time.RFC3339)}
	}
	entry := &models.SyncLog{
		OwnerID:     b.ownerID,
		ProductID:   models.LogSubjectBulkImport,
		Platform:    models.PlatformShopify,
		Operation:   models.OperationBulkImport,
		Status:      models.LogStatusPending,
		Message:     "bulk import started",
		RequestData: mustJSON(request),
	}
	if err := b.catalog.AppendSyncLog(ctx, entry); err != nil {
		return nil, err
	}

	op, err := b.api.ExecuteBulkOperation(ctx, shopify.ProductsBulkQuery(since))
	if err != nil {
		b.finish(ctx, entry, models.LogStatusError, err.Error(), nil, start)
		return nil, fmt.Errorf("bulk operation failed: %w", err)
	}

	parsed, err := b.api.DownloadBulkResults(ctx, op.URL)
	if err != nil {
		b.finish(ctx, entry, models.LogStatusError, err.Error(), op, start)
		return nil, fmt.Errorf("failed to download bulk results: %w", err)
	}

	res := b.Apply(ctx, parsed.Products, allowUpdates)
	res.BulkOperationID = op.ID
	res.ObjectCount = int64(op.ObjectCount)
	res.MalformedLines = parsed.Skipped
	res.ProcessingTime = b.now().Sub(start)
	res.ProcessingTimeMs = res.ProcessingTime.Milliseconds()

	status := models.LogStatusSuccess
	if res.FailedImports > 0 {
		status = models.LogStatusWarning
	}
	msg := fmt.Sprintf("imported %d of %d products (%d skipped, %d failed)",
		res.SuccessfulImports, res.TotalProducts, res.Skipped, res.FailedImports)
	b.finish(ctx, entry, status, msg, res, start)

	b.logger.Info("Bulk import %s finished: %s", op.ID, msg)
	return res, nil
}

func (b *BulkImporter) finish(ctx context.Context, entry *models.SyncLog, status models.LogStatus, message string, response interface{}, start time.Time) {
	entry.Status = status
	entry.Message = message
	entry.ResponseData = mustJSON(response)
	entry.ExecutionTime = b.now().Sub(start).Milliseconds()
	// the import may have been cancelled; the log row is still completed
	if err := b.catalog.UpdateSyncLog(context.WithoutCancel(ctx), entry); err != nil {
		b.logger.Error("Failed to complete bulk import log: %v", err)
	}
}

// Apply stores products in fixed size batches. Batches run one after another
// and the members of a batch run concurrently; one failure never stops its
// siblings.
func (b *BulkImporter) Apply(ctx context.Context, products []shopify.BulkProduct, allowUpdates bool) *ImportResult {
	res := &ImportResult{TotalProducts: len(products), Errors: []string{}}
	var mu sync.Mutex

	for start := 0; start < len(products); start += b.batchSize {
		end := start + b.batchSize
		if end > len(products) {
			end = len(products)
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			bp := &products[i]
			g.Go(func() error {
				out, err := b.importOne(ctx, bp, allowUpdates)

				mu.Lock()
				defer mu.Unlock()
				switch out {
				case outcomeImported:
					res.SuccessfulImports++
				case outcomeSkipped:
					res.Skipped++
				case outcomeFailed:
					res.FailedImports++
					res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", bp.ID, err))
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	return res
}

func (b *BulkImporter) importOne(ctx context.Context, bp *shopify.BulkProduct, allowUpdates bool) (outcome, error) {
	if err := ctx.Err(); err != nil {
		return outcomeFailed, err
	}

	local := shopify.FromBulkProduct(bp)
	local.OwnerID = b.ownerID
	if local.UpdatedAt.IsZero() {
		local.UpdatedAt = b.now()
	}

	m, err := b.catalog.FindMappingByExternalID(ctx, b.ownerID, models.PlatformShopify, bp.ID)
	switch {
	case err == nil:
		if !allowUpdates || m.SyncStatus == models.SyncStatusDeleted {
			return outcomeSkipped, nil
		}
		local.ID = m.ProductID
		if err := b.catalog.ApplyRemoteUpdate(ctx, local, b.config); err != nil {
			return outcomeFailed, err
		}
	case errors.Is(err, database.ErrNotFound):
		if local.Title == "" {
			return outcomeFailed, errors.New("product has no title")
		}
		if err := b.catalog.CreateProduct(ctx, local); err != nil {
			return outcomeFailed, err
		}
		m = &models.ChannelMapping{
			ProductID:  local.ID,
			OwnerID:    b.ownerID,
			Platform:   models.PlatformShopify,
			ExternalID: bp.ID,
		}
	default:
		return outcomeFailed, err
	}

	if len(bp.Variants) > 0 {
		variant := bp.Variants[0].ID
		m.ExternalVariantID = &variant
	}
	if err := m.Transition(models.SyncStatusSuccess, "", b.now()); err != nil {
		return outcomeFailed, err
	}
	if err := b.catalog.SaveMapping(ctx, m); err != nil {
		return outcomeFailed, err
	}
	return outcomeImported, nil
}
