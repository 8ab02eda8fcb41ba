package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"catalogsync/internal/api/middleware"
	"catalogsync/internal/connectors"
	"catalogsync/internal/database"
	"catalogsync/internal/events"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/services/productsync"
	"catalogsync/internal/services/syncmanager"

	"github.com/gin-gonic/gin"
)

// Syncer is the sync manager as the HTTP layer uses it.
type Syncer interface {
	Initialize(ctx context.Context, ownerID string) error
	GetSyncHealth(ctx context.Context, ownerID string) (*syncmanager.SyncHealth, error)
	PerformFullImport(ctx context.Context, ownerID string) (*productsync.ImportResult, error)
	PerformIncrementalSync(ctx context.Context, ownerID string, since *time.Time) (*productsync.ImportResult, error)
	SyncProduct(ctx context.Context, ownerID, productID string) (*productsync.SyncResult, error)
	SyncMultipleProductsToShopify(ctx context.Context, ownerID string, productIDs []string) (*syncmanager.BatchResult, error)
	PendingProducts(ctx context.Context, ownerID string) ([]models.ChannelMapping, error)
	SyncPendingProducts(ctx context.Context, ownerID string) (*syncmanager.BatchResult, error)
	ImportProduct(ctx context.Context, ownerID, externalID string) (*productsync.SyncResult, error)
	DeleteProduct(ctx context.Context, ownerID, productID string) (*productsync.SyncResult, error)
	TestConnection(ctx context.Context, ownerID, connectionID string) (*connectors.TestResult, error)
}

// SyncHandler serves the dashboard sync endpoints. With a publisher, any
// long running endpoint called with ?async=true is queued for the worker
// and answered with 202.
type SyncHandler struct {
	syncer    Syncer
	catalog   *database.Catalog
	publisher events.Publisher
	logger    *logger.Logger
}

func NewSyncHandler(syncer Syncer, catalog *database.Catalog, publisher events.Publisher, logger *logger.Logger) *SyncHandler {
	return &SyncHandler{
		syncer:    syncer,
		catalog:   catalog,
		publisher: publisher,
		logger:    logger,
	}
}

type bulkRequest struct {
	Type  string     `json:"type" binding:"omitempty,oneof=full incremental"`
	Since *time.Time `json:"since"`
}

// StartBulk runs a full import, or an incremental one when type is
// "incremental".
func (h *SyncHandler) StartBulk(c *gin.Context) {
	var req bulkRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	owner := middleware.OwnerID(c)

	if req.Type == "incremental" {
		job := events.NewJob(events.JobIncrementalSync, owner)
		job.Since = req.Since
		if h.enqueue(c, job) {
			return
		}
		res, err := h.syncer.PerformIncrementalSync(c.Request.Context(), owner, req.Since)
		h.importResult(c, res, err)
		return
	}

	if h.enqueue(c, events.NewJob(events.JobFullImport, owner)) {
		return
	}
	res, err := h.syncer.PerformFullImport(c.Request.Context(), owner)
	h.importResult(c, res, err)
}

func (h *SyncHandler) importResult(c *gin.Context, res *productsync.ImportResult, err error) {
	if err != nil {
		failWith(c, h.logger, "import products", err)
		return
	}
	respond(c, http.StatusOK, res)
}

// ListBulk returns recent bulk import runs.
func (h *SyncHandler) ListBulk(c *gin.Context) {
	logs, err := h.catalog.ListSyncLogs(c.Request.Context(), middleware.OwnerID(c), database.LogFilter{
		Platform:  models.PlatformShopify,
		Operation: models.OperationBulkImport,
		Limit:     queryInt(c, "limit", 10),
	})
	if err != nil {
		failWith(c, h.logger, "fetch bulk imports", err)
		return
	}
	respond(c, http.StatusOK, logs)
}

// BulkStatus returns the latest bulk import, or null when none has run.
func (h *SyncHandler) BulkStatus(c *gin.Context) {
	last, err := h.catalog.LatestSyncLog(c.Request.Context(), middleware.OwnerID(c), models.PlatformShopify, models.OperationBulkImport)
	if errors.Is(err, database.ErrNotFound) {
		respond(c, http.StatusOK, nil)
		return
	}
	if err != nil {
		failWith(c, h.logger, "fetch bulk import status", err)
		return
	}
	respond(c, http.StatusOK, last)
}

func (h *SyncHandler) ListPending(c *gin.Context) {
	pending, err := h.syncer.PendingProducts(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		failWith(c, h.logger, "fetch pending products", err)
		return
	}
	respond(c, http.StatusOK, pending)
}

func (h *SyncHandler) SyncPending(c *gin.Context) {
	owner := middleware.OwnerID(c)
	if h.enqueue(c, events.NewJob(events.JobSyncPending, owner)) {
		return
	}
	res, err := h.syncer.SyncPendingProducts(c.Request.Context(), owner)
	if err != nil {
		failWith(c, h.logger, "sync pending products", err)
		return
	}
	respond(c, http.StatusOK, res)
}

// Status reports sync stats graded into a health level.
func (h *SyncHandler) Status(c *gin.Context) {
	health, err := h.syncer.GetSyncHealth(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		failWith(c, h.logger, "fetch sync status", err)
		return
	}
	respond(c, http.StatusOK, health)
}

func (h *SyncHandler) Logs(c *gin.Context) {
	logs, err := h.catalog.ListSyncLogs(c.Request.Context(), middleware.OwnerID(c), database.LogFilter{
		Platform:  models.Platform(c.Query("platform")),
		Operation: models.SyncOperation(c.Query("operation")),
		Status:    models.LogStatus(c.Query("status")),
		ProductID: c.Query("product_id"),
		Limit:     queryInt(c, "limit", 100),
	})
	if err != nil {
		failWith(c, h.logger, "fetch sync logs", err)
		return
	}
	respond(c, http.StatusOK, logs)
}

type productsRequest struct {
	ProductIDs []string `json:"product_ids" binding:"required,min=1,dive,required"`
}

// SyncProducts pushes a list of products to Shopify in batches.
func (h *SyncHandler) SyncProducts(c *gin.Context) {
	var req productsRequest
	if !bind(c, &req) {
		return
	}
	owner := middleware.OwnerID(c)

	job := events.NewJob(events.JobSyncProducts, owner)
	job.ProductIDs = req.ProductIDs
	if h.enqueue(c, job) {
		return
	}

	res, err := h.syncer.SyncMultipleProductsToShopify(c.Request.Context(), owner, req.ProductIDs)
	if err != nil {
		failWith(c, h.logger, "sync products", err)
		return
	}
	respond(c, http.StatusOK, res)
}

// SyncProduct pushes one product. A failed push is answered with
// success:false and the sync result.
func (h *SyncHandler) SyncProduct(c *gin.Context) {
	res, err := h.syncer.SyncProduct(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	h.syncResult(c, "sync product", res, err)
}

// DeleteProduct removes a product from Shopify and marks its mapping deleted.
func (h *SyncHandler) DeleteProduct(c *gin.Context) {
	res, err := h.syncer.DeleteProduct(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	h.syncResult(c, "delete product from shopify", res, err)
}

type importRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
}

func (h *SyncHandler) Import(c *gin.Context) {
	var req importRequest
	if !bind(c, &req) {
		return
	}
	owner := middleware.OwnerID(c)

	job := events.NewJob(events.JobImportProduct, owner)
	job.ExternalID = req.ExternalID
	if h.enqueue(c, job) {
		return
	}

	res, err := h.syncer.ImportProduct(c.Request.Context(), owner, req.ExternalID)
	h.syncResult(c, "import product", res, err)
}

func (h *SyncHandler) syncResult(c *gin.Context, what string, res *productsync.SyncResult, err error) {
	if err != nil {
		failWith(c, h.logger, what, err)
		return
	}
	if !res.Success {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": res.Error, "data": res})
		return
	}
	respond(c, http.StatusOK, res)
}

// enqueue publishes job when the caller asked for async processing. It
// reports whether the request has been answered.
func (h *SyncHandler) enqueue(c *gin.Context, job events.Job) bool {
	if async, _ := strconv.ParseBool(c.Query("async")); !async {
		return false
	}
	if h.publisher == nil {
		fail(c, http.StatusBadRequest, "async jobs are not enabled")
		return true
	}
	if err := h.publisher.Publish(c.Request.Context(), job); err != nil {
		failWith(c, h.logger, "queue sync job", err)
		return true
	}
	respond(c, http.StatusAccepted, job)
	return true
}

func queryInt(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil && v > 0 {
		return v
	}
	return def
}
