package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"catalogsync/internal/database"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/services/shopify"

	"gorm.io/datatypes"
)

// Shopify webhook topics.
const (
	TopicProductsCreate        = "products/create"
	TopicProductsUpdate        = "products/update"
	TopicProductsDelete        = "products/delete"
	TopicInventoryLevelsUpdate = "inventory_levels/update"
)

// Response bodies for accepted deliveries.
const (
	StatusProcessed = "processed"
	StatusDuplicate = "duplicate processed"
)

// Request is one webhook delivery as received over HTTP.
type Request struct {
	Topic      string
	ShopDomain string
	WebhookID  string
	Signature  string
	Body       []byte
}

// Outcome is what the HTTP layer answers with.
type Outcome struct {
	StatusCode int
	Status     string
	Error      string
	State      State
}

// Processor verifies, deduplicates and applies Shopify webhooks.
type Processor struct {
	catalog     *database.Catalog
	connections *database.Connections
	secret      string
	logger      *logger.Logger
	now         func() time.Time
}

func NewProcessor(catalog *database.Catalog, connections *database.Connections, secret string, logger *logger.Logger) *Processor {
	if secret == "" {
		logger.Warn("No Shopify webhook secret configured, webhook signatures will not be verified")
	}
	return &Processor{
		catalog:     catalog,
		connections: connections,
		secret:      secret,
		logger:      logger,
		now:         time.Now,
	}
}

// applied is what a topic handler reports back for the sync log.
type applied struct {
	productID string
	status    models.LogStatus
	message   string
}

func (p *Processor) Handle(ctx context.Context, req Request) Outcome {
	d := newDelivery()

	if req.Topic == "" || req.ShopDomain == "" || req.WebhookID == "" {
		d.advance(StateRejected)
		return Outcome{StatusCode: http.StatusBadRequest, Error: "missing required webhook headers", State: d.state}
	}

	if p.secret == "" {
		p.logger.Warn("Accepting unverified webhook %s from %s", req.WebhookID, req.ShopDomain)
	} else if !shopify.VerifyWebhookSignature(req.Body, req.Signature, p.secret) {
		p.logger.Warn("Rejected webhook %s from %s: bad signature", req.WebhookID, req.ShopDomain)
		d.advance(StateRejected)
		return Outcome{StatusCode: http.StatusUnauthorized, Error: "invalid webhook signature", State: d.state}
	}
	d.advance(StateVerified)

	if !json.Valid(req.Body) {
		d.advance(StateRejected)
		return Outcome{StatusCode: http.StatusBadRequest, Error: "invalid JSON payload", State: d.state}
	}
	d.advance(StateParsed)

	shop := shopify.NormalizeShopDomain(req.ShopDomain)
	conn, err := p.connections.FindByShopDomain(ctx, shop)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return p.internal(d, fmt.Errorf("failed to resolve shop %s: %w", shop, err))
	}

	start := p.now()
	webhookID := req.WebhookID
	claim := &models.SyncLog{
		ProductID:   models.LogSubjectWebhook,
		Platform:    models.PlatformShopify,
		Operation:   models.OperationWebhook,
		Status:      models.LogStatusPending,
		Message:     req.Topic,
		RequestData: datatypes.JSON(req.Body),
		WebhookID:   &webhookID,
	}
	if conn != nil {
		claim.OwnerID = conn.OwnerID
	}

	fresh, err := p.catalog.ClaimWebhook(ctx, claim)
	if err != nil {
		return p.internal(d, err)
	}
	if !fresh {
		p.logger.Info("Webhook %s already processed", req.WebhookID)
		d.advance(StateDuplicate)
		return Outcome{StatusCode: http.StatusOK, Status: StatusDuplicate, State: d.state}
	}
	d.advance(StateDeduplicated)

	var result applied
	if conn == nil {
		result = applied{status: models.LogStatusError, message: "no active connection for shop " + shop}
	} else {
		result, err = p.dispatch(ctx, conn, req)
		if err != nil {
			result = applied{productID: result.productID, status: models.LogStatusError, message: err.Error()}
		}
	}
	d.advance(StateDispatched)

	if result.productID == "" {
		result.productID = models.LogSubjectWebhook
	}
	if result.status == models.LogStatusError {
		p.logger.Error("Webhook %s (%s) failed: %s", req.WebhookID, req.Topic, result.message)
	}

	claim.ProductID = result.productID
	claim.Status = result.status
	claim.Message = fmt.Sprintf("%s: %s", req.Topic, result.message)
	claim.ExecutionTime = p.now().Sub(start).Milliseconds()
	if err := p.catalog.UpdateSyncLog(ctx, claim); err != nil {
		return p.internal(d, err)
	}

	d.advance(StateApplied)
	return Outcome{StatusCode: http.StatusOK, Status: StatusProcessed, State: d.state}
}

func (p *Processor) internal(d *delivery, err error) Outcome {
	p.logger.Error("Webhook processing failed: %v", err)
	d.advance(StateRejected)
	return Outcome{StatusCode: http.StatusInternalServerError, Error: "failed to process webhook", State: d.state}
}

func (p *Processor) dispatch(ctx context.Context, conn *models.PlatformConnection, req Request) (applied, error) {
	switch req.Topic {
	case TopicProductsCreate:
		return p.productCreated(ctx, conn, req.Body)
	case TopicProductsUpdate:
		return p.productUpdated(ctx, conn, req.Body)
	case TopicProductsDelete:
		return p.productDeleted(ctx, conn, req.Body)
	case TopicInventoryLevelsUpdate:
		return p.inventoryUpdated(req.Body)
	}
	p.logger.Debug("Unhandled webhook topic: %s", req.Topic)
	return applied{status: models.LogStatusWarning, message: "unhandled topic"}, nil
}

func (p *Processor) productCreated(ctx context.Context, conn *models.PlatformConnection, body []byte) (applied, error) {
	var sp shopify.Product
	if err := json.Unmarshal(body, &sp); err != nil {
		return applied{}, fmt.Errorf("failed to decode product: %w", err)
	}
	gid := shopify.ProductGIDFromREST(&sp)

	_, err := p.catalog.FindMappingByExternalID(ctx, conn.OwnerID, models.PlatformShopify, gid)
	switch {
	case err == nil:
		return p.applyProduct(ctx, conn, &sp)
	case errors.Is(err, database.ErrNotFound):
		return applied{
			productID: models.LogSubjectExternal,
			status:    models.LogStatusSuccess,
			message:   fmt.Sprintf("product %s created outside the catalog", gid),
		}, nil
	default:
		return applied{}, err
	}
}

func (p *Processor) productUpdated(ctx context.Context, conn *models.PlatformConnection, body []byte) (applied, error) {
	var sp shopify.Product
	if err := json.Unmarshal(body, &sp); err != nil {
		return applied{}, fmt.Errorf("failed to decode product: %w", err)
	}
	return p.applyProduct(ctx, conn, &sp)
}

// applyProduct writes a remote product over its linked catalog product when
// the remote copy is strictly newer.
func (p *Processor) applyProduct(ctx context.Context, conn *models.PlatformConnection, sp *shopify.Product) (applied, error) {
	gid := shopify.ProductGIDFromREST(sp)

	m, err := p.catalog.FindMappingByExternalID(ctx, conn.OwnerID, models.PlatformShopify, gid)
	if errors.Is(err, database.ErrNotFound) {
		return applied{
			productID: models.LogSubjectExternal,
			status:    models.LogStatusSuccess,
			message:   fmt.Sprintf("product %s is not linked", gid),
		}, nil
	}
	if err != nil {
		return applied{}, err
	}
	if m.SyncStatus == models.SyncStatusDeleted {
		return applied{productID: m.ProductID, status: models.LogStatusWarning, message: "mapping was deleted"}, nil
	}

	local, err := p.catalog.GetProduct(ctx, conn.OwnerID, m.ProductID)
	if err != nil {
		return applied{productID: m.ProductID}, fmt.Errorf("failed to load product %s: %w", m.ProductID, err)
	}

	remote := shopify.FromRESTProduct(sp)
	if !remote.UpdatedAt.After(local.UpdatedAt) {
		return applied{
			productID: local.ID,
			status:    models.LogStatusSuccess,
			message:   "local copy is as new or newer, update ignored",
		}, nil
	}

	remote.ID = local.ID
	remote.OwnerID = local.OwnerID
	if err := p.catalog.ApplyRemoteUpdate(ctx, remote, conn.Configuration); err != nil {
		return applied{productID: local.ID}, err
	}

	if err := m.Transition(models.SyncStatusSuccess, "", p.now()); err != nil {
		return applied{productID: local.ID}, err
	}
	if err := p.catalog.SaveMapping(ctx, m); err != nil {
		return applied{productID: local.ID}, err
	}
	return applied{productID: local.ID, status: models.LogStatusSuccess, message: "product updated from shopify"}, nil
}

func (p *Processor) productDeleted(ctx context.Context, conn *models.PlatformConnection, body []byte) (applied, error) {
	var payload shopify.DeletePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return applied{}, fmt.Errorf("failed to decode delete payload: %w", err)
	}
	gid := shopify.ProductGID(payload.ID)

	m, err := p.catalog.FindMappingByExternalID(ctx, conn.OwnerID, models.PlatformShopify, gid)
	if errors.Is(err, database.ErrNotFound) {
		return applied{
			productID: models.LogSubjectExternal,
			status:    models.LogStatusSuccess,
			message:   fmt.Sprintf("product %s is not linked", gid),
		}, nil
	}
	if err != nil {
		return applied{}, err
	}

	if err := m.Transition(models.SyncStatusDeleted, "deleted on shopify", p.now()); err != nil {
		return applied{productID: m.ProductID}, err
	}
	if err := p.catalog.SaveMapping(ctx, m); err != nil {
		return applied{productID: m.ProductID}, err
	}
	return applied{productID: m.ProductID, status: models.LogStatusSuccess, message: "mapping marked deleted"}, nil
}

func (p *Processor) inventoryUpdated(body []byte) (applied, error) {
	var payload shopify.InventoryLevelPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return applied{}, fmt.Errorf("failed to decode inventory payload: %w", err)
	}
	available := "unknown"
	if payload.Available != nil {
		available = fmt.Sprint(*payload.Available)
	}
	return applied{
		productID: models.LogSubjectInventory,
		status:    models.LogStatusSuccess,
		message:   fmt.Sprintf("inventory item %d at location %d now %s", payload.InventoryItemID, payload.LocationID, available),
	}, nil
}
