package productsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/database"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/services/shopify"
	"catalogsync/internal/validation"

	"gorm.io/datatypes"
)

// ProductAPI is the slice of the Shopify client used to write single
// products.
type ProductAPI interface {
	CreateProduct(ctx context.Context, p shopify.ProductPayload) (*shopify.ProductRef, error)
	UpdateProduct(ctx context.Context, productID string, p shopify.ProductPayload) (*shopify.ProductRef, error)
	DeleteProduct(ctx context.Context, productID string) error
	GetProduct(ctx context.Context, productID string) (*shopify.BulkProduct, error)
	SetMetafields(ctx context.Context, fields []shopify.MetafieldInput) error
}

// SyncResult is the outcome of one product operation. Failures are reported
// here rather than as errors.
type SyncResult struct {
	Success       bool                 `json:"success"`
	Operation     models.SyncOperation `json:"operation"`
	ProductID     string               `json:"product_id,omitempty"`
	ExternalID    string               `json:"external_id,omitempty"`
	Error         string               `json:"error,omitempty"`
	ExecutionTime int64                `json:"execution_time"`
}

// Service pushes catalog products to one Shopify connection and pulls them
// back.
type Service struct {
	api       ProductAPI
	catalog   *database.Catalog
	validator *validation.Validator
	logger    *logger.Logger
	ownerID   string
	config    models.ConnectionConfig
	now       func() time.Time
}

func NewService(api ProductAPI, catalog *database.Catalog, validator *validation.Validator, conn *models.PlatformConnection, logger *logger.Logger) *Service {
	return &Service{
		api:       api,
		catalog:   catalog,
		validator: validator,
		logger:    logger.With("connection", conn.ID),
		ownerID:   conn.OwnerID,
		config:    conn.Configuration,
		now:       time.Now,
	}
}

// CreateProduct creates p on Shopify and stamps the app metafields.
func (s *Service) CreateProduct(ctx context.Context, p *models.Product) *SyncResult {
	start := s.now()
	op := models.OperationCreate

	if err := s.validator.ValidateProduct(p); err != nil {
		return s.fail(ctx, op, p.ID, nil, nil, err, start)
	}

	payload := shopify.ToShopify(p, s.config)
	ref, err := s.api.CreateProduct(ctx, payload)
	if err != nil {
		if ref != nil && ref.ID != "" {
			// the product exists upstream, keep the link so a retry updates it
			if lerr := s.keepLink(ctx, p.ID, ref); lerr != nil {
				s.logger.Error("Failed to link %s to %s: %v", p.ID, ref.ID, lerr)
			}
		}
		return s.fail(ctx, op, p.ID, payload, ref, err, start)
	}

	if err := s.api.SetMetafields(ctx, shopify.SyncMetafields(ref.ID, p.ID, s.now())); err != nil {
		s.logger.Warn("Failed to set sync metafields on %s: %v", ref.ID, err)
	}

	m, err := s.mapping(ctx, p.ID)
	if err != nil {
		return s.fail(ctx, op, p.ID, payload, ref, err, start)
	}
	relink(m)
	return s.succeed(ctx, op, m, ref, payload, start)
}

// keepLink stores ref on the product's mapping without marking it synced.
func (s *Service) keepLink(ctx context.Context, productID string, ref *shopify.ProductRef) error {
	m, err := s.mapping(ctx, productID)
	if err != nil {
		return err
	}
	relink(m)
	applyRef(m, ref)
	if err := m.Transition(models.SyncStatusPending, "", s.now()); err != nil {
		return err
	}
	return s.catalog.SaveMapping(ctx, m)
}

// relink resets a deleted mapping, since a new remote product starts a new
// link.
func relink(m *models.ChannelMapping) {
	if m.SyncStatus == models.SyncStatusDeleted {
		m.SyncStatus = ""
		m.ErrorCount = 0
	}
}

func applyRef(m *models.ChannelMapping, ref *shopify.ProductRef) {
	m.ExternalID = ref.ID
	if ref.VariantID != "" {
		variant := ref.VariantID
		m.ExternalVariantID = &variant
	}
	if ref.InventoryItemID != "" {
		m.SyncData = mustJSON(map[string]string{"inventory_item_id": ref.InventoryItemID})
	}
}

// UpdateProduct overwrites the linked Shopify product with p.
func (s *Service) UpdateProduct(ctx context.Context, p *models.Product) *SyncResult {
	start := s.now()
	op := models.OperationUpdate

	m, err := s.linked(ctx, p.ID)
	if err != nil {
		return s.fail(ctx, op, p.ID, nil, nil, err, start)
	}
	if err := s.validator.ValidateProduct(p); err != nil {
		return s.fail(ctx, op, p.ID, nil, nil, err, start)
	}

	payload := shopify.ToShopify(p, s.config)
	ref, err := s.api.UpdateProduct(ctx, m.ExternalID, payload)
	if err != nil {
		return s.fail(ctx, op, p.ID, payload, ref, err, start)
	}
	if err := s.api.SetMetafields(ctx, shopify.SyncMetafields(ref.ID, p.ID, s.now())); err != nil {
		s.logger.Warn("Failed to refresh sync metafields on %s: %v", ref.ID, err)
	}
	return s.succeed(ctx, op, m, ref, payload, start)
}

// DeleteProduct removes the linked Shopify product. A product already gone
// upstream counts as deleted.
func (s *Service) DeleteProduct(ctx context.Context, productID string) *SyncResult {
	start := s.now()
	op := models.OperationDelete

	m, err := s.linked(ctx, productID)
	if err != nil {
		return s.fail(ctx, op, productID, nil, nil, err, start)
	}

	request := map[string]string{"id": m.ExternalID}
	err = s.api.DeleteProduct(ctx, m.ExternalID)
	switch {
	case errors.Is(err, shopify.ErrNotFound):
		s.logger.Info("Product %s was already gone on Shopify", m.ExternalID)
	case err != nil:
		return s.fail(ctx, op, productID, request, nil, err, start)
	}

	if err := m.Transition(models.SyncStatusDeleted, "deleted on shopify", s.now()); err != nil {
		return s.fail(ctx, op, productID, request, nil, err, start)
	}
	if err := s.catalog.SaveMapping(ctx, m); err != nil {
		return s.fail(ctx, op, productID, request, nil, err, start)
	}

	res := &SyncResult{Success: true, Operation: op, ProductID: productID, ExternalID: m.ExternalID}
	s.record(ctx, res, models.LogStatusSuccess, "product deleted", request, nil, start)
	return res
}

// ImportProduct fetches one Shopify product and stores it locally, updating
// the local copy when the product is already linked.
func (s *Service) ImportProduct(ctx context.Context, externalID string) *SyncResult {
	start := s.now()
	op := models.OperationCreate
	request := map[string]string{"external_id": externalID}

	bp, err := s.api.GetProduct(ctx, externalID)
	if err != nil {
		return s.fail(ctx, op, models.LogSubjectExternal, request, nil, err, start)
	}

	local := shopify.FromBulkProduct(bp)
	local.OwnerID = s.ownerID
	if local.UpdatedAt.IsZero() {
		local.UpdatedAt = s.now()
	}

	m, err := s.catalog.FindMappingByExternalID(ctx, s.ownerID, models.PlatformShopify, externalID)
	switch {
	case err == nil:
		op = models.OperationUpdate
		// an explicit import brings a deleted link back
		relink(m)
		local.ID = m.ProductID
		if err := s.catalog.ApplyRemoteUpdate(ctx, local, s.config); err != nil {
			return s.fail(ctx, op, m.ProductID, request, nil, err, start)
		}
	case errors.Is(err, database.ErrNotFound):
		if err := s.catalog.CreateProduct(ctx, local); err != nil {
			return s.fail(ctx, op, models.LogSubjectExternal, request, nil, err, start)
		}
		m = &models.ChannelMapping{ProductID: local.ID, OwnerID: s.ownerID, Platform: models.PlatformShopify}
	default:
		return s.fail(ctx, op, models.LogSubjectExternal, request, nil, err, start)
	}

	ref := &shopify.ProductRef{ID: bp.ID}
	if len(bp.Variants) > 0 {
		ref.VariantID = bp.Variants[0].ID
	}
	return s.succeed(ctx, op, m, ref, request, start)
}

// mapping returns the product's Shopify mapping, or a fresh unsaved one.
func (s *Service) mapping(ctx context.Context, productID string) (*models.ChannelMapping, error) {
	m, err := s.catalog.GetMapping(ctx, productID, models.PlatformShopify)
	if errors.Is(err, database.ErrNotFound) {
		return &models.ChannelMapping{ProductID: productID, OwnerID: s.ownerID, Platform: models.PlatformShopify}, nil
	}
	return m, err
}

// linked returns the mapping of a product that exists on Shopify.
func (s *Service) linked(ctx context.Context, productID string) (*models.ChannelMapping, error) {
	m, err := s.catalog.GetMapping(ctx, productID, models.PlatformShopify)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("product %s is not linked to shopify", productID)
	}
	if err != nil {
		return nil, err
	}
	if m.ExternalID == "" || m.SyncStatus == models.SyncStatusDeleted {
		return nil, fmt.Errorf("product %s is not linked to shopify", productID)
	}
	return m, nil
}

func (s *Service) succeed(ctx context.Context, op models.SyncOperation, m *models.ChannelMapping, ref *shopify.ProductRef, request interface{}, start time.Time) *SyncResult {
	applyRef(m, ref)

	res := &SyncResult{Operation: op, ProductID: m.ProductID, ExternalID: ref.ID}
	if err := m.Transition(models.SyncStatusSuccess, "", s.now()); err != nil {
		return s.fail(ctx, op, m.ProductID, request, ref, err, start)
	}
	if err := s.catalog.SaveMapping(ctx, m); err != nil {
		return s.fail(ctx, op, m.ProductID, request, ref, err, start)
	}

	res.Success = true
	s.record(ctx, res, models.LogStatusSuccess, fmt.Sprintf("product %s synced", op), request, ref, start)
	return res
}

// fail records err against the product's mapping, when there is one, and in
// the sync log.
func (s *Service) fail(ctx context.Context, op models.SyncOperation, productID string, request, response interface{}, err error, start time.Time) *SyncResult {
	s.logger.Error("Shopify %s failed for product %s: %v", op, productID, err)

	if productID != "" && productID != models.LogSubjectExternal {
		if m, merr := s.catalog.GetMapping(ctx, productID, models.PlatformShopify); merr == nil {
			if terr := m.Transition(models.SyncStatusError, err.Error(), s.now()); terr == nil {
				if serr := s.catalog.SaveMapping(ctx, m); serr != nil {
					s.logger.Error("Failed to record mapping error for %s: %v", productID, serr)
				}
			}
		} else if op == models.OperationCreate && errors.Is(merr, database.ErrNotFound) {
			m := &models.ChannelMapping{ProductID: productID, OwnerID: s.ownerID, Platform: models.PlatformShopify}
			_ = m.Transition(models.SyncStatusError, err.Error(), s.now())
			if serr := s.catalog.SaveMapping(ctx, m); serr != nil {
				s.logger.Error("Failed to record mapping error for %s: %v", productID, serr)
			}
		}
	}

	res := &SyncResult{Operation: op, ProductID: productID, Error: err.Error()}
	s.record(ctx, res, models.LogStatusError, err.Error(), request, response, start)
	return res
}

func (s *Service) record(ctx context.Context, res *SyncResult, status models.LogStatus, message string, request, response interface{}, start time.Time) {
	res.ExecutionTime = s.now().Sub(start).Milliseconds()

	subject := res.ProductID
	if subject == "" {
		subject = models.LogSubjectExternal
	}
	entry := &models.SyncLog{
		OwnerID:       s.ownerID,
		ProductID:     subject,
		Platform:      models.PlatformShopify,
		Operation:     res.Operation,
		Status:        status,
		Message:       message,
		RequestData:   mustJSON(request),
		ResponseData:  mustJSON(response),
		ExecutionTime: res.ExecutionTime,
	}
	if err := s.catalog.AppendSyncLog(ctx, entry); err != nil {
		s.logger.Error("Failed to write sync log: %v", err)
	}
}

func mustJSON(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
