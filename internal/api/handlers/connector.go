package handlers

import (
	"context"
	"errors"
	"net/http"

	"catalogsync/internal/api/middleware"
	"catalogsync/internal/database"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/services/shopify"
	"catalogsync/internal/services/syncmanager"

	"github.com/gin-gonic/gin"
)

// ConnectionHandler manages an owner's platform connections. Secrets are
// accepted on write and never returned.
type ConnectionHandler struct {
	connections *database.Connections
	syncer      Syncer
	logger      *logger.Logger
}

func NewConnectionHandler(connections *database.Connections, syncer Syncer, logger *logger.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		connections: connections,
		syncer:      syncer,
		logger:      logger,
	}
}

type connectionRequest struct {
	Platform       models.Platform          `json:"platform" binding:"required,oneof=shopify amazon"`
	ConnectionName string                   `json:"connection_name" binding:"required,max=255"`
	ShopDomain     string                   `json:"shop_domain"`
	Credentials    *models.Credentials      `json:"credentials" binding:"required"`
	Configuration  *models.ConnectionConfig `json:"configuration"`
	IsActive       *bool                    `json:"is_active"`
}

type connectionUpdate struct {
	ConnectionName *string                  `json:"connection_name" binding:"omitempty,max=255"`
	ShopDomain     *string                  `json:"shop_domain"`
	Credentials    *models.Credentials      `json:"credentials"`
	Configuration  *models.ConnectionConfig `json:"configuration"`
	IsActive       *bool                    `json:"is_active"`
}

func (h *ConnectionHandler) List(c *gin.Context) {
	conns, err := h.connections.List(c.Request.Context(), middleware.OwnerID(c), models.Platform(c.Query("platform")))
	if err != nil {
		failWith(c, h.logger, "fetch platform connections", err)
		return
	}
	respond(c, http.StatusOK, conns)
}

func (h *ConnectionHandler) Get(c *gin.Context) {
	conn, err := h.connections.Get(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		failWith(c, h.logger, "fetch platform connection", err)
		return
	}
	respond(c, http.StatusOK, conn)
}

func (h *ConnectionHandler) Create(c *gin.Context) {
	var req connectionRequest
	if !bind(c, &req) {
		return
	}

	conn := &models.PlatformConnection{
		OwnerID:        middleware.OwnerID(c),
		Platform:       req.Platform,
		ConnectionName: req.ConnectionName,
		ShopDomain:     req.ShopDomain,
		Secrets:        req.Credentials,
		Configuration:  models.DefaultConnectionConfig(),
		IsActive:       true,
	}
	if req.Configuration != nil {
		conn.Configuration = *req.Configuration
	}
	if req.IsActive != nil {
		conn.IsActive = *req.IsActive
	}
	normalizeShop(conn)

	if err := h.connections.Create(c.Request.Context(), conn); err != nil {
		failWith(c, h.logger, "create platform connection", err)
		return
	}
	h.refresh(c.Request.Context(), conn)
	respond(c, http.StatusCreated, conn)
}

func (h *ConnectionHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()
	conn, err := h.connections.Get(ctx, middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		failWith(c, h.logger, "fetch platform connection", err)
		return
	}

	var req connectionUpdate
	if !bind(c, &req) {
		return
	}
	if req.ConnectionName != nil {
		conn.ConnectionName = *req.ConnectionName
	}
	if req.ShopDomain != nil {
		conn.ShopDomain = *req.ShopDomain
	}
	if req.Credentials != nil {
		conn.Secrets = req.Credentials
	}
	if req.Configuration != nil {
		conn.Configuration = *req.Configuration
	}
	if req.IsActive != nil {
		conn.IsActive = *req.IsActive
	}
	normalizeShop(conn)

	if err := h.connections.Update(ctx, conn); err != nil {
		failWith(c, h.logger, "update platform connection", err)
		return
	}
	h.refresh(ctx, conn)
	respond(c, http.StatusOK, conn)
}

func (h *ConnectionHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	owner := middleware.OwnerID(c)
	if err := h.connections.Delete(ctx, owner, c.Param("id")); err != nil {
		failWith(c, h.logger, "delete platform connection", err)
		return
	}
	h.refresh(ctx, &models.PlatformConnection{OwnerID: owner, Platform: models.PlatformShopify})
	respond(c, http.StatusOK, gin.H{"id": c.Param("id")})
}

// Test checks the stored credentials against the platform.
func (h *ConnectionHandler) Test(c *gin.Context) {
	res, err := h.syncer.TestConnection(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		failWith(c, h.logger, "test platform connection", err)
		return
	}
	respond(c, http.StatusOK, res)
}

// refresh reloads the owner's sync session after a Shopify connection changed.
func (h *ConnectionHandler) refresh(ctx context.Context, conn *models.PlatformConnection) {
	if conn.Platform != models.PlatformShopify {
		return
	}
	if err := h.syncer.Initialize(ctx, conn.OwnerID); err != nil && !errors.Is(err, syncmanager.ErrNoConnection) {
		h.logger.Warn("Failed to reload sync session for owner %s: %v", conn.OwnerID, err)
	}
}

func normalizeShop(conn *models.PlatformConnection) {
	if conn.Platform != models.PlatformShopify {
		return
	}
	if conn.ShopDomain == "" && conn.Secrets != nil {
		conn.ShopDomain = conn.Secrets.ShopDomain
	}
	conn.ShopDomain = shopify.NormalizeShopDomain(conn.ShopDomain)
	if conn.Secrets != nil {
		conn.Secrets.ShopDomain = conn.ShopDomain
	}
}
