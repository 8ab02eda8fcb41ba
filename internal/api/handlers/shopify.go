package handlers

import (
	"errors"
	"net/http"

	"catalogsync/internal/api/middleware"
	"catalogsync/internal/database"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/services/shopify"
	"catalogsync/internal/services/webhooks"

	"github.com/gin-gonic/gin"
)

type ShopifyHandler struct {
	connections  *database.Connections
	syncer       Syncer
	oauthService *shopify.OAuthService
	webhooks     *webhooks.Processor
	logger       *logger.Logger
}

func NewShopifyHandler(connections *database.Connections, syncer Syncer, oauth *shopify.OAuthService, processor *webhooks.Processor, logger *logger.Logger) *ShopifyHandler {
	return &ShopifyHandler{
		connections:  connections,
		syncer:       syncer,
		oauthService: oauth,
		webhooks:     processor,
		logger:       logger,
	}
}

// Install initiates the Shopify OAuth flow for the signed in owner.
func (h *ShopifyHandler) Install(c *gin.Context) {
	var request struct {
		ShopDomain string `json:"shop_domain" binding:"required"`
	}
	if !bind(c, &request) {
		return
	}

	authURL, state, err := h.oauthService.GenerateAuthURL(request.ShopDomain, middleware.OwnerID(c))
	switch {
	case errors.Is(err, shopify.ErrInvalidShop):
		fail(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		failWith(c, h.logger, "generate authorization URL", err)
		return
	}

	respond(c, http.StatusOK, gin.H{
		"auth_url": authURL,
		"state":    state,
	})
}

// Callback completes the OAuth flow and stores the shop's access token.
// The owner comes from the install state, not from a session token.
func (h *ShopifyHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	query := c.Request.URL.Query()
	code := query.Get("code")
	if code == "" {
		fail(c, http.StatusBadRequest, "missing authorization code")
		return
	}

	ownerID, shop, err := h.oauthService.ValidateCallback(query)
	if err != nil {
		h.logger.Warn("Rejected OAuth callback for %s: %v", query.Get("shop"), err)
		fail(c, http.StatusUnauthorized, err.Error())
		return
	}

	tokenResp, err := h.oauthService.ExchangeCodeForToken(ctx, shop, code)
	if err != nil {
		failWith(c, h.logger, "exchange authorization code", err)
		return
	}

	conn, err := h.saveConnection(c, ownerID, shop, tokenResp)
	if err != nil {
		failWith(c, h.logger, "save shopify connection", err)
		return
	}

	if err := h.syncer.Initialize(ctx, ownerID); err != nil {
		h.logger.Warn("Failed to initialize sync for owner %s: %v", ownerID, err)
	}
	res, err := h.syncer.TestConnection(ctx, ownerID, conn.ID)
	if err != nil {
		failWith(c, h.logger, "verify shopify connection", err)
		return
	}

	respond(c, http.StatusOK, gin.H{
		"connection": conn,
		"test":       res,
	})
}

// saveConnection creates the owner's connection for shop, or refreshes the
// token of an existing one.
func (h *ShopifyHandler) saveConnection(c *gin.Context, ownerID, shop string, tok *shopify.TokenResponse) (*models.PlatformConnection, error) {
	ctx := c.Request.Context()
	secrets := &models.Credentials{ShopDomain: shop, AccessToken: tok.AccessToken, Scope: tok.Scope}

	existing, err := h.connections.List(ctx, ownerID, models.PlatformShopify)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].ShopDomain == shop {
			conn := &existing[i]
			conn.Secrets = secrets
			conn.IsActive = true
			return conn, h.connections.Update(ctx, conn)
		}
	}

	conn := &models.PlatformConnection{
		OwnerID:        ownerID,
		Platform:       models.PlatformShopify,
		ConnectionName: shop,
		ShopDomain:     shop,
		Secrets:        secrets,
		Configuration:  models.DefaultConnectionConfig(),
		IsActive:       true,
	}
	return conn, h.connections.Create(ctx, conn)
}
