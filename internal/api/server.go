package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"catalogsync/internal/api/handlers"
	"catalogsync/internal/api/middleware"
	"catalogsync/internal/config"
	"catalogsync/internal/database"
	"catalogsync/internal/events"
	"catalogsync/internal/logger"
	"catalogsync/internal/services/shopify"
	"catalogsync/internal/services/webhooks"
	"catalogsync/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

type Server struct {
	config *config.Config
	logger *logger.Logger
	db     *database.Database
	router *gin.Engine
	server *http.Server
}

// Deps are the services the HTTP layer is built on. Publisher may be nil,
// in which case async requests are refused.
type Deps struct {
	DB          *database.Database
	Catalog     *database.Catalog
	Connections *database.Connections
	Syncer      handlers.Syncer
	Validator   *validation.Validator
	Verifier    middleware.TokenVerifier
	OAuth       *shopify.OAuthService
	Webhooks    *webhooks.Processor
	Publisher   events.Publisher
}

func New(cfg *config.Config, logger *logger.Logger, d Deps) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		validation.UseJSONNames(v)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	// Initialize handlers
	productHandler := handlers.NewProductHandler(d.Catalog, d.Validator, logger)
	connectionHandler := handlers.NewConnectionHandler(d.Connections, d.Syncer, logger)
	syncHandler := handlers.NewSyncHandler(d.Syncer, d.Catalog, d.Publisher, logger)
	shopifyHandler := handlers.NewShopifyHandler(d.Connections, d.Syncer, d.OAuth, d.Webhooks, logger)

	router.GET("/health", func(c *gin.Context) {
		if err := d.DB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "database unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"status": "healthy"}})
	})

	// Shopify signs these itself
	router.POST("/webhooks/shopify", shopifyHandler.Webhook)

	v1 := router.Group("/api/v1")
	v1.GET("/shopify/callback", shopifyHandler.Callback)

	authed := v1.Group("", middleware.RequireAuth(d.Verifier, logger))
	{
		// Products
		products := authed.Group("/products")
		{
			products.GET("", productHandler.List)
			products.GET("/:id", productHandler.Get)
			products.POST("", productHandler.Create)
			products.PUT("/:id", productHandler.Update)
			products.DELETE("/:id", productHandler.Delete)
		}

		// Platform connections
		connections := authed.Group("/platform-connections")
		{
			connections.GET("", connectionHandler.List)
			connections.GET("/:id", connectionHandler.Get)
			connections.POST("", connectionHandler.Create)
			connections.PUT("/:id", connectionHandler.Update)
			connections.DELETE("/:id", connectionHandler.Delete)
			connections.POST("/:id/test", connectionHandler.Test)
		}

		// Sync
		sync := authed.Group("/sync")
		{
			sync.GET("/shopify/bulk", syncHandler.ListBulk)
			sync.POST("/shopify/bulk", syncHandler.StartBulk)
			sync.GET("/shopify/bulk/status", syncHandler.BulkStatus)
			sync.GET("/pending", syncHandler.ListPending)
			sync.POST("/pending", syncHandler.SyncPending)
			sync.GET("/status", syncHandler.Status)
			sync.GET("/logs", syncHandler.Logs)
			sync.POST("/products", syncHandler.SyncProducts)
			sync.POST("/products/:id", syncHandler.SyncProduct)
			sync.DELETE("/products/:id", syncHandler.DeleteProduct)
			sync.POST("/import", syncHandler.Import)
		}

		// Shopify Integration
		authed.POST("/shopify/install", shopifyHandler.Install)
	}

	return &Server{
		config: cfg,
		logger: logger,
		db:     d.DB,
		router: router,
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.config.APIHost, s.config.APIPort)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // synchronous bulk imports
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server on " + addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}
