// Package app assembles the services shared by the API server and the worker.
package app

import (
	"fmt"

	"catalogsync/internal/config"
	"catalogsync/internal/connectors"
	"catalogsync/internal/connectors/amazon"
	shopifyconn "catalogsync/internal/connectors/shopify"
	"catalogsync/internal/database"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/secrets"
	"catalogsync/internal/services/syncmanager"
	"catalogsync/internal/validation"
)

type App struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          *database.Database
	Catalog     *database.Catalog
	Connections *database.Connections
	Validator   *validation.Validator
	Manager     *syncmanager.Manager
}

// New opens the database and builds the sync manager.
func New(cfg *config.Config, logger *logger.Logger) (*App, error) {
	box, err := secrets.NewBox(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to set up credential encryption: %w", err)
	}
	if cfg.IsProduction() && cfg.EncryptionKey == "your-32-byte-encryption-key-here" {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be set in production")
	}

	db, err := database.New(cfg.DatabaseURL, database.WithQueryLogging(logger.IsDebug()))
	if err != nil {
		return nil, err
	}
	return Assemble(cfg, logger, db, box), nil
}

// Assemble wires the services over an open database.
func Assemble(cfg *config.Config, logger *logger.Logger, db *database.Database, box *secrets.Box) *App {
	catalog := database.NewCatalog(db)
	connections := database.NewConnections(db, box)
	validator := validation.New(logger)

	registry := connectors.Registry{
		models.PlatformShopify: shopifyconn.Builder(cfg, logger),
		models.PlatformAmazon:  amazon.Builder(logger),
	}

	manager := syncmanager.New(syncmanager.Deps{
		Config:      cfg,
		Catalog:     catalog,
		Connections: connections,
		Validator:   validator,
		Registry:    registry,
		NewClient: func(conn *models.PlatformConnection) (syncmanager.ShopifyAPI, error) {
			client, err := shopifyconn.NewClient(cfg, logger.With("shop", conn.ShopDomain), conn)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		Logger: logger,
	})

	return &App{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		Catalog:     catalog,
		Connections: connections,
		Validator:   validator,
		Manager:     manager,
	}
}

func (a *App) Close() error {
	return a.DB.Close()
}
