package shopify

import (
	"context"
	"errors"
	"net/http"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/connectors"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	shopifysvc "catalogsync/internal/services/shopify"
)

var ErrMissingCredentials = errors.New("shopify connection has no shop domain or access token")

// NewClient builds a GraphQL client for a stored connection using the
// configured API version, plan limits and poll interval.
func NewClient(cfg *config.Config, logger *logger.Logger, conn *models.PlatformConnection) (*shopifysvc.Client, error) {
	if conn.Secrets == nil || conn.Secrets.AccessToken == "" {
		return nil, ErrMissingCredentials
	}
	shop := conn.Secrets.ShopDomain
	if shop == "" {
		shop = conn.ShopDomain
	}
	if shop == "" {
		return nil, ErrMissingCredentials
	}

	opts := []shopifysvc.Option{
		shopifysvc.WithAPIVersion(cfg.ShopifyAPIVersion),
		shopifysvc.WithPlan(cfg.ShopifyPlan),
		shopifysvc.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	}
	if cfg.Sync.PollInterval > 0 {
		opts = append(opts, shopifysvc.WithPollInterval(cfg.Sync.PollInterval))
	}
	return shopifysvc.NewClient(shop, conn.Secrets.AccessToken, logger, opts...), nil
}

type ShopifyConnector struct {
	client *shopifysvc.Client
	logger *logger.Logger
}

func New(cfg *config.Config, logger *logger.Logger, conn *models.PlatformConnection) (*ShopifyConnector, error) {
	client, err := NewClient(cfg, logger, conn)
	if err != nil {
		return nil, err
	}
	return &ShopifyConnector{client: client, logger: logger}, nil
}

// Builder adapts New to the connector registry.
func Builder(cfg *config.Config, logger *logger.Logger) connectors.Builder {
	return func(conn *models.PlatformConnection) (connectors.Connector, error) {
		return New(cfg, logger, conn)
	}
}

func (sc *ShopifyConnector) Platform() models.Platform { return models.PlatformShopify }

// TestConnection fetches the shop record with the stored token.
func (sc *ShopifyConnector) TestConnection(ctx context.Context) (*connectors.TestResult, error) {
	shop, err := sc.client.GetShopInfo(ctx)
	if err != nil {
		if shopifysvc.IsAuthError(err) {
			return &connectors.TestResult{Success: false, Message: "Shopify rejected the access token"}, nil
		}
		return nil, err
	}

	sc.logger.Info("Connection to %s verified", sc.client.ShopDomain())
	return &connectors.TestResult{
		Success: true,
		Message: "Connected to " + shop.Name,
		Details: map[string]interface{}{
			"shop_name": shop.Name,
			"domain":    shop.MyshopifyDomain,
			"currency":  shop.CurrencyCode,
			"plan":      shop.Plan.DisplayName,
		},
	}, nil
}
