package amazon

import (
	"context"

	"catalogsync/internal/connectors"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
)

// AmazonConnector only checks that credentials are present. Catalog sync to
// Amazon is not implemented.
type AmazonConnector struct {
	creds  models.Credentials
	logger *logger.Logger
}

func New(logger *logger.Logger, conn *models.PlatformConnection) *AmazonConnector {
	ac := &AmazonConnector{logger: logger}
	if conn.Secrets != nil {
		ac.creds = *conn.Secrets
	}
	return ac
}

func Builder(logger *logger.Logger) connectors.Builder {
	return func(conn *models.PlatformConnection) (connectors.Connector, error) {
		return New(logger, conn), nil
	}
}

func (ac *AmazonConnector) Platform() models.Platform { return models.PlatformAmazon }

func (ac *AmazonConnector) TestConnection(ctx context.Context) (*connectors.TestResult, error) {
	var missing []string
	if ac.creds.SellerID == "" {
		missing = append(missing, "seller_id")
	}
	if ac.creds.MarketplaceID == "" {
		missing = append(missing, "marketplace_id")
	}
	if ac.creds.RefreshToken == "" {
		missing = append(missing, "refresh_token")
	}
	if len(missing) > 0 {
		return &connectors.TestResult{
			Success: false,
			Message: "Amazon credentials are incomplete",
			Details: map[string]interface{}{"missing": missing},
		}, nil
	}

	ac.logger.Debug("Amazon credentials present for seller %s", ac.creds.SellerID)
	return &connectors.TestResult{
		Success: true,
		Message: "Amazon credentials are present; product sync is not available yet",
		Details: map[string]interface{}{"seller_id": ac.creds.SellerID, "marketplace_id": ac.creds.MarketplaceID},
	}, nil
}
