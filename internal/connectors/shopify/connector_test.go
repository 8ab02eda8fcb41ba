package shopify

import (
	"testing"

	"catalogsync/internal/config"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresCredentials(t *testing.T) {
	cfg := &config.Config{ShopifyAPIVersion: "2024-10", ShopifyPlan: "plus"}

	_, err := NewClient(cfg, logger.NewNop(), &models.PlatformConnection{})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = NewClient(cfg, logger.NewNop(), &models.PlatformConnection{Secrets: &models.Credentials{AccessToken: "shpat"}})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	c, err := NewClient(cfg, logger.NewNop(), &models.PlatformConnection{
		ShopDomain: "demo",
		Secrets:    &models.Credentials{AccessToken: "shpat"},
	})
	require.NoError(t, err)
	assert.Equal(t, "demo.myshopify.com", c.ShopDomain())
	assert.InDelta(t, 2000, c.Bucket().Available(), 1, "plus plan burst")
}
