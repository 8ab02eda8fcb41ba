package amazon

import (
	"context"
	"testing"

	"catalogsync/internal/connectors"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionReportsMissingCredentials(t *testing.T) {
	conn := &models.PlatformConnection{
		Platform: models.PlatformAmazon,
		Secrets:  &models.Credentials{SellerID: "S1"},
	}
	res, err := New(logger.NewNop(), conn).TestConnection(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"marketplace_id", "refresh_token"}, res.Details["missing"])
}

func TestRegistryBuildsAmazonConnector(t *testing.T) {
	reg := connectors.Registry{models.PlatformAmazon: Builder(logger.NewNop())}
	conn := &models.PlatformConnection{
		Platform: models.PlatformAmazon,
		Secrets:  &models.Credentials{SellerID: "S1", MarketplaceID: "ATVPDKIKX0DER", RefreshToken: "Atzr|x"},
	}

	c, err := reg.For(conn)
	require.NoError(t, err)
	assert.Equal(t, models.PlatformAmazon, c.Platform())

	res, err := c.TestConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = reg.For(&models.PlatformConnection{Platform: models.PlatformShopify})
	assert.Error(t, err)
}
