package handlers

import (
	"net/http"

	"catalogsync/internal/services/webhooks"

	"github.com/gin-gonic/gin"
)

// Webhook receives Shopify webhooks. Application level failures are still
// acknowledged with 200 so Shopify does not redeliver.
func (h *ShopifyHandler) Webhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, "failed to read payload")
		return
	}

	out := h.webhooks.Handle(c.Request.Context(), webhooks.Request{
		Topic:      c.GetHeader("X-Shopify-Topic"),
		ShopDomain: c.GetHeader("X-Shopify-Shop-Domain"),
		WebhookID:  c.GetHeader("X-Shopify-Webhook-Id"),
		Signature:  c.GetHeader("X-Shopify-Hmac-Sha256"),
		Body:       payload,
	})

	if out.Error != "" {
		c.JSON(out.StatusCode, gin.H{"success": false, "error": out.Error})
		return
	}
	c.JSON(out.StatusCode, gin.H{"success": true, "status": out.Status})
}
