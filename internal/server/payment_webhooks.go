package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/tablevox/checkout/internal/checkout/domain"
	gatewaydomain "github.com/tablevox/checkout/internal/gateway/domain"
)

// HandlePaymentWebhook ingests signed gateway notifications. The gateway
// retries on any non-2xx, so the contract is: 200 {"received": true} for
// processed-or-ignored events, 400 for bad signatures or malformed payloads
// (retrying cannot help), 500 when reconciliation failed and a retry should
// happen.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	err = s.checkoutSvc.ReconcileWebhook(c.Request.Context(), payload, c.Request.Header)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, gatewaydomain.ErrInvalidSignature),
		errors.Is(err, gatewaydomain.ErrInvalidPayload),
		errors.Is(err, gatewaydomain.ErrInvalidEvent):
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
	case errors.Is(err, checkoutdomain.ErrConfirmationFailed):
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "confirmation failed"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
