package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type startPurchaseRequest struct {
	UserID string `json:"user_id" binding:"required"`
	PlanID string `json:"plan_id" binding:"required"`
}

// HandleStartPurchase mints (or re-hands-out) the payment intent the UI
// needs to render the payment form.
func (s *Server) HandleStartPurchase(c *gin.Context) {
	var req startPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.checkoutSvc.StartPurchase(c.Request.Context(), req.UserID, req.PlanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"gateway_reference_id": result.GatewayReferenceID,
		"client_secret":        result.ClientSecret,
	})
}

type confirmRedirectRequest struct {
	GatewayReferenceID string `json:"gateway_reference_id" binding:"required"`
	UserID             string `json:"user_id" binding:"required"`
}

// HandleConfirmRedirect reconciles a purchase after the hosted-checkout
// redirect. The gateway is consulted for the authoritative payment status.
func (s *Server) HandleConfirmRedirect(c *gin.Context) {
	var req confirmRedirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	success, err := s.checkoutSvc.ConfirmFromRedirect(c.Request.Context(), req.GatewayReferenceID, req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": success})
}

// HandleClearSession abandons an in-flight purchase attempt.
func (s *Server) HandleClearSession(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	planID := strings.TrimSpace(c.Query("plan_id"))
	if userID == "" || planID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.checkoutSvc.ClearSession(c.Request.Context(), userID, planID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
