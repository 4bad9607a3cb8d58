package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/tablevox/checkout/internal/checkout/domain"
	gatewaydomain "github.com/tablevox/checkout/internal/gateway/domain"
	"github.com/tablevox/checkout/internal/plan"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, plan.ErrUnknownPlan):
		return http.StatusNotFound, errorPayload{
			Type:    "unknown_plan",
			Message: "no such plan in the catalog",
		}
	case errors.Is(err, plan.ErrSalesAssistedPlan):
		return http.StatusConflict, errorPayload{
			Type:    "sales_assisted_plan",
			Message: "this plan requires contacting sales",
		}
	case errors.Is(err, gatewaydomain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "gateway_unavailable",
			Message: "payment gateway unavailable, retry the purchase",
		}
	case errors.Is(err, gatewaydomain.ErrInvalidSignature),
		errors.Is(err, gatewaydomain.ErrInvalidPayload),
		errors.Is(err, gatewaydomain.ErrInvalidEvent),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: "request could not be processed",
		}
	case errors.Is(err, checkoutdomain.ErrConfirmationFailed):
		return http.StatusInternalServerError, errorPayload{
			Type:    "confirmation_failed",
			Message: "purchase confirmation failed, it will be retried",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal error",
		}
	}
}
