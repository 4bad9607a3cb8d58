package confirm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tablevox/checkout/internal/checkout/domain"
	"github.com/tablevox/checkout/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Request carries everything the backend of record needs to grant a purchase.
type Request struct {
	UserID             string
	PlanType           string
	MinutesGranted     int
	AmountPaid         int64
	GatewayReferenceID string
}

// Caller grants the purchase in the system of record. The backend dedupes on
// the gateway reference, so calling twice with the same reference is safe.
type Caller interface {
	Confirm(ctx context.Context, req Request) error
}

type confirmPayload struct {
	UserID          string `json:"userId"`
	PlanType        string `json:"planType"`
	AmountPaid      int64  `json:"amountPaid"`
	TransactionID   string `json:"transactionId"`
	PaymentIntentID string `json:"paymentIntentId"`
	Minutes         int    `json:"minutes"`
	IsAdmin         bool   `json:"isAdmin"`
}

type httpCaller struct {
	baseURL string
	token   string
	log     *zap.Logger
	client  *http.Client
}

func NewHTTPCaller(cfg config.Config, log *zap.Logger) Caller {
	return &httpCaller{
		baseURL: strings.TrimRight(cfg.SpeechBackendURL, "/"),
		token:   cfg.SpeechBackendToken,
		log:     log.Named("confirm.caller"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *httpCaller) Confirm(ctx context.Context, req Request) error {
	payload := confirmPayload{
		UserID:          req.UserID,
		PlanType:        req.PlanType,
		AmountPaid:      req.AmountPaid,
		TransactionID:   req.GatewayReferenceID,
		PaymentIntentID: req.GatewayReferenceID,
		Minutes:         req.MinutesGranted,
		IsAdmin:         false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/confirm-payment", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfirmationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Error("backend confirmation rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("user_id", req.UserID),
			zap.String("gateway_reference_id", req.GatewayReferenceID),
		)
		return fmt.Errorf("%w: status %d: %s", domain.ErrConfirmationFailed, resp.StatusCode, string(respBody))
	}

	return nil
}

var Module = fx.Module("confirm",
	fx.Provide(NewHTTPCaller),
)
