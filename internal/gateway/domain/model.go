package domain

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrInvalidPayload     = errors.New("invalid_payload")
	ErrInvalidEvent       = errors.New("invalid_event")
	ErrEventIgnored       = errors.New("event_ignored")
	ErrInvalidConfig      = errors.New("invalid_gateway_config")
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
)

// Payment status as reported by the gateway, normalized.
const (
	StatusSucceeded = "succeeded"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
)

// Intent is one gateway-side charge attempt.
type Intent struct {
	GatewayReferenceID string
	ClientSecret       string
	Status             string
	Amount             int64
	Currency           string
}

// CreateIntentRequest carries everything the gateway needs to mint an intent.
type CreateIntentRequest struct {
	AmountMinorUnits int64
	Currency         string
	Metadata         map[string]string
	IdempotencyKey   string
}

// Event is the canonical gateway notification parsed by adapters.
type Event struct {
	ProviderEventID    string
	Type               string
	GatewayReferenceID string
	UserID             string
	PlanID             string
	Amount             int64
	Currency           string
	OccurredAt         time.Time
	RawPayload         []byte
}

// Adapter wraps the external payment gateway.
type Adapter interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error)
	RetrieveStatus(ctx context.Context, gatewayReferenceID string) (Intent, error)
	VerifySignature(ctx context.Context, payload []byte, headers http.Header) error
	ParseEvent(ctx context.Context, payload []byte) (*Event, error)
}
