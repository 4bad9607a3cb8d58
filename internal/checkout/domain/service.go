package domain

import (
	"context"
	"errors"
	"net/http"

	"github.com/tablevox/checkout/internal/plan"
)

var (
	ErrSessionNotFound    = errors.New("session_not_found")
	ErrSessionExists      = errors.New("session_exists")
	ErrConfirmationFailed = errors.New("confirmation_failed")
)

// SessionStore is the single source of truth for in-flight purchase attempts.
//
// Implementations must treat a session past its TTL as absent for every
// reader, with one exception: a PROCESSING session stays visible (and is
// never swept) because its presence is the retry marker for an unfinished
// backend confirmation.
type SessionStore interface {
	// GetExisting returns the live session for the key, or nil if absent or
	// expired. Expired entries may be lazily deleted on read.
	GetExisting(ctx context.Context, userID, planID string) (*PurchaseSession, error)

	// Create registers a fresh PENDING session. Callers must check
	// GetExisting first; Create never upserts. Backends with atomic
	// create-if-absent return ErrSessionExists when a live entry won the race.
	Create(ctx context.Context, userID, planID, gatewayReferenceID, clientSecret string) (*PurchaseSession, error)

	// UpdateStatus advances the session to status and stamps LastUpdatedAt.
	// Returns false when the key is absent, expired, or the move is not a
	// strict forward transition; the caller losing that race must stop.
	UpdateStatus(ctx context.Context, userID, planID string, status Status) (bool, error)

	// GetByGatewayReference looks a live session up by the gateway's join key.
	GetByGatewayReference(ctx context.Context, gatewayReferenceID string) (*PurchaseSession, error)

	// Complete deletes the entry on terminal success.
	Complete(ctx context.Context, userID, planID string) error

	// Clear deletes the entry on abandonment or failure cleanup.
	Clear(ctx context.Context, userID, planID string) error

	// SweepExpired deletes every non-PROCESSING entry past its TTL and
	// returns how many were removed.
	SweepExpired(ctx context.Context) (int, error)
}

// StartPurchaseResult is what the UI needs to render the payment form.
type StartPurchaseResult struct {
	GatewayReferenceID string      `json:"gateway_reference_id"`
	ClientSecret       string      `json:"client_secret"`
	Plan               plan.Config `json:"-"`
	Reused             bool        `json:"-"`
}

// Service is the checkout front door plus the event reconciler.
type Service interface {
	StartPurchase(ctx context.Context, userID, planID string) (StartPurchaseResult, error)
	ClearSession(ctx context.Context, userID, planID string) error

	// ReconcileWebhook consumes one signed gateway notification.
	ReconcileWebhook(ctx context.Context, payload []byte, headers http.Header) error

	// ConfirmFromRedirect reconciles after a hosted-checkout redirect; the
	// gateway is consulted for authoritative status, never the client.
	ConfirmFromRedirect(ctx context.Context, gatewayReferenceID, userID string) (bool, error)
}

// EventHistory records verified gateway events for diagnostics. Writes are
// best-effort and must never block reconciliation.
type EventHistory interface {
	Record(ctx context.Context, record *EventRecord) error
}
