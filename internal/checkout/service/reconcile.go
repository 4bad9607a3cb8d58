package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tablevox/checkout/internal/checkout/domain"
	"github.com/tablevox/checkout/internal/confirm"
	gatewaydomain "github.com/tablevox/checkout/internal/gateway/domain"
	obsmetrics "github.com/tablevox/checkout/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// confirmRetryAfter separates "another path is confirming right now" from "an
// earlier confirmation attempt died". A PROCESSING session untouched for this
// long is treated as stalled and the backend call is retried; the backend
// dedupes on gatewayReferenceId, so the retry is safe.
const confirmRetryAfter = time.Minute

// ReconcileWebhook consumes one gateway notification. Delivery is
// at-least-once and unordered, so every path through here must be a safe
// no-op when replayed.
func (s *Service) ReconcileWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	if err := s.gateway.VerifySignature(ctx, payload, headers); err != nil {
		s.metrics.RecordWebhookEvent(obsmetrics.OutcomeRejected)
		return err
	}

	event, err := s.gateway.ParseEvent(ctx, payload)
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrEventIgnored) {
			return nil
		}
		s.metrics.RecordWebhookEvent(obsmetrics.OutcomeRejected)
		return err
	}

	if s.replay != nil && s.replay.Seen(event.ProviderEventID) {
		s.metrics.RecordWebhookEvent(obsmetrics.OutcomeDuplicate)
		return nil
	}

	outcome, err := s.reconcile(ctx, event)
	s.metrics.RecordWebhookEvent(outcome)
	s.recordHistory(ctx, event, outcome)
	terminal := outcome == obsmetrics.OutcomeProcessed || outcome == obsmetrics.OutcomeFailed
	if err == nil && terminal && s.replay != nil {
		// Only a terminally handled delivery is remembered. A failed backend
		// confirmation, or a duplicate that deferred to an in-flight attempt,
		// must stay retryable under the same event ID.
		s.replay.Mark(event.ProviderEventID)
	}
	return err
}

// ConfirmFromRedirect reconciles after the hosted-checkout redirect. The
// client only supplies the reference; payment status comes from the gateway.
func (s *Service) ConfirmFromRedirect(ctx context.Context, gatewayReferenceID, userID string) (bool, error) {
	intent, err := s.gateway.RetrieveStatus(ctx, gatewayReferenceID)
	if err != nil {
		return false, err
	}

	eventType := gatewaydomain.EventTypePaymentFailed
	if intent.Status == gatewaydomain.StatusSucceeded {
		eventType = gatewaydomain.EventTypePaymentSucceeded
	} else if intent.Status == gatewaydomain.StatusPending {
		// Not final yet; leave the session alone and let the webhook finish.
		return false, nil
	}

	outcome, err := s.reconcile(ctx, &gatewaydomain.Event{
		Type:               eventType,
		GatewayReferenceID: intent.GatewayReferenceID,
		UserID:             userID,
		Amount:             intent.Amount,
		Currency:           intent.Currency,
		OccurredAt:         s.clock.Now(),
	})
	if err != nil {
		return false, err
	}
	// A deferred outcome means another attempt still owns the backend call;
	// the client must not see success until that call has actually landed.
	return eventType == gatewaydomain.EventTypePaymentSucceeded &&
		(outcome == obsmetrics.OutcomeProcessed || outcome == obsmetrics.OutcomeDuplicate), nil
}

// reconcile advances the matching session and drives the backend confirmation
// at most once. Returns the outcome label for metrics and the audit trail.
func (s *Service) reconcile(ctx context.Context, event *gatewaydomain.Event) (string, error) {
	log := s.log.With(zap.String("gateway_reference_id", event.GatewayReferenceID))

	session, err := s.findSession(ctx, event)
	if err != nil {
		return obsmetrics.OutcomeFailed, err
	}
	if session == nil {
		// Already completed, expired, or never existed. Replay is routine
		// with at-least-once delivery; swallow it.
		log.Info("no live session for gateway event, treating as duplicate")
		return obsmetrics.OutcomeDuplicate, nil
	}

	if event.Type != gatewaydomain.EventTypePaymentSucceeded {
		if _, err := s.store.UpdateStatus(ctx, session.UserID, session.PlanID, domain.StatusFailed); err != nil {
			return obsmetrics.OutcomeFailed, err
		}
		// FAILED sessions are not retained; the key frees up for a fresh try.
		if err := s.store.Clear(ctx, session.UserID, session.PlanID); err != nil {
			return obsmetrics.OutcomeFailed, err
		}
		log.Info("payment failed at gateway",
			zap.String("user_id", session.UserID),
			zap.String("plan_id", session.PlanID),
		)
		return obsmetrics.OutcomeFailed, nil
	}

	switch session.Status {
	case domain.StatusPending:
		won, err := s.store.UpdateStatus(ctx, session.UserID, session.PlanID, domain.StatusProcessing)
		if err != nil {
			return obsmetrics.OutcomeFailed, err
		}
		if !won {
			// Webhook and redirect raced; the winner owns the backend call.
			log.Info("lost reconciliation race, another path is handling")
			return obsmetrics.OutcomeDeferred, nil
		}
	case domain.StatusProcessing:
		if s.clock.Now().Sub(session.LastUpdatedAt) < confirmRetryAfter {
			log.Info("confirmation already in flight")
			return obsmetrics.OutcomeDeferred, nil
		}
		log.Warn("retrying stalled backend confirmation",
			zap.Time("last_updated_at", session.LastUpdatedAt),
		)
	default:
		return obsmetrics.OutcomeDuplicate, nil
	}

	return s.confirmAndComplete(ctx, session, log)
}

func (s *Service) confirmAndComplete(ctx context.Context, session *domain.PurchaseSession, log *zap.Logger) (string, error) {
	// Minutes and price come from the catalog, never from the event payload.
	resolved, err := s.plans.Resolve(session.PlanID)
	if err != nil {
		return obsmetrics.OutcomeFailed, err
	}

	err = s.confirmer.Confirm(ctx, confirm.Request{
		UserID:             session.UserID,
		PlanType:           resolved.ID,
		MinutesGranted:     resolved.MinutesGranted,
		AmountPaid:         resolved.AmountMinorUnits,
		GatewayReferenceID: session.GatewayReferenceID,
	})
	if err != nil {
		// Leave the session in PROCESSING: its presence is the retry marker.
		s.metrics.RecordConfirmation("error")
		log.Error("backend confirmation failed", zap.Error(err))
		return obsmetrics.OutcomeFailed, fmt.Errorf("%w: %v", domain.ErrConfirmationFailed, err)
	}

	s.metrics.RecordConfirmation("ok")
	if err := s.store.Complete(ctx, session.UserID, session.PlanID); err != nil {
		return obsmetrics.OutcomeFailed, err
	}
	log.Info("purchase confirmed",
		zap.String("user_id", session.UserID),
		zap.String("plan_id", session.PlanID),
		zap.Int("minutes_granted", resolved.MinutesGranted),
	)
	return obsmetrics.OutcomeProcessed, nil
}

func (s *Service) findSession(ctx context.Context, event *gatewaydomain.Event) (*domain.PurchaseSession, error) {
	if event.UserID != "" && event.PlanID != "" {
		session, err := s.store.GetExisting(ctx, event.UserID, event.PlanID)
		if err != nil || session == nil {
			return session, err
		}
		// The gateway reference is the join key. A metadata hit whose
		// reference differs belongs to an older intent for the same key;
		// acting on it would destroy or complete somebody else's session.
		if event.GatewayReferenceID != "" && session.GatewayReferenceID != event.GatewayReferenceID {
			s.log.Info("gateway event references a different intent, skipping",
				zap.String("event_reference_id", event.GatewayReferenceID),
				zap.String("session_reference_id", session.GatewayReferenceID),
			)
			return nil, nil
		}
		return session, nil
	}
	return s.store.GetByGatewayReference(ctx, event.GatewayReferenceID)
}

func (s *Service) recordHistory(ctx context.Context, event *gatewaydomain.Event, outcome string) {
	if s.history == nil {
		return
	}
	now := s.clock.Now()
	record := &domain.EventRecord{
		ID:                 s.genID.Generate(),
		ProviderEventID:    event.ProviderEventID,
		EventType:          event.Type,
		GatewayReferenceID: event.GatewayReferenceID,
		Outcome:            outcome,
		Payload:            datatypes.JSON(event.RawPayload),
		ReceivedAt:         now,
		ProcessedAt:        &now,
	}
	if err := s.history.Record(ctx, record); err != nil {
		s.log.Warn("failed to record gateway event history", zap.Error(err))
	}
}
