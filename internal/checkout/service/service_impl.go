package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/tablevox/checkout/internal/cache"
	"github.com/tablevox/checkout/internal/checkout/domain"
	"github.com/tablevox/checkout/internal/clock"
	"github.com/tablevox/checkout/internal/confirm"
	gatewaydomain "github.com/tablevox/checkout/internal/gateway/domain"
	obsmetrics "github.com/tablevox/checkout/internal/observability/metrics"
	"github.com/tablevox/checkout/internal/plan"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// idempotencyBucket is the granularity of the gateway-side idempotency key.
// It matches the session TTL so every retry within one session lifetime maps
// to the same gateway intent.
const idempotencyBucket = domain.SessionTTL

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Store     domain.SessionStore
	Plans     plan.Resolver
	Gateway   gatewaydomain.Adapter
	Confirmer confirm.Caller
	GenID     *snowflake.Node
	History   domain.EventHistory `optional:"true"`
	Replay    cache.ReplayGuard   `optional:"true"`
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	store     domain.SessionStore
	plans     plan.Resolver
	gateway   gatewaydomain.Adapter
	confirmer confirm.Caller
	genID     *snowflake.Node
	history   domain.EventHistory
	replay    cache.ReplayGuard
	metrics   *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:       p.Log.Named("checkout.service"),
		clock:     p.Clock,
		store:     p.Store,
		plans:     p.Plans,
		gateway:   p.Gateway,
		confirmer: p.Confirmer,
		genID:     p.GenID,
		history:   p.History,
		replay:    p.Replay,
		metrics:   p.Metrics,
	}
}

// StartPurchase is the front door for "buy this plan". A user double-clicking
// the buy button, or a retried request, must never mint two gateway intents:
// an existing live session short-circuits, and the deterministic idempotency
// key collapses the remaining create race at the gateway side.
func (s *Service) StartPurchase(ctx context.Context, userID, planID string) (domain.StartPurchaseResult, error) {
	resolved, err := s.plans.Resolve(planID)
	if err != nil {
		return domain.StartPurchaseResult{}, err
	}
	if resolved.Category == plan.CategorySalesAssisted {
		return domain.StartPurchaseResult{}, plan.ErrSalesAssistedPlan
	}

	existing, err := s.store.GetExisting(ctx, userID, planID)
	if err != nil {
		return domain.StartPurchaseResult{}, err
	}
	if existing != nil {
		s.metrics.RecordIntentReused()
		return domain.StartPurchaseResult{
			GatewayReferenceID: existing.GatewayReferenceID,
			ClientSecret:       existing.ClientSecret,
			Plan:               resolved,
			Reused:             true,
		}, nil
	}

	intent, err := s.gateway.CreateIntent(ctx, gatewaydomain.CreateIntentRequest{
		AmountMinorUnits: resolved.AmountMinorUnits,
		Currency:         resolved.Currency,
		Metadata: map[string]string{
			"user_id": userID,
			"plan_id": resolved.ID,
		},
		IdempotencyKey: s.idempotencyKey(userID, resolved.ID),
	})
	if err != nil {
		return domain.StartPurchaseResult{}, err
	}

	session, err := s.store.Create(ctx, userID, resolved.ID, intent.GatewayReferenceID, intent.ClientSecret)
	if errors.Is(err, domain.ErrSessionExists) {
		// Lost the create race to a concurrent StartPurchase; the winner's
		// session is the one to hand back.
		winner, getErr := s.store.GetExisting(ctx, userID, resolved.ID)
		if getErr != nil {
			return domain.StartPurchaseResult{}, getErr
		}
		if winner != nil {
			s.metrics.RecordIntentReused()
			return domain.StartPurchaseResult{
				GatewayReferenceID: winner.GatewayReferenceID,
				ClientSecret:       winner.ClientSecret,
				Plan:               resolved,
				Reused:             true,
			}, nil
		}
		return domain.StartPurchaseResult{}, err
	}
	if err != nil {
		return domain.StartPurchaseResult{}, err
	}

	s.metrics.RecordIntentCreated()
	s.log.Info("purchase session created",
		zap.String("user_id", userID),
		zap.String("plan_id", resolved.ID),
		zap.String("gateway_reference_id", session.GatewayReferenceID),
	)

	return domain.StartPurchaseResult{
		GatewayReferenceID: session.GatewayReferenceID,
		ClientSecret:       session.ClientSecret,
		Plan:               resolved,
	}, nil
}

// ClearSession abandons an in-flight attempt. Advisory only: the gateway-side
// intent is not canceled.
func (s *Service) ClearSession(ctx context.Context, userID, planID string) error {
	return s.store.Clear(ctx, userID, planID)
}

func (s *Service) idempotencyKey(userID, planID string) string {
	bucket := s.clock.Now().Unix() / int64(idempotencyBucket.Seconds())
	return fmt.Sprintf("checkout:%s:%s:%d", userID, planID, bucket)
}
