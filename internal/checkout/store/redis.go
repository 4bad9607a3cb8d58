package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tablevox/checkout/internal/checkout/domain"
	"github.com/tablevox/checkout/internal/clock"
)

const (
	sessionKeyPrefix = "checkout:session:"
	refKeyPrefix     = "checkout:ref:"
)

// RedisStore keeps sessions in redis for multi-instance deployments. SETNX
// gives atomic create-if-absent; redis key TTL replaces the sweep, and keys
// are PERSISTed on the PENDING -> PROCESSING transition so an in-flight
// confirmation never loses its retry marker to expiry.
type RedisStore struct {
	client *redis.Client
	clock  clock.Clock
}

func NewRedisStore(client *redis.Client, clk clock.Clock) *RedisStore {
	return &RedisStore{client: client, clock: clk}
}

type redisSession struct {
	UserID             string        `json:"user_id"`
	PlanID             string        `json:"plan_id"`
	GatewayReferenceID string        `json:"gateway_reference_id"`
	ClientSecret       string        `json:"client_secret"`
	Status             domain.Status `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
	LastUpdatedAt      time.Time     `json:"last_updated_at"`
	ExpiresAt          time.Time     `json:"expires_at"`
}

type redisRef struct {
	UserID string `json:"user_id"`
	PlanID string `json:"plan_id"`
}

// updateStatusScript advances the session status only when the move is a
// strict forward transition, keeping the existing TTL.
var updateStatusScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local session = cjson.decode(raw)
local ranks = {PENDING=0, PROCESSING=1, COMPLETED=2, FAILED=2}
local current = ranks[session.status]
if current == nil or tonumber(ARGV[2]) <= current then return 0 end
session.status = ARGV[1]
session.last_updated_at = ARGV[3]
redis.call('SET', KEYS[1], cjson.encode(session), 'KEEPTTL')
if ARGV[1] == 'PROCESSING' then
  redis.call('PERSIST', KEYS[1])
  redis.call('PERSIST', KEYS[2])
end
return 1
`)

func (s *RedisStore) GetExisting(ctx context.Context, userID, planID string) (*domain.PurchaseSession, error) {
	return s.getSession(ctx, redisSessionKey(userID, planID))
}

func (s *RedisStore) Create(ctx context.Context, userID, planID, gatewayReferenceID, clientSecret string) (*domain.PurchaseSession, error) {
	now := s.clock.Now()
	session := redisSession{
		UserID:             userID,
		PlanID:             planID,
		GatewayReferenceID: gatewayReferenceID,
		ClientSecret:       clientSecret,
		Status:             domain.StatusPending,
		CreatedAt:          now,
		LastUpdatedAt:      now,
		ExpiresAt:          now.Add(domain.SessionTTL),
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}

	ok, err := s.client.SetNX(ctx, redisSessionKey(userID, planID), raw, domain.SessionTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrSessionExists
	}

	ref, err := json.Marshal(redisRef{UserID: userID, PlanID: planID})
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, refKeyPrefix+gatewayReferenceID, ref, domain.SessionTTL).Err(); err != nil {
		return nil, err
	}
	return toDomain(session), nil
}

func (s *RedisStore) UpdateStatus(ctx context.Context, userID, planID string, status domain.Status) (bool, error) {
	current, err := s.getSession(ctx, redisSessionKey(userID, planID))
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, nil
	}

	now := s.clock.Now()
	keys := []string{
		redisSessionKey(userID, planID),
		refKeyPrefix + current.GatewayReferenceID,
	}
	res, err := updateStatusScript.Run(ctx, s.client, keys,
		string(status),
		status.Rank(),
		now.Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) GetByGatewayReference(ctx context.Context, gatewayReferenceID string) (*domain.PurchaseSession, error) {
	raw, err := s.client.Get(ctx, refKeyPrefix+gatewayReferenceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ref redisRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, err
	}
	return s.getSession(ctx, redisSessionKey(ref.UserID, ref.PlanID))
}

func (s *RedisStore) Complete(ctx context.Context, userID, planID string) error {
	return s.deleteSession(ctx, userID, planID)
}

func (s *RedisStore) Clear(ctx context.Context, userID, planID string) error {
	return s.deleteSession(ctx, userID, planID)
}

// SweepExpired is a no-op: redis key TTL already removes expired sessions.
func (s *RedisStore) SweepExpired(ctx context.Context) (int, error) {
	return 0, nil
}

func (s *RedisStore) getSession(ctx context.Context, key string) (*domain.PurchaseSession, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var session redisSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, err
	}
	return toDomain(session), nil
}

func (s *RedisStore) deleteSession(ctx context.Context, userID, planID string) error {
	session, err := s.getSession(ctx, redisSessionKey(userID, planID))
	if err != nil {
		return err
	}
	keys := []string{redisSessionKey(userID, planID)}
	if session != nil {
		keys = append(keys, refKeyPrefix+session.GatewayReferenceID)
	}
	return s.client.Del(ctx, keys...).Err()
}

func redisSessionKey(userID, planID string) string {
	return fmt.Sprintf("%s%s:%s", sessionKeyPrefix, userID, planID)
}

func toDomain(session redisSession) *domain.PurchaseSession {
	return &domain.PurchaseSession{
		UserID:             session.UserID,
		PlanID:             session.PlanID,
		GatewayReferenceID: session.GatewayReferenceID,
		ClientSecret:       session.ClientSecret,
		Status:             session.Status,
		CreatedAt:          session.CreatedAt,
		LastUpdatedAt:      session.LastUpdatedAt,
		ExpiresAt:          session.ExpiresAt,
	}
}
