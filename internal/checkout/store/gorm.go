package store

import (
	"context"
	"errors"

	"github.com/tablevox/checkout/internal/checkout/domain"
	"github.com/tablevox/checkout/internal/clock"
	"gorm.io/gorm"
)

// GormStore is the durable SessionStore. INSERT ... ON CONFLICT DO NOTHING
// gives the atomic create-if-absent the in-memory map cannot, so two
// concurrent StartPurchase calls for the same key collapse to one row even
// across server instances.
type GormStore struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewGormStore(db *gorm.DB, clk clock.Clock) *GormStore {
	return &GormStore{db: db, clock: clk}
}

func (s *GormStore) GetExisting(ctx context.Context, userID, planID string) (*domain.PurchaseSession, error) {
	var session domain.PurchaseSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND plan_id = ?", userID, planID).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !session.Live(s.clock.Now()) {
		s.deleteRow(ctx, userID, planID)
		return nil, nil
	}
	return &session, nil
}

func (s *GormStore) Create(ctx context.Context, userID, planID, gatewayReferenceID, clientSecret string) (*domain.PurchaseSession, error) {
	now := s.clock.Now()
	session := domain.PurchaseSession{
		UserID:             userID,
		PlanID:             planID,
		GatewayReferenceID: gatewayReferenceID,
		ClientSecret:       clientSecret,
		Status:             domain.StatusPending,
		CreatedAt:          now,
		LastUpdatedAt:      now,
		ExpiresAt:          now.Add(domain.SessionTTL),
	}

	// Reclaim a dead row first so the insert below only ever loses to a
	// genuinely live session.
	err := s.db.WithContext(ctx).Exec(
		`DELETE FROM purchase_sessions
		 WHERE user_id = ? AND plan_id = ?
		   AND status <> ? AND expires_at <= ?`,
		userID, planID, domain.StatusProcessing, now,
	).Error
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Exec(
		`INSERT INTO purchase_sessions (
			user_id, plan_id, gateway_reference_id, client_secret,
			status, created_at, last_updated_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, plan_id) DO NOTHING`,
		session.UserID,
		session.PlanID,
		session.GatewayReferenceID,
		session.ClientSecret,
		session.Status,
		session.CreatedAt,
		session.LastUpdatedAt,
		session.ExpiresAt,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrSessionExists
	}
	return &session, nil
}

func (s *GormStore) UpdateStatus(ctx context.Context, userID, planID string, status domain.Status) (bool, error) {
	now := s.clock.Now()
	res := s.db.WithContext(ctx).Exec(
		`UPDATE purchase_sessions
		 SET status = ?, last_updated_at = ?
		 WHERE user_id = ? AND plan_id = ?
		   AND (status = ? OR expires_at > ?)
		   AND CASE status
		       WHEN ? THEN 0
		       WHEN ? THEN 1
		       ELSE 2
		     END < ?`,
		status, now,
		userID, planID,
		domain.StatusProcessing, now,
		domain.StatusPending,
		domain.StatusProcessing,
		status.Rank(),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) GetByGatewayReference(ctx context.Context, gatewayReferenceID string) (*domain.PurchaseSession, error) {
	var session domain.PurchaseSession
	err := s.db.WithContext(ctx).
		Where("gateway_reference_id = ?", gatewayReferenceID).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !session.Live(s.clock.Now()) {
		s.deleteRow(ctx, session.UserID, session.PlanID)
		return nil, nil
	}
	return &session, nil
}

func (s *GormStore) Complete(ctx context.Context, userID, planID string) error {
	return s.deleteRow(ctx, userID, planID)
}

func (s *GormStore) Clear(ctx context.Context, userID, planID string) error {
	return s.deleteRow(ctx, userID, planID)
}

func (s *GormStore) SweepExpired(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Exec(
		`DELETE FROM purchase_sessions
		 WHERE expires_at <= ? AND status <> ?`,
		s.clock.Now(), domain.StatusProcessing,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (s *GormStore) deleteRow(ctx context.Context, userID, planID string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND plan_id = ?", userID, planID).
		Delete(&domain.PurchaseSession{}).Error
}
