package store

import (
	"context"
	"sync"

	"github.com/tablevox/checkout/internal/checkout/domain"
	"github.com/tablevox/checkout/internal/clock"
)

type sessionKey struct {
	userID string
	planID string
}

// MemoryStore is the process-local SessionStore. Create-if-absent is atomic
// within one process only; multi-instance deployments should use the gorm or
// redis backends instead.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[sessionKey]*domain.PurchaseSession
	byRef    map[string]sessionKey
	clock    clock.Clock
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[sessionKey]*domain.PurchaseSession),
		byRef:    make(map[string]sessionKey),
		clock:    clk,
	}
}

func (s *MemoryStore) GetExisting(ctx context.Context, userID, planID string) (*domain.PurchaseSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{userID: userID, planID: planID}
	session, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	if !session.Live(s.clock.Now()) {
		s.deleteLocked(key)
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (s *MemoryStore) Create(ctx context.Context, userID, planID, gatewayReferenceID, clientSecret string) (*domain.PurchaseSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	key := sessionKey{userID: userID, planID: planID}
	if existing, ok := s.sessions[key]; ok {
		if existing.Live(now) {
			return nil, domain.ErrSessionExists
		}
		s.deleteLocked(key)
	}

	session := &domain.PurchaseSession{
		UserID:             userID,
		PlanID:             planID,
		GatewayReferenceID: gatewayReferenceID,
		ClientSecret:       clientSecret,
		Status:             domain.StatusPending,
		CreatedAt:          now,
		LastUpdatedAt:      now,
		ExpiresAt:          now.Add(domain.SessionTTL),
	}
	s.sessions[key] = session
	s.byRef[gatewayReferenceID] = key

	copied := *session
	return &copied, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, userID, planID string, status domain.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{userID: userID, planID: planID}
	session, ok := s.sessions[key]
	if !ok {
		return false, nil
	}
	now := s.clock.Now()
	if !session.Live(now) {
		s.deleteLocked(key)
		return false, nil
	}
	if status.Rank() <= session.Status.Rank() {
		return false, nil
	}
	session.Status = status
	session.LastUpdatedAt = now
	return true, nil
}

func (s *MemoryStore) GetByGatewayReference(ctx context.Context, gatewayReferenceID string) (*domain.PurchaseSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byRef[gatewayReferenceID]
	if !ok {
		return nil, nil
	}
	session, ok := s.sessions[key]
	if !ok {
		delete(s.byRef, gatewayReferenceID)
		return nil, nil
	}
	if !session.Live(s.clock.Now()) {
		s.deleteLocked(key)
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (s *MemoryStore) Complete(ctx context.Context, userID, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(sessionKey{userID: userID, planID: planID})
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, userID, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(sessionKey{userID: userID, planID: planID})
	return nil
}

func (s *MemoryStore) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for key, session := range s.sessions {
		if session.Status == domain.StatusProcessing {
			continue
		}
		if now.Before(session.ExpiresAt) {
			continue
		}
		s.deleteLocked(key)
		removed++
	}
	return removed, nil
}

func (s *MemoryStore) deleteLocked(key sessionKey) {
	if session, ok := s.sessions[key]; ok {
		delete(s.byRef, session.GatewayReferenceID)
	}
	delete(s.sessions, key)
}
