package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the lifecycle state of a purchase attempt. Transitions only move
// forward: PENDING -> PROCESSING -> COMPLETED, or PENDING|PROCESSING -> FAILED.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Rank orders statuses so stores can enforce forward-only transitions.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// SessionTTL is the fixed window after which a pending attempt is abandoned.
const SessionTTL = 15 * time.Minute

// PurchaseSession is one in-flight purchase attempt for a (user, plan) pair.
type PurchaseSession struct {
	UserID             string    `json:"user_id" gorm:"primaryKey;type:text"`
	PlanID             string    `json:"plan_id" gorm:"primaryKey;type:text"`
	GatewayReferenceID string    `json:"gateway_reference_id" gorm:"type:text;not null;index"`
	ClientSecret       string    `json:"-" gorm:"type:text;not null"`
	Status             Status    `json:"status" gorm:"type:text;not null"`
	CreatedAt          time.Time `json:"created_at" gorm:"not null"`
	LastUpdatedAt      time.Time `json:"last_updated_at" gorm:"not null"`
	ExpiresAt          time.Time `json:"expires_at" gorm:"not null;index"`
}

func (PurchaseSession) TableName() string { return "purchase_sessions" }

// Live reports whether the session should be visible to readers at the given
// instant. A PROCESSING session stays live past its TTL so an in-flight
// backend confirmation cannot lose its retry marker.
func (s *PurchaseSession) Live(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Status == StatusProcessing {
		return true
	}
	return now.Before(s.ExpiresAt)
}

// EventRecord is the audit trail of verified gateway notifications.
type EventRecord struct {
	ID                 snowflake.ID   `json:"id" gorm:"primaryKey"`
	ProviderEventID    string         `json:"provider_event_id" gorm:"type:text;not null;index"`
	EventType          string         `json:"event_type" gorm:"type:text;not null"`
	GatewayReferenceID string         `json:"gateway_reference_id" gorm:"type:text;not null;index"`
	Outcome            string         `json:"outcome" gorm:"type:text;not null"`
	Payload            datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	ReceivedAt         time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt        *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "gateway_events" }
