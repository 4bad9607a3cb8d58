package repository

import (
	"context"

	"github.com/tablevox/checkout/internal/checkout/domain"
	"gorm.io/gorm"
)

type eventHistory struct {
	db *gorm.DB
}

func NewEventHistory(db *gorm.DB) domain.EventHistory {
	return &eventHistory{db: db}
}

func (r *eventHistory) Record(ctx context.Context, record *domain.EventRecord) error {
	if record == nil {
		return nil
	}
	return r.db.WithContext(ctx).Create(record).Error
}
