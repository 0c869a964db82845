package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/loop/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert writes the row as-is; audit rows are never updated.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	err := db.WithContext(ctx).
		Where("merchant_id = ?", filter.MerchantID).
		Scopes(
			equalIfSet("action", filter.Action),
			equalIfSet("target_type", filter.TargetType),
			equalIfSet("target_id", filter.TargetID),
		).
		Order("created_at DESC, id DESC").
		Limit(filter.Limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func equalIfSet(column, value string) func(*gorm.DB) *gorm.DB {
	value = strings.TrimSpace(value)
	return func(tx *gorm.DB) *gorm.DB {
		if value == "" {
			return tx
		}
		return tx.Where(column+" = ?", value)
	}
}
