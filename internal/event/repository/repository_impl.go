package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loop/internal/event/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO events (
			id, merchant_id, branch_id, customer_id, staff_id, type, payload, occurred_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.MerchantID,
		event.BranchID,
		event.CustomerID,
		event.StaffID,
		string(event.Type),
		event.Payload,
		event.OccurredAt,
		event.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, merchantID, id snowflake.ID) (*domain.Event, error) {
	var events []domain.Event
	err := db.WithContext(ctx).
		Where("merchant_id = ? AND id = ?", merchantID, id).
		Limit(1).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, query domain.FactsQuery) (int64, error) {
	var total int64
	err := scoped(db.WithContext(ctx).Model(&domain.Event{}), query).Count(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) FindLatest(ctx context.Context, db *gorm.DB, query domain.FactsQuery, types []domain.EventType) (*domain.Event, error) {
	stmt := scoped(db.WithContext(ctx).Model(&domain.Event{}), query)
	if len(types) > 0 {
		values := make([]string, 0, len(types))
		for _, t := range types {
			values = append(values, string(t))
		}
		stmt = stmt.Where("type IN ?", values)
	}

	var events []domain.Event
	err := stmt.
		Order("occurred_at desc, id desc").
		Limit(1).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func scoped(stmt *gorm.DB, query domain.FactsQuery) *gorm.DB {
	stmt = stmt.Where("merchant_id = ? AND customer_id = ?", query.MerchantID, query.CustomerID)
	if query.BranchID != nil {
		stmt = stmt.Where("branch_id = ?", *query.BranchID)
	}
	return stmt
}
