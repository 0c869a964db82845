package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loop/internal/reward/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, reward *domain.Reward) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO rewards (
			id, merchant_id, title, slug, description, points_cost, is_active, meta, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reward.ID,
		reward.MerchantID,
		reward.Title,
		reward.Slug,
		reward.Description,
		reward.PointsCost,
		reward.IsActive,
		reward.Meta,
		reward.CreatedAt,
		reward.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, merchantID, id snowflake.ID) (*domain.Reward, error) {
	var rewards []domain.Reward
	err := db.WithContext(ctx).
		Where("merchant_id = ? AND id = ?", merchantID, id).
		Limit(1).
		Find(&rewards).Error
	if err != nil {
		return nil, err
	}
	if len(rewards) == 0 {
		return nil, nil
	}
	return &rewards[0], nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, reward *domain.Reward) error {
	return db.WithContext(ctx).Exec(
		`UPDATE rewards
		 SET title = ?, slug = ?, description = ?, points_cost = ?, is_active = ?, updated_at = ?
		 WHERE merchant_id = ? AND id = ?`,
		reward.Title,
		reward.Slug,
		reward.Description,
		reward.PointsCost,
		reward.IsActive,
		reward.UpdatedAt,
		reward.MerchantID,
		reward.ID,
	).Error
}
