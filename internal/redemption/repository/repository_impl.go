package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loop/internal/redemption/domain"
	"github.com/smallbiznis/loop/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindApproved(ctx context.Context, conn *gorm.DB, merchantID, customerID, rewardID snowflake.ID) (*domain.Redemption, error) {
	var items []domain.Redemption
	err := conn.WithContext(ctx).
		Where("merchant_id = ? AND customer_id = ? AND reward_id = ? AND status = ?",
			merchantID, customerID, rewardID, string(domain.StatusApproved)).
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// InsertApproved reports false when the partial unique index already holds
// an approved row for the same merchant, customer and reward.
func (r *repo) InsertApproved(ctx context.Context, conn *gorm.DB, redemption *domain.Redemption) (bool, error) {
	result := conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "merchant_id"}, {Name: "customer_id"}, {Name: "reward_id"}},
			// A literal predicate lets postgres match the partial index.
			TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "status = 'approved'"}}},
			DoNothing:   true,
		}).
		Create(redemption)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
