package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loop/internal/ledger/domain"
	"github.com/smallbiznis/loop/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEntry(ctx context.Context, conn *gorm.DB, entry *domain.LedgerEntry) (bool, error) {
	result := conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_event_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) EnsureMembership(ctx context.Context, conn *gorm.DB, membership *domain.Membership) error {
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merchant_id"}, {Name: "customer_id"}},
			DoNothing: true,
		}).
		Create(membership).Error
}

func (r *repo) IncrementBalance(ctx context.Context, conn *gorm.DB, merchantID, customerID snowflake.ID, delta int64, at time.Time) error {
	return conn.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("merchant_id = ? AND customer_id = ?", merchantID, customerID).
		Updates(map[string]any{
			"points_balance": gorm.Expr("points_balance + ?", delta),
			"updated_at":     at,
		}).Error
}

func (r *repo) FindMembership(ctx context.Context, conn *gorm.DB, merchantID, customerID snowflake.ID) (*domain.Membership, error) {
	var memberships []domain.Membership
	err := conn.WithContext(ctx).
		Where("merchant_id = ? AND customer_id = ?", merchantID, customerID).
		Limit(1).
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return nil, nil
	}
	return &memberships[0], nil
}

func (r *repo) ListMemberships(ctx context.Context, conn *gorm.DB, afterID snowflake.ID, limit int) ([]domain.Membership, error) {
	var memberships []domain.Membership
	err := conn.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

// LockMembership reads the membership row FOR UPDATE so concurrent debits
// against the same customer serialize on it.
func (r *repo) LockMembership(ctx context.Context, conn *gorm.DB, merchantID, customerID snowflake.ID) (*domain.Membership, error) {
	var memberships []domain.Membership
	err := conn.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("merchant_id = ? AND customer_id = ?", merchantID, customerID).
		Limit(1).
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return nil, nil
	}
	return &memberships[0], nil
}

// Totals reads the snapshot and the ledger sum in one statement so both
// come from the same database snapshot.
func (r *repo) Totals(ctx context.Context, conn *gorm.DB, merchantID, customerID snowflake.ID) (domain.BalanceTotals, error) {
	var totals domain.BalanceTotals
	err := conn.WithContext(ctx).Raw(
		`SELECT
			COALESCE((SELECT points_balance FROM memberships
			           WHERE merchant_id = ? AND customer_id = ? LIMIT 1), 0) AS snapshot,
			COALESCE((SELECT SUM(delta_points) FROM points_ledger
			           WHERE merchant_id = ? AND customer_id = ?), 0) AS ledger_sum`,
		merchantID, customerID,
		merchantID, customerID,
	).Scan(&totals).Error
	if err != nil {
		return domain.BalanceTotals{}, err
	}
	return totals, nil
}

func (r *repo) SourceEventExists(ctx context.Context, conn *gorm.DB, merchantID, customerID, eventID snowflake.ID) (bool, error) {
	var count int64
	err := conn.WithContext(ctx).
		Table("events").
		Where("id = ? AND merchant_id = ? AND customer_id = ?", eventID, merchantID, customerID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
