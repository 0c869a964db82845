package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loop/internal/redemption/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestInsertApproved_RendersPerDialect(t *testing.T) {
	tests := []struct {
		name      string
		dialector gorm.Dialector
		want      []string
		absent    string
	}{
		{
			name:      "postgres",
			dialector: postgres.New(postgres.Config{DSN: "host=localhost user=loop dbname=loop sslmode=disable"}),
			want: []string{
				`ON CONFLICT ("merchant_id","customer_id","reward_id")`,
				`WHERE status = 'approved' DO NOTHING`,
			},
			absent: "DUPLICATE KEY",
		},
		{
			name:      "mysql",
			dialector: mysql.New(mysql.Config{DSN: "loop:loop@tcp(localhost:3306)/loop", SkipInitializeWithVersion: true}),
			want:      []string{"ON DUPLICATE KEY UPDATE"},
			absent:    "ON CONFLICT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := gorm.Open(tt.dialector, &gorm.Config{DryRun: true, DisableAutomaticPing: true})
			require.NoError(t, err)
			var rendered string
			require.NoError(t, conn.Callback().Create().After("gorm:create").Register("test:capture", func(tx *gorm.DB) {
				rendered = tx.Statement.SQL.String()
			}))

			_, err = Provide().InsertApproved(context.Background(), conn, &domain.Redemption{
				ID:          snowflake.ID(10),
				MerchantID:  snowflake.ID(1),
				RewardID:    snowflake.ID(2),
				CustomerID:  snowflake.ID(3),
				PointsSpent: 30,
				Status:      domain.StatusApproved,
				CreatedAt:   time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC),
			})
			require.NoError(t, err)
			assert.Contains(t, rendered, "reward_redemptions")
			for _, want := range tt.want {
				assert.Contains(t, rendered, want)
			}
			assert.NotContains(t, rendered, tt.absent)
		})
	}
}
