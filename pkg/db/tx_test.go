package db

import (
	"database/sql"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestSnapshotTxOptions(t *testing.T) {
	dryRun := &gorm.Config{DryRun: true, DisableAutomaticPing: true}

	pg, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=loop dbname=loop sslmode=disable"}), dryRun)
	require.NoError(t, err)
	my, err := gorm.Open(mysql.New(mysql.Config{DSN: "loop:loop@tcp(localhost:3306)/loop", SkipInitializeWithVersion: true}), dryRun)
	require.NoError(t, err)
	lite, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	for _, conn := range []*gorm.DB{pg, my} {
		opts := SnapshotTxOptions(conn)
		require.Len(t, opts, 1, conn.Dialector.Name())
		assert.Equal(t, sql.LevelRepeatableRead, opts[0].Isolation)
		assert.True(t, opts[0].ReadOnly)
	}
	assert.Nil(t, SnapshotTxOptions(lite))
	assert.Nil(t, SnapshotTxOptions(nil))
}
