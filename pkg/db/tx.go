package db

import (
	"database/sql"

	"gorm.io/gorm"
)

// SnapshotTxOptions returns options for a read-only repeatable-read
// transaction on servers that support them. SQLite transactions already read
// from one snapshot and its drivers reject isolation options, so it gets none.
func SnapshotTxOptions(conn *gorm.DB) []*sql.TxOptions {
	if conn == nil || conn.Dialector == nil {
		return nil
	}
	switch conn.Dialector.Name() {
	case "postgres", "mysql":
		return []*sql.TxOptions{{Isolation: sql.LevelRepeatableRead, ReadOnly: true}}
	default:
		return nil
	}
}
