package db

import (
	"fmt"
	"net"
	"strings"

	"github.com/smallbiznis/loop/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const defaultSQLiteFile = "loop.db"

// Dialect picks the gorm driver for DATABASE_TYPE. Every driver is pinned to UTC
// so ledger and event timestamps compare consistently.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.DBType))
	switch kind {
	case "postgres", "postgresql":
		return postgres.Open(postgresDSN(cfg)), nil
	case "mysql":
		return mysql.Open(mysqlDSN(cfg)), nil
	case "sqlite":
		return sqlite.Open(sqliteDSN(cfg)), nil
	}
	return nil, fmt.Errorf("unsupported database type %q", cfg.DBType)
}

func postgresDSN(cfg config.Config) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
}

func mysqlDSN(cfg config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.DBUser, cfg.DBPassword, net.JoinHostPort(cfg.DBHost, cfg.DBPort), cfg.DBName)
}

func sqliteDSN(cfg config.Config) string {
	if name := strings.TrimSpace(cfg.DBName); name != "" {
		return name
	}
	return defaultSQLiteFile
}
