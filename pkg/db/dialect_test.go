package db

import (
	"testing"

	"github.com/smallbiznis/loop/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect(t *testing.T) {
	cfg := config.Config{
		DBHost:     "db",
		DBPort:     "5432",
		DBUser:     "loop",
		DBPassword: "secret",
		DBName:     "loyalty",
		DBSSLMode:  "disable",
	}

	assert.Equal(t, "host=db port=5432 user=loop password=secret dbname=loyalty sslmode=disable TimeZone=UTC", postgresDSN(cfg))
	assert.Equal(t, "loop:secret@tcp(db:5432)/loyalty?charset=utf8mb4&parseTime=True&loc=UTC", mysqlDSN(cfg))
	assert.Equal(t, "loyalty", sqliteDSN(cfg))
	assert.Equal(t, "loop.db", sqliteDSN(config.Config{}))

	for _, kind := range []string{"postgres", " MySQL ", "sqlite"} {
		cfg.DBType = kind
		d, err := Dialect(cfg)
		require.NoError(t, err, kind)
		assert.NotNil(t, d)
	}

	cfg.DBType = "oracle"
	_, err := Dialect(cfg)
	assert.Error(t, err)
}
