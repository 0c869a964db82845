package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// uniqueViolation is the SQLSTATE postgres reports for unique constraint failures.
const uniqueViolation = "23505"

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// pgx (gorm postgres driver)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return true
	}

	// lib/pq (migration connections)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return true
	}

	message := err.Error()

	// PostgreSQL, wrapped without the typed error
	if strings.Contains(message, "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(message, "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(message, "UNIQUE constraint failed") {
		return true
	}

	return false
}
