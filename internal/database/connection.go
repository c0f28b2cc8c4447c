package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chargeup/payment-engine/internal/config"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrUniqueViolation is returned when an insert races with an existing row
var ErrUniqueViolation = errors.New("unique constraint violation")

// DB interface defines database operations
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	PingContext(ctx context.Context) error
	Close() error
}

// PostgresDB implements the DB interface using sqlx
type PostgresDB struct {
	*sqlx.DB
}

// NewConnection creates a new database connection
func NewConnection(cfg config.DatabaseConfig) (*PostgresDB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Poolers such as pgbouncer in transaction mode reject prepared statements
	connectionURL := cfg.URL
	if !strings.Contains(connectionURL, "binary_parameters") {
		separator := "?"
		if strings.Contains(connectionURL, "?") {
			separator = "&"
		}
		connectionURL = connectionURL + separator + "binary_parameters=yes"
	}

	db, err := sqlx.Connect("postgres", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{DB: db}, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation,
// returning the violated constraint name
func isUniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint, true
	}
	return "", false
}

// wrapUnique converts unique violations to ErrUniqueViolation, wrapping everything else with msg
func wrapUnique(err error, msg string) error {
	if constraint, ok := isUniqueViolation(err); ok {
		return fmt.Errorf("%s: %w (%s)", msg, ErrUniqueViolation, constraint)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
