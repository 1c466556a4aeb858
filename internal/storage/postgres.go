package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"templatebot/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresSchema string

const (
	pgMaxOpenConns    = 10
	pgMaxIdleConns    = 5
	pgConnMaxLifetime = 30 * time.Minute
	pgUniqueViolation = "23505"
)

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(pgMaxOpenConns)
	db.SetMaxIdleConns(pgMaxIdleConns)
	db.SetConnMaxLifetime(pgConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres store ready")
	return newPostgresStore(db, log), nil
}

func newPostgresStore(db *sql.DB, log logx.Logger) *sqlStore {
	return &sqlStore{
		db:  db,
		log: log,
		now: time.Now,
		d: dialect{
			name:        "postgres",
			dollarArgs:  true,
			lockForRead: " FOR UPDATE",
			isUnique:    isPostgresUnique,
		},
	}
}

func isPostgresUnique(err error) bool {
	var pe *pq.Error
	return errors.As(err, &pe) && pe.Code == pgUniqueViolation
}
