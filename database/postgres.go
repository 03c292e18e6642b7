package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"mabletask/agent/config"
)

// ErrRegistryDisabled is returned when no Postgres URL is configured.
var ErrRegistryDisabled = errors.New("postgres installation registry not configured")

type DBClient struct {
	DB *sql.DB
}

// NewPostgresDB opens the installation registry database.
func NewPostgresDB(cfg config.PostgresConfig) (*DBClient, error) {
	if cfg.URL == "" {
		return nil, ErrRegistryDisabled
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database (ping failed): %w", err)
	}
	return &DBClient{DB: db}, nil
}

func (c *DBClient) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
