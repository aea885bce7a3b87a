package database

import (
	"context"
	"os"
	"strconv"

	"github.com/tickettoken/ticket-indexer/boff"
	"github.com/tickettoken/ticket-indexer/config"
	"gorm.io/gorm"
)

const (
	MysqlTestUser     string = "indexeruser"
	MysqlTestPassword string = "indexeruser"
	MysqlTestDatabase string = "ticket_indexer_test"
	MysqlTestPort     int    = 3307
)

var testEnvOverrides = map[string]func(*config.DBConfig, string){
	"TEST_DB_PORT":     func(c *config.DBConfig, v string) { c.Port, _ = strconv.Atoi(v) },
	"TEST_DB_NAME":     func(c *config.DBConfig, v string) { c.Database = v },
	"TEST_DB_USERNAME": func(c *config.DBConfig, v string) { c.Username = v },
	"TEST_DB_PASSWORD": func(c *config.DBConfig, v string) { c.Password = v },
}

// TestDBConfig returns the configuration of the test database. ok is false
// when TEST_DB_HOST is not set and database backed tests should be skipped.
func TestDBConfig() (cfg *config.DBConfig, ok bool) {
	host, ok := os.LookupEnv("TEST_DB_HOST")
	if !ok || host == "" {
		return nil, false
	}
	cfg = &config.DBConfig{
		Host:     host,
		Port:     MysqlTestPort,
		Database: MysqlTestDatabase,
		Username: MysqlTestUser,
		Password: MysqlTestPassword,
	}
	for env, override := range testEnvOverrides {
		if val, ok := os.LookupEnv(env); ok {
			override(cfg, val)
		}
	}
	return cfg, true
}

// ConnectAndInitializeTestDB connects to the test database, recreates every
// table and returns a store without retries.
func ConnectAndInitializeTestDB(ctx context.Context, cfg *config.DBConfig) (*Store, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := Initialize(ctx, db, true, config.DefaultIndexerVersion); err != nil {
		return nil, err
	}
	return NewStore(db, boff.Options{Name: "test-db", MaxRetries: 0}), nil
}

// Truncate empties all tables except the indexer state.
func Truncate(db *gorm.DB) error {
	for _, e := range entities {
		if _, ok := e.(IndexerState); ok {
			continue
		}
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(e).Error; err != nil {
			return err
		}
	}
	return nil
}
