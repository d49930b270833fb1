// Package testutil contains shared fixtures for package tests.
package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"

	"github.com/jukebox-rooms/pkg/database"
)

// NewDB returns a migrated in-memory database private to the test.
func NewDB(t *testing.T) *database.MySQLDB {
	t.Helper()

	db, err := database.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), logger.Silent, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// sqlite allows one writer; queue concurrent callers on one connection
	sqlDB, err := db.DB.DB()
	if err != nil {
		t.Fatalf("Failed to get database instance: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	return db
}

// NewRedis starts a miniredis server and returns a client connected to it.
func NewRedis(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	return client, srv
}
