package service

import (
	"context"
	"nova_progress_backend/internal/cache"
	"nova_progress_backend/internal/config"
	"nova_progress_backend/internal/model"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr
}

func testOutboxConfig() config.OutboxConfig {
	return config.OutboxConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    50,
		BaseBackoff:  time.Second,
		MaxBackoff:   time.Minute,
		MaxAttempts:  3,
	}
}

// testEnv 一套完整的存储后端，不启动实时频道
type testEnv struct {
	db         *gorm.DB
	rdb        *redis.Client
	backend    *BackendClient
	cache      *cache.LocalCache
	dispatcher *OutboxDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	rdb, _ := newTestRedis(t)
	backend := NewBackendClient(db, nil, nil, config.FunctionsConfig{})
	return &testEnv{
		db:         db,
		rdb:        rdb,
		backend:    backend,
		cache:      cache.NewLocalCache(rdb, "", 0),
		dispatcher: NewOutboxDispatcher(backend, testOutboxConfig(), 1000),
	}
}

// drain 反复执行直到队列中没有可处理的条目
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 10; i++ {
		n, err := e.dispatcher.DrainOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
}
